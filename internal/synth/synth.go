// Package synth lazily instantiates and serializes access to per-voice
// synthesis engine handles.
package synth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/psford/systts/internal/catalog"
)

// Sentinel errors for the taxonomy kinds this component can fail with.
var (
	ErrVoiceUnavailable = errors.New("voice unavailable")
	ErrTextRejected     = errors.New("text rejected")
	ErrSynthesisFailed  = errors.New("synthesis failed")
)

// Engine is the native TTS engine collaborator. A real implementation wraps
// the out-of-scope neural synthesis library; Pool only ever calls Generate
// through a handle it owns.
type Engine interface {
	Generate(ctx context.Context, text string, speed float64) (samples []float32, rate int, err error)
	Close() error
}

// EngineFactory creates an Engine for a resolved voice.
type EngineFactory func(v catalog.Voice) (Engine, error)

type handle struct {
	mu     sync.Mutex
	engine Engine
}

// Pool caches one engine handle per voice id and serializes calls per handle.
type Pool struct {
	cat     *catalog.Catalog
	factory EngineFactory

	mu      sync.Mutex
	handles map[string]*handle
}

// New returns a Pool that resolves voices through cat and creates engines
// with factory on first use.
func New(cat *catalog.Catalog, factory EngineFactory) *Pool {
	return &Pool{
		cat:     cat,
		factory: factory,
		handles: make(map[string]*handle),
	}
}

// Synthesize resolves voiceID through the catalog, obtains or creates its
// engine handle, and invokes it under the handle's serialization lock.
func (p *Pool) Synthesize(ctx context.Context, text, voiceID string, speed float64) ([]float32, int, error) {
	if strings.TrimSpace(text) == "" {
		return nil, 0, ErrTextRejected
	}

	v, ok := p.cat.Get(voiceID)
	if !ok {
		return nil, 0, fmt.Errorf("%w: %q", ErrVoiceUnavailable, voiceID)
	}

	h, err := p.handleFor(v)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrSynthesisFailed, err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	samples, rate, err := h.engine.Generate(ctx, text, speed)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, 0, err
		}
		return nil, 0, fmt.Errorf("%w: %v", ErrSynthesisFailed, err)
	}

	return samples, rate, nil
}

func (p *Pool) handleFor(v catalog.Voice) (*handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if h, ok := p.handles[v.ID]; ok {
		return h, nil
	}

	engine, err := p.factory(v)
	if err != nil {
		return nil, fmt.Errorf("create engine for voice %q: %w", v.ID, err)
	}

	h := &handle{engine: engine}
	p.handles[v.ID] = h
	return h, nil
}

// Shutdown releases every created engine handle.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for id, h := range p.handles {
		if err := h.engine.Close(); err != nil {
			_ = id // best-effort close; nothing to recover per handle
		}
	}
	p.handles = make(map[string]*handle)
}
