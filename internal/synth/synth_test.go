package synth

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/psford/systts/internal/catalog"
)

func newTestCatalog(t *testing.T, dir string, ids ...string) *catalog.Catalog {
	t.Helper()
	for _, id := range ids {
		writeFile(t, dir+"/"+id+".onnx", "model")
		writeFile(t, dir+"/"+id+".onnx.json", `{"audio":{"sample_rate":24000}}`)
	}
	c, err := catalog.New(dir, "default", nil)
	if err != nil {
		t.Fatalf("catalog.New: %v", err)
	}
	t.Cleanup(c.Shutdown)
	return c
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// trackingEngine detects overlapping Generate calls.
type trackingEngine struct {
	mu       sync.Mutex
	inFlight int32
	overlap  bool
}

func (e *trackingEngine) Generate(_ context.Context, _ string, _ float64) ([]float32, int, error) {
	if atomic.AddInt32(&e.inFlight, 1) > 1 {
		e.mu.Lock()
		e.overlap = true
		e.mu.Unlock()
	}
	time.Sleep(5 * time.Millisecond)
	atomic.AddInt32(&e.inFlight, -1)
	return []float32{0}, 24000, nil
}

func (e *trackingEngine) Close() error { return nil }

func TestSynthesize_TextRejectedOnEmpty(t *testing.T) {
	dir := t.TempDir()
	cat := newTestCatalog(t, dir, "v1")
	var created int32
	pool := New(cat, func(v catalog.Voice) (Engine, error) {
		atomic.AddInt32(&created, 1)
		return &trackingEngine{}, nil
	})

	_, _, err := pool.Synthesize(context.Background(), "   ", "v1", 1.0)
	if !errors.Is(err, ErrTextRejected) {
		t.Fatalf("Synthesize(whitespace) error = %v; want ErrTextRejected", err)
	}
}

func TestSynthesize_VoiceUnavailable(t *testing.T) {
	dir := t.TempDir()
	cat := newTestCatalog(t, dir, "v1")
	pool := New(cat, func(v catalog.Voice) (Engine, error) {
		return &trackingEngine{}, nil
	})

	_, _, err := pool.Synthesize(context.Background(), "hi", "missing-voice", 1.0)
	if !errors.Is(err, ErrVoiceUnavailable) {
		t.Fatalf("Synthesize(missing voice) error = %v; want ErrVoiceUnavailable", err)
	}
}

func TestSynthesize_LazyHandleCreatedOnce(t *testing.T) {
	dir := t.TempDir()
	cat := newTestCatalog(t, dir, "v1")
	var created int32
	pool := New(cat, func(v catalog.Voice) (Engine, error) {
		atomic.AddInt32(&created, 1)
		return &trackingEngine{}, nil
	})

	for i := 0; i < 2; i++ {
		if _, _, err := pool.Synthesize(context.Background(), "hi", "v1", 1.0); err != nil {
			t.Fatalf("Synthesize: %v", err)
		}
	}

	if got := atomic.LoadInt32(&created); got != 1 {
		t.Errorf("engine created %d times; want 1", got)
	}
}

func TestSynthesize_ConcurrentCallsSerializedPerHandle(t *testing.T) {
	dir := t.TempDir()
	cat := newTestCatalog(t, dir, "v1")
	engine := &trackingEngine{}
	pool := New(cat, func(v catalog.Voice) (Engine, error) {
		return engine, nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, _ = pool.Synthesize(context.Background(), "hi", "v1", 1.0)
		}()
	}
	wg.Wait()

	if engine.overlap {
		t.Error("detected overlapping Generate calls on the same handle; want serialized")
	}
}

func TestStubEngine_GeneratesAudibleSamples(t *testing.T) {
	e := &StubEngine{SampleRate: 24000}
	samples, rate, err := e.Generate(context.Background(), "hello world", 1.0)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if rate != 24000 {
		t.Errorf("rate = %d; want 24000", rate)
	}
	if len(samples) == 0 {
		t.Error("Generate produced zero samples")
	}
}
