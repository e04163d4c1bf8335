// Package router resolves a submission's source, voice, and admission
// filters before handing it to the speech queue.
package router

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/dlclark/regexp2"
	"github.com/google/uuid"

	"github.com/psford/systts/internal/config"
)

const filterMatchTimeout = 100 * time.Millisecond

// VoiceResolver narrows catalog.Catalog to the one method the router needs.
type VoiceResolver interface {
	Resolve(requestedID string) string
}

// Queue narrows the priority speech queue to the one method the router needs.
// The router assigns requestID so callers receive it immediately; the queue
// stores it on the item verbatim.
type Queue interface {
	Enqueue(requestID, text, voiceID string, priority int)
}

// Router resolves sources named in config.SourceConfig and admits or rejects
// submissions before handing them to a Queue.
type Router struct {
	sources map[string]config.SourceConfig
	voices  VoiceResolver
	queue   Queue
	log     *slog.Logger

	mu      sync.Mutex
	filters map[string][]compiledFilter // keyed by source name
}

type compiledFilter struct {
	pattern string
	re      *regexp2.Regexp // nil if the pattern failed to compile
}

// New returns a Router over the given sources, generalized to resolve
// effective voices through voices and enqueue admitted requests into queue.
func New(sources map[string]config.SourceConfig, voices VoiceResolver, queue Queue, log *slog.Logger) *Router {
	if log == nil {
		log = slog.Default()
	}
	return &Router{
		sources: sources,
		voices:  voices,
		queue:   queue,
		log:     log,
		filters: make(map[string][]compiledFilter),
	}
}

// Submit resolves sourceName (falling back to "default"), applies the
// resolved source's filters to text, resolves the effective voice, and
// enqueues the request. It returns (admitted, requestID); requestID is
// empty when admitted is false.
func (r *Router) Submit(text, sourceName, voiceOverride string) (bool, string) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return false, ""
	}

	src, ok := r.resolveSource(sourceName)
	if !ok {
		r.log.Warn("router: no source and no default configured, rejecting", "source", sourceName)
		return false, ""
	}

	if !r.admits(sourceName, src, text) {
		return false, ""
	}

	voiceID := voiceOverride
	if voiceID == "" {
		voiceID = src.Voice
	}
	voiceID = r.voices.Resolve(voiceID)

	id := uuid.NewString()
	r.queue.Enqueue(id, text, voiceID, src.Priority)
	return true, id
}

func (r *Router) resolveSource(name string) (config.SourceConfig, bool) {
	if name != "" {
		if src, ok := r.sources[name]; ok {
			return src, true
		}
	}
	src, ok := r.sources["default"]
	return src, ok
}

// admits reports whether text passes the named source's filter list. A
// missing or empty filter list admits unconditionally.
func (r *Router) admits(sourceName string, src config.SourceConfig, text string) bool {
	if len(src.Filters) == 0 {
		return true
	}

	for _, f := range r.compiledFiltersFor(sourceName, src.Filters) {
		if f.re == nil {
			continue
		}
		matched, err := f.re.MatchString(text)
		if err != nil {
			r.log.Warn("router: filter match failed, treating as non-matching",
				"source", sourceName, "pattern", f.pattern, "err", err)
			continue
		}
		if matched {
			return true
		}
	}
	return false
}

// compiledFiltersFor returns cached compiled patterns for sourceName,
// compiling and caching them on first use. A pattern that fails to compile
// is cached with a nil Regexp so it's never retried.
func (r *Router) compiledFiltersFor(sourceName string, patterns []string) []compiledFilter {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cached, ok := r.filters[sourceName]; ok {
		return cached
	}

	compiled := make([]compiledFilter, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp2.Compile(p, regexp2.IgnoreCase)
		if err != nil {
			r.log.Warn("router: filter pattern failed to compile, ignoring", "source", sourceName, "pattern", p, "err", err)
			compiled = append(compiled, compiledFilter{pattern: p})
			continue
		}
		re.MatchTimeout = filterMatchTimeout
		compiled = append(compiled, compiledFilter{pattern: p, re: re})
	}

	r.filters[sourceName] = compiled
	return compiled
}

// InvalidateFilters drops the cached compiled patterns for sourceName,
// forcing recompilation on the next Submit. Call this after a config
// reload changes that source's filter list.
func (r *Router) InvalidateFilters(sourceName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.filters, sourceName)
}
