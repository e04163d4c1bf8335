// Package server exposes the HTTP surface for submitting speech requests,
// listing voices, and controlling the speech queue.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Router admits a text submission into the speech queue.
type Router interface {
	Submit(text, sourceName, voiceOverride string) (admitted bool, requestID string)
}

// Capturer returns the current OS selection, or "" if none.
type Capturer interface {
	Capture() string
}

// Voice is the wire shape returned by GET /api/voices.
type Voice struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	SampleRate int    `json:"sampleRate"`
}

// VoiceLister returns the current voice catalog snapshot.
type VoiceLister interface {
	ListVoices() []Voice
}

// QueueControl exposes the speech queue operations the HTTP surface needs.
type QueueControl interface {
	Depth() int
	StopAndClear()
}

// ---------------------------------------------------------------------------
// Functional options
// ---------------------------------------------------------------------------

type options struct {
	maxTextBytes   int
	workers        int
	requestTimeout time.Duration
	logger         *slog.Logger
}

func defaultOptions() options {
	return options{
		maxTextBytes:   4096,
		workers:        4,
		requestTimeout: 5 * time.Second,
		logger:         slog.Default(),
	}
}

// Option configures the HTTP handler.
type Option func(*options)

// WithMaxTextBytes sets the maximum allowed text length in bytes for POST /api/speak.
func WithMaxTextBytes(n int) Option {
	return func(o *options) { o.maxTextBytes = n }
}

// WithWorkers sets the maximum number of concurrently in-flight admission requests.
func WithWorkers(n int) Option {
	return func(o *options) { o.workers = n }
}

// WithRequestTimeout sets the per-request admission deadline.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *options) { o.requestTimeout = d }
}

// WithLogger sets the slog.Logger used for request logging.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// ---------------------------------------------------------------------------
// handler
// ---------------------------------------------------------------------------

type handler struct {
	router  Router
	capture Capturer
	voices  VoiceLister
	queue   QueueControl
	opts    options
	sem     chan struct{}
	log     *slog.Logger
}

// NewHandler returns an http.Handler serving the speak/voices/status/stop surface.
func NewHandler(router Router, capture Capturer, voices VoiceLister, queue QueueControl, optFns ...Option) http.Handler {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	h := &handler{
		router:  router,
		capture: capture,
		voices:  voices,
		queue:   queue,
		opts:    opts,
		log:     opts.logger,
	}
	if opts.workers > 0 {
		h.sem = make(chan struct{}, opts.workers)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/speak", h.handleSpeak)
	mux.HandleFunc("/api/speak-selection", h.handleSpeakSelection)
	mux.HandleFunc("/api/voices", h.handleVoices)
	mux.HandleFunc("/api/status", h.handleStatus)
	mux.HandleFunc("/api/stop", h.handleStop)
	mux.HandleFunc("/health", h.handleHealth)

	return mux
}

func (h *handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type speakRequest struct {
	Text   string `json:"text"`
	Source string `json:"source"`
	Voice  string `json:"voice"`
}

// speakResponse carries a null id when the request was not queued.
type speakResponse struct {
	Queued bool    `json:"queued"`
	ID     *string `json:"id"`
}

func (h *handler) handleSpeak(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req speakRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	if len(req.Text) > h.opts.maxTextBytes {
		writeError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("text exceeds maximum size of %d bytes", h.opts.maxTextBytes))
		return
	}

	if !h.acquireWorker(r.Context(), w) {
		return
	}
	if h.sem != nil {
		defer func() { <-h.sem }()
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.opts.requestTimeout)
	defer cancel()

	admitted, id := h.submit(ctx, req.Text, req.Source, req.Voice)

	h.log.InfoContext(r.Context(), "speak submitted",
		slog.Bool("queued", admitted), slog.String("source", req.Source), slog.Int("text_len", len(req.Text)))

	resp := speakResponse{Queued: admitted}
	if admitted {
		resp.ID = &id
	}
	writeJSON(w, http.StatusAccepted, resp)
}

type speakSelectionRequest struct {
	Voice string `json:"voice"`
}

type speakSelectionResponse struct {
	Queued bool   `json:"queued"`
	ID     string `json:"id,omitempty"`
	Text   string `json:"text"`
}

func (h *handler) handleSpeakSelection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req speakSelectionRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	if !h.acquireWorker(r.Context(), w) {
		return
	}
	if h.sem != nil {
		defer func() { <-h.sem }()
	}

	text := h.capture.Capture()
	if strings.TrimSpace(text) == "" {
		writeJSON(w, http.StatusOK, speakSelectionResponse{Queued: false, Text: ""})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.opts.requestTimeout)
	defer cancel()

	admitted, id := h.submit(ctx, text, "speak-selection", req.Voice)

	h.log.InfoContext(r.Context(), "speak-selection submitted",
		slog.Bool("queued", admitted), slog.Int("text_len", len(text)))

	writeJSON(w, http.StatusAccepted, speakSelectionResponse{Queued: admitted, ID: id, Text: text})
}

// submit runs the router on a separate goroutine so that ctx can bound the
// wait. Submit only blocks for the bounded filter match timeout, so ctx
// guards against a pathological regexp2 hang. When ctx expires first, submit
// reports (false, "") while the abandoned Submit call still runs to
// completion and may enqueue the request.
func (h *handler) submit(ctx context.Context, text, source, voice string) (bool, string) {
	done := make(chan struct{})
	var admitted bool
	var id string
	go func() {
		admitted, id = h.router.Submit(text, source, voice)
		close(done)
	}()

	select {
	case <-done:
		return admitted, id
	case <-ctx.Done():
		h.log.Warn("submit exceeded request timeout")
		return false, ""
	}
}

func (h *handler) handleVoices(w http.ResponseWriter, _ *http.Request) {
	voices := h.voices.ListVoices()
	if voices == nil {
		voices = []Voice{}
	}
	writeJSON(w, http.StatusOK, voices)
}

type statusResponse struct {
	Running      bool `json:"running"`
	ActiveVoices int  `json:"activeVoices"`
	QueueDepth   int  `json:"queueDepth"`
}

func (h *handler) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{
		Running:      true,
		ActiveVoices: len(h.voices.ListVoices()),
		QueueDepth:   h.queue.Depth(),
	})
}

func (h *handler) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	h.queue.StopAndClear()
	writeJSON(w, http.StatusOK, map[string]bool{"stopped": true})
}

// acquireWorker tries to acquire a worker slot from the semaphore. Returns
// true on success. On failure (context cancelled) it writes an HTTP error
// and returns false. When sem is nil (no throttling) it returns true
// immediately.
func (h *handler) acquireWorker(ctx context.Context, w http.ResponseWriter) bool {
	if h.sem == nil {
		return true
	}

	select {
	case h.sem <- struct{}{}:
		return true
	default:
		h.log.Info("request queued for worker slot")
		select {
		case h.sem <- struct{}{}:
			return true
		case <-ctx.Done():
			writeError(w, http.StatusServiceUnavailable, "request cancelled while waiting for worker")
			return false
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("encode JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// ---------------------------------------------------------------------------
// Server — wires handler into net/http.Server with graceful shutdown
// ---------------------------------------------------------------------------

// Server wires the HTTP handler into a net/http.Server with graceful shutdown.
type Server struct {
	addr            string
	handler         http.Handler
	shutdownTimeout time.Duration
}

// New returns a Server bound to addr, serving handler.
func New(addr string, handler http.Handler) *Server {
	return &Server{addr: addr, handler: handler, shutdownTimeout: 10 * time.Second}
}

// WithShutdownTimeout overrides the graceful-shutdown drain period.
func (s *Server) WithShutdownTimeout(d time.Duration) *Server {
	s.shutdownTimeout = d
	return s
}

// Start runs the HTTP server until ctx is cancelled, then drains within the
// configured shutdown timeout.
func (s *Server) Start(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.shutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http listen: %w", err)
	}
}

// ProbeHTTP checks that a systttsd instance is answering at addr.
func ProbeHTTP(addr string) error {
	resp, err := http.Get("http://" + addr + "/health") //nolint:noctx
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected health status: %s", resp.Status)
	}
	return nil
}
