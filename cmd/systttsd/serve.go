package main

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/psford/systts/internal/audiosink"
	"github.com/psford/systts/internal/capture"
	"github.com/psford/systts/internal/catalog"
	"github.com/psford/systts/internal/config"
	"github.com/psford/systts/internal/queue"
	"github.com/psford/systts/internal/router"
	"github.com/psford/systts/internal/server"
	"github.com/psford/systts/internal/synth"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the systttsd HTTP server and speech queue",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}
			return runServe(cfg)
		},
	}
}

func runServe(cfg config.Config) error {
	log := slog.Default()

	cat, err := catalog.New(cfg.Service.VoicesDir, cfg.Service.DefaultVoiceID, log)
	if err != nil {
		return err
	}
	defer cat.Shutdown()

	pool := synth.New(cat, synth.NewStubEngineFactory())
	defer pool.Shutdown()

	sink, err := audiosink.New(cfg.Audio.DeviceName, cfg.Audio.BufferMillis, log)
	if err != nil {
		return err
	}
	defer sink.Close()

	q := queue.New(queue.Config{
		MaxQueueDepth:             cfg.Service.MaxQueueDepth,
		InterruptOnHigherPriority: cfg.Service.InterruptOnHigherPriority,
	}, synthesizeAdapter{pool}, sink, log)
	defer q.Shutdown()

	rt := router.New(cfg.Sources, cat, q, log)

	capturer := capture.New(capture.Config{
		PollIntervalMillis: cfg.Capture.PollIntervalMillis,
		PollDeadlineMillis: cfg.Capture.PollDeadlineMillis,
	}, log)

	handler := server.NewHandler(rt, capturer, voiceListerAdapter{cat}, q,
		server.WithLogger(log),
	)

	srv := server.New(cfg.Service.ListenAddr, handler).
		WithShutdownTimeout(time.Duration(cfg.Service.ShutdownTimeoutSecs) * time.Second)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return srv.Start(ctx)
}

// synthesizeAdapter adapts synth.Pool to queue.Synthesizer, fixing the
// synthesis speed at 1.0 until a speed-control surface is exposed.
type synthesizeAdapter struct {
	pool *synth.Pool
}

func (a synthesizeAdapter) Synthesize(ctx context.Context, text, voiceID string) ([]float32, int, error) {
	return a.pool.Synthesize(ctx, text, voiceID, 1.0)
}

// voiceListerAdapter adapts catalog.Catalog to server.VoiceLister.
type voiceListerAdapter struct {
	cat *catalog.Catalog
}

func (a voiceListerAdapter) ListVoices() []server.Voice {
	voices := a.cat.List()
	out := make([]server.Voice, len(voices))
	for i, v := range voices {
		out[i] = server.Voice{ID: v.ID, Name: v.DisplayName, SampleRate: v.SampleRate}
	}
	return out
}
