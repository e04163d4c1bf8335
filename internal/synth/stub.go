package synth

import (
	"context"
	"math"

	"github.com/psford/systts/internal/catalog"
)

// StubEngine is a deterministic placeholder for the out-of-scope native
// synthesis library. It generates a short sine tone scaled by text length so
// tests and a model-less `serve` run have something audible to play. Real
// deployments supply an EngineFactory backed by the actual engine.
type StubEngine struct {
	SampleRate int
}

// NewStubEngineFactory returns an EngineFactory producing one StubEngine per
// voice, sized to that voice's catalog sample rate.
func NewStubEngineFactory() EngineFactory {
	return func(v catalog.Voice) (Engine, error) {
		rate := v.SampleRate
		if rate <= 0 {
			rate = 22050
		}
		return &StubEngine{SampleRate: rate}, nil
	}
}

// Generate produces ~80ms of sine tone per rune of text, capped to avoid
// runaway allocation on long inputs.
func (e *StubEngine) Generate(ctx context.Context, text string, _ float64) ([]float32, int, error) {
	const perRune = 80 * 4 // quarter-ms per rune; divided by 4 below, so 80ms per rune
	runes := len([]rune(text))
	if runes > 64 {
		runes = 64
	}

	durationMS := runes * perRune / 4
	if durationMS < 80 {
		durationMS = 80
	}

	n := e.SampleRate * durationMS / 1000
	samples := make([]float32, n)

	const freqHz = 440.0
	for i := range samples {
		select {
		case <-ctx.Done():
			return nil, 0, ctx.Err()
		default:
		}
		t := float64(i) / float64(e.SampleRate)
		samples[i] = float32(0.2 * math.Sin(2*math.Pi*freqHz*t))
	}

	return samples, e.SampleRate, nil
}

// Close is a no-op; the stub holds no resources.
func (e *StubEngine) Close() error { return nil }
