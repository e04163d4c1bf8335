// Package audiosink plays synthesized PCM samples through the host's audio
// output device, supporting mid-playback cancellation for preemption.
package audiosink

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gen2brain/malgo"
)

const ringSize = 524288

// ring is a lock-free single-producer single-consumer sample buffer.
type ring struct {
	samples [ringSize]float32
	head    atomic.Uint64
	tail    atomic.Uint64
}

func (r *ring) push(samples []float32) int {
	head := r.head.Load()
	tail := r.tail.Load()

	available := ringSize - int(head-tail)
	toWrite := len(samples)
	if toWrite > available {
		toWrite = available
	}
	for i := 0; i < toWrite; i++ {
		r.samples[(head+uint64(i))%ringSize] = samples[i]
	}
	r.head.Add(uint64(toWrite))
	return toWrite
}

func (r *ring) pop() (float32, bool) {
	head := r.head.Load()
	tail := r.tail.Load()
	if head == tail {
		return 0, false
	}
	s := r.samples[tail%ringSize]
	r.tail.Add(1)
	return s, true
}

func (r *ring) isEmpty() bool { return r.head.Load() == r.tail.Load() }
func (r *ring) clear()        { r.tail.Store(r.head.Load()) }

// Sink plays one item at a time through a persistent malgo playback device.
type Sink struct {
	deviceName string
	bufferMs   uint32
	log        *slog.Logger

	mu     sync.Mutex
	ctx    *malgo.AllocatedContext
	device *malgo.Device

	deviceRate uint32
	ring       *ring
	playing    atomic.Bool
	complete   chan struct{}
}

// New opens the playback device. deviceName is stored but not used to
// select a device; playback always goes to the platform default device.
func New(deviceName string, bufferMillis int, log *slog.Logger) (*Sink, error) {
	if log == nil {
		log = slog.Default()
	}
	bufferMs := uint32(bufferMillis)
	if bufferMs == 0 {
		bufferMs = 100
	}

	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("audiosink: init context: %w", err)
	}

	s := &Sink{
		deviceName: deviceName,
		bufferMs:   bufferMs,
		log:        log,
		ctx:        ctx,
		ring:       &ring{},
		complete:   make(chan struct{}, 1),
	}

	if err := s.openDevice(); err != nil {
		ctx.Uninit()
		ctx.Free()
		return nil, err
	}

	return s, nil
}

func (s *Sink) openDevice() error {
	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.Playback.Format = malgo.FormatF32
	deviceConfig.Playback.Channels = 1
	if deviceConfig.SampleRate == 0 {
		deviceConfig.SampleRate = 48000
	}
	deviceConfig.PeriodSizeInMilliseconds = s.bufferMs
	s.deviceRate = deviceConfig.SampleRate

	onSendFrames := func(pOutputSample, _ []byte, framecount uint32) {
		for i := 0; i < int(framecount); i++ {
			var sample float32
			if v, ok := s.ring.pop(); ok {
				sample = v
			}
			binary.LittleEndian.PutUint32(pOutputSample[i*4:], math.Float32bits(sample))
		}
		if s.ring.isEmpty() {
			s.playing.Store(false)
			select {
			case s.complete <- struct{}{}:
			default:
			}
		}
	}

	device, err := malgo.InitDevice(s.ctx.Context, deviceConfig, malgo.DeviceCallbacks{Data: onSendFrames})
	if err != nil {
		return fmt.Errorf("audiosink: init device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return fmt.Errorf("audiosink: start device: %w", err)
	}

	s.device = device
	return nil
}

// Play resamples samples to the device's native rate, queues them, and
// blocks until playback finishes, the context is cancelled, or cancel is
// raised. cancel is the per-item preemption flag the speech queue raises on
// a higher-priority arrival or stop_and_clear.
func (s *Sink) Play(ctx context.Context, samples []float32, rate int, cancel *atomic.Bool) error {
	if len(samples) == 0 {
		return nil
	}

	playbackSamples := samples
	if rate != int(s.deviceRate) {
		playbackSamples = resample(samples, rate, int(s.deviceRate))
	}

	s.mu.Lock()
	written := s.ring.push(playbackSamples)
	if written < len(playbackSamples) {
		s.log.Warn("audiosink: playback buffer overflow, dropped samples", "dropped", len(playbackSamples)-written)
	}
	s.mu.Unlock()

	s.playing.Store(true)
	timeout := time.Duration(len(playbackSamples)/int(s.deviceRate)+2) * time.Second
	deadline := time.After(timeout)

	for s.playing.Load() {
		if cancel != nil && cancel.Load() {
			s.ring.clear()
			s.playing.Store(false)
			return context.Canceled
		}
		if ctx.Err() != nil {
			s.ring.clear()
			s.playing.Store(false)
			return ctx.Err()
		}

		select {
		case <-s.complete:
		case <-time.After(25 * time.Millisecond):
		case <-deadline:
			s.log.Warn("audiosink: playback exceeded expected duration, aborting")
			s.ring.clear()
			s.playing.Store(false)
			return nil
		}
	}

	return nil
}

// ProbeDevice checks that a playback device context can be initialized and
// returns a description of the default device configuration. Used by the
// doctor preflight check.
func ProbeDevice() (string, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return "", fmt.Errorf("init audio context: %w", err)
	}
	defer func() {
		_ = ctx.Uninit()
		ctx.Free()
	}()

	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	return fmt.Sprintf("default playback device (%d Hz)", cfg.SampleRate), nil
}

// Close stops playback and releases the device.
func (s *Sink) Close() error {
	s.ring.clear()
	s.playing.Store(false)
	if s.device != nil {
		s.device.Stop()
		s.device.Uninit()
		s.device = nil
	}
	if s.ctx != nil {
		_ = s.ctx.Uninit()
		s.ctx.Free()
		s.ctx = nil
	}
	return nil
}

// resample performs linear-interpolation resampling, sufficient for voice
// audio where higher-fidelity methods aren't warranted.
func resample(input []float32, fromRate, toRate int) []float32 {
	if fromRate == toRate || len(input) == 0 {
		return input
	}

	ratio := float64(toRate) / float64(fromRate)
	outputLen := int(float64(len(input)) * ratio)
	output := make([]float32, outputLen)

	for i := range output {
		srcPos := float64(i) / ratio
		srcIdx := int(srcPos)
		frac := float32(srcPos - float64(srcIdx))

		var s1, s2 float32
		if srcIdx < len(input) {
			s1 = input[srcIdx]
		} else {
			s1 = input[len(input)-1]
		}
		if srcIdx+1 < len(input) {
			s2 = input[srcIdx+1]
		} else {
			s2 = s1
		}
		output[i] = s1 + (s2-s1)*frac
	}

	return output
}
