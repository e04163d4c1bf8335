// Package doctor provides environment preflight checks for systttsd.
package doctor

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// PassMark and FailMark are the prefix symbols printed for each check result.
const (
	PassMark = "✓"
	FailMark = "✗"
)

// AudioProbeFunc reports whether an output device is available, returning
// a human-readable device description on success.
type AudioProbeFunc func() (string, error)

// Config holds injectable dependencies for each doctor check.
type Config struct {
	// VoicesDir is scanned for at least one complete <id>.onnx +
	// <id>.onnx.json pair. Only the presence of both files is checked; the
	// config is not parsed.
	VoicesDir string
	// Sources must contain a "default" entry.
	Sources map[string]struct{}
	// ProbeAudioDevice checks that an output device is enumerable. Nil skips the check.
	ProbeAudioDevice AudioProbeFunc
}

// Result collects the outcome of all checks.
type Result struct {
	failures []string
}

// Failed returns true if any check failed.
func (r *Result) Failed() bool { return len(r.failures) > 0 }

// Failures returns the list of failure messages.
func (r *Result) Failures() []string { return append([]string(nil), r.failures...) }

func (r *Result) fail(msg string) { r.failures = append(r.failures, msg) }

// Run executes all configured checks and writes human-readable output to w.
// Each check line is prefixed with PassMark or FailMark.
func Run(cfg Config, w io.Writer) Result {
	var res Result

	checkVoicesDir(cfg, w, &res)
	checkDefaultSource(cfg, w, &res)
	checkAudioDevice(cfg, w, &res)

	return res
}

func checkVoicesDir(cfg Config, w io.Writer, res *Result) {
	entries, err := os.ReadDir(cfg.VoicesDir)
	if err != nil {
		res.fail(fmt.Sprintf("voices directory %q: %v", cfg.VoicesDir, err))
		fmt.Fprintf(w, "%s voices directory %s: %v\n", FailMark, cfg.VoicesDir, err)
		return
	}

	models := map[string]bool{}
	configs := map[string]bool{}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		switch {
		case strings.HasSuffix(name, ".onnx.json"):
			configs[strings.TrimSuffix(name, ".onnx.json")] = true
		case strings.HasSuffix(name, ".onnx"):
			models[strings.TrimSuffix(name, ".onnx")] = true
		}
	}

	complete := 0
	for id := range models {
		if configs[id] {
			complete++
		}
	}

	if complete == 0 {
		res.fail(fmt.Sprintf("voices directory %q: no complete voice pairs found", cfg.VoicesDir))
		fmt.Fprintf(w, "%s voices directory %s: no complete (.onnx + .onnx.json) voice pairs\n", FailMark, cfg.VoicesDir)
		return
	}

	fmt.Fprintf(w, "%s voices directory %s: %d complete voice pair(s)\n", PassMark, filepath.Clean(cfg.VoicesDir), complete)
}

func checkDefaultSource(cfg Config, w io.Writer, res *Result) {
	if _, ok := cfg.Sources["default"]; !ok {
		res.fail(`sources config: missing required "default" entry`)
		fmt.Fprintf(w, "%s sources config: missing required \"default\" entry\n", FailMark)
		return
	}
	fmt.Fprintf(w, "%s sources config: \"default\" present\n", PassMark)
}

func checkAudioDevice(cfg Config, w io.Writer, res *Result) {
	if cfg.ProbeAudioDevice == nil {
		fmt.Fprintf(w, "%s audio device: skipped\n", PassMark)
		return
	}

	name, err := cfg.ProbeAudioDevice()
	if err != nil {
		res.fail(fmt.Sprintf("audio device: %v", err))
		fmt.Fprintf(w, "%s audio device: %v\n", FailMark, err)
		return
	}
	fmt.Fprintf(w, "%s audio device: %s\n", PassMark, name)
}
