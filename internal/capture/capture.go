// Package capture implements the best-effort OS selection capture protocol:
// snapshot the clipboard, inject a copy keystroke, poll for the result, and
// restore the original clipboard contents.
package capture

import (
	"log/slog"
	"strings"
	"time"

	"github.com/atotto/clipboard"
)

// keyInjector sends the platform copy keystroke. Implemented per-OS in
// inject_*.go.
type keyInjector interface {
	InjectCopy() error
}

// Config parameterizes the polling window.
type Config struct {
	PollIntervalMillis int
	PollDeadlineMillis int
}

// Capturer runs the selection capture protocol. Capture runs on the calling
// goroutine and does no marshaling to a UI thread; concurrent calls are not
// serialized against each other.
type Capturer struct {
	inject   keyInjector
	interval time.Duration
	deadline time.Duration
	log      *slog.Logger
}

// New returns a Capturer using the platform's keystroke injector.
func New(cfg Config, log *slog.Logger) *Capturer {
	return newWithInjector(cfg, platformInjector{}, log)
}

func newWithInjector(cfg Config, inject keyInjector, log *slog.Logger) *Capturer {
	if log == nil {
		log = slog.Default()
	}
	interval := time.Duration(cfg.PollIntervalMillis) * time.Millisecond
	if interval <= 0 {
		interval = 25 * time.Millisecond
	}
	deadline := time.Duration(cfg.PollDeadlineMillis) * time.Millisecond
	if deadline <= 0 {
		deadline = 300 * time.Millisecond
	}
	return &Capturer{inject: inject, interval: interval, deadline: deadline, log: log}
}

// Capture returns the text under the OS-level selection at the moment of
// the call, or "" if no selection was present. It preserves the clipboard
// on a best-effort basis: every step failure is logged at WARN rather than
// aborting the remaining steps.
func (c *Capturer) Capture() string {
	snapshot, hadSnapshot, err := c.readClipboard()
	if err != nil {
		c.log.Warn("capture: clipboard snapshot failed", "err", err)
	}

	if err := clipboard.WriteAll(""); err != nil {
		c.log.Warn("capture: clipboard clear failed", "err", err)
	}

	if err := c.inject.InjectCopy(); err != nil {
		c.log.Warn("capture: copy keystroke injection failed", "err", err)
	}

	text := c.pumpAndPoll()

	c.restore(snapshot, hadSnapshot)

	if strings.TrimSpace(text) == "" {
		return ""
	}
	return text
}

func (c *Capturer) readClipboard() (string, bool, error) {
	text, err := clipboard.ReadAll()
	if err != nil {
		return "", false, err
	}
	return text, true, nil
}

// pumpAndPoll polls the clipboard in short steps up to the configured
// deadline, returning as soon as non-empty content appears. The sleep
// between steps stands in for the host message-pump tick the real UI
// context would perform while waiting for a lazily-rendered clipboard write.
func (c *Capturer) pumpAndPoll() string {
	deadline := time.Now().Add(c.deadline)
	for {
		text, err := clipboard.ReadAll()
		if err != nil {
			c.log.Warn("capture: clipboard read failed during poll", "err", err)
		} else if strings.TrimSpace(text) != "" {
			return text
		}

		if time.Now().After(deadline) {
			return ""
		}
		time.Sleep(c.interval)
	}
}

func (c *Capturer) restore(snapshot string, hadSnapshot bool) {
	if !hadSnapshot {
		return
	}
	if err := clipboard.WriteAll(snapshot); err != nil {
		c.log.Warn("capture: clipboard restore failed", "err", err)
	}
}
