package capture

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/atotto/clipboard"
)

// fakeInjector simulates a source application's clipboard write, with an
// optional delay to model lazy rendering.
type fakeInjector struct {
	calls  int32
	delay  time.Duration
	toCopy string
}

func (f *fakeInjector) InjectCopy() error {
	atomic.AddInt32(&f.calls, 1)
	if f.toCopy == "" {
		return nil
	}
	go func() {
		if f.delay > 0 {
			time.Sleep(f.delay)
		}
		_ = clipboard.WriteAll(f.toCopy)
	}()
	return nil
}

func requireClipboard(t *testing.T) {
	t.Helper()
	if err := clipboard.WriteAll("capture-selftest"); err != nil {
		t.Skipf("no OS clipboard backend available in this environment: %v", err)
	}
}

func TestCapture_PreservesOriginalClipboard(t *testing.T) {
	requireClipboard(t)
	if err := clipboard.WriteAll("original content"); err != nil {
		t.Fatalf("seed clipboard: %v", err)
	}

	inj := &fakeInjector{toCopy: "selected text", delay: 10 * time.Millisecond}
	c := newWithInjector(Config{PollIntervalMillis: 5, PollDeadlineMillis: 100}, inj, nil)

	got := c.Capture()
	if got != "selected text" {
		t.Errorf("Capture() = %q; want %q", got, "selected text")
	}

	restored, err := clipboard.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll after capture: %v", err)
	}
	if restored != "original content" {
		t.Errorf("clipboard after Capture() = %q; want original content restored", restored)
	}
}

func TestCapture_NoSelectionReturnsEmpty(t *testing.T) {
	requireClipboard(t)
	if err := clipboard.WriteAll("untouched"); err != nil {
		t.Fatalf("seed clipboard: %v", err)
	}

	inj := &fakeInjector{} // never populates the clipboard
	c := newWithInjector(Config{PollIntervalMillis: 5, PollDeadlineMillis: 40}, inj, nil)

	got := c.Capture()
	if got != "" {
		t.Errorf("Capture() = %q; want empty when nothing is selected", got)
	}

	restored, _ := clipboard.ReadAll()
	if restored != "untouched" {
		t.Errorf("clipboard after Capture() = %q; want untouched restored", restored)
	}
}

func TestCapture_InjectorInvokedOnce(t *testing.T) {
	requireClipboard(t)
	inj := &fakeInjector{}
	c := newWithInjector(Config{PollIntervalMillis: 5, PollDeadlineMillis: 30}, inj, nil)

	c.Capture()

	if got := atomic.LoadInt32(&inj.calls); got != 1 {
		t.Errorf("InjectCopy called %d times; want 1", got)
	}
}

func TestCapture_WhitespaceOnlySelectionTreatedAsAbsent(t *testing.T) {
	requireClipboard(t)
	if err := clipboard.WriteAll("prior"); err != nil {
		t.Fatalf("seed clipboard: %v", err)
	}

	inj := &fakeInjector{toCopy: "   \n\t  "}
	c := newWithInjector(Config{PollIntervalMillis: 5, PollDeadlineMillis: 60}, inj, nil)

	if got := c.Capture(); got != "" {
		t.Errorf("Capture() = %q; want empty for whitespace-only selection", got)
	}
}
