package doctor

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writePair(t *testing.T, dir, id string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, id+".onnx"), []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, id+".onnx.json"), []byte(`{}`), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func TestRun_AllChecksPass(t *testing.T) {
	dir := t.TempDir()
	writePair(t, dir, "v1")

	var buf bytes.Buffer
	res := Run(Config{
		VoicesDir: dir,
		Sources:   map[string]struct{}{"default": {}},
		ProbeAudioDevice: func() (string, error) {
			return "Built-in Output", nil
		},
	}, &buf)

	if res.Failed() {
		t.Fatalf("Failed() = true, failures = %v", res.Failures())
	}
}

func TestRun_MissingVoicesDirFails(t *testing.T) {
	var buf bytes.Buffer
	res := Run(Config{
		VoicesDir: filepath.Join(t.TempDir(), "does-not-exist"),
		Sources:   map[string]struct{}{"default": {}},
	}, &buf)

	if !res.Failed() {
		t.Fatal("Failed() = false; want true for missing voices dir")
	}
}

func TestRun_NoCompleteVoicePairsFails(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "orphan.onnx"), []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	var buf bytes.Buffer
	res := Run(Config{VoicesDir: dir, Sources: map[string]struct{}{"default": {}}}, &buf)

	if !res.Failed() {
		t.Fatal("Failed() = false; want true when no config accompanies the model file")
	}
}

func TestRun_MissingDefaultSourceFails(t *testing.T) {
	dir := t.TempDir()
	writePair(t, dir, "v1")

	var buf bytes.Buffer
	res := Run(Config{VoicesDir: dir, Sources: map[string]struct{}{"chat": {}}}, &buf)

	if !res.Failed() {
		t.Fatal("Failed() = false; want true when sources config lacks \"default\"")
	}
}

func TestRun_AudioProbeFailureIsReported(t *testing.T) {
	dir := t.TempDir()
	writePair(t, dir, "v1")

	var buf bytes.Buffer
	res := Run(Config{
		VoicesDir: dir,
		Sources:   map[string]struct{}{"default": {}},
		ProbeAudioDevice: func() (string, error) {
			return "", errors.New("no output device")
		},
	}, &buf)

	if !res.Failed() {
		t.Fatal("Failed() = false; want true when audio probe fails")
	}
}

func TestRun_SkipsAudioProbeWhenNil(t *testing.T) {
	dir := t.TempDir()
	writePair(t, dir, "v1")

	var buf bytes.Buffer
	res := Run(Config{VoicesDir: dir, Sources: map[string]struct{}{"default": {}}}, &buf)

	if res.Failed() {
		t.Fatalf("Failed() = true with nil ProbeAudioDevice; failures = %v", res.Failures())
	}
}
