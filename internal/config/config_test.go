package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
)

type fakeBinder struct {
	fs *pflag.FlagSet
}

func (f *fakeBinder) Flags() *pflag.FlagSet { return f.fs }

func newFlagBinder(defaults Config) *fakeBinder {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs, defaults)
	return &fakeBinder{fs: fs}
}

// --- DefaultConfig ---

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Service.ListenAddr != "127.0.0.1:8990" {
		t.Errorf("Service.ListenAddr = %q; want %q", cfg.Service.ListenAddr, "127.0.0.1:8990")
	}
	if cfg.Service.MaxQueueDepth != 16 {
		t.Errorf("Service.MaxQueueDepth = %d; want 16", cfg.Service.MaxQueueDepth)
	}
	if !cfg.Service.InterruptOnHigherPriority {
		t.Error("Service.InterruptOnHigherPriority = false; want true")
	}
	if _, ok := cfg.Sources["default"]; !ok {
		t.Error(`Sources["default"] missing from DefaultConfig`)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q; want %q", cfg.LogLevel, "info")
	}
}

// --- RegisterFlags ---

func TestRegisterFlags(t *testing.T) {
	defaults := DefaultConfig()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs, defaults)

	checks := []struct {
		flag string
		want string
	}{
		{"service-listen-addr", "127.0.0.1:8990"},
		{"service-max-queue-depth", "16"},
		{"log-level", "info"},
	}

	for _, c := range checks {
		f := fs.Lookup(c.flag)
		if f == nil {
			t.Errorf("flag %q not registered", c.flag)
			continue
		}
		if f.DefValue != c.want {
			t.Errorf("flag %q default = %q; want %q", c.flag, f.DefValue, c.want)
		}
	}
}

// --- Load ---

func TestLoad_Defaults(t *testing.T) {
	defaults := DefaultConfig()
	binder := newFlagBinder(defaults)

	cfg, err := Load(LoadOptions{Cmd: binder, Defaults: defaults})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Service.ListenAddr != defaults.Service.ListenAddr {
		t.Errorf("Service.ListenAddr = %q; want %q", cfg.Service.ListenAddr, defaults.Service.ListenAddr)
	}
	if cfg.LogLevel != defaults.LogLevel {
		t.Errorf("LogLevel = %q; want %q", cfg.LogLevel, defaults.LogLevel)
	}
}

func TestLoad_FlagOverride(t *testing.T) {
	defaults := DefaultConfig()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs, defaults)

	if err := fs.Parse([]string{
		"--service-max-queue-depth=8",
		"--log-level=debug",
	}); err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	cfg, err := Load(LoadOptions{Cmd: &fakeBinder{fs: fs}, Defaults: defaults})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Service.MaxQueueDepth != 8 {
		t.Errorf("Service.MaxQueueDepth = %d; want 8", cfg.Service.MaxQueueDepth)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q; want %q", cfg.LogLevel, "debug")
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("SYSTTS_LOG_LEVEL", "warn")
	t.Setenv("SYSTTS_SERVICE_LISTEN_ADDR", "127.0.0.1:9999")

	cfg, err := Load(LoadOptions{Defaults: DefaultConfig()})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %q; want %q", cfg.LogLevel, "warn")
	}
	if cfg.Service.ListenAddr != "127.0.0.1:9999" {
		t.Errorf("Service.ListenAddr = %q; want %q", cfg.Service.ListenAddr, "127.0.0.1:9999")
	}
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "systttsd.yaml")
	content := `
log_level: error
service:
  max_queue_depth: 32
  listen_addr: "127.0.0.1:7777"
`
	if err := os.WriteFile(cfgFile, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	defaults := DefaultConfig()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs, defaults)
	if err := fs.Parse([]string{
		"--log-level=error",
		"--service-max-queue-depth=32",
		"--service-listen-addr=127.0.0.1:7777",
	}); err != nil {
		t.Fatalf("Parse: %v", err)
	}

	cfg, err := Load(LoadOptions{
		Cmd:        &fakeBinder{fs: fs},
		ConfigFile: cfgFile,
		Defaults:   defaults,
	})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.LogLevel != "error" {
		t.Errorf("LogLevel = %q; want %q", cfg.LogLevel, "error")
	}
	if cfg.Service.MaxQueueDepth != 32 {
		t.Errorf("Service.MaxQueueDepth = %d; want 32", cfg.Service.MaxQueueDepth)
	}
}

func TestLoad_InvalidConfigFile(t *testing.T) {
	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(cfgFile, []byte(":\t:bad yaml:::"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	_, err := Load(LoadOptions{ConfigFile: cfgFile, Defaults: DefaultConfig()})
	if err == nil {
		t.Error("Load() = nil; want error for invalid config file")
	}
}

func TestLoad_MissingExplicitConfigFile(t *testing.T) {
	_, err := Load(LoadOptions{
		ConfigFile: "/nonexistent/path/systttsd.yaml",
		Defaults:   DefaultConfig(),
	})
	if err == nil {
		t.Error("Load() = nil; want error for missing explicit config file")
	}
}

func TestLoad_MissingDefaultSource(t *testing.T) {
	defaults := DefaultConfig()
	defaults.Sources = map[string]SourceConfig{"other": {Priority: 3}}

	_, err := Load(LoadOptions{Defaults: defaults})
	if err == nil {
		t.Error(`Load() = nil; want error when Sources has no "default" entry`)
	}
}

func TestLoad_RejectsZeroMaxQueueDepth(t *testing.T) {
	defaults := DefaultConfig()
	defaults.Service.MaxQueueDepth = 0

	_, err := Load(LoadOptions{Defaults: defaults})
	if err == nil {
		t.Error("Load() = nil; want error for max_queue_depth = 0")
	}
}
