// Package config loads systttsd's configuration from flags, environment
// variables, and an optional config file.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the fully resolved configuration for a running service.
type Config struct {
	Service  ServiceConfig           `mapstructure:"service"`
	Sources  map[string]SourceConfig `mapstructure:"sources"`
	Hotkeys  []HotkeyConfig          `mapstructure:"hotkeys"`
	Audio    AudioConfig             `mapstructure:"audio"`
	Capture  CaptureConfig           `mapstructure:"capture"`
	LogLevel string                  `mapstructure:"log_level"`
}

// ServiceConfig holds the top-level service knobs.
type ServiceConfig struct {
	ListenAddr                string `mapstructure:"listen_addr"`
	VoicesDir                 string `mapstructure:"voices_dir"`
	DefaultVoiceID            string `mapstructure:"default_voice_id"`
	MaxQueueDepth             int    `mapstructure:"max_queue_depth"`
	InterruptOnHigherPriority bool   `mapstructure:"interrupt_on_higher_priority"`
	ShutdownTimeoutSecs       int    `mapstructure:"shutdown_timeout_secs"`
}

// SourceConfig is one named admission bucket.
type SourceConfig struct {
	Voice    string   `mapstructure:"voice"`
	Filters  []string `mapstructure:"filters"`
	Priority int      `mapstructure:"priority"`
}

// HotkeyConfig is retained as opaque passthrough; the hook itself is out of
// core scope, but config loading still needs somewhere for it to live.
type HotkeyConfig struct {
	Keycode string `mapstructure:"keycode"`
	Source  string `mapstructure:"source"`
}

// AudioConfig configures the audio sink collaborator.
type AudioConfig struct {
	DeviceName   string `mapstructure:"device_name"`
	BufferMillis int    `mapstructure:"buffer_millis"`
}

// CaptureConfig configures the selection capture protocol's polling window.
type CaptureConfig struct {
	PollIntervalMillis int `mapstructure:"poll_interval_millis"`
	PollDeadlineMillis int `mapstructure:"poll_deadline_millis"`
}

type flagBinder interface {
	Flags() *pflag.FlagSet
}

// LoadOptions parameterizes Load.
type LoadOptions struct {
	Cmd        flagBinder
	ConfigFile string
	Defaults   Config
}

// DefaultConfig returns the configuration used when no flag, env var, or
// config file overrides a value.
func DefaultConfig() Config {
	return Config{
		Service: ServiceConfig{
			ListenAddr:                "127.0.0.1:8990",
			VoicesDir:                 "voices",
			DefaultVoiceID:            "default",
			MaxQueueDepth:             16,
			InterruptOnHigherPriority: true,
			ShutdownTimeoutSecs:       10,
		},
		Sources: map[string]SourceConfig{
			"default": {Priority: 3},
		},
		Audio: AudioConfig{
			BufferMillis: 100,
		},
		Capture: CaptureConfig{
			PollIntervalMillis: 25,
			PollDeadlineMillis: 300,
		},
		LogLevel: "info",
	}
}

// RegisterFlags binds the subset of Config that makes sense as CLI flags.
// Sources and Hotkeys are config-file/env only; they don't fit a flag shape.
func RegisterFlags(fs *pflag.FlagSet, defaults Config) {
	fs.String("service-listen-addr", defaults.Service.ListenAddr, "HTTP listen address (loopback only)")
	fs.String("service-voices-dir", defaults.Service.VoicesDir, "Directory scanned for .onnx/.onnx.json voice pairs")
	fs.String("service-default-voice-id", defaults.Service.DefaultVoiceID, "Voice id used when resolution fails")
	fs.Int("service-max-queue-depth", defaults.Service.MaxQueueDepth, "Maximum queued+playing speech requests")
	fs.Bool("service-interrupt-on-higher-priority", defaults.Service.InterruptOnHigherPriority,
		"Preempt the playing item when a higher-priority item is enqueued")
	fs.Int("service-shutdown-timeout", defaults.Service.ShutdownTimeoutSecs, "Graceful shutdown drain timeout in seconds")
	fs.Int("audio-buffer-millis", defaults.Audio.BufferMillis, "Audio sink device buffer size in milliseconds")
	fs.String("audio-device-name", defaults.Audio.DeviceName, "Audio output device name (not used to select a device; playback uses the system default)")
	fs.Int("capture-poll-interval-millis", defaults.Capture.PollIntervalMillis, "Clipboard poll step during selection capture")
	fs.Int("capture-poll-deadline-millis", defaults.Capture.PollDeadlineMillis, "Total selection capture polling deadline")
	fs.String("log-level", defaults.LogLevel, "Log level (debug|info|warn|error)")
}

// Load assembles Config from defaults, an optional config file, bound flags,
// and SYSTTS_-prefixed environment variables, in ascending priority.
func Load(opts LoadOptions) (Config, error) {
	v := viper.New()

	setDefaults(v, opts.Defaults)
	if opts.Cmd != nil {
		if err := v.BindPFlags(opts.Cmd.Flags()); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}
	registerAliases(v)

	v.SetEnvPrefix("SYSTTS")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	} else {
		v.SetConfigName("systttsd")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	if err := validate(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func validate(cfg Config) error {
	if cfg.Service.MaxQueueDepth < 1 {
		return fmt.Errorf("service.max_queue_depth must be >= 1, got %d", cfg.Service.MaxQueueDepth)
	}
	if _, ok := cfg.Sources["default"]; !ok {
		return fmt.Errorf("sources map must contain a %q entry", "default")
	}
	return nil
}

func setDefaults(v *viper.Viper, c Config) {
	v.SetDefault("service.listen_addr", c.Service.ListenAddr)
	v.SetDefault("service.voices_dir", c.Service.VoicesDir)
	v.SetDefault("service.default_voice_id", c.Service.DefaultVoiceID)
	v.SetDefault("service.max_queue_depth", c.Service.MaxQueueDepth)
	v.SetDefault("service.interrupt_on_higher_priority", c.Service.InterruptOnHigherPriority)
	v.SetDefault("service.shutdown_timeout_secs", c.Service.ShutdownTimeoutSecs)
	v.SetDefault("sources", c.Sources)
	v.SetDefault("audio.device_name", c.Audio.DeviceName)
	v.SetDefault("audio.buffer_millis", c.Audio.BufferMillis)
	v.SetDefault("capture.poll_interval_millis", c.Capture.PollIntervalMillis)
	v.SetDefault("capture.poll_deadline_millis", c.Capture.PollDeadlineMillis)
	v.SetDefault("log_level", c.LogLevel)
}

func registerAliases(v *viper.Viper) {
	v.RegisterAlias("service.listen_addr", "service-listen-addr")
	v.RegisterAlias("service.voices_dir", "service-voices-dir")
	v.RegisterAlias("service.default_voice_id", "service-default-voice-id")
	v.RegisterAlias("service.max_queue_depth", "service-max-queue-depth")
	v.RegisterAlias("service.interrupt_on_higher_priority", "service-interrupt-on-higher-priority")
	v.RegisterAlias("service.shutdown_timeout_secs", "service-shutdown-timeout")
	v.RegisterAlias("audio.buffer_millis", "audio-buffer-millis")
	v.RegisterAlias("audio.device_name", "audio-device-name")
	v.RegisterAlias("capture.poll_interval_millis", "capture-poll-interval-millis")
	v.RegisterAlias("capture.poll_deadline_millis", "capture-poll-deadline-millis")
	v.RegisterAlias("log_level", "log-level")
}
