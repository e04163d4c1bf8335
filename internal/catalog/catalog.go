// Package catalog maintains a hot-reloading index of on-disk voice pairs.
package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

const (
	modelExt         = ".onnx"
	configSuffix     = ".onnx.json"
	defaultSampleHz  = 22050
	debounceInterval = 100 * time.Millisecond
)

// Voice is a single entry in the catalog.
type Voice struct {
	ID          string
	DisplayName string
	ModelPath   string
	ConfigPath  string
	SampleRate  int
}

type voiceConfigFile struct {
	Audio struct {
		SampleRate int `json:"sample_rate"`
	} `json:"audio"`
}

// snapshot is the immutable, atomically-published state of the catalog.
type snapshot struct {
	voices []Voice
	byID   map[string]Voice
}

func emptySnapshot() *snapshot {
	return &snapshot{byID: map[string]Voice{}}
}

// Catalog scans dir for (model, config) voice pairs and keeps the index
// current via a filesystem watcher with a debounced rescan.
type Catalog struct {
	dir            string
	defaultVoiceID string
	log            *slog.Logger

	current atomic.Pointer[snapshot]

	watcher *fsnotify.Watcher
	timer   *time.Timer
	done    chan struct{}
}

// New scans dir immediately and starts a background watcher for hot reload.
func New(dir, defaultVoiceID string, log *slog.Logger) (*Catalog, error) {
	if log == nil {
		log = slog.Default()
	}

	c := &Catalog{
		dir:            dir,
		defaultVoiceID: defaultVoiceID,
		log:            log,
		done:           make(chan struct{}),
	}
	c.current.Store(emptySnapshot())

	c.rescan()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("catalog: create watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		log.Warn("catalog: cannot watch voices directory", "dir", dir, "err", err)
	}
	c.watcher = watcher

	go c.watch()

	return c, nil
}

// List returns a snapshot of the current index in a stable order.
func (c *Catalog) List() []Voice {
	snap := c.current.Load()
	return append([]Voice(nil), snap.voices...)
}

// Get returns the voice with the given id, if present.
func (c *Catalog) Get(id string) (Voice, bool) {
	snap := c.current.Load()
	v, ok := snap.byID[id]
	return v, ok
}

// Resolve returns requestedID if it names a present voice, otherwise falls
// back to the configured default voice id, logging a warning.
func (c *Catalog) Resolve(requestedID string) string {
	snap := c.current.Load()
	if requestedID != "" {
		if _, ok := snap.byID[requestedID]; ok {
			return requestedID
		}
		c.log.Warn("catalog: requested voice not found, falling back to default",
			"requested", requestedID, "default", c.defaultVoiceID)
	}
	return c.defaultVoiceID
}

// Shutdown stops the watcher and releases resources.
func (c *Catalog) Shutdown() {
	select {
	case <-c.done:
		return
	default:
		close(c.done)
	}
	if c.watcher != nil {
		_ = c.watcher.Close()
	}
}

func (c *Catalog) watch() {
	for {
		select {
		case <-c.done:
			return
		case event, ok := <-c.watcher.Events:
			if !ok {
				return
			}
			if !relevant(event.Name) {
				continue
			}
			c.scheduleRescan()
		case err, ok := <-c.watcher.Errors:
			if !ok {
				return
			}
			c.log.Warn("catalog: watcher error", "err", err)
		}
	}
}

func relevant(name string) bool {
	return strings.HasSuffix(name, modelExt) || strings.HasSuffix(name, configSuffix)
}

// scheduleRescan resets a pending debounce timer, collapsing a burst of
// events into a single rescan after debounceInterval.
func (c *Catalog) scheduleRescan() {
	if c.timer == nil {
		c.timer = time.AfterFunc(debounceInterval, c.rescan)
		return
	}
	c.timer.Reset(debounceInterval)
}

// rescan enumerates the voices directory and atomically publishes a new
// snapshot. A directory-read failure keeps the previous snapshot intact,
// except that a missing directory which cannot be created publishes an
// empty snapshot.
func (c *Catalog) rescan() {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if mkErr := os.MkdirAll(c.dir, 0o755); mkErr != nil {
				c.log.Warn("catalog: voices directory missing and could not be created", "dir", c.dir, "err", mkErr)
				c.current.Store(emptySnapshot())
				return
			}
			entries = nil
		} else {
			c.log.Warn("catalog: scan failed, keeping previous index", "dir", c.dir, "err", err)
			return
		}
	}

	next := &snapshot{byID: map[string]Voice{}}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), modelExt) {
			continue
		}

		id := strings.TrimSuffix(entry.Name(), modelExt)
		modelPath := filepath.Join(c.dir, entry.Name())
		configPath := filepath.Join(c.dir, id+configSuffix)

		sampleRate, err := readSampleRate(configPath)
		if err != nil {
			c.log.Warn("catalog: excluding voice with missing or malformed config", "id", id, "err", err)
			continue
		}

		absModel, err := filepath.Abs(modelPath)
		if err != nil {
			absModel = modelPath
		}
		absConfig, err := filepath.Abs(configPath)
		if err != nil {
			absConfig = configPath
		}

		v := Voice{
			ID:          id,
			DisplayName: id,
			ModelPath:   absModel,
			ConfigPath:  absConfig,
			SampleRate:  sampleRate,
		}
		next.voices = append(next.voices, v)
		next.byID[id] = v
	}

	c.current.Store(next)
	c.log.Info("catalog: scan complete", "voices", len(next.voices), "dir", c.dir)
}

func readSampleRate(configPath string) (int, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return 0, fmt.Errorf("read config: %w", err)
	}

	var cfg voiceConfigFile
	if err := json.Unmarshal(data, &cfg); err != nil {
		return 0, fmt.Errorf("parse config: %w", err)
	}

	if cfg.Audio.SampleRate <= 0 {
		return defaultSampleHz, nil
	}
	return cfg.Audio.SampleRate, nil
}
