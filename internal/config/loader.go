package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// FileName is the config file looked up inside the config directory.
const FileName = "agent.yaml"

// envRef matches ${VAR} and ${VAR:default}. The default may contain colons.
var envRef = regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

// expandEnv substitutes environment references in s. A variable that is set,
// even to the empty string, wins over the default.
func expandEnv(s string, lookup func(string) (string, bool)) string {
	return envRef.ReplaceAllStringFunc(s, func(ref string) string {
		m := envRef.FindStringSubmatch(ref)
		if v, ok := lookup(m[1]); ok {
			return v
		}
		return m[2]
	})
}

// decodeFile expands environment references in the YAML file at path and
// decodes it into dest. Unknown keys are rejected so that typos surface at
// startup instead of silently falling back to defaults. An empty file
// leaves dest untouched.
func decodeFile(path string, dest any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	dec := yaml.NewDecoder(strings.NewReader(expandEnv(string(data), os.LookupEnv)))
	dec.KnownFields(true)
	if err := dec.Decode(dest); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// Loader manages configuration loading and hot-reload via fsnotify.
type Loader struct {
	configDir string
	mu        sync.RWMutex
	cfg       *Config
	watchers  []func(*Config)
	logger    *slog.Logger
}

func NewLoader(configDir string, logger *slog.Logger) *Loader {
	return &Loader{
		configDir: configDir,
		logger:    logger,
	}
}

// Load reads agent.yaml over DefaultConfig. A missing file is not an error:
// the service then runs on defaults and environment-provided entries.
func (l *Loader) Load() error {
	cfg := DefaultConfig()
	path := filepath.Join(l.configDir, FileName)
	if _, err := os.Stat(path); err == nil {
		if err := decodeFile(path, cfg); err != nil {
			return fmt.Errorf("load agent config: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("stat agent config: %w", err)
	} else {
		l.logger.Warn("config file not found, using defaults", "path", path)
	}

	l.mu.Lock()
	l.cfg = cfg
	l.mu.Unlock()

	l.logger.Info("configuration loaded", "dir", l.configDir)
	return nil
}

func (l *Loader) Config() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cfg
}

// OnReload registers a callback that fires after config is reloaded.
func (l *Loader) OnReload(fn func(*Config)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.watchers = append(l.watchers, fn)
}

func (l *Loader) notify() {
	l.mu.RLock()
	cfg := l.cfg
	watchers := append([]func(*Config){}, l.watchers...)
	l.mu.RUnlock()
	for _, fn := range watchers {
		fn(cfg)
	}
}

// Watch starts watching the config directory for changes and reloads on
// modification. It returns a stop function.
func (l *Loader) Watch() (func(), error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := watcher.Add(l.configDir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch config dir %s: %w", l.configDir, err)
	}

	done := make(chan struct{})
	go func() {
		defer watcher.Close()
		for {
			select {
			case <-done:
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(event.Name) != FileName {
					continue
				}
				if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
					l.logger.Info("config file changed, reloading", "file", event.Name)
					if err := l.Load(); err != nil {
						l.logger.Error("failed to reload config", "error", err)
						continue
					}
					l.notify()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				l.logger.Error("fsnotify error", "error", err)
			}
		}
	}()

	var once sync.Once
	return func() { once.Do(func() { close(done) }) }, nil
}
