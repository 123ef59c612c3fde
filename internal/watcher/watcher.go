// Package watcher reloads the configuration when its file changes on disk.
package watcher

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/router-for-me/CivitaiGallery/internal/config"
	log "github.com/sirupsen/logrus"
)

// reloadDebounce collapses the burst of events editors emit for a single save.
const reloadDebounce = 150 * time.Millisecond

// Watcher reloads the configuration when its file changes.
type Watcher struct {
	configPath     string
	reloadCallback func(*config.Config)
	fs             *fsnotify.Watcher

	mu          sync.RWMutex
	config      *config.Config
	contentHash string
}

// NewWatcher creates a watcher for configPath. reloadCallback receives every configuration
// that parses and whose file content differs from the last one applied.
func NewWatcher(configPath string, reloadCallback func(*config.Config)) (*Watcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watcher: %w", err)
	}
	return &Watcher{configPath: configPath, reloadCallback: reloadCallback, fs: fs}, nil
}

// Start watches the config directory until ctx is done or Stop is called. The directory is
// watched instead of the file because atomic saves replace the file.
func (w *Watcher) Start(ctx context.Context) error {
	dir := filepath.Dir(w.configPath)
	if err := w.fs.Add(dir); err != nil {
		return fmt.Errorf("watcher: watch %s: %w", dir, err)
	}
	w.rememberContent()
	w.logger().Debug("watching config file")
	go w.loop(ctx)
	return nil
}

// Stop ends watching.
func (w *Watcher) Stop() error {
	return w.fs.Close()
}

// SetConfig records the configuration currently in effect.
func (w *Watcher) SetConfig(cfg *config.Config) {
	w.mu.Lock()
	w.config = cfg
	w.mu.Unlock()
}

// Config returns the configuration currently in effect.
func (w *Watcher) Config() *config.Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.config
}

func (w *Watcher) loop(ctx context.Context) {
	target := normalizePath(w.configPath)
	var (
		timer   *time.Timer
		pending <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-pending:
			pending = nil
			w.reloadConfigIfChanged()
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if normalizePath(event.Name) != target {
				continue
			}
			w.logger().Debugf("config file event: %s", event.Op)
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
			} else {
				timer.Reset(reloadDebounce)
			}
			pending = timer.C
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger().WithError(err).Error("config watcher error")
		}
	}
}

func (w *Watcher) logger() *log.Entry {
	return log.WithField("path", w.configPath)
}

func normalizePath(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return ""
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	path = filepath.Clean(path)
	if runtime.GOOS == "windows" {
		path = strings.ToLower(path)
	}
	return path
}
