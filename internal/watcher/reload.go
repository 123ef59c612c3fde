package watcher

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"os"

	"github.com/router-for-me/CivitaiGallery/internal/config"
	"github.com/router-for-me/CivitaiGallery/internal/util"
)

func hashConfig(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// rememberContent records the hash of the file as it is when watching starts, so an event
// that rewrites identical bytes does not reload.
func (w *Watcher) rememberContent() {
	data, err := os.ReadFile(w.configPath)
	if err != nil || len(bytes.TrimSpace(data)) == 0 {
		return
	}
	w.mu.Lock()
	w.contentHash = hashConfig(data)
	w.mu.Unlock()
}

// reloadConfigIfChanged parses the file and applies it when its content changed. Empty reads
// are skipped since editors truncate before writing. A file that does not parse leaves the
// active configuration untouched.
func (w *Watcher) reloadConfigIfChanged() {
	data, err := os.ReadFile(w.configPath)
	if err != nil {
		w.logger().WithError(err).Error("config reload: read failed")
		return
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return
	}
	hash := hashConfig(data)

	w.mu.RLock()
	unchanged := hash == w.contentHash
	w.mu.RUnlock()
	if unchanged {
		w.logger().Debug("config reload: content unchanged")
		return
	}

	next, err := config.ParseConfig(data)
	if err != nil {
		w.logger().WithError(err).Error("config reload: keeping current config")
		return
	}

	w.mu.Lock()
	previous := w.config
	w.config = next
	w.contentHash = hash
	w.mu.Unlock()

	util.SetLogLevel(next)
	if previous != nil {
		for _, change := range BuildConfigChangeDetails(previous, next) {
			w.logger().Debugf("config change: %s", change)
		}
	}
	if w.reloadCallback != nil {
		w.reloadCallback(next)
	}
	w.logger().Info("config reloaded")
}
