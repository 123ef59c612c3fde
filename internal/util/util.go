// Package util holds small helpers shared by the server and the CLI: log level switching,
// cache path resolution, outbound proxy setup and credential masking for logs.
package util

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/router-for-me/CivitaiGallery/internal/config"
	log "github.com/sirupsen/logrus"
)

// SetLogLevel applies cfg.Debug to the global logger, logging the switch when it changes.
func SetLogLevel(cfg *config.Config) {
	level := log.InfoLevel
	if cfg.Debug {
		level = log.DebugLevel
	}
	if previous := log.GetLevel(); previous != level {
		log.SetLevel(level)
		log.Infof("log level %s -> %s", previous, level)
	}
}

// ResolvePath expands a leading "~" to the home directory and cleans the result.
// Both slash styles are accepted after the tilde. The empty path stays empty.
func ResolvePath(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	rest, ok := strings.CutPrefix(path, "~")
	if !ok {
		return filepath.Clean(path), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve path %q: %w", path, err)
	}
	rest = strings.ReplaceAll(strings.TrimLeft(rest, `/\`), `\`, "/")
	return filepath.Join(home, filepath.FromSlash(rest)), nil
}

// WritablePath returns WRITABLE_PATH (or writable_path), cleaned, when set to a non-blank value.
// Containers with a read-only working directory use it to relocate logs.
func WritablePath() string {
	for _, key := range []string{"WRITABLE_PATH", "writable_path"} {
		if value := strings.TrimSpace(os.Getenv(key)); value != "" {
			return filepath.Clean(value)
		}
	}
	return ""
}
