package logging

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

const logDirCleanerInterval = time.Minute

// stopLogDirCleaner cancels the running cleaner, if any. Guarded by outputMu.
var stopLogDirCleaner context.CancelFunc

// configureLogDirCleanerLocked restarts the size cleaner for logDir. A non-positive limit
// leaves it stopped. The caller holds outputMu.
func configureLogDirCleanerLocked(logDir string, maxTotalSizeMB int, activeFile string) {
	stopLogDirCleanerLocked()

	logDir = strings.TrimSpace(logDir)
	if maxTotalSizeMB <= 0 || logDir == "" {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	stopLogDirCleaner = cancel
	limit := int64(maxTotalSizeMB) << 20
	go func() {
		ticker := time.NewTicker(logDirCleanerInterval)
		defer ticker.Stop()
		for {
			sweepLogDir(filepath.Clean(logDir), limit, activeFile)
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

func stopLogDirCleanerLocked() {
	if stopLogDirCleaner != nil {
		stopLogDirCleaner()
		stopLogDirCleaner = nil
	}
}

func sweepLogDir(logDir string, limit int64, activeFile string) {
	removed, err := enforceLogDirSizeLimit(logDir, limit, activeFile)
	switch {
	case err != nil:
		log.WithError(err).Warn("logging: log directory size limit not enforced")
	case removed > 0:
		log.Debugf("logging: removed %d rotated log file(s) from %s", removed, logDir)
	}
}

type logFileInfo struct {
	path    string
	size    int64
	modTime time.Time
}

// enforceLogDirSizeLimit removes the oldest *.log and *.log.gz files in logDir until their total
// size fits maxBytes and reports how many were removed. The active file is never removed, even
// when that leaves the directory over the limit.
func enforceLogDirSizeLimit(logDir string, maxBytes int64, activeFile string) (int, error) {
	logDir = strings.TrimSpace(logDir)
	if maxBytes <= 0 || logDir == "" {
		return 0, nil
	}

	files, err := listLogFiles(filepath.Clean(logDir))
	if err != nil {
		return 0, err
	}
	var total int64
	for _, f := range files {
		total += f.size
	}
	if total <= maxBytes {
		return 0, nil
	}

	if activeFile = strings.TrimSpace(activeFile); activeFile != "" {
		activeFile = filepath.Clean(activeFile)
	}
	slices.SortFunc(files, func(a, b logFileInfo) int { return a.modTime.Compare(b.modTime) })

	removed := 0
	for _, f := range files {
		if total <= maxBytes {
			break
		}
		if f.path == activeFile {
			continue
		}
		if errRemove := os.Remove(f.path); errRemove != nil {
			log.WithError(errRemove).Warnf("logging: cannot remove %s", filepath.Base(f.path))
			continue
		}
		total -= f.size
		removed++
	}
	return removed, nil
}

func listLogFiles(dir string) ([]logFileInfo, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	files := make([]logFileInfo, 0, len(entries))
	for _, entry := range entries {
		if !entry.Type().IsRegular() || !isLogFileName(entry.Name()) {
			continue
		}
		info, errInfo := entry.Info()
		if errInfo != nil {
			continue
		}
		files = append(files, logFileInfo{
			path:    filepath.Join(dir, entry.Name()),
			size:    info.Size(),
			modTime: info.ModTime(),
		})
	}
	return files, nil
}

func isLogFileName(name string) bool {
	name = strings.ToLower(name)
	return strings.HasSuffix(name, ".log") || strings.HasSuffix(name, ".log.gz")
}
