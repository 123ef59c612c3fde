package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/router-for-me/CivitaiGallery/internal/civitai"
	"github.com/router-for-me/CivitaiGallery/internal/config"
	"github.com/router-for-me/CivitaiGallery/internal/loader"
	log "github.com/sirupsen/logrus"
)

const progressInterval = 2 * time.Second

// DoDownload fetches one model version into the cache and prints its local path.
func DoDownload(cfg *config.Config, versionID, kindName string) error {
	kind, ok := civitai.ParseModelType(kindName)
	if !ok {
		return fmt.Errorf("unknown model type %q (want checkpoint, lora or controlnet)", kindName)
	}
	versionID = strings.TrimSpace(versionID)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	progress := &progressLogger{version: versionID, interval: progressInterval}
	services, err := BuildServices(ctx, cfg, nil, loader.WithProgress(progress.report))
	if err != nil {
		return err
	}
	defer services.Close()

	path, err := services.Loader.DownloadIfNotExist(ctx, versionID, kind)
	if err != nil {
		return err
	}
	log.WithFields(log.Fields{"version": versionID, "type": kind, "path": path}).Info("model ready")
	fmt.Println(path)
	return nil
}

// progressLogger logs download progress at most once per interval.
type progressLogger struct {
	version  string
	interval time.Duration
	last     time.Time
}

func (p *progressLogger) report(done, total int64) {
	now := time.Now()
	finished := total > 0 && done >= total
	if !finished && done != 0 && now.Sub(p.last) < p.interval {
		return
	}
	p.last = now
	entry := log.WithFields(log.Fields{"version": p.version, "bytes": done})
	if total > 0 {
		entry.Infof("downloading %.1f%% (%s / %s)", float64(done)*100/float64(total), formatBytes(done), formatBytes(total))
		return
	}
	entry.Infof("downloading %s", formatBytes(done))
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
