package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/router-for-me/CivitaiGallery/internal/config"
	"github.com/router-for-me/CivitaiGallery/internal/logging"
	"github.com/router-for-me/CivitaiGallery/internal/watcher"
	log "github.com/sirupsen/logrus"
)

// StartService runs the gallery server until SIGINT or SIGTERM.
func StartService(cfg *config.Config, configPath string, logs *logging.MemoryHook) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := runService(ctx, cfg, configPath, logs); err != nil {
		log.Errorf("gallery server failed: %v", err)
	}
}

// StartServiceBackground runs the server in a goroutine. cancel stops it; done is closed
// once it has shut down.
func StartServiceBackground(cfg *config.Config, configPath string, logs *logging.MemoryHook) (cancel func(), done <-chan struct{}) {
	ctx, cancelCtx := context.WithCancel(context.Background())
	doneCh := make(chan struct{})
	go func() {
		defer close(doneCh)
		if err := runService(ctx, cfg, configPath, logs); err != nil {
			log.Errorf("embedded gallery server failed: %v", err)
		}
	}()
	return cancelCtx, doneCh
}

func runService(ctx context.Context, cfg *config.Config, configPath string, logs *logging.MemoryHook) error {
	services, err := BuildServices(ctx, cfg, logs)
	if err != nil {
		return err
	}
	defer services.Close()

	if configPath != "" {
		w, errWatcher := watcher.NewWatcher(configPath, services.ApplyConfig)
		if errWatcher != nil {
			log.WithError(errWatcher).Warn("config hot reload disabled")
		} else {
			w.SetConfig(cfg)
			if errStart := w.Start(ctx); errStart != nil {
				log.WithError(errStart).Warn("config hot reload disabled")
			}
			defer func() {
				if errStop := w.Stop(); errStop != nil {
					log.WithError(errStop).Debug("failed to stop config watcher")
				}
			}()
		}
	}

	if err = services.Server.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run server: %w", err)
	}
	return nil
}
