// Package cmd wires configuration, storage, the content client, the loader and the HTTP
// server together for the command-line entry points.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/router-for-me/CivitaiGallery/internal/api"
	"github.com/router-for-me/CivitaiGallery/internal/cache"
	"github.com/router-for-me/CivitaiGallery/internal/civitai"
	"github.com/router-for-me/CivitaiGallery/internal/config"
	"github.com/router-for-me/CivitaiGallery/internal/loader"
	"github.com/router-for-me/CivitaiGallery/internal/logging"
	"github.com/router-for-me/CivitaiGallery/internal/store"
	"github.com/router-for-me/CivitaiGallery/internal/util"
	log "github.com/sirupsen/logrus"
)

const (
	defaultRequestTimeout = 60 * time.Second
	bootstrapTimeout      = 30 * time.Second
)

// Services holds everything a running server needs.
type Services struct {
	Config  *config.Config
	Secret  *api.MultiSourceSecret
	Client  *civitai.Client
	Loader  *loader.Loader
	Server  *api.Server
	closers []func()
}

// Close releases caches and database handles.
func (s *Services) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

// BuildServices creates the content client, metadata store, object mirror, loader and server
// for cfg. logs, when non-nil, backs the management log endpoints. extra options are applied
// to the loader after the configured ones.
func BuildServices(ctx context.Context, cfg *config.Config, logs *logging.MemoryHook, extra ...loader.Option) (*Services, error) {
	s := &Services{Config: cfg}
	ok := false
	defer func() {
		if !ok {
			s.Close()
		}
	}()

	cacheDir, err := util.ResolvePath(cfg.CacheDir)
	if err != nil {
		return nil, fmt.Errorf("resolve cache dir: %w", err)
	}

	timeout := time.Duration(cfg.RequestTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	apiClient := util.SetProxy(cfg.ProxyURL, &http.Client{Timeout: timeout})
	// Model files are large; only the response headers are bounded.
	downloadTransport := http.DefaultTransport.(*http.Transport).Clone()
	downloadTransport.ResponseHeaderTimeout = timeout
	downloadClient := util.SetProxy(cfg.ProxyURL, &http.Client{Transport: downloadTransport})

	// The key is resolved per request so reloads and secrets file edits apply without a restart.
	s.Secret = api.NewMultiSourceSecret(cfg.APIKey, "", 0)
	if _, errKey := s.Secret.Get(ctx); errKey != nil {
		log.WithError(errKey).Warn("civitai api key unavailable, continuing without auth")
	}

	versions := cache.NewVersionCache(cache.DefaultTTL)
	s.closers = append(s.closers, versions.Close)

	metadata, err := openMetadataStore(ctx, cfg, cacheDir, s)
	if err != nil {
		return nil, err
	}

	clientOpts := []civitai.Option{
		civitai.WithHTTPClient(apiClient),
		civitai.WithCache(versions),
		civitai.WithMetadataStore(metadata),
		civitai.WithKeySource(s.Secret),
	}
	s.Client = civitai.NewClient(cfg.UpstreamURL+"/api", clientOpts...)

	loaderOpts := []loader.Option{
		loader.WithHTTPClient(downloadClient),
		loader.WithDownloadFormat(cfg.PreferredDownloadFormat),
		loader.WithKeySource(s.Secret, loader.HostOf(cfg.UpstreamURL)),
	}
	if cfg.ObjectMirror.Enabled() {
		mirror, errMirror := store.NewObjectMirror(cfg.ObjectMirror)
		if errMirror != nil {
			return nil, errMirror
		}
		bootCtx, cancel := context.WithTimeout(ctx, bootstrapTimeout)
		errBoot := mirror.Bootstrap(bootCtx)
		cancel()
		if errBoot != nil {
			return nil, errBoot
		}
		loaderOpts = append(loaderOpts, loader.WithMirror(mirror))
		log.Infof("object mirror enabled, bucket: %s", cfg.ObjectMirror.Bucket)
	}
	s.Loader = loader.New(cacheDir, s.Client, append(loaderOpts, extra...)...)

	serverOpts := []api.ServerOption{api.WithSecretSource(s.Secret)}
	if logs != nil {
		serverOpts = append(serverOpts, api.WithLogHook(logs))
	}
	s.Server, err = api.NewServer(cfg, s.Loader, serverOpts...)
	if err != nil {
		return nil, err
	}
	ok = true
	return s, nil
}

// ApplyConfig applies a reloaded configuration to the running services. Environment
// overrides are re-applied first so they keep precedence over the file.
func (s *Services) ApplyConfig(cfg *config.Config) {
	if cfg == nil {
		return
	}
	config.ApplyEnvOverrides(cfg)
	if errLog := logging.ConfigureLogOutput(cfg); errLog != nil {
		log.WithError(errLog).Warn("failed to apply log output settings")
	}
	s.Server.UpdateConfig(cfg)
}

// openMetadataStore selects Postgres when a DSN is configured, else JSON files under the cache.
func openMetadataStore(ctx context.Context, cfg *config.Config, cacheDir string, s *Services) (civitai.MetadataStore, error) {
	if strings.TrimSpace(cfg.MetadataStore.PostgresDSN) != "" {
		bootCtx, cancel := context.WithTimeout(ctx, bootstrapTimeout)
		defer cancel()
		pg, err := store.NewPostgresStore(bootCtx, cfg.MetadataStore)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, func() {
			if errClose := pg.Close(); errClose != nil {
				log.WithError(errClose).Warn("failed to close metadata store")
			}
		})
		if err = pg.EnsureSchema(bootCtx); err != nil {
			return nil, err
		}
		log.Info("postgres metadata store enabled")
		return pg, nil
	}
	fs, err := store.NewFileStore(filepath.Join(cacheDir, "metadata"))
	if err != nil {
		return nil, err
	}
	log.Debugf("file metadata store at %s", fs.Dir())
	return fs, nil
}

// IsUsageError reports errors caused by bad command-line input.
func IsUsageError(err error) bool {
	return errors.Is(err, civitai.ErrInvalidID) || errors.Is(err, loader.ErrTypeMismatch)
}
