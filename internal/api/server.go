// Package api implements the local HTTP server: the authenticated Civitai proxy, model
// loader endpoints, thumbnails and the management endpoints used by the terminal UI.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/router-for-me/CivitaiGallery/internal/config"
	"github.com/router-for-me/CivitaiGallery/internal/loader"
	"github.com/router-for-me/CivitaiGallery/internal/logging"
	log "github.com/sirupsen/logrus"
)

const shutdownTimeout = 10 * time.Second

// Server is the local gallery server.
type Server struct {
	mu     sync.RWMutex
	cfg    *config.Config
	engine *gin.Engine
	server *http.Server

	proxy    *upstreamProxy
	secret   SecretSource
	loader   *loader.Loader
	logs     *logging.MemoryHook
	upgrader websocket.Upgrader

	stopOnce sync.Once
	stop     chan struct{}
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithSecretSource overrides the upstream key lookup.
func WithSecretSource(s SecretSource) ServerOption {
	return func(srv *Server) { srv.secret = s }
}

// WithLogHook exposes captured log lines on the management endpoints.
func WithLogHook(h *logging.MemoryHook) ServerOption {
	return func(srv *Server) { srv.logs = h }
}

// NewServer builds the router. ld serves thumbnails and loader requests.
func NewServer(cfg *config.Config, ld *loader.Loader, opts ...ServerOption) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("api: config is required")
	}
	s := &Server{
		cfg:    cfg,
		loader: ld,
		stop:   make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.secret == nil {
		s.secret = NewMultiSourceSecret(cfg.APIKey, "", 0)
	}

	proxy, err := newUpstreamProxy(cfg.UpstreamURL, s.secret, cfg.RewriteDownloadURLs)
	if err != nil {
		return nil, fmt.Errorf("api: %w", err)
	}
	s.proxy = proxy

	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	if err = engine.SetTrustedProxies(nil); err != nil {
		return nil, fmt.Errorf("api: trusted proxies: %w", err)
	}
	engine.Use(logging.GinLogrusLogger(), logging.GinLogrusRecovery())
	s.engine = engine
	s.setupRoutes()

	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	s.server = &http.Server{
		Addr:              addr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

func (s *Server) setupRoutes() {
	s.engine.GET("/hello", s.handleHello)
	gallery := s.engine.Group("", s.remoteGuard())
	{
		gallery.GET("/api/*tail", s.proxy.handler())
		gallery.GET("/thumbnails/:versionId", s.handleThumbnail)
		gallery.POST("/v0/loaders/:kind", s.handleLoad)
	}

	mgmt := s.engine.Group("/v0/management", localOnly())
	{
		mgmt.GET("/logs", s.handleLogs)
		mgmt.GET("/logs/stream", s.handleLogStream)
		mgmt.GET("/config", s.handleConfig)
	}
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.engine }

// Addr returns the listen address.
func (s *Server) Addr() string { return s.server.Addr }

// Config returns the active configuration.
func (s *Server) Config() *config.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// UpdateConfig applies a reloaded configuration. Listen address and upstream changes need
// a restart; the api key and link rewriting apply immediately.
func (s *Server) UpdateConfig(cfg *config.Config) {
	if cfg == nil {
		return
	}
	s.mu.Lock()
	old := s.cfg
	s.cfg = cfg
	s.mu.Unlock()

	if ms, ok := s.secret.(*MultiSourceSecret); ok {
		ms.UpdateExplicitKey(cfg.APIKey)
	}
	s.proxy.SetRewrite(cfg.RewriteDownloadURLs)
	if old != nil && (old.Port != cfg.Port || old.Host != cfg.Host || old.UpstreamURL != cfg.UpstreamURL) {
		log.Warn("api: listen address or upstream changed; restart to apply")
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Infof("gallery server listening on %s", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("api: listen on %s: %w", s.server.Addr, err)
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

// Shutdown closes log streams and stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.stop) })
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("api: shutdown: %w", err)
	}
	log.Info("gallery server stopped")
	return nil
}

// localOnly rejects management calls from non-loopback clients.
func localOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !isLoopbackClient(c) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "management endpoints are local only"})
			return
		}
		c.Next()
	}
}

// remoteGuard refuses non-loopback clients on the gallery routes unless allow-remote is set.
// The setting is read per request so a reload applies immediately.
func (s *Server) remoteGuard() gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg := s.Config(); (cfg != nil && cfg.AllowRemote) || isLoopbackClient(c) {
			c.Next()
			return
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "remote access is disabled, set allow-remote to enable it"})
	}
}

func isLoopbackClient(c *gin.Context) bool {
	ip := net.ParseIP(c.ClientIP())
	return ip != nil && ip.IsLoopback()
}
