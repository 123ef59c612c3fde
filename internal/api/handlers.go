package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/router-for-me/CivitaiGallery/internal/civitai"
	"github.com/router-for-me/CivitaiGallery/internal/loader"
	"github.com/router-for-me/CivitaiGallery/internal/logging"
	log "github.com/sirupsen/logrus"
)

const (
	defaultLogLimit = 200
	streamBuffer    = 64
	writeTimeout    = 10 * time.Second
)

func (s *Server) handleHello(c *gin.Context) {
	c.String(http.StatusOK, "Hello World, from '%s'!", c.Request.URL.Path)
}

func (s *Server) handleThumbnail(c *gin.Context) {
	if s.loader == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "loader not configured"})
		return
	}
	data, err := s.loader.ThumbnailPNG(c.Request.Context(), c.Param("versionId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.Header("Cache-Control", "public, max-age=86400")
	c.Data(http.StatusOK, "image/png", data)
}

func (s *Server) handleLoad(c *gin.Context) {
	if s.loader == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "loader not configured"})
		return
	}
	kind, ok := civitai.ParseModelType(c.Param("kind"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown loader " + c.Param("kind")})
		return
	}
	var req loader.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	res, err := s.loader.Load(c.Request.Context(), kind, req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleLogs(c *gin.Context) {
	// Polled by the terminal gallery.
	logging.SkipGinRequestLogging(c)
	after, _ := strconv.ParseUint(c.Query("after"), 10, 64)
	limit := defaultLogLimit
	if v, err := strconv.Atoi(c.Query("limit")); err == nil && v > 0 {
		limit = v
	}
	if s.logs == nil {
		c.JSON(http.StatusOK, gin.H{"lines": []string{}, "latest": after})
		return
	}
	lines := s.logs.Since(after, limit)
	latest := after
	if len(lines) > 0 {
		latest = lines[len(lines)-1].Seq
	}
	c.JSON(http.StatusOK, gin.H{"lines": lines, "latest": latest})
}

// handleLogStream pushes each new log line as a text frame until the client goes away
// or the server shuts down.
func (s *Server) handleLogStream(c *gin.Context) {
	if s.logs == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "log capture disabled"})
		return
	}
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warnf("api: log stream upgrade failed: %v", err)
		return
	}
	defer func() { _ = conn.Close() }()

	lines, cancel := s.logs.Subscribe(streamBuffer)
	defer cancel()

	// Reads only detect the client closing.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, errRead := conn.ReadMessage(); errRead != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case <-s.stop:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(writeTimeout))
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if errDeadline := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); errDeadline != nil {
				return
			}
			if errWrite := conn.WriteMessage(websocket.TextMessage, []byte(line.Text)); errWrite != nil {
				return
			}
		}
	}
}

func (s *Server) handleConfig(c *gin.Context) {
	c.JSON(http.StatusOK, s.Config().Sanitized())
}

// writeError maps domain errors to HTTP statuses.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	var apiErr *civitai.APIError
	switch {
	case errors.Is(err, loader.ErrVersionRequired), errors.Is(err, civitai.ErrInvalidID):
		status = http.StatusBadRequest
	case errors.Is(err, civitai.ErrNotFound), errors.Is(err, loader.ErrNoThumbnail):
		status = http.StatusNotFound
	case errors.Is(err, loader.ErrTypeMismatch):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, loader.ErrUnsafeFilename), errors.As(err, &apiErr):
		status = http.StatusBadGateway
	}
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
