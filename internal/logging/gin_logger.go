// Package logging wires logrus into the gallery server: a compact line formatter,
// rotating file output, Gin request logging and panic recovery.
package logging

import (
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/CivitaiGallery/internal/util"
	log "github.com/sirupsen/logrus"
)

// trackedPrefixes are the routes that get a request ID: upstream proxying,
// loader runs and management calls.
var trackedPrefixes = []string{
	"/api/",
	"/v0/",
}

const skipGinLogKey = "__gin_skip_request_logging__"

// GinLogrusLogger logs one line per request. Routes under trackedPrefixes get a request ID,
// taken from the incoming header when valid, which is echoed back and stored in the context.
//
//	[2025-12-23 20:14:10] [a1b2c3d4] [info ] 200 |   1.204s | 127.0.0.1 | GET "/api/v1/models"
//	[2025-12-23 20:14:10] [--------] [info ] 200 |      3ms | 127.0.0.1 | GET "/hello"
func GinLogrusLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := attachRequestID(c)

		c.Next()

		if shouldSkipGinRequestLogging(c) {
			return
		}
		if requestID == "" {
			requestID = "--------"
		}
		entry := log.WithField("request_id", requestID)
		line := requestLine(c, time.Since(start))
		switch status := c.Writer.Status(); {
		case status >= http.StatusInternalServerError:
			entry.Error(line)
		case status >= http.StatusBadRequest:
			entry.Warn(line)
		default:
			entry.Info(line)
		}
	}
}

func attachRequestID(c *gin.Context) string {
	if !isTrackedPath(c.Request.URL.Path) {
		return ""
	}
	id := requestIDFromHeader(c.GetHeader(RequestIDHeader))
	if id == "" {
		id = GenerateRequestID()
	}
	SetGinRequestID(c, id)
	c.Request = c.Request.WithContext(WithRequestID(c.Request.Context(), id))
	c.Header(RequestIDHeader, id)
	return id
}

func requestLine(c *gin.Context, latency time.Duration) string {
	target := c.Request.URL.Path
	if q := util.MaskSensitiveQuery(c.Request.URL.RawQuery); q != "" {
		target += "?" + q
	}
	precision := time.Millisecond
	if latency > time.Minute {
		precision = time.Second
	}
	line := fmt.Sprintf("%3d | %8v | %15s | %-7s %q", c.Writer.Status(), latency.Truncate(precision), c.ClientIP(), c.Request.Method, target)
	if msg := c.Errors.ByType(gin.ErrorTypePrivate).String(); msg != "" {
		line += " | " + msg
	}
	return line
}

func isTrackedPath(path string) bool {
	for _, prefix := range trackedPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// GinLogrusRecovery turns handler panics into a logged stack and a 500. http.ErrAbortHandler
// is re-raised so net/http can drop the connection.
func GinLogrusRecovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		if err, ok := recovered.(error); ok && errors.Is(err, http.ErrAbortHandler) {
			panic(http.ErrAbortHandler)
		}
		log.WithFields(log.Fields{
			"request_id": GetGinRequestID(c),
			"path":       c.Request.URL.Path,
			"panic":      recovered,
		}).Errorf("handler panic\n%s", debug.Stack())

		c.AbortWithStatus(http.StatusInternalServerError)
	})
}

// SkipGinRequestLogging suppresses the request line for c.
func SkipGinRequestLogging(c *gin.Context) {
	if c != nil {
		c.Set(skipGinLogKey, true)
	}
}

func shouldSkipGinRequestLogging(c *gin.Context) bool {
	return c != nil && c.GetBool(skipGinLogKey)
}
