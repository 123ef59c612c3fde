package logging

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

func TestGinLogrusRecoveryRepanicsErrAbortHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)

	engine := gin.New()
	engine.Use(GinLogrusRecovery())
	engine.GET("/abort", func(c *gin.Context) {
		panic(http.ErrAbortHandler)
	})

	req := httptest.NewRequest(http.MethodGet, "/abort", nil)
	recorder := httptest.NewRecorder()

	defer func() {
		recovered := recover()
		if recovered == nil {
			t.Fatalf("expected panic, got nil")
		}
		err, ok := recovered.(error)
		if !ok {
			t.Fatalf("expected error panic, got %T", recovered)
		}
		if !errors.Is(err, http.ErrAbortHandler) {
			t.Fatalf("expected ErrAbortHandler, got %v", err)
		}
		if err != http.ErrAbortHandler {
			t.Fatalf("expected exact ErrAbortHandler sentinel, got %v", err)
		}
	}()

	engine.ServeHTTP(recorder, req)
}

func TestGinLogrusRecoveryHandlesRegularPanic(t *testing.T) {
	gin.SetMode(gin.TestMode)

	engine := gin.New()
	engine.Use(GinLogrusRecovery())
	engine.GET("/panic", func(c *gin.Context) {
		panic("boom")
	})

	req := httptest.NewRequest(http.MethodGet, "/panic", nil)
	recorder := httptest.NewRecorder()

	engine.ServeHTTP(recorder, req)
	if recorder.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", recorder.Code)
	}
}

func TestGinLogrusLoggerTracksRequestIDOnAPIRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)

	engine := gin.New()
	engine.Use(GinLogrusLogger())
	var seen string
	engine.GET("/api/v1/models", func(c *gin.Context) {
		seen = GetRequestID(c.Request.Context())
		c.Status(http.StatusOK)
	})
	engine.GET("/hello", func(c *gin.Context) {
		seen = GetGinRequestID(c)
		c.Status(http.StatusOK)
	})

	recorder := httptest.NewRecorder()
	engine.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/api/v1/models", nil))
	if len(seen) != 8 {
		t.Fatalf("expected generated 8-char request id, got %q", seen)
	}
	if got := recorder.Header().Get(RequestIDHeader); got != seen {
		t.Fatalf("expected response header %q, got %q", seen, got)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/models", nil)
	req.Header.Set(RequestIDHeader, "caller-42")
	engine.ServeHTTP(httptest.NewRecorder(), req)
	if seen != "caller-42" {
		t.Fatalf("expected caller supplied id, got %q", seen)
	}

	engine.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/hello", nil))
	if seen != "" {
		t.Fatalf("expected no request id for untracked route, got %q", seen)
	}
}

func TestRequestIDFromHeaderRejectsUnprintable(t *testing.T) {
	if got := requestIDFromHeader("bad id"); got != "" {
		t.Fatalf("expected rejection, got %q", got)
	}
	if got := requestIDFromHeader("0123456789abcdef0123456789abcdef0"); got != "" {
		t.Fatalf("expected rejection of long id, got %q", got)
	}
}

func TestGinLogrusLoggerSkip(t *testing.T) {
	gin.SetMode(gin.TestMode)

	hook := NewMemoryHook(8)
	hooks := make(log.LevelHooks)
	hooks.Add(hook)
	previous := log.StandardLogger().ReplaceHooks(hooks)
	defer log.StandardLogger().ReplaceHooks(previous)

	engine := gin.New()
	engine.Use(GinLogrusLogger())
	engine.GET("/v0/management/logs", func(c *gin.Context) {
		SkipGinRequestLogging(c)
		c.Status(http.StatusOK)
	})
	engine.GET("/v0/missing", func(c *gin.Context) {
		c.Status(http.StatusNotFound)
	})

	engine.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v0/management/logs", nil))
	if got := hook.Since(0, 0); len(got) != 0 {
		t.Fatalf("expected skipped request to stay silent, got %+v", got)
	}

	engine.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v0/missing?token=secret", nil))
	got := hook.Since(0, 0)
	if len(got) != 1 {
		t.Fatalf("expected one line, got %+v", got)
	}
	if !strings.Contains(got[0].Text, "[warn ]") || !strings.Contains(got[0].Text, "404 |") || strings.Contains(got[0].Text, "secret") {
		t.Fatalf("unexpected line %q", got[0].Text)
	}
}
