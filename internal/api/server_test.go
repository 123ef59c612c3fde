package api

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/router-for-me/CivitaiGallery/internal/config"
	"github.com/router-for-me/CivitaiGallery/internal/loader"
	"github.com/router-for-me/CivitaiGallery/internal/logging"
	log "github.com/sirupsen/logrus"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestServer(t *testing.T, upstreamURL string, opts ...ServerOption) *Server {
	t.Helper()
	cfg := &config.Config{UpstreamURL: upstreamURL, APIKey: "sk-config-key-1234"}
	cfg.ApplyDefaults()
	opts = append([]ServerOption{WithSecretSource(NewStaticSecretSource("sk-upstream"))}, opts...)
	srv, err := NewServer(cfg, loader.New(t.TempDir(), nil), opts...)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return srv
}

// serve runs req against the router with a cancellable context, as net/http provides one
// for real connections and the reverse proxy relies on it.
func serve(srv *Server, req *http.Request) *httptest.ResponseRecorder {
	ctx, cancel := context.WithCancel(req.Context())
	defer cancel()
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req.WithContext(ctx))
	return rec
}

func localRequest(method, target string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, target, body)
	req.RemoteAddr = "127.0.0.1:50000"
	return req
}

func TestHello(t *testing.T) {
	srv := newTestServer(t, "http://127.0.0.1:1")
	rec := serve(srv, httptest.NewRequest(http.MethodGet, "/hello", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "Hello World, from '/hello'!" {
		t.Fatalf("unexpected response %d %q", rec.Code, rec.Body.String())
	}
}

func TestProxyInjectsKeyAndStripsClientCredentials(t *testing.T) {
	var got *http.Request
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Clone(context.Background())
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"items":[]}`))
	}))
	defer upstream.Close()

	srv := newTestServer(t, upstream.URL)
	req := localRequest(http.MethodGet, "/api/v1/models?types=LORA&token=client-secret", nil)
	req.Header.Set("Authorization", "Bearer client")
	rec := serve(srv, req)

	if rec.Code != http.StatusOK || rec.Body.String() != `{"items":[]}` {
		t.Fatalf("unexpected response %d %s", rec.Code, rec.Body.String())
	}
	if got.URL.Path != "/api/v1/models" {
		t.Errorf("unexpected upstream path %s", got.URL.Path)
	}
	if got.URL.RawQuery != "types=LORA" {
		t.Errorf("expected client token stripped, got %q", got.URL.RawQuery)
	}
	if auth := got.Header.Get("Authorization"); auth != "Bearer sk-upstream" {
		t.Errorf("unexpected upstream Authorization %q", auth)
	}
}

func TestProxyPassesThroughUpstreamErrors(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"No model with id 1"}`))
	}))
	defer upstream.Close()

	srv := newTestServer(t, upstream.URL)
	rec := serve(srv, localRequest(http.MethodGet, "/api/v1/models/1", nil))
	if rec.Code != http.StatusNotFound || !strings.Contains(rec.Body.String(), "No model with id 1") {
		t.Fatalf("unexpected response %d %s", rec.Code, rec.Body.String())
	}
}

func TestProxyUpstreamUnreachable(t *testing.T) {
	upstream := httptest.NewServer(http.NotFoundHandler())
	url := upstream.URL
	upstream.Close()

	srv := newTestServer(t, url)
	rec := serve(srv, localRequest(http.MethodGet, "/api/v1/models", nil))
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "upstream_proxy_error") {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
}

func TestProxyRepairsUnlabelledGzip(t *testing.T) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, _ = zw.Write([]byte(`{"ok":true}`))
	_ = zw.Close()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(buf.Bytes())
	}))
	defer upstream.Close()

	srv := newTestServer(t, upstream.URL)
	rec := serve(srv, localRequest(http.MethodGet, "/api/v1/models", nil))
	if rec.Body.String() != `{"ok":true}` {
		t.Fatalf("expected decompressed body, got %q", rec.Body.String())
	}
}

func TestProxyRewritesDownloadURLs(t *testing.T) {
	var upstreamHost string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":5,"downloadUrl":"http://` + upstreamHost + `/api/download/models/5","files":[{"downloadUrl":"http://` + upstreamHost + `/api/download/models/5?type=Model"}]}`))
	}))
	defer upstream.Close()
	upstreamHost = strings.TrimPrefix(upstream.URL, "http://")

	srv := newTestServer(t, upstream.URL)
	srv.UpdateConfig(&config.Config{UpstreamURL: upstream.URL, RewriteDownloadURLs: true})

	req := localRequest(http.MethodGet, "/api/v1/model-versions/5", nil)
	req.Host = "127.0.0.1:8317"
	rec := serve(srv, req)

	var body struct {
		DownloadURL string `json:"downloadUrl"`
		Files       []struct {
			DownloadURL string `json:"downloadUrl"`
		} `json:"files"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v (%s)", err, rec.Body.String())
	}
	if body.DownloadURL != "http://127.0.0.1:8317/api/download/models/5" {
		t.Errorf("unexpected downloadUrl %q", body.DownloadURL)
	}
	if len(body.Files) != 1 || body.Files[0].DownloadURL != "http://127.0.0.1:8317/api/download/models/5?type=Model" {
		t.Errorf("unexpected file urls %+v", body.Files)
	}
}

func TestManagementIsLocalOnly(t *testing.T) {
	srv := newTestServer(t, "http://127.0.0.1:1")

	remote := httptest.NewRequest(http.MethodGet, "/v0/management/config", nil)
	remote.Header.Set("X-Forwarded-For", "127.0.0.1")
	if rec := serve(srv, remote); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for remote client, got %d", rec.Code)
	}

	rec := serve(srv, localRequest(http.MethodGet, "/v0/management/config", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "sk-config-key-1234") {
		t.Error("api key leaked from management config")
	}
	if !strings.Contains(rec.Body.String(), `"api-key":"sk-c...1234"`) {
		t.Errorf("expected masked key, got %s", rec.Body.String())
	}
}

func TestGalleryRoutesRefuseRemoteClients(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"items":[]}`))
	}))
	defer upstream.Close()
	srv := newTestServer(t, upstream.URL)

	remote := []*http.Request{
		httptest.NewRequest(http.MethodGet, "/api/v1/models", nil),
		httptest.NewRequest(http.MethodGet, "/thumbnails/12", nil),
		httptest.NewRequest(http.MethodPost, "/v0/loaders/lora", strings.NewReader(`{"model_version_id":"12","strength_model":0,"strength_clip":0}`)),
	}
	for _, req := range remote {
		if rec := serve(srv, req); rec.Code != http.StatusForbidden {
			t.Errorf("%s %s: expected 403 for remote client, got %d", req.Method, req.URL.Path, rec.Code)
		}
	}

	if rec := serve(srv, httptest.NewRequest(http.MethodGet, "/hello", nil)); rec.Code != http.StatusOK {
		t.Errorf("hello should stay public, got %d", rec.Code)
	}

	open := *srv.Config()
	open.AllowRemote = true
	srv.UpdateConfig(&open)
	if rec := serve(srv, httptest.NewRequest(http.MethodGet, "/api/v1/models", nil)); rec.Code != http.StatusOK {
		t.Errorf("expected remote proxy access with allow-remote, got %d", rec.Code)
	}
	rec := serve(srv, httptest.NewRequest(http.MethodPost, "/v0/loaders/lora", strings.NewReader(`{"model_version_id":"12","strength_model":0,"strength_clip":0}`)))
	if rec.Code != http.StatusOK {
		t.Errorf("expected remote loader access with allow-remote, got %d %s", rec.Code, rec.Body.String())
	}
	if rec = serve(srv, httptest.NewRequest(http.MethodGet, "/v0/management/config", nil)); rec.Code != http.StatusForbidden {
		t.Errorf("management must stay local with allow-remote, got %d", rec.Code)
	}
}

func TestManagementLogs(t *testing.T) {
	hook := logging.NewMemoryHook(10)
	srv := newTestServer(t, "http://127.0.0.1:1", WithLogHook(hook))
	for _, msg := range []string{"first", "second", "third"} {
		_ = hook.Fire(&log.Entry{Logger: log.StandardLogger(), Time: time.Now(), Level: log.InfoLevel, Message: msg, Data: log.Fields{}})
	}

	rec := serve(srv, localRequest(http.MethodGet, "/v0/management/logs?after=1&limit=1", nil))
	var resp struct {
		Lines  []logging.LogLine `json:"lines"`
		Latest uint64            `json:"latest"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Lines) != 1 || resp.Latest != 3 || !strings.HasSuffix(resp.Lines[0].Text, "third") {
		t.Fatalf("unexpected logs response %+v", resp)
	}
}

func TestManagementLogStream(t *testing.T) {
	hook := logging.NewMemoryHook(10)
	srv := newTestServer(t, "http://127.0.0.1:1", WithLogHook(hook))
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/v0/management/logs/stream", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() { _ = conn.Close() }()

	// The subscription starts after the upgrade, so keep emitting until a line arrives.
	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				_ = hook.Fire(&log.Entry{Logger: log.StandardLogger(), Time: time.Now(), Level: log.InfoLevel, Message: "streamed", Data: log.Fields{}})
			}
		}
	}()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, msg, errRead := conn.ReadMessage()
		if errRead != nil {
			break
		}
		if strings.HasSuffix(string(msg), "streamed") {
			return
		}
	}
	t.Fatal("did not receive streamed line")
}

func TestLoaderEndpoint(t *testing.T) {
	srv := newTestServer(t, "http://127.0.0.1:1")

	rec := serve(srv, localRequest(http.MethodPost, "/v0/loaders/vae", strings.NewReader(`{}`)))
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown loader, got %d", rec.Code)
	}

	rec = serve(srv, localRequest(http.MethodPost, "/v0/loaders/checkpoint", strings.NewReader(`{}`)))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without version, got %d %s", rec.Code, rec.Body.String())
	}

	rec = serve(srv, localRequest(http.MethodPost, "/v0/loaders/lora", strings.NewReader(`{"model_version_id":"12","strength_model":0,"strength_clip":0}`)))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"skipped":true`) {
		t.Errorf("expected skipped lora, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestThumbnailEndpointRejectsBadID(t *testing.T) {
	srv := newTestServer(t, "http://127.0.0.1:1")
	rec := serve(srv, localRequest(http.MethodGet, "/thumbnails/abc", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestMultiSourceSecretPrecedence(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "secrets.json")
	if err := os.WriteFile(file, []byte(`{"apiKey":" from-file "}`), 0o600); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	t.Setenv(APIKeyEnv, "")
	s := NewMultiSourceSecret("", file, time.Minute)
	if key, err := s.Get(ctx); err != nil || key != "from-file" {
		t.Fatalf("expected file key, got %q %v", key, err)
	}

	t.Setenv(APIKeyEnv, "from-env")
	if key, _ := s.Get(ctx); key != "from-env" {
		t.Fatalf("expected env key, got %q", key)
	}

	s.UpdateExplicitKey("from-config")
	if key, _ := s.Get(ctx); key != "from-config" {
		t.Fatalf("expected config key, got %q", key)
	}
}

func TestMultiSourceSecretMissingFile(t *testing.T) {
	t.Setenv(APIKeyEnv, "")
	s := NewMultiSourceSecret("", filepath.Join(t.TempDir(), "absent.json"), time.Minute)
	if key, err := s.Get(context.Background()); err != nil || key != "" {
		t.Fatalf("expected empty key without error, got %q %v", key, err)
	}
}
