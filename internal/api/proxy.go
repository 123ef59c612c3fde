package api

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/CivitaiGallery/internal/logging"
	"github.com/router-for-me/CivitaiGallery/internal/util"
	log "github.com/sirupsen/logrus"
)

// credentialQueryKeys are client supplied credentials never forwarded upstream.
var credentialQueryKeys = []string{"token", "key", "api_key", "auth_token"}

// errorBodyPrefix is how much of a failed upstream body is logged.
const errorBodyPrefix = 100

// readCloser wraps a reader and forwards Close to a separate closer.
type readCloser struct {
	r io.Reader
	c io.Closer
}

func (rc *readCloser) Read(p []byte) (int, error) { return rc.r.Read(p) }
func (rc *readCloser) Close() error               { return rc.c.Close() }

// upstreamProxy forwards /api/* to <upstream>/api/*.
type upstreamProxy struct {
	proxy        *httputil.ReverseProxy
	upstreamHost string
	rewrite      atomic.Bool
}

// newUpstreamProxy creates the reverse proxy. The client's credentials are dropped and the
// key from secretSource injected. Upstream responses are repaired when gzip arrives without a
// Content-Encoding header, failed responses are logged and, when rewrite is enabled,
// download links in JSON bodies are pointed back at this server.
func newUpstreamProxy(upstreamURL string, secretSource SecretSource, rewrite bool) (*upstreamProxy, error) {
	parsed, err := url.Parse(strings.TrimRight(upstreamURL, "/"))
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid upstream url %q", upstreamURL)
	}

	p := &upstreamProxy{upstreamHost: parsed.Host}
	p.rewrite.Store(rewrite)

	proxy := httputil.NewSingleHostReverseProxy(parsed)
	originalDirector := proxy.Director
	proxy.Director = func(req *http.Request) {
		originalDirector(req)
		req.Host = parsed.Host

		req.Header.Del("Authorization")
		req.Header.Del("Cookie")
		req.Header.Del("X-Api-Key")
		stripCredentialQuery(req)

		if p.rewrite.Load() {
			// Let the transport negotiate gzip and decode it, so bodies can be rewritten.
			req.Header.Del("Accept-Encoding")
		}

		if key, errKey := secretSource.Get(req.Context()); errKey == nil && key != "" {
			req.Header.Set("Authorization", "Bearer "+key)
			log.Debugf("civitai proxy: %s %s authorization: %s", req.Method, req.URL.Path, util.MaskAuthorizationHeader(req.Header.Get("Authorization")))
		} else if errKey != nil {
			log.Warnf("civitai secret source error (continuing without auth): %v", errKey)
		}
	}
	proxy.ModifyResponse = p.modifyResponse
	proxy.ErrorHandler = func(rw http.ResponseWriter, req *http.Request, err error) {
		log.WithField("request_id", logging.GetRequestID(req.Context())).
			Errorf("civitai upstream proxy error for %s %s: %v", req.Method, req.URL.Path, err)
		rw.Header().Set("Content-Type", "application/json")
		rw.WriteHeader(http.StatusBadGateway)
		_, _ = rw.Write([]byte(`{"error":"upstream_proxy_error","message":"Failed to reach Civitai upstream"}`))
	}
	p.proxy = proxy
	return p, nil
}

// SetRewrite toggles download link rewriting.
func (p *upstreamProxy) SetRewrite(enabled bool) {
	p.rewrite.Store(enabled)
}

func (p *upstreamProxy) modifyResponse(resp *http.Response) error {
	if resp.StatusCode != http.StatusOK {
		logUpstreamFailure(resp)
		return nil
	}
	if isStreamingResponse(resp) {
		return nil
	}
	if resp.Header.Get("Content-Encoding") == "" {
		repairUnlabelledGzip(resp)
	}
	if p.rewrite.Load() && isJSONResponse(resp) && resp.Header.Get("Content-Encoding") == "" {
		p.rewriteBody(resp)
	}
	return nil
}

// logUpstreamFailure logs the status and a short body prefix, then restores the body.
func logUpstreamFailure(resp *http.Response) {
	original := resp.Body
	prefix := make([]byte, errorBodyPrefix)
	n, _ := io.ReadFull(original, prefix)
	resp.Body = &readCloser{r: io.MultiReader(bytes.NewReader(prefix[:n]), original), c: original}

	path := ""
	entry := log.NewEntry(log.StandardLogger())
	if resp.Request != nil {
		path = resp.Request.URL.Path
		if q := util.MaskSensitiveQuery(resp.Request.URL.RawQuery); q != "" {
			path += "?" + q
		}
		entry = entry.WithField("request_id", logging.GetRequestID(resp.Request.Context()))
	}
	entry.WithField("status", resp.StatusCode).
		Warnf("civitai upstream: %s for GET %s: %q...", resp.Status, path, prefix[:n])
}

// repairUnlabelledGzip decompresses a gzip body whose Content-Encoding header is missing.
func repairUnlabelledGzip(resp *http.Response) {
	originalBody := resp.Body
	header := make([]byte, 2)
	n, _ := io.ReadFull(originalBody, header)

	if n < 2 || header[0] != 0x1f || header[1] != 0x8b {
		resp.Body = &readCloser{r: io.MultiReader(bytes.NewReader(header[:n]), originalBody), c: originalBody}
		return
	}

	rest, err := io.ReadAll(originalBody)
	if err != nil {
		resp.Body = &readCloser{r: io.MultiReader(bytes.NewReader(header[:n]), originalBody), c: originalBody}
		return
	}
	_ = originalBody.Close()
	gzippedData := append(header[:n], rest...)

	gzipReader, err := gzip.NewReader(bytes.NewReader(gzippedData))
	if err != nil {
		log.Warnf("civitai proxy: gzip header detected but decompress failed: %v", err)
		resp.Body = io.NopCloser(bytes.NewReader(gzippedData))
		return
	}
	decompressed, err := io.ReadAll(gzipReader)
	_ = gzipReader.Close()
	if err != nil {
		log.Warnf("civitai proxy: gzip decompress error: %v", err)
		resp.Body = io.NopCloser(bytes.NewReader(gzippedData))
		return
	}

	setBody(resp, decompressed)
	log.Debugf("civitai proxy: decompressed gzip response (%d -> %d bytes)", len(gzippedData), len(decompressed))
}

func (p *upstreamProxy) rewriteBody(resp *http.Response) {
	if resp.Request == nil {
		return
	}
	localBase := localBaseFromRequest(resp.Request)
	if localBase == "" {
		return
	}
	data, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		log.Warnf("civitai proxy: read body for rewrite: %v", err)
		setBody(resp, data)
		return
	}
	setBody(resp, rewriteDownloadURLs(data, p.upstreamHost, localBase))
}

func setBody(resp *http.Response, data []byte) {
	resp.Body = io.NopCloser(bytes.NewReader(data))
	resp.ContentLength = int64(len(data))
	resp.Header.Del("Content-Encoding")
	resp.Header.Set("Content-Length", strconv.FormatInt(resp.ContentLength, 10))
}

// localBaseKey carries this server's own base url from the incoming request to ModifyResponse.
type localBaseKey struct{}

func localBaseFromRequest(req *http.Request) string {
	base, _ := req.Context().Value(localBaseKey{}).(string)
	return base
}

func stripCredentialQuery(req *http.Request) {
	if req.URL == nil || req.URL.RawQuery == "" {
		return
	}
	q := req.URL.Query()
	changed := false
	for _, key := range credentialQueryKeys {
		if _, ok := q[key]; ok {
			q.Del(key)
			changed = true
		}
	}
	if changed {
		req.URL.RawQuery = q.Encode()
	}
}

// isStreamingResponse reports Server-Sent Events responses.
func isStreamingResponse(resp *http.Response) bool {
	return strings.Contains(resp.Header.Get("Content-Type"), "text/event-stream")
}

func isJSONResponse(resp *http.Response) bool {
	return strings.Contains(strings.ToLower(resp.Header.Get("Content-Type")), "json")
}

// handler proxies /api/*tail, recording the local base url for link rewriting.
func (p *upstreamProxy) handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		scheme := "http"
		if c.Request.TLS != nil {
			scheme = "https"
		}
		ctx := context.WithValue(c.Request.Context(), localBaseKey{}, scheme+"://"+c.Request.Host)
		p.proxy.ServeHTTP(c.Writer, c.Request.WithContext(ctx))
	}
}
