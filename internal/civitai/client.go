package civitai

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/router-for-me/CivitaiGallery/internal/buildinfo"
	"github.com/router-for-me/CivitaiGallery/internal/cache"
	"github.com/router-for-me/CivitaiGallery/internal/logging"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"golang.org/x/sync/singleflight"
)

// DefaultBaseURL is the public content API root.
const DefaultBaseURL = "https://civitai.com/api"

// MetadataStore persists raw model version payloads across restarts.
// Get reports found=false without an error on a miss.
type MetadataStore interface {
	Get(ctx context.Context, id string) (raw []byte, found bool, err error)
	Put(ctx context.Context, id string, raw []byte) error
}

// KeySource resolves the bearer key. It is consulted on every request so that a reloaded
// key applies immediately. An empty key means anonymous access.
type KeySource interface {
	Get(ctx context.Context) (string, error)
}

// StaticKey is a KeySource with a fixed key.
type StaticKey string

// Get returns the key.
func (k StaticKey) Get(context.Context) (string, error) {
	return strings.TrimSpace(string(k)), nil
}

// BearerKey resolves src, logging and ignoring lookup errors.
func BearerKey(ctx context.Context, src KeySource) string {
	if src == nil {
		return ""
	}
	key, err := src.Get(ctx)
	if err != nil {
		log.WithError(err).Warn("civitai: api key unavailable, continuing without auth")
		return ""
	}
	return strings.TrimSpace(key)
}

// Client wraps HTTP calls to the content API, either upstream or through the local proxy.
type Client struct {
	baseURL string
	keys    KeySource
	http    *http.Client
	cache   *cache.VersionCache
	store   MetadataStore
	group   singleflight.Group
}

// Option configures a Client.
type Option func(*Client)

// WithAPIKey sets a fixed bearer key. Blank keys send no Authorization header.
func WithAPIKey(key string) Option {
	return WithKeySource(StaticKey(key))
}

// WithKeySource resolves the bearer key from src on every request.
func WithKeySource(src KeySource) Option {
	return func(c *Client) { c.keys = src }
}

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithCache enables the in-memory version cache.
func WithCache(vc *cache.VersionCache) Option {
	return func(c *Client) { c.cache = vc }
}

// WithMetadataStore enables the persistent version store.
func WithMetadataStore(s MetadataStore) Option {
	return func(c *Client) { c.store = s }
}

// NewClient creates a client rooted at baseURL (for example https://civitai.com/api
// or http://127.0.0.1:8317/api). An empty baseURL selects DefaultBaseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the API root the client talks to.
func (c *Client) BaseURL() string { return c.baseURL }

// ListModels fetches the first page of /v1/models.
func (c *Client) ListModels(ctx context.Context, params ListParams) (*ModelList, error) {
	path := "/v1/models"
	if q := params.Values().Encode(); q != "" {
		path += "?" + q
	}
	data, err := c.get(ctx, path)
	if err != nil {
		return nil, err
	}
	var list ModelList
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("civitai: decode model list: %w", err)
	}
	return &list, nil
}

// GetModel fetches /v1/models/{id}.
func (c *Client) GetModel(ctx context.Context, id int64) (*Model, error) {
	if id <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidID, id)
	}
	data, err := c.get(ctx, "/v1/models/"+strconv.FormatInt(id, 10))
	if err != nil {
		return nil, err
	}
	var m Model
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("civitai: decode model %d: %w", id, err)
	}
	return &m, nil
}

// GetModelVersion fetches and decodes /v1/model-versions/{id}.
func (c *Client) GetModelVersion(ctx context.Context, id string) (*ModelVersion, error) {
	raw, err := c.GetModelVersionRaw(ctx, id)
	if err != nil {
		return nil, err
	}
	var v ModelVersion
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("civitai: decode model version %s: %w", id, err)
	}
	return &v, nil
}

// GetModelVersionRaw returns the raw payload of /v1/model-versions/{id}, consulting
// the memory cache and the metadata store first. Concurrent calls for one id share a fetch.
func (c *Client) GetModelVersionRaw(ctx context.Context, id string) ([]byte, error) {
	id, err := normalizeID(id)
	if err != nil {
		return nil, err
	}
	if raw, ok := c.cache.Get(id); ok {
		return raw, nil
	}

	v, err, _ := c.group.Do(id, func() (interface{}, error) {
		if c.store != nil {
			raw, found, errGet := c.store.Get(ctx, id)
			if errGet != nil {
				log.WithError(errGet).WithField("version", id).Warn("civitai: metadata store lookup failed")
			} else if found {
				c.cache.Put(id, raw)
				return raw, nil
			}
		}

		raw, errFetch := c.get(ctx, "/v1/model-versions/"+id)
		if errFetch != nil {
			return nil, errFetch
		}
		log.WithFields(log.Fields{"version": id, "type": ModelTypeOf(raw)}).Debug("civitai: fetched model version")
		c.cache.Put(id, raw)
		if c.store != nil {
			if errPut := c.store.Put(ctx, id, raw); errPut != nil {
				log.WithError(errPut).WithField("version", id).Warn("civitai: metadata store write failed")
			}
		}
		return raw, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// ModelTypeOf reads model.type from a raw version payload without a full decode.
func ModelTypeOf(raw []byte) ModelType {
	return ModelType(gjson.GetBytes(raw, "model.type").String())
}

func normalizeID(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidID)
	}
	if _, err := strconv.ParseInt(id, 10, 64); err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return id, nil
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Encoding", acceptEncoding)
	req.Header.Set("User-Agent", buildinfo.UserAgent())
	if key := BearerKey(ctx, c.keys); key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	if reqID := logging.GetRequestID(ctx); reqID != "" {
		req.Header.Set(logging.RequestIDHeader, reqID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("civitai: GET %s: %w", redactPath(path), err)
	}
	defer func() {
		if errClose := resp.Body.Close(); errClose != nil {
			log.WithError(errClose).Debug("civitai: failed to close response body")
		}
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("civitai: read %s: %w", redactPath(path), err)
	}
	body, err = decodeBody(resp.Header.Get("Content-Encoding"), body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, newAPIError(resp.StatusCode, redactPath(path), body)
	}
	return body, nil
}

// redactPath strips the query for error messages.
func redactPath(path string) string {
	u, err := url.Parse(path)
	if err != nil {
		return path
	}
	return u.Path
}
