// Package loader downloads model files and thumbnails of Civitai model versions into a
// local cache and resolves loader node requests against it.
package loader

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/router-for-me/CivitaiGallery/internal/civitai"
	"github.com/router-for-me/CivitaiGallery/internal/config"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// ErrTypeMismatch is returned when a version belongs to a model of another type.
var ErrTypeMismatch = errors.New("loader: model type mismatch")

// VersionSource resolves model version metadata.
type VersionSource interface {
	GetModelVersion(ctx context.Context, id string) (*civitai.ModelVersion, error)
}

// Mirror is an optional secondary copy of downloaded model files.
type Mirror interface {
	Fetch(ctx context.Context, versionID, dir string) (string, bool, error)
	Upload(ctx context.Context, versionID, localPath string) error
}

// Loader owns the on-disk model cache.
type Loader struct {
	cacheDir  string
	source    VersionSource
	prefs     config.DownloadFormat
	http      *http.Client
	keys      civitai.KeySource
	authHosts []string
	mirror    Mirror
	progress  ProgressFunc
	group     singleflight.Group
}

// Option configures a Loader.
type Option func(*Loader)

// WithHTTPClient sets the client used for file downloads.
func WithHTTPClient(hc *http.Client) Option {
	return func(l *Loader) {
		if hc != nil {
			l.http = hc
		}
	}
}

// WithAPIKey sends a fixed bearer key on downloads whose host matches one of hosts
// (subdomains included).
func WithAPIKey(key string, hosts ...string) Option {
	return WithKeySource(civitai.StaticKey(key), hosts...)
}

// WithKeySource is WithAPIKey with the key resolved from src on every download.
func WithKeySource(src civitai.KeySource, hosts ...string) Option {
	return func(l *Loader) {
		l.keys = src
		for _, h := range hosts {
			if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
				l.authHosts = append(l.authHosts, h)
			}
		}
	}
}

// WithMirror enables the object mirror.
func WithMirror(m Mirror) Option {
	return func(l *Loader) { l.mirror = m }
}

// WithProgress reports model download progress.
func WithProgress(fn ProgressFunc) Option {
	return func(l *Loader) { l.progress = fn }
}

// WithDownloadFormat overrides the preferred file variant.
func WithDownloadFormat(prefs config.DownloadFormat) Option {
	return func(l *Loader) { l.prefs = prefs }
}

// New creates a Loader rooted at cacheDir.
func New(cacheDir string, source VersionSource, opts ...Option) *Loader {
	l := &Loader{
		cacheDir: cacheDir,
		source:   source,
		prefs:    config.DownloadFormat{FP: "fp16", Size: "pruned", Format: "SafeTensor"},
		http:     &http.Client{},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// HostOf returns the lowercase host of rawURL, or "".
func HostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// CacheDir returns the cache root.
func (l *Loader) CacheDir() string { return l.cacheDir }

// KindDir returns the cache directory of a model type.
func (l *Loader) KindDir(kind civitai.ModelType) string {
	switch kind {
	case civitai.TypeLora:
		return filepath.Join(l.cacheDir, "loras")
	case civitai.TypeControlNet:
		return filepath.Join(l.cacheDir, "controlnets")
	default:
		return filepath.Join(l.cacheDir, "checkpoints")
	}
}

// DownloadIfNotExist returns the cached file of a version, downloading it first when the
// version directory holds no complete file. Concurrent calls for one version share a download.
func (l *Loader) DownloadIfNotExist(ctx context.Context, versionID string, kind civitai.ModelType) (string, error) {
	versionID = strings.TrimSpace(versionID)
	if _, err := strconv.ParseInt(versionID, 10, 64); err != nil {
		return "", fmt.Errorf("%w: %q", civitai.ErrInvalidID, versionID)
	}
	dir := filepath.Join(l.KindDir(kind), versionID)
	if existing := findCompleteFile(dir); existing != "" {
		return existing, nil
	}

	v, err, _ := l.group.Do(string(kind)+"/"+versionID, func() (interface{}, error) {
		if existing := findCompleteFile(dir); existing != "" {
			return existing, nil
		}
		return l.fetchModel(ctx, versionID, kind, dir)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (l *Loader) fetchModel(ctx context.Context, versionID string, kind civitai.ModelType, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("loader: create %s: %w", dir, err)
	}
	entry := log.WithFields(log.Fields{"version": versionID, "type": kind})

	if l.mirror != nil {
		path, found, errFetch := l.mirror.Fetch(ctx, versionID, dir)
		switch {
		case errFetch != nil:
			entry.WithError(errFetch).Warn("loader: object mirror fetch failed, falling back to upstream")
		case found:
			entry.WithField("path", path).Info("loader: restored model from object mirror")
			return path, nil
		}
	}

	version, err := l.source.GetModelVersion(ctx, versionID)
	if err != nil {
		return "", err
	}
	if version.Model == nil || version.Model.Type != kind {
		got := civitai.ModelType("")
		if version.Model != nil {
			got = version.Model.Type
		}
		return "", fmt.Errorf("%w: model %s is a %q model, not %q", ErrTypeMismatch, versionID, got, kind)
	}
	if version.DownloadURL == "" {
		return "", fmt.Errorf("loader: model %s has no download url", versionID)
	}

	params := SelectDownloadParams(version.Files, l.prefs)
	entry.Infof("loader: downloading model %s", version.Name)
	path, err := l.downloadFile(ctx, version.DownloadURL, params, dir, "", l.progress)
	if err != nil {
		return "", err
	}
	entry.WithField("path", path).Info("loader: model downloaded")

	if l.mirror != nil {
		if errUpload := l.mirror.Upload(ctx, versionID, path); errUpload != nil {
			entry.WithError(errUpload).Warn("loader: object mirror upload failed")
		}
	}
	return path, nil
}

// findCompleteFile returns the first regular non-.part file in dir by name, or "".
func findCompleteFile(dir string) string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() || strings.HasSuffix(e.Name(), ".part") {
			continue
		}
		names = append(names, e.Name())
	}
	if len(names) == 0 {
		return ""
	}
	sort.Strings(names)
	return filepath.Join(dir, names[0])
}
