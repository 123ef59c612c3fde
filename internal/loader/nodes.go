package loader

import (
	"context"
	"errors"
	"strings"

	"github.com/router-for-me/CivitaiGallery/internal/civitai"
	log "github.com/sirupsen/logrus"
)

// ErrVersionRequired is returned when neither an exact nor a gallery version id is set.
var ErrVersionRequired = errors.New("loader: model version id is required")

// Request is the input of a loader node.
type Request struct {
	ExactVersionID string  `json:"exact_version_id"`
	ModelVersionID string  `json:"model_version_id"`
	StrengthModel  float64 `json:"strength_model"`
	StrengthClip   float64 `json:"strength_clip"`
}

// Result is the output of a loader node.
type Result struct {
	VersionID string `json:"version_id,omitempty"`
	Path      string `json:"path,omitempty"`
	Thumbnail string `json:"thumbnail,omitempty"`
	Skipped   bool   `json:"skipped"`
}

// Resolve returns the version to load: the exact id when set, otherwise the gallery id.
func (r Request) Resolve() (string, error) {
	if id := strings.TrimSpace(r.ExactVersionID); id != "" {
		return id, nil
	}
	if id := strings.TrimSpace(r.ModelVersionID); id != "" {
		return id, nil
	}
	return "", ErrVersionRequired
}

// LoadCheckpoint downloads a checkpoint and attaches its thumbnail.
func (l *Loader) LoadCheckpoint(ctx context.Context, req Request) (*Result, error) {
	return l.load(ctx, req, civitai.TypeCheckpoint, true)
}

// LoadLora downloads a LoRA. Both strengths at zero skip the load entirely.
func (l *Loader) LoadLora(ctx context.Context, req Request) (*Result, error) {
	if req.StrengthModel == 0 && req.StrengthClip == 0 {
		id, _ := req.Resolve()
		return &Result{VersionID: id, Skipped: true}, nil
	}
	return l.load(ctx, req, civitai.TypeLora, true)
}

// LoadControlNet downloads a ControlNet model. No thumbnail is produced.
func (l *Loader) LoadControlNet(ctx context.Context, req Request) (*Result, error) {
	return l.load(ctx, req, civitai.TypeControlNet, false)
}

// Load dispatches on kind.
func (l *Loader) Load(ctx context.Context, kind civitai.ModelType, req Request) (*Result, error) {
	switch kind {
	case civitai.TypeLora:
		return l.LoadLora(ctx, req)
	case civitai.TypeControlNet:
		return l.LoadControlNet(ctx, req)
	default:
		return l.LoadCheckpoint(ctx, req)
	}
}

func (l *Loader) load(ctx context.Context, req Request, kind civitai.ModelType, withThumbnail bool) (*Result, error) {
	id, err := req.Resolve()
	if err != nil {
		return nil, err
	}
	path, err := l.DownloadIfNotExist(ctx, id, kind)
	if err != nil {
		return nil, err
	}
	res := &Result{VersionID: id, Path: path}
	if !withThumbnail {
		return res, nil
	}
	thumb, err := l.ThumbnailDataURL(ctx, id)
	switch {
	case err == nil:
		res.Thumbnail = thumb
	case errors.Is(err, ErrNoThumbnail):
	default:
		log.WithError(err).WithField("version", id).Warn("loader: thumbnail unavailable")
	}
	return res, nil
}
