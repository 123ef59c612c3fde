package loader

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/router-for-me/CivitaiGallery/internal/civitai"
	"golang.org/x/image/draw"
)

// ErrNoThumbnail is returned for versions without preview images.
var ErrNoThumbnail = errors.New("loader: version has no preview image")

// ThumbnailMaxSide bounds the longest side of an encoded thumbnail.
const ThumbnailMaxSide = 256

// ThumbnailPath returns <cache-dir>/thumbnails/<id>.png, downloading the first preview
// image of the version when it is not cached yet.
func (l *Loader) ThumbnailPath(ctx context.Context, versionID string) (string, error) {
	versionID = strings.TrimSpace(versionID)
	if _, err := strconv.ParseInt(versionID, 10, 64); err != nil {
		return "", fmt.Errorf("%w: %q", civitai.ErrInvalidID, versionID)
	}
	dir := filepath.Join(l.cacheDir, "thumbnails")
	name := versionID + ".png"
	target := filepath.Join(dir, name)
	if info, err := os.Stat(target); err == nil && info.Mode().IsRegular() {
		return target, nil
	}

	v, err, _ := l.group.Do("thumbnail/"+versionID, func() (interface{}, error) {
		version, errGet := l.source.GetModelVersion(ctx, versionID)
		if errGet != nil {
			return "", errGet
		}
		imageURL := version.FirstImageURL()
		if imageURL == "" {
			return "", ErrNoThumbnail
		}
		return l.downloadFile(ctx, imageURL, DownloadParams{}, dir, name, nil)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// ThumbnailPNG returns the cached preview scaled to at most ThumbnailMaxSide, re-encoded as PNG.
func (l *Loader) ThumbnailPNG(ctx context.Context, versionID string) ([]byte, error) {
	path, err := l.ThumbnailPath(ctx, versionID)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("loader: open thumbnail: %w", err)
	}
	defer func() { _ = f.Close() }()

	src, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("loader: decode thumbnail %s: %w", filepath.Base(path), err)
	}
	var buf bytes.Buffer
	if err = png.Encode(&buf, scaleToFit(src, ThumbnailMaxSide)); err != nil {
		return nil, fmt.Errorf("loader: encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}

// ThumbnailDataURL returns the thumbnail as a data:image/png;base64 url.
func (l *Loader) ThumbnailDataURL(ctx context.Context, versionID string) (string, error) {
	data, err := l.ThumbnailPNG(ctx, versionID)
	if err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(data), nil
}

// scaleToFit shrinks src so that neither side exceeds maxSide, keeping the aspect ratio.
// Images already small enough are copied into RGBA unchanged.
func scaleToFit(src image.Image, maxSide int) *image.RGBA {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= maxSide && h <= maxSide {
		dst := image.NewRGBA(image.Rect(0, 0, w, h))
		draw.Draw(dst, dst.Rect, src, b.Min, draw.Src)
		return dst
	}

	dw, dh := maxSide, max(1, h*maxSide/w)
	if h > w {
		dw, dh = max(1, w*maxSide/h), maxSide
	}
	dst := image.NewRGBA(image.Rect(0, 0, dw, dh))
	draw.CatmullRom.Scale(dst, dst.Rect, src, b, draw.Src, nil)
	return dst
}
