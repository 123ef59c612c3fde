package loader

import (
	"net/url"

	"github.com/router-for-me/CivitaiGallery/internal/civitai"
	"github.com/router-for-me/CivitaiGallery/internal/config"
)

// DownloadParams are the fp/size/format query parameters of a download url.
// The zero value asks the upstream for its default file.
type DownloadParams struct {
	FP     string
	Size   string
	Format string
}

// IsZero reports whether no parameter is set.
func (p DownloadParams) IsZero() bool {
	return p == DownloadParams{}
}

// Values encodes the non-empty parameters.
func (p DownloadParams) Values() url.Values {
	v := url.Values{}
	if p.FP != "" {
		v.Set("fp", p.FP)
	}
	if p.Size != "" {
		v.Set("size", p.Size)
	}
	if p.Format != "" {
		v.Set("format", p.Format)
	}
	return v
}

// SelectDownloadParams picks the file variant to request. Files are scanned in order and
// the first file matching any rule wins:
//
//  1. fp, size and format all match the preference
//  2. fp and size match; format taken from the file
//  3. size and format match; fp taken from the file
//  4. size matches; fp and format taken from the file
//
// When no file matches, empty params are returned.
func SelectDownloadParams(files []civitai.File, prefs config.DownloadFormat) DownloadParams {
	for _, f := range files {
		meta := f.Metadata
		params := DownloadParams{FP: prefs.FP, Size: prefs.Size, Format: prefs.Format}
		switch {
		case meta.FP == prefs.FP && meta.Size == prefs.Size && meta.Format == prefs.Format:
			return params
		case meta.FP == prefs.FP && meta.Size == prefs.Size:
			params.Format = meta.Format
			return params
		case meta.Size == prefs.Size && meta.Format == prefs.Format:
			params.FP = meta.FP
			return params
		case meta.Size == prefs.Size:
			params.FP = meta.FP
			params.Format = meta.Format
			return params
		}
	}
	return DownloadParams{}
}
