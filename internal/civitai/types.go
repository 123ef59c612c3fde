// Package civitai is a small client for the Civitai content API: model listings,
// single models and model versions.
package civitai

import (
	"strconv"
	"strings"
)

// ModelType is the Civitai model category used in listings and type checks.
type ModelType string

const (
	TypeCheckpoint ModelType = "Checkpoint"
	TypeLora       ModelType = "LORA"
	TypeControlNet ModelType = "Controlnet"
)

// ParseModelType maps loose user input (route segments, CLI flags) to a ModelType.
func ParseModelType(s string) (ModelType, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "checkpoint", "checkpoints":
		return TypeCheckpoint, true
	case "lora", "loras":
		return TypeLora, true
	case "controlnet", "controlnets":
		return TypeControlNet, true
	default:
		return "", false
	}
}

// Listing periods accepted by the models endpoint.
const (
	PeriodAllTime = "AllTime"
	PeriodYear    = "Year"
	PeriodMonth   = "Month"
	PeriodWeek    = "Week"
	PeriodDay     = "Day"
)

// Model is one entry of /v1/models or the body of /v1/models/{id}.
type Model struct {
	ID            int64          `json:"id"`
	Name          string         `json:"name"`
	Type          ModelType      `json:"type"`
	Description   string         `json:"description"`
	ModelVersions []ModelVersion `json:"modelVersions"`
}

// ModelRef is the abbreviated parent model embedded in a version payload.
type ModelRef struct {
	Name string    `json:"name"`
	Type ModelType `json:"type"`
}

// ModelVersion is the body of /v1/model-versions/{id}. Versions nested in a
// model listing carry no ModelRef.
type ModelVersion struct {
	ID          int64     `json:"id"`
	ModelID     int64     `json:"modelId"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	BaseModel   string    `json:"baseModel"`
	DownloadURL string    `json:"downloadUrl"`
	Images      []Image   `json:"images"`
	Files       []File    `json:"files"`
	Model       *ModelRef `json:"model,omitempty"`
}

// Key returns the decimal version id.
func (v ModelVersion) Key() string {
	return strconv.FormatInt(v.ID, 10)
}

// FirstImageURL returns the preview image url, or "".
func (v ModelVersion) FirstImageURL() string {
	if len(v.Images) == 0 {
		return ""
	}
	return v.Images[0].URL
}

// Image is a preview image of a version.
type Image struct {
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// File is one downloadable artifact of a version.
type File struct {
	Name        string       `json:"name"`
	SizeKB      float64      `json:"sizeKB"`
	Primary     bool         `json:"primary"`
	DownloadURL string       `json:"downloadUrl"`
	Metadata    FileMetadata `json:"metadata"`
}

// FileMetadata describes the precision, pruning and container of a file.
type FileMetadata struct {
	FP     string `json:"fp"`
	Size   string `json:"size"`
	Format string `json:"format"`
}

// ModelList is the body of /v1/models.
type ModelList struct {
	Items    []Model      `json:"items"`
	Metadata PageMetadata `json:"metadata"`
}

// PageMetadata is the paging block of a listing.
type PageMetadata struct {
	TotalItems  int    `json:"totalItems"`
	CurrentPage int    `json:"currentPage"`
	PageSize    int    `json:"pageSize"`
	TotalPages  int    `json:"totalPages"`
	NextPage    string `json:"nextPage"`
}

// PrimaryVersions returns the first version of each listed model, skipping
// models without versions.
func PrimaryVersions(list *ModelList) []ModelVersion {
	if list == nil {
		return nil
	}
	out := make([]ModelVersion, 0, len(list.Items))
	for _, m := range list.Items {
		if len(m.ModelVersions) == 0 {
			continue
		}
		v := m.ModelVersions[0]
		if v.ModelID == 0 {
			v.ModelID = m.ID
		}
		if v.Model == nil {
			v.Model = &ModelRef{Name: m.Name, Type: m.Type}
		}
		out = append(out, v)
	}
	return out
}
