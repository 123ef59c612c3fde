package civitai

import (
	"net/url"
	"strconv"
	"strings"
)

// ListParams filters a /v1/models listing. Empty fields are omitted from the query.
type ListParams struct {
	Types      []ModelType
	BaseModels []string
	Period     string
	Sort       string
	Query      string
	Limit      int
}

// Values encodes the params the way the models endpoint expects them.
func (p ListParams) Values() url.Values {
	v := url.Values{}
	for _, t := range p.Types {
		if s := strings.TrimSpace(string(t)); s != "" {
			v.Add("types", s)
		}
	}
	for _, b := range p.BaseModels {
		if s := strings.TrimSpace(b); s != "" {
			v.Add("baseModels", s)
		}
	}
	if s := strings.TrimSpace(p.Period); s != "" {
		v.Set("period", s)
	}
	if s := strings.TrimSpace(p.Sort); s != "" {
		v.Set("sort", s)
	}
	if s := strings.TrimSpace(p.Query); s != "" {
		v.Set("query", s)
	}
	if p.Limit > 0 {
		v.Set("limit", strconv.Itoa(p.Limit))
	}
	return v
}
