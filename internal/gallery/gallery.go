// Package gallery holds the state of one model gallery widget: a carousel of model
// versions, the filters used to fill it and the version id bound to the loader input.
package gallery

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/router-for-me/CivitaiGallery/internal/carousel"
	"github.com/router-for-me/CivitaiGallery/internal/civitai"
	log "github.com/sirupsen/logrus"
)

var (
	// ErrNilValue is returned when a nil value is bound.
	ErrNilValue = errors.New("gallery: value cannot be nil")
	// ErrRemoved is returned by every call on a removed gallery.
	ErrRemoved = errors.New("gallery: removed")
)

// HeaderHeight is the filter row height used by ComputeSize.
const HeaderHeight = 30

// BaseModelOptions are the base model filter values. "" disables the filter.
var BaseModelOptions = []string{"", "SD 1.5", "SDXL 1.0"}

// PeriodOptions are the period filter values; the first is the default.
var PeriodOptions = []string{civitai.PeriodMonth, civitai.PeriodAllTime, civitai.PeriodYear, civitai.PeriodWeek, civitai.PeriodDay}

// Source supplies listings and single versions.
type Source interface {
	ListModels(ctx context.Context, params civitai.ListParams) (*civitai.ModelList, error)
	GetModelVersion(ctx context.Context, id string) (*civitai.ModelVersion, error)
}

// Filters are the active listing filters.
type Filters struct {
	BaseModel string
	Period    string
}

// Gallery is one widget instance. It is safe for concurrent use; network calls run
// without holding the lock.
type Gallery struct {
	mu         sync.Mutex
	id         string
	kind       civitai.ModelType
	source     Source
	items      *carousel.Carousel[civitai.ModelVersion]
	value      string
	exact      string
	baseModels []string
	periods    []string
	baseIdx    int
	periodIdx  int
	pageSize   int
	removed    bool
}

// Option configures a Gallery.
type Option func(*Gallery)

// WithValue sets the initially bound version id.
func WithValue(v string) Option {
	return func(g *Gallery) { g.value = v }
}

// WithFilterOptions replaces the filter lists. Empty lists keep the defaults.
func WithFilterOptions(baseModels, periods []string) Option {
	return func(g *Gallery) {
		if len(baseModels) > 0 {
			g.baseModels = append([]string(nil), baseModels...)
		}
		if len(periods) > 0 {
			g.periods = append([]string(nil), periods...)
		}
	}
}

// WithPageSize sets the listing limit. <= 0 leaves it to the upstream.
func WithPageSize(n int) Option {
	return func(g *Gallery) { g.pageSize = n }
}

// New creates an empty gallery of the given model type.
func New(kind civitai.ModelType, source Source, opts ...Option) *Gallery {
	g := &Gallery{
		id:         uuid.NewString(),
		kind:       kind,
		source:     source,
		items:      carousel.New[civitai.ModelVersion](),
		baseModels: append([]string(nil), BaseModelOptions...),
		periods:    append([]string(nil), PeriodOptions...),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// ID returns the gallery's unique id.
func (g *Gallery) ID() string { return g.id }

// Kind returns the model type listed by the gallery.
func (g *Gallery) Kind() civitai.ModelType { return g.kind }

// Filters returns the active filters.
func (g *Gallery) Filters() Filters {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.filtersLocked()
}

func (g *Gallery) filtersLocked() Filters {
	return Filters{BaseModel: g.baseModels[g.baseIdx], Period: g.periods[g.periodIdx]}
}

// CycleBaseModel selects the next base model filter. Call Refresh(ctx, true) afterwards.
func (g *Gallery) CycleBaseModel() Filters {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.baseIdx = (g.baseIdx + 1) % len(g.baseModels)
	return g.filtersLocked()
}

// CyclePeriod selects the next period filter. Call Refresh(ctx, true) afterwards.
func (g *Gallery) CyclePeriod() Filters {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.periodIdx = (g.periodIdx + 1) % len(g.periods)
	return g.filtersLocked()
}

// Value returns the exact-version override when set, otherwise the bound value.
func (g *Gallery) Value() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.valueLocked()
}

func (g *Gallery) valueLocked() string {
	if g.exact != "" {
		return g.exact
	}
	return g.value
}

// BoundValue returns the bound value, ignoring the override.
func (g *Gallery) BoundValue() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.value
}

// SetValue binds a version id. The empty string is allowed.
func (g *Gallery) SetValue(v string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.removed {
		return ErrRemoved
	}
	g.value = v
	return nil
}

// SetValuePtr binds *v and rejects nil.
func (g *Gallery) SetValuePtr(v *string) error {
	if v == nil {
		return ErrNilValue
	}
	return g.SetValue(*v)
}

// SetExactVersion sets the override that Value prefers. "" clears it.
func (g *Gallery) SetExactVersion(v string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.removed {
		return ErrRemoved
	}
	g.exact = v
	return nil
}

// ExactVersion returns the override.
func (g *Gallery) ExactVersion() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.exact
}

// Refresh fills the carousel: the current value's version first, then the primary
// version of each model on the first listing page. force clears the carousel first.
// A failed lookup of the current version is logged and skipped; a failed listing is returned.
func (g *Gallery) Refresh(ctx context.Context, force bool) error {
	g.mu.Lock()
	if g.removed {
		g.mu.Unlock()
		return ErrRemoved
	}
	if force {
		g.items.Clear()
	}
	value := g.valueLocked()
	filters := g.filtersLocked()
	g.mu.Unlock()

	var fetched []civitai.ModelVersion
	if value != "" {
		if v, err := g.source.GetModelVersion(ctx, value); err != nil {
			g.logger().WithError(err).WithField("version", value).Warn("gallery: failed to fetch current version")
		} else {
			fetched = append(fetched, *v)
		}
	}

	params := civitai.ListParams{Types: []civitai.ModelType{g.kind}, Period: filters.Period, Limit: g.pageSize}
	if filters.BaseModel != "" {
		params.BaseModels = []string{filters.BaseModel}
	}
	list, err := g.source.ListModels(ctx, params)
	if err != nil {
		_ = g.addAll(fetched)
		return err
	}
	fetched = append(fetched, civitai.PrimaryVersions(list)...)
	return g.addAll(fetched)
}

func (g *Gallery) addAll(versions []civitai.ModelVersion) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.removed {
		return ErrRemoved
	}
	for _, v := range versions {
		g.items.Add(v)
	}
	return nil
}

// Sync makes the carousel show the bound value. An empty carousel reports
// carousel.ErrEmptyCollection. A value missing from the carousel is fetched and appended
// first; when it cannot be fetched the error from SkipTo is returned. An empty value leaves
// the cursor where it is.
func (g *Gallery) Sync(ctx context.Context) (civitai.ModelVersion, error) {
	g.mu.Lock()
	if g.removed {
		g.mu.Unlock()
		return civitai.ModelVersion{}, ErrRemoved
	}
	if g.items.IsEmpty() {
		g.mu.Unlock()
		return civitai.ModelVersion{}, carousel.ErrEmptyCollection
	}
	value := g.valueLocked()
	missing := value != "" && !g.items.Has(value)
	g.mu.Unlock()

	if missing {
		if v, err := g.source.GetModelVersion(ctx, value); err != nil {
			g.logger().WithError(err).WithField("version", value).Warn("gallery: failed to fetch bound version")
		} else if errAdd := g.addAll([]civitai.ModelVersion{*v}); errAdd != nil {
			return civitai.ModelVersion{}, errAdd
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.removed {
		return civitai.ModelVersion{}, ErrRemoved
	}
	if value == "" {
		return g.items.Current()
	}
	return g.items.SkipTo(value)
}

// Advance binds the item after the current one and syncs to it. With an empty
// carousel the bound value is unchanged.
func (g *Gallery) Advance(ctx context.Context) (civitai.ModelVersion, error) {
	g.mu.Lock()
	if g.removed {
		g.mu.Unlock()
		return civitai.ModelVersion{}, ErrRemoved
	}
	if next, err := g.items.Peek(); err == nil && next.ID != 0 {
		g.value = next.Key()
	}
	g.mu.Unlock()
	return g.Sync(ctx)
}

// Current returns the version under the cursor.
func (g *Gallery) Current() (civitai.ModelVersion, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.removed {
		return civitai.ModelVersion{}, ErrRemoved
	}
	return g.items.Current()
}

// Len returns the number of versions in the carousel.
func (g *Gallery) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.items.Len()
}

// Position returns the cursor index and the carousel size.
func (g *Gallery) Position() (int, int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.items.Cursor(), g.items.Len()
}

// ComputeSize returns the widget size for a given width: the filter header plus a
// 2:3 preview image.
func ComputeSize(width float64) (float64, float64) {
	return width, HeaderHeight + width*3/2
}

// Remove drops the carousel and marks the gallery removed.
func (g *Gallery) Remove() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.items.Clear()
	g.removed = true
}

func (g *Gallery) logger() *log.Entry {
	return log.WithFields(log.Fields{"gallery": g.id[:8], "type": g.kind})
}
