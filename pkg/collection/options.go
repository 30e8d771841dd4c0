package collection

import (
	"fmt"
	"runtime"
	"time"

	"github.com/thomasteisberg/xopr/pkg/discovery"
	"github.com/thomasteisberg/xopr/pkg/stac"
)

// Options controls how campaigns are built.
type Options struct {
	// OutputDir receives one <campaign>.parquet per campaign.
	OutputDir string

	Products discovery.Products
	Segments discovery.SegmentFilter

	// MaxItems caps the granules extracted per campaign, in segment and
	// frame order. 0 means no cap.
	MaxItems int

	// SkipRatio is the largest fraction of a segment's granules that may be
	// skipped before the campaign fails. Default: 0.5
	SkipRatio float64

	// NWorkers is the number of campaigns built concurrently.
	// Default: 2 * runtime.NumCPU()
	NWorkers int

	// SegmentWorkers is the number of segments extracted concurrently
	// within one campaign. Default: 1
	SegmentWorkers int

	// SimplifyTolerance in metres for item geometry. Default: 100
	SimplifyTolerance float64

	BaseURL  string
	License  string
	Provider string

	// Clock stamps the collection's updated field. Default: time.Now
	Clock func() time.Time
}

// DefaultOptions returns sensible default build options.
func DefaultOptions(outputDir string) Options {
	return Options{
		OutputDir:         outputDir,
		Products:          discovery.Products{Primary: discovery.DefaultPrimaryProduct},
		SkipRatio:         0.5,
		NWorkers:          2 * runtime.NumCPU(),
		SegmentWorkers:    1,
		SimplifyTolerance: 100,
		BaseURL:           stac.DefaultBaseURL,
		License:           stac.DefaultLicense,
		Provider:          discovery.DefaultProvider,
		Clock:             time.Now,
	}
}

// Validate sets defaults for zero values and rejects out-of-range settings.
// SkipRatio is taken as given: zero means no granule may be skipped.
func (o *Options) Validate() error {
	if o.OutputDir == "" {
		return fmt.Errorf("OutputDir is required")
	}
	d := DefaultOptions(o.OutputDir)
	if o.Products.Primary == "" {
		o.Products.Primary = d.Products.Primary
	}
	if o.NWorkers <= 0 {
		o.NWorkers = d.NWorkers
	}
	if o.SegmentWorkers <= 0 {
		o.SegmentWorkers = d.SegmentWorkers
	}
	if o.BaseURL == "" {
		o.BaseURL = d.BaseURL
	}
	if o.License == "" {
		o.License = d.License
	}
	if o.Provider == "" {
		o.Provider = d.Provider
	}
	if o.Clock == nil {
		o.Clock = d.Clock
	}
	if o.MaxItems < 0 {
		return fmt.Errorf("MaxItems must be non-negative, got %d", o.MaxItems)
	}
	if o.SkipRatio < 0 || o.SkipRatio > 1 {
		return fmt.Errorf("SkipRatio must be in [0,1], got %g", o.SkipRatio)
	}
	if o.SimplifyTolerance < 0 {
		return fmt.Errorf("SimplifyTolerance must be non-negative, got %g", o.SimplifyTolerance)
	}
	if err := o.Segments.Validate(); err != nil {
		return err
	}
	return nil
}

// WithNWorkers sets the campaign pool size.
func (o Options) WithNWorkers(n int) Options {
	o.NWorkers = n
	return o
}

// WithSegmentWorkers sets the per-campaign segment concurrency.
func (o Options) WithSegmentWorkers(n int) Options {
	o.SegmentWorkers = n
	return o
}

// WithMaxItems sets the per-campaign granule cap.
func (o Options) WithMaxItems(n int) Options {
	o.MaxItems = n
	return o
}

// WithSkipRatio sets the per-segment skip tolerance.
func (o Options) WithSkipRatio(r float64) Options {
	o.SkipRatio = r
	return o
}

// WithClock sets the clock used for the updated timestamp.
func (o Options) WithClock(clock func() time.Time) Options {
	o.Clock = clock
	return o
}
