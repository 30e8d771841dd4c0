package stac

import (
	"errors"
	"fmt"
	"time"

	gostac "github.com/planetlabs/go-stac"
	"github.com/thomasteisberg/xopr/pkg/discovery"
	"github.com/thomasteisberg/xopr/pkg/geom"
)

// DefaultLicense is used when none is configured.
const DefaultLicense = "various"

// ErrNoItems means a collection was requested for zero items.
var ErrNoItems = errors.New("collection has no items")

// SegmentSummary describes one segment of a collection.
type SegmentSummary struct {
	ID           string    `json:"id"`
	Start        time.Time `json:"start_datetime"`
	End          time.Time `json:"end_datetime"`
	BBox         []float64 `json:"bbox,omitempty"`
	Items        int       `json:"items"`
	Skipped      int       `json:"skipped"`
	TrackLengthM float64   `json:"track_length_m"`
}

// CollectionInput is everything a campaign collection is derived from.
type CollectionInput struct {
	Campaign discovery.Campaign
	License  string
	// Items in acquisition order.
	Items    []*ItemRecord
	Segments []SegmentSummary
	Skipped  int
	Updated  time.Time
}

// CollectionRecord is an assembled collection plus its extension fields.
type CollectionRecord struct {
	Collection *Collection
	Extensions []string
	// Fields are top-level extension fields merged into the document.
	Fields   map[string]any
	Envelope geom.Envelope

	SciConsistent bool
	SARConsistent bool
}

// BuildCollection assembles a campaign collection. DOI, citation and SAR
// values are promoted to the collection only when every item carrying one
// agrees; the distinct values are always listed in the summaries.
func BuildCollection(in CollectionInput) (*CollectionRecord, error) {
	c := in.Campaign
	if len(in.Items) == 0 {
		return nil, fmt.Errorf("collection %s: %w", c.ID, ErrNoItems)
	}
	license := in.License
	if license == "" {
		license = DefaultLicense
	}

	envs := make([]geom.Envelope, len(in.Items))
	var dois, citations []string
	var freqs, bands []float64
	var exts [][]string
	start, end := in.Items[0].Start, in.Items[0].End
	for i, it := range in.Items {
		envs[i] = it.Envelope
		exts = append(exts, it.Extensions)
		if it.Start.Before(start) {
			start = it.Start
		}
		if it.End.After(end) {
			end = it.End
		}
		if it.DOI != "" {
			dois = append(dois, it.DOI)
		}
		if it.Citation != "" {
			citations = append(citations, it.Citation)
		}
		if it.CenterFrequency != nil {
			freqs = append(freqs, *it.CenterFrequency)
		}
		if it.Bandwidth != nil {
			bands = append(bands, *it.Bandwidth)
		}
	}
	env := geom.Union(c.Hemisphere, envs...)

	rec := &CollectionRecord{
		Envelope: env,
		Fields: map[string]any{
			"updated":           Timestamp(in.Updated),
			"opr:item_count":    len(in.Items),
			"opr:skipped_count": in.Skipped,
			"opr:segments":      in.Segments,
			"opr:hemisphere":    c.Hemisphere.String(),
		},
	}
	summaries := map[string]any{
		"opr:platform": []string{c.Platform},
		"opr:location": []string{c.Location},
	}

	doi, cite := Consolidate(dois), Consolidate(citations)
	rec.SciConsistent = doi.Consistent() && cite.Consistent()
	promote(rec.Fields, summaries, "sci:doi", doi)
	promote(rec.Fields, summaries, "sci:citation", cite)
	if len(doi.Distinct)+len(cite.Distinct) > 0 {
		rec.Fields["opr:sci_consistent"] = rec.SciConsistent
	}

	freq, band := Consolidate(freqs), Consolidate(bands)
	rec.SARConsistent = freq.Consistent() && band.Consistent()
	promote(rec.Fields, summaries, "sar:center_frequency", freq)
	promote(rec.Fields, summaries, "sar:bandwidth", band)
	if len(freq.Distinct)+len(band.Distinct) > 0 {
		rec.Fields["opr:sar_consistent"] = rec.SARConsistent
	}

	collExts := append([][]string{{ExtFile}}, exts...)
	if env.Projection != "" {
		rec.Fields["proj:code"] = env.Projection
		rec.Fields["proj:bbox"] = env.Projected.Slice()
		collExts = append(collExts, []string{ExtProjection})
	}
	rec.Extensions = SortedExtensions(collExts...)

	rec.Collection = &gostac.Collection{
		Version:     Version,
		Id:          c.ID,
		Title:       c.ID,
		Description: fmt.Sprintf("%d %s flights over %s", c.Year, c.Platform, c.Location),
		License:     license,
		Providers: []*gostac.Provider{{
			Name:  c.Provider,
			Roles: []string{"producer", "processor", "host"},
		}},
		Extent: &gostac.Extent{
			Spatial:  &gostac.SpatialExtent{Bbox: [][]float64{env.BBox()}},
			Temporal: &gostac.TemporalExtent{Interval: [][]any{{Timestamp(start), Timestamp(end)}}},
		},
		Summaries: summaries,
		Links: []*gostac.Link{{
			Rel:  "items",
			Href: "./" + c.ID + ".parquet",
			Type: MediaTypeParquet,
		}},
		Assets: map[string]*gostac.Asset{},
	}
	return rec, nil
}

func promote[T Ordered](fields, summaries map[string]any, key string, c Consolidation[T]) {
	if len(c.Distinct) == 0 {
		return
	}
	summaries[key] = c.Distinct
	if v, ok := c.Promoted(); ok {
		fields[key] = v
	}
}

// Document renders the collection as a JSON object.
func (r *CollectionRecord) Document() (map[string]any, error) {
	return Document(r.Collection, "Collection", r.Extensions, r.Fields)
}
