package stac

import (
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"

	gostac "github.com/planetlabs/go-stac"
	"github.com/thomasteisberg/xopr/pkg/attr"
	"github.com/thomasteisberg/xopr/pkg/geom"
	"github.com/thomasteisberg/xopr/pkg/granule"
)

// DefaultBaseURL prefixes asset hrefs when none is configured.
const DefaultBaseURL = "https://data.cresis.ku.edu/data/rds/"

// ItemConfig controls item assembly.
type ItemConfig struct {
	// BaseURL prefixes campaign-relative asset paths.
	BaseURL string
	// Primary is the product aliased as the "data" asset.
	Primary    string
	Hemisphere geom.Hemisphere
	// SimplifyTolerance in metres; zero keeps every vertex.
	SimplifyTolerance float64
}

// ItemRecord is an assembled item plus the typed values stored next to it.
type ItemRecord struct {
	Item       *Item
	Extensions []string

	// Geometry is the simplified trajectory the item carries.
	Geometry geom.Trajectory
	// Envelope bounds the full trajectory.
	Envelope    geom.Envelope
	TrackLength float64

	Datetime, Start, End time.Time
	// Date is the segment date, YYYYMMDD.
	Date    string
	Flight  int
	Segment int

	DOI, Citation              string
	CenterFrequency, Bandwidth *float64

	// Attributes is the flattened provider metadata.
	Attributes map[string]attr.Value
}

// BuildItem assembles the item for one granule.
func BuildItem(g *granule.Granule, cfg ItemConfig) (*ItemRecord, error) {
	if !g.GeometryValid() {
		return nil, fmt.Errorf("item %s: %w", g.ID, granule.ErrMissingGeometry)
	}
	date, flight, err := splitSegment(g.Segment)
	if err != nil {
		return nil, fmt.Errorf("item %s: %w", g.ID, err)
	}

	line := g.Trajectory
	if cfg.SimplifyTolerance > 0 {
		line = geom.Simplify(cfg.Hemisphere, g.Trajectory, cfg.SimplifyTolerance)
	}
	gj, err := geom.GeoJSON(line)
	if err != nil {
		return nil, fmt.Errorf("item %s: %w", g.ID, err)
	}
	env := geom.EnvelopeOf(cfg.Hemisphere, g.Trajectory)

	rec := &ItemRecord{
		Extensions:  []string{ExtFile},
		Geometry:    line,
		Envelope:    env,
		TrackLength: geom.LengthMeters(g.Trajectory),
		Datetime:    g.Datetime,
		Start:       g.Start,
		End:         g.End,
		Date:        date,
		Flight:      flight,
		Segment:     g.Frame,
		DOI:         g.Citation.DOI,
		Citation:    g.Citation.Text(),
		Attributes:  attr.Flatten(g.Attributes),
	}

	props := map[string]any{
		"datetime":           Timestamp(g.Datetime),
		"start_datetime":     Timestamp(g.Start),
		"end_datetime":       Timestamp(g.End),
		"opr:date":           date,
		"opr:flight":         flight,
		"opr:segment":        g.Frame,
		"opr:track_length_m": rec.TrackLength,
	}
	if rec.DOI != "" {
		props["sci:doi"] = rec.DOI
	}
	if rec.Citation != "" {
		props["sci:citation"] = rec.Citation
	}
	if rec.DOI != "" || rec.Citation != "" {
		rec.Extensions = append(rec.Extensions, ExtScientific)
	}
	if g.Radar != nil {
		f, b := g.Radar.CenterFrequencyGHz, g.Radar.BandwidthMHz
		rec.CenterFrequency, rec.Bandwidth = &f, &b
		props["sar:center_frequency"] = f
		props["sar:bandwidth"] = b
		rec.Extensions = append(rec.Extensions, ExtSAR)
	}

	rec.Item = &gostac.Item{
		Version:    Version,
		Id:         g.ID,
		Collection: g.Campaign,
		Geometry:   gj,
		Bbox:       env.BBox(),
		Properties: props,
		Assets:     assets(g, cfg),
		Links:      []*gostac.Link{},
	}
	return rec, nil
}

// assets returns one asset per product file, a "data" alias of the primary
// product and the two preview images.
func assets(g *granule.Granule, cfg ItemConfig) map[string]*gostac.Asset {
	base := cfg.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	out := make(map[string]*gostac.Asset, len(g.Files)+3)
	for _, pf := range g.Files {
		a := &gostac.Asset{
			Href:  base + path.Join(g.Campaign, pf.Product, g.Segment, path.Base(pf.Path)),
			Type:  g.MediaType,
			Title: pf.Product,
			Roles: []string{"data"},
		}
		out[pf.Product] = a
	}
	primary := g.Primary().Product
	if cfg.Primary != "" {
		if _, ok := out[cfg.Primary]; ok {
			primary = cfg.Primary
		}
	}
	if a, ok := out[primary]; ok {
		alias := *a
		out["data"] = &alias
	}

	images := base + path.Join(g.Campaign, "images", g.Segment) + "/"
	prefix := fmt.Sprintf("%s_%03d", g.Segment, g.Frame)
	out["thumbnails"] = &gostac.Asset{
		Href:  images + prefix + "_2echo_picks.jpg",
		Type:  MediaTypeJPEG,
		Roles: []string{"thumbnail"},
	}
	out["flight_path"] = &gostac.Asset{
		Href:  images + prefix + "_0maps.jpg",
		Type:  MediaTypeJPEG,
		Roles: []string{"overview"},
	}
	return out
}

// splitSegment splits YYYYMMDD_SS into the date and flight number.
func splitSegment(id string) (string, int, error) {
	date, num, ok := strings.Cut(id, "_")
	if !ok || len(date) != 8 {
		return "", 0, fmt.Errorf("malformed segment id %q", id)
	}
	n, err := strconv.Atoi(num)
	if err != nil {
		return "", 0, fmt.Errorf("malformed segment id %q: %w", id, err)
	}
	return date, n, nil
}
