package discovery

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/thomasteisberg/xopr/internal/logctx"
	"github.com/thomasteisberg/xopr/pkg/granule"
	"github.com/thomasteisberg/xopr/pkg/source"
)

// DefaultPrimaryProduct drives item geometry when none is configured.
const DefaultPrimaryProduct = "CSARP_standard"

var (
	productPattern = regexp.MustCompile(`^CSARP_\w+$`)
	segmentPattern = regexp.MustCompile(`^(\d{8})_(\d+)$`)
	framePattern   = regexp.MustCompile(`^Data_(\d{8})_(\d+)_(\d+)\.mat$`)
)

// Products names the data products of a campaign.
type Products struct {
	Primary string
	// Extra products contribute metadata and assets. Later entries take
	// priority over earlier ones; the primary takes priority over all.
	Extra []string
}

// SegmentFilter selects segments by id with path.Match globs.
type SegmentFilter struct {
	Include []string
	Exclude []string
}

// Validate checks every pattern.
func (f SegmentFilter) Validate() error {
	for _, p := range append(append([]string(nil), f.Include...), f.Exclude...) {
		if _, err := path.Match(p, ""); err != nil {
			return fmt.Errorf("segment pattern %q: %w", p, err)
		}
	}
	return nil
}

// Match reports whether segment id passes the filter.
func (f SegmentFilter) Match(id string) bool {
	if len(f.Include) > 0 && !matchAny(f.Include, id) {
		return false
	}
	return !matchAny(f.Exclude, id)
}

func matchAny(patterns []string, id string) bool {
	for _, p := range patterns {
		if ok, _ := path.Match(p, id); ok {
			return true
		}
	}
	return false
}

// Segment is one flight of a campaign.
type Segment struct {
	// ID is YYYYMMDD_SS.
	ID     string
	Date   time.Time
	Number int
	// Frames are sorted by frame number. Acquisition order is established
	// from trajectory times after extraction.
	Frames []granule.Ref
}

// DiscoverSegments lists the segments of campaign under the primary
// product, sorted by id. A missing primary product is an error; missing
// extra products are not.
func DiscoverSegments(ctx context.Context, src source.Source, c Campaign, p Products, f SegmentFilter) ([]Segment, error) {
	log := logctx.FromContext(ctx)
	if p.Primary == "" {
		p.Primary = DefaultPrimaryProduct
	}

	entries, err := src.ReadDir(ctx, c.Path)
	if err != nil {
		return nil, fmt.Errorf("list campaign %s: %w", c.ID, err)
	}
	available := make(map[string]bool)
	for _, e := range entries {
		if e.Dir && productPattern.MatchString(e.Name) {
			available[e.Name] = true
		}
	}
	if !available[p.Primary] {
		return nil, fmt.Errorf("campaign %s: primary product %s: %w", c.ID, p.Primary, fs.ErrNotExist)
	}
	var extras []string
	for _, x := range p.Extra {
		if x == p.Primary {
			continue
		}
		if !available[x] {
			log.Debug().Str("product", x).Msg("extra product not present")
			continue
		}
		extras = append(extras, x)
	}

	primaryDir := source.Join(c.Path, p.Primary)
	entries, err = src.ReadDir(ctx, primaryDir)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", src.URI(primaryDir), err)
	}

	var out []Segment
	for _, e := range entries {
		if !e.Dir {
			continue
		}
		m := segmentPattern.FindStringSubmatch(e.Name)
		if m == nil {
			continue
		}
		if !f.Match(e.Name) {
			log.Debug().Str(logctx.FieldSegment, e.Name).Msg("segment filtered out")
			continue
		}
		date, err := time.Parse("20060102", m[1])
		if err != nil {
			log.Warn().Str(logctx.FieldSegment, e.Name).Msg("skipping segment with invalid date")
			continue
		}
		num, _ := strconv.Atoi(m[2])
		seg := Segment{ID: e.Name, Date: date, Number: num}
		seg.Frames, err = discoverFrames(ctx, src, c, p.Primary, extras, e.Name)
		if err != nil {
			return nil, err
		}
		if len(seg.Frames) == 0 {
			log.Debug().Str(logctx.FieldSegment, e.Name).Msg("segment has no frames")
			continue
		}
		out = append(out, seg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// discoverFrames lists the frame files of one segment and attaches the
// matching files of every extra product.
func discoverFrames(ctx context.Context, src source.Source, c Campaign, primary string, extras []string, segment string) ([]granule.Ref, error) {
	dir := source.Join(c.Path, primary, segment)
	entries, err := src.ReadDir(ctx, dir)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", src.URI(dir), err)
	}

	extraFiles := make([]map[string]source.Entry, len(extras))
	for i, x := range extras {
		xdir := source.Join(c.Path, x, segment)
		xs, err := src.ReadDir(ctx, xdir)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", src.URI(xdir), err)
		}
		extraFiles[i] = make(map[string]source.Entry, len(xs))
		for _, e := range xs {
			if !e.Dir {
				extraFiles[i][e.Name] = e
			}
		}
	}

	var refs []granule.Ref
	for _, e := range entries {
		if e.Dir {
			continue
		}
		m := framePattern.FindStringSubmatch(e.Name)
		if m == nil || m[1]+"_"+m[2] != segment {
			continue
		}
		frame, err := strconv.Atoi(m[3])
		if err != nil {
			continue
		}
		ref := granule.Ref{
			ID:       strings.TrimSuffix(e.Name, ".mat"),
			Campaign: c.ID,
			Segment:  segment,
			Frame:    frame,
		}
		for i, x := range extras {
			if xe, ok := extraFiles[i][e.Name]; ok {
				ref.Files = append(ref.Files, productFile(x, source.Join(c.Path, x, segment, e.Name), xe))
			}
		}
		ref.Files = append(ref.Files, productFile(primary, source.Join(dir, e.Name), e))
		refs = append(refs, ref)
	}
	sort.SliceStable(refs, func(i, j int) bool { return refs[i].Frame < refs[j].Frame })
	return refs, nil
}

func productFile(product, name string, e source.Entry) granule.ProductFile {
	return granule.ProductFile{
		Product: product,
		Path:    name,
		Size:    e.Size,
		ModTime: e.ModTime,
		ETag:    e.ETag,
	}
}
