// Package collection builds one GeoParquet item table per campaign and
// publishes it atomically, running campaigns on a bounded worker pool.
package collection

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/thomasteisberg/xopr/internal/logctx"
	"github.com/thomasteisberg/xopr/pkg/discovery"
	"github.com/thomasteisberg/xopr/pkg/fileutil"
	"github.com/thomasteisberg/xopr/pkg/geom"
	"github.com/thomasteisberg/xopr/pkg/geoparquet"
	"github.com/thomasteisberg/xopr/pkg/granule"
	"github.com/thomasteisberg/xopr/pkg/logging"
	"github.com/thomasteisberg/xopr/pkg/source"
	"github.com/thomasteisberg/xopr/pkg/stac"
	"golang.org/x/sync/errgroup"
)

// FileExt is the extension of published campaign files.
const FileExt = ".parquet"

// ErrCampaignBuildFailed marks a campaign whose file was not published.
var ErrCampaignBuildFailed = errors.New("campaign build failed")

// Status is the outcome of one campaign build.
type Status struct {
	Campaign string        `json:"campaign"`
	Path     string        `json:"path,omitempty"`
	Segments int           `json:"segments"`
	Items    int           `json:"items"`
	Skipped  int           `json:"skipped"`
	Cached   int           `json:"cached"`
	Bytes    int64         `json:"bytes"`
	Duration time.Duration `json:"duration_ns"`
	Err      error         `json:"-"`
}

// OK reports whether the campaign was published.
func (s *Status) OK() bool { return s.Err == nil }

// Builder builds campaign files from a data source. It is safe for
// concurrent use by the pool.
type Builder struct {
	src       source.Source
	extractor *granule.Extractor
	opts      Options
}

// NewBuilder creates a builder. cache may be nil.
func NewBuilder(src source.Source, cache granule.Cache, opts Options) (*Builder, error) {
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid options: %w", err)
	}
	if err := os.MkdirAll(opts.OutputDir, 0755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	return &Builder{
		src:       src,
		extractor: &granule.Extractor{Source: src, Cache: cache},
		opts:      opts,
	}, nil
}

// Options returns the validated options.
func (b *Builder) Options() Options { return b.opts }

// OutputPath returns the file a campaign is published to.
func (b *Builder) OutputPath(campaign string) string {
	return filepath.Join(b.opts.OutputDir, campaign+FileExt)
}

// segmentResult is the extraction outcome of one segment.
type segmentResult struct {
	seg     discovery.Segment
	items   []*stac.ItemRecord
	trajs   []geom.Trajectory
	skipped int
	cached  int
}

// Build builds and publishes one campaign. On error nothing is published and
// any previous file is left as it was; the error wraps
// ErrCampaignBuildFailed.
func (b *Builder) Build(ctx context.Context, c discovery.Campaign) (*Status, error) {
	start := time.Now()
	ctx = logctx.WithCampaign(ctx, c.ID)
	log := logctx.FromContext(ctx)
	status := &Status{Campaign: c.ID}

	fail := func(err error) (*Status, error) {
		status.Duration = time.Since(start)
		status.Err = fmt.Errorf("%w: %s: %w", ErrCampaignBuildFailed, c.ID, err)
		return status, status.Err
	}

	if err := fileutil.CleanupTmpFiles(b.opts.OutputDir, c.ID+FileExt); err != nil {
		return fail(err)
	}
	if b.opts.Provider != "" {
		c.Provider = b.opts.Provider
	}

	segs, err := discovery.DiscoverSegments(ctx, b.src, c, b.opts.Products, b.opts.Segments)
	if err != nil {
		return fail(err)
	}
	segs = capFrames(segs, b.opts.MaxItems)
	status.Segments = len(segs)

	results, err := b.extractSegments(ctx, c, segs)
	if err != nil {
		return fail(err)
	}
	orderSegments(results)

	var items []*stac.ItemRecord
	var summaries []stac.SegmentSummary
	for _, r := range results {
		status.Skipped += r.skipped
		status.Cached += r.cached
		if len(r.items) == 0 {
			continue
		}
		items = append(items, r.items...)
		summaries = append(summaries, summarize(c.Hemisphere, r))
	}
	status.Items = len(items)

	rec, err := stac.BuildCollection(stac.CollectionInput{
		Campaign: c,
		License:  b.opts.License,
		Items:    items,
		Segments: summaries,
		Skipped:  status.Skipped,
		Updated:  b.opts.Clock().UTC(),
	})
	if err != nil {
		return fail(err)
	}
	if !rec.SciConsistent {
		log.Warn().Interface("sci:doi", rec.Collection.Summaries["sci:doi"]).
			Msg("items disagree on citation; not promoted to the collection")
	}
	if !rec.SARConsistent {
		log.Warn().Interface("sar:center_frequency", rec.Collection.Summaries["sar:center_frequency"]).
			Msg("items disagree on radar parameters; not promoted to the collection")
	}

	rows := make([]geoparquet.Row, len(items))
	for i, it := range items {
		if rows[i], err = geoparquet.NewRow(it); err != nil {
			return fail(err)
		}
	}
	doc, err := rec.Document()
	if err != nil {
		return fail(err)
	}

	out := b.OutputPath(c.ID)
	writeStart := time.Now()
	err = fileutil.WriteTmpThenMove(b.opts.OutputDir, out, func(tmpPath string) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		f, err := os.Create(tmpPath)
		if err != nil {
			return fmt.Errorf("create %s: %w", tmpPath, err)
		}
		if err := geoparquet.Write(f, rows, rec.Envelope.BBox(), c.ID, doc); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	})
	if err != nil {
		return fail(fmt.Errorf("publish %s: %w", out, err))
	}
	if info, err := os.Stat(out); err == nil {
		status.Bytes = info.Size()
	}
	status.Path = out
	status.Duration = time.Since(start)

	logging.FileCreated(log, "build", time.Since(writeStart)).
		Str("path", out).
		Bytes("bytes", status.Bytes).
		Count("rows", int64(len(rows))).
		LogDebug("campaign file published")
	return status, nil
}

// extractSegments extracts every segment, SegmentWorkers at a time.
// Granules within a segment are extracted in frame order.
func (b *Builder) extractSegments(ctx context.Context, c discovery.Campaign, segs []discovery.Segment) ([]segmentResult, error) {
	results := make([]segmentResult, len(segs))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(b.opts.SegmentWorkers)
	for i, seg := range segs {
		g.Go(func() error {
			r, err := b.extractSegment(logctx.WithSegment(ctx, seg.ID), c, seg)
			if err != nil {
				return err
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (b *Builder) extractSegment(ctx context.Context, c discovery.Campaign, seg discovery.Segment) (segmentResult, error) {
	start := time.Now()
	log := logctx.FromContext(ctx)
	cfg := stac.ItemConfig{
		BaseURL:           b.opts.BaseURL,
		Primary:           b.opts.Products.Primary,
		Hemisphere:        c.Hemisphere,
		SimplifyTolerance: b.opts.SimplifyTolerance,
	}

	r := segmentResult{seg: seg}
	for _, ref := range seg.Frames {
		if err := ctx.Err(); err != nil {
			return r, err
		}
		g, err := b.extractor.Extract(ctx, ref)
		if err == nil {
			var rec *stac.ItemRecord
			if rec, err = stac.BuildItem(g, cfg); err == nil {
				r.items = append(r.items, rec)
				r.trajs = append(r.trajs, g.Trajectory)
				if g.Cached {
					r.cached++
				}
				continue
			}
		}
		if ctx.Err() != nil {
			return r, ctx.Err()
		}
		r.skipped++
		log.Warn().Err(err).Str(logctx.FieldGranule, ref.ID).Msg("skipping granule")
	}

	if n := len(seg.Frames); float64(r.skipped) > b.opts.SkipRatio*float64(n) {
		return r, fmt.Errorf("segment %s: skipped %d of %d granules, above ratio %g", seg.ID, r.skipped, n, b.opts.SkipRatio)
	}

	// Acquisition order; frame numbers break ties.
	order := make([]int, len(r.items))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(x, y int) bool {
		return r.items[order[x]].Start.Before(r.items[order[y]].Start)
	})
	items := make([]*stac.ItemRecord, len(order))
	trajs := make([]geom.Trajectory, len(order))
	for i, j := range order {
		items[i], trajs[i] = r.items[j], r.trajs[j]
	}
	r.items, r.trajs = items, trajs

	logging.SegmentComplete(log, "build", time.Since(start)).
		Int("items", len(r.items)).
		Int("skipped", r.skipped).
		Int("cached", r.cached).
		Rate("granules", int64(len(seg.Frames))).
		LogDebug("segment extracted")
	return r, nil
}

// orderSegments sorts segments by the start of their first item, falling
// back to segment id. Segments without items sort by id after the rest.
func orderSegments(rs []segmentResult) {
	sort.SliceStable(rs, func(i, j int) bool {
		a, b := rs[i], rs[j]
		switch {
		case len(a.items) == 0 || len(b.items) == 0:
			if (len(a.items) == 0) != (len(b.items) == 0) {
				return len(b.items) == 0
			}
		case !a.items[0].Start.Equal(b.items[0].Start):
			return a.items[0].Start.Before(b.items[0].Start)
		}
		return a.seg.ID < b.seg.ID
	})
}

// summarize describes a segment from its joined trajectory.
func summarize(h geom.Hemisphere, r segmentResult) stac.SegmentSummary {
	line := geom.ConcatSegment(r.trajs)
	s := stac.SegmentSummary{
		ID:           r.seg.ID,
		Items:        len(r.items),
		Skipped:      r.skipped,
		TrackLengthM: geom.LengthMeters(line),
		Start:        r.items[0].Start,
		End:          r.items[0].End,
	}
	for _, it := range r.items {
		if it.Start.Before(s.Start) {
			s.Start = it.Start
		}
		if it.End.After(s.End) {
			s.End = it.End
		}
	}
	if env := geom.EnvelopeOf(h, line); !env.IsEmpty() {
		s.BBox = env.BBox()
	}
	return s
}

// capFrames keeps the first limit frames across segments, in order.
func capFrames(segs []discovery.Segment, limit int) []discovery.Segment {
	if limit <= 0 {
		return segs
	}
	out := make([]discovery.Segment, 0, len(segs))
	for _, s := range segs {
		if limit == 0 {
			break
		}
		if len(s.Frames) > limit {
			s.Frames = s.Frames[:limit]
		}
		limit -= len(s.Frames)
		out = append(out, s)
	}
	return out
}
