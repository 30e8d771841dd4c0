package granule

import (
	"context"
	"fmt"
	"math"

	"github.com/thomasteisberg/xopr/internal/logctx"
	"github.com/thomasteisberg/xopr/pkg/attr"
	"github.com/thomasteisberg/xopr/pkg/cache"
	"github.com/thomasteisberg/xopr/pkg/geom"
	"github.com/thomasteisberg/xopr/pkg/matfile"
	"github.com/thomasteisberg/xopr/pkg/source"
	"gonum.org/v1/gonum/stat"
)

// Version identifies the record layout and derivation rules. Bumping it
// invalidates cached records.
const Version = "1"

// DefaultMaxAttributeElements is the largest numeric array kept as metadata.
// Larger arrays are sample data.
const DefaultMaxAttributeElements = 64

// Cache stores encoded records by content fingerprint.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, record []byte) error
}

// Candidate variable names for trajectory samples.
var (
	timeVars = []string{"GPS_time"}
	latVars  = []string{"Latitude", "lat", "LAT"}
	lonVars  = []string{"Longitude", "lon", "LON"}
	elevVars = []string{"Elevation", "elev"}
)

func isTrajectoryVar(name string) bool {
	for _, set := range [][]string{timeVars, latVars, lonVars, elevVars} {
		for _, v := range set {
			if v == name {
				return true
			}
		}
	}
	return false
}

// Extractor turns granule references into granules. It holds no per-call
// state and is safe for concurrent use.
type Extractor struct {
	Source source.Source
	// Cache is optional.
	Cache Cache
	// MaxAttributeElements bounds numeric arrays kept in Attributes.
	// Zero means DefaultMaxAttributeElements.
	MaxAttributeElements int
}

// Extract reads every product file of ref and builds the granule. Errors
// wrap ErrUnreadableFile or ErrMissingGeometry.
func (e *Extractor) Extract(ctx context.Context, ref Ref) (*Granule, error) {
	if len(ref.Files) == 0 {
		return nil, fmt.Errorf("extract %s: no product files: %w", ref.ID, ErrUnreadableFile)
	}
	ctx = logctx.WithGranule(ctx, ref.ID)
	log := logctx.FromContext(ctx)

	var key string
	if e.Cache != nil {
		key = e.cacheKey(ref)
		if g, ok := e.fromCache(ctx, key, ref); ok {
			return g, nil
		}
	}

	primaryIdx := len(ref.Files) - 1
	sources := make([]map[string]attr.Value, 0, len(ref.Files))
	var traj geom.Trajectory
	var dropped int
	for i, pf := range ref.Files {
		primary := i == primaryIdx
		f, err := e.read(ctx, pf, primary)
		if err != nil {
			if primary {
				return nil, fmt.Errorf("extract %s: %w", ref.ID, err)
			}
			log.Warn().Err(err).Str("product", pf.Product).Msg("skipping unreadable product file")
			continue
		}
		if primary {
			traj, dropped, err = trajectory(f)
			if err != nil {
				return nil, fmt.Errorf("extract %s: %s: %w", ref.ID, pf.Path, err)
			}
		}
		sources = append(sources, e.attributes(f))
	}

	tree, conflicts := attr.Merge(sources...)
	for _, c := range conflicts {
		log.Warn().Err(conflictError(c)).Msg("attribute kind conflict")
	}

	g := assemble(ref, record{
		Trajectory: traj,
		Dropped:    dropped,
		Attributes: tree,
		Conflicts:  conflicts,
		MediaType:  MediaTypeMAT,
	})
	if dropped > 0 {
		log.Debug().Int("dropped", dropped).Msg("dropped invalid vertices")
	}

	if e.Cache != nil {
		if b, err := encodeRecord(g); err != nil {
			log.Warn().Err(err).Msg("encode cache record")
		} else if err := e.Cache.Put(ctx, key, b); err != nil {
			log.Warn().Err(err).Msg("cache put failed")
		}
	}
	return g, nil
}

// conflictError reports a merge conflict as a schema mismatch.
func conflictError(c attr.Conflict) error {
	return fmt.Errorf("%w: %w", ErrSchemaMismatch, c)
}

func (e *Extractor) fromCache(ctx context.Context, key string, ref Ref) (*Granule, bool) {
	log := logctx.FromContext(ctx)
	b, ok, err := e.Cache.Get(ctx, key)
	if err != nil {
		log.Warn().Err(err).Msg("cache lookup failed")
		return nil, false
	}
	if !ok {
		return nil, false
	}
	rec, err := decodeRecord(b)
	if err != nil {
		log.Warn().Err(err).Msg("discarding undecodable cache record")
		return nil, false
	}
	g := assemble(ref, rec)
	g.Cached = true
	return g, true
}

func (e *Extractor) maxElements() int {
	if e.MaxAttributeElements > 0 {
		return e.MaxAttributeElements
	}
	return DefaultMaxAttributeElements
}

// read decodes one product file. Trajectory variables are decoded only for
// the primary product; large numeric arrays are skipped unread.
func (e *Extractor) read(ctx context.Context, pf ProductFile, primary bool) (*matfile.File, error) {
	obj, err := e.Source.Open(ctx, pf.Path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w: %w", pf.Path, ErrUnreadableFile, err)
	}
	defer obj.Close()

	limit := e.maxElements()
	f, err := matfile.Read(obj, obj.Size(), matfile.Options{
		Keep: func(name string, c matfile.Class, numel int) bool {
			if isTrajectoryVar(name) {
				return primary
			}
			return !c.IsNumeric() || numel <= limit
		},
	})
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w: %w", pf.Path, ErrUnreadableFile, err)
	}
	return f, nil
}

func (e *Extractor) attributes(f *matfile.File) map[string]attr.Value {
	limit := e.maxElements()
	out := make(map[string]attr.Value)
	for _, name := range f.Order {
		if isTrajectoryVar(name) {
			continue
		}
		if v, ok := prune(f.Vars[name].Value(), limit); ok {
			out[name] = v
		}
	}
	return out
}

// prune drops numeric sequences longer than limit anywhere in the tree.
func prune(v attr.Value, limit int) (attr.Value, bool) {
	switch v.Kind() {
	case attr.KindMap:
		m := make(map[string]attr.Value)
		for k, x := range v.Fields() {
			if p, ok := prune(x, limit); ok {
				m[k] = p
			}
		}
		return attr.Map(m), true
	case attr.KindSequence:
		items := v.Items()
		if len(items) > limit && items[0].Kind() == attr.KindNumber {
			return attr.Value{}, false
		}
		out := make([]attr.Value, 0, len(items))
		for _, x := range items {
			p, _ := prune(x, limit)
			out = append(out, p)
		}
		return attr.Sequence(out...), true
	}
	return v, true
}

func firstVar(f *matfile.File, names []string) ([]float64, bool) {
	for _, n := range names {
		if a, ok := f.Var(n); ok {
			if data, ok := a.Float64s(); ok {
				return data, true
			}
		}
	}
	return nil, false
}

// trajectory builds the vertex sequence from the primary product, dropping
// samples with invalid coordinates, elevation or time.
func trajectory(f *matfile.File) (geom.Trajectory, int, error) {
	times, ok := firstVar(f, timeVars)
	if !ok {
		return nil, 0, fmt.Errorf("no GPS_time: %w", ErrMissingGeometry)
	}
	lats, okLat := firstVar(f, latVars)
	lons, okLon := firstVar(f, lonVars)
	if !okLat || !okLon {
		return nil, 0, fmt.Errorf("no latitude/longitude: %w", ErrMissingGeometry)
	}
	if len(lats) != len(times) || len(lons) != len(times) {
		return nil, 0, fmt.Errorf("sample counts differ (time %d, lat %d, lon %d): %w",
			len(times), len(lats), len(lons), ErrMissingGeometry)
	}
	elevs, okElev := firstVar(f, elevVars)
	if okElev && len(elevs) != len(times) {
		okElev = false
	}

	t := make(geom.Trajectory, 0, len(times))
	for i := range times {
		v := geom.Vertex{Lon: lons[i], Lat: lats[i], Time: times[i]}
		if okElev {
			v.Elev = elevs[i]
			if math.IsNaN(v.Elev) || math.IsInf(v.Elev, 0) {
				continue
			}
		}
		if !v.Valid() {
			continue
		}
		t = append(t, v)
	}
	dropped := len(times) - len(t)
	if len(t) < 2 {
		return nil, dropped, fmt.Errorf("%d of %d samples valid: %w", len(t), len(times), ErrMissingGeometry)
	}
	return t, dropped, nil
}

// assemble derives the time range, radar and citation fields.
func assemble(ref Ref, rec record) *Granule {
	g := &Granule{
		Ref:        ref,
		Trajectory: rec.Trajectory,
		Dropped:    rec.Dropped,
		Attributes: rec.Attributes,
		Conflicts:  rec.Conflicts,
		MediaType:  rec.MediaType,
	}
	start, end := g.Trajectory.TimeRange()
	g.Start, g.End = unixTime(start), unixTime(end)
	times := make([]float64, len(g.Trajectory))
	for i, v := range g.Trajectory {
		times[i] = v.Time
	}
	g.Datetime = unixTime(stat.Mean(times, nil))

	g.Radar = deriveRadar(g.Attributes)
	g.Citation = deriveCitation(attr.Flatten(g.Attributes))
	return g
}

// cacheKey covers file content, product priority and the settings that
// shape the record.
func (e *Extractor) cacheKey(ref Ref) string {
	stamps := make([]cache.Stamp, len(ref.Files))
	for i, pf := range ref.Files {
		stamps[i] = cache.Stamp{
			Path:    fmt.Sprintf("%d:%s", i, pf.Path),
			Size:    pf.Size,
			ModTime: pf.ModTime,
			ETag:    pf.ETag,
		}
	}
	return cache.Key(fmt.Sprintf("%s/max=%d", Version, e.maxElements()), stamps...)
}
