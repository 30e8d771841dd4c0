package geom

import (
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/project"
	"github.com/paulmach/orb/simplify"
)

// DefaultSimplifyTolerance is the Douglas-Peucker tolerance in metres.
const DefaultSimplifyTolerance = 100.0

// Simplify reduces a trajectory with Douglas-Peucker at a tolerance in
// metres. Distances are measured in the hemisphere's polar projection, or
// web mercator when the hemisphere is unknown. Every kept vertex is an
// original vertex, and the first and last vertices are always kept.
func Simplify(h Hemisphere, t Trajectory, tolerance float64) Trajectory {
	if len(t) <= 2 || tolerance <= 0 {
		return append(Trajectory(nil), t...)
	}

	projected := make(orb.LineString, len(t))
	p, polar := ProjectionFor(h)
	for i, v := range t {
		if polar {
			x, y := p.Forward(v.Lon, v.Lat)
			projected[i] = orb.Point{x, y}
			continue
		}
		projected[i] = project.WGS84.ToMercator(orb.Point{v.Lon, v.Lat})
	}

	input := append(orb.LineString(nil), projected...)
	kept, ok := simplify.DouglasPeucker(tolerance).Simplify(input).(orb.LineString)
	if !ok || len(kept) < 2 {
		return Trajectory{t[0], t[len(t)-1]}
	}

	// Kept points are a subsequence of the projected line.
	out := make(Trajectory, 0, len(kept))
	j, last := 0, -1
	for _, k := range kept {
		for j < len(projected) && !projected[j].Equal(k) {
			j++
		}
		if j == len(projected) {
			break
		}
		out = append(out, t[j])
		last = j
		j++
	}
	if last != len(t)-1 {
		out = append(out, t[len(t)-1])
	}
	return out
}

// LengthMeters is the haversine length of the trajectory.
func LengthMeters(t Trajectory) float64 {
	if len(t) < 2 {
		return 0
	}
	return geo.LengthHaversine(t.LineString())
}

// WKB encodes the trajectory as a little-endian WKB LineString. A single
// vertex is encoded as a Point.
func WKB(t Trajectory) ([]byte, error) {
	g, err := Geometry(t)
	if err != nil {
		return nil, err
	}
	b, err := wkb.Marshal(g)
	if err != nil {
		return nil, fmt.Errorf("encode wkb: %w", err)
	}
	return b, nil
}

// DecodeWKB is the inverse of WKB.
func DecodeWKB(b []byte) (orb.Geometry, error) {
	g, err := wkb.Unmarshal(b)
	if err != nil {
		return nil, fmt.Errorf("decode wkb: %w", err)
	}
	return g, nil
}

// Geometry returns the trajectory as an orb geometry.
func Geometry(t Trajectory) (orb.Geometry, error) {
	switch len(t) {
	case 0:
		return nil, fmt.Errorf("empty trajectory")
	case 1:
		return orb.Point{t[0].Lon, t[0].Lat}, nil
	}
	return t.LineString(), nil
}

// GeoJSON returns the trajectory as a GeoJSON geometry.
func GeoJSON(t Trajectory) (*geojson.Geometry, error) {
	g, err := Geometry(t)
	if err != nil {
		return nil, err
	}
	return geojson.NewGeometry(g), nil
}
