// Package geom aggregates radar flight trajectories: ordered concatenation
// of frames into segments and bounding envelopes that stay valid across the
// antimeridian and the poles.
package geom

import (
	"math"
	"sort"

	"github.com/paulmach/orb"
)

// Hemisphere selects the polar projection used for envelopes.
type Hemisphere int

// Hemispheres.
const (
	HemisphereUnknown Hemisphere = iota
	HemisphereNorth
	HemisphereSouth
)

func (h Hemisphere) String() string {
	switch h {
	case HemisphereNorth:
		return "north"
	case HemisphereSouth:
		return "south"
	default:
		return "unknown"
	}
}

// Vertex is one geodetic position sample. Time is in Unix seconds.
type Vertex struct {
	Lon  float64 `json:"lon"`
	Lat  float64 `json:"lat"`
	Elev float64 `json:"elev"`
	Time float64 `json:"t"`
}

// Valid reports whether the vertex has finite, in-range coordinates and time.
// Elevation is optional and not checked.
func (v Vertex) Valid() bool {
	if math.IsNaN(v.Lon) || math.IsNaN(v.Lat) || math.IsNaN(v.Time) {
		return false
	}
	if math.IsInf(v.Lon, 0) || math.IsInf(v.Lat, 0) || math.IsInf(v.Time, 0) {
		return false
	}
	return v.Lat >= -90 && v.Lat <= 90 && v.Lon >= -180 && v.Lon <= 180
}

// Trajectory is an ordered sequence of vertices.
type Trajectory []Vertex

// TimeRange returns the earliest and latest vertex times.
func (t Trajectory) TimeRange() (start, end float64) {
	if len(t) == 0 {
		return 0, 0
	}
	start, end = t[0].Time, t[0].Time
	for _, v := range t[1:] {
		start = math.Min(start, v.Time)
		end = math.Max(end, v.Time)
	}
	return start, end
}

// LineString returns the lon/lat line.
func (t Trajectory) LineString() orb.LineString {
	ls := make(orb.LineString, len(t))
	for i, v := range t {
		ls[i] = orb.Point{v.Lon, v.Lat}
	}
	return ls
}

// ConcatSegment joins frame trajectories into one segment trajectory in
// acquisition order. Frames are ordered by their first vertex time with the
// input position breaking ties; file or discovery order is not trusted.
// Vertices earlier than the last kept vertex are dropped, which trims the
// overlap between adjacent frames and keeps vertex time non-decreasing.
func ConcatSegment(frames []Trajectory) Trajectory {
	idx := make([]int, 0, len(frames))
	total := 0
	for i, f := range frames {
		if len(f) == 0 {
			continue
		}
		idx = append(idx, i)
		total += len(f)
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return frames[idx[a]][0].Time < frames[idx[b]][0].Time
	})

	out := make(Trajectory, 0, total)
	for _, i := range idx {
		for _, v := range frames[i] {
			if len(out) > 0 && v.Time < out[len(out)-1].Time {
				continue
			}
			out = append(out, v)
		}
	}
	return out
}
