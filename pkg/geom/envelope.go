package geom

import (
	"math"
	"sort"
)

// Box is an axis-aligned rectangle in projected metres.
type Box struct {
	MinX, MinY, MaxX, MaxY float64
}

func (b Box) extend(o Box) Box {
	return Box{
		MinX: math.Min(b.MinX, o.MinX),
		MinY: math.Min(b.MinY, o.MinY),
		MaxX: math.Max(b.MaxX, o.MaxX),
		MaxY: math.Max(b.MaxY, o.MaxY),
	}
}

// ContainsOrigin reports whether the projection pole lies inside the box.
func (b Box) ContainsOrigin() bool {
	return b.MinX <= 0 && b.MaxX >= 0 && b.MinY <= 0 && b.MaxY >= 0
}

// Slice returns [minx, miny, maxx, maxy].
func (b Box) Slice() []float64 {
	return []float64{b.MinX, b.MinY, b.MaxX, b.MaxY}
}

// Envelope bounds a set of points. The longitude extent runs eastward from
// West to East; West > East means the extent crosses the antimeridian.
// Polar envelopes also carry a box in the hemisphere's polar projection.
// The zero value is empty.
type Envelope struct {
	West, South, East, North float64

	// Projection is the EPSG code of Projected, empty when not polar.
	Projection string
	Projected  Box

	set bool
}

// IsEmpty reports whether the envelope bounds nothing.
func (e Envelope) IsEmpty() bool { return !e.set }

// CrossesAntimeridian reports whether the longitude extent wraps.
func (e Envelope) CrossesAntimeridian() bool { return e.set && e.West > e.East }

// BBox returns [west, south, east, north].
func (e Envelope) BBox() []float64 {
	return []float64{e.West, e.South, e.East, e.North}
}

// Contains reports whether the point lies inside the envelope.
func (e Envelope) Contains(lon, lat float64) bool {
	if !e.set || lat < e.South || lat > e.North {
		return false
	}
	if e.West == -180 && e.East == 180 {
		return true
	}
	lon = normalizeLon(lon)
	if lon == -180 && e.East == 180 {
		return true
	}
	if e.West <= e.East {
		return lon >= e.West && lon <= e.East
	}
	return lon >= e.West || lon <= e.East
}

// arc is a closed longitude interval running eastward from west to east.
// Both ends are in [-180, 180); east < west wraps past the antimeridian.
// fullArc is the whole circle.
type arc struct {
	west, east float64
}

var fullArc = arc{west: -180, east: 180}

func (a arc) span() float64 {
	d := a.east - a.west
	if d < 0 {
		d += 360
	}
	return d
}

// stop is the unrolled east end, used only for ordering.
func (a arc) stop() float64 { return a.west + a.span() }

// EnvelopeOf bounds a trajectory. The longitude extent is the shortest arc
// covering every vertex, found as the complement of the largest gap between
// sorted longitudes.
func EnvelopeOf(h Hemisphere, t Trajectory) Envelope {
	if len(t) == 0 {
		return Envelope{}
	}
	arcs := make([]arc, len(t))
	south, north := t[0].Lat, t[0].Lat
	for i, v := range t {
		lon := normalizeLon(v.Lon)
		arcs[i] = arc{west: lon, east: lon}
		south = math.Min(south, v.Lat)
		north = math.Max(north, v.Lat)
	}
	e := fromArc(coverArcs(arcs))
	e.South, e.North = south, north

	if p, ok := ProjectionFor(h); ok {
		var b Box
		for i, v := range t {
			x, y := p.Forward(v.Lon, v.Lat)
			if i == 0 {
				b = Box{x, y, x, y}
				continue
			}
			b = b.extend(Box{x, y, x, y})
		}
		e.Projection = p.Code
		e.Projected = b
		e.wrapPole(h)
	}
	return e
}

// Union returns the smallest envelope this package can express that
// contains every input envelope. The result does not depend on input order.
func Union(h Hemisphere, envs ...Envelope) Envelope {
	var arcs []arc
	var out Envelope
	projected := true
	first := true
	for _, e := range envs {
		if !e.set {
			continue
		}
		if e.Projection == "" {
			projected = false
		}
		arcs = append(arcs, e.arc())
		if first {
			out = e
			first = false
			continue
		}
		out.South = math.Min(out.South, e.South)
		out.North = math.Max(out.North, e.North)
		if projected && e.Projection == out.Projection {
			out.Projected = out.Projected.extend(e.Projected)
		} else {
			projected = false
		}
	}
	if first {
		return Envelope{}
	}
	lon := fromArc(coverArcs(arcs))
	out.West, out.East = lon.West, lon.East

	p, polar := ProjectionFor(h)
	if !projected || !polar || out.Projection != p.Code {
		out.Projection = ""
		out.Projected = Box{}
		return out
	}
	out.wrapPole(h)
	return out
}

// wrapPole widens the geodetic extent to the pole when the projected box
// contains it.
func (e *Envelope) wrapPole(h Hemisphere) {
	if !e.Projected.ContainsOrigin() {
		return
	}
	e.West, e.East = -180, 180
	if h == HemisphereSouth {
		e.South = -90
	} else {
		e.North = 90
	}
}

func (e Envelope) arc() arc { return arc{west: e.West, east: e.East} }

func fromArc(a arc) Envelope {
	return Envelope{West: a.west, East: a.east, set: true}
}

// coverArcs returns the shortest arc covering every input arc: the input is
// merged into disjoint arcs and the complement of the largest remaining gap
// is returned. Ends of the result are always ends of input arcs.
func coverArcs(in []arc) arc {
	arcs := make([]arc, 0, len(in))
	for _, a := range in {
		if a == fullArc {
			return fullArc
		}
		arcs = append(arcs, a)
	}
	sort.Slice(arcs, func(i, j int) bool {
		if arcs[i].west != arcs[j].west {
			return arcs[i].west < arcs[j].west
		}
		return arcs[i].span() > arcs[j].span()
	})

	merged := make([]arc, 0, len(arcs))
	for _, a := range arcs {
		n := len(merged)
		if n == 0 || a.west > merged[n-1].stop() {
			merged = append(merged, a)
			continue
		}
		last := &merged[n-1]
		if a.stop() > last.stop() {
			if a.stop()-last.west >= 360 {
				return fullArc
			}
			last.east = a.east
		}
	}

	// The last arc may reach past the antimeridian into the first arcs.
	for len(merged) > 1 {
		last := merged[len(merged)-1]
		stop, east := last.stop(), last.east
		if stop < merged[0].west+360 {
			break
		}
		merged = merged[:len(merged)-1]
		for len(merged) > 0 && merged[0].west+360 <= stop {
			if s := merged[0].stop() + 360; s > stop {
				stop, east = s, merged[0].east
			}
			merged = merged[1:]
		}
		if stop-last.west >= 360 {
			return fullArc
		}
		merged = append(merged, arc{west: last.west, east: east})
	}
	if len(merged) == 1 {
		return merged[0]
	}

	// The largest gap follows arc gi; ties keep the earliest gap.
	gi, gap := 0, -1.0
	for i, a := range merged {
		next := merged[(i+1)%len(merged)].west
		if i == len(merged)-1 {
			next += 360
		}
		if g := next - a.stop(); g > gap {
			gi, gap = i, g
		}
	}
	return arc{west: merged[(gi+1)%len(merged)].west, east: merged[gi].east}
}

// normalizeLon maps a longitude into [-180, 180).
func normalizeLon(lon float64) float64 {
	if lon >= -180 && lon < 180 {
		return lon
	}
	return lon - 360*math.Floor((lon+180)/360)
}
