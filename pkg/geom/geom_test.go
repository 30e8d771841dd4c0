package geom

import (
	"math"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/paulmach/orb"
)

func line(t0 float64, pts ...[2]float64) Trajectory {
	out := make(Trajectory, len(pts))
	for i, p := range pts {
		out[i] = Vertex{Lon: p[0], Lat: p[1], Time: t0 + float64(i)}
	}
	return out
}

func TestConcatSegment_OrdersByAcquisitionTime(t *testing.T) {
	f1 := line(100, [2]float64{0, -75}, [2]float64{0.1, -75}, [2]float64{0.2, -75})
	f2 := line(102, [2]float64{0.2, -75}, [2]float64{0.3, -75}, [2]float64{0.4, -75})
	f3 := line(104, [2]float64{0.4, -75}, [2]float64{0.5, -75})

	got := ConcatSegment([]Trajectory{f3, nil, f1, f2})

	var times []float64
	for _, v := range got {
		times = append(times, v.Time)
	}
	want := []float64{100, 101, 102, 102, 103, 104, 104, 105}
	if diff := cmp.Diff(want, times); diff != "" {
		t.Errorf("vertex times mismatch (-want +got):\n%s", diff)
	}
	if got[0].Lon != 0 || got[len(got)-1].Lon != 0.5 {
		t.Errorf("segment should run from frame 1 to frame 3, got %v..%v", got[0].Lon, got[len(got)-1].Lon)
	}
}

func TestConcatSegment_DropsBacktrackingVertices(t *testing.T) {
	f := Trajectory{{Time: 1}, {Time: 3}, {Time: 2}, {Time: 4}}
	got := ConcatSegment([]Trajectory{f})
	if len(got) != 3 {
		t.Fatalf("expected 3 vertices, got %d", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].Time < got[i-1].Time {
			t.Errorf("time decreased at %d: %v < %v", i, got[i].Time, got[i-1].Time)
		}
	}
}

func TestEnvelopeOf_Antimeridian(t *testing.T) {
	e := EnvelopeOf(HemisphereUnknown, line(0,
		[2]float64{179.5, -10}, [2]float64{-179.5, -11}, [2]float64{-179, -12}, [2]float64{180, -10.5},
	))

	if !e.CrossesAntimeridian() {
		t.Fatalf("expected antimeridian crossing, got %v", e.BBox())
	}
	if diff := cmp.Diff([]float64{179.5, -12, -179, -10}, e.BBox()); diff != "" {
		t.Errorf("bbox mismatch (-want +got):\n%s", diff)
	}
	for _, lon := range []float64{179.5, 180, -180, -179.5, -179} {
		if !e.Contains(lon, -11) {
			t.Errorf("expected envelope to contain lon %v", lon)
		}
	}
	if e.Contains(0, -11) {
		t.Error("envelope should not span the whole globe")
	}
}

func TestEnvelopeOf_Pole(t *testing.T) {
	var loop Trajectory
	for i := 0; i < 36; i++ {
		loop = append(loop, Vertex{Lon: float64(i*10 - 180), Lat: -88, Time: float64(i)})
	}
	e := EnvelopeOf(HemisphereSouth, loop)

	if e.Projection != "EPSG:3031" {
		t.Errorf("expected EPSG:3031, got %q", e.Projection)
	}
	if diff := cmp.Diff([]float64{-180, -90, 180, -88}, e.BBox()); diff != "" {
		t.Errorf("bbox mismatch (-want +got):\n%s", diff)
	}
	if !e.Contains(37, -89.9) {
		t.Error("envelope around the pole should contain every longitude")
	}
}

func TestEnvelopeOf_SinglePoint(t *testing.T) {
	e := EnvelopeOf(HemisphereNorth, line(0, [2]float64{-45, 72}))
	if e.IsEmpty() {
		t.Fatal("single point envelope should not be empty")
	}
	if !e.Contains(-45, 72) {
		t.Error("envelope should contain its point")
	}
	if e.Projected.MinX != e.Projected.MaxX {
		t.Errorf("projected box should be degenerate, got %+v", e.Projected)
	}
}

func randomTrack(r *rand.Rand, n int, lon0, lat0 float64) Trajectory {
	t := make(Trajectory, n)
	lon, lat := lon0, lat0
	for i := range t {
		lon = normalizeLon(lon + r.Float64()*2 - 0.5)
		lat = math.Max(-89.9, math.Min(-60, lat+r.Float64()-0.5))
		t[i] = Vertex{Lon: lon, Lat: lat, Time: float64(i)}
	}
	return t
}

func TestUnion_ContainsMembersAndIgnoresOrder(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	var tracks []Trajectory
	var envs []Envelope
	for i := 0; i < 40; i++ {
		tr := randomTrack(r, 50, r.Float64()*360-180, -60-r.Float64()*25)
		tracks = append(tracks, tr)
		envs = append(envs, EnvelopeOf(HemisphereSouth, tr))
	}

	u := Union(HemisphereSouth, envs...)
	for i, tr := range tracks {
		for _, v := range tr {
			if !u.Contains(v.Lon, v.Lat) {
				t.Fatalf("track %d vertex (%v, %v) outside union %v", i, v.Lon, v.Lat, u.BBox())
			}
		}
	}

	for trial := 0; trial < 10; trial++ {
		shuffled := append([]Envelope(nil), envs...)
		r.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		if got := Union(HemisphereSouth, shuffled...); got != u {
			t.Fatalf("union depends on order: %+v vs %+v", got, u)
		}
	}
}

func TestUnion_Antimeridian(t *testing.T) {
	a := EnvelopeOf(HemisphereUnknown, line(0, [2]float64{170, 0}, [2]float64{175, 1}))
	b := EnvelopeOf(HemisphereUnknown, line(0, [2]float64{-175, 0}, [2]float64{-170, 2}))
	c := EnvelopeOf(HemisphereUnknown, line(0, [2]float64{179, 0}, [2]float64{-179, 0}))

	tests := []struct {
		name string
		envs []Envelope
		want []float64
	}{
		{"disjoint across the antimeridian", []Envelope{a, b}, []float64{170, 0, -170, 2}},
		{"with a crossing member", []Envelope{b, c, a}, []float64{170, 0, -170, 2}},
		{"empty members ignored", []Envelope{{}, a, {}}, []float64{170, 0, 175, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Union(HemisphereUnknown, tt.envs...)
			if diff := cmp.Diff(tt.want, got.BBox()); diff != "" {
				t.Errorf("bbox mismatch (-want +got):\n%s", diff)
			}
			if got.Projection != "" {
				t.Errorf("unknown hemisphere should not carry a projected box, got %q", got.Projection)
			}
		})
	}

	if !Union(HemisphereUnknown).IsEmpty() {
		t.Error("union of nothing should be empty")
	}
}

func TestUnion_FullCircle(t *testing.T) {
	var envs []Envelope
	for lon := -180.0; lon < 180; lon += 60 {
		envs = append(envs, EnvelopeOf(HemisphereUnknown, line(0, [2]float64{lon, 0}, [2]float64{lon + 70, 0})))
	}
	u := Union(HemisphereUnknown, envs...)
	if u.West != -180 || u.East != 180 {
		t.Errorf("expected full longitude range, got %v", u.BBox())
	}
}

func TestProjection_Forward(t *testing.T) {
	const tol = 1e-6

	x, y := AntarcticPolarStereographic.Forward(123, -90)
	if math.Abs(x) > tol || math.Abs(y) > tol {
		t.Errorf("south pole should project to origin, got (%v, %v)", x, y)
	}

	x, y = AntarcticPolarStereographic.Forward(0, -71)
	sin71 := math.Sin(71 * math.Pi / 180)
	wantY := wgs84A * math.Cos(71*math.Pi/180) / math.Sqrt(1-wgs84E*wgs84E*sin71*sin71)
	if math.Abs(x) > tol || math.Abs(y-wantY) > 1e-3 {
		t.Errorf("EPSG:3031 (0, -71) = (%v, %v), want (0, %v)", x, y, wantY)
	}

	x, y = AntarcticPolarStereographic.Forward(90, -80)
	if x <= 0 || math.Abs(y) > 1e-6 {
		t.Errorf("EPSG:3031 (90, -80) should lie on +x, got (%v, %v)", x, y)
	}

	x, y = ArcticPolarStereographic.Forward(-45, 75)
	if math.Abs(x) > tol || y >= 0 {
		t.Errorf("EPSG:3413 central meridian should lie on -y, got (%v, %v)", x, y)
	}

	if _, ok := ProjectionFor(HemisphereUnknown); ok {
		t.Error("unknown hemisphere should have no projection")
	}
}

func TestSimplify(t *testing.T) {
	var straight Trajectory
	for i := 0; i <= 100; i++ {
		straight = append(straight, Vertex{Lon: 0, Lat: -80 + float64(i)*0.001, Time: float64(i)})
	}
	got := Simplify(HemisphereSouth, straight, DefaultSimplifyTolerance)
	if len(got) != 2 || got[0] != straight[0] || got[1] != straight[100] {
		t.Errorf("straight line should reduce to its endpoints, got %d vertices", len(got))
	}

	zigzag := line(0, [2]float64{0, -75}, [2]float64{0.1, -75.05}, [2]float64{0.2, -75}, [2]float64{0.3, -75.05})
	got = Simplify(HemisphereSouth, zigzag, DefaultSimplifyTolerance)
	if diff := cmp.Diff(zigzag, got); diff != "" {
		t.Errorf("zigzag above tolerance should be kept (-want +got):\n%s", diff)
	}

	short := line(0, [2]float64{1, 1}, [2]float64{2, 2})
	if got := Simplify(HemisphereUnknown, short, 10); len(got) != 2 {
		t.Errorf("two-vertex line should be unchanged, got %d", len(got))
	}
}

func TestSimplify_KeepsOriginalVertices(t *testing.T) {
	r := rand.New(rand.NewSource(3))
	tr := randomTrack(r, 500, 10, -70)
	got := Simplify(HemisphereUnknown, tr, 5000)

	j := 0
	for _, v := range got {
		for j < len(tr) && tr[j] != v {
			j++
		}
		if j == len(tr) {
			t.Fatalf("simplified vertex %+v is not an ordered original vertex", v)
		}
	}
	if got[len(got)-1] != tr[len(tr)-1] {
		t.Error("last vertex should be kept")
	}
}

func TestLengthMeters(t *testing.T) {
	got := LengthMeters(line(0, [2]float64{0, 0}, [2]float64{0, 0.5}, [2]float64{0, 1}))
	want := orb.EarthRadius * math.Pi / 180
	if math.Abs(got-want) > 1 {
		t.Errorf("one degree of latitude = %v m, want %v", got, want)
	}
	if LengthMeters(line(0, [2]float64{0, 0})) != 0 {
		t.Error("single vertex should have zero length")
	}
}

func TestWKB(t *testing.T) {
	tr := line(0, [2]float64{-45, 70}, [2]float64{-44, 71})
	b, err := WKB(tr)
	if err != nil {
		t.Fatalf("WKB: %v", err)
	}
	g, err := DecodeWKB(b)
	if err != nil {
		t.Fatalf("DecodeWKB: %v", err)
	}
	ls, ok := g.(orb.LineString)
	if !ok || !ls.Equal(tr.LineString()) {
		t.Errorf("decoded %v, want %v", g, tr.LineString())
	}

	if _, err := WKB(nil); err == nil {
		t.Error("expected error for empty trajectory")
	}
	b, _ = WKB(tr[:1])
	if g, _ := DecodeWKB(b); g.GeoJSONType() != "Point" {
		t.Errorf("single vertex should encode as Point, got %s", g.GeoJSONType())
	}
}
