package geoparquet

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/parquet-go/parquet-go"
	"github.com/paulmach/orb"
	"github.com/thomasteisberg/xopr/pkg/attr"
	"github.com/thomasteisberg/xopr/pkg/geom"
	"github.com/thomasteisberg/xopr/pkg/granule"
	"github.com/thomasteisberg/xopr/pkg/stac"
)

func testRecord(t *testing.T, frame int, doi string) *stac.ItemRecord {
	t.Helper()
	t0 := 1476450000.0 + float64(frame*10)
	traj := geom.Trajectory{
		{Lon: -100, Lat: -75, Time: t0},
		{Lon: -100.01, Lat: -75.01, Time: t0 + 1},
	}
	g := &granule.Granule{
		Ref: granule.Ref{
			ID:       "Data_20161014_03_001",
			Campaign: "2016_Antarctica_DC8",
			Segment:  "20161014_03",
			Frame:    frame,
			Files:    []granule.ProductFile{{Product: "CSARP_standard", Path: "x/Data_20161014_03_001.mat"}},
		},
		Trajectory: traj,
		Start:      time.Unix(int64(t0), 0).UTC(),
		End:        time.Unix(int64(t0)+1, 0).UTC(),
		Datetime:   time.Unix(int64(t0), 500_000_000).UTC(),
		Attributes: map[string]attr.Value{"file_type": attr.String("standard")},
		MediaType:  granule.MediaTypeMAT,
		Citation:   granule.Citation{DOI: doi},
	}
	if doi == "" {
		g.Radar = &granule.Radar{CenterFrequencyGHz: 0.195, BandwidthMHz: 30}
	}
	rec, err := stac.BuildItem(g, stac.ItemConfig{Hemisphere: geom.HemisphereSouth})
	if err != nil {
		t.Fatalf("BuildItem: %v", err)
	}
	return rec
}

func encode(t *testing.T, recs ...*stac.ItemRecord) []byte {
	t.Helper()
	var rows []Row
	for _, rec := range recs {
		row, err := NewRow(rec)
		if err != nil {
			t.Fatalf("NewRow: %v", err)
		}
		rows = append(rows, row)
	}
	var buf bytes.Buffer
	doc := map[string]any{"id": "2016_Antarctica_DC8", "type": "Collection"}
	if err := Write(&buf, rows, []float64{-101, -76, -99, -74}, "2016_Antarctica_DC8", doc); err != nil {
		t.Fatalf("Write: %v", err)
	}
	return buf.Bytes()
}

func TestWriteRead(t *testing.T) {
	data := encode(t, testRecord(t, 1, "10.1/x"), testRecord(t, 2, ""))

	sum, err := ReadSummary(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("ReadSummary: %v", err)
	}
	if sum.NumRows != 2 {
		t.Errorf("NumRows = %d, want 2", sum.NumRows)
	}
	var coll map[string]any
	if err := json.Unmarshal(sum.Collections["2016_Antarctica_DC8"], &coll); err != nil {
		t.Fatalf("collection json: %v", err)
	}
	if coll["type"] != "Collection" {
		t.Errorf("collection = %v", coll)
	}
	if sum.Geo == nil || sum.Geo.PrimaryColumn != "geometry" || sum.Geo.Columns["geometry"].Encoding != "WKB" {
		t.Errorf("geo = %+v", sum.Geo)
	}
	if diff := cmp.Diff([]float64{-101, -76, -99, -74}, sum.Geo.Columns["geometry"].BBox); diff != "" {
		t.Errorf("geo bbox mismatch (-want +got):\n%s", diff)
	}

	rows, err := ReadRows(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("ReadRows: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows", len(rows))
	}
	r := rows[0]
	if r.Type != "Feature" || r.ID != "Data_20161014_03_001" || r.Collection != "2016_Antarctica_DC8" {
		t.Errorf("row header = %s %s %s", r.Type, r.ID, r.Collection)
	}
	if r.Date != "20161014" || r.Flight != 3 || r.Segment != 1 {
		t.Errorf("opr fields = %s %d %d", r.Date, r.Flight, r.Segment)
	}
	if r.DOI == nil || *r.DOI != "10.1/x" || r.CenterFrequency != nil {
		t.Errorf("optional fields row 0 = %v %v", r.DOI, r.CenterFrequency)
	}
	if rows[1].DOI != nil || rows[1].CenterFrequency == nil || *rows[1].CenterFrequency != 0.195 {
		t.Errorf("optional fields row 1 = %v %v", rows[1].DOI, rows[1].CenterFrequency)
	}
	wantTime := time.Unix(1476450010, 500_000_000).UTC()
	if !r.Datetime.Equal(wantTime) {
		t.Errorf("Datetime = %v, want %v", r.Datetime, wantTime)
	}
	if diff := cmp.Diff([]string{stac.ExtFile, stac.ExtScientific}, r.StacExtensions); diff != "" {
		t.Errorf("extensions mismatch (-want +got):\n%s", diff)
	}

	g, err := geom.DecodeWKB(r.Geometry)
	if err != nil {
		t.Fatalf("DecodeWKB: %v", err)
	}
	ls, ok := g.(orb.LineString)
	if !ok || len(ls) != 2 || ls[1] != (orb.Point{-100.01, -75.01}) {
		t.Errorf("geometry = %v", g)
	}
	if r.BBox.Xmin != -100.01 || r.BBox.Ymax != -75 {
		t.Errorf("bbox = %+v", r.BBox)
	}

	var assets map[string]map[string]any
	if err := json.Unmarshal([]byte(r.Assets), &assets); err != nil {
		t.Fatalf("assets json: %v", err)
	}
	if _, ok := assets["data"]; !ok {
		t.Errorf("assets = %v", assets)
	}
	var attrs map[string]any
	if err := json.Unmarshal([]byte(r.Attributes), &attrs); err != nil || attrs["file_type"] != "standard" {
		t.Errorf("attributes = %s (%v)", r.Attributes, err)
	}
}

func TestWriteDeterministic(t *testing.T) {
	a := encode(t, testRecord(t, 1, "10.1/x"), testRecord(t, 2, ""))
	b := encode(t, testRecord(t, 1, "10.1/x"), testRecord(t, 2, ""))
	if !bytes.Equal(a, b) {
		t.Error("identical input produced different files")
	}
}

func TestReadSummary_NoCollection(t *testing.T) {
	var buf bytes.Buffer
	w := parquet.NewGenericWriter[BBox](&buf)
	if _, err := w.Write([]BBox{{Xmin: 1}}); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	_, err := ReadSummary(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if !errors.Is(err, ErrNoCollection) {
		t.Errorf("error = %v, want ErrNoCollection", err)
	}
}

func TestReadSummary_NotParquet(t *testing.T) {
	data := []byte("definitely not parquet")
	if _, err := ReadSummary(bytes.NewReader(data), int64(len(data))); err == nil {
		t.Error("ReadSummary accepted garbage")
	}
}
