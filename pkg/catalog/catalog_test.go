package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/thomasteisberg/xopr/pkg/geom"
	"github.com/thomasteisberg/xopr/pkg/geoparquet"
	"github.com/thomasteisberg/xopr/pkg/granule"
	"github.com/thomasteisberg/xopr/pkg/manifest"
	"github.com/thomasteisberg/xopr/pkg/stac"
)

var fixedClock = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

func testRows(t *testing.T, campaign string, n int) []geoparquet.Row {
	t.Helper()
	rows := make([]geoparquet.Row, n)
	for i := range rows {
		t0 := 1476450000.0 + float64(i*10)
		g := &granule.Granule{
			Ref: granule.Ref{
				ID:       "Data_20161014_03_00" + string(rune('1'+i)),
				Campaign: campaign,
				Segment:  "20161014_03",
				Frame:    i + 1,
			},
			Trajectory: geom.Trajectory{
				{Lon: -100, Lat: -75, Time: t0},
				{Lon: -100.01, Lat: -75.01, Time: t0 + 1},
			},
			Start:     time.Unix(int64(t0), 0).UTC(),
			End:       time.Unix(int64(t0)+1, 0).UTC(),
			Datetime:  time.Unix(int64(t0), 0).UTC(),
			MediaType: granule.MediaTypeMAT,
		}
		rec, err := stac.BuildItem(g, stac.ItemConfig{Hemisphere: geom.HemisphereSouth})
		if err != nil {
			t.Fatalf("BuildItem: %v", err)
		}
		if rows[i], err = geoparquet.NewRow(rec); err != nil {
			t.Fatalf("NewRow: %v", err)
		}
	}
	return rows
}

// publish writes a campaign file the way the collection builder does.
func publish(t *testing.T, dir, id string, items int, exts ...string) {
	t.Helper()
	doc := map[string]any{
		"type":            "Collection",
		"stac_version":    stac.Version,
		"stac_extensions": exts,
		"id":              id,
		"title":           id + " title",
		"description":     "Radar data from " + id,
		"license":         "various",
		"links":           []any{map[string]any{"rel": "self", "href": "x"}},
		"extent":          map[string]any{"spatial": map[string]any{"bbox": [][]float64{{-101, -76, -99, -74}}}},
		"sci:doi":         "10.1/" + id,
		"opr:segments":    []string{"20161014_03"},
		"unrelated":       true,
	}
	var buf bytes.Buffer
	if err := geoparquet.Write(&buf, testRows(t, id, items), []float64{-101, -76, -99, -74}, id, doc); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, id+".parquet"), buf.Bytes(), 0644); err != nil {
		t.Fatal(err)
	}
}

func aggregate(t *testing.T, dir string) *Result {
	t.Helper()
	res, err := Aggregate(context.Background(), Options{Dir: dir, Clock: fixedClock})
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}
	return res
}

func readJSON(t *testing.T, path string, v any) {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("decode %s: %v", path, err)
	}
}

func TestAggregate(t *testing.T) {
	dir := t.TempDir()
	publish(t, dir, "2017_Antarctica_P3", 2, stac.ExtSAR)
	publish(t, dir, "2016_Antarctica_DC8", 3, stac.ExtScientific, stac.ExtSAR)

	res := aggregate(t, dir)
	if diff := cmp.Diff([]string{"2016_Antarctica_DC8", "2017_Antarctica_P3"}, res.Collections); diff != "" {
		t.Errorf("collections mismatch (-want +got):\n%s", diff)
	}
	if res.Items != 5 || len(res.Skipped) != 0 {
		t.Errorf("Items = %d, Skipped = %v", res.Items, res.Skipped)
	}

	var colls []map[string]any
	readJSON(t, filepath.Join(dir, CollectionsFile), &colls)
	if len(colls) != 2 {
		t.Fatalf("collections.json has %d entries", len(colls))
	}
	first := colls[0]
	if first["id"] != "2016_Antarctica_DC8" || first["sci:doi"] != "10.1/2016_Antarctica_DC8" {
		t.Errorf("first entry = %v", first)
	}
	if first["opr:item_count"] != 3.0 {
		t.Errorf("opr:item_count = %v, want 3", first["opr:item_count"])
	}
	if _, ok := first["unrelated"]; ok {
		t.Error("unrelated key copied")
	}
	if diff := cmp.Diff([]any{}, first["links"]); diff != "" {
		t.Errorf("links mismatch (-want +got):\n%s", diff)
	}
	wantAsset := map[string]any{
		"href":  "./2016_Antarctica_DC8.parquet",
		"type":  stac.MediaTypeParquet,
		"title": "Collection data in Apache Parquet format",
		"roles": []any{"data"},
	}
	if diff := cmp.Diff(map[string]any{"data": wantAsset}, first["assets"]); diff != "" {
		t.Errorf("assets mismatch (-want +got):\n%s", diff)
	}

	var cat map[string]any
	readJSON(t, filepath.Join(dir, CatalogFile), &cat)
	if cat["type"] != "Catalog" || cat["id"] != DefaultID || cat["stac_version"] != stac.Version {
		t.Errorf("catalog header = %v %v %v", cat["type"], cat["id"], cat["stac_version"])
	}
	if diff := cmp.Diff([]any{stac.ExtSAR, stac.ExtScientific}, cat["stac_extensions"]); diff != "" {
		t.Errorf("extensions mismatch (-want +got):\n%s", diff)
	}
	links, _ := cat["links"].([]any)
	if len(links) != 3 {
		t.Fatalf("catalog has %d links, want 3", len(links))
	}
	root := links[0].(map[string]any)
	if root["rel"] != "root" || root["href"] != "./catalog.json" {
		t.Errorf("root link = %v", root)
	}
	child := links[1].(map[string]any)
	if child["rel"] != "child" || child["href"] != "./2016_Antarctica_DC8.parquet" ||
		child["title"] != "2016_Antarctica_DC8 title" || child["type"] != stac.MediaTypeParquet {
		t.Errorf("child link = %v", child)
	}

	m, err := manifest.Verify(dir)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	want := []string{"2016_Antarctica_DC8.parquet", "2017_Antarctica_P3.parquet", CatalogFile, CollectionsFile}
	if diff := cmp.Diff(want, m.Names()); diff != "" {
		t.Errorf("manifest names mismatch (-want +got):\n%s", diff)
	}
	if m.Collections != 2 || m.Items != 5 || !m.CreatedAt.Equal(fixedClock()) {
		t.Errorf("manifest = %+v", m)
	}
}

func TestAggregate_Resumable(t *testing.T) {
	dir := t.TempDir()
	publish(t, dir, "A", 1)
	publish(t, dir, "B", 2)
	aggregate(t, dir)

	var before []json.RawMessage
	readJSON(t, filepath.Join(dir, CollectionsFile), &before)

	publish(t, dir, "C", 1)
	res := aggregate(t, dir)
	if diff := cmp.Diff([]string{"A", "B", "C"}, res.Collections); diff != "" {
		t.Errorf("collections mismatch (-want +got):\n%s", diff)
	}

	var after []json.RawMessage
	readJSON(t, filepath.Join(dir, CollectionsFile), &after)
	if len(after) != 3 {
		t.Fatalf("collections.json has %d entries, want 3", len(after))
	}
	for i := range before {
		if !bytes.Equal(before[i], after[i]) {
			t.Errorf("entry %d changed:\nbefore %s\nafter  %s", i, before[i], after[i])
		}
	}
}

func TestAggregate_Deterministic(t *testing.T) {
	dir := t.TempDir()
	publish(t, dir, "A", 1, stac.ExtSAR)
	publish(t, dir, "B", 1, stac.ExtProjection)

	aggregate(t, dir)
	first, err := os.ReadFile(filepath.Join(dir, CatalogFile))
	if err != nil {
		t.Fatal(err)
	}
	aggregate(t, dir)
	second, err := os.ReadFile(filepath.Join(dir, CatalogFile))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(first, second) {
		t.Error("catalog.json differs between runs")
	}
}

func TestAggregate_SkipsBadFiles(t *testing.T) {
	dir := t.TempDir()
	publish(t, dir, "A", 1)
	if err := os.WriteFile(filepath.Join(dir, "broken.parquet"), []byte("not parquet"), 0644); err != nil {
		t.Fatal(err)
	}
	// An unpublished build must not be listed.
	if err := os.WriteFile(filepath.Join(dir, "B.parquet.tmp"), []byte("partial"), 0644); err != nil {
		t.Fatal(err)
	}

	res := aggregate(t, dir)
	if diff := cmp.Diff([]string{"A"}, res.Collections); diff != "" {
		t.Errorf("collections mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"broken.parquet"}, res.Skipped); diff != "" {
		t.Errorf("skipped mismatch (-want +got):\n%s", diff)
	}
	if _, ok := res.Manifest.Files["broken.parquet"]; ok {
		t.Error("manifest lists a skipped file")
	}
}

func TestAggregate_DuplicateID(t *testing.T) {
	dir := t.TempDir()
	publish(t, dir, "A", 1)
	data, err := os.ReadFile(filepath.Join(dir, "A.parquet"))
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "copy.parquet"), data, 0644); err != nil {
		t.Fatal(err)
	}

	res := aggregate(t, dir)
	if diff := cmp.Diff([]string{"A"}, res.Collections); diff != "" {
		t.Errorf("collections mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"copy.parquet"}, res.Skipped); diff != "" {
		t.Errorf("skipped mismatch (-want +got):\n%s", diff)
	}
}

func TestAggregate_Errors(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T) string
	}{
		{"empty directory", func(t *testing.T) string { return t.TempDir() }},
		{"only bad files", func(t *testing.T) string {
			dir := t.TempDir()
			os.WriteFile(filepath.Join(dir, "x.parquet"), []byte("junk"), 0644)
			return dir
		}},
		{"missing directory", func(t *testing.T) string {
			return filepath.Join(t.TempDir(), "missing")
		}},
		{"no directory", func(*testing.T) string { return "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := tt.setup(t)
			_, err := Aggregate(context.Background(), Options{Dir: dir})
			if !errors.Is(err, ErrCatalogAggregationFailed) {
				t.Errorf("error = %v, want ErrCatalogAggregationFailed", err)
			}
			if dir == "" {
				return
			}
			if _, err := os.Stat(filepath.Join(dir, CatalogFile)); err == nil {
				t.Error("catalog.json written on failure")
			}
		})
	}
}

func TestSummarize(t *testing.T) {
	doc := map[string]any{
		"id":                 "A",
		"type":               "Collection",
		"proj:code":          "EPSG:3031",
		"sar:frequency_band": "P",
		"assets":             map[string]any{"old": true},
		"links":              []any{"x"},
		"item_assets":        map[string]any{},
	}
	got := Summarize(doc, "A.parquet", 7)
	for _, k := range []string{"proj:code", "sar:frequency_band", "id", "type"} {
		if _, ok := got[k]; !ok {
			t.Errorf("missing %s", k)
		}
	}
	if _, ok := got["item_assets"]; ok {
		t.Error("item_assets copied")
	}
	if got["opr:item_count"] != int64(7) {
		t.Errorf("opr:item_count = %v", got["opr:item_count"])
	}
	if _, ok := got["assets"].(map[string]any)["old"]; ok {
		t.Error("source assets carried over")
	}
}
