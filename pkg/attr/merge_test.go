package attr

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestMerge_LaterSourceWins(t *testing.T) {
	header := map[string]Value{
		"radar":   Map(map[string]Value{"name": String("mcords"), "fs": Number(1e8)}),
		"version": Number(1),
	}
	product := map[string]Value{
		"radar":  Map(map[string]Value{"fs": Number(2e8), "prf": Number(10000)}),
		"season": String("2016_Antarctica_DC8"),
	}

	merged, conflicts := Merge(header, product)
	if len(conflicts) != 0 {
		t.Fatalf("unexpected conflicts: %v", conflicts)
	}

	radar := merged["radar"].Fields()
	if got, _ := radar["fs"].Num(); got != 2e8 {
		t.Errorf("fs = %v, want product value 2e8", got)
	}
	if got, _ := radar["name"].Str(); got != "mcords" {
		t.Errorf("name = %q, want header value kept", got)
	}
	if _, ok := radar["prf"]; !ok {
		t.Error("prf from product missing after merge")
	}
	if _, ok := merged["version"]; !ok {
		t.Error("version from header missing after merge")
	}
	if _, ok := merged["season"]; !ok {
		t.Error("season from product missing after merge")
	}
}

func TestMerge_KindConflict(t *testing.T) {
	a := map[string]Value{"param": Map(map[string]Value{"gain": Number(3)})}
	b := map[string]Value{"param": Map(map[string]Value{"gain": String("high")})}

	merged, conflicts := Merge(a, b)
	if len(conflicts) != 1 {
		t.Fatalf("expected 1 conflict, got %d", len(conflicts))
	}
	c := conflicts[0]
	if c.Key != "param.gain" || c.Existing != KindNumber || c.Incoming != KindString {
		t.Errorf("unexpected conflict %+v", c)
	}
	got, _ := merged["param"].Fields()["gain"].Str()
	if got != "high" {
		t.Errorf("gain = %q, want last writer to win", got)
	}
}

func TestMerge_NullDoesNotOverride(t *testing.T) {
	a := map[string]Value{"doi": String("10.1/abc")}
	b := map[string]Value{"doi": Null()}

	merged, conflicts := Merge(a, b)
	if len(conflicts) != 0 {
		t.Fatalf("unexpected conflicts: %v", conflicts)
	}
	if got, _ := merged["doi"].Str(); got != "10.1/abc" {
		t.Errorf("doi = %q, want existing value kept", got)
	}
}

func TestMerge_DoesNotAliasSources(t *testing.T) {
	inner := map[string]Value{"x": Number(1)}
	src := map[string]Value{"m": Map(inner)}

	merged, _ := Merge(src)
	merged["m"].Fields()["x"] = Number(2)

	if got, _ := inner["x"].Num(); got != 1 {
		t.Errorf("source mutated through merge result: x = %v", got)
	}
}

func TestFlatten(t *testing.T) {
	tree := map[string]Value{
		"param_records": Map(map[string]Value{
			"radar": Map(map[string]Value{
				"wfs": Sequence(Map(map[string]Value{"f0": Number(1.8e8)})),
			}),
			"day_seg": String("20161014_03"),
		}),
		"empty": Map(nil),
		"top":   Bool(true),
	}

	flat := Flatten(tree)
	want := []string{"param_records.day_seg", "param_records.radar.wfs", "top"}
	if diff := cmp.Diff(want, SortedKeys(flat)); diff != "" {
		t.Errorf("flattened keys mismatch (-want +got):\n%s", diff)
	}
	if flat["param_records.radar.wfs"].Kind() != KindSequence {
		t.Error("sequence leaf should stay a sequence")
	}
}

func TestLookup(t *testing.T) {
	tree := map[string]Value{
		"a": Map(map[string]Value{"b": Map(map[string]Value{"c": Number(7)})}),
	}
	v, ok := Lookup(tree, "a.b.c")
	if !ok {
		t.Fatal("Lookup did not find a.b.c")
	}
	if n, _ := v.Num(); n != 7 {
		t.Errorf("a.b.c = %v, want 7", n)
	}
	if _, ok := Lookup(tree, "a.x.c"); ok {
		t.Error("Lookup found missing path")
	}
}

func TestFindLeaf(t *testing.T) {
	flat := map[string]Value{
		"param_records.doi":    String("deep"),
		"doi":                  String("top"),
		"param_records.notdoi": String("nope"),
		"meta.ror":             String("b"),
		"info.ror":             String("a"),
	}

	tests := []struct {
		name    string
		leaf    string
		wantKey string
		wantOK  bool
	}{
		{"exact key beats nested", "doi", "doi", true},
		{"tie breaks lexically", "ror", "info.ror", true},
		{"suffix must be a full element", "otdoi", "", false},
		{"missing", "funder_text", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, _, ok := FindLeaf(flat, tt.leaf)
			if ok != tt.wantOK || key != tt.wantKey {
				t.Errorf("FindLeaf(%q) = %q, %v; want %q, %v", tt.leaf, key, ok, tt.wantKey, tt.wantOK)
			}
		})
	}
}

func TestValue_JSONRoundTrip(t *testing.T) {
	v := Map(map[string]Value{
		"name": String("accum"),
		"f":    Numbers([]float64{1.5, math.NaN()}),
		"ok":   Bool(true),
	})

	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(data) != `{"f":[1.5,null],"name":"accum","ok":true}` {
		t.Errorf("unexpected JSON %s", data)
	}

	var back Value
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got := back.Fields()["f"].Items()[1]; !got.IsNull() {
		t.Errorf("NaN should decode as null, got %v", got.Kind())
	}
	if got, _ := back.Fields()["name"].Str(); got != "accum" {
		t.Errorf("name = %q", got)
	}
}
