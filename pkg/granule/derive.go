package granule

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/thomasteisberg/xopr/pkg/attr"
	"github.com/thomasteisberg/xopr/pkg/geom"
)

// WaveformsPath locates the radar waveform list in the metadata tree.
const WaveformsPath = "param_records.radar.wfs"

// deriveRadar returns the center frequency and bandwidth when every
// waveform reports the same finite f0/f1 pair.
func deriveRadar(tree map[string]attr.Value) *Radar {
	v, ok := attr.Lookup(tree, WaveformsPath)
	if !ok {
		return nil
	}
	var wfs []attr.Value
	switch v.Kind() {
	case attr.KindMap:
		wfs = []attr.Value{v}
	case attr.KindSequence:
		wfs = v.Items()
	default:
		return nil
	}
	if len(wfs) == 0 {
		return nil
	}

	var f0, f1 float64
	for i, wf := range wfs {
		a, okA := wf.Fields()["f0"].Num()
		b, okB := wf.Fields()["f1"].Num()
		if !okA || !okB || !finite(a) || !finite(b) {
			return nil
		}
		if i == 0 {
			f0, f1 = a, b
			continue
		}
		if a != f0 || b != f1 {
			return nil
		}
	}
	return &Radar{
		CenterFrequencyGHz: (f0 + f1) / 2 / 1e9,
		BandwidthMHz:       math.Abs(f1-f0) / 1e6,
	}
}

func finite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }

// deriveCitation picks the shallowest doi, ror and funder_text strings.
func deriveCitation(flat map[string]attr.Value) Citation {
	str := func(name string) string {
		_, v, ok := attr.FindLeaf(flat, name)
		if !ok {
			return ""
		}
		s, _ := v.Str()
		return strings.TrimSpace(s)
	}
	return Citation{
		DOI:        str("doi"),
		ROR:        str("ror"),
		FunderText: str("funder_text"),
	}
}

// record is the cached form of a granule. Fields derivable from it are
// recomputed on load.
type record struct {
	Trajectory geom.Trajectory       `json:"trajectory"`
	Dropped    int                   `json:"dropped"`
	Attributes map[string]attr.Value `json:"attributes"`
	Conflicts  []attr.Conflict       `json:"conflicts,omitempty"`
	MediaType  string                `json:"media_type"`
}

func encodeRecord(g *Granule) ([]byte, error) {
	b, err := json.Marshal(record{
		Trajectory: g.Trajectory,
		Dropped:    g.Dropped,
		Attributes: g.Attributes,
		Conflicts:  g.Conflicts,
		MediaType:  g.MediaType,
	})
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	return b, nil
}

func decodeRecord(b []byte) (record, error) {
	var rec record
	if err := json.Unmarshal(b, &rec); err != nil {
		return record{}, fmt.Errorf("decode record: %w", err)
	}
	if len(rec.Trajectory) < 2 {
		return record{}, fmt.Errorf("decode record: %d vertices", len(rec.Trajectory))
	}
	if rec.Attributes == nil {
		rec.Attributes = map[string]attr.Value{}
	}
	return rec, nil
}
