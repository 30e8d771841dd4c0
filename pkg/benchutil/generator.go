// Package benchutil generates synthetic radar-sounding archives for
// benchmarks and tests: campaign directories of MAT-file frames laid out
// the way the archive is.
package benchutil

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/thomasteisberg/xopr/pkg/matfile"
)

// Frame is the content of one synthetic frame file.
type Frame struct {
	Times, Lats, Lons, Elevs []float64

	Season string
	// Waveform start and stop frequencies in Hz, one pair per waveform.
	F0, F1 []float64

	DOI, ROR, FunderText string
}

// Vars returns the frame as MAT variables.
func (f Frame) Vars() []*matfile.Array {
	vars := []*matfile.Array{
		matfile.NewDouble("GPS_time", f.Times...),
		matfile.NewDouble("Latitude", f.Lats...),
		matfile.NewDouble("Longitude", f.Lons...),
	}
	if f.Elevs != nil {
		vars = append(vars, matfile.NewDouble("Elevation", f.Elevs...))
	}
	vars = append(vars, matfile.NewChar("file_type", "standard"))

	wfs := make([]map[string]*matfile.Array, len(f.F0))
	for i := range f.F0 {
		wfs[i] = map[string]*matfile.Array{
			"f0": matfile.NewDouble("", f.F0[i]),
			"f1": matfile.NewDouble("", f.F1[i]),
		}
	}
	params := map[string]*matfile.Array{
		"season_name": matfile.NewChar("", f.Season),
		"radar":       matfile.NewStruct("", map[string]*matfile.Array{"wfs": matfile.NewStruct("", wfs...)}),
	}
	if f.DOI != "" {
		params["doi"] = matfile.NewChar("", f.DOI)
	}
	if f.ROR != "" {
		params["ror"] = matfile.NewChar("", f.ROR)
	}
	if f.FunderText != "" {
		params["funder_text"] = matfile.NewChar("", f.FunderText)
	}
	return append(vars, matfile.NewStruct("param_records", params))
}

// WriteFrame writes a frame as a compressed MAT-file.
func WriteFrame(path string, f Frame) error {
	return WriteVars(path, f.Vars()...)
}

// WriteVars writes arbitrary variables as a compressed MAT-file, creating
// parent directories.
func WriteVars(path string, vars ...*matfile.Array) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	w := matfile.NewWriter(out, true)
	for _, v := range vars {
		if err := w.WriteVar(v); err != nil {
			out.Close()
			return err
		}
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	return nil
}

// GeneratorConfig configures synthetic archive generation.
type GeneratorConfig struct {
	// Campaigns are YYYY_Location_Platform ids.
	Campaigns []string
	// SegmentsPerCampaign is the number of flights per campaign.
	SegmentsPerCampaign int
	// FramesPerSegment is the number of frame files per flight.
	FramesPerSegment int
	// SamplesPerFrame is the number of trajectory samples per frame.
	// Adjacent frames share one boundary sample.
	SamplesPerFrame int
	// Primary is the primary product directory.
	Primary string
	// ExtraProducts get a copy of each frame without trajectory variables.
	ExtraProducts []string
	// DOI is written to every frame's param_records when set.
	DOI string
	// Seed for reproducible generation. 0 = use BenchmarkSeed.
	Seed int64
}

// DefaultConfig returns a small archive layout.
func DefaultConfig(campaigns ...string) GeneratorConfig {
	return GeneratorConfig{
		Campaigns:           campaigns,
		SegmentsPerCampaign: 2,
		FramesPerSegment:    3,
		SamplesPerFrame:     20,
		Primary:             "CSARP_standard",
		Seed:                BenchmarkSeed,
	}
}

// Generator writes synthetic archives.
type Generator struct {
	cfg GeneratorConfig
	rng *rand.Rand
}

// NewGenerator creates a new archive generator.
func NewGenerator(cfg GeneratorConfig) *Generator {
	seed := cfg.Seed
	if seed == 0 {
		seed = BenchmarkSeed
	}
	if cfg.Primary == "" {
		cfg.Primary = "CSARP_standard"
	}
	return &Generator{cfg: cfg, rng: rand.New(rand.NewSource(seed))}
}

// FramePath returns the archive-relative path of a frame file.
func FramePath(campaign, product, segment string, frame int) string {
	return filepath.Join(campaign, product, segment, fmt.Sprintf("Data_%s_%03d.mat", segment, frame))
}

// WriteTree writes every configured campaign under root and returns the
// primary frame paths, relative to root, in acquisition order.
func (g *Generator) WriteTree(root string) ([]string, error) {
	var paths []string
	for _, c := range g.cfg.Campaigns {
		year, lat0 := campaignOrigin(c)
		for s := 1; s <= g.cfg.SegmentsPerCampaign; s++ {
			segment := fmt.Sprintf("%d1014_%02d", year, s)
			start := time.Date(year, 10, 14, 8+s, 0, 0, 0, time.UTC)
			lon0 := g.rng.Float64()*20 - 10
			for k := 1; k <= g.cfg.FramesPerSegment; k++ {
				f := g.frame(start, lat0, lon0, k-1)
				f.DOI = g.cfg.DOI
				rel := FramePath(c, g.cfg.Primary, segment, k)
				if err := WriteFrame(filepath.Join(root, rel), f); err != nil {
					return nil, err
				}
				paths = append(paths, rel)
				for _, p := range g.cfg.ExtraProducts {
					extra := []*matfile.Array{matfile.NewChar("file_type", strings.ToLower(strings.TrimPrefix(p, "CSARP_")))}
					if err := WriteVars(filepath.Join(root, FramePath(c, p, segment, k)), extra...); err != nil {
						return nil, err
					}
				}
			}
		}
	}
	return paths, nil
}

// frame generates frame k of a flight. Samples are one second apart and
// move east; frame k starts on the last sample of frame k-1.
func (g *Generator) frame(start time.Time, lat0, lon0 float64, k int) Frame {
	n := g.cfg.SamplesPerFrame
	f := Frame{
		Times:  make([]float64, n),
		Lats:   make([]float64, n),
		Lons:   make([]float64, n),
		Elevs:  make([]float64, n),
		Season: "synthetic",
		F0:     []float64{1.8e8, 1.8e8},
		F1:     []float64{2.1e8, 2.1e8},
	}
	t0 := float64(start.Unix())
	for i := 0; i < n; i++ {
		step := float64(k*(n-1) + i)
		f.Times[i] = t0 + step
		f.Lats[i] = lat0 + 0.0005*step + g.rng.Float64()*1e-5
		f.Lons[i] = lon0 + 0.001*step
		f.Elevs[i] = 500 + g.rng.Float64()*10
	}
	return f
}

// campaignOrigin returns the year and a plausible latitude for a campaign id.
func campaignOrigin(id string) (int, float64) {
	parts := strings.SplitN(id, "_", 3)
	year, err := strconv.Atoi(parts[0])
	if err != nil {
		year = 2016
	}
	lat := 40.0
	if len(parts) > 1 {
		switch parts[1] {
		case "Antarctica":
			lat = -75
		case "Greenland", "Arctic":
			lat = 72
		}
	}
	return year, lat
}
