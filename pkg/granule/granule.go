// Package granule extracts one radar frame's trajectory and provider
// metadata from its product files.
package granule

import (
	"errors"
	"math"
	"time"

	"github.com/thomasteisberg/xopr/pkg/attr"
	"github.com/thomasteisberg/xopr/pkg/geom"
)

// Classified extraction errors. Extract wraps one of these with %w.
var (
	// ErrUnreadableFile is an I/O or decode failure on the primary product.
	ErrUnreadableFile = errors.New("unreadable file")
	// ErrMissingGeometry means fewer than two valid trajectory vertices.
	ErrMissingGeometry = errors.New("missing geometry")
	// ErrSchemaMismatch marks an attribute whose kind differs between
	// sources. It is recoverable: the higher-priority value is kept.
	ErrSchemaMismatch = errors.New("schema mismatch")
)

// MediaTypeMAT is the media type of Level 5 MAT-files.
const MediaTypeMAT = "application/x-matlab-data"

// ProductFile is one data product's file for a granule.
type ProductFile struct {
	// Product is the product directory name, e.g. CSARP_standard.
	Product string
	// Path is relative to the data root.
	Path    string
	Size    int64
	ModTime time.Time
	ETag    string
}

// Ref identifies a granule and its product files. Files are in ascending
// priority: extra products first, the primary product last.
type Ref struct {
	ID       string
	Campaign string
	Segment  string
	Frame    int
	Files    []ProductFile
}

// Primary returns the product file that drives the trajectory.
func (r Ref) Primary() ProductFile {
	if len(r.Files) == 0 {
		return ProductFile{}
	}
	return r.Files[len(r.Files)-1]
}

// Radar holds waveform parameters derived from param_records.
type Radar struct {
	CenterFrequencyGHz float64
	BandwidthMHz       float64
}

// Citation holds provenance fields found in the metadata.
type Citation struct {
	DOI        string
	ROR        string
	FunderText string
}

// Text renders the citation paragraph, empty when nothing is known.
func (c Citation) Text() string {
	if c.DOI == "" && c.ROR == "" && c.FunderText == "" {
		return ""
	}
	var s string
	if c.ROR != "" {
		s += "This data was collected by https://ror.org/" + c.ROR + ".\n"
	}
	s += "Data was processed using the Open Polar Radar (OPR) Toolbox: https://doi.org/10.5281/zenodo.5683959\n"
	if c.DOI != "" {
		s += "Please cite the dataset DOI: https://doi.org/" + c.DOI + "\n"
	}
	if c.FunderText != "" {
		s += "Please include the following funder acknowledgment:\n" + c.FunderText + "\n"
	}
	return s
}

// Granule is one extracted frame.
type Granule struct {
	Ref

	Trajectory geom.Trajectory
	// Dropped counts vertices removed for invalid coordinates or time.
	Dropped int

	Start, End time.Time
	// Datetime is the mean acquisition time.
	Datetime time.Time

	// Attributes is the merged provider metadata tree.
	Attributes map[string]attr.Value
	Conflicts  []attr.Conflict
	MediaType  string

	Radar    *Radar
	Citation Citation

	// Cached is set when the record came from the cache.
	Cached bool
}

// GeometryValid reports whether the trajectory is usable as a line.
func (g *Granule) GeometryValid() bool { return len(g.Trajectory) >= 2 }

// unixTime converts fractional Unix seconds to UTC time.
func unixTime(sec float64) time.Time {
	whole, frac := math.Modf(sec)
	return time.Unix(int64(whole), int64(math.Round(frac*1e9))).UTC()
}
