// Package geoparquet writes and reads campaign item tables: one row per
// STAC item, GeoParquet 1.1 column metadata, and the campaign collection in
// the stac:collections key-value entry.
package geoparquet

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/thomasteisberg/xopr/pkg/geom"
	"github.com/thomasteisberg/xopr/pkg/stac"
)

// Metadata keys.
const (
	GeoKey         = "geo"
	CollectionsKey = "stac:collections"
)

// ErrNoCollection indicates a file without stac:collections metadata.
var ErrNoCollection = errors.New("no collection metadata")

// BBox is the bbox covering column.
type BBox struct {
	Xmin float64 `parquet:"xmin"`
	Ymin float64 `parquet:"ymin"`
	Xmax float64 `parquet:"xmax"`
	Ymax float64 `parquet:"ymax"`
}

// Row is one item.
type Row struct {
	Type           string    `parquet:"type,dict"`
	StacVersion    string    `parquet:"stac_version,dict"`
	StacExtensions []string  `parquet:"stac_extensions,list"`
	ID             string    `parquet:"id"`
	Collection     string    `parquet:"collection,dict"`
	Geometry       []byte    `parquet:"geometry"`
	BBox           BBox      `parquet:"bbox"`
	Datetime       time.Time `parquet:"datetime,timestamp(microsecond)"`
	StartDatetime  time.Time `parquet:"start_datetime,timestamp(microsecond)"`
	EndDatetime    time.Time `parquet:"end_datetime,timestamp(microsecond)"`

	Date         string  `parquet:"opr:date,dict"`
	Flight       int32   `parquet:"opr:flight"`
	Segment      int32   `parquet:"opr:segment"`
	TrackLengthM float64 `parquet:"opr:track_length_m"`

	DOI             *string  `parquet:"sci:doi,optional,dict"`
	Citation        *string  `parquet:"sci:citation,optional,dict"`
	CenterFrequency *float64 `parquet:"sar:center_frequency,optional"`
	Bandwidth       *float64 `parquet:"sar:bandwidth,optional"`

	Assets     string `parquet:"assets,json"`
	Links      string `parquet:"links,json"`
	Attributes string `parquet:"opr:attributes,json"`
}

// NewRow flattens an item record into a row.
func NewRow(rec *stac.ItemRecord) (Row, error) {
	wkb, err := geom.WKB(rec.Geometry)
	if err != nil {
		return Row{}, fmt.Errorf("row %s: %w", rec.Item.Id, err)
	}
	assets, err := json.Marshal(rec.Item.Assets)
	if err != nil {
		return Row{}, fmt.Errorf("row %s: assets: %w", rec.Item.Id, err)
	}
	links, err := json.Marshal(rec.Item.Links)
	if err != nil {
		return Row{}, fmt.Errorf("row %s: links: %w", rec.Item.Id, err)
	}
	attrs, err := json.Marshal(rec.Attributes)
	if err != nil {
		return Row{}, fmt.Errorf("row %s: attributes: %w", rec.Item.Id, err)
	}
	bb := rec.Envelope.BBox()
	row := Row{
		Type:            "Feature",
		StacVersion:     rec.Item.Version,
		StacExtensions:  stac.SortedExtensions(rec.Extensions),
		ID:              rec.Item.Id,
		Collection:      rec.Item.Collection,
		Geometry:        wkb,
		BBox:            BBox{Xmin: bb[0], Ymin: bb[1], Xmax: bb[2], Ymax: bb[3]},
		Datetime:        rec.Datetime.UTC(),
		StartDatetime:   rec.Start.UTC(),
		EndDatetime:     rec.End.UTC(),
		Date:            rec.Date,
		Flight:          int32(rec.Flight),
		Segment:         int32(rec.Segment),
		TrackLengthM:    rec.TrackLength,
		CenterFrequency: rec.CenterFrequency,
		Bandwidth:       rec.Bandwidth,
		Assets:          string(assets),
		Links:           string(links),
		Attributes:      string(attrs),
	}
	if rec.DOI != "" {
		doi := rec.DOI
		row.DOI = &doi
	}
	if rec.Citation != "" {
		cite := rec.Citation
		row.Citation = &cite
	}
	return row, nil
}

// GeoMetadata is the GeoParquet file metadata.
type GeoMetadata struct {
	Version       string               `json:"version"`
	PrimaryColumn string               `json:"primary_column"`
	Columns       map[string]GeoColumn `json:"columns"`
}

// GeoColumn describes one geometry column.
type GeoColumn struct {
	Encoding      string              `json:"encoding"`
	GeometryTypes []string            `json:"geometry_types"`
	BBox          []float64           `json:"bbox,omitempty"`
	Covering      map[string]Covering `json:"covering,omitempty"`
}

// Covering maps bbox bounds to struct column paths.
type Covering struct {
	Xmin []string `json:"xmin"`
	Ymin []string `json:"ymin"`
	Xmax []string `json:"xmax"`
	Ymax []string `json:"ymax"`
}

func geoMetadata(bbox []float64) GeoMetadata {
	return GeoMetadata{
		Version:       "1.1.0",
		PrimaryColumn: "geometry",
		Columns: map[string]GeoColumn{
			"geometry": {
				Encoding:      "WKB",
				GeometryTypes: []string{"LineString"},
				BBox:          bbox,
				Covering: map[string]Covering{
					"bbox": {
						Xmin: []string{"bbox", "xmin"},
						Ymin: []string{"bbox", "ymin"},
						Xmax: []string{"bbox", "xmax"},
						Ymax: []string{"bbox", "ymax"},
					},
				},
			},
		},
	}
}

// Write encodes rows and the collection document. bbox is the overall
// [west, south, east, north] of every row.
func Write(w io.Writer, rows []Row, bbox []float64, collectionID string, collection map[string]any) error {
	geo, err := json.Marshal(geoMetadata(bbox))
	if err != nil {
		return fmt.Errorf("encode geo metadata: %w", err)
	}
	colls, err := json.Marshal(map[string]any{collectionID: collection})
	if err != nil {
		return fmt.Errorf("encode collection metadata: %w", err)
	}

	pw := parquet.NewGenericWriter[Row](w,
		parquet.Compression(&parquet.Snappy),
		parquet.KeyValueMetadata(GeoKey, string(geo)),
		parquet.KeyValueMetadata(CollectionsKey, string(colls)),
	)
	if _, err := pw.Write(rows); err != nil {
		pw.Close()
		return fmt.Errorf("write rows: %w", err)
	}
	if err := pw.Close(); err != nil {
		return fmt.Errorf("close parquet writer: %w", err)
	}
	return nil
}

// Summary is the collection-level content of a file.
type Summary struct {
	// Collections maps collection id to its document.
	Collections map[string]json.RawMessage
	Geo         *GeoMetadata
	NumRows     int64
}

// ReadSummary reads only the footer metadata.
func ReadSummary(r io.ReaderAt, size int64) (*Summary, error) {
	f, err := parquet.OpenFile(r, size)
	if err != nil {
		return nil, fmt.Errorf("open parquet file: %w", err)
	}
	raw, ok := f.Lookup(CollectionsKey)
	if !ok {
		return nil, ErrNoCollection
	}
	s := &Summary{NumRows: f.NumRows()}
	if err := json.Unmarshal([]byte(raw), &s.Collections); err != nil {
		return nil, fmt.Errorf("decode %s: %w", CollectionsKey, err)
	}
	if len(s.Collections) == 0 {
		return nil, ErrNoCollection
	}
	if raw, ok := f.Lookup(GeoKey); ok {
		var g GeoMetadata
		if err := json.Unmarshal([]byte(raw), &g); err != nil {
			return nil, fmt.Errorf("decode %s: %w", GeoKey, err)
		}
		s.Geo = &g
	}
	return s, nil
}

// ReadRows reads every row.
func ReadRows(r io.ReaderAt, size int64) ([]Row, error) {
	f, err := parquet.OpenFile(r, size)
	if err != nil {
		return nil, fmt.Errorf("open parquet file: %w", err)
	}
	pr := parquet.NewGenericReader[Row](f)
	defer pr.Close()

	rows := make([]Row, f.NumRows())
	var n int
	for n < len(rows) {
		k, err := pr.Read(rows[n:])
		n += k
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read rows: %w", err)
		}
		if k == 0 {
			break
		}
	}
	return rows[:n], nil
}
