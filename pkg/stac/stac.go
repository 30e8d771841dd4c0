// Package stac assembles STAC items and collections for radar granules and
// campaigns on top of planetlabs/go-stac.
package stac

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	gostac "github.com/planetlabs/go-stac"
)

// Version is the STAC version written to every document.
const Version = "1.1.0"

// Extension schema URIs.
const (
	ExtFile       = "https://stac-extensions.github.io/file/v2.1.0/schema.json"
	ExtScientific = "https://stac-extensions.github.io/scientific/v1.0.0/schema.json"
	ExtSAR        = "https://stac-extensions.github.io/sar/v1.3.0/schema.json"
	ExtProjection = "https://stac-extensions.github.io/projection/v2.0.0/schema.json"
)

// Media types.
const (
	MediaTypeJSON    = "application/json"
	MediaTypeParquet = "application/vnd.apache.parquet"
	MediaTypeJPEG    = "image/jpeg"
)

type (
	Item       = gostac.Item
	Collection = gostac.Collection
	Catalog    = gostac.Catalog
	Asset      = gostac.Asset
	Link       = gostac.Link
	Provider   = gostac.Provider
	Extent     = gostac.Extent
)

// Timestamp formats t the way every document does.
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// Document renders doc (a go-stac value) as a generic JSON object with its
// type, stac_extensions and extension fields filled in. Numbers keep their
// encoded text.
func Document(doc any, typ string, extensions []string, fields map[string]any) (map[string]any, error) {
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", typ, err)
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("decode %s: %w", typ, err)
	}
	m["type"] = typ
	if len(extensions) > 0 {
		m["stac_extensions"] = SortedExtensions(extensions)
	} else {
		delete(m, "stac_extensions")
	}
	for k, v := range fields {
		m[k] = v
	}
	return m, nil
}

// SortedExtensions returns the distinct extension URIs in sorted order.
func SortedExtensions(exts ...[]string) []string {
	seen := make(map[string]bool)
	out := []string{}
	for _, list := range exts {
		for _, e := range list {
			if !seen[e] {
				seen[e] = true
				out = append(out, e)
			}
		}
	}
	sort.Strings(out)
	return out
}

// Ordered is a value that can be consolidated.
type Ordered interface {
	~string | ~float64
}

// Consolidation is the set of distinct values members carried.
type Consolidation[T Ordered] struct {
	// Distinct is sorted.
	Distinct []T
}

// Consolidate collects the distinct values. Members without a value are
// ignored.
func Consolidate[T Ordered](values []T) Consolidation[T] {
	seen := make(map[T]bool)
	var c Consolidation[T]
	for _, v := range values {
		if !seen[v] {
			seen[v] = true
			c.Distinct = append(c.Distinct, v)
		}
	}
	sort.Slice(c.Distinct, func(i, j int) bool { return c.Distinct[i] < c.Distinct[j] })
	return c
}

// Consistent reports whether members agree, vacuously when none carry one.
func (c Consolidation[T]) Consistent() bool { return len(c.Distinct) <= 1 }

// Promoted returns the single agreed value.
func (c Consolidation[T]) Promoted() (T, bool) {
	if len(c.Distinct) == 1 {
		return c.Distinct[0], true
	}
	var zero T
	return zero, false
}
