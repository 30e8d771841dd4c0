// Package catalog aggregates the published campaign files of an output
// directory into catalog.json, collections.json and manifest.json. It reads
// only file footers and never re-derives item content.
package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/thomasteisberg/xopr/internal/logctx"
	"github.com/thomasteisberg/xopr/pkg/fileutil"
	"github.com/thomasteisberg/xopr/pkg/geoparquet"
	"github.com/thomasteisberg/xopr/pkg/logging"
	"github.com/thomasteisberg/xopr/pkg/manifest"
	"github.com/thomasteisberg/xopr/pkg/stac"
	"golang.org/x/sync/errgroup"
)

// Output file names.
const (
	CatalogFile     = "catalog.json"
	CollectionsFile = "collections.json"
)

// Defaults for the catalog document.
const (
	DefaultID          = "OPR"
	DefaultDescription = "Open Polar Radar airborne data"
)

// ErrCatalogAggregationFailed means no catalog was published.
var ErrCatalogAggregationFailed = errors.New("catalog aggregation failed")

// Options controls aggregation.
type Options struct {
	// Dir holds the campaign files and receives the catalog files.
	Dir         string
	ID          string
	Description string
	// Readers is the number of footers read concurrently. Default: 8
	Readers int
	// Clock stamps the manifest. Default: time.Now
	Clock func() time.Time
}

func (o *Options) validate() error {
	if o.Dir == "" {
		return errors.New("output directory is required")
	}
	if o.ID == "" {
		o.ID = DefaultID
	}
	if o.Description == "" {
		o.Description = DefaultDescription
	}
	if o.Readers <= 0 {
		o.Readers = 8
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	return nil
}

// Result describes a published catalog.
type Result struct {
	// Collections are the listed collection ids, sorted.
	Collections []string `json:"collections"`
	// Skipped are campaign files that could not be read.
	Skipped  []string           `json:"skipped,omitempty"`
	Items    int64              `json:"items"`
	Manifest *manifest.Manifest `json:"-"`
}

// entry is one readable campaign file.
type entry struct {
	file    string
	id      string
	doc     map[string]any
	numRows int64
}

// Aggregate lists the campaign files of opts.Dir and publishes the catalog
// files atomically. Unreadable campaign files are skipped with a warning;
// errors wrap ErrCatalogAggregationFailed.
func Aggregate(ctx context.Context, opts Options) (*Result, error) {
	start := time.Now()
	if err := opts.validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCatalogAggregationFailed, err)
	}
	log := logctx.FromContext(ctx).With().Str("phase", "aggregate").Logger()
	fail := func(err error) (*Result, error) {
		return nil, fmt.Errorf("%w: %w", ErrCatalogAggregationFailed, err)
	}

	files, err := listCampaignFiles(opts.Dir)
	if err != nil {
		return fail(err)
	}

	read := make([]*entry, len(files))
	readErrs := make([]error, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Readers)
	for i, name := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			read[i], readErrs[i] = readEntry(filepath.Join(opts.Dir, name))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fail(err)
	}

	res := &Result{}
	byID := make(map[string]*entry)
	var listed []string
	for i, e := range read {
		if readErrs[i] != nil {
			log.Warn().Err(readErrs[i]).Str("file", files[i]).Msg("skipping unreadable collection file")
			res.Skipped = append(res.Skipped, files[i])
			continue
		}
		if prev, ok := byID[e.id]; ok {
			log.Warn().Str("file", e.file).Str("collection", e.id).Str("kept", prev.file).
				Msg("skipping duplicate collection id")
			res.Skipped = append(res.Skipped, files[i])
			continue
		}
		byID[e.id] = e
		listed = append(listed, e.file)
		res.Collections = append(res.Collections, e.id)
		res.Items += e.numRows
	}
	if len(res.Collections) == 0 {
		return fail(fmt.Errorf("no valid collections in %s", opts.Dir))
	}
	sort.Strings(res.Collections)

	entries := make([]*entry, len(res.Collections))
	for i, id := range res.Collections {
		entries[i] = byID[id]
	}

	summaries := make([]map[string]any, len(entries))
	for i, e := range entries {
		summaries[i] = Summarize(e.doc, e.file, e.numRows)
	}
	if err := writeJSON(log, filepath.Join(opts.Dir, CollectionsFile), summaries); err != nil {
		return fail(err)
	}

	cat, err := catalogDocument(opts, entries)
	if err != nil {
		return fail(err)
	}
	if err := writeJSON(log, filepath.Join(opts.Dir, CatalogFile), cat); err != nil {
		return fail(err)
	}

	names := append(append([]string(nil), listed...), CatalogFile, CollectionsFile)
	sort.Strings(names)
	res.Manifest, err = manifest.Write(opts.Dir, manifest.Manifest{
		CreatedAt:   opts.Clock(),
		CatalogID:   opts.ID,
		Collections: len(entries),
		Items:       res.Items,
	}, names)
	if err != nil {
		return fail(err)
	}

	logging.PhaseComplete(log, "aggregate", time.Since(start)).
		Int("collections", len(entries)).
		Int("skipped", len(res.Skipped)).
		Count("items", res.Items).
		Log("catalog published")
	return res, nil
}

// listCampaignFiles returns the *.parquet file names of dir, sorted.
// Unpublished .tmp files never match.
func listCampaignFiles(dir string) ([]string, error) {
	des, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	var out []string
	for _, de := range des {
		if !de.IsDir() && strings.HasSuffix(de.Name(), ".parquet") {
			out = append(out, de.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}

func readEntry(path string) (*entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	sum, err := geoparquet.ReadSummary(f, info.Size())
	if err != nil {
		return nil, err
	}
	if len(sum.Collections) != 1 {
		return nil, fmt.Errorf("expected one collection, found %d", len(sum.Collections))
	}
	e := &entry{file: filepath.Base(path), numRows: sum.NumRows}
	for id, raw := range sum.Collections {
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		if err := dec.Decode(&e.doc); err != nil {
			return nil, fmt.Errorf("decode collection %s: %w", id, err)
		}
		e.id = id
	}
	if e.doc == nil {
		return nil, fmt.Errorf("collection %s: %w", e.id, geoparquet.ErrNoCollection)
	}
	return e, nil
}

// copiedKeys are collection members carried into collections.json besides
// the sci:, sar:, proj: and opr: extension fields.
var copiedKeys = []string{
	"type", "stac_version", "stac_extensions", "id", "title", "description",
	"keywords", "license", "providers", "extent", "summaries", "updated",
}

var copiedPrefixes = []string{"sci:", "sar:", "proj:", "opr:"}

// Summarize returns the collections.json entry for a collection document
// stored in file, pointing its data asset at the file.
func Summarize(doc map[string]any, file string, numRows int64) map[string]any {
	out := make(map[string]any, len(doc))
	for _, k := range copiedKeys {
		if v, ok := doc[k]; ok {
			out[k] = v
		}
	}
	for k, v := range doc {
		for _, p := range copiedPrefixes {
			if strings.HasPrefix(k, p) {
				out[k] = v
				break
			}
		}
	}
	out["type"] = "Collection"
	out["opr:item_count"] = numRows
	out["links"] = []any{}
	out["assets"] = map[string]any{
		"data": map[string]any{
			"href":  "./" + file,
			"type":  stac.MediaTypeParquet,
			"title": "Collection data in Apache Parquet format",
			"roles": []string{"data"},
		},
	}
	return out
}

func catalogDocument(opts Options, entries []*entry) (map[string]any, error) {
	links := []*stac.Link{{
		Rel:  "root",
		Href: "./" + CatalogFile,
		Type: stac.MediaTypeJSON,
	}}
	var exts [][]string
	for _, e := range entries {
		title, _ := e.doc["title"].(string)
		if title == "" {
			title = e.id
		}
		links = append(links, &stac.Link{
			Rel:   "child",
			Href:  "./" + e.file,
			Type:  stac.MediaTypeParquet,
			Title: title,
		})
		exts = append(exts, stringList(e.doc["stac_extensions"]))
	}
	cat := &stac.Catalog{
		Version:     stac.Version,
		Id:          opts.ID,
		Description: opts.Description,
		Links:       links,
	}
	return stac.Document(cat, "Catalog", stac.SortedExtensions(exts...), nil)
}

func stringList(v any) []string {
	items, _ := v.([]any)
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func writeJSON(log zerolog.Logger, path string, v any) error {
	start := time.Now()
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	data = append(data, '\n')
	if err := fileutil.WriteFile(path, data); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	logging.FileCreated(log, "aggregate", time.Since(start)).
		Str("path", path).
		Bytes("bytes", int64(len(data))).
		LogDebug("catalog file written")
	return nil
}
