// Package discovery resolves the campaigns, segments and frames present
// under a data root, and applies the configured campaign and segment
// filters.
package discovery

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"

	"github.com/thomasteisberg/xopr/internal/logctx"
	"github.com/thomasteisberg/xopr/pkg/geom"
	"github.com/thomasteisberg/xopr/pkg/source"
)

// DefaultProvider names the data provider when none is configured.
const DefaultProvider = "Open Polar Radar"

var campaignPattern = regexp.MustCompile(`^(\d{4})_([^_]+)_([^_]+)$`)

// Campaign is one season, region and aircraft dataset.
type Campaign struct {
	// ID is the directory name, YYYY_Location_Platform.
	ID         string
	Year       int
	Location   string
	Platform   string
	Hemisphere geom.Hemisphere
	Provider   string
	// Path is relative to the data root.
	Path string
}

// ParseCampaign parses a campaign directory name.
func ParseCampaign(name string) (Campaign, bool) {
	m := campaignPattern.FindStringSubmatch(name)
	if m == nil {
		return Campaign{}, false
	}
	year, err := strconv.Atoi(m[1])
	if err != nil {
		return Campaign{}, false
	}
	return Campaign{
		ID:         name,
		Year:       year,
		Location:   m[2],
		Platform:   m[3],
		Hemisphere: HemisphereOf(m[2]),
		Provider:   DefaultProvider,
		Path:       name,
	}, true
}

// HemisphereOf maps a campaign location to its polar hemisphere.
func HemisphereOf(location string) geom.Hemisphere {
	switch location {
	case "Antarctica":
		return geom.HemisphereSouth
	case "Greenland", "Arctic", "Alaska", "Canada", "Svalbard":
		return geom.HemisphereNorth
	}
	return geom.HemisphereUnknown
}

// DiscoverCampaigns lists the campaign directories under root, sorted by
// year then id. Entries that do not look like campaigns are ignored.
func DiscoverCampaigns(ctx context.Context, src source.Source, root string) ([]Campaign, error) {
	entries, err := src.ReadDir(ctx, root)
	if err != nil {
		return nil, fmt.Errorf("discover campaigns in %s: %w", src.URI(root), err)
	}
	var out []Campaign
	for _, e := range entries {
		if !e.Dir {
			continue
		}
		c, ok := ParseCampaign(e.Name)
		if !ok {
			continue
		}
		c.Path = source.Join(root, e.Name)
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Year != out[j].Year {
			return out[i].Year < out[j].Year
		}
		return out[i].ID < out[j].ID
	})
	log := logctx.FromContext(ctx)
	log.Debug().
		Str("root", src.URI(root)).
		Int("campaigns", len(out)).
		Msg("discovered campaigns")
	return out, nil
}

// Filter selects campaigns by id.
type Filter struct {
	// Regex, when set, must match the campaign id.
	Regex string
	// Include, when non-empty, restricts the selection to these ids.
	Include []string
	// Exclude removes ids after Regex and Include are applied.
	Exclude []string
}

// Selection is the result of applying a Filter.
type Selection struct {
	// Campaigns keeps discovery order.
	Campaigns []Campaign
	// Missing lists included ids that were not discovered, sorted.
	Missing []string
}

// Validate checks that the regex compiles.
func (f Filter) Validate() error {
	if f.Regex == "" {
		return nil
	}
	if _, err := regexp.Compile(f.Regex); err != nil {
		return fmt.Errorf("campaign filter: %w", err)
	}
	return nil
}

// Apply selects from discovered. An empty selection is not an error.
func (f Filter) Apply(discovered []Campaign) (Selection, error) {
	var re *regexp.Regexp
	if f.Regex != "" {
		var err error
		if re, err = regexp.Compile(f.Regex); err != nil {
			return Selection{}, fmt.Errorf("campaign filter: %w", err)
		}
	}
	include := toSet(f.Include)
	exclude := toSet(f.Exclude)

	var sel Selection
	found := make(map[string]bool)
	for _, c := range discovered {
		found[c.ID] = true
		if re != nil && !re.MatchString(c.ID) {
			continue
		}
		if len(include) > 0 && !include[c.ID] {
			continue
		}
		if exclude[c.ID] {
			continue
		}
		sel.Campaigns = append(sel.Campaigns, c)
	}
	for id := range include {
		if !found[id] {
			sel.Missing = append(sel.Missing, id)
		}
	}
	sort.Strings(sel.Missing)
	return sel, nil
}

func toSet(ids []string) map[string]bool {
	if len(ids) == 0 {
		return nil
	}
	m := make(map[string]bool, len(ids))
	for _, id := range ids {
		m[id] = true
	}
	return m
}
