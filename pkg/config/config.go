// Package config loads xopr-stac settings. Layers apply in order: defaults,
// a YAML file, XOPR_* environment variables, then dotted key=value
// overrides. The result is validated once.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"regexp"
	"runtime"
	"strings"

	"github.com/caarlos0/env/v10"
	"github.com/thomasteisberg/xopr/pkg/cache"
	"github.com/thomasteisberg/xopr/pkg/catalog"
	"github.com/thomasteisberg/xopr/pkg/collection"
	"github.com/thomasteisberg/xopr/pkg/discovery"
	"github.com/thomasteisberg/xopr/pkg/stac"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable, e.g. XOPR_OUTPUT_PATH.
const EnvPrefix = "XOPR_"

// Data sources.
const (
	SourceLocal = "local"
	SourceS3    = "s3"
)

// ErrInvalidConfig is returned for unreadable, unknown or out-of-range
// settings.
var ErrInvalidConfig = errors.New("invalid config")

// Config holds every setting of a run.
type Config struct {
	Data       DataConfig       `yaml:"data" envPrefix:"DATA_"`
	Output     OutputConfig     `yaml:"output" envPrefix:"OUTPUT_"`
	Assets     AssetsConfig     `yaml:"assets" envPrefix:"ASSETS_"`
	Processing ProcessingConfig `yaml:"processing" envPrefix:"PROCESSING_"`
	Cache      CacheConfig      `yaml:"cache" envPrefix:"CACHE_"`
	Logging    LoggingConfig    `yaml:"logging" envPrefix:"LOGGING_"`
}

// DataConfig locates the archive and selects what to index.
type DataConfig struct {
	// Root is a local directory, or a key prefix when Source is s3.
	Root   string `yaml:"root" env:"ROOT"`
	Source string `yaml:"source" env:"SOURCE"`
	Bucket string `yaml:"bucket" env:"BUCKET"`

	PrimaryProduct string   `yaml:"primary_product" env:"PRIMARY_PRODUCT"`
	ExtraProducts  []string `yaml:"extra_products" env:"EXTRA_PRODUCTS"`

	CampaignFilter string     `yaml:"campaign_filter" env:"CAMPAIGN_FILTER"`
	Campaigns      ListFilter `yaml:"campaigns" envPrefix:"CAMPAIGNS_"`
	Segments       ListFilter `yaml:"segments" envPrefix:"SEGMENTS_"`
}

// ListFilter is an include/exclude pair.
type ListFilter struct {
	Include []string `yaml:"include" env:"INCLUDE"`
	Exclude []string `yaml:"exclude" env:"EXCLUDE"`
}

type OutputConfig struct {
	Path               string `yaml:"path" env:"PATH"`
	CatalogID          string `yaml:"catalog_id" env:"CATALOG_ID"`
	CatalogDescription string `yaml:"catalog_description" env:"CATALOG_DESCRIPTION"`
	License            string `yaml:"license" env:"LICENSE"`
	Provider           string `yaml:"provider" env:"PROVIDER"`
}

type AssetsConfig struct {
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
}

type ProcessingConfig struct {
	NWorkers          int     `yaml:"n_workers" env:"N_WORKERS"`
	SegmentWorkers    int     `yaml:"segment_workers" env:"SEGMENT_WORKERS"`
	MaxItems          int     `yaml:"max_items" env:"MAX_ITEMS"`
	SkipRatio         float64 `yaml:"skip_ratio" env:"SKIP_RATIO"`
	SimplifyTolerance float64 `yaml:"simplify_tolerance_m" env:"SIMPLIFY_TOLERANCE_M"`
}

// CacheConfig enables the granule cache when Path is set.
type CacheConfig struct {
	Path string `yaml:"path" env:"PATH"`
}

type LoggingConfig struct {
	Debug bool `yaml:"debug" env:"DEBUG"`
	Human bool `yaml:"human" env:"HUMAN"`
}

// Default returns the configuration before any layer is applied. Data.Root
// and Output.Path have no default.
func Default() Config {
	return Config{
		Data: DataConfig{
			Source:         SourceLocal,
			PrimaryProduct: discovery.DefaultPrimaryProduct,
			ExtraProducts:  []string{"CSARP_layer"},
		},
		Output: OutputConfig{
			CatalogID:          catalog.DefaultID,
			CatalogDescription: catalog.DefaultDescription,
			License:            stac.DefaultLicense,
			Provider:           discovery.DefaultProvider,
		},
		Assets: AssetsConfig{BaseURL: stac.DefaultBaseURL},
		Processing: ProcessingConfig{
			NWorkers:          2 * runtime.NumCPU(),
			SegmentWorkers:    1,
			SkipRatio:         0.5,
			SimplifyTolerance: 100,
		},
	}
}

// Load builds the configuration from path (optional), the environment and
// key=value overrides.
func Load(path string, overrides []string) (*Config, error) {
	return load(path, overrides, (*Config).Validate)
}

// LoadOutput is Load for commands that only work on an output directory.
// Unknown keys are still rejected but data settings are not required.
func LoadOutput(path string, overrides []string) (*Config, error) {
	return load(path, overrides, (*Config).ValidateOutput)
}

func load(path string, overrides []string, validate func(*Config) error) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
		if err := cfg.decodeYAML(data); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrInvalidConfig, path, err)
		}
	}
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("%w: environment: %w", ErrInvalidConfig, err)
	}
	for _, kv := range overrides {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			return nil, fmt.Errorf("%w: override %q is not key=value", ErrInvalidConfig, kv)
		}
		if err := cfg.Set(key, value); err != nil {
			return nil, err
		}
	}
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Set applies one dotted override such as processing.n_workers=8. The
// value is parsed as YAML, so lists take the form [a, b] and an empty
// value clears the key.
func (c *Config) Set(key, value string) error {
	if key == "" {
		return fmt.Errorf("%w: empty override key", ErrInvalidConfig)
	}
	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(value), &doc); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidConfig, key, err)
	}
	node := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!null", Value: "null"}
	if len(doc.Content) > 0 {
		node = doc.Content[0]
	}
	parts := strings.Split(key, ".")
	for i := len(parts) - 1; i >= 0; i-- {
		node = &yaml.Node{
			Kind:    yaml.MappingNode,
			Content: []*yaml.Node{{Kind: yaml.ScalarNode, Value: parts[i]}, node},
		}
	}
	data, err := yaml.Marshal(node)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidConfig, key, err)
	}
	if err := c.decodeYAML(data); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidConfig, key, err)
	}
	return nil
}

// decodeYAML merges data into c. Unknown keys are rejected.
func (c *Config) decodeYAML(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Validate checks every setting.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	switch c.Data.Source {
	case SourceLocal:
		check(c.Data.Root != "", "data.root is required")
	case SourceS3:
		check(c.Data.Bucket != "", "data.bucket is required when data.source is s3")
	default:
		errs = append(errs, fmt.Errorf("data.source must be local or s3, got %q", c.Data.Source))
	}
	check(strings.HasPrefix(c.Data.PrimaryProduct, "CSARP_"),
		"data.primary_product must name a CSARP_ product, got %q", c.Data.PrimaryProduct)
	if c.Data.CampaignFilter != "" {
		_, err := regexp.Compile(c.Data.CampaignFilter)
		check(err == nil, "data.campaign_filter: %v", err)
	}
	if err := c.SegmentFilter().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("data.segments: %w", err))
	}

	errs = append(errs, c.outputErrors()...)

	u, err := url.Parse(c.Assets.BaseURL)
	check(err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != "",
		"assets.base_url must be an http(s) URL, got %q", c.Assets.BaseURL)

	p := c.Processing
	check(p.SegmentWorkers > 0, "processing.segment_workers must be positive, got %d", p.SegmentWorkers)
	check(p.MaxItems >= 0, "processing.max_items must be non-negative, got %d", p.MaxItems)
	check(p.SkipRatio >= 0 && p.SkipRatio <= 1, "processing.skip_ratio must be in [0,1], got %g", p.SkipRatio)
	check(p.SimplifyTolerance >= 0,
		"processing.simplify_tolerance_m must be non-negative, got %g", p.SimplifyTolerance)

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// ValidateOutput checks the settings used to aggregate and verify an
// output directory.
func (c *Config) ValidateOutput() error {
	if err := errors.Join(c.outputErrors()...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

func (c *Config) outputErrors() []error {
	var errs []error
	if c.Output.Path == "" {
		errs = append(errs, errors.New("output.path is required"))
	}
	if c.Output.CatalogID == "" {
		errs = append(errs, errors.New("output.catalog_id is required"))
	}
	if c.Processing.NWorkers <= 0 {
		errs = append(errs, fmt.Errorf("processing.n_workers must be positive, got %d", c.Processing.NWorkers))
	}
	return errs
}

// SourceRoot returns the data root in the form source.Open accepts.
func (c *Config) SourceRoot() string {
	if c.Data.Source == SourceS3 {
		return "s3://" + c.Data.Bucket + "/" + strings.Trim(c.Data.Root, "/")
	}
	return c.Data.Root
}

// CampaignFilter returns the campaign selection.
func (c *Config) CampaignFilter() discovery.Filter {
	return discovery.Filter{
		Regex:   c.Data.CampaignFilter,
		Include: c.Data.Campaigns.Include,
		Exclude: c.Data.Campaigns.Exclude,
	}
}

// SegmentFilter returns the segment selection.
func (c *Config) SegmentFilter() discovery.SegmentFilter {
	return discovery.SegmentFilter{
		Include: c.Data.Segments.Include,
		Exclude: c.Data.Segments.Exclude,
	}
}

// CollectionOptions returns the build options.
func (c *Config) CollectionOptions() collection.Options {
	o := collection.DefaultOptions(c.Output.Path)
	o.Products = discovery.Products{Primary: c.Data.PrimaryProduct, Extra: c.Data.ExtraProducts}
	o.Segments = c.SegmentFilter()
	o.MaxItems = c.Processing.MaxItems
	o.SkipRatio = c.Processing.SkipRatio
	o.NWorkers = c.Processing.NWorkers
	o.SegmentWorkers = c.Processing.SegmentWorkers
	o.SimplifyTolerance = c.Processing.SimplifyTolerance
	o.BaseURL = c.Assets.BaseURL
	o.License = c.Output.License
	o.Provider = c.Output.Provider
	return o
}

// CatalogOptions returns the aggregation options.
func (c *Config) CatalogOptions() catalog.Options {
	return catalog.Options{
		Dir:         c.Output.Path,
		ID:          c.Output.CatalogID,
		Description: c.Output.CatalogDescription,
		Readers:     c.Processing.NWorkers,
	}
}

// GranuleCache returns the granule cache settings, or false when disabled.
func (c *Config) GranuleCache() (cache.Config, bool) {
	if c.Cache.Path == "" {
		return cache.Config{}, false
	}
	return cache.DefaultConfig(c.Cache.Path), true
}
