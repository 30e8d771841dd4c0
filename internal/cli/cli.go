// Package cli implements the command-line interface for xopr-stac.
package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"strings"

	"github.com/thomasteisberg/xopr/internal/logctx"
	"github.com/thomasteisberg/xopr/pkg/cache"
	"github.com/thomasteisberg/xopr/pkg/catalog"
	"github.com/thomasteisberg/xopr/pkg/collection"
	"github.com/thomasteisberg/xopr/pkg/config"
	"github.com/thomasteisberg/xopr/pkg/discovery"
	"github.com/thomasteisberg/xopr/pkg/granule"
	"github.com/thomasteisberg/xopr/pkg/logging"
	"github.com/thomasteisberg/xopr/pkg/manifest"
	"github.com/thomasteisberg/xopr/pkg/source"
)

const usage = `usage: xopr-stac <command> [options]
commands:
  build      build one GeoParquet collection per campaign
  aggregate  write catalog.json and collections.json for an output directory
  verify     check an output directory against its manifest`

// Run executes the CLI with the given arguments.
func Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New(usage)
	}

	switch args[0] {
	case "build":
		return runBuild(ctx, args[1:])
	case "aggregate":
		return runAggregate(ctx, args[1:])
	case "verify":
		return runVerify(ctx, args[1:])
	default:
		return fmt.Errorf("unknown command: %s\n%s", args[0], usage)
	}
}

// overrides collects repeated -set flags.
type overrides []string

func (o *overrides) String() string { return strings.Join(*o, ",") }

func (o *overrides) Set(v string) error {
	*o = append(*o, v)
	return nil
}

// commonFlags are shared by build and aggregate.
type commonFlags struct {
	config string
	sets   overrides
	debug  bool
	human  bool
}

func (c *commonFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&c.config, "config", "", "YAML config file")
	fs.Var(&c.sets, "set", "override a config key, e.g. -set processing.n_workers=8 (repeatable)")
	fs.BoolVar(&c.debug, "debug", false, "enable debug logging")
	fs.BoolVar(&c.human, "human", false, "human-readable console logging")
}

// loader is config.Load or config.LoadOutput.
type loader func(path string, overrides []string) (*config.Config, error)

// setup loads the config, initialises logging and returns a context
// carrying the run logger.
func (c *commonFlags) setup(ctx context.Context, load loader) (context.Context, *config.Config, error) {
	cfg, err := load(c.config, c.sets)
	if err != nil {
		return ctx, nil, err
	}
	logging.Init(c.debug || cfg.Logging.Debug, c.human || cfg.Logging.Human)
	ctx = logctx.WithLogger(ctx, *logging.L())
	ctx, _ = logctx.WithRunID(ctx)
	return ctx, cfg, nil
}

func runBuild(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("build", flag.ContinueOnError)
	var common commonFlags
	common.register(fs)
	aggregate := fs.Bool("aggregate", false, "aggregate the catalog after building")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("unexpected arguments: %v", fs.Args())
	}

	ctx, cfg, err := common.setup(ctx, config.Load)
	if err != nil {
		return err
	}
	log := logctx.FromContext(ctx)

	src, err := source.Open(ctx, cfg.SourceRoot(), source.DefaultDownloaderConfig())
	if err != nil {
		return fmt.Errorf("open data root: %w", err)
	}

	var gc granule.Cache
	var records *cache.Cache
	if cc, ok := cfg.GranuleCache(); ok {
		c, err := cache.Open(cc)
		if err != nil {
			return fmt.Errorf("open cache: %w", err)
		}
		defer c.Close()
		gc, records = c, c
	}

	discovered, err := discovery.DiscoverCampaigns(ctx, src, "")
	if err != nil {
		return err
	}
	sel, err := cfg.CampaignFilter().Apply(discovered)
	if err != nil {
		return err
	}
	if len(sel.Missing) > 0 {
		log.Warn().Strs("campaigns", sel.Missing).Msg("included campaigns not found")
	}
	log.Info().
		Str("root", src.URI("")).
		Int("discovered", len(discovered)).
		Int("selected", len(sel.Campaigns)).
		Msg("campaigns selected")

	b, err := collection.NewBuilder(src, gc, cfg.CollectionOptions())
	if err != nil {
		return err
	}
	report := b.Run(ctx, sel.Campaigns)
	buildErr := report.Err()
	if records != nil {
		if n, err := records.Len(ctx); err == nil {
			log.Info().Int("records", n).Msg("granule cache size")
		}
	}
	if err := ctx.Err(); err != nil {
		return errors.Join(buildErr, err)
	}

	if *aggregate {
		if _, err := catalog.Aggregate(ctx, cfg.CatalogOptions()); err != nil {
			return errors.Join(buildErr, err)
		}
	}
	return buildErr
}

func runAggregate(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("aggregate", flag.ContinueOnError)
	var common commonFlags
	common.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("unexpected arguments: %v", fs.Args())
	}

	ctx, cfg, err := common.setup(ctx, config.LoadOutput)
	if err != nil {
		return err
	}
	res, err := catalog.Aggregate(ctx, cfg.CatalogOptions())
	if err != nil {
		return err
	}
	if len(res.Skipped) > 0 {
		log := logctx.FromContext(ctx)
		log.Warn().Strs("files", res.Skipped).Msg("some collection files were skipped")
	}
	return nil
}

func runVerify(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	dir := fs.String("dir", "", "output directory to verify")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *dir == "" {
		return errors.New("--dir is required")
	}

	m, err := manifest.Verify(*dir)
	if err != nil {
		return fmt.Errorf("verify %s: %w", *dir, err)
	}
	log := logctx.FromContext(ctx)
	log.Info().
		Str("dir", *dir).
		Str("catalog_id", m.CatalogID).
		Int("collections", m.Collections).
		Int64("items", m.Items).
		Int("files", len(m.Files)).
		Msg("catalog verified")
	return nil
}
