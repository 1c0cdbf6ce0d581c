package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	builtin "github.com/hanpama/dtopipe/internal/builtin"
	config "github.com/hanpama/dtopipe/internal/config"
	discovery "github.com/hanpama/dtopipe/internal/discovery"
	eventbus "github.com/hanpama/dtopipe/internal/eventbus"
	logging "github.com/hanpama/dtopipe/internal/logging"
	metrics "github.com/hanpama/dtopipe/internal/metrics"
	otel "github.com/hanpama/dtopipe/internal/otel"
	processor "github.com/hanpama/dtopipe/internal/processor"
	render "github.com/hanpama/dtopipe/internal/render"
)

// errInvalid is returned when records were processed but failures were
// collected. The failures themselves have already been reported.
var errInvalid = errors.New("invalid input")

type globalFlags struct {
	config  string
	schemas string
	catalog string
	locale  string
	verbose bool
}

// app is the environment shared by all commands.
type app struct {
	cfg      config.Config
	logger   *zap.Logger
	renderer *render.Renderer
	bus      *eventbus.Bus
	metrics  *metrics.Metrics
	shutdown []func(context.Context) error
}

func newRootCmd() *cobra.Command {
	var g globalFlags
	root := &cobra.Command{
		Use:           "dtopipe",
		Short:         "dtopipe - declarative record processing pipelines",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&g.config, "config", "", "Configuration file (.yaml, .yml or .toml)")
	pf.StringVar(&g.schemas, "schemas", "", "Schema directory (overrides schemaDir)")
	pf.StringVar(&g.catalog, "catalogs", "", "Message catalog directory (overrides catalogDir)")
	pf.StringVar(&g.locale, "locale", "", "Rendering locale (overrides locale)")
	pf.BoolVarP(&g.verbose, "verbose", "v", false, "Log at debug level")

	root.AddCommand(newProcessCmd(&g), newCheckCmd(&g), newRenderCmd(&g))
	return root
}

func setup(cmd *cobra.Command, g *globalFlags) (*app, error) {
	cfg, err := config.Load(g.config)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if g.schemas != "" {
		cfg.SchemaDir = g.schemas
	}
	if g.catalog != "" {
		cfg.CatalogDir = g.catalog
	}
	if g.locale != "" {
		cfg.Locale = g.locale
	}
	if g.verbose {
		cfg.Log.Level = "debug"
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}

	ropts := []render.Option{render.WithLogger(logger)}
	if cfg.Locale != "" {
		ropts = append(ropts, render.WithLocale(cfg.Locale))
	}
	for lang, loc := range cfg.LanguageDefaults {
		ropts = append(ropts, render.WithLanguageDefault(lang, loc))
	}
	if cfg.CatalogDir != "" {
		ropts = append(ropts, render.WithSource(render.Layered{
			render.Embedded(),
			render.NewFSSource(os.DirFS(cfg.CatalogDir)),
		}))
	}

	a := &app{
		cfg:      cfg,
		logger:   logger,
		renderer: render.New(ropts...),
		bus:      eventbus.New(),
		metrics:  metrics.New(),
	}
	eventbus.Use(a.bus)
	detach := a.metrics.Attach(a.bus)
	a.shutdown = append(a.shutdown, func(context.Context) error {
		detach()
		eventbus.Use(nil)
		return nil
	})

	shutdown, err := otel.Setup(cmd.Context(), a.bus, cfg.OTel.Endpoint, cfg.OTel.Service)
	if err != nil {
		a.close(cmd.Context())
		return nil, fmt.Errorf("otel setup: %w", err)
	}
	a.shutdown = append(a.shutdown, shutdown)
	return a, nil
}

func (a *app) close(ctx context.Context) {
	for i := len(a.shutdown) - 1; i >= 0; i-- {
		if err := a.shutdown[i](ctx); err != nil {
			a.logger.Warn("shutdown", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}

// processor loads every schema under the schema directory.
func (a *app) processor(ctx context.Context) (*processor.Processor, error) {
	schemas, err := discovery.Load(ctx, a.cfg.SchemaDir)
	if err != nil {
		return nil, fmt.Errorf("load schemas: %w", err)
	}
	a.logger.Debug("schemas loaded", zap.String("dir", a.cfg.SchemaDir), zap.Int("count", len(schemas)))
	return processor.New(
		processor.WithCompilerOptions(builtin.Options()...),
		processor.WithSchemas(schemas...),
		processor.WithLogger(a.logger),
		processor.WithTrace(a.cfg.Trace),
	)
}
