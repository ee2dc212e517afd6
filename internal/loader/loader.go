package loader

import (
	"context"
	"errors"
	"io"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/playlog-cli/internal/model"
	"github.com/sells-group/playlog-cli/internal/resolve"
	"github.com/sells-group/playlog-cli/internal/source"
	"github.com/sells-group/playlog-cli/internal/store"
	"github.com/sells-group/playlog-cli/internal/transform"
)

// Options configures a full load.
type Options struct {
	CatalogRoot   string
	LogRoot       string
	Extension     string
	CommitEvery   int
	Resolver      resolve.Mode
	Tolerance     float64
	CatalogPolicy transform.CatalogPolicy
}

// Summary reports the outcome of both phases.
type Summary struct {
	Catalog model.RunResult
	Events  model.RunResult
}

// Loader runs the catalog phase and then the event phase.
type Loader struct {
	store  store.Store
	opts   Options
	driver *Driver
}

// New creates a Loader writing progress lines to out.
func New(st store.Store, opts Options, out io.Writer) *Loader {
	if opts.Extension == "" {
		opts.Extension = ".json"
	}
	if opts.Resolver == "" {
		opts.Resolver = resolve.ModeIndex
	}
	if opts.CatalogPolicy == "" {
		opts.CatalogPolicy = transform.CatalogFirst
	}
	return &Loader{
		store:  st,
		opts:   opts,
		driver: NewDriver(st, opts.Extension, opts.CommitEvery, out),
	}
}

// Load loads the catalog tree, builds the resolver from what is now
// persisted, and loads the event tree.
func (l *Loader) Load(ctx context.Context) (Summary, error) {
	log := zap.L().With(zap.String("component", "loader"))
	var sum Summary

	res, err := l.driver.Run(ctx, model.SourceCatalog, l.opts.CatalogRoot, l.processCatalog)
	sum.Catalog = res
	if err != nil {
		return sum, err
	}

	resolver, err := l.resolver(ctx)
	if err != nil {
		return sum, err
	}
	events := transform.NewEventTransformer(resolver)

	res, err = l.driver.Run(ctx, model.SourceEvents, l.opts.LogRoot, func(ctx context.Context, path string) (*model.Batch, error) {
		records, err := source.ReadFile(path)
		if err != nil {
			return nil, err
		}
		batch, err := events.Transform(ctx, records)
		return batch, withPath(err, path)
	})
	sum.Events = res
	if err != nil {
		return sum, err
	}

	log.Info("load complete",
		zap.Int("catalog_files", sum.Catalog.FilesDone),
		zap.Int("event_files", sum.Events.FilesDone),
		zap.Int64("rows", sum.Catalog.RowsLoaded+sum.Events.RowsLoaded),
	)
	return sum, nil
}

func (l *Loader) processCatalog(_ context.Context, path string) (*model.Batch, error) {
	records, err := source.ReadFile(path)
	if err != nil {
		return nil, err
	}
	batch, err := transform.CatalogBatch(records, l.opts.CatalogPolicy)
	return batch, withPath(err, path)
}

func (l *Loader) resolver(ctx context.Context) (transform.Resolver, error) {
	switch l.opts.Resolver {
	case resolve.ModeQuery:
		return resolve.NewQueryResolver(l.store, l.opts.Tolerance), nil
	case resolve.ModeIndex:
		idx, err := resolve.Build(ctx, l.store, l.opts.Tolerance)
		if err != nil {
			return nil, eris.Wrap(err, "loader: build resolver index")
		}
		return idx, nil
	default:
		return nil, eris.Errorf("loader: unknown resolver %q", l.opts.Resolver)
	}
}

// withPath stamps path onto a ParseError that does not carry one yet.
func withPath(err error, path string) error {
	var pe *source.ParseError
	if errors.As(err, &pe) && pe.Path == "" {
		pe.Path = path
	}
	return err
}
