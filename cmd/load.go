package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/playlog-cli/internal/config"
	"github.com/sells-group/playlog-cli/internal/loader"
	"github.com/sells-group/playlog-cli/internal/resolve"
	"github.com/sells-group/playlog-cli/internal/transform"
)

var loadCmd = &cobra.Command{
	Use:   "load",
	Short: "Load the song catalog and listening logs",
	Long: `Load the song catalog and listening logs into the warehouse.

The catalog tree is loaded first, one JSON file per track. The log tree is
loaded next; each playback event yields a calendar, user and songplay row,
with the songplay resolved against the catalog by title, artist name and
duration. Each file commits in its own transaction unless load.commit_every
groups several files per commit.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		log := zap.L().With(zap.String("command", "load"))

		applyLoadFlags(cmd, &cfg.Load)
		if err := validateConfig("load"); err != nil {
			return err
		}
		opts, err := loadOptions(cfg.Load)
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		// Ensure migrations are current.
		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "load: migrate")
		}

		log.Info("starting load",
			zap.String("catalog_root", opts.CatalogRoot),
			zap.String("log_root", opts.LogRoot),
			zap.String("resolver", string(opts.Resolver)),
			zap.Int("commit_every", opts.CommitEvery),
		)

		sum, err := loader.New(st, opts, cmd.OutOrStdout()).Load(ctx)
		if err != nil {
			return eris.Wrap(err, "load")
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Load complete: %d catalog files, %d log files, %d rows\n", //nolint:errcheck
			sum.Catalog.FilesDone, sum.Events.FilesDone, sum.Catalog.RowsLoaded+sum.Events.RowsLoaded)
		return nil
	},
}

func init() {
	loadCmd.Flags().String("catalog-root", "", "override load.catalog_root")
	loadCmd.Flags().String("log-root", "", "override load.log_root")
	loadCmd.Flags().String("resolver", "", "override load.resolver (index or query)")
	rootCmd.AddCommand(loadCmd)
}

// applyLoadFlags copies explicitly set flags over the loaded config.
func applyLoadFlags(cmd *cobra.Command, lc *config.LoadConfig) {
	if cmd.Flags().Changed("catalog-root") {
		lc.CatalogRoot, _ = cmd.Flags().GetString("catalog-root")
	}
	if cmd.Flags().Changed("log-root") {
		lc.LogRoot, _ = cmd.Flags().GetString("log-root")
	}
	if cmd.Flags().Changed("resolver") {
		lc.Resolver, _ = cmd.Flags().GetString("resolver")
	}
}

func loadOptions(lc config.LoadConfig) (loader.Options, error) {
	mode, err := resolve.ParseMode(lc.Resolver)
	if err != nil {
		return loader.Options{}, &configError{err: err}
	}
	policy, err := transform.ParseCatalogPolicy(lc.CatalogPolicy)
	if err != nil {
		return loader.Options{}, &configError{err: err}
	}
	return loader.Options{
		CatalogRoot:   lc.CatalogRoot,
		LogRoot:       lc.LogRoot,
		Extension:     lc.Extension,
		CommitEvery:   lc.CommitEvery,
		Resolver:      mode,
		Tolerance:     lc.DurationTolerance,
		CatalogPolicy: policy,
	}, nil
}
