package main

import (
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/playlog-cli/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "playlog",
	Short: "Listening-log warehouse loader",
	Long:  "Loads a song catalog and user listening logs from JSON files into a tracks/artists/calendar/users/songplays star schema.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return &configError{err: err}
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return &configError{err: err}
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitCode(err))
	}
}
