package main

import (
	"io"
	"net/url"
	"regexp"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/playlog-cli/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Long:  "Prints the configuration after defaults, config.yaml and PLAYLOG_* environment overrides are applied. Database passwords are masked.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return writeConfig(cmd.OutOrStdout(), *cfg)
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
}

func writeConfig(out io.Writer, c config.Config) error {
	c.Store.DatabaseURL = redactDSN(c.Store.DatabaseURL)

	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return eris.Wrap(err, "config: encode yaml")
	}
	return eris.Wrap(enc.Close(), "config: flush yaml")
}

var dsnPassword = regexp.MustCompile(`(password=)(\S+)`)

// redactDSN masks the password in a URL or keyword/value connection string.
func redactDSN(dsn string) string {
	if u, err := url.Parse(dsn); err == nil && u.Scheme != "" && u.User != nil {
		return u.Redacted()
	}
	return dsnPassword.ReplaceAllString(dsn, "${1}xxxxx")
}
