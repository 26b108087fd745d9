// Command solar-pv models rooftop photovoltaic potential for building
// footprints over a LiDAR elevation raster.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/banshee-data/solar.report/internal/db"
	"github.com/banshee-data/solar.report/internal/monitoring"
	"github.com/banshee-data/solar.report/internal/version"
)

// rootOptions holds the persistent flags.
type rootOptions struct {
	configPath string
	dbPath     string
	logLevel   string
	logConsole bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:     "solar-pv",
		Short:   "Rooftop PV potential from LiDAR and building footprints",
		Version: version.String(),
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return opts.setupLogging()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&opts.configPath, "config", "c", "", "job config file (JSON, YAML or TOML); SOLAR_* env vars override")
	pf.StringVar(&opts.dbPath, "db", "solar.db", "sqlite database path")
	pf.StringVar(&opts.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	pf.BoolVar(&opts.logConsole, "log-console", false, "human readable log output")

	cmd.AddCommand(
		runCmd(opts),
		jobsCmd(opts),
		exportCmd(opts),
		migrateCmd(opts),
		serveCmd(opts),
		versionCmd(),
	)
	return cmd
}

func (o *rootOptions) setupLogging() error {
	l, err := monitoring.NewLogger(o.logLevel, o.logConsole)
	if err != nil {
		return err
	}
	monitoring.SetLogger(monitoring.NewZapLogf(l))
	return nil
}

// openDB opens the database and applies outstanding migrations.
func (o *rootOptions) openDB() (*db.DB, error) {
	return db.NewDB(o.dbPath)
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "solar-pv %s\n", version.String())
			return err
		},
	}
}
