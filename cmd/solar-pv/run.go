package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/banshee-data/solar.report/internal/config"
	"github.com/banshee-data/solar.report/internal/elevation"
	"github.com/banshee-data/solar.report/internal/export"
	"github.com/banshee-data/solar.report/internal/monitoring"
	"github.com/banshee-data/solar.report/internal/pipeline"
)

type runOptions struct {
	demPath        string
	footprintsPath string
	idProperty     string
	outDir         string
	plots          bool
	report         bool
	metricsListen  string
}

func runCmd(root *rootOptions) *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Model every building footprint and store the results as a new job",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runJob(ctx, cmd, root, opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.demPath, "dem", "", "elevation raster (ESRI ASCII grid)")
	f.StringVar(&opts.footprintsPath, "footprints", "", "building footprints (GeoJSON FeatureCollection)")
	f.StringVar(&opts.idProperty, "id-property", export.DefaultIDProperty, "footprint property holding the building id")
	f.StringVar(&opts.outDir, "out", "", "write GeoJSON layers for the job to this directory")
	f.BoolVar(&opts.plots, "plots", false, "with --out, also write a PNG per building")
	f.BoolVar(&opts.report, "report", false, "with --out, also write an HTML summary report")
	f.StringVar(&opts.metricsListen, "metrics-listen", "", "serve Prometheus metrics on this address while running")
	_ = cmd.MarkFlagRequired("dem")
	_ = cmd.MarkFlagRequired("footprints")
	return cmd
}

func runJob(ctx context.Context, cmd *cobra.Command, root *rootOptions, opts *runOptions) error {
	cfg, err := config.Load(root.configPath)
	if err != nil {
		return err
	}
	dem, err := elevation.ReadASCIIFile(opts.demPath)
	if err != nil {
		return err
	}
	buildings, err := export.ReadFootprintsFile(opts.footprintsPath, opts.idProperty)
	if err != nil {
		return err
	}

	database, err := root.openDB()
	if err != nil {
		return err
	}
	defer database.Close()

	metrics := monitoring.NewMetrics()
	if opts.metricsListen != "" {
		stopMetrics := serveMetrics(opts.metricsListen, metrics.Handler())
		defer stopMetrics()
	}

	runner := &pipeline.Runner{DB: database, Metrics: metrics}
	out, runErr := runner.Run(ctx, &pipeline.Job{Config: cfg, Elevation: dem, Buildings: buildings})
	if out == nil {
		return runErr
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "job %s: %d buildings (%d excluded), %d roof planes, %d panels in %v\n",
		out.JobID, out.Counts.Buildings, out.Counts.Excluded, out.Counts.RoofPlanes, out.Counts.Panels,
		out.Duration.Round(time.Millisecond))
	if kwh := panelYield(out); kwh > 0 {
		fmt.Fprintf(w, "panel yield: %.0f kWh/year\n", kwh)
	}
	if runErr != nil || opts.outDir == "" {
		return runErr
	}

	return writeOutputs(ctx, w, database, out.JobID, exportOptions{
		outDir: opts.outDir,
		plots:  opts.plots,
		report: opts.report,
	})
}

func panelYield(out *pipeline.Outcome) float64 {
	var kwh float64
	for _, p := range out.Results.Panels {
		kwh += p.KWhYear
	}
	return kwh
}

// serveMetrics serves h on addr until the returned function is called.
func serveMetrics(addr string, h http.Handler) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", h)
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			monitoring.Logf("metrics server: %v", err)
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			monitoring.Logf("metrics server shutdown: %v", err)
		}
	}
}
