package main

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/banshee-data/solar.report/internal/db"
	"github.com/banshee-data/solar.report/internal/export"
	"github.com/banshee-data/solar.report/internal/fsutil"
	"github.com/banshee-data/solar.report/internal/render"
	"github.com/banshee-data/solar.report/internal/security"
)

type exportOptions struct {
	outDir string
	layers []string
	plots  bool
	report bool
}

func exportCmd(root *rootOptions) *cobra.Command {
	opts := exportOptions{}

	cmd := &cobra.Command{
		Use:   "export <job-id>",
		Short: "Write a stored job as GeoJSON layers, with optional plots and report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			database, err := root.openDB()
			if err != nil {
				return err
			}
			defer database.Close()
			return writeOutputs(cmd.Context(), cmd.OutOrStdout(), database, args[0], opts)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.outDir, "out", "o", ".", "output directory")
	f.StringSliceVar(&opts.layers, "layer", nil, "layers to write: buildings, roof_planes, panels (default all)")
	f.BoolVar(&opts.plots, "plots", false, "also write a PNG per building")
	f.BoolVar(&opts.report, "report", false, "also write an HTML summary report")
	return cmd
}

// writeOutputs exports a stored job to opts.outDir and lists the files
// written on w.
func writeOutputs(ctx context.Context, w io.Writer, database *db.DB, jobID string, opts exportOptions) error {
	layers := make([]export.Layer, 0, len(opts.layers))
	for _, s := range opts.layers {
		l, err := export.ParseLayer(s)
		if err != nil {
			return err
		}
		layers = append(layers, l)
	}

	results, err := database.LoadResults(ctx, jobID)
	if err != nil {
		return err
	}

	fsys := fsutil.OSFileSystem{}
	paths, err := export.WriteLayers(fsys, opts.outDir, jobID, results, layers...)
	if err != nil {
		return err
	}
	if opts.plots {
		plotDir := filepath.Join(opts.outDir, security.SanitizeFilename(jobID)+"_plots")
		plotted, err := render.WriteBuildingPlots(fsys, plotDir, results)
		if err != nil {
			return err
		}
		paths = append(paths, plotted...)
	}
	if opts.report {
		path, err := security.JoinWithin(opts.outDir, jobID+"_report.html")
		if err != nil {
			return err
		}
		if err := render.WriteReport(fsys, path, "Job "+jobID, results); err != nil {
			return err
		}
		paths = append(paths, path)
	}

	for _, p := range paths {
		fmt.Fprintln(w, p)
	}
	return nil
}

func jobsCmd(root *rootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List stored jobs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			database, err := root.openDB()
			if err != nil {
				return err
			}
			defer database.Close()

			jobs, err := database.ListJobs(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return printJobs(cmd.OutOrStdout(), jobs)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum jobs to list (0 for all)")
	return cmd
}

func printJobs(w io.Writer, jobs []db.Job) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "JOB\tSTATUS\tCREATED\tBUILDINGS\tEXCLUDED\tPLANES\tPANELS\tERROR")
	for _, j := range jobs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%d\t%s\n",
			j.ID, j.Status, j.Created.Format(time.RFC3339),
			j.Counts.Buildings, j.Counts.Excluded, j.Counts.RoofPlanes, j.Counts.Panels, j.Error)
	}
	return tw.Flush()
}
