package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/banshee-data/solar.report/internal/api"
	"github.com/banshee-data/solar.report/internal/monitoring"
)

func serveCmd(root *rootOptions) *cobra.Command {
	var (
		listen     string
		assetsHost string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve stored jobs, GeoJSON layers, reports and metrics over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			database, err := root.openDB()
			if err != nil {
				return err
			}
			defer database.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			s := api.NewServer(database, monitoring.NewMetrics(), assetsHost)
			server := &http.Server{
				Addr:              listen,
				Handler:           api.LoggingMiddleware(s.ServeMux()),
				ReadHeaderTimeout: 10 * time.Second,
			}
			return listenAndServe(ctx, server)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", ":8080", "listen address")
	cmd.Flags().StringVar(&assetsHost, "assets-host", "", "go-echarts asset URL prefix for reports (default CDN)")
	return cmd
}

// listenAndServe runs server until ctx is cancelled, then shuts it down
// gracefully.
func listenAndServe(ctx context.Context, server *http.Server) error {
	errc := make(chan error, 1)
	go func() {
		monitoring.Logf("listening on %s", server.Addr)
		errc <- server.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	monitoring.Logf("shutting down HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	monitoring.Logf("HTTP server stopped")
	return nil
}
