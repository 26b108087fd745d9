// Package api serves stored jobs over HTTP: job status, GeoJSON layers and
// the HTML summary report.
package api

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/solar.report/internal/db"
	"github.com/banshee-data/solar.report/internal/export"
	"github.com/banshee-data/solar.report/internal/httputil"
	"github.com/banshee-data/solar.report/internal/monitoring"
	"github.com/banshee-data/solar.report/internal/render"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// defaultJobLimit caps /api/jobs without a limit parameter.
const defaultJobLimit = 50

type Server struct {
	db      *db.DB
	metrics *monitoring.Metrics
	// assetsHost is passed to the report page; empty uses the CDN.
	assetsHost string
}

// NewServer serves jobs from db. metrics may be nil, in which case
// /metrics is not mounted.
func NewServer(db *db.DB, metrics *monitoring.Metrics, assetsHost string) *Server {
	return &Server{
		db:         db,
		metrics:    metrics,
		assetsHost: assetsHost,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.health)
	mux.HandleFunc("/api/jobs", s.listJobs)
	mux.HandleFunc("/api/jobs/{id}", s.showJob)
	mux.HandleFunc("/api/jobs/{id}/layers/{layer}", s.showLayer)
	mux.HandleFunc("/api/jobs/{id}/report", s.showReport)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics.Handler())
	}
	return mux
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if err := s.db.PingContext(r.Context()); err != nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	httputil.WriteJSONOK(w, map[string]string{"status": "ok"})
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	limit := defaultJobLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			httputil.BadRequest(w, fmt.Sprintf("invalid limit %q", v))
			return
		}
		limit = n
	}
	jobs, err := s.db.ListJobs(r.Context(), limit)
	if err != nil {
		httputil.InternalServerError(w, err)
		return
	}
	if jobs == nil {
		jobs = []db.Job{}
	}
	httputil.WriteJSONOK(w, jobs)
}

// writeLookupError maps a failed job lookup to 404 or 500.
func writeLookupError(w http.ResponseWriter, err error) {
	if errors.Is(err, db.ErrJobNotFound) {
		httputil.NotFound(w, err.Error())
		return
	}
	httputil.InternalServerError(w, err)
}

func (s *Server) showJob(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	job, err := s.db.GetJob(r.Context(), r.PathValue("id"))
	if err != nil {
		writeLookupError(w, err)
		return
	}
	httputil.WriteJSONOK(w, job)
}

func (s *Server) showLayer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	layer, err := export.ParseLayer(r.PathValue("layer"))
	if err != nil {
		httputil.NotFound(w, err.Error())
		return
	}
	results, err := s.db.LoadResults(r.Context(), r.PathValue("id"))
	if err != nil {
		writeLookupError(w, err)
		return
	}

	var buf bytes.Buffer
	if err := export.Write(&buf, export.Collection(results, layer)); err != nil {
		httputil.InternalServerError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/geo+json")
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) showReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	id := r.PathValue("id")
	results, err := s.db.LoadResults(r.Context(), id)
	if err != nil {
		writeLookupError(w, err)
		return
	}

	var buf bytes.Buffer
	if err := render.ReportPage("Job "+id, s.assetsHost, results).Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Errorf("render report: %w", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
