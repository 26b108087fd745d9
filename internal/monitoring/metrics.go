package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "solar"

// BuildingDurationBuckets spans small sheds to large warehouses.
var BuildingDurationBuckets = []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60}

// Metrics holds the pipeline collectors on a private registry. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	Buildings        *prometheus.CounterVec
	Planes           prometheus.Counter
	Panels           prometheus.Counter
	Rejections       *prometheus.CounterVec
	BuildingDuration prometheus.Histogram
	TileFailures     prometheus.Counter
}

// NewMetrics creates and registers the pipeline collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		Buildings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "buildings_total",
			Help:      "Buildings processed, by outcome.",
		}, []string{"outcome"}),
		Planes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "roof_planes_total",
			Help:      "Roof planes detected.",
		}),
		Panels: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "panels_total",
			Help:      "Panels placed on usable roof planes.",
		}),
		Rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ransac",
			Name:      "rejections_total",
			Help:      "Candidate planes rejected, by reason.",
		}, []string{"reason"}),
		BuildingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "building_duration_seconds",
			Help:      "Time to model one building.",
			Buckets:   BuildingDurationBuckets,
		}),
		TileFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "irradiation",
			Name:      "tile_failures_total",
			Help:      "Irradiation engine tile failures.",
		}),
	}
	m.Registry.MustRegister(m.Buildings, m.Planes, m.Panels, m.Rejections, m.BuildingDuration, m.TileFailures)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// ObserveBuilding records one building's outcome and duration. outcome is
// "modelled" or the exclusion reason.
func (m *Metrics) ObserveBuilding(outcome string, planes, panels int, d time.Duration) {
	if m == nil {
		return
	}
	m.Buildings.WithLabelValues(outcome).Inc()
	m.Planes.Add(float64(planes))
	m.Panels.Add(float64(panels))
	m.BuildingDuration.Observe(d.Seconds())
}

// ObserveRejections adds RANSAC rejection counts keyed by reason.
func (m *Metrics) ObserveRejections(counts map[string]int) {
	if m == nil {
		return
	}
	for reason, n := range counts {
		m.Rejections.WithLabelValues(reason).Add(float64(n))
	}
}

// ObserveTileFailure counts one failed irradiation tile.
func (m *Metrics) ObserveTileFailure() {
	if m == nil {
		return
	}
	m.TileFailures.Inc()
}
