package observability

import (
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SimCollector bundles Prometheus metrics for a simulation run. It satisfies
// core.MetricsRecorder so the engine drives it directly.
type SimCollector struct {
	gatherer prometheus.Gatherer

	Steps          prometheus.Counter
	StepDuration   prometheus.Histogram
	PhaseDuration  *prometheus.HistogramVec
	Discrepancies  *prometheus.CounterVec
	DiscrepancyAbs *prometheus.GaugeVec
	NetworkNodes   prometheus.Gauge
	NetworkLinks   prometheus.Gauge
	QueuedVolume   *prometheus.GaugeVec
}

var durationBuckets = []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1}

// NewSimCollector registers simulation metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewSimCollector(reg prometheus.Registerer) (*SimCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	steps, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "watershed_steps_total",
		Help: "Number of completed simulation steps.",
	}), "watershed_steps_total")
	if err != nil {
		return nil, err
	}

	stepDuration, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "watershed_step_duration_seconds",
		Help:    "Wall-clock duration of one simulation step.",
		Buckets: durationBuckets,
	}), "watershed_step_duration_seconds")
	if err != nil {
		return nil, err
	}

	phaseDuration, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "watershed_phase_duration_seconds",
		Help:    "Wall-clock duration of one scheduler phase, labeled by phase.",
		Buckets: durationBuckets,
	}, []string{"phase"}), "watershed_phase_duration_seconds")
	if err != nil {
		return nil, err
	}

	discrepancies, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "watershed_mass_balance_discrepancies_total",
		Help: "Mass balance violations, labeled by entity and conserved field.",
	}, []string{"entity", "field"}), "watershed_mass_balance_discrepancies_total")
	if err != nil {
		return nil, err
	}

	discrepancyAbs, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "watershed_mass_balance_discrepancy",
		Help: "Absolute size of the latest mass balance violation per entity and field.",
	}, []string{"entity", "field"}), "watershed_mass_balance_discrepancy")
	if err != nil {
		return nil, err
	}

	nodes, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "watershed_network_nodes",
		Help: "Current number of nodes in the network.",
	}), "watershed_network_nodes")
	if err != nil {
		return nil, err
	}
	links, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "watershed_network_links",
		Help: "Current number of links in the network.",
	}), "watershed_network_links")
	if err != nil {
		return nil, err
	}

	queued, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "watershed_queued_volume",
		Help: "Volume held in transit by a queue link at step end.",
	}, []string{"link"}), "watershed_queued_volume")
	if err != nil {
		return nil, err
	}

	return &SimCollector{
		gatherer:       gatherer,
		Steps:          steps,
		StepDuration:   stepDuration,
		PhaseDuration:  phaseDuration,
		Discrepancies:  discrepancies,
		DiscrepancyAbs: discrepancyAbs,
		NetworkNodes:   nodes,
		NetworkLinks:   links,
		QueuedVolume:   queued,
	}, nil
}

// Handler exposes a ready-to-use /metrics handler.
func (c *SimCollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// ObserveStep counts a completed step and records its duration.
func (c *SimCollector) ObserveStep(d time.Duration) {
	if c == nil {
		return
	}
	c.Steps.Inc()
	c.StepDuration.Observe(d.Seconds())
}

// ObservePhase records how long one phase took.
func (c *SimCollector) ObservePhase(phase string, d time.Duration) {
	if c == nil {
		return
	}
	c.PhaseDuration.WithLabelValues(phase).Observe(d.Seconds())
}

// RecordDiscrepancy counts a mass balance violation.
func (c *SimCollector) RecordDiscrepancy(entity, field string, amount float64) {
	if c == nil {
		return
	}
	c.Discrepancies.WithLabelValues(entity, field).Inc()
	c.DiscrepancyAbs.WithLabelValues(entity, field).Set(math.Abs(amount))
}

// SetNetworkCounts sets the node and link gauges.
func (c *SimCollector) SetNetworkCounts(nodes, links int) {
	if c == nil {
		return
	}
	c.NetworkNodes.Set(float64(nodes))
	c.NetworkLinks.Set(float64(links))
}

// SetQueuedVolume sets the in-transit gauge of one queue link.
func (c *SimCollector) SetQueuedVolume(link string, volume float64) {
	if c == nil {
		return
	}
	c.QueuedVolume.WithLabelValues(link).Set(volume)
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}

func registerGaugeVec(reg prometheus.Registerer, vec *prometheus.GaugeVec, name string) (*prometheus.GaugeVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}
