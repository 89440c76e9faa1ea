// Package metrics reports acquisition pipeline metrics to Prometheus
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nasa-jpl/adscope/acquisition"
)

// PromObs is an acquisition.Observer backed by Prometheus collectors
type PromObs struct {
	counters map[string]prometheus.Counter
	gauges   map[string]prometheus.Gauge
	histos   map[string]prometheus.Observer
}

// NewPromObs creates the collectors and registers them with reg.
// prometheus.DefaultRegisterer is used if reg is nil
func NewPromObs(reg prometheus.Registerer) (*PromObs, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	p := &PromObs{
		counters: map[string]prometheus.Counter{},
		gauges:   map[string]prometheus.Gauge{},
		histos:   map[string]prometheus.Observer{},
	}
	counters := []prometheus.CounterOpts{
		{Name: acquisition.MetricSamplesAcquired, Help: "Samples read from the device."},
		{Name: acquisition.MetricSamplesLost, Help: "Samples the device reported lost."},
		{Name: acquisition.MetricSamplesCorrupted, Help: "Samples the device reported corrupted."},
		{Name: acquisition.MetricPreviewDropped, Help: "Preview batches dropped to make room for newer ones."},
		{Name: acquisition.MetricSegments, Help: "Capture segments finalized."},
	}
	gauges := []prometheus.GaugeOpts{
		{Name: acquisition.MetricCaptureQueue, Help: "Batches waiting in the capture channel."},
		{Name: acquisition.MetricRecordedSamples, Help: "Samples in the current recording."},
	}
	var cs []prometheus.Collector
	for _, o := range counters {
		c := prometheus.NewCounter(o)
		p.counters[o.Name] = c
		cs = append(cs, c)
	}
	for _, o := range gauges {
		g := prometheus.NewGauge(o)
		p.gauges[o.Name] = g
		cs = append(cs, g)
	}
	poll := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    acquisition.MetricPollSeconds,
		Help:    "Duration of one device poll.",
		Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
	})
	p.histos[acquisition.MetricPollSeconds] = poll
	cs = append(cs, poll)

	for _, c := range cs {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// IncCounter adds v to the named counter.  Negative values are ignored
func (p *PromObs) IncCounter(name string, v float64) {
	if c, ok := p.counters[name]; ok && v >= 0 {
		c.Add(v)
	}
}

// SetGauge sets the named gauge
func (p *PromObs) SetGauge(name string, v float64) {
	if g, ok := p.gauges[name]; ok {
		g.Set(v)
	}
}

// ObserveLatency records a duration in the named histogram
func (p *PromObs) ObserveLatency(name string, seconds float64) {
	if h, ok := p.histos[name]; ok {
		h.Observe(seconds)
	}
}
