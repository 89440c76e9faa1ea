package acquisition

// names of the metrics reported to an Observer
const (
	MetricSamplesAcquired  = "adscope_samples_acquired_total"
	MetricSamplesLost      = "adscope_samples_lost_total"
	MetricSamplesCorrupted = "adscope_samples_corrupted_total"
	MetricPreviewDropped   = "adscope_preview_dropped_total"
	MetricSegments         = "adscope_capture_segments_total"
	MetricCaptureQueue     = "adscope_capture_queue_length"
	MetricRecordedSamples  = "adscope_recorded_samples"
	MetricPollSeconds      = "adscope_poll_seconds"
)

// Observer receives pipeline metrics.  Unknown names are ignored by implementations
type Observer interface {
	IncCounter(name string, v float64)
	SetGauge(name string, v float64)
	ObserveLatency(name string, seconds float64)
}

// NopObserver discards everything
type NopObserver struct{}

// IncCounter does nothing
func (NopObserver) IncCounter(string, float64) {}

// SetGauge does nothing
func (NopObserver) SetGauge(string, float64) {}

// ObserveLatency does nothing
func (NopObserver) ObserveLatency(string, float64) {}
