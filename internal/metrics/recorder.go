package metrics

import "time"

// Recorder provides methods for recording metrics.
type Recorder struct{}

// NewRecorder creates a new metrics recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// RecordOrder records a placed entry order.
func (r *Recorder) RecordOrder(instrument, side, orderType string) {
	OrdersTotal.WithLabelValues(instrument, side, orderType).Inc()
}

// RecordFailure records an execution failure at a stage.
func (r *Recorder) RecordFailure(instrument, stage string) {
	ExecutionFailuresTotal.WithLabelValues(instrument, stage).Inc()
}

// RecordAlgoOrder records an attached conditional order.
func (r *Recorder) RecordAlgoOrder(instrument, kind string) {
	AlgoOrdersTotal.WithLabelValues(instrument, kind).Inc()
}

// RecordUnprotectedPosition records a live position left without its
// conditional protection.
func (r *Recorder) RecordUnprotectedPosition(instrument string) {
	UnprotectedPositionsTotal.WithLabelValues(instrument).Inc()
}

// RecordStageDuration observes the latency of one execution stage.
func (r *Recorder) RecordStageDuration(stage string, d time.Duration) {
	StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// RecordMetadataRefresh records a contract metadata refresh.
func (r *Recorder) RecordMetadataRefresh() {
	CacheRefreshTotal.Inc()
}

// RecordPriceRows records persisted price rows.
func (r *Recorder) RecordPriceRows(instrument, timeframe string, n int) {
	PriceRowsWrittenTotal.WithLabelValues(instrument, timeframe).Add(float64(n))
}
