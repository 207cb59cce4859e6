package afkak

import (
	metrics "github.com/rcrowley/go-metrics"
)

// newUniformSample mirrors the sample size sarama's own producer uses
// for its batch-size and records-per-request histograms.
func newUniformSample() metrics.Sample {
	return metrics.NewUniformSample(1028)
}

func (e *engine) recordSuccessMetrics(n int) {
	if e.p.cfg.metrics == nil {
		return
	}
	metrics.GetOrRegisterMeter("produce-success", e.p.cfg.metrics).Mark(int64(n))
}

func (e *engine) recordErrorMetrics(n int) {
	if e.p.cfg.metrics == nil {
		return
	}
	metrics.GetOrRegisterMeter("produce-errors", e.p.cfg.metrics).Mark(int64(n))
}
