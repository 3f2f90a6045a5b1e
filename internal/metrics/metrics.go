package metrics

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "jobcore"

// Exporter collects job outcome counters and queue depth gauges for the ops
// listener. Counters are atomics so event callbacks never block on it.
type Exporter struct {
	jobsOk  uint64
	jobsErr uint64

	jobsOkDesc  *prometheus.Desc
	jobsErrDesc *prometheus.Desc

	queueDepth *prometheus.GaugeVec
	heapMB     prometheus.Gauge
}

func NewExporter() *Exporter {
	return &Exporter{
		jobsOkDesc:  prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "jobs_ok"), "Number of successfully processed jobs", nil, nil),
		jobsErrDesc: prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "jobs_err"), "Number of jobs which failed in the handler", nil, nil),

		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Per-queue item counts by state",
		}, []string{"queue", "state"}),

		heapMB: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "heap_mb",
			Help:      "Last sampled heap size in MB",
		}),
	}
}

func (e *Exporter) JobOk()  { atomic.AddUint64(&e.jobsOk, 1) }
func (e *Exporter) JobErr() { atomic.AddUint64(&e.jobsErr, 1) }

func (e *Exporter) SetQueueDepth(queue, state string, v float64) {
	e.queueDepth.WithLabelValues(queue, state).Set(v)
}

func (e *Exporter) SetHeapMB(v float64) { e.heapMB.Set(v) }

func (e *Exporter) Describe(d chan<- *prometheus.Desc) {
	d <- e.jobsOkDesc
	d <- e.jobsErrDesc
	e.queueDepth.Describe(d)
	e.heapMB.Describe(d)
}

func (e *Exporter) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(e.jobsOkDesc, prometheus.GaugeValue, float64(atomic.LoadUint64(&e.jobsOk)))
	ch <- prometheus.MustNewConstMetric(e.jobsErrDesc, prometheus.GaugeValue, float64(atomic.LoadUint64(&e.jobsErr)))
	e.queueDepth.Collect(ch)
	e.heapMB.Collect(ch)
}
