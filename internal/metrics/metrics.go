// Package metrics exposes the journal's Prometheus instrumentation.
//
// Grounded in the teacher's metrics_backend.go / metrics_instrumentation.go
// split between a small recorder interface and a concrete backend, so the
// journal's call sites never import prometheus directly — only this
// package's Recorder interface.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Recorder is the instrumentation surface the journal calls into. A no-op
// implementation is trivial to provide for tests that don't care about
// metrics.
type Recorder interface {
	WriteAttempted(events int)
	WriteFailed()
	WriteBackpressure()
	DeleteAccepted()
	DeleteRejectedBackpressure()
	DeletePhysicalFailed(pid string)
	TagWriteDispatched(tags int)
	HighestSeqProbePartitionsScanned(n int)
}

// prometheusRecorder is the default Recorder, backed by prometheus counters
// and gauges registered against a caller-supplied registerer (grounded in
// the teacher's pattern of wiring a metrics backend at startup rather than
// using the global default registry implicitly).
type prometheusRecorder struct {
	writesAttempted      prometheus.Counter
	eventsAttempted      prometheus.Counter
	writesFailed         prometheus.Counter
	writeBackpressure    prometheus.Counter
	deletesAccepted      prometheus.Counter
	deletesBackpressure  prometheus.Counter
	physicalDeleteFailed *prometheus.CounterVec
	tagWritesDispatched  prometheus.Counter
	tagsDispatched       prometheus.Counter
	probePartitionsScan  prometheus.Counter
}

// NewPrometheusRecorder registers the journal's metrics against reg and
// returns a Recorder backed by them.
func NewPrometheusRecorder(reg prometheus.Registerer) Recorder {
	r := &prometheusRecorder{
		writesAttempted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "journal_write_batches_attempted_total",
			Help: "Number of write_atomic_batches calls attempted.",
		}),
		eventsAttempted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "journal_write_events_attempted_total",
			Help: "Number of individual events submitted across all write_atomic_batches calls.",
		}),
		writesFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "journal_write_batches_failed_total",
			Help: "Number of batches whose execution failed against the backing store.",
		}),
		writeBackpressure: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "journal_write_backpressure_total",
			Help: "Unused placeholder retained for symmetry with delete backpressure; writes have no queue bound.",
		}),
		deletesAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "journal_deletes_accepted_total",
			Help: "Number of delete_to requests accepted onto a per-PID queue.",
		}),
		deletesBackpressure: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "journal_deletes_backpressure_total",
			Help: "Number of delete_to requests rejected due to max_concurrent_deletes.",
		}),
		physicalDeleteFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "journal_physical_delete_failed_total",
			Help: "Physical delete failures per PID; the logical delete remains authoritative (spec §4.5 step 5, §9 open question).",
		}, []string{"persistence_id"}),
		tagWritesDispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "journal_tag_writes_dispatched_total",
			Help: "Number of BulkTagWrite messages forwarded to the tag writer.",
		}),
		tagsDispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "journal_tags_dispatched_total",
			Help: "Number of distinct tags included across dispatched BulkTagWrite messages.",
		}),
		probePartitionsScan: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "journal_highest_seq_partitions_scanned_total",
			Help: "Number of partitions scanned while probing for the highest sequence number.",
		}),
	}

	reg.MustRegister(
		r.writesAttempted, r.eventsAttempted, r.writesFailed, r.writeBackpressure,
		r.deletesAccepted, r.deletesBackpressure, r.physicalDeleteFailed,
		r.tagWritesDispatched, r.tagsDispatched, r.probePartitionsScan,
	)
	return r
}

func (r *prometheusRecorder) WriteAttempted(events int) {
	r.writesAttempted.Inc()
	r.eventsAttempted.Add(float64(events))
}
func (r *prometheusRecorder) WriteFailed()      { r.writesFailed.Inc() }
func (r *prometheusRecorder) WriteBackpressure() { r.writeBackpressure.Inc() }
func (r *prometheusRecorder) DeleteAccepted()    { r.deletesAccepted.Inc() }
func (r *prometheusRecorder) DeleteRejectedBackpressure() {
	r.deletesBackpressure.Inc()
}
func (r *prometheusRecorder) DeletePhysicalFailed(pid string) {
	r.physicalDeleteFailed.WithLabelValues(pid).Inc()
}
func (r *prometheusRecorder) TagWriteDispatched(tags int) {
	r.tagWritesDispatched.Inc()
	r.tagsDispatched.Add(float64(tags))
}
func (r *prometheusRecorder) HighestSeqProbePartitionsScanned(n int) {
	r.probePartitionsScan.Add(float64(n))
}

// Noop is a Recorder that discards everything, for tests and callers that
// don't want to wire a Prometheus registry.
var Noop Recorder = noopRecorder{}

type noopRecorder struct{}

func (noopRecorder) WriteAttempted(int)                    {}
func (noopRecorder) WriteFailed()                          {}
func (noopRecorder) WriteBackpressure()                    {}
func (noopRecorder) DeleteAccepted()                       {}
func (noopRecorder) DeleteRejectedBackpressure()            {}
func (noopRecorder) DeletePhysicalFailed(string)            {}
func (noopRecorder) TagWriteDispatched(int)                 {}
func (noopRecorder) HighestSeqProbePartitionsScanned(int)   {}
