package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Archive content metrics. Collector refreshes all of them except
	// LocksTotal and BlobsTotal, which nothing in this module sets.
	DocumentsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "arhiv_documents_total",
			Help: "Total number of live documents by document type",
		},
		[]string{"document_type"},
	)

	StagedDocumentsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "arhiv_staged_documents_total",
			Help: "Total number of documents with a pending staged edit",
		},
	)

	ConflictsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "arhiv_conflicts_total",
			Help: "Total number of documents currently in an unresolved conflict state",
		},
	)

	LocksTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "arhiv_locks_total",
			Help: "Total number of documents currently locked",
		},
	)

	BlobsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "arhiv_blobs_total",
			Help: "Total number of BLOB files on disk by location",
		},
		[]string{"location"}, // "storage" or "staged"
	)

	DataVersion = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "arhiv_data_version",
			Help: "Schema data format version the archive's documents currently conform to",
		},
	)

	// Operation metrics.
	CommitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "arhiv_commits_total",
			Help: "Total number of successful commits",
		},
	)

	CommitFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "arhiv_commit_failures_total",
			Help: "Total number of commits that failed and rolled back",
		},
	)

	CommitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "arhiv_commit_duration_seconds",
			Help:    "Time taken to run the commit sequence",
			Buckets: prometheus.DefBuckets,
		},
	)

	StageDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "arhiv_stage_duration_seconds",
			Help:    "Time taken to validate and stage a document",
			Buckets: prometheus.DefBuckets,
		},
	)

	ConflictsDetectedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "arhiv_conflicts_detected_total",
			Help: "Total number of conflicting revisions observed while loading peer snapshots",
		},
	)

	ConflictsAutoMergedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "arhiv_conflicts_auto_merged_total",
			Help: "Total number of conflicts resolved automatically by the three-way merge",
		},
	)

	MergeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "arhiv_merge_duration_seconds",
			Help:    "Time taken to run a three-way merge over one conflicting document",
			Buckets: prometheus.DefBuckets,
		},
	)

	MigrationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "arhiv_migration_step_duration_seconds",
			Help:    "Time taken to run one migration step",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"from_version"},
	)

	PeerMergeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "arhiv_peer_merge_duration_seconds",
			Help:    "Time taken to merge a set of peer database files via the set-cover heuristic",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(DocumentsTotal)
	prometheus.MustRegister(StagedDocumentsTotal)
	prometheus.MustRegister(ConflictsTotal)
	prometheus.MustRegister(LocksTotal)
	prometheus.MustRegister(BlobsTotal)
	prometheus.MustRegister(DataVersion)

	prometheus.MustRegister(CommitsTotal)
	prometheus.MustRegister(CommitFailuresTotal)
	prometheus.MustRegister(CommitDuration)
	prometheus.MustRegister(StageDuration)
	prometheus.MustRegister(ConflictsDetectedTotal)
	prometheus.MustRegister(ConflictsAutoMergedTotal)
	prometheus.MustRegister(MergeDuration)
	prometheus.MustRegister(MigrationDuration)
	prometheus.MustRegister(PeerMergeDuration)
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a small helper for timing one operation and recording it to a
// histogram once it completes.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time to histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed time to a labeled histogram vec.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
