// Package metrics exposes Prometheus instrumentation for one archive's
// content and operations: document, staged-document, conflict and
// data-version gauges sampled off a Manager by Collector, plus the stage
// and commit counters and histograms cmd/arhiv records directly. The lock
// and BLOB gauges and the merge, migration and peer-file-merge metrics are
// declared and registered, but nothing in this module updates them.
//
// Metrics are exposed at /metrics via Handler for scraping; Collector
// runs its own ticker goroutine rather than being driven by the scrape
// itself, since content gauges are cheaper to refresh periodically than
// to recompute per scrape.
//
// Health and Readiness compute their status on every call from a live
// *manager.Manager rather than from a registry some caller has to
// remember to update - an unlocked archive with no unresolved conflicts
// is healthy, a locked one isn't.
package metrics
