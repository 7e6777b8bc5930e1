// Package metrics defines and registers the control plane's Prometheus
// metrics (worker/replica gauges, Job/Request/Messenger/Ingest
// counters and histograms), a Timer helper for observing durations,
// a periodic Collector that polls dbstore, and liveness/readiness/health
// HTTP handlers.
package metrics
