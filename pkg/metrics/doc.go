// Package metrics defines and registers the Prometheus metrics exposed by
// the scan scheduler: chunk counts by status, scheduling latency, host
// scan outcomes and duration, kill escalations, coverage bucket sizes, and
// event broker subscriber count. Metrics are served over HTTP via
// Handler for scraping, and kept current by a Collector that polls the
// scheduler's owned components on a fixed interval.
package metrics
