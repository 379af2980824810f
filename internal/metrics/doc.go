// Package metrics records stage durations and run outcomes in a per-run
// Prometheus registry. A one-shot CLI has nothing to scrape, so the registry
// is pushed to a Pushgateway once the run is over.
package metrics
