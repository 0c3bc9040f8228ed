// Package metrics exposes bridge counters to Prometheus.
//
// Collector implements the bridge's transfer and drop recorders and reads
// Blynk session counters on scrape. The registry is served by the api
// package.
package metrics
