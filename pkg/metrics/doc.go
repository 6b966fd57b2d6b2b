// Package metrics collects and exposes Prometheus metrics for the harvest
// pipeline.
package metrics
