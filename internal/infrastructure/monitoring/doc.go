/*
Package monitoring provides Prometheus metrics for the catalog core.

# Overview

Counters and histograms cover the pieces of the system that do real work:
archive extraction (including per-entry traversal rejections), ingestion
outcomes, registry writes and lock waits, and batch archive runs.

# Usage

	// Create a metrics collector on the default registry
	metrics := monitoring.NewMetrics(nil)

	// Record outcomes
	metrics.ObserveExtraction("zip", "success", elapsed)
	metrics.IngestsTotal.WithLabelValues("duplicate").Inc()

Tests construct collectors with NewTestMetrics, which uses a private
registry so repeated construction never collides.
*/
package monitoring
