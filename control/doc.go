// Package control holds the engine's runtime instrumentation.
//
// Metrics are plain Prometheus collectors. The engine updates them from its
// reactor goroutine; any registry scrape may read them concurrently.
package control
