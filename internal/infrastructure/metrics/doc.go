// Package metrics exposes the hub's internals to Prometheus.
//
// Metrics are read at scrape time from their owners (the event bus dispatch
// counters and the presence tracker) rather than incremented in hot paths,
// so the bus itself carries no Prometheus dependency.
//
// Usage:
//
//	reg := metrics.NewRegistry(eventBus, tracker)
//	router.Handle("/api/v1/metrics", metrics.Handler(reg))
package metrics
