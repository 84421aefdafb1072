// Package metrics exposes converter activity as Prometheus metrics.
//
// Collector implements converter.Observer and owns a private registry so
// several pipelines in one process (or one test binary) never collide on
// registration. Server publishes the registry on /metrics next to a /healthz
// probe.
package metrics
