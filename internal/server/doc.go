// Package server wires the outreach service together.
//
// ServerContext is the composition root: it opens the configured store,
// builds the Google OAuth client and token manager, picks the Gmail
// transport and hands them to the dispatch service. The HTTP API and the
// MCP tool server both read their dependencies from it.
//
// HealthChecker serves the liveness and readiness checks, and
// MetricsServer exposes Prometheus metrics on a separate listener.
package server
