// Package health provides small, composable liveness/readiness probes used
// to build the telemetry service's /health and /health/ready responses.
//
// Two checker implementations are provided: HTTPChecker (GET a URL, expect a
// status in a configurable range) and TCPChecker (dial an address). Both
// implement the Checker interface so they can be combined with CheckAll to
// produce a named map of results, e.g. a "store" check backed by
// pkg/storage.Store.Ping alongside an informational check of the configured
// RUL inference service's reachability.
//
//	checks, ok := health.CheckAll(ctx, storeChecker, health.NewTCPChecker(dbHost))
//	if !ok { ... return 503 ... }
package health
