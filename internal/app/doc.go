// Package app wires configuration, the table store, the panel services and
// the HTTP router into a runnable application.
//
// # Initialization Flow
//
//  1. Resolve and create the data, output and log directories
//  2. Install the tracer provider and the Prometheus registry
//  3. Open the configured table store (csv, xlsx or sqlite)
//  4. Load the reference targets, if the store has any
//  5. Build the router: health probes, /metrics and /api/v1
//
// # Routes
//
//	GET  /healthz                          liveness
//	GET  /readyz                           readiness (targets loaded, data dir writable)
//	GET  /metrics                          Prometheus exposition
//	GET  /api/v1/targets/{region}/{period} resolved target of one group
//	POST /api/v1/panels                    build (and optionally persist) a panel
//	POST /api/v1/panels/verify             verify persisted periods
//
// # Graceful Shutdown
//
// Run serves until SIGINT or SIGTERM, then drains in-flight requests within
// the configured shutdown timeout, closes the store and flushes spans.
// Initialization errors are returned; the package never calls os.Exit.
package app
