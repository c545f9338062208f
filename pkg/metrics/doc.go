/*
Package metrics defines and registers the Prometheus instrumentation for the
telemetry service: ingestion throughput, alert counts, evaluator latency, hub
fan-out, API request rates, rate-limiter rejections, and the RUL circuit
breaker state. Metrics are registered at package init and exposed via Handler
for scraping.

A small component-health registry (RegisterComponent/GetHealth/GetReadiness)
with its own HTTP handlers is also provided; "store" is the only component
its readiness gates on. The API's /health and /health/ready endpoints do not
use it: internal/api serves them through pkg/health.
*/
package metrics
