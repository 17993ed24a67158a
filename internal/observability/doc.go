// Package observability provides the logging, metrics, and tracing used
// across Converge.
//
// Logging is log/slog behind a handler that redacts secrets and copies
// request, session, user, and channel identifiers from the context onto every
// record. Metrics are Prometheus collectors registered against an injected
// registerer so tests can use a private registry. Tracing exports spans over
// OTLP/gRPC when an endpoint is configured and is a no-op otherwise.
package observability
