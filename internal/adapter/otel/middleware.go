package otel

import (
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// HTTPMiddleware returns chi-compatible middleware that opens a span per
// request against the orchestration API. Health checks are not traced;
// they fire every few seconds and would drown the plan and stream spans.
func HTTPMiddleware(serviceName string) func(http.Handler) http.Handler {
	skipHealth := otelhttp.WithFilter(func(r *http.Request) bool {
		return r.URL.Path != "/healthz"
	})
	return func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, serviceName, skipHealth)
	}
}
