package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TokensIssued counts issued access tokens by grant type
	TokensIssued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mcphub_oauth_tokens_issued_total",
			Help: "Total number of access tokens issued",
		},
		[]string{"grant_type"},
	)

	// TokenErrors counts OAuth protocol failures by error code
	TokenErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mcphub_oauth_errors_total",
			Help: "Total number of OAuth requests rejected, by error code",
		},
		[]string{"error"},
	)

	// TokensRevoked counts token records removed by revocation or sweep
	TokensRevoked = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mcphub_oauth_tokens_removed_total",
			Help: "Total number of token records removed",
		},
		[]string{"reason"},
	)

	// BearerAuth counts bearer key authorization decisions
	BearerAuth = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mcphub_bearer_auth_total",
			Help: "Bearer key authorization decisions",
		},
		[]string{"result"},
	)

	// SettingsWrites counts settings file writes
	SettingsWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mcphub_settings_writes_total",
			Help: "Settings file writes by result",
		},
		[]string{"result"},
	)

	requestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mcphub_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"code", "method"},
	)
)

// Instrument records request durations for next.
func Instrument(next http.Handler) http.Handler {
	return promhttp.InstrumentHandlerDuration(requestDuration, next)
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Result maps an error to the "ok"/"error" label pair.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
