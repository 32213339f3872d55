package server

import (
	"net/http"

	"github.com/dgellow/authsession/internal/metrics"
	"github.com/dgellow/authsession/internal/storage"
	"github.com/prometheus/client_golang/prometheus"
)

// NewMux routes the local status surface of the demo host. A nil gatherer
// leaves /metrics unrouted.
func NewMux(source SessionSource, store storage.Pinger, gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/health", NewHealthHandler(source, store))
	mux.Handle("/session", NewSessionHandler(source))
	mux.Handle("/session/logout", NewLogoutHandler(source))
	if gatherer != nil {
		mux.Handle("/metrics", metrics.Handler(gatherer))
	}
	return ChainMiddleware(mux,
		NewLoggerMiddleware("http"),
		NewRecoverMiddleware("http"),
	)
}
