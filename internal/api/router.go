package api

import (
	"net/http"

	"github.com/gorilla/mux"
)

// NewRouter 创建路由并注册所有 handler
func NewRouter(authHandler *AuthHandler, metrics *Metrics, checks map[string]HealthCheck) *mux.Router {
	r := mux.NewRouter()

	// Health check endpoint (public, no auth)
	r.HandleFunc("/health", NewHealthHandler(checks)).Methods(http.MethodGet)

	if metrics != nil {
		r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	}

	authHandler.RegisterRoutes(r)

	return r
}
