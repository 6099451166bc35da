package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/wonny/orbit/internal/api/handlers"
	"github.com/wonny/orbit/pkg/logger"
	"github.com/wonny/orbit/pkg/metrics"
)

// Routes holds the handlers the router serves; nil entries are not mounted
type Routes struct {
	Engine  *handlers.EngineHandler
	Remote  *handlers.RemoteHandler
	Signals http.HandlerFunc // websocket signal stream (primary)
	Metrics bool
}

// NewRouter creates and configures the HTTP router
// ⭐ SSOT: 라우팅 설정은 이 함수에서만
func NewRouter(routes Routes, log *logger.Logger) http.Handler {
	r := mux.NewRouter()

	// Health check
	r.HandleFunc("/health", healthCheckHandler).Methods("GET")

	if routes.Metrics {
		r.Handle("/metrics", metrics.Handler()).Methods("GET")
	}
	if routes.Signals != nil {
		r.HandleFunc("/ws/signals", routes.Signals).Methods("GET")
	}

	api := r.PathPrefix("/api").Subrouter()

	// Engine endpoints
	if h := routes.Engine; h != nil {
		api.HandleFunc("/status", h.GetStatus).Methods("GET")
		api.HandleFunc("/positions", h.GetPositions).Methods("GET")
		api.HandleFunc("/flatten", h.Flatten).Methods("POST")
		api.HandleFunc("/breakeven", h.Breakeven).Methods("POST")
		api.HandleFunc("/entries", h.CreateEntry).Methods("POST")
		api.HandleFunc("/entries/{id}", h.RepriceEntry).Methods("PATCH")
		api.HandleFunc("/entries/{id}", h.CancelEntry).Methods("DELETE")
		api.HandleFunc("/positions/{id}/targets/{slot}", h.TargetAction).Methods("POST")
	}

	// Remote command channel
	if routes.Remote != nil {
		api.HandleFunc("/remote", routes.Remote.Execute).Methods("POST")
	}

	// Apply middleware
	r.Use(loggingMiddleware(log))
	r.Use(recoveryMiddleware(log))

	return r
}

// healthCheckHandler returns server health status
func healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  "ok",
		"service": "orbit",
	})
}

// loggingMiddleware logs HTTP requests
func loggingMiddleware(log *logger.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)

			log.WithFields(map[string]interface{}{
				"method":   r.Method,
				"path":     r.URL.Path,
				"duration": time.Since(start),
			}).Debug("HTTP request")
		})
	}
}

// recoveryMiddleware recovers from panics
func recoveryMiddleware(log *logger.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					log.WithFields(map[string]interface{}{
						"error": err,
						"path":  r.URL.Path,
					}).Error("Panic recovered")

					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					json.NewEncoder(w).Encode(map[string]string{
						"error": "Internal server error",
					})
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
