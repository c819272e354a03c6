package routes

import (
	"net/http"

	"github.com/gorilla/mux"

	"sam3d-worker/api/rest/handlers"
	"sam3d-worker/core/monitoring"
)

// SetupRoutes configures all API routes
func SetupRoutes(r *mux.Router, jobHandler *handlers.JobHandler, metrics *monitoring.Metrics) {
	r.HandleFunc("/runsync", jobHandler.RunSync).Methods("POST")
	r.HandleFunc("/run", jobHandler.Run).Methods("POST")
	r.HandleFunc("/status/{id}", jobHandler.Status).Methods("GET")
	r.HandleFunc("/health", jobHandler.Health).Methods("GET")
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
}
