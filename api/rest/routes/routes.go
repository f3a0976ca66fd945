package routes

import (
	"net/http"

	"transcribe-orchestrator/api/rest/handlers"
	"transcribe-orchestrator/core/coordinator"
	"transcribe-orchestrator/core/repository"
	"transcribe-orchestrator/core/scheduler"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// SetupRoutes configures all API routes
func SetupRoutes(r *mux.Router, coord *coordinator.Coordinator, jobRepo *repository.JobRepository, sched *scheduler.Scheduler, uploadDir string, log *logrus.Entry) {
	jobHandler := handlers.NewJobHandler(coord, jobRepo, sched, uploadDir, log)

	api := r.PathPrefix("/v1").Subrouter()

	// Job endpoints
	api.HandleFunc("/jobs", jobHandler.SubmitJob).Methods("POST")
	api.HandleFunc("/jobs", jobHandler.ListJobs).Methods("GET")
	api.HandleFunc("/jobs/{id}", jobHandler.GetJob).Methods("GET")
	api.HandleFunc("/jobs/{id}/cancel", jobHandler.CancelJob).Methods("POST")
	api.HandleFunc("/jobs/{id}", jobHandler.DeleteJob).Methods("DELETE")

	r.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	}).Methods("GET")
}
