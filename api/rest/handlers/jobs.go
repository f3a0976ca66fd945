package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"transcribe-orchestrator/core/coordinator"
	"transcribe-orchestrator/core/models"
	"transcribe-orchestrator/core/scheduler"
	"transcribe-orchestrator/core/spec"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

const maxUploadBytes = 1 << 30 // 1 GiB

// JobLister lists jobs for the owner-scoped listing endpoint.
type JobLister interface {
	ListJobsByOwner(ownerID string, status *models.JobStatus, limit int) ([]*models.Job, error)
}

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	coord     *coordinator.Coordinator
	lister    JobLister
	scheduler *scheduler.Scheduler
	uploadDir string
	log       *logrus.Entry
}

// NewJobHandler creates a new job handler
func NewJobHandler(coord *coordinator.Coordinator, lister JobLister, sched *scheduler.Scheduler, uploadDir string, log *logrus.Entry) *JobHandler {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &JobHandler{
		coord:     coord,
		lister:    lister,
		scheduler: sched,
		uploadDir: uploadDir,
		log:       log.WithField("component", "api"),
	}
}

// SubmitJobResponse represents the response after submitting a job
type SubmitJobResponse struct {
	ID        string    `json:"id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// SubmitJob handles POST /v1/jobs. The request is multipart: an audio
// "file" part plus an optional YAML "spec" part.
func (h *JobHandler) SubmitJob(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.owner(w, r)
	if !ok {
		return
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		http.Error(w, "Invalid multipart request", http.StatusBadRequest)
		return
	}

	parsed, err := spec.ParseJobSpec(r.FormValue("spec"))
	if err != nil {
		http.Error(w, "Invalid job spec: "+err.Error(), http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "Missing audio file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	path, size, err := h.saveUpload(file, header.Filename)
	if err != nil {
		h.log.WithError(err).Error("failed to save upload")
		http.Error(w, "Failed to store upload", http.StatusInternalServerError)
		return
	}

	meta := models.FileMeta{Name: header.Filename, Size: size, Path: path}
	job, err := h.coord.Create(ownerID, parsed.Config, meta, parsed.KeepAudio, parsed.Tags)
	if err != nil {
		os.Remove(path)
		var verr *models.ValidationError
		if errors.As(err, &verr) {
			http.Error(w, verr.Error(), http.StatusBadRequest)
			return
		}
		h.log.WithError(err).Error("failed to create job")
		http.Error(w, "Failed to create job", http.StatusInternalServerError)
		return
	}

	h.scheduler.Enqueue(job)

	resp := SubmitJobResponse{
		ID:        job.ID,
		Status:    string(job.Status),
		CreatedAt: job.CreatedAt,
	}
	writeJSON(w, http.StatusCreated, resp)
}

// GetJob handles GET /v1/jobs/{id}
func (h *JobHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.owner(w, r)
	if !ok {
		return
	}
	jobID := mux.Vars(r)["id"]

	job, err := h.coord.Get(jobID, ownerID)
	if err != nil {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, jobResponse(job))
}

// ListJobs handles GET /v1/jobs
func (h *JobHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.owner(w, r)
	if !ok {
		return
	}

	limit := 50
	if limitParam := r.URL.Query().Get("limit"); limitParam != "" {
		fmt.Sscanf(limitParam, "%d", &limit)
	}
	var status *models.JobStatus
	if statusParam := r.URL.Query().Get("status"); statusParam != "" {
		s := models.JobStatus(statusParam)
		status = &s
	}

	jobs, err := h.lister.ListJobsByOwner(ownerID, status, limit)
	if err != nil {
		h.log.WithError(err).Error("failed to list jobs")
		http.Error(w, "Failed to list jobs", http.StatusInternalServerError)
		return
	}

	items := make([]map[string]interface{}, 0, len(jobs))
	for _, job := range jobs {
		h.coord.Hydrate(job)
		items = append(items, jobResponse(job))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"jobs": items})
}

// CancelJob handles POST /v1/jobs/{id}/cancel
func (h *JobHandler) CancelJob(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.owner(w, r)
	if !ok {
		return
	}
	jobID := mux.Vars(r)["id"]

	if _, err := h.coord.Get(jobID, ownerID); err != nil {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}

	h.coord.RequestCancellation(jobID)
	writeJSON(w, http.StatusAccepted, map[string]string{
		"id":     jobID,
		"status": string(models.JobStatusCanceling),
	})
}

// DeleteJob handles DELETE /v1/jobs/{id}
func (h *JobHandler) DeleteJob(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.owner(w, r)
	if !ok {
		return
	}
	jobID := mux.Vars(r)["id"]

	if err := h.coord.SoftDelete(jobID, ownerID); err != nil {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *JobHandler) owner(w http.ResponseWriter, r *http.Request) (string, bool) {
	ownerID := r.Header.Get("X-User-ID")
	if ownerID == "" {
		http.Error(w, "Missing X-User-ID header", http.StatusUnauthorized)
		return "", false
	}
	return ownerID, true
}

func (h *JobHandler) saveUpload(file io.Reader, name string) (string, int64, error) {
	if err := os.MkdirAll(h.uploadDir, 0o755); err != nil {
		return "", 0, err
	}
	path := filepath.Join(h.uploadDir, uuid.New().String()+"-"+filepath.Base(name))
	dst, err := os.Create(path)
	if err != nil {
		return "", 0, err
	}
	defer dst.Close()

	size, err := io.Copy(dst, file)
	if err != nil {
		os.Remove(path)
		return "", 0, err
	}
	return path, size, nil
}

func jobResponse(job *models.Job) map[string]interface{} {
	response := map[string]interface{}{
		"id":                  job.ID,
		"status":              job.Status,
		"file_name":           job.File.Name,
		"tags":                job.Tags,
		"progress_percentage": job.ProgressPercentage,
		"progress_text":       job.ProgressText,
		"timestamps": map[string]interface{}{
			"created_at":   job.CreatedAt,
			"started_at":   job.StartedAt,
			"completed_at": job.CompletedAt,
		},
	}
	if job.Error != "" {
		response["error"] = job.Error
	}
	if len(job.Chunks) > 0 {
		chunks := make([]map[string]interface{}, 0, len(job.Chunks))
		for _, c := range job.Chunks {
			chunks = append(chunks, map[string]interface{}{
				"index":    c.Index,
				"start_ms": c.StartMS,
				"end_ms":   c.EndMS,
				"status":   c.Status,
			})
		}
		response["chunks"] = chunks
	}
	if job.Status == models.JobStatusCompleted {
		result := map[string]interface{}{
			"transcript_ref": job.Result.TranscriptRef,
			"segments_ref":   job.Result.SegmentsRef,
		}
		if job.Result.AudioRef != "" {
			result["audio_ref"] = job.Result.AudioRef
		}
		response["result"] = result
	}
	return response
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
