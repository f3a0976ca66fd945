package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"transcribe-orchestrator/core/coordinator"
	"transcribe-orchestrator/core/models"
	"transcribe-orchestrator/core/scheduler"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	mu   sync.Mutex
	jobs map[string]*models.Job
	seq  int
}

func newFakeStore() *fakeStore {
	return &fakeStore{jobs: make(map[string]*models.Job)}
}

func (s *fakeStore) CreateJob(job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	job.ID = fmt.Sprintf("job-%d", s.seq)
	job.CreatedAt = time.Now()
	job.UpdatedAt = job.CreatedAt
	clone := *job
	s.jobs[job.ID] = &clone
	return nil
}

func (s *fakeStore) GetJob(id string) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	clone := *job
	return &clone, nil
}

func (s *fakeStore) UpdateJob(id string, upd models.DurableUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return models.ErrNotFound
	}
	if upd.Status != nil {
		job.Status = *upd.Status
	}
	if upd.Error != nil {
		job.Error = *upd.Error
	}
	if upd.CompletedAt != nil {
		job.CompletedAt = upd.CompletedAt
	}
	return nil
}

func (s *fakeStore) ListJobsByStatus(status models.JobStatus, limit int) ([]*models.Job, error) {
	return nil, nil
}

func (s *fakeStore) CountByStatus(status models.JobStatus) (int, error) { return 0, nil }

func (s *fakeStore) NextPending() (*models.Job, error) { return nil, models.ErrNotFound }

func (s *fakeStore) SoftDeleteJob(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return models.ErrNotFound
	}
	job.Deleted = true
	return nil
}

func (s *fakeStore) ListJobsByOwner(ownerID string, status *models.JobStatus, limit int) ([]*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Job
	for _, job := range s.jobs {
		if job.OwnerID != ownerID || job.Deleted {
			continue
		}
		if status != nil && job.Status != *status {
			continue
		}
		clone := *job
		out = append(out, &clone)
	}
	return out, nil
}

type idleRunner struct{}

func (idleRunner) Run(ctx context.Context, jobID string) {}

func newTestRouter(t *testing.T) (*mux.Router, *fakeStore, *coordinator.Coordinator, string) {
	t.Helper()
	store := newFakeStore()
	coord := coordinator.New(store, nil)
	sched := scheduler.NewScheduler(coord, idleRunner{}, 1, nil)
	uploadDir := t.TempDir()
	h := NewJobHandler(coord, store, sched, uploadDir, nil)

	r := mux.NewRouter()
	r.HandleFunc("/v1/jobs", h.SubmitJob).Methods("POST")
	r.HandleFunc("/v1/jobs", h.ListJobs).Methods("GET")
	r.HandleFunc("/v1/jobs/{id}", h.GetJob).Methods("GET")
	r.HandleFunc("/v1/jobs/{id}/cancel", h.CancelJob).Methods("POST")
	r.HandleFunc("/v1/jobs/{id}", h.DeleteJob).Methods("DELETE")
	return r, store, coord, uploadDir
}

func multipartBody(t *testing.T, specYAML string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	if specYAML != "" {
		require.NoError(t, w.WriteField("spec", specYAML))
	}
	part, err := w.CreateFormFile("file", "meeting.mp3")
	require.NoError(t, err)
	_, err = io.WriteString(part, "fake audio bytes")
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return body, w.FormDataContentType()
}

func submitJob(t *testing.T, r *mux.Router, owner, specYAML string) SubmitJobResponse {
	t.Helper()
	body, contentType := multipartBody(t, specYAML)
	req := httptest.NewRequest(http.MethodPost, "/v1/jobs", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-User-ID", owner)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp SubmitJobResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestSubmitJobCreatesPending(t *testing.T) {
	r, store, _, uploadDir := newTestRouter(t)

	resp := submitJob(t, r, "user-1", "job:\n  language: en\n  tags: [standup]\n")
	assert.NotEmpty(t, resp.ID)
	assert.Equal(t, "pending", resp.Status)

	stored, err := store.GetJob(resp.ID)
	require.NoError(t, err)
	assert.Equal(t, "user-1", stored.OwnerID)
	assert.Equal(t, "meeting.mp3", stored.File.Name)
	assert.Equal(t, []string{"standup"}, stored.Tags)

	// The upload landed on disk under the upload dir.
	data, err := os.ReadFile(stored.File.Path)
	require.NoError(t, err)
	assert.Equal(t, "fake audio bytes", string(data))
	assert.Contains(t, stored.File.Path, uploadDir)
}

func TestSubmitJobRequiresUser(t *testing.T) {
	r, _, _, _ := newTestRouter(t)
	body, contentType := multipartBody(t, "")
	req := httptest.NewRequest(http.MethodPost, "/v1/jobs", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSubmitJobRejectsBadConfig(t *testing.T) {
	r, _, _, _ := newTestRouter(t)
	body, contentType := multipartBody(t, "job:\n  diarization:\n    max_speakers: 3\n")
	req := httptest.NewRequest(http.MethodPost, "/v1/jobs", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-User-ID", "user-1")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "max_speakers")
}

func TestGetJobEnforcesOwnership(t *testing.T) {
	r, _, _, _ := newTestRouter(t)
	resp := submitJob(t, r, "user-1", "")

	req := httptest.NewRequest(http.MethodGet, "/v1/jobs/"+resp.ID, nil)
	req.Header.Set("X-User-ID", "user-2")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	req.Header.Set("X-User-ID", "user-1")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "pending", got["status"])
	assert.Equal(t, 0.0, got["progress_percentage"])
}

func TestCancelJob(t *testing.T) {
	r, store, _, _ := newTestRouter(t)
	resp := submitJob(t, r, "user-1", "")

	req := httptest.NewRequest(http.MethodPost, "/v1/jobs/"+resp.ID+"/cancel", nil)
	req.Header.Set("X-User-ID", "user-1")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	stored, err := store.GetJob(resp.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCanceling, stored.Status)
}

func TestDeleteJobHidesIt(t *testing.T) {
	r, _, _, _ := newTestRouter(t)
	resp := submitJob(t, r, "user-1", "")

	req := httptest.NewRequest(http.MethodDelete, "/v1/jobs/"+resp.ID, nil)
	req.Header.Set("X-User-ID", "user-1")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/v1/jobs/"+resp.ID, nil)
	req.Header.Set("X-User-ID", "user-1")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListJobsMergesLiveProgress(t *testing.T) {
	r, store, coord, _ := newTestRouter(t)
	resp := submitJob(t, r, "user-1", "")

	// The job is mid-pipeline: durable status says processing, volatile
	// state carries the live stage detail.
	require.NoError(t, store.UpdateJob(resp.ID, models.DurableUpdate{Status: models.Status(models.JobStatusProcessing)}))
	require.NoError(t, coord.UpdateVolatile(resp.ID, models.VolatileUpdate{
		AudioConverted: models.Bool(true),
		ProgressText:   models.String("transcribing"),
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/jobs", nil)
	req.Header.Set("X-User-ID", "user-1")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var got struct {
		Jobs []map[string]interface{} `json:"jobs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got.Jobs, 1)
	assert.Equal(t, 46.0, got.Jobs[0]["progress_percentage"])
	assert.Equal(t, "transcribing", got.Jobs[0]["progress_text"])
}

func TestListJobsIsOwnerScoped(t *testing.T) {
	r, _, _, _ := newTestRouter(t)
	submitJob(t, r, "user-1", "")
	submitJob(t, r, "user-1", "")
	submitJob(t, r, "user-2", "")

	req := httptest.NewRequest(http.MethodGet, "/v1/jobs", nil)
	req.Header.Set("X-User-ID", "user-1")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var got struct {
		Jobs []map[string]interface{} `json:"jobs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Len(t, got.Jobs, 2)
}
