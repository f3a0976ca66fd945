package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"transcribe-orchestrator/core/coordinator"
	"transcribe-orchestrator/core/diarize"
	"transcribe-orchestrator/core/models"
	"transcribe-orchestrator/core/punctuate"
	"transcribe-orchestrator/core/recognize"
	"transcribe-orchestrator/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu   sync.Mutex
	jobs map[string]*models.Job
	seq  int
}

func newMemStore() *memStore {
	return &memStore{jobs: make(map[string]*models.Job)}
}

func (s *memStore) CreateJob(job *models.Job) error {
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

func (s *memStore) GetJob(id string) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	clone := *job
	return &clone, nil
}

func (s *memStore) UpdateJob(id string, upd models.DurableUpdate) error {
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
	if upd.Result != nil {
		job.Result = *upd.Result
	}
	if upd.Tags != nil {
		job.Tags = upd.Tags
	}
	if upd.StartedAt != nil {
		job.StartedAt = upd.StartedAt
	}
	if upd.CompletedAt != nil {
		job.CompletedAt = upd.CompletedAt
	}
	job.UpdatedAt = time.Now()
	return nil
}

func (s *memStore) ListJobsByStatus(status models.JobStatus, limit int) ([]*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Job
	for _, job := range s.jobs {
		if job.Status == status && !job.Deleted {
			clone := *job
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (s *memStore) CountByStatus(status models.JobStatus) (int, error) {
	jobs, _ := s.ListJobsByStatus(status, 0)
	return len(jobs), nil
}

func (s *memStore) NextPending() (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var oldest *models.Job
	for _, job := range s.jobs {
		if job.Status != models.JobStatusPending || job.Deleted {
			continue
		}
		if oldest == nil || job.CreatedAt.Before(oldest.CreatedAt) {
			oldest = job
		}
	}
	if oldest == nil {
		return nil, models.ErrNotFound
	}
	clone := *oldest
	return &clone, nil
}

func (s *memStore) SoftDeleteJob(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return models.ErrNotFound
	}
	job.Deleted = true
	return nil
}

type fakeRestorer struct {
	out string
	err error
}

func (f *fakeRestorer) Restore(ctx context.Context, text, language string, onProgress punctuate.ProgressFunc) (string, error) {
	if onProgress != nil {
		onProgress(1, 1)
	}
	return f.out, f.err
}

type fakeDiarizer struct {
	turns []diarize.Turn
	err   error
}

func (f *fakeDiarizer) Diarize(ctx context.Context, audioPath string, maxSpeakers int) ([]diarize.Turn, error) {
	return f.turns, f.err
}

type fakeAudioStore struct {
	ref   string
	err   error
	calls int
	paths []string
}

func (f *fakeAudioStore) Preserve(ctx context.Context, jobID, audioPath string) (string, error) {
	f.calls++
	f.paths = append(f.paths, audioPath)
	return f.ref, f.err
}

// writeUpload drops a fake uploaded audio file into a temp dir, the way
// the submit handler stores one before the job is dispatched.
func writeUpload(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte("riff"), 0o644))
	return path
}

func staticRecognizers(res recognize.Result, err error) RecognizerSource {
	return func(jobID string) recognize.Factory {
		return func() (recognize.Recognizer, error) {
			return &fakeRecognizer{fn: func(ctx context.Context, path string) (recognize.Result, error) {
				return res, err
			}}, nil
		}
	}
}

func newTestExecutor(t *testing.T, store *memStore, fr *fakeRestorer, fd *fakeDiarizer, fa *fakeAudioStore, recognizers RecognizerSource) (*Executor, *coordinator.Coordinator, string) {
	t.Helper()
	coord := coordinator.New(store, nil)
	media := &fakeMedia{total: time.Minute}
	resultsDir := t.TempDir()

	var restorer punctuate.Restorer
	if fr != nil {
		restorer = fr
	}
	var diarizers DiarizerSource
	if fd != nil {
		diarizers = func(jobID string) diarize.Diarizer { return fd }
	}
	var audio storage.AudioStore
	if fa != nil {
		audio = fa
	}

	exec := NewExecutor(coord, media, NewChunkCoordinator(media, 1, nil), recognizers, restorer, diarizers, audio, resultsDir, nil)
	return exec, coord, resultsDir
}

func TestExecutorCompletesJob(t *testing.T) {
	store := newMemStore()
	recognized := recognize.Result{
		Text:     "hello world",
		Language: "en",
		Segments: []models.Segment{{Start: 0, End: 2, Text: "hello world"}},
	}
	diarizer := &fakeDiarizer{turns: []diarize.Turn{{Start: 0, End: 2, Speaker: "SPEAKER_00"}}}
	exec, coord, _ := newTestExecutor(t, store, &fakeRestorer{out: "Hello, world."}, diarizer, nil, staticRecognizers(recognized, nil))

	job, err := coord.Create("user-1", models.JobConfig{
		PunctuationProvider: "openai",
		DiarizationEnabled:  true,
		MaxSpeakers:         2,
	}, models.FileMeta{Name: "a.mp3", Path: "/tmp/a.mp3"}, false, nil)
	require.NoError(t, err)

	exec.Run(context.Background(), job.ID)

	stored, err := store.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, stored.Status)
	assert.Empty(t, stored.Error)
	require.NotNil(t, stored.StartedAt)
	require.NotNil(t, stored.CompletedAt)

	transcript, err := os.ReadFile(stored.Result.TranscriptRef)
	require.NoError(t, err)
	assert.Equal(t, "Hello, world.", string(transcript))

	segments, err := os.ReadFile(stored.Result.SegmentsRef)
	require.NoError(t, err)
	assert.Contains(t, string(segments), "SPEAKER_00")

	got, err := coord.Get(job.ID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 100.0, got.ProgressPercentage)
}

func TestExecutorRecordsStageFailure(t *testing.T) {
	store := newMemStore()
	exec, coord, _ := newTestExecutor(t, store, nil, nil, nil,
		staticRecognizers(recognize.Result{}, errors.New("model not loaded")))

	upload := writeUpload(t, "a.mp3")
	job, err := coord.Create("user-1", models.JobConfig{}, models.FileMeta{Path: upload}, false, nil)
	require.NoError(t, err)

	tempDir := filepath.Join(t.TempDir(), "work")
	require.NoError(t, os.MkdirAll(tempDir, 0o755))
	coord.RegisterTempDir(job.ID, tempDir)

	exec.Run(context.Background(), job.ID)

	stored, err := store.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, stored.Status)
	assert.Contains(t, stored.Error, "transcribe")
	assert.Contains(t, stored.Error, "model not loaded")
	require.NotNil(t, stored.CompletedAt)
	assert.NoDirExists(t, tempDir)
	assert.NoFileExists(t, upload)
}

func TestExecutorCancelledBeforeWork(t *testing.T) {
	store := newMemStore()
	exec, coord, _ := newTestExecutor(t, store, nil, nil, nil,
		staticRecognizers(recognize.Result{Text: "never used"}, nil))

	job, err := coord.Create("user-1", models.JobConfig{}, models.FileMeta{Path: "/tmp/a.mp3"}, false, nil)
	require.NoError(t, err)
	coord.RequestCancellation(job.ID)

	exec.Run(context.Background(), job.ID)

	stored, err := store.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCancelled, stored.Status)
	assert.Empty(t, stored.Error)
}

func TestExecutorPreservesAudioOnRequest(t *testing.T) {
	store := newMemStore()
	audio := &fakeAudioStore{ref: "s3://bucket/audio/job.mp3"}
	exec, coord, _ := newTestExecutor(t, store, nil, nil, audio,
		staticRecognizers(recognize.Result{Text: "hello"}, nil))

	upload := writeUpload(t, "a.mp3")
	job, err := coord.Create("user-1", models.JobConfig{}, models.FileMeta{Path: upload}, true, nil)
	require.NoError(t, err)

	exec.Run(context.Background(), job.ID)

	stored, err := store.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, stored.Status)
	assert.Equal(t, 1, audio.calls)
	assert.Equal(t, "s3://bucket/audio/job.mp3", stored.Result.AudioRef)

	// The original upload is preserved, not the converted WAV, and the
	// upload itself is gone once the job is terminal.
	require.Len(t, audio.paths, 1)
	assert.Equal(t, upload, audio.paths[0])
	assert.NoFileExists(t, upload)
}

func TestExecutorRemovesUploadOnCompletion(t *testing.T) {
	store := newMemStore()
	exec, coord, _ := newTestExecutor(t, store, nil, nil, nil,
		staticRecognizers(recognize.Result{Text: "hello"}, nil))

	upload := writeUpload(t, "a.mp3")
	job, err := coord.Create("user-1", models.JobConfig{}, models.FileMeta{Path: upload}, false, nil)
	require.NoError(t, err)

	exec.Run(context.Background(), job.ID)

	stored, err := store.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, stored.Status)
	assert.NoFileExists(t, upload)
}

func TestExecutorAudioPreservationFailureIsNotFatal(t *testing.T) {
	store := newMemStore()
	audio := &fakeAudioStore{err: errors.New("bucket unavailable")}
	exec, coord, _ := newTestExecutor(t, store, nil, nil, audio,
		staticRecognizers(recognize.Result{Text: "hello"}, nil))

	job, err := coord.Create("user-1", models.JobConfig{}, models.FileMeta{Path: "/tmp/a.mp3"}, true, nil)
	require.NoError(t, err)

	exec.Run(context.Background(), job.ID)

	stored, err := store.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, stored.Status)
	assert.Empty(t, stored.Result.AudioRef)
	assert.Empty(t, stored.Error)
}
