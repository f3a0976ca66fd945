package coordinator

import (
	"sync"

	"transcribe-orchestrator/core/models"
	"transcribe-orchestrator/core/progress"

	"github.com/sirupsen/logrus"
)

// JobStore is the durable record of jobs. It is the single source of
// truth across process restarts; no transactions are assumed beyond
// single-row atomic updates.
type JobStore interface {
	CreateJob(job *models.Job) error
	GetJob(id string) (*models.Job, error)
	UpdateJob(id string, upd models.DurableUpdate) error
	ListJobsByStatus(status models.JobStatus, limit int) ([]*models.Job, error)
	CountByStatus(status models.JobStatus) (int, error)
	NextPending() (*models.Job, error)
	SoftDeleteJob(id string) error
}

// Coordinator owns job lifecycle state: the durable record via the
// store, the per-process volatile record, cancellation flags, and
// temp-resource handles. It is the only writer of volatile state.
type Coordinator struct {
	store JobStore
	log   *logrus.Entry

	mu       sync.Mutex
	jobs     map[string]*models.VolatileJobState
	tempDirs map[string]string
	workers  map[string][]*WorkerHandle
}

// New creates a coordinator over the given store.
func New(store JobStore, log *logrus.Entry) *Coordinator {
	if log == nil {
		log = logrus.NewEntry(logrus.New())
	}
	return &Coordinator{
		store:    store,
		log:      log.WithField("component", "coordinator"),
		jobs:     make(map[string]*models.VolatileJobState),
		tempDirs: make(map[string]string),
		workers:  make(map[string][]*WorkerHandle),
	}
}

// Create validates the config, writes a pending durable record, and
// initializes empty volatile state for the job.
func (c *Coordinator) Create(ownerID string, cfg models.JobConfig, file models.FileMeta, keepAudio bool, tags []string) (*models.Job, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	job := &models.Job{
		OwnerID:   ownerID,
		Status:    models.JobStatusPending,
		Config:    cfg,
		File:      file,
		KeepAudio: keepAudio,
		Tags:      tags,
	}
	if err := c.store.CreateJob(job); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.jobs[job.ID] = &models.VolatileJobState{}
	c.mu.Unlock()

	c.log.WithFields(logrus.Fields{"job_id": job.ID, "owner_id": ownerID}).Info("job created")
	return job, nil
}

func validateConfig(cfg models.JobConfig) error {
	if cfg.ChunkingEnabled && cfg.ChunkDuration <= 0 {
		return &models.ValidationError{Field: "chunk_duration", Reason: "must be positive when chunking is enabled"}
	}
	if cfg.MaxSpeakers < 0 {
		return &models.ValidationError{Field: "max_speakers", Reason: "must not be negative"}
	}
	if !cfg.DiarizationEnabled && cfg.MaxSpeakers > 0 {
		return &models.ValidationError{Field: "max_speakers", Reason: "requires diarization"}
	}
	return nil
}

// Get returns the durable snapshot with volatile fields merged on top.
// ownerID is enforced here: a mismatch reports the job as not found.
// The system itself passes an empty ownerID to bypass the check.
func (c *Coordinator) Get(jobID, ownerID string) (*models.Job, error) {
	job, err := c.store.GetJob(jobID)
	if err != nil {
		return nil, err
	}
	if job.Deleted {
		return nil, models.ErrNotFound
	}
	if ownerID != "" && job.OwnerID != ownerID {
		return nil, models.ErrNotFound
	}

	c.Hydrate(job)
	return job, nil
}

// Hydrate merges volatile fields into a durable snapshot and computes
// the progress percentage. Jobs with no volatile entry in this process
// get a percentage derived from durable status alone.
func (c *Coordinator) Hydrate(job *models.Job) {
	c.mu.Lock()
	state, ok := c.jobs[job.ID]
	var snap models.VolatileJobState
	if ok {
		snap = cloneState(state)
	}
	c.mu.Unlock()

	if ok {
		job.ProgressText = snap.ProgressText
		job.Chunks = snap.Chunks
	}

	completed, processing := snap.ChunkCounts()
	job.ProgressPercentage = progress.Percentage(progress.Snapshot{
		Status:               job.Status,
		ChunkingEnabled:      job.Config.ChunkingEnabled,
		AudioConverted:       snap.AudioConverted,
		ChunkTotal:           len(snap.Chunks),
		ChunkCompleted:       completed,
		ChunkProcessing:      processing,
		PunctuationStarted:   snap.PunctuationStarted,
		PunctuationCompleted: snap.PunctuationCompleted,
		PunctuationCurrent:   snap.PunctuationCurrent,
		PunctuationTotal:     snap.PunctuationTotal,
	})
}

// UpdateVolatile applies an in-memory update. Nothing is persisted.
func (c *Coordinator) UpdateVolatile(jobID string, upd models.VolatileUpdate) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	state, ok := c.jobs[jobID]
	if !ok {
		return models.ErrNotFound
	}

	if upd.ProgressText != nil {
		state.ProgressText = *upd.ProgressText
	}
	if upd.Chunks != nil {
		state.Chunks = append([]models.Chunk(nil), upd.Chunks...)
	}
	if upd.Chunk != nil {
		upsertChunk(state, *upd.Chunk)
	}
	if upd.AudioConverted != nil {
		state.AudioConverted = *upd.AudioConverted
	}
	if upd.PunctuationStarted != nil {
		state.PunctuationStarted = *upd.PunctuationStarted
	}
	if upd.PunctuationCompleted != nil {
		state.PunctuationCompleted = *upd.PunctuationCompleted
	}
	if upd.PunctuationCurrent != nil {
		state.PunctuationCurrent = *upd.PunctuationCurrent
	}
	if upd.PunctuationTotal != nil {
		state.PunctuationTotal = *upd.PunctuationTotal
	}
	if upd.DiarizationStarted != nil {
		state.DiarizationStarted = *upd.DiarizationStarted
	}
	if upd.DiarizationCompleted != nil {
		state.DiarizationCompleted = *upd.DiarizationCompleted
	}
	return nil
}

// UpdateDurable writes through to the job store. updated_at is
// refreshed by the store on every write.
func (c *Coordinator) UpdateDurable(jobID string, upd models.DurableUpdate) error {
	return c.store.UpdateJob(jobID, upd)
}

// RequestCancellation flags the job for cooperative cancellation.
// Idempotent; unknown jobs are a no-op. The durable status moves to
// canceling so an immediate re-read does not race the true cancellation
// flow; the executor later settles it at cancelled.
func (c *Coordinator) RequestCancellation(jobID string) {
	c.mu.Lock()
	state, ok := c.jobs[jobID]
	already := ok && state.CancelRequested
	if ok {
		state.CancelRequested = true
	}
	c.mu.Unlock()

	if !ok || already {
		return
	}

	job, err := c.store.GetJob(jobID)
	if err != nil || job.Status.Terminal() {
		return
	}
	if err := c.store.UpdateJob(jobID, models.DurableUpdate{Status: models.Status(models.JobStatusCanceling)}); err != nil {
		c.log.WithField("job_id", jobID).WithError(err).Warn("failed to mark job canceling")
	}
	c.log.WithField("job_id", jobID).Info("cancellation requested")
}

// IsCancelled reports whether cancellation was requested for the job.
func (c *Coordinator) IsCancelled(jobID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	state, ok := c.jobs[jobID]
	return ok && state.CancelRequested
}

// Token returns the cancellation token for a job.
func (c *Coordinator) Token(jobID string) *Token {
	return &Token{c: c, jobID: jobID}
}

// Token is a per-job cancellation flag checked at defined suspension
// points in the pipeline.
type Token struct {
	c     *Coordinator
	jobID string
}

// Cancelled reports whether the job should stop.
func (t *Token) Cancelled() bool {
	return t.c.IsCancelled(t.jobID)
}

// CountProcessing returns the number of jobs currently processing.
func (c *Coordinator) CountProcessing() (int, error) {
	return c.store.CountByStatus(models.JobStatusProcessing)
}

// CountPending returns the number of jobs awaiting admission.
func (c *Coordinator) CountPending() (int, error) {
	return c.store.CountByStatus(models.JobStatusPending)
}

// NextPending returns the oldest pending job, or ErrNotFound.
func (c *Coordinator) NextPending() (*models.Job, error) {
	return c.store.NextPending()
}

// PendingJobs lists jobs awaiting dispatch, oldest first.
func (c *Coordinator) PendingJobs(limit int) ([]*models.Job, error) {
	return c.store.ListJobsByStatus(models.JobStatusPending, limit)
}

// SoftDelete hides a job owned by ownerID from listings.
func (c *Coordinator) SoftDelete(jobID, ownerID string) error {
	if _, err := c.Get(jobID, ownerID); err != nil {
		return err
	}
	return c.store.SoftDeleteJob(jobID)
}

// SweepOrphans marks every pending or processing durable job as failed.
// Run once at process startup: those jobs have no volatile state in
// this process and can never make progress.
func (c *Coordinator) SweepOrphans() (int, error) {
	swept := 0
	for _, status := range []models.JobStatus{models.JobStatusPending, models.JobStatusProcessing, models.JobStatusCanceling} {
		jobs, err := c.store.ListJobsByStatus(status, 1000)
		if err != nil {
			return swept, err
		}
		for _, job := range jobs {
			upd := models.DurableUpdate{
				Status: models.Status(models.JobStatusFailed),
				Error:  models.String(models.OrphanedError),
			}
			if err := c.store.UpdateJob(job.ID, upd); err != nil {
				return swept, err
			}
			swept++
		}
	}
	if swept > 0 {
		c.log.WithField("count", swept).Warn("swept orphaned jobs after restart")
	}
	return swept, nil
}

func upsertChunk(state *models.VolatileJobState, chunk models.Chunk) {
	for i := range state.Chunks {
		if state.Chunks[i].Index == chunk.Index {
			state.Chunks[i] = chunk
			return
		}
	}
	state.Chunks = append(state.Chunks, chunk)
}

func cloneState(state *models.VolatileJobState) models.VolatileJobState {
	snap := *state
	snap.Chunks = append([]models.Chunk(nil), state.Chunks...)
	return snap
}
