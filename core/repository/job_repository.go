package repository

import (
	"database/sql"
	"fmt"
	"time"

	"transcribe-orchestrator/core/models"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

const jobColumns = `id, owner_id, status, chunking_enabled, chunk_duration_ms,
	punctuation_provider, diarization_enabled, max_speakers, language,
	file_name, file_size, file_path, transcript_ref, segments_ref, audio_ref,
	tags, keep_audio, deleted, error, created_at, updated_at, started_at, completed_at`

// JobRepository handles database operations for jobs
type JobRepository struct {
	db *DB
}

// NewJobRepository creates a new job repository
func NewJobRepository(db *DB) *JobRepository {
	return &JobRepository{db: db}
}

// CreateJob inserts a new job record
func (r *JobRepository) CreateJob(job *models.Job) error {
	jobID := uuid.New()
	if job.ID != "" {
		var err error
		jobID, err = uuid.Parse(job.ID)
		if err != nil {
			return err
		}
	}

	now := time.Now()
	query := `
		INSERT INTO jobs (
			id, owner_id, status, chunking_enabled, chunk_duration_ms,
			punctuation_provider, diarization_enabled, max_speakers, language,
			file_name, file_size, file_path, transcript_ref, segments_ref,
			audio_ref, tags, keep_audio, deleted, error, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,
			$13, $14, $15, $16, $17, $18, $19, $20, $21
		)
	`

	_, err := r.db.Exec(query,
		jobID,
		job.OwnerID,
		job.Status,
		job.Config.ChunkingEnabled,
		job.Config.ChunkDuration.Milliseconds(),
		job.Config.PunctuationProvider,
		job.Config.DiarizationEnabled,
		job.Config.MaxSpeakers,
		job.Config.Language,
		job.File.Name,
		job.File.Size,
		job.File.Path,
		job.Result.TranscriptRef,
		job.Result.SegmentsRef,
		job.Result.AudioRef,
		pq.Array(job.Tags),
		job.KeepAudio,
		job.Deleted,
		job.Error,
		now,
		now,
	)
	if err != nil {
		return err
	}

	job.ID = jobID.String()
	job.CreatedAt = now
	job.UpdatedAt = now
	return nil
}

// GetJob retrieves a job by ID
func (r *JobRepository) GetJob(id string) (*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`

	job, err := scanJob(r.db.QueryRow(query, id))
	if err == sql.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

// UpdateJob applies a durable update to a job and refreshes updated_at
func (r *JobRepository) UpdateJob(id string, upd models.DurableUpdate) error {
	set, args := buildUpdate(upd)
	args = append(args, id)
	query := fmt.Sprintf(`UPDATE jobs SET %s WHERE id = $%d`, set, len(args))

	res, err := r.db.Exec(query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return models.ErrNotFound
	}
	return nil
}

// buildUpdate renders a SET clause for the non-nil fields of upd.
// updated_at is always refreshed.
func buildUpdate(upd models.DurableUpdate) (string, []interface{}) {
	set := "updated_at = NOW()"
	args := []interface{}{}

	add := func(column string, value interface{}) {
		args = append(args, value)
		set += fmt.Sprintf(", %s = $%d", column, len(args))
	}

	if upd.Status != nil {
		add("status", *upd.Status)
	}
	if upd.Error != nil {
		add("error", *upd.Error)
	}
	if upd.Result != nil {
		add("transcript_ref", upd.Result.TranscriptRef)
		add("segments_ref", upd.Result.SegmentsRef)
		add("audio_ref", upd.Result.AudioRef)
	}
	if upd.Tags != nil {
		add("tags", pq.Array(upd.Tags))
	}
	if upd.StartedAt != nil {
		add("started_at", *upd.StartedAt)
	}
	if upd.CompletedAt != nil {
		add("completed_at", *upd.CompletedAt)
	}

	return set, args
}

// ListJobsByStatus lists non-deleted jobs in the given status, oldest first
func (r *JobRepository) ListJobsByStatus(status models.JobStatus, limit int) ([]*models.Job, error) {
	query := `SELECT ` + jobColumns + `
		FROM jobs
		WHERE status = $1 AND NOT deleted
		ORDER BY created_at ASC
		LIMIT $2`

	rows, err := r.db.Query(query, status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanJobs(rows)
}

// ListJobsByOwner lists non-deleted jobs for one owner, newest first
func (r *JobRepository) ListJobsByOwner(ownerID string, status *models.JobStatus, limit int) ([]*models.Job, error) {
	query := `SELECT ` + jobColumns + `
		FROM jobs
		WHERE owner_id = $1 AND NOT deleted`
	args := []interface{}{ownerID}

	if status != nil {
		args = append(args, *status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}

	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanJobs(rows)
}

// CountByStatus counts non-deleted jobs in the given status
func (r *JobRepository) CountByStatus(status models.JobStatus) (int, error) {
	var n int
	err := r.db.QueryRow(
		`SELECT COUNT(*) FROM jobs WHERE status = $1 AND NOT deleted`,
		status,
	).Scan(&n)
	return n, err
}

// NextPending returns the oldest pending job, or ErrNotFound
func (r *JobRepository) NextPending() (*models.Job, error) {
	jobs, err := r.ListJobsByStatus(models.JobStatusPending, 1)
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, models.ErrNotFound
	}
	return jobs[0], nil
}

// SoftDeleteJob hides a job from listings without destroying the record
func (r *JobRepository) SoftDeleteJob(id string) error {
	res, err := r.db.Exec(`UPDATE jobs SET deleted = TRUE, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return models.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*models.Job, error) {
	var job models.Job
	var chunkDurationMS int64
	var startedAt, completedAt sql.NullTime

	err := row.Scan(
		&job.ID,
		&job.OwnerID,
		&job.Status,
		&job.Config.ChunkingEnabled,
		&chunkDurationMS,
		&job.Config.PunctuationProvider,
		&job.Config.DiarizationEnabled,
		&job.Config.MaxSpeakers,
		&job.Config.Language,
		&job.File.Name,
		&job.File.Size,
		&job.File.Path,
		&job.Result.TranscriptRef,
		&job.Result.SegmentsRef,
		&job.Result.AudioRef,
		pq.Array(&job.Tags),
		&job.KeepAudio,
		&job.Deleted,
		&job.Error,
		&job.CreatedAt,
		&job.UpdatedAt,
		&startedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	job.Config.ChunkDuration = time.Duration(chunkDurationMS) * time.Millisecond
	if startedAt.Valid {
		job.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		job.CompletedAt = &completedAt.Time
	}

	return &job, nil
}

func scanJobs(rows *sql.Rows) ([]*models.Job, error) {
	var jobs []*models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}
