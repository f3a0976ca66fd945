package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"transcribe-orchestrator/core/coordinator"
	"transcribe-orchestrator/core/diarize"
	"transcribe-orchestrator/core/models"
	"transcribe-orchestrator/core/punctuate"
	"transcribe-orchestrator/core/recognize"
	"transcribe-orchestrator/storage"

	"github.com/sirupsen/logrus"
)

// RecognizerSource builds a per-job recognizer factory, so spawned
// worker processes can be registered against the job that owns them.
type RecognizerSource func(jobID string) recognize.Factory

// DiarizerSource builds a per-job diarizer for the same reason.
type DiarizerSource func(jobID string) diarize.Diarizer

// Executor runs the full stage sequence for one job: convert,
// recognize, punctuate, diarize, finalize. It owns the terminal
// durable status write and always releases job resources afterwards.
type Executor struct {
	coord       *coordinator.Coordinator
	media       Media
	chunker     *ChunkCoordinator
	recognizers RecognizerSource
	restorer    punctuate.Restorer
	diarizers   DiarizerSource
	audio       storage.AudioStore
	resultsDir  string
	log         *logrus.Entry
}

// NewExecutor wires an executor. restorer, diarizers and audio may be
// nil; the matching stages are then skipped or degraded.
func NewExecutor(coord *coordinator.Coordinator, media Media, chunker *ChunkCoordinator, recognizers RecognizerSource, restorer punctuate.Restorer, diarizers DiarizerSource, audio storage.AudioStore, resultsDir string, log *logrus.Entry) *Executor {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Executor{
		coord:       coord,
		media:       media,
		chunker:     chunker,
		recognizers: recognizers,
		restorer:    restorer,
		diarizers:   diarizers,
		audio:       audio,
		resultsDir:  resultsDir,
		log:         log.WithField("component", "executor"),
	}
}

// Run executes jobID to a terminal state. It never returns an error:
// every outcome is recorded on the job itself.
func (e *Executor) Run(ctx context.Context, jobID string) {
	log := e.log.WithField("job_id", jobID)

	job, err := e.coord.Get(jobID, "")
	if err != nil {
		log.WithError(err).Error("job unavailable at dispatch")
		return
	}

	start := time.Now()
	if err := e.coord.UpdateDurable(jobID, models.DurableUpdate{
		Status:    models.Status(models.JobStatusProcessing),
		StartedAt: &start,
	}); err != nil {
		log.WithError(err).Error("failed to mark job processing")
		e.coord.ReleaseResources(jobID)
		return
	}

	err = e.run(ctx, job, log)
	end := time.Now()
	switch {
	case errors.Is(err, models.ErrCancelled):
		e.settle(jobID, log, models.DurableUpdate{
			Status:      models.Status(models.JobStatusCancelled),
			CompletedAt: &end,
		})
		log.Info("job cancelled")
	case err != nil:
		e.settle(jobID, log, models.DurableUpdate{
			Status:      models.Status(models.JobStatusFailed),
			Error:       models.String(err.Error()),
			CompletedAt: &end,
		})
		log.WithError(err).Error("job failed")
	default:
		log.WithField("duration", end.Sub(start).String()).Info("job completed")
	}

	// The terminal durable write above happens before any resource
	// teardown, so a crash mid-cleanup still leaves truthful status.
	e.coord.ReleaseResources(jobID)
	removeUpload(job.File.Path, log)
}

// removeUpload deletes the uploaded source file once the job is
// terminal. By then keep_audio preservation has already copied it out.
func removeUpload(path string, log *logrus.Entry) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("failed to remove uploaded audio")
	}
}

func (e *Executor) settle(jobID string, log *logrus.Entry, upd models.DurableUpdate) {
	if err := e.coord.UpdateDurable(jobID, upd); err != nil {
		log.WithError(err).Error("failed to write terminal status")
	}
}

func (e *Executor) run(ctx context.Context, job *models.Job, log *logrus.Entry) error {
	token := e.coord.Token(job.ID)
	if token.Cancelled() {
		return models.ErrCancelled
	}

	dir := e.coord.TempDir(job.ID)
	if dir == "" {
		var err error
		dir, err = os.MkdirTemp("", "transcribe-"+job.ID+"-")
		if err != nil {
			return &models.StageError{Stage: "setup", Err: err}
		}
		e.coord.RegisterTempDir(job.ID, dir)
	}

	e.setProgress(job.ID, "converting audio")
	wavPath, err := e.media.Convert(ctx, job.File.Path, dir)
	if err != nil {
		return &models.StageError{Stage: "convert", Err: err}
	}
	e.publish(job.ID, models.VolatileUpdate{AudioConverted: models.Bool(true)})
	if token.Cancelled() {
		return models.ErrCancelled
	}

	e.setProgress(job.ID, "transcribing")
	res, err := e.recognizeStage(ctx, job, wavPath, token)
	if err != nil {
		if errors.Is(err, models.ErrCancelled) {
			return models.ErrCancelled
		}
		return &models.StageError{Stage: "transcribe", Err: err}
	}
	if token.Cancelled() {
		return models.ErrCancelled
	}

	if job.Config.PunctuationProvider != "" && e.restorer != nil {
		e.setProgress(job.ID, "restoring punctuation")
		e.publish(job.ID, models.VolatileUpdate{PunctuationStarted: models.Bool(true)})

		language := job.Config.Language
		if language == "" {
			language = res.Language
		}
		restored, perr := e.restorer.Restore(ctx, res.Text, language, func(current, total int) {
			e.publish(job.ID, models.VolatileUpdate{
				PunctuationCurrent: models.Int(current),
				PunctuationTotal:   models.Int(total),
			})
		})
		if perr != nil {
			return &models.StageError{Stage: "punctuate", Err: perr}
		}
		res.Text = restored
		e.publish(job.ID, models.VolatileUpdate{PunctuationCompleted: models.Bool(true)})
		if token.Cancelled() {
			return models.ErrCancelled
		}
	}

	if job.Config.DiarizationEnabled && e.diarizers != nil {
		e.setProgress(job.ID, "identifying speakers")
		e.publish(job.ID, models.VolatileUpdate{DiarizationStarted: models.Bool(true)})

		turns, derr := e.diarizers(job.ID).Diarize(ctx, wavPath, job.Config.MaxSpeakers)
		if derr != nil {
			return &models.StageError{Stage: "diarize", Err: derr}
		}
		res.Segments = diarize.AssignSpeakers(res.Segments, turns)
		e.publish(job.ID, models.VolatileUpdate{DiarizationCompleted: models.Bool(true)})
		if token.Cancelled() {
			return models.ErrCancelled
		}
	}

	e.setProgress(job.ID, "finalizing")
	result, err := e.writeResult(job.ID, res)
	if err != nil {
		return &models.StageError{Stage: "finalize", Err: err}
	}

	if job.KeepAudio && e.audio != nil {
		ref, perr := e.audio.Preserve(ctx, job.ID, job.File.Path)
		if perr != nil {
			// Preservation is best-effort; a completed transcript
			// outweighs a lost audio copy.
			log.WithError(perr).Warn("failed to preserve audio")
		} else {
			result.AudioRef = ref
		}
	}

	e.setProgress(job.ID, "completed")
	end := time.Now()
	if err := e.coord.UpdateDurable(job.ID, models.DurableUpdate{
		Status:      models.Status(models.JobStatusCompleted),
		Result:      &result,
		CompletedAt: &end,
	}); err != nil {
		return &models.StageError{Stage: "finalize", Err: err}
	}
	return nil
}

func (e *Executor) recognizeStage(ctx context.Context, job *models.Job, wavPath string, token *coordinator.Token) (recognize.Result, error) {
	factory := e.recognizers(job.ID)
	if job.Config.ChunkingEnabled {
		return e.chunker.Run(ctx, job.ID, wavPath, job.Config.ChunkDuration, job.Config.Language, factory, e.coord, token)
	}

	rec, err := factory()
	if err != nil {
		return recognize.Result{}, fmt.Errorf("init recognizer: %w", err)
	}
	return rec.Recognize(ctx, wavPath, job.Config.Language)
}

func (e *Executor) writeResult(jobID string, res recognize.Result) (models.JobResult, error) {
	if err := os.MkdirAll(e.resultsDir, 0o755); err != nil {
		return models.JobResult{}, fmt.Errorf("create results dir: %w", err)
	}

	transcriptPath := filepath.Join(e.resultsDir, jobID+".txt")
	if err := os.WriteFile(transcriptPath, []byte(res.Text), 0o644); err != nil {
		return models.JobResult{}, fmt.Errorf("write transcript: %w", err)
	}

	segmentsPath := filepath.Join(e.resultsDir, jobID+".segments.json")
	data, err := json.MarshalIndent(res.Segments, "", "  ")
	if err != nil {
		return models.JobResult{}, fmt.Errorf("encode segments: %w", err)
	}
	if err := os.WriteFile(segmentsPath, data, 0o644); err != nil {
		return models.JobResult{}, fmt.Errorf("write segments: %w", err)
	}

	return models.JobResult{
		TranscriptRef: transcriptPath,
		SegmentsRef:   segmentsPath,
	}, nil
}

func (e *Executor) setProgress(jobID, text string) {
	e.publish(jobID, models.VolatileUpdate{ProgressText: models.String(text)})
}

func (e *Executor) publish(jobID string, upd models.VolatileUpdate) {
	if err := e.coord.UpdateVolatile(jobID, upd); err != nil {
		e.log.WithField("job_id", jobID).WithError(err).Warn("volatile update dropped")
	}
}
