package scheduler

import (
	"context"
	"os"
	"sync"
	"time"

	"transcribe-orchestrator/core/coordinator"
	"transcribe-orchestrator/core/models"

	"github.com/sirupsen/logrus"
)

// Runner executes one job to a terminal state.
type Runner interface {
	Run(ctx context.Context, jobID string)
}

// Scheduler admits queued jobs onto a bounded set of execution slots.
type Scheduler struct {
	coord  *coordinator.Coordinator
	runner Runner
	queue  *JobQueue
	slots  chan struct{}
	log    *logrus.Entry

	pollInterval time.Duration
	stopChan     chan struct{}
	wg           sync.WaitGroup
}

// NewScheduler creates a scheduler running at most maxConcurrent jobs.
func NewScheduler(coord *coordinator.Coordinator, runner Runner, maxConcurrent int, log *logrus.Entry) *Scheduler {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Scheduler{
		coord:        coord,
		runner:       runner,
		queue:        NewJobQueue(),
		slots:        make(chan struct{}, maxConcurrent),
		log:          log.WithField("component", "scheduler"),
		pollInterval: 2 * time.Second,
		stopChan:     make(chan struct{}),
	}
}

// Start runs the dispatch loop until the context ends or Stop is called.
// In-flight jobs are waited on before returning.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	s.loadPending()

	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			return
		case <-s.stopChan:
			s.wg.Wait()
			return
		case <-ticker.C:
			s.dispatch(ctx)
		}
	}
}

// Stop shuts the dispatch loop down.
func (s *Scheduler) Stop() {
	close(s.stopChan)
}

// Enqueue adds a job for dispatch.
func (s *Scheduler) Enqueue(job *models.Job) {
	s.queue.Enqueue(job)
}

// loadPending enqueues jobs that were submitted before this scheduler
// started, such as during the window between startup and Start.
func (s *Scheduler) loadPending() {
	jobs, err := s.coord.PendingJobs(100)
	if err != nil {
		s.log.WithError(err).Error("failed to load pending jobs")
		return
	}
	for _, job := range jobs {
		s.queue.Enqueue(job)
	}
	if len(jobs) > 0 {
		s.log.WithField("count", len(jobs)).Info("loaded pending jobs")
	}
}

// dispatch drains the queue onto free slots. Queue entries are stale by
// design; the durable record is re-read before each dispatch.
func (s *Scheduler) dispatch(ctx context.Context) {
	for {
		select {
		case s.slots <- struct{}{}:
		default:
			return
		}

		job := s.queue.PopJob()
		if job == nil {
			<-s.slots
			return
		}

		fresh, err := s.coord.Get(job.ID, "")
		if err != nil {
			s.log.WithField("job_id", job.ID).WithError(err).Warn("queued job no longer available")
			<-s.slots
			continue
		}

		switch {
		case fresh.Status == models.JobStatusCanceling || s.coord.IsCancelled(job.ID):
			s.settleCancelled(fresh)
			<-s.slots
		case fresh.Status != models.JobStatusPending:
			<-s.slots
		default:
			s.wg.Add(1)
			go func(id string) {
				defer s.wg.Done()
				defer func() { <-s.slots }()
				s.runner.Run(ctx, id)
			}(job.ID)
		}
	}
}

// settleCancelled finishes a job that was cancelled while still queued.
// It never ran, so there is nothing to unwind beyond its registration
// and the uploaded source file.
func (s *Scheduler) settleCancelled(job *models.Job) {
	now := time.Now()
	upd := models.DurableUpdate{
		Status:      models.Status(models.JobStatusCancelled),
		CompletedAt: &now,
	}
	if err := s.coord.UpdateDurable(job.ID, upd); err != nil {
		s.log.WithField("job_id", job.ID).WithError(err).Error("failed to settle cancelled job")
	}
	s.coord.ReleaseResources(job.ID)
	if job.File.Path != "" {
		if err := os.Remove(job.File.Path); err != nil && !os.IsNotExist(err) {
			s.log.WithField("job_id", job.ID).WithError(err).Warn("failed to remove uploaded audio")
		}
	}
	s.log.WithField("job_id", job.ID).Info("job cancelled before dispatch")
}
