package coordinator

import (
	"context"
	"os"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
)

// WorkerHandle tracks one spawned child process so it can be terminated
// outside the goroutine that started it.
type WorkerHandle struct {
	jobID string
	proc  *os.Process
}

// Kill force-terminates the worker process immediately.
func (h *WorkerHandle) Kill() {
	if h.proc == nil {
		return
	}
	_ = h.proc.Kill()
}

// terminate asks the worker to exit, then force-kills it after grace.
func (h *WorkerHandle) terminate(grace time.Duration) {
	if h.proc == nil {
		return
	}
	_ = h.proc.Signal(syscall.SIGTERM)
	time.Sleep(grace)
	_ = h.proc.Kill()
}

// RegisterTempDir records the temp directory owned by a job so
// ReleaseResources can remove it.
func (c *Coordinator) RegisterTempDir(jobID, dir string) {
	c.mu.Lock()
	c.tempDirs[jobID] = dir
	c.mu.Unlock()
}

// TempDir returns the registered temp directory for a job, if any.
func (c *Coordinator) TempDir(jobID string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tempDirs[jobID]
}

// RegisterWorker records a spawned child process for a job and returns
// a function that unregisters it once the process has been waited on.
func (c *Coordinator) RegisterWorker(jobID string, proc *os.Process) func() {
	handle := &WorkerHandle{jobID: jobID, proc: proc}

	c.mu.Lock()
	c.workers[jobID] = append(c.workers[jobID], handle)
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		handles := c.workers[jobID]
		for i, h := range handles {
			if h == handle {
				c.workers[jobID] = append(handles[:i], handles[i+1:]...)
				break
			}
		}
		if len(c.workers[jobID]) == 0 {
			delete(c.workers, jobID)
		}
	}
}

// ReleaseResources removes the job's temp directory, force-terminates
// any registered worker processes, and clears volatile state. Idempotent
// and safe on jobs that never started; cleanup paths call it from
// multiple sites including error handlers.
func (c *Coordinator) ReleaseResources(jobID string) {
	c.mu.Lock()
	dir := c.tempDirs[jobID]
	delete(c.tempDirs, jobID)
	handles := c.workers[jobID]
	delete(c.workers, jobID)
	delete(c.jobs, jobID)
	c.mu.Unlock()

	for _, h := range handles {
		h.Kill()
	}
	if dir != "" {
		if err := os.RemoveAll(dir); err != nil {
			c.log.WithField("job_id", jobID).WithError(err).Warn("failed to remove temp dir")
		}
	}
}

// SweepOrphanedWorkers periodically terminates worker processes whose
// job is no longer active, guarding against leaks when a pipeline exits
// without cleaning up.
func (c *Coordinator) SweepOrphanedWorkers(ctx context.Context, interval, grace time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sweepWorkersOnce(grace)
		}
	}
}

func (c *Coordinator) sweepWorkersOnce(grace time.Duration) {
	c.mu.Lock()
	var orphaned []*WorkerHandle
	for jobID, handles := range c.workers {
		if _, active := c.jobs[jobID]; active {
			continue
		}
		orphaned = append(orphaned, handles...)
		delete(c.workers, jobID)
	}
	c.mu.Unlock()

	for _, h := range orphaned {
		c.log.WithFields(logrus.Fields{"job_id": h.jobID}).Warn("terminating orphaned worker process")
		h.terminate(grace)
	}
}
