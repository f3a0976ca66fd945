package scheduler

import (
	"container/heap"
	"sync"

	"transcribe-orchestrator/core/models"
)

// JobQueue is a priority queue of submitted jobs, oldest first.
type JobQueue struct {
	jobs []*queuedJob
	mu   sync.Mutex
}

type queuedJob struct {
	Job   *models.Job
	Index int // for heap.Interface
}

// NewJobQueue creates an empty job queue.
func NewJobQueue() *JobQueue {
	jq := &JobQueue{jobs: make([]*queuedJob, 0)}
	heap.Init(jq)
	return jq
}

// Enqueue adds a job to the queue.
func (jq *JobQueue) Enqueue(job *models.Job) {
	jq.mu.Lock()
	defer jq.mu.Unlock()
	heap.Push(jq, &queuedJob{Job: job})
}

// PopJob removes and returns the oldest queued job, or nil.
func (jq *JobQueue) PopJob() *models.Job {
	jq.mu.Lock()
	defer jq.mu.Unlock()

	if jq.Len() == 0 {
		return nil
	}
	item := heap.Pop(jq).(*queuedJob)
	return item.Job
}

// Size returns the number of queued jobs.
func (jq *JobQueue) Size() int {
	jq.mu.Lock()
	defer jq.mu.Unlock()
	return jq.Len()
}

// Len implements heap.Interface.
func (jq *JobQueue) Len() int {
	return len(jq.jobs)
}

// Less implements heap.Interface. Jobs are dispatched in submission order.
func (jq *JobQueue) Less(i, j int) bool {
	return jq.jobs[i].Job.CreatedAt.Before(jq.jobs[j].Job.CreatedAt)
}

// Swap implements heap.Interface.
func (jq *JobQueue) Swap(i, j int) {
	jq.jobs[i], jq.jobs[j] = jq.jobs[j], jq.jobs[i]
	jq.jobs[i].Index = i
	jq.jobs[j].Index = j
}

// Push implements heap.Interface.
func (jq *JobQueue) Push(x interface{}) {
	n := len(jq.jobs)
	item := x.(*queuedJob)
	item.Index = n
	jq.jobs = append(jq.jobs, item)
}

// Pop implements heap.Interface.
func (jq *JobQueue) Pop() interface{} {
	old := jq.jobs
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.Index = -1
	jq.jobs = old[0 : n-1]
	return item
}
