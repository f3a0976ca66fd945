package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"transcribe-orchestrator/core/models"
	"transcribe-orchestrator/core/recognize"

	"github.com/sirupsen/logrus"
)

// StateSink receives volatile progress updates during recognition.
// The chunk coordinator goroutine is the only writer; workers hand
// results back over a channel.
type StateSink interface {
	UpdateVolatile(jobID string, upd models.VolatileUpdate) error
}

// CancelCheck is the cancellation token polled at loop boundaries.
type CancelCheck interface {
	Cancelled() bool
}

// ChunkCoordinator splits long audio into fixed-duration chunks,
// recognizes them on a bounded worker pool and merges the results in
// chunk order.
type ChunkCoordinator struct {
	media   Media
	workers int
	log     *logrus.Entry
}

// NewChunkCoordinator creates a coordinator running at most workers
// recognitions in parallel.
func NewChunkCoordinator(media Media, workers int, log *logrus.Entry) *ChunkCoordinator {
	if workers <= 0 {
		workers = 2
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &ChunkCoordinator{media: media, workers: workers, log: log}
}

// chunkEvent is a worker-to-coordinator message. started marks a chunk
// entering recognition; otherwise it carries the outcome. index -1
// reports a worker that failed to initialize.
type chunkEvent struct {
	index   int
	started bool
	res     recognize.Result
	err     error
}

// Run recognizes audioPath as chunks of chunkDuration. Audio at or
// below one chunk duration skips splitting entirely and is recognized
// whole. On any chunk failure in-flight work is torn down and a single
// error is returned.
func (c *ChunkCoordinator) Run(ctx context.Context, jobID, audioPath string, chunkDuration time.Duration, language string, factory recognize.Factory, sink StateSink, token CancelCheck) (recognize.Result, error) {
	total, err := c.media.Duration(ctx, audioPath)
	if err != nil {
		return recognize.Result{}, err
	}

	// Audio at or below one chunk duration skips splitting, but still
	// reports as a single chunk so pollers see recognition progress.
	if total <= chunkDuration {
		chunk := models.Chunk{
			Index:   1,
			StartMS: 0,
			EndMS:   total.Milliseconds(),
			Status:  models.ChunkStatusProcessing,
		}
		c.publish(jobID, sink, models.VolatileUpdate{Chunks: []models.Chunk{chunk}})

		rec, err := factory()
		if err != nil {
			chunk.Status = models.ChunkStatusFailed
			c.publish(jobID, sink, models.VolatileUpdate{Chunk: &chunk})
			return recognize.Result{}, fmt.Errorf("init recognizer: %w", err)
		}
		res, err := rec.Recognize(ctx, audioPath, language)
		if err != nil {
			chunk.Status = models.ChunkStatusFailed
			c.publish(jobID, sink, models.VolatileUpdate{Chunk: &chunk})
			return recognize.Result{}, err
		}

		chunk.Status = models.ChunkStatusCompleted
		chunk.Text = res.Text
		chunk.Segments = res.Segments
		c.publish(jobID, sink, models.VolatileUpdate{Chunk: &chunk})
		return res, nil
	}

	chunkDir := filepath.Join(filepath.Dir(audioPath), "chunks")
	if err := os.MkdirAll(chunkDir, 0o755); err != nil {
		return recognize.Result{}, fmt.Errorf("create chunk dir: %w", err)
	}

	n := int((total + chunkDuration - 1) / chunkDuration)
	chunks := make([]models.Chunk, n)
	paths := make([]string, n)
	for i := 0; i < n; i++ {
		start := time.Duration(i) * chunkDuration
		end := start + chunkDuration
		if end > total {
			end = total
		}
		chunks[i] = models.Chunk{
			Index:   i + 1,
			StartMS: start.Milliseconds(),
			EndMS:   end.Milliseconds(),
			Status:  models.ChunkStatusPending,
		}
		paths[i] = filepath.Join(chunkDir, fmt.Sprintf("chunk-%03d.wav", i+1))
		if err := c.media.Slice(ctx, audioPath, start, end-start, paths[i]); err != nil {
			os.RemoveAll(chunkDir)
			return recognize.Result{}, fmt.Errorf("split chunk %d: %w", i+1, err)
		}
	}

	c.publish(jobID, sink, models.VolatileUpdate{Chunks: chunks})
	c.log.WithFields(logrus.Fields{
		"job_id":  jobID,
		"chunks":  n,
		"workers": c.workers,
	}).Info("chunked recognition started")

	poolCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	work := make(chan int, n)
	for i := range paths {
		work <- i
	}
	close(work)

	// Buffer holds every possible event so workers never block on a
	// coordinator that has already bailed out.
	events := make(chan chunkEvent, 2*n+c.workers)

	var wg sync.WaitGroup
	for w := 0; w < c.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec, err := factory()
			if err != nil {
				events <- chunkEvent{index: -1, err: err}
				return
			}
			for i := range work {
				if poolCtx.Err() != nil {
					return
				}
				events <- chunkEvent{index: i, started: true}
				res, err := rec.Recognize(poolCtx, paths[i], language)
				events <- chunkEvent{index: i, res: res, err: err}
			}
		}()
	}

	teardown := func() {
		cancel()
		wg.Wait()
		os.RemoveAll(chunkDir)
	}

	results := make([]recognize.Result, n)
	done := 0
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for done < n {
		select {
		case <-ticker.C:
			if token != nil && token.Cancelled() {
				teardown()
				return recognize.Result{}, models.ErrCancelled
			}
		case ev := <-events:
			switch {
			case ev.index < 0:
				teardown()
				return recognize.Result{}, fmt.Errorf("init recognizer: %w", ev.err)
			case ev.started:
				chunks[ev.index].Status = models.ChunkStatusProcessing
				upd := chunks[ev.index]
				c.publish(jobID, sink, models.VolatileUpdate{Chunk: &upd})
			case ev.err != nil:
				chunks[ev.index].Status = models.ChunkStatusFailed
				upd := chunks[ev.index]
				c.publish(jobID, sink, models.VolatileUpdate{Chunk: &upd})
				teardown()
				if token != nil && token.Cancelled() {
					return recognize.Result{}, models.ErrCancelled
				}
				return recognize.Result{}, fmt.Errorf("chunk %d failed: %w", ev.index+1, ev.err)
			default:
				results[ev.index] = ev.res
				chunks[ev.index].Status = models.ChunkStatusCompleted
				chunks[ev.index].Text = ev.res.Text
				chunks[ev.index].Segments = ev.res.Segments
				upd := chunks[ev.index]
				c.publish(jobID, sink, models.VolatileUpdate{Chunk: &upd})
				done++
			}
		}
	}

	wg.Wait()
	os.RemoveAll(chunkDir)
	return mergeResults(results, chunkDuration), nil
}

func (c *ChunkCoordinator) publish(jobID string, sink StateSink, upd models.VolatileUpdate) {
	if sink == nil {
		return
	}
	if err := sink.UpdateVolatile(jobID, upd); err != nil {
		c.log.WithField("job_id", jobID).WithError(err).Warn("chunk state update dropped")
	}
}

// mergeResults concatenates chunk results by index, so completion
// order never affects the output. Segment times are shifted to the
// full-recording timeline.
func mergeResults(results []recognize.Result, chunkDuration time.Duration) recognize.Result {
	var merged recognize.Result
	var parts []string
	for i, res := range results {
		if i == 0 {
			merged.Language = res.Language
		}
		if res.Text != "" {
			parts = append(parts, res.Text)
		}
		offset := float64(i) * chunkDuration.Seconds()
		for _, seg := range res.Segments {
			seg.Start += offset
			seg.End += offset
			merged.Segments = append(merged.Segments, seg)
		}
	}
	merged.Text = strings.Join(parts, " ")
	return merged
}
