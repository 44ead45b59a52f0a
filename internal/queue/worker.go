package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
)

// Handler processes one job. Returning an error wrapped with
// backoff.Permanent dead-letters the job without further attempts.
type Handler func(ctx context.Context, job *Job) error

// WorkerOptions tunes retry behaviour.
type WorkerOptions struct {
	Concurrency int
	BaseDelay   time.Duration
	MaxDelay    time.Duration

	// MaxAttempts, when set, caps every job's own limit.
	MaxAttempts int
}

// Worker pulls jobs from a Queue and dispatches them by type.
type Worker struct {
	q        Queue
	opts     WorkerOptions
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewWorker creates a worker pool over q.
func NewWorker(q Queue, opts WorkerOptions) *Worker {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = 2 * time.Second
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = 5 * time.Minute
	}
	return &Worker{q: q, opts: opts, handlers: make(map[string]Handler)}
}

// Handle registers the handler for a job type.
func (w *Worker) Handle(jobType string, h Handler) {
	w.mu.Lock()
	w.handlers[jobType] = h
	w.mu.Unlock()
	log.Info().Str("type", jobType).Msg("Registered job handler")
}

func (w *Worker) handler(jobType string) (Handler, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	h, ok := w.handlers[jobType]
	return h, ok
}

// Run starts the worker loops and blocks until ctx is done or the queue closes.
func (w *Worker) Run(ctx context.Context) {
	log.Info().Int("concurrency", w.opts.Concurrency).Msg("Starting job worker pool")
	var wg sync.WaitGroup
	for i := 0; i < w.opts.Concurrency; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			w.runLoop(ctx, workerID)
		}(i + 1)
	}
	wg.Wait()
}

func (w *Worker) runLoop(ctx context.Context, workerID int) {
	for {
		job, err := w.q.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, ErrClosed) {
				log.Info().Int("worker_id", workerID).Msg("Worker loop stopped")
				return
			}
			log.Warn().Err(err).Int("worker_id", workerID).Msg("Receive failed")
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}
		w.Process(ctx, job)
	}
}

// Process runs one received job and settles it with the queue. Settlement
// outlives ctx so a job interrupted by shutdown is still requeued.
func (w *Worker) Process(ctx context.Context, job *Job) {
	settle := context.WithoutCancel(ctx)
	logger := log.With().Str("job_id", job.ID).Str("job_type", job.Type).Int("attempt", job.Attempts+1).Logger()

	h, ok := w.handler(job.Type)
	if !ok {
		logger.Warn().Msg("No handler registered for job type")
		if err := w.q.DeadLetter(settle, job, "no handler registered for job type "+job.Type); err != nil {
			logger.Error().Err(err).Msg("Dead-letter failed")
		}
		return
	}

	start := time.Now()
	err := runSafely(ctx, h, job)
	job.Attempts++

	if err == nil {
		if ackErr := w.q.Ack(settle, job); ackErr != nil {
			logger.Error().Err(ackErr).Msg("Ack failed")
		}
		logger.Debug().Dur("duration", time.Since(start)).Msg("Job completed")
		return
	}

	job.LastError = err.Error()
	maxAttempts := job.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if w.opts.MaxAttempts > 0 && w.opts.MaxAttempts < maxAttempts {
		maxAttempts = w.opts.MaxAttempts
	}

	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) || job.Attempts >= maxAttempts {
		logger.Error().Err(err).Bool("permanent", permanent != nil).Msg("Job failed, moving to dead letter")
		if dlErr := w.q.DeadLetter(settle, job, err.Error()); dlErr != nil {
			logger.Error().Err(dlErr).Msg("Dead-letter failed")
		}
		return
	}

	delay := w.RetryDelay(job.Attempts)
	logger.Warn().Err(err).Dur("retry_in", delay).Msg("Job failed, scheduling retry")
	if rErr := w.q.Retry(settle, job, delay); rErr != nil {
		logger.Error().Err(rErr).Msg("Retry failed")
	}
}

// RetryDelay is the backoff after the given number of completed attempts:
// BaseDelay doubled per attempt, capped at MaxDelay, without jitter.
func (w *Worker) RetryDelay(attempts int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = w.opts.BaseDelay
	b.MaxInterval = w.opts.MaxDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()

	d := b.NextBackOff()
	for i := 1; i < attempts; i++ {
		d = b.NextBackOff()
	}
	return d
}

func runSafely(ctx context.Context, h Handler, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job handler panic: %v", r)
		}
	}()
	return h(ctx, job)
}
