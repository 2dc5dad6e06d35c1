package github

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	gogithub "github.com/google/go-github/v62/github"

	apperrors "github.com/jmbish04/gh-stars-sink/internal/errors"
	"github.com/jmbish04/gh-stars-sink/internal/logging"
)

const maxTaskAttempts = 3

// WorkerPool manages parallel execution of GitHub API calls with rate limiting and backoff
type WorkerPool struct {
	workers     int
	interval    time.Duration
	backoffBase time.Duration
	maxBackoff  time.Duration
}

// NewWorkerPool creates a new worker pool for GitHub API calls. rateLimit
// caps requests per second across all workers; zero disables the cap.
func NewWorkerPool(workers int, rateLimit int, backoffBase, maxBackoff time.Duration) *WorkerPool {
	if workers <= 0 {
		workers = 1
	}

	var interval time.Duration
	if rateLimit > 0 {
		interval = time.Second / time.Duration(rateLimit)
	}

	return &WorkerPool{
		workers:     workers,
		interval:    interval,
		backoffBase: backoffBase,
		maxBackoff:  maxBackoff,
	}
}

// Task represents a unit of work for the worker pool
type Task struct {
	ID   string
	Func func(ctx context.Context) (interface{}, error)
}

// Result represents the result of a task execution
type Result struct {
	ID    string
	Data  interface{}
	Error error
}

// Execute runs tasks in parallel. Results are returned in task order; a
// task that never ran because ctx ended carries ctx's error.
func (wp *WorkerPool) Execute(ctx context.Context, tasks []Task) []Result {
	if len(tasks) == 0 {
		return []Result{}
	}

	results := make([]Result, len(tasks))
	ran := make([]bool, len(tasks))

	var tick <-chan time.Time

	if wp.interval > 0 {
		ticker := time.NewTicker(wp.interval)
		defer ticker.Stop()

		tick = ticker.C
	}

	indexes := make(chan int)

	var wg sync.WaitGroup
	for range wp.workers {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for i := range indexes {
				results[i] = wp.executeTask(ctx, tick, tasks[i])
				ran[i] = true
			}
		}()
	}

	func() {
		defer close(indexes)

		for i := range tasks {
			select {
			case indexes <- i:
			case <-ctx.Done():
				return
			}
		}
	}()

	wg.Wait()

	for i, task := range tasks {
		if !ran[i] {
			results[i] = Result{ID: task.ID, Error: ctx.Err()}
		}
	}

	return results
}

// executeTask executes a single task, retrying rate limited calls with
// exponential backoff.
func (wp *WorkerPool) executeTask(ctx context.Context, tick <-chan time.Time, task Task) Result {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = wp.backoffBase
	policy.MaxInterval = wp.maxBackoff
	policy.MaxElapsedTime = 0

	var data interface{}

	operation := func() error {
		if tick != nil {
			select {
			case <-tick:
			case <-ctx.Done():
				return backoff.Permanent(ctx.Err())
			}
		}

		var err error

		data, err = task.Func(ctx)
		if err != nil && !isRateLimitError(err) {
			return backoff.Permanent(err)
		}

		return err
	}

	notify := func(err error, wait time.Duration) {
		logging.WithField("task", task.ID).Debugf("rate limited, retrying in %s", wait)
	}

	err := backoff.RetryNotify(operation,
		backoff.WithContext(backoff.WithMaxRetries(policy, maxTaskAttempts-1), ctx), notify)
	if err != nil {
		return Result{ID: task.ID, Error: err}
	}

	return Result{ID: task.ID, Data: data}
}

// isRateLimitError checks if an error is related to rate limiting
func isRateLimitError(err error) bool {
	if err == nil {
		return false
	}

	if apperrors.IsType(err, apperrors.ErrTypeRateLimit) {
		return true
	}

	var rateErr *gogithub.RateLimitError
	if errors.As(err, &rateErr) {
		return true
	}

	var abuseErr *gogithub.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		return true
	}

	msg := strings.ToLower(err.Error())

	return strings.Contains(msg, "rate limit") || strings.Contains(msg, "429")
}
