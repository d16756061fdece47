// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package queue runs ingestion jobs on an in-process worker pool. FIFO
// among fresh jobs, bounded concurrency, failed jobs re-appended to the
// tail up to an attempt budget. Jobs are not persisted: anything still
// queued at shutdown is logged as lost.
package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/crewdesk/ingestion/internal/models"
)

// Job is one unit of ingestion work. Payload is opaque to the queue.
type Job struct {
	ID         string
	Payload    []byte
	Provider   string
	Channel    models.Channel
	OrgID      string
	EnqueuedAt time.Time
	Attempts   int
}

// Processor handles one job. A returned error re-queues the job until
// the attempt budget runs out; processors must return nil for failures
// that should not retry.
type Processor func(ctx context.Context, job *Job) error

// Queue is the in-memory job runner.
type Queue struct {
	concurrency int
	maxAttempts int
	process     Processor

	mu     sync.Mutex
	cond   *sync.Cond
	jobs   []*Job
	closed bool
	wg     sync.WaitGroup
}

// New creates a queue with the given worker count and per-job attempt
// budget.
func New(concurrency, maxAttempts int) *Queue {
	if concurrency < 1 {
		concurrency = 1
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	q := &Queue{
		concurrency: concurrency,
		maxAttempts: maxAttempts,
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Register sets the processor. Must be called before Start.
func (q *Queue) Register(fn Processor) {
	q.process = fn
}

// Enqueue appends a job and returns its id. Returns "" once the queue is
// shutting down; the payload is dropped with a log line.
func (q *Queue) Enqueue(payload []byte, provider string, channel models.Channel, orgID string) string {
	job := &Job{
		ID:         uuid.NewString(),
		Payload:    payload,
		Provider:   provider,
		Channel:    channel,
		OrgID:      orgID,
		EnqueuedAt: time.Now(),
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		slog.Warn("enqueue after shutdown, job dropped",
			"provider", provider, "channel", channel)
		return ""
	}
	q.jobs = append(q.jobs, job)
	q.cond.Signal()
	return job.ID
}

// Start launches the worker pool. ctx is passed through to processors.
func (q *Queue) Start(ctx context.Context) {
	for i := 0; i < q.concurrency; i++ {
		q.wg.Add(1)
		go q.worker(ctx)
	}
	slog.Info("queue started", "concurrency", q.concurrency, "max_attempts", q.maxAttempts)
}

func (q *Queue) worker(ctx context.Context) {
	defer q.wg.Done()
	for {
		q.mu.Lock()
		for len(q.jobs) == 0 && !q.closed {
			q.cond.Wait()
		}
		if q.closed {
			q.mu.Unlock()
			return
		}
		job := q.jobs[0]
		q.jobs = q.jobs[1:]
		q.mu.Unlock()

		q.run(ctx, job)
	}
}

func (q *Queue) run(ctx context.Context, job *Job) {
	job.Attempts++
	err := q.process(ctx, job)
	if err == nil {
		return
	}

	if job.Attempts >= q.maxAttempts {
		slog.Error("job exhausted, dropping",
			"job", job.ID,
			"provider", job.Provider,
			"channel", job.Channel,
			"attempts", job.Attempts,
			"error", err)
		return
	}

	slog.Warn("job failed, requeueing",
		"job", job.ID,
		"provider", job.Provider,
		"attempt", job.Attempts,
		"error", err)

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		slog.Error("job lost at shutdown", "job", job.ID, "provider", job.Provider)
		return
	}
	// Retries go to the tail, behind fresh work.
	q.jobs = append(q.jobs, job)
	q.cond.Signal()
}

// Stop refuses new work, lets in-flight jobs finish for up to grace, and
// logs anything still queued as lost.
func (q *Queue) Stop(grace time.Duration) {
	q.mu.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(grace):
		slog.Warn("queue shutdown grace expired with jobs in flight")
	}

	q.mu.Lock()
	lost := len(q.jobs)
	q.jobs = nil
	q.mu.Unlock()
	if lost > 0 {
		slog.Error("queued jobs lost at shutdown", "count", lost)
	}
}

// Depth reports how many jobs are waiting. Used by the health endpoint.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}
