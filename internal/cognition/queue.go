package cognition

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

type jobKey struct {
	agentID string
	kind    JobKind
}

// Queue is the de-duplicated FIFO escalation queue. At most one
// pending or in-flight job exists per (agent, kind); duplicates are
// dropped silently. Producers never block.
type Queue struct {
	mu       sync.Mutex
	jobs     []*Job
	keys     map[jobKey]struct{}
	inFlight int
	notify   chan struct{}
	logger   *zap.Logger
}

// NewQueue creates an empty queue.
func NewQueue(logger *zap.Logger) *Queue {
	return &Queue{
		keys:   make(map[jobKey]struct{}),
		notify: make(chan struct{}, 1),
		logger: logger,
	}
}

// Enqueue inserts the job unless one for the same (agent, kind) is
// already pending or in flight. Returns whether the job was accepted.
func (q *Queue) Enqueue(job *Job) bool {
	key := jobKey{agentID: job.AgentID, kind: job.Kind}

	q.mu.Lock()
	if _, dup := q.keys[key]; dup {
		q.mu.Unlock()
		q.logger.Debug("duplicate job dropped",
			zap.String("agent", job.AgentID),
			zap.String("kind", string(job.Kind)))
		return false
	}
	q.keys[key] = struct{}{}
	q.jobs = append(q.jobs, job)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return true
}

// dequeue blocks until a job is available or the context ends. The
// job's dedup key stays reserved until done is called, so a new job for
// the same (agent, kind) cannot queue behind an in-flight one.
func (q *Queue) dequeue(ctx context.Context) *Job {
	for {
		q.mu.Lock()
		if len(q.jobs) > 0 {
			job := q.jobs[0]
			q.jobs = q.jobs[1:]
			q.inFlight++
			q.mu.Unlock()
			return job
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil
		case <-q.notify:
		}
	}
}

// done releases the job's dedup key and in-flight slot.
func (q *Queue) done(job *Job) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.keys, jobKey{agentID: job.AgentID, kind: job.Kind})
	q.inFlight--

	// wake a waiter in case a notify was coalesced while all workers
	// were busy
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Status reports current queue length and whether any job is in flight.
func (q *Queue) Status() QueueStatus {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueStatus{
		Length:   len(q.jobs),
		InFlight: q.inFlight > 0,
	}
}

// Len returns the number of queued (not in-flight) jobs.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}
