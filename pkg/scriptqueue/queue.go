package scriptqueue

import (
	"context"
	"errors"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"

	"github.com/halcyon-sec/vigil/internal/observability"
)

// DefaultTimeout is the enqueue-to-resolution deadline.
const DefaultTimeout = 30 * time.Second

var (
	// ErrExecutionTimeout means the runner did not answer before the
	// deadline.
	ErrExecutionTimeout = errors.New("script execution timed out")
	// ErrExecutionCancelled means the awaiting conversation was aborted.
	ErrExecutionCancelled = errors.New("script execution cancelled")
	// ErrTargetClosed means the browsing target was torn down while the
	// execution was pending.
	ErrTargetClosed = errors.New("target closed")
	// ErrQueueClosed means the queue was shut down.
	ErrQueueClosed = errors.New("script queue closed")
)

// Job is what the runner receives from Dequeue.
type Job struct {
	ID   string `json:"id"`
	Code string `json:"code"`
}

type outcome struct {
	value string
	err   error
}

func outcomeName(err error) string {
	switch {
	case err == nil:
		return "resolved"
	case errors.Is(err, ErrExecutionTimeout):
		return "timeout"
	case errors.Is(err, ErrExecutionCancelled):
		return "cancelled"
	case errors.Is(err, ErrTargetClosed):
		return "target_closed"
	case errors.Is(err, ErrQueueClosed):
		return "queue_closed"
	default:
		return "rejected"
	}
}

type pendingExecution struct {
	id        string
	targetID  string
	code      string
	createdAt time.Time
	deadline  time.Time
	timer     *time.Timer
	done      bool
	result    chan outcome
}

// Pending is the caller's handle on an enqueued execution.
type Pending struct {
	ID       string
	Deadline time.Time
	queue    *Queue
	result   chan outcome
}

// Wait blocks until the execution completes or ctx is done. Cancellation
// rejects the pending entry, so a late runner result is dropped.
func (p *Pending) Wait(ctx context.Context) (string, error) {
	select {
	case out := <-p.result:
		return out.value, out.err
	case <-ctx.Done():
		// First completion wins; if the runner beat the cancellation the
		// buffered outcome is still the authoritative one.
		p.queue.complete(p.ID, outcome{err: ErrExecutionCancelled})
		out := <-p.result
		return out.value, out.err
	}
}

// Config holds queue configuration.
type Config struct {
	Timeout time.Duration
	Logger  zerolog.Logger
}

// Queue is the per-target FIFO broker of pending executions.
type Queue struct {
	mu      sync.Mutex
	pending map[string]*pendingExecution
	fifo    map[string][]string // targetID -> ids awaiting dequeue
	timeout time.Duration
	closed  bool
	logger  zerolog.Logger
}

// New creates a queue. A zero timeout uses DefaultTimeout.
func New(cfg Config) *Queue {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Queue{
		pending: make(map[string]*pendingExecution),
		fifo:    make(map[string][]string),
		timeout: cfg.Timeout,
		logger:  cfg.Logger,
	}
}

// Enqueue registers a code snippet for the target and returns the handle
// the caller awaits. The deadline clock starts immediately.
func (q *Queue) Enqueue(targetID, code string) *Pending {
	id, err := gonanoid.New()
	if err != nil {
		// nanoid only fails when the entropy source does; fall back to a
		// timestamp id rather than propagating.
		id = time.Now().Format("20060102150405.000000000")
	}

	now := time.Now()
	p := &pendingExecution{
		id:        id,
		targetID:  targetID,
		code:      code,
		createdAt: now,
		deadline:  now.Add(q.timeout),
		result:    make(chan outcome, 1),
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		p.result <- outcome{err: ErrQueueClosed}
		return &Pending{ID: id, Deadline: p.deadline, queue: q, result: p.result}
	}
	q.pending[id] = p
	q.fifo[targetID] = append(q.fifo[targetID], id)
	depth := len(q.fifo[targetID])
	p.timer = time.AfterFunc(q.timeout, func() {
		q.complete(id, outcome{err: ErrExecutionTimeout})
	})
	q.mu.Unlock()

	observability.RecordScriptEnqueue(targetID, depth)
	q.logger.Debug().
		Str("execution_id", id).
		Str("target_id", targetID).
		Int("queue_depth", depth).
		Msg("Script execution enqueued")

	return &Pending{ID: id, Deadline: p.deadline, queue: q, result: p.result}
}

// Dequeue returns the head of the target's queue, if any. The pending
// entry stays registered until Resolve, Reject, timeout, or teardown.
func (q *Queue) Dequeue(targetID string) (Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	ids := q.fifo[targetID]
	for len(ids) > 0 {
		id := ids[0]
		ids = ids[1:]
		p, ok := q.pending[id]
		if !ok {
			// Completed before the runner got to it; skip.
			continue
		}
		q.fifo[targetID] = ids
		return Job{ID: p.id, Code: p.code}, true
	}
	q.fifo[targetID] = ids
	if len(ids) == 0 {
		delete(q.fifo, targetID)
	}
	return Job{}, false
}

// Resolve completes a pending execution with the runner's serialized
// result. Unknown or already-completed ids are no-ops.
func (q *Queue) Resolve(id, result string) {
	q.complete(id, outcome{value: result})
}

// Reject completes a pending execution with a runner-reported error.
// Unknown or already-completed ids are no-ops.
func (q *Queue) Reject(id, errMsg string) {
	q.complete(id, outcome{err: errors.New(errMsg)})
}

// CancelTarget rejects every pending execution for the target with
// ErrTargetClosed.
func (q *Queue) CancelTarget(targetID string) {
	q.mu.Lock()
	var victims []*pendingExecution
	for _, p := range q.pending {
		if p.targetID == targetID {
			victims = append(victims, p)
		}
	}
	for _, p := range victims {
		q.completeLocked(p, outcome{err: ErrTargetClosed})
	}
	delete(q.fifo, targetID)
	q.mu.Unlock()

	if len(victims) > 0 {
		q.logger.Info().
			Str("target_id", targetID).
			Int("rejected", len(victims)).
			Msg("Target closed; pending executions rejected")
	}
}

// PendingCount returns the number of unresolved executions for a target.
func (q *Queue) PendingCount(targetID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, p := range q.pending {
		if p.targetID == targetID {
			n++
		}
	}
	return n
}

// Close rejects everything pending and refuses further enqueues.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	victims := make([]*pendingExecution, 0, len(q.pending))
	for _, p := range q.pending {
		victims = append(victims, p)
	}
	for _, p := range victims {
		q.completeLocked(p, outcome{err: ErrQueueClosed})
	}
	q.fifo = make(map[string][]string)
	q.mu.Unlock()
}

// complete finishes the execution exactly once; later calls for the same
// id are dropped, which is what poisons timed-out ids.
func (q *Queue) complete(id string, out outcome) {
	q.mu.Lock()
	p, ok := q.pending[id]
	if !ok || p.done {
		q.mu.Unlock()
		return
	}
	q.completeLocked(p, out)
	q.mu.Unlock()
}

func (q *Queue) completeLocked(p *pendingExecution, out outcome) {
	p.done = true
	if p.timer != nil {
		p.timer.Stop()
	}
	delete(q.pending, p.id)
	p.result <- out

	observability.RecordScriptOutcome(outcomeName(out.err), time.Since(p.createdAt))
	depth := 0
	for _, other := range q.pending {
		if other.targetID == p.targetID {
			depth++
		}
	}
	observability.SetScriptQueueDepth(p.targetID, depth)
	if out.err != nil {
		q.logger.Debug().
			Str("execution_id", p.id).
			Str("target_id", p.targetID).
			Err(out.err).
			Msg("Script execution rejected")
	} else {
		q.logger.Debug().
			Str("execution_id", p.id).
			Str("target_id", p.targetID).
			Dur("elapsed", time.Since(p.createdAt)).
			Msg("Script execution resolved")
	}
}
