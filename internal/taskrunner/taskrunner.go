// Package taskrunner provides the one concrete interfaces.TaskRunner the
// device process uses: a single run-loop goroutine that executes posted
// tasks strictly in due-time order, so every task scheduled through it is
// serialized with every other task and with direct calls into whatever
// posted them — the single-threaded cooperative model the security core
// relies on from its collaborators.
//
// The run-loop shape (a background goroutine selecting on a context and a
// wake channel) follows vire/internal/services/jobmanager/watcher.go's
// watchLoop; the due-task ordering is a small container/heap, the smallest
// "real" fit for a delay queue — no third-party scheduler in the example
// pack models a single-flight delayed-closure queue, so this stays on the
// standard library (see DESIGN.md).
package taskrunner

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/weave-iot/libweave/internal/common"
)

type scheduledTask struct {
	due  time.Time
	task func()
	seq  uint64 // break ties between equal-due tasks in FIFO order
}

type taskHeap []*scheduledTask

func (h taskHeap) Len() int { return len(h) }
func (h taskHeap) Less(i, j int) bool {
	if h[i].due.Equal(h[j].due) {
		return h[i].seq < h[j].seq
	}
	return h[i].due.Before(h[j].due)
}
func (h taskHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *taskHeap) Push(x any)        { *h = append(*h, x.(*scheduledTask)) }
func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	*h = old[:n-1]
	return t
}

// Runner is a single-goroutine cooperative scheduler satisfying
// interfaces.TaskRunner.
type Runner struct {
	logger *common.Logger

	mu      sync.Mutex
	heap    taskHeap
	nextSeq uint64
	wake    chan struct{}

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Runner. Call Start to begin executing posted tasks.
func New(logger *common.Logger) *Runner {
	return &Runner{
		logger: logger,
		wake:   make(chan struct{}, 1),
	}
}

// Start launches the run loop. Safe to call once; a second call is a no-op.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	if r.cancel != nil {
		r.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	r.mu.Unlock()

	go r.loop(runCtx)
}

// Stop cancels the run loop and waits for it to exit. Pending tasks are
// dropped, matching the original's "no cancellation guarantee" contract —
// callers relying on a task firing must not depend on Stop never having
// been called first.
func (r *Runner) Stop() {
	r.mu.Lock()
	cancel := r.cancel
	done := r.done
	r.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// PostDelayedTask schedules task to run no sooner than delay from now, in
// due-time order relative to every other task posted to this Runner.
func (r *Runner) PostDelayedTask(delay time.Duration, task func()) {
	r.mu.Lock()
	r.nextSeq++
	heap.Push(&r.heap, &scheduledTask{
		due:  time.Now().Add(delay),
		task: task,
		seq:  r.nextSeq,
	})
	r.mu.Unlock()

	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *Runner) loop(ctx context.Context) {
	defer close(r.done)
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		r.mu.Lock()
		var wait time.Duration
		if len(r.heap) == 0 {
			wait = time.Hour
		} else {
			wait = time.Until(r.heap[0].due)
			if wait < 0 {
				wait = 0
			}
		}
		r.mu.Unlock()
		timer.Reset(wait)

		select {
		case <-ctx.Done():
			return
		case <-r.wake:
			continue
		case <-timer.C:
			r.runDue()
		}
	}
}

// runDue pops and executes every task whose due time has arrived. Tasks
// run inline, on the run-loop goroutine, one at a time, so a task can
// safely call back into whatever posted it without racing another posted
// task.
func (r *Runner) runDue() {
	for {
		r.mu.Lock()
		if len(r.heap) == 0 || r.heap[0].due.After(time.Now()) {
			r.mu.Unlock()
			return
		}
		t := heap.Pop(&r.heap).(*scheduledTask)
		r.mu.Unlock()

		r.safeRun(t.task)
	}
}

func (r *Runner) safeRun(task func()) {
	defer func() {
		if rec := recover(); rec != nil {
			if r.logger != nil {
				r.logger.Error().Interface("panic", rec).Msg("recovered from panic in scheduled task")
			}
		}
	}()
	task()
}
