// Package scheduler provides a single-loop monotonic task scheduler: a
// time-ordered queue of pending tasks with explicit reschedule and extend
// operations, so no raw timer handle ever leaks to callers.
package scheduler

import (
	"container/heap"
	"log/slog"
	"sync"
	"time"
)

type task struct {
	key   string
	at    time.Time
	fn    func()
	index int
}

type taskQueue []*task

func (q taskQueue) Len() int            { return len(q) }
func (q taskQueue) Less(i, j int) bool  { return q[i].at.Before(q[j].at) }
func (q taskQueue) Swap(i, j int)       { q[i], q[j] = q[j], q[i]; q[i].index = i; q[j].index = j }
func (q *taskQueue) Push(x any)         { t := x.(*task); t.index = len(*q); *q = append(*q, t) }
func (q *taskQueue) Pop() any {
	old := *q
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return t
}

// Scheduler drives all pending tasks from one loop goroutine. Fired tasks run
// on their own goroutine so a slow task never delays the queue.
type Scheduler struct {
	mu      sync.Mutex
	queue   taskQueue
	pending map[string]*task
	wake    chan struct{}
	done    chan struct{}
	stopped bool
}

func New() *Scheduler {
	s := &Scheduler{
		pending: make(map[string]*task),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go s.loop()
	return s
}

// Schedule queues fn to run at the given time. Scheduling an existing key
// replaces its deadline and callback.
func (s *Scheduler) Schedule(key string, at time.Time, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}

	if t, ok := s.pending[key]; ok {
		t.at = at
		t.fn = fn
		heap.Fix(&s.queue, t.index)
	} else {
		t := &task{key: key, at: at, fn: fn}
		s.pending[key] = t
		heap.Push(&s.queue, t)
	}
	s.kick()
}

// ExtendTo pushes an existing task's deadline later. A deadline earlier than
// the currently scheduled one is ignored: pending tasks can only be extended,
// never pulled forward. Returns false when the key has no pending task.
func (s *Scheduler) ExtendTo(key string, at time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.pending[key]
	if !ok {
		return false
	}
	if at.After(t.at) {
		t.at = at
		heap.Fix(&s.queue, t.index)
		s.kick()
	}
	return true
}

// NextRun reports the deadline of a pending task.
func (s *Scheduler) NextRun(key string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.pending[key]
	if !ok {
		return time.Time{}, false
	}
	return t.at, true
}

// Stop shuts the loop down. Pending tasks are dropped.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	close(s.done)
	s.mu.Unlock()
	slog.Info("Scheduler stopped", slog.String("type", "sys"))
}

func (s *Scheduler) kick() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) loop() {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		s.mu.Lock()
		var wait time.Duration
		if len(s.queue) == 0 {
			wait = time.Hour
		} else {
			wait = time.Until(s.queue[0].at)
		}

		var due []*task
		for len(s.queue) > 0 && !s.queue[0].at.After(time.Now()) {
			t := heap.Pop(&s.queue).(*task)
			delete(s.pending, t.key)
			due = append(due, t)
		}
		s.mu.Unlock()

		for _, t := range due {
			go t.fn()
		}
		if len(due) > 0 {
			continue
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-timer.C:
		case <-s.wake:
		case <-s.done:
			return
		}
	}
}
