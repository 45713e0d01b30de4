// Package scheduler drives periodic service tasks from a single timer. Each
// task reports how long to wait before it runs again; the next fire times
// are kept in a min-heap.
package scheduler

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/agent-sterling-go/internal/clock"
	"github.com/agent-sterling-go/internal/middleware"
	"github.com/sirupsen/logrus"
)

const (
	// PanicBackoff is the delay applied to a task that panicked
	PanicBackoff = 5 * time.Minute
	minDelay     = 10 * time.Millisecond
)

var (
	ErrAlreadyRunning = errors.New("scheduler already running")
	ErrDuplicateTask  = errors.New("task already registered")
)

// Task is one service iteration. Run returns the delay until the next run
// and must return promptly once ctx is done.
type Task interface {
	Name() string
	Run(ctx context.Context) time.Duration
}

type funcTask struct {
	name string
	fn   func(ctx context.Context) time.Duration
}

func (t funcTask) Name() string                          { return t.name }
func (t funcTask) Run(ctx context.Context) time.Duration { return t.fn(ctx) }

// Func adapts a function to the Task interface
func Func(name string, fn func(ctx context.Context) time.Duration) Task {
	return funcTask{name: name, fn: fn}
}

// TaskStatus describes one registered task
type TaskStatus struct {
	Name    string    `json:"name"`
	Running bool      `json:"running"`
	Busy    bool      `json:"busy"`
	Runs    int       `json:"runs"`
	LastRun time.Time `json:"last_run,omitempty"`
	NextRun time.Time `json:"next_run,omitempty"`
}

type entry struct {
	task  Task
	next  time.Time
	index int
}

type taskHeap []*entry

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].next.Equal(h[j].next) {
		return h[i].task.Name() < h[j].task.Name()
	}
	return h[i].next.Before(h[j].next)
}

func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *taskHeap) Push(x interface{}) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *taskHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

type result struct {
	entry *entry
	delay time.Duration
}

// Scheduler runs registered tasks until stopped. A task never overlaps
// with itself; different tasks run concurrently.
type Scheduler struct {
	clock   clock.Clock
	logger  *logrus.Logger
	metrics *middleware.Metrics

	mu     sync.Mutex
	tasks  []Task
	status map[string]*TaskStatus
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a stopped scheduler
func New(clk clock.Clock, logger *logrus.Logger, metrics *middleware.Metrics) *Scheduler {
	if clk == nil {
		clk = clock.New()
	}
	return &Scheduler{
		clock:   clk,
		logger:  logger,
		metrics: metrics,
		status:  make(map[string]*TaskStatus),
	}
}

// Add registers a task. Tasks added while running start with the next Start.
func (s *Scheduler) Add(task Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.status[task.Name()]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTask, task.Name())
	}
	s.tasks = append(s.tasks, task)
	s.status[task.Name()] = &TaskStatus{Name: task.Name()}
	return nil
}

// Start runs every registered task immediately and then on the delays they
// return. The scheduler stops when ctx is done or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	tasks := append([]Task(nil), s.tasks...)
	for _, task := range tasks {
		st := s.status[task.Name()]
		st.Running = true
		st.NextRun = s.clock.Now()
		if s.metrics != nil {
			s.metrics.SetServiceRunning(task.Name(), true)
		}
	}

	go s.loop(ctx, tasks, s.done)
	s.logger.WithField("tasks", len(tasks)).Info("Scheduler started")
	return nil
}

// Stop cancels every task and waits for all of them to return. Calling Stop
// on a stopped scheduler is a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()
	if cancel == nil {
		return
	}

	cancel()
	<-done

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done == done {
		s.cancel = nil
		s.done = nil
	}
	for _, st := range s.status {
		st.Running = false
		st.Busy = false
		st.NextRun = time.Time{}
		if s.metrics != nil {
			s.metrics.SetServiceRunning(st.Name, false)
		}
	}
	s.logger.Info("Scheduler stopped")
}

// Running returns the names of the scheduled tasks, sorted
func (s *Scheduler) Running() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var names []string
	for name, st := range s.status {
		if st.Running {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Status returns a snapshot of every registered task, sorted by name
func (s *Scheduler) Status() []TaskStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TaskStatus, 0, len(s.status))
	for _, st := range s.status {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Scheduler) loop(ctx context.Context, tasks []Task, done chan struct{}) {
	var wg sync.WaitGroup
	defer close(done)
	defer wg.Wait()

	queue := make(taskHeap, 0, len(tasks))
	now := s.clock.Now()
	for _, task := range tasks {
		heap.Push(&queue, &entry{task: task, next: now})
	}
	results := make(chan result, len(tasks))

	for {
		var timer <-chan time.Time
		if queue.Len() > 0 {
			timer = s.clock.After(queue[0].next.Sub(s.clock.Now()))
		}

		select {
		case <-ctx.Done():
			return
		case <-timer:
			now := s.clock.Now()
			for queue.Len() > 0 && !queue[0].next.After(now) {
				e := heap.Pop(&queue).(*entry)
				s.markBusy(e.task.Name(), now)
				wg.Add(1)
				go func() {
					defer wg.Done()
					results <- result{entry: e, delay: s.run(ctx, e.task)}
				}()
			}
		case r := <-results:
			if ctx.Err() != nil {
				return
			}
			if r.delay < minDelay {
				r.delay = minDelay
			}
			r.entry.next = s.clock.Now().Add(r.delay)
			s.markIdle(r.entry.task.Name(), r.entry.next)
			heap.Push(&queue, r.entry)
		}
	}
}

// run executes one iteration, turning a panic into the panic backoff
func (s *Scheduler) run(ctx context.Context, task Task) (delay time.Duration) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.WithFields(logrus.Fields{
				"service": task.Name(),
				"panic":   fmt.Sprint(r),
				"stack":   string(debug.Stack()),
			}).Error("Service iteration panicked")
			if s.metrics != nil {
				s.metrics.RecordLoopError(task.Name())
			}
			delay = PanicBackoff
		}
	}()
	return task.Run(ctx)
}

func (s *Scheduler) markBusy(name string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.status[name]; ok {
		st.Busy = true
		st.Runs++
		st.LastRun = at
	}
}

func (s *Scheduler) markIdle(name string, next time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.status[name]; ok {
		st.Busy = false
		st.NextRun = next
	}
}
