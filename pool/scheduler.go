package pool

import (
	"sync"
	"time"
)

// Task is delayed work run by the Scheduler. cancelled is true when the
// scheduler stopped before the delay elapsed; the task must then release
// whatever it was waiting to do.
type Task func(cancelled bool)

// Scheduler runs delayed tasks on timers. Stop runs every pending task with
// cancelled set, so no scheduled work is silently dropped.
type Scheduler struct {
	mu      sync.Mutex
	tasks   map[uint64]*scheduled
	next    uint64
	stopped bool
	wg      sync.WaitGroup
}

type scheduled struct {
	timer *time.Timer
	task  Task
}

// NewScheduler creates a running scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{tasks: make(map[uint64]*scheduled)}
}

// Schedule runs task after delay and reports whether it was accepted.
// A stopped scheduler rejects tasks.
func (s *Scheduler) Schedule(delay time.Duration, task Task) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}

	id := s.next
	s.next++
	st := &scheduled{task: task}
	s.wg.Add(1)
	s.tasks[id] = st
	// The timer callback blocks on mu until the entry is registered.
	st.timer = time.AfterFunc(delay, func() { s.run(id, false) })
	return true
}

// Pending returns the number of tasks waiting for their delay.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

func (s *Scheduler) run(id uint64, cancelled bool) {
	s.mu.Lock()
	st, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.tasks, id)
	s.mu.Unlock()

	defer s.wg.Done()
	st.task(cancelled)
}

// Stop rejects new tasks, runs pending tasks with cancelled set and waits for
// tasks already running.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		s.wg.Wait()
		return
	}
	s.stopped = true
	ids := make([]uint64, 0, len(s.tasks))
	for id, st := range s.tasks {
		if st.timer != nil {
			st.timer.Stop()
		}
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		s.run(id, true)
	}
	s.wg.Wait()
}
