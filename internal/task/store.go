package task

import (
	"sync"
	"time"
)

// Store holds live and recently finished tasks in memory.
type Store struct {
	mu        sync.Mutex
	tasks     map[string]*Task
	retention time.Duration
	now       func() time.Time
	timers    map[string]*time.Timer
}

// NewStore creates a store that forgets finished tasks after retention.
func NewStore(retention time.Duration) *Store {
	return &Store{
		tasks:     make(map[string]*Task),
		timers:    make(map[string]*time.Timer),
		retention: retention,
		now:       time.Now,
	}
}

// Create registers a new task in the submitted state. A finished task with
// the same id is replaced; a live one is an error.
func (s *Store) Create(id, contextID string) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.tasks[id]; ok {
		if !old.State().Terminal() {
			return nil, ErrDuplicate
		}
		if timer, ok := s.timers[id]; ok {
			timer.Stop()
			delete(s.timers, id)
		}
	}
	t := newTask(id, contextID, s.now())
	s.tasks[id] = t
	return t, nil
}

// Get returns the task with id.
func (s *Store) Get(id string) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	return t, nil
}

// Release is called once the task's terminal event has been delivered, or the
// task was abandoned. The entry is removed after the retention period.
func (s *Store) Release(t *Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tasks[t.ID] != t {
		return
	}
	if s.retention <= 0 {
		delete(s.tasks, t.ID)
		return
	}
	if _, scheduled := s.timers[t.ID]; scheduled {
		return
	}
	s.timers[t.ID] = time.AfterFunc(s.retention, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.tasks[t.ID] == t {
			delete(s.tasks, t.ID)
		}
		delete(s.timers, t.ID)
	})
}

// Len returns the number of tracked tasks.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Active returns the number of tasks not yet in a terminal state.
func (s *Store) Active() int {
	s.mu.Lock()
	tasks := make([]*Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		tasks = append(tasks, t)
	}
	s.mu.Unlock()

	n := 0
	for _, t := range tasks {
		if !t.State().Terminal() {
			n++
		}
	}
	return n
}

// Close stops pending removals and drops every entry.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, timer := range s.timers {
		timer.Stop()
		delete(s.timers, id)
	}
	clear(s.tasks)
}
