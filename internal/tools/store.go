package tools

import (
	"sync"
	"time"
)

// Task is one unit of tracked work.
type Task struct {
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	Status   string    `json:"status"` // open | in_progress | done
	Assignee string    `json:"assignee,omitempty"`
	SprintID string    `json:"sprint_id,omitempty"`
	DueDate  time.Time `json:"due_date,omitempty"`
}

// Sprint is one iteration window.
type Sprint struct {
	ID     string    `json:"id"`
	Name   string    `json:"name"`
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
	Active bool      `json:"active"`
}

// Store is the read-side project data the builtin tools serve. The real
// project-management backend sits behind the same shape; this in-memory
// form backs local runs and tests.
type Store struct {
	mu      sync.RWMutex
	tasks   []Task
	sprints []Sprint
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{}
}

// SeedTasks replaces the task set.
func (s *Store) SeedTasks(tasks []Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append([]Task(nil), tasks...)
}

// SeedSprints replaces the sprint set.
func (s *Store) SeedSprints(sprints []Sprint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sprints = append([]Sprint(nil), sprints...)
}

// Tasks returns tasks filtered by optional status, assignee and sprint id.
// Empty filters match everything.
func (s *Store) Tasks(status, assignee, sprintID string) []Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Task
	for _, t := range s.tasks {
		if status != "" && t.Status != status {
			continue
		}
		if assignee != "" && t.Assignee != assignee {
			continue
		}
		if sprintID != "" && t.SprintID != sprintID {
			continue
		}
		out = append(out, t)
	}
	return out
}

// Sprints returns all sprints, or only the active ones.
func (s *Store) Sprints(activeOnly bool) []Sprint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Sprint
	for _, sp := range s.sprints {
		if activeOnly && !sp.Active {
			continue
		}
		out = append(out, sp)
	}
	return out
}
