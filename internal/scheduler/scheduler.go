// Package scheduler turns a set of interdependent tasks into dispatchable
// rounds of work, bounded by per-role concurrency ceilings.
package scheduler

import (
	"sort"
	"sync"
	"time"

	"github.com/msageha/agentflow/internal/model"
)

// Scheduler owns the task queue and all task state transitions. Its three
// scheduling operations (EligibleWork, Dispatch, ReportOutcome) form one
// critical section guarded by mu, so the per-role ceiling invariant holds
// even with concurrent callers.
type Scheduler struct {
	mu       sync.Mutex
	cfg      model.SchedulerConfig
	tasks    []*model.Task // insertion order
	index    map[string]*model.Task
	inFlight map[model.Role]int
}

// Stats is a read-only snapshot of scheduler state.
type Stats struct {
	Total    int
	ByStatus map[model.Status]int
	InFlight map[model.Role]int
}

// New creates a scheduler with the given per-role ceilings.
func New(cfg model.SchedulerConfig) *Scheduler {
	if cfg.DefaultRoleCeiling < 1 {
		cfg.DefaultRoleCeiling = model.DefaultRoleCeiling
	}
	return &Scheduler{
		cfg:      cfg,
		index:    make(map[string]*model.Task),
		inFlight: make(map[model.Role]int),
	}
}

// Enqueue adds a task to the queue. Returns false for nil tasks, duplicate
// IDs, and tasks that arrive depending on themselves.
func (s *Scheduler) Enqueue(t *model.Task) bool {
	if t == nil || t.ID == "" {
		return false
	}
	for _, dep := range t.DependsOn {
		if dep == t.ID {
			return false
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.index[t.ID]; exists {
		return false
	}
	s.tasks = append(s.tasks, t)
	s.index[t.ID] = t
	return true
}

// EligibleWork returns pending tasks whose dependency set is covered by
// completed and whose role still has in-flight capacity, sorted by priority
// descending with insertion order as the tie-break. Matching tasks are
// flipped pending → ready as a side effect, so a repeated call without
// dispatching does not return the same tasks again.
//
// Capacity is reserved as tasks are selected: one call never returns more
// tasks per role than the role's remaining headroom, so dispatching the
// whole batch cannot overshoot the ceiling.
func (s *Scheduler) EligibleWork(completed map[string]bool) []*model.Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	candidates := make([]*model.Task, 0)
	for _, t := range s.tasks {
		if t.Status != model.StatusPending {
			continue
		}
		if !t.DependenciesSatisfied(completed) {
			continue
		}
		candidates = append(candidates, t)
	}

	// Stable sort keeps insertion order among equal priorities, making
	// scheduling deterministic for a fixed input.
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Priority > candidates[j].Priority
	})

	reserved := make(map[model.Role]int)
	eligible := make([]*model.Task, 0, len(candidates))
	for _, t := range candidates {
		if s.inFlight[t.Role]+reserved[t.Role] >= s.cfg.RoleCeiling(t.Role) {
			continue
		}
		if !t.MarkReady() {
			continue
		}
		reserved[t.Role]++
		eligible = append(eligible, t)
	}
	return eligible
}

// Dispatch moves a ready task into in_progress and charges its role's
// in-flight counter. Fails if the task is not ready or the role is already
// at its ceiling.
func (s *Scheduler) Dispatch(t *model.Task) bool {
	if t == nil {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.inFlight[t.Role] >= s.cfg.RoleCeiling(t.Role) {
		return false
	}
	if !t.Start() {
		return false
	}
	s.inFlight[t.Role]++
	return true
}

// ReportOutcome records a terminal outcome for an in-progress task and
// releases its role's in-flight slot. Idempotent: reporting an already
// terminal task returns false and does not touch the counter, so duplicate
// completion reports are harmless.
func (s *Scheduler) ReportOutcome(t *model.Task, success bool, result map[string]any, errMsg string) bool {
	if t == nil {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if t.Status != model.StatusInProgress {
		return false
	}

	var ok bool
	if success {
		ok = t.Complete(result)
	} else {
		ok = t.Fail(errMsg)
	}
	if !ok {
		return false
	}
	s.release(t.Role)
	return true
}

// Block places an external hold on a task. An in-progress task releases its
// in-flight slot when blocked.
func (s *Scheduler) Block(id, reason string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.index[id]
	if !ok {
		return false
	}
	wasInProgress := t.Status == model.StatusInProgress
	if !t.Block(reason) {
		return false
	}
	if wasInProgress {
		s.release(t.Role)
	}
	return true
}

// Unblock lifts a hold. The task returns to ready when its dependencies are
// in the completed set, otherwise to pending.
func (s *Scheduler) Unblock(id string, completed map[string]bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.index[id]
	if !ok {
		return false
	}
	return t.Unblock(t.DependenciesSatisfied(completed))
}

// Cancel aborts a non-terminal task. An in-progress task releases its
// in-flight slot.
func (s *Scheduler) Cancel(id, reason string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.index[id]
	if !ok {
		return false
	}
	wasInProgress := t.Status == model.StatusInProgress
	if !t.Cancel(reason) {
		return false
	}
	if wasInProgress {
		s.release(t.Role)
	}
	return true
}

// CancelRemaining cancels every pending and ready task, returning the IDs
// it cancelled. In-progress tasks are left to finish naturally.
func (s *Scheduler) CancelRemaining(reason string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var cancelled []string
	for _, t := range s.tasks {
		if t.Status != model.StatusPending && t.Status != model.StatusReady {
			continue
		}
		if t.Cancel(reason) {
			cancelled = append(cancelled, t.ID)
		}
	}
	return cancelled
}

// release decrements a role's in-flight counter, clamped at zero. Caller
// holds s.mu.
func (s *Scheduler) release(role model.Role) {
	if s.inFlight[role] > 0 {
		s.inFlight[role]--
	}
}

// Task returns the queued task with the given ID, or nil.
func (s *Scheduler) Task(id string) *model.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index[id]
}

// Tasks returns the queue in insertion order.
func (s *Scheduler) Tasks() []*model.Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*model.Task, len(s.tasks))
	copy(out, s.tasks)
	return out
}

// Len returns the number of queued tasks.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Overdue returns tasks past their deadline at the given time.
func (s *Scheduler) Overdue(now time.Time) []*model.Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*model.Task
	for _, t := range s.tasks {
		if t.Overdue(now) {
			out = append(out, t)
		}
	}
	return out
}

// Stats returns a snapshot of the queue. Never mutates.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := Stats{
		Total:    len(s.tasks),
		ByStatus: make(map[model.Status]int),
		InFlight: make(map[model.Role]int, len(s.inFlight)),
	}
	for _, t := range s.tasks {
		stats.ByStatus[t.Status]++
	}
	for role, n := range s.inFlight {
		if n > 0 {
			stats.InFlight[role] = n
		}
	}
	return stats
}

// ValidateGraph checks the queued tasks for self-references, unknown
// dependency IDs, and cycles. Run before driving a session; a graph that
// fails here would otherwise stall silently at round end.
func (s *Scheduler) ValidateGraph() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.tasks))
	deps := make(map[string][]string, len(s.tasks))
	for _, t := range s.tasks {
		ids = append(ids, t.ID)
		deps[t.ID] = t.DependsOn
	}
	_, err := ValidateGraph(ids, deps)
	return err
}
