// Package model defines the data structures for agentflow's tasks,
// configuration, and session results.
package model

import (
	"time"
)

// DefaultDeadline is added to the creation time when a task has no explicit
// deadline. Deadlines feed overdue reporting only, never scheduling.
const DefaultDeadline = 24 * time.Hour

// Task is the unit of schedulable work. The scheduler owns all status
// mutation; other components treat tasks as read-only once enqueued.
type Task struct {
	ID          string
	Title       string
	Description string

	Role     Role
	Priority Priority

	// DependsOn lists task IDs that must be completed before this task
	// becomes eligible. Order is irrelevant.
	DependsOn []string

	Status Status

	CreatedAt   time.Time
	StartedAt   time.Time
	CompletedAt time.Time
	Deadline    time.Time

	Context map[string]any
	Result  map[string]any
	Tags    []string

	ErrorMessage string
}

// TaskOption configures a task at construction.
type TaskOption func(*Task)

func WithDescription(desc string) TaskOption {
	return func(t *Task) { t.Description = desc }
}

func WithPriority(p Priority) TaskOption {
	return func(t *Task) { t.Priority = p }
}

// WithDependencies appends dependency task IDs, skipping self-references
// and duplicates.
func WithDependencies(ids ...string) TaskOption {
	return func(t *Task) {
		for _, id := range ids {
			t.AddDependency(id)
		}
	}
}

func WithDeadline(d time.Time) TaskOption {
	return func(t *Task) { t.Deadline = d }
}

// WithID overrides the generated ID. Workload files carry explicit IDs so
// dependencies can reference them.
func WithID(id string) TaskOption {
	return func(t *Task) { t.ID = id }
}

func WithContext(ctx map[string]any) TaskOption {
	return func(t *Task) {
		for k, v := range ctx {
			t.Context[k] = v
		}
	}
}

func WithTags(tags ...string) TaskOption {
	return func(t *Task) {
		for _, tag := range tags {
			t.AddTag(tag)
		}
	}
}

// NewTask creates a pending task with a generated ID and a default deadline
// of CreatedAt + 24h.
func NewTask(title string, role Role, opts ...TaskOption) *Task {
	now := time.Now().UTC()
	t := &Task{
		ID:        MustGenerateID(IDTypeTask),
		Title:     title,
		Role:      role,
		Priority:  PriorityMedium,
		Status:    StatusPending,
		CreatedAt: now,
		Context:   make(map[string]any),
		Result:    make(map[string]any),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.Deadline.IsZero() {
		t.Deadline = t.CreatedAt.Add(DefaultDeadline)
	}
	return t
}

// transition applies a validated status change. Rejections are reported as
// false, not errors: duplicate completion reports and similar races are
// expected and must be harmless.
func (t *Task) transition(to Status) bool {
	if err := ValidateTransition(t.Status, to); err != nil {
		return false
	}
	t.Status = to
	return true
}

// MarkReady flips a pending task to ready. The scheduler calls this when a
// task's dependencies are satisfied and its role has spare capacity.
func (t *Task) MarkReady() bool {
	if t.Status != StatusPending {
		return false
	}
	return t.transition(StatusReady)
}

// Start moves a ready task into in_progress and records the start time.
func (t *Task) Start() bool {
	if t.Status != StatusReady {
		return false
	}
	if !t.transition(StatusInProgress) {
		return false
	}
	t.StartedAt = time.Now().UTC()
	return true
}

// Complete moves an in_progress task to completed, merging result into the
// task's result payload.
func (t *Task) Complete(result map[string]any) bool {
	if t.Status != StatusInProgress {
		return false
	}
	if !t.transition(StatusCompleted) {
		return false
	}
	t.CompletedAt = time.Now().UTC()
	for k, v := range result {
		t.Result[k] = v
	}
	return true
}

// Fail moves an in_progress task to failed with an error description.
func (t *Task) Fail(message string) bool {
	if t.Status != StatusInProgress {
		return false
	}
	if !t.transition(StatusFailed) {
		return false
	}
	t.CompletedAt = time.Now().UTC()
	t.ErrorMessage = message
	return true
}

// Block places an external hold on a non-terminal task. Reversible via
// Unblock.
func (t *Task) Block(reason string) bool {
	if !t.transition(StatusBlocked) {
		return false
	}
	if reason != "" {
		t.Context["block_reason"] = reason
	}
	return true
}

// Unblock lifts a hold. The task returns to ready when its dependencies are
// already satisfied, otherwise to pending.
func (t *Task) Unblock(depsSatisfied bool) bool {
	if t.Status != StatusBlocked {
		return false
	}
	next := StatusPending
	if depsSatisfied {
		next = StatusReady
	}
	if !t.transition(next) {
		return false
	}
	delete(t.Context, "block_reason")
	return true
}

// Cancel aborts any non-terminal task.
func (t *Task) Cancel(reason string) bool {
	if !t.transition(StatusCancelled) {
		return false
	}
	t.CompletedAt = time.Now().UTC()
	if reason != "" {
		t.Context["cancel_reason"] = reason
	}
	return true
}

// AddDependency records a dependency, refusing self-references and
// duplicates.
func (t *Task) AddDependency(id string) bool {
	if id == t.ID || id == "" {
		return false
	}
	for _, dep := range t.DependsOn {
		if dep == id {
			return false
		}
	}
	t.DependsOn = append(t.DependsOn, id)
	return true
}

func (t *Task) RemoveDependency(id string) bool {
	for i, dep := range t.DependsOn {
		if dep == id {
			t.DependsOn = append(t.DependsOn[:i], t.DependsOn[i+1:]...)
			return true
		}
	}
	return false
}

func (t *Task) AddTag(tag string) bool {
	if tag == "" {
		return false
	}
	for _, existing := range t.Tags {
		if existing == tag {
			return false
		}
	}
	t.Tags = append(t.Tags, tag)
	return true
}

// DependenciesSatisfied reports whether every dependency appears in the
// completed set.
func (t *Task) DependenciesSatisfied(completed map[string]bool) bool {
	for _, dep := range t.DependsOn {
		if !completed[dep] {
			return false
		}
	}
	return true
}

// Overdue reports whether a non-terminal (and non-cancelled) task has
// passed its deadline at the given time.
func (t *Task) Overdue(now time.Time) bool {
	if t.Deadline.IsZero() {
		return false
	}
	if t.Status == StatusCompleted || t.Status == StatusCancelled {
		return false
	}
	return now.After(t.Deadline)
}

// Duration returns elapsed execution time: completed-start for finished
// tasks, now-start for running ones, zero if never started.
func (t *Task) Duration(now time.Time) time.Duration {
	if t.StartedAt.IsZero() {
		return 0
	}
	if !t.CompletedAt.IsZero() {
		return t.CompletedAt.Sub(t.StartedAt)
	}
	return now.Sub(t.StartedAt)
}

// Progress returns a coarse completion fraction derived from status.
func (t *Task) Progress() float64 {
	switch t.Status {
	case StatusReady:
		return 0.1
	case StatusBlocked:
		return 0.2
	case StatusInProgress:
		return 0.5
	case StatusCompleted:
		return 1.0
	default:
		return 0.0
	}
}
