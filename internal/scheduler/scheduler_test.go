package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msageha/agentflow/internal/model"
)

func newTestScheduler(defaultCeiling int, overrides map[model.Role]int) *Scheduler {
	return New(model.SchedulerConfig{
		DefaultRoleCeiling: defaultCeiling,
		RoleCeilings:       overrides,
	})
}

func task(id string, role model.Role, opts ...model.TaskOption) *model.Task {
	opts = append([]model.TaskOption{model.WithID(id)}, opts...)
	return model.NewTask(id, role, opts...)
}

func TestEnqueue(t *testing.T) {
	s := newTestScheduler(3, nil)

	a := task("task-a", model.RoleBackend)
	assert.True(t, s.Enqueue(a))
	assert.False(t, s.Enqueue(a), "duplicate ID must be rejected")
	assert.Equal(t, 1, s.Len())

	assert.False(t, s.Enqueue(nil))
}

func TestEnqueueRejectsSelfDependency(t *testing.T) {
	s := newTestScheduler(3, nil)

	x := &model.Task{
		ID:        "task-x",
		Role:      model.RoleBackend,
		Status:    model.StatusPending,
		DependsOn: []string{"task-x"},
	}
	assert.False(t, s.Enqueue(x))
	assert.Equal(t, 0, s.Len(), "queue must stay empty after rejected enqueue")
}

func TestEligibleWorkEmptyDeps(t *testing.T) {
	s := newTestScheduler(3, nil)
	a := task("task-a", model.RoleBackend)
	require.True(t, s.Enqueue(a))

	eligible := s.EligibleWork(map[string]bool{})
	require.Len(t, eligible, 1)
	assert.Equal(t, "task-a", eligible[0].ID)
	assert.Equal(t, model.StatusReady, a.Status, "EligibleWork flips pending to ready")

	// Repeated call without dispatch must not return the task again
	assert.Empty(t, s.EligibleWork(map[string]bool{}))
}

func TestEligibleWorkRespectsDependencies(t *testing.T) {
	s := newTestScheduler(3, nil)
	a := task("task-a", model.RoleBackend)
	b := task("task-b", model.RoleBackend, model.WithDependencies("task-a"))
	require.True(t, s.Enqueue(a))
	require.True(t, s.Enqueue(b))

	eligible := s.EligibleWork(map[string]bool{})
	require.Len(t, eligible, 1)
	assert.Equal(t, "task-a", eligible[0].ID, "task-b must wait for task-a")

	// Still not eligible: a is ready, not completed
	assert.Empty(t, s.EligibleWork(map[string]bool{}))

	eligible = s.EligibleWork(map[string]bool{"task-a": true})
	require.Len(t, eligible, 1)
	assert.Equal(t, "task-b", eligible[0].ID)
}

func TestEligibleWorkPriorityOrder(t *testing.T) {
	s := newTestScheduler(10, nil)
	low1 := task("task-low1", model.RoleBackend, model.WithPriority(model.PriorityLow))
	crit := task("task-crit", model.RoleBackend, model.WithPriority(model.PriorityCritical))
	low2 := task("task-low2", model.RoleBackend, model.WithPriority(model.PriorityLow))
	high := task("task-high", model.RoleBackend, model.WithPriority(model.PriorityHigh))
	for _, tk := range []*model.Task{low1, crit, low2, high} {
		require.True(t, s.Enqueue(tk))
	}

	eligible := s.EligibleWork(nil)
	require.Len(t, eligible, 4)
	got := []string{eligible[0].ID, eligible[1].ID, eligible[2].ID, eligible[3].ID}
	// Priority descending; equal priorities keep insertion order
	assert.Equal(t, []string{"task-crit", "task-high", "task-low1", "task-low2"}, got)
}

func TestEligibleWorkReservesRoleCapacity(t *testing.T) {
	s := newTestScheduler(3, map[model.Role]int{model.RoleBackend: 2})
	a := task("task-a", model.RoleBackend, model.WithPriority(model.PriorityLow))
	b := task("task-b", model.RoleBackend, model.WithPriority(model.PriorityCritical))
	c := task("task-c", model.RoleBackend, model.WithPriority(model.PriorityMedium))
	for _, tk := range []*model.Task{a, b, c} {
		require.True(t, s.Enqueue(tk))
	}

	eligible := s.EligibleWork(nil)
	require.Len(t, eligible, 2, "one round must not exceed role headroom")
	assert.Equal(t, "task-b", eligible[0].ID)
	assert.Equal(t, "task-c", eligible[1].ID)
	assert.Equal(t, model.StatusPending, a.Status, "unselected task stays pending")
}

func TestDispatchAndCeiling(t *testing.T) {
	s := newTestScheduler(1, nil)
	a := task("task-a", model.RoleBackend)
	b := task("task-b", model.RoleBackend)
	require.True(t, s.Enqueue(a))
	require.True(t, s.Enqueue(b))

	eligible := s.EligibleWork(nil)
	require.Len(t, eligible, 1)
	require.True(t, s.Dispatch(eligible[0]))
	assert.Equal(t, 1, s.Stats().InFlight[model.RoleBackend])

	// Force the second task ready behind the scheduler's back: Dispatch
	// still refuses to break the ceiling.
	require.True(t, b.MarkReady())
	assert.False(t, s.Dispatch(b))
	assert.Equal(t, 1, s.Stats().InFlight[model.RoleBackend])
}

func TestDispatchRequiresReady(t *testing.T) {
	s := newTestScheduler(3, nil)
	a := task("task-a", model.RoleBackend)
	require.True(t, s.Enqueue(a))

	assert.False(t, s.Dispatch(a), "pending task cannot be dispatched")
	assert.False(t, s.Dispatch(nil))
}

func TestReportOutcomeIdempotent(t *testing.T) {
	s := newTestScheduler(3, nil)
	a := task("task-a", model.RoleBackend)
	require.True(t, s.Enqueue(a))
	require.Len(t, s.EligibleWork(nil), 1)
	require.True(t, s.Dispatch(a))
	require.Equal(t, 1, s.Stats().InFlight[model.RoleBackend])

	assert.True(t, s.ReportOutcome(a, true, map[string]any{"out": "ok"}, ""))
	assert.Equal(t, model.StatusCompleted, a.Status)
	assert.Equal(t, 0, s.Stats().InFlight[model.RoleBackend])

	// Second report: rejected, counter untouched
	assert.False(t, s.ReportOutcome(a, true, nil, ""))
	assert.False(t, s.ReportOutcome(a, false, nil, "late failure"))
	assert.Equal(t, 0, s.Stats().InFlight[model.RoleBackend])
}

func TestReportOutcomeFailure(t *testing.T) {
	s := newTestScheduler(3, nil)
	a := task("task-a", model.RoleQA)
	require.True(t, s.Enqueue(a))
	require.Len(t, s.EligibleWork(nil), 1)
	require.True(t, s.Dispatch(a))

	assert.True(t, s.ReportOutcome(a, false, nil, "lint exploded"))
	assert.Equal(t, model.StatusFailed, a.Status)
	assert.Equal(t, "lint exploded", a.ErrorMessage)
	assert.Equal(t, 0, s.Stats().InFlight[model.RoleQA])
}

func TestBlockReleasesInFlightSlot(t *testing.T) {
	s := newTestScheduler(1, nil)
	a := task("task-a", model.RoleBackend)
	b := task("task-b", model.RoleBackend)
	require.True(t, s.Enqueue(a))
	require.True(t, s.Enqueue(b))
	require.Len(t, s.EligibleWork(nil), 1)
	require.True(t, s.Dispatch(a))

	assert.True(t, s.Block("task-a", "external hold"))
	assert.Equal(t, 0, s.Stats().InFlight[model.RoleBackend])

	// Freed slot makes b eligible
	eligible := s.EligibleWork(nil)
	require.Len(t, eligible, 1)
	assert.Equal(t, "task-b", eligible[0].ID)

	assert.False(t, s.Block("task-missing", "nope"))
}

func TestUnblock(t *testing.T) {
	s := newTestScheduler(3, nil)
	a := task("task-a", model.RoleBackend)
	b := task("task-b", model.RoleBackend, model.WithDependencies("task-a"))
	require.True(t, s.Enqueue(a))
	require.True(t, s.Enqueue(b))

	require.True(t, s.Block("task-b", "hold"))
	assert.Equal(t, model.StatusBlocked, b.Status)

	// Dependency not completed: back to pending
	assert.True(t, s.Unblock("task-b", nil))
	assert.Equal(t, model.StatusPending, b.Status)

	require.True(t, s.Block("task-b", "hold again"))
	assert.True(t, s.Unblock("task-b", map[string]bool{"task-a": true}))
	assert.Equal(t, model.StatusReady, b.Status)
}

func TestCancelRemaining(t *testing.T) {
	s := newTestScheduler(3, nil)
	a := task("task-a", model.RoleBackend)
	b := task("task-b", model.RoleBackend)
	c := task("task-c", model.RoleBackend)
	for _, tk := range []*model.Task{a, b, c} {
		require.True(t, s.Enqueue(tk))
	}
	require.Len(t, s.EligibleWork(nil), 3)
	require.True(t, s.Dispatch(a))

	cancelled := s.CancelRemaining("session cancelled")
	assert.ElementsMatch(t, []string{"task-b", "task-c"}, cancelled)
	assert.Equal(t, model.StatusInProgress, a.Status, "in-progress task finishes naturally")

	// The in-flight task still reports its outcome afterwards
	assert.True(t, s.ReportOutcome(a, true, nil, ""))
}

func TestStats(t *testing.T) {
	s := newTestScheduler(3, nil)
	a := task("task-a", model.RoleBackend)
	b := task("task-b", model.RoleQA)
	c := task("task-c", model.RoleQA, model.WithDependencies("task-a"))
	for _, tk := range []*model.Task{a, b, c} {
		require.True(t, s.Enqueue(tk))
	}
	require.Len(t, s.EligibleWork(nil), 2)
	require.True(t, s.Dispatch(a))
	require.True(t, s.Dispatch(b))

	stats := s.Stats()
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 2, stats.ByStatus[model.StatusInProgress])
	assert.Equal(t, 1, stats.ByStatus[model.StatusPending])
	assert.Equal(t, 1, stats.InFlight[model.RoleBackend])
	assert.Equal(t, 1, stats.InFlight[model.RoleQA])
}

func TestSchedulerValidateGraph(t *testing.T) {
	s := newTestScheduler(3, nil)
	a := task("task-a", model.RoleBackend, model.WithDependencies("task-b"))
	b := task("task-b", model.RoleBackend, model.WithDependencies("task-a"))
	require.True(t, s.Enqueue(a))
	require.True(t, s.Enqueue(b))

	err := s.ValidateGraph()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCyclicDependency)
}
