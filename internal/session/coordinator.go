// Package session drives bounded rounds of scheduling over a fixed task
// set, dispatching eligible work to an external executor and publishing
// lifecycle events for every transition.
package session

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/msageha/agentflow/internal/events"
	"github.com/msageha/agentflow/internal/model"
	"github.com/msageha/agentflow/internal/scheduler"
)

// Executor runs a task's payload and returns either a result map or an
// error. It may block on arbitrary external I/O; it should observe ctx,
// though the coordinator never force-aborts an in-flight call.
type Executor interface {
	Execute(ctx context.Context, task *model.Task) (map[string]any, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, task *model.Task) (map[string]any, error)

func (f ExecutorFunc) Execute(ctx context.Context, task *model.Task) (map[string]any, error) {
	return f(ctx, task)
}

// Coordinator owns one session over a scheduler's task set. All scheduler
// mutation happens on the goroutine driving Run; executor calls are the
// only concurrent work.
type Coordinator struct {
	id       string
	project  string
	sched    *scheduler.Scheduler
	bus      *events.Bus
	executor Executor
	cfg      model.SessionConfig
	logger   *log.Logger
	logLevel LogLevel
}

// New creates a coordinator with a generated session ID.
func New(project string, sched *scheduler.Scheduler, bus *events.Bus, executor Executor, cfg model.SessionConfig, logger *log.Logger, level LogLevel) *Coordinator {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if cfg.MaxConcurrentDispatch < 1 {
		cfg.MaxConcurrentDispatch = model.DefaultMaxConcurrentDispatch
	}
	if cfg.MaxRounds < 1 {
		cfg.MaxRounds = model.DefaultMaxRounds
	}
	return &Coordinator{
		id:       model.MustGenerateID(model.IDTypeSession),
		project:  project,
		sched:    sched,
		bus:      bus,
		executor: executor,
		cfg:      cfg,
		logger:   logger,
		logLevel: level,
	}
}

// ID returns the session correlation id.
func (c *Coordinator) ID() string {
	return c.id
}

func (c *Coordinator) log(level LogLevel, format string, args ...any) {
	if level < c.logLevel {
		return
	}
	c.logger.Printf("[%s] %s %s", level, c.id, fmt.Sprintf(format, args...))
}

type outcome struct {
	task   *model.Task
	result map[string]any
	err    error
}

// Run drives scheduling rounds until no eligible work remains, the round
// ceiling is hit, or ctx is cancelled. Executor failures mark individual
// tasks failed and the session continues; a stalled graph (zero eligible
// with tasks still pending) ends the session cleanly with a success rate
// below 1.0. Cancellation stops new rounds and cancels still-pending work;
// dispatched tasks finish naturally and their outcomes are still reported.
func (c *Coordinator) Run(ctx context.Context) (*Summary, error) {
	if err := c.sched.ValidateGraph(); err != nil {
		return nil, fmt.Errorf("validate task graph: %w", err)
	}

	start := time.Now()
	total := c.sched.Len()
	c.log(LogLevelInfo, "session starting project=%s tasks=%d", c.project, total)

	c.bus.Publish(events.Event{
		Kind:      events.KindProjectStarted,
		Source:    model.RolePlanner,
		SessionID: c.id,
		Payload: map[string]any{
			"project": c.project,
			"tasks":   total,
		},
	})

	completed := make(map[string]bool)
	var completedTasks []*model.Task
	failedCount := 0
	rounds := 0
	hitRoundCeiling := false
	cancelled := false

	sem := semaphore.NewWeighted(int64(c.cfg.MaxConcurrentDispatch))

	for {
		if ctx.Err() != nil {
			cancelled = true
			break
		}
		if rounds >= c.cfg.MaxRounds {
			hitRoundCeiling = true
			c.log(LogLevelWarn, "round ceiling %d reached, ending with partial results", c.cfg.MaxRounds)
			break
		}

		eligible := c.sched.EligibleWork(completed)
		if len(eligible) == 0 {
			// Either everything terminal, or the graph has stalled.
			break
		}
		rounds++
		c.log(LogLevelDebug, "round %d: %d eligible tasks", rounds, len(eligible))

		results := make(chan outcome, len(eligible))
		dispatched := 0
		for _, t := range eligible {
			if err := sem.Acquire(ctx, 1); err != nil {
				// Cancelled mid-round; the task stays undispatched and is
				// cancelled below.
				cancelled = true
				break
			}
			if !c.sched.Dispatch(t) {
				sem.Release(1)
				continue
			}
			dispatched++
			c.publishTask(events.KindTaskStarted, t, nil)
			go c.execute(ctx, t, sem, results)
		}

		// Report outcomes in arrival order, not dispatch order. Sibling
		// ordering does not matter: transitions are per-task.
		for i := 0; i < dispatched; i++ {
			out := <-results
			c.reportOutcome(out, completed, &completedTasks, &failedCount)
		}

		if cancelled {
			break
		}
		if dispatched == 0 {
			break
		}
	}

	var cancelledIDs []string
	if cancelled {
		cancelledIDs = c.sched.CancelRemaining("session cancelled")
		for _, id := range cancelledIDs {
			c.bus.Publish(events.Event{
				Kind:      events.KindTaskCancelled,
				Source:    model.RolePlanner,
				SessionID: c.id,
				Payload:   map[string]any{"task_id": id},
			})
		}
		c.bus.Publish(events.Event{
			Kind:      events.KindSystemAlert,
			Source:    model.RolePlanner,
			SessionID: c.id,
			Payload:   map[string]any{"message": "session cancelled", "cancelled_tasks": len(cancelledIDs)},
		})
		c.log(LogLevelInfo, "cancelled %d remaining tasks", len(cancelledIDs))
	}

	summary := buildSummary(c.id, c.project, summaryInput{
		total:           total,
		completedTasks:  completedTasks,
		failedCount:     failedCount,
		cancelledCount:  len(cancelledIDs),
		rounds:          rounds,
		duration:        time.Since(start),
		hitRoundCeiling: hitRoundCeiling,
		cancelled:       cancelled,
		overdue:         c.sched.Overdue(time.Now().UTC()),
	})

	c.bus.Publish(events.Event{
		Kind:      events.KindProjectCompleted,
		Source:    model.RolePlanner,
		SessionID: c.id,
		Payload: map[string]any{
			"project":      c.project,
			"success_rate": summary.SuccessRate,
			"completed":    summary.Completed,
			"failed":       summary.Failed,
			"duration_sec": summary.Duration.Seconds(),
		},
	})
	c.log(LogLevelInfo, "session finished completed=%d/%d failed=%d rounds=%d rate=%.2f",
		summary.Completed, summary.Total, summary.Failed, summary.Rounds, summary.SuccessRate)

	return summary, nil
}

// execute runs one dispatched task on the external executor. The semaphore
// slot is held for the duration of the call.
func (c *Coordinator) execute(ctx context.Context, t *model.Task, sem *semaphore.Weighted, results chan<- outcome) {
	defer sem.Release(1)
	result, err := c.executor.Execute(ctx, t)
	results <- outcome{task: t, result: result, err: err}
}

// reportOutcome feeds one executor result back into the scheduler and
// publishes the matching event. Runs on the driver goroutine only.
func (c *Coordinator) reportOutcome(out outcome, completed map[string]bool, completedTasks *[]*model.Task, failedCount *int) {
	t := out.task
	if out.err != nil {
		if c.sched.ReportOutcome(t, false, nil, out.err.Error()) {
			*failedCount++
			c.log(LogLevelWarn, "task failed id=%s role=%s: %v", t.ID, t.Role, out.err)
			c.publishTask(events.KindTaskFailed, t, map[string]any{"error": out.err.Error()})
		}
		return
	}
	if c.sched.ReportOutcome(t, true, out.result, "") {
		completed[t.ID] = true
		*completedTasks = append(*completedTasks, t)
		c.log(LogLevelDebug, "task completed id=%s role=%s", t.ID, t.Role)
		c.publishTask(events.KindTaskCompleted, t, map[string]any{"result": out.result})
	}
}

func (c *Coordinator) publishTask(kind events.Kind, t *model.Task, extra map[string]any) {
	payload := map[string]any{
		"task_id": t.ID,
		"title":   t.Title,
	}
	for k, v := range extra {
		payload[k] = v
	}
	c.bus.Publish(events.Event{
		Kind:      kind,
		Source:    t.Role,
		SessionID: c.id,
		Payload:   payload,
	})
}
