package session

import (
	"time"

	"github.com/msageha/agentflow/internal/model"
)

// Deliverable is one successful task's output, grouped by role in the
// session summary for the reporting layer.
type Deliverable struct {
	TaskID string         `yaml:"task_id"`
	Title  string         `yaml:"title"`
	Result map[string]any `yaml:"result,omitempty"`
}

// Summary is the outcome report for one session.
type Summary struct {
	SessionID string        `yaml:"session_id"`
	Project   string        `yaml:"project"`
	Total     int           `yaml:"total_tasks"`
	Completed int           `yaml:"completed_tasks"`
	Failed    int           `yaml:"failed_tasks"`
	Cancelled int           `yaml:"cancelled_tasks"`
	Rounds    int           `yaml:"rounds"`
	Duration  time.Duration `yaml:"duration"`

	// SuccessRate is completed/total. A zero-task session has rate 1.0 by
	// convention: nothing was asked for and nothing went wrong.
	SuccessRate float64 `yaml:"success_rate"`

	// HitRoundCeiling marks a session ended by the iteration guard rather
	// than by draining the queue.
	HitRoundCeiling bool `yaml:"hit_round_ceiling,omitempty"`
	// CancelledEarly marks a session ended by cancellation.
	CancelledEarly bool `yaml:"cancelled_early,omitempty"`

	// OverdueTasks lists tasks past their deadline when the session ended.
	OverdueTasks []string `yaml:"overdue_tasks,omitempty"`

	Deliverables map[model.Role][]Deliverable `yaml:"deliverables,omitempty"`
}

type summaryInput struct {
	total           int
	completedTasks  []*model.Task
	failedCount     int
	cancelledCount  int
	rounds          int
	duration        time.Duration
	hitRoundCeiling bool
	cancelled       bool
	overdue         []*model.Task
}

func buildSummary(sessionID, project string, in summaryInput) *Summary {
	rate := 1.0
	if in.total > 0 {
		rate = float64(len(in.completedTasks)) / float64(in.total)
	}

	s := &Summary{
		SessionID:       sessionID,
		Project:         project,
		Total:           in.total,
		Completed:       len(in.completedTasks),
		Failed:          in.failedCount,
		Cancelled:       in.cancelledCount,
		Rounds:          in.rounds,
		Duration:        in.duration,
		SuccessRate:     rate,
		HitRoundCeiling: in.hitRoundCeiling,
		CancelledEarly:  in.cancelled,
	}

	for _, t := range in.overdue {
		s.OverdueTasks = append(s.OverdueTasks, t.ID)
	}

	if len(in.completedTasks) > 0 {
		s.Deliverables = make(map[model.Role][]Deliverable)
		for _, t := range in.completedTasks {
			s.Deliverables[t.Role] = append(s.Deliverables[t.Role], Deliverable{
				TaskID: t.ID,
				Title:  t.Title,
				Result: t.Result,
			})
		}
	}
	return s
}
