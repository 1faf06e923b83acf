package model

import "fmt"

type Status string

const (
	StatusPending    Status = "pending"
	StatusReady      Status = "ready"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusBlocked    Status = "blocked"
	StatusCancelled  Status = "cancelled"
)

var terminalStatuses = map[Status]bool{
	StatusCompleted: true,
	StatusFailed:    true,
	StatusCancelled: true,
}

// Task state transitions: pending → ready → in_progress → terminal.
// blocked is the only status with a reverse edge (back to ready or pending
// once the hold is lifted). cancelled is reachable from every non-terminal
// status.
var validTaskTransitions = map[Status]map[Status]bool{
	StatusPending: {
		StatusReady:     true,
		StatusBlocked:   true,
		StatusCancelled: true,
	},
	StatusReady: {
		StatusInProgress: true,
		StatusBlocked:    true,
		StatusCancelled:  true,
	},
	StatusInProgress: {
		StatusCompleted: true,
		StatusFailed:    true,
		StatusBlocked:   true,
		StatusCancelled: true,
	},
	StatusBlocked: {
		StatusReady:     true,
		StatusPending:   true,
		StatusCancelled: true,
	},
}

// IsTerminal reports whether s is a terminal status.
func IsTerminal(s Status) bool {
	return terminalStatuses[s]
}

// ValidateTransition checks a task status change against the transition table.
func ValidateTransition(from, to Status) error {
	if IsTerminal(from) {
		return fmt.Errorf("cannot transition from terminal status %q", from)
	}
	allowed, ok := validTaskTransitions[from]
	if !ok {
		return fmt.Errorf("unknown status %q", from)
	}
	if !allowed[to] {
		return fmt.Errorf("invalid task transition: %q → %q", from, to)
	}
	return nil
}

// Priority orders otherwise-eligible tasks. Higher runs first; it is a
// tie-break only and never overrides dependency or capacity checks.
type Priority int

const (
	PriorityLow      Priority = 1
	PriorityMedium   Priority = 2
	PriorityHigh     Priority = 3
	PriorityUrgent   Priority = 4
	PriorityCritical Priority = 5
)

var priorityNames = map[Priority]string{
	PriorityLow:      "low",
	PriorityMedium:   "medium",
	PriorityHigh:     "high",
	PriorityUrgent:   "urgent",
	PriorityCritical: "critical",
}

func (p Priority) String() string {
	if name, ok := priorityNames[p]; ok {
		return name
	}
	return fmt.Sprintf("priority(%d)", int(p))
}

// ParsePriority maps a priority name to its level. Unknown names fall back
// to medium so a workload file with a typo degrades instead of failing hard.
func ParsePriority(s string) Priority {
	for p, name := range priorityNames {
		if name == s {
			return p
		}
	}
	return PriorityMedium
}

func (p Priority) Valid() bool {
	_, ok := priorityNames[p]
	return ok
}

// Role selects which class of executor may run a task. Roles also key the
// per-role concurrency ceilings in the scheduler.
type Role string

const (
	RolePlanner   Role = "planner"
	RoleArchitect Role = "architect"
	RoleBackend   Role = "backend"
	RoleFrontend  Role = "frontend"
	RoleQA        Role = "qa"
	RoleDevOps    Role = "devops"
)

var knownRoles = map[Role]bool{
	RolePlanner:   true,
	RoleArchitect: true,
	RoleBackend:   true,
	RoleFrontend:  true,
	RoleQA:        true,
	RoleDevOps:    true,
}

// KnownRole reports whether r is one of the built-in roles. The scheduler
// accepts any role tag; this is for workload-file validation only.
func KnownRole(r Role) bool {
	return knownRoles[r]
}
