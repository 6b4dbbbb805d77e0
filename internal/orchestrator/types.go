// Package orchestrator is the composition core: it routes incoming
// tasks to capable agents under load and priority constraints, queues
// overflow per priority class, and exposes submission, polling and
// aggregate health to the outer layers.
package orchestrator

import (
	"time"

	"github.com/seopilot/seopilot/internal/fault"
)

// TaskType is the closed set of work the agency automates. Unknown
// types are rejected at submission time, not at routing time.
type TaskType string

const (
	TaskKeywordResearch    TaskType = "keyword_research"
	TaskContentBrief       TaskType = "content_brief"
	TaskTechnicalAudit     TaskType = "technical_audit"
	TaskCompetitorAnalysis TaskType = "competitor_analysis"
	TaskLeadScoring        TaskType = "lead_scoring"
	TaskReporting          TaskType = "reporting"
	TaskLinkOutreach       TaskType = "link_outreach"
)

var knownTaskTypes = map[TaskType]bool{
	TaskKeywordResearch:    true,
	TaskContentBrief:       true,
	TaskTechnicalAudit:     true,
	TaskCompetitorAnalysis: true,
	TaskLeadScoring:        true,
	TaskReporting:          true,
	TaskLinkOutreach:       true,
}

// ParseTaskType validates a task type string against the closed set.
func ParseTaskType(s string) (TaskType, error) {
	t := TaskType(s)
	if !knownTaskTypes[t] {
		return "", fault.Newf(fault.KindValidation, "orchestrator", "unknown task type %q", s)
	}
	return t, nil
}

// Priority orders tasks across the four routing queues.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// priorityRanks maps each class to its queue index; higher drains first.
var priorityRanks = map[Priority]int{
	PriorityLow:      0,
	PriorityMedium:   1,
	PriorityHigh:     2,
	PriorityCritical: 3,
}

// Rank returns the numeric priority; higher is more urgent.
func (p Priority) Rank() int { return priorityRanks[p] }

// ParsePriority validates a priority string. Empty means medium.
func ParsePriority(s string) (Priority, error) {
	if s == "" {
		return PriorityMedium, nil
	}
	p := Priority(s)
	if _, ok := priorityRanks[p]; !ok {
		return "", fault.Newf(fault.KindValidation, "orchestrator", "unknown priority %q", s)
	}
	return p, nil
}

// Status tracks a task through its lifecycle. Done and failed are
// terminal; no task transitions out of them.
type Status string

const (
	StatusQueued  Status = "queued"
	StatusRouted  Status = "routed"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool { return s == StatusDone || s == StatusFailed }

// Task is one unit of submitted work. Immutable once submitted; the
// router owns the status field for the task's lifetime.
type Task struct {
	ID        string         `json:"id"`
	Type      TaskType       `json:"type"`
	Priority  Priority       `json:"priority"`
	Payload   map[string]any `json:"payload,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	Deadline  time.Time      `json:"deadline,omitempty"`
}

// Expired reports whether the task's deadline has passed.
func (t *Task) Expired(now time.Time) bool {
	return !t.Deadline.IsZero() && now.After(t.Deadline)
}

// Result is the terminal output of a task. Late marks a result whose
// task finished after its deadline; the caller decides disposition.
type Result struct {
	TaskID      string        `json:"task_id"`
	AgentID     string        `json:"agent_id,omitempty"`
	Status      Status        `json:"status"`
	Output      string        `json:"output,omitempty"`
	Error       string        `json:"error,omitempty"`
	ErrorKind   string        `json:"error_kind,omitempty"`
	Component   string        `json:"component,omitempty"`
	Retryable   bool          `json:"retryable"`
	Late        bool          `json:"late,omitempty"`
	Duration    time.Duration `json:"duration"`
	CompletedAt time.Time     `json:"completed_at"`
}

// EscalationReason explains why routing could not place a task.
type EscalationReason string

const (
	ReasonNoCapableAgent EscalationReason = "no_capable_agent"
	ReasonQueueFull      EscalationReason = "queue_full"
)

// EscalationSignal is emitted when routing gives up on a task.
type EscalationSignal struct {
	TaskID string           `json:"task_id"`
	Reason EscalationReason `json:"reason"`
}
