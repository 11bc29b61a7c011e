// Package task defines the core data model for the orchestration engine:
// tasks, dependency edges, agents, and audit entries, plus their lifecycle
// states.
package task

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status represents the lifecycle state of a task.
type Status string

const (
	StatusPending   Status = "pending"
	StatusBlocked   Status = "blocked"
	StatusReady     Status = "ready"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status is one of the sticky terminal states.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Source identifies who submitted a task.
type Source string

const (
	SourceHuman               Source = "human"
	SourceAgentRequirements   Source = "agent-requirements"
	SourceAgentPlanner        Source = "agent-planner"
	SourceAgentImplementation Source = "agent-implementation"
)

// sourceScore is the fixed mapping used by the priority calculator.
var sourceScore = map[Source]float64{
	SourceHuman:               10,
	SourceAgentRequirements:   8,
	SourceAgentPlanner:        6,
	SourceAgentImplementation: 4,
}

// Score returns the source's fixed priority contribution, defaulting to the
// lowest-trust score for an unrecognised source.
func (s Source) Score() float64 {
	if v, ok := sourceScore[s]; ok {
		return v
	}
	return sourceScore[SourceAgentImplementation]
}

// DependencyType tags a prerequisite edge. Sequential and parallel are
// semantically identical today (every prerequisite must complete); the tag
// is retained for future AND/OR extensions.
type DependencyType string

const (
	DependencySequential DependencyType = "sequential"
	DependencyParallel   DependencyType = "parallel"
)

// DefaultMaxExecutionTimeoutSeconds is applied when a task does not specify one.
const DefaultMaxExecutionTimeoutSeconds = 3600

// MinMaxExecutionTimeoutSeconds is the floor enforced on task submission.
const MinMaxExecutionTimeoutSeconds = 60

// MaxSummaryLength is the internal truncation / external validation bound.
const MaxSummaryLength = 140

// Task is the unit of work scheduled and executed by the engine.
type Task struct {
	ID        string
	Summary   string
	Prompt    string
	AgentType string

	Source         Source
	DependencyType DependencyType

	BasePriority       int
	CalculatedPriority float64
	Deadline           *time.Time
	EstimatedDuration  *time.Duration
	DependencyDepth    int

	Status        Status
	SubmittedAt   time.Time
	StartedAt     *time.Time
	CompletedAt   *time.Time
	LastUpdatedAt time.Time

	RetryCount                 int
	MaxRetries                 int
	MaxExecutionTimeoutSeconds int

	ParentTaskID string
	Dependencies []string

	InputData    map[string]any
	ResultData   map[string]any
	ErrorMessage string
}

// NewID generates a new opaque task identifier.
func NewID() string {
	return uuid.NewString()
}

// NormalizeSummary trims whitespace and truncates to MaxSummaryLength.
// Empty-after-trim collapses to "" ("none"). This is the internal-layer
// rule; external callers (CLI, API) must reject empty-after-trim and
// over-length input before calling in.
func NormalizeSummary(s string) string {
	s = strings.TrimSpace(s)
	if r := []rune(s); len(r) > MaxSummaryLength {
		s = string(r[:MaxSummaryLength])
	}
	return s
}

// DependencyEdge is an edge from a dependent task to a prerequisite task.
type DependencyEdge struct {
	ID                 string
	DependentTaskID    string
	PrerequisiteTaskID string
	DependencyType     DependencyType
	CreatedAt          time.Time
	ResolvedAt         *time.Time
}

// AgentState is the lifecycle state of a registered worker process.
type AgentState string

const (
	AgentSpawning    AgentState = "spawning"
	AgentIdle        AgentState = "idle"
	AgentBusy        AgentState = "busy"
	AgentTerminating AgentState = "terminating"
	AgentTerminated  AgentState = "terminated"
)

// Agent is a registered worker process bound to at most one task.
type Agent struct {
	ID             string
	Name           string
	Specialization string
	TaskID         string
	State          AgentState
	SpawnedAt      time.Time
	TerminatedAt   *time.Time
	ResourceUsage  map[string]any
}

// NewAgentID generates a new opaque agent identifier.
func NewAgentID() string {
	return uuid.NewString()
}

// AuditEntry is an immutable audit log row.
type AuditEntry struct {
	ID         int64
	Timestamp  time.Time
	TaskID     string
	AgentID    string
	ActionType string
	ActionData map[string]any
	Result     string
}
