package domain

import (
	"fmt"

	"github.com/phancao/Project-Management-Agent-sub011/internal/agent/ports"
	"github.com/phancao/Project-Management-Agent-sub011/internal/stream"
)

// StepType is the closed set of planned work kinds. The type gates which
// tool categories a step may use downstream.
type StepType int

const (
	// StepDataQuery permits read-only project-management tools.
	StepDataQuery StepType = iota
	// StepProcessing permits no tool calls: pure computation over
	// already-fetched data.
	StepProcessing
	// StepResearch permits search and document tools.
	StepResearch
)

func (t StepType) String() string {
	switch t {
	case StepDataQuery:
		return "data-query"
	case StepProcessing:
		return "processing"
	case StepResearch:
		return "research"
	default:
		return fmt.Sprintf("steptype(%d)", int(t))
	}
}

// ParseStepType maps the planner's wire string to a StepType.
func ParseStepType(s string) (StepType, error) {
	switch s {
	case "data-query", "data_query":
		return StepDataQuery, nil
	case "processing":
		return StepProcessing, nil
	case "research":
		return StepResearch, nil
	default:
		return 0, fmt.Errorf("unknown step type %q", s)
	}
}

// StepStatus tracks the step lifecycle.
type StepStatus string

const (
	StatusPending StepStatus = "pending"
	StatusRunning StepStatus = "running"
	StatusDone    StepStatus = "done"
	StatusFailed  StepStatus = "failed"
)

// StepResult carries what a finished step produced.
type StepResult struct {
	Summary   string
	Data      map[string]any
	ToolCalls []ports.ToolCall
	Results   []ports.ToolResult
	Err       error
}

// Step is one planned unit of work. A step transitions
// pending -> running -> done|failed exactly once; it is never re-entered
// except via an explicit replan that creates a new Plan.
type Step struct {
	Type        StepType
	Title       string
	Instruction string

	// Structured tool gates, not prose-embedded directives.
	AllowedTools   []string
	ForbiddenTools []string

	// Sequential forces tool calls within one turn to run one at a time.
	// Default is concurrent dispatch.
	Sequential bool

	Status StepStatus
	Result *StepResult
}

func (s *Step) markRunning() error {
	if s.Status != StatusPending {
		return fmt.Errorf("step %q cannot start from status %s", s.Title, s.Status)
	}
	s.Status = StatusRunning
	return nil
}

func (s *Step) finish(result *StepResult) {
	s.Result = result
	if result != nil && result.Err != nil {
		s.Status = StatusFailed
		return
	}
	s.Status = StatusDone
}

// toolAllowed applies the step's structured gates on top of its type gate.
func (s *Step) toolAllowed(def ports.ToolDefinition) bool {
	switch s.Type {
	case StepProcessing:
		return false
	case StepDataQuery:
		if def.Category != ports.CategoryDataQuery {
			return false
		}
	case StepResearch:
		if def.Category != ports.CategoryResearch {
			return false
		}
	}
	for _, name := range s.ForbiddenTools {
		if name == def.Name {
			return false
		}
	}
	if len(s.AllowedTools) == 0 {
		return true
	}
	for _, name := range s.AllowedTools {
		if name == def.Name {
			return true
		}
	}
	return false
}

// Plan is an ordered list of steps. Immutable once created: replanning
// produces a new Plan carrying the rationale forward, never a mutation.
type Plan struct {
	Title     string
	Rationale string
	Steps     []*Step
	Revision  int
}

// StepIndexStatus returns the wire status for a step.
func stepWireStatus(s StepStatus) stream.StepStatus {
	switch s {
	case StatusRunning:
		return stream.StepRunning
	case StatusDone:
		return stream.StepDone
	case StatusFailed:
		return stream.StepFailed
	default:
		return stream.StepPending
	}
}

// EventPublisher is the workflow's outbound seam: every component makes
// its state visible only by publishing events.
type EventPublisher interface {
	Publish(event stream.Event) bool
}

// nopPublisher discards events; used when a run has no bound thread.
type nopPublisher struct{}

func (nopPublisher) Publish(stream.Event) bool { return true }

// NopPublisher returns a publisher that discards all events.
func NopPublisher() EventPublisher { return nopPublisher{} }

// RunResult is the final outcome of one workflow run.
type RunResult struct {
	ThreadID   string
	MessageID  string
	Answer     string
	Plan       *Plan
	Direct     bool
	StopReason string // "final_answer", "plan_budget_exhausted", "cancelled"
	TokensUsed int
}
