package domain

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/phancao/Project-Management-Agent-sub011/internal/agent/ports"
)

// Decision is the validator's verdict after a step.
type Decision int

const (
	// DecisionAdvance moves on to the next pending step.
	DecisionAdvance Decision = iota
	// DecisionReplan sends control back to the planner with feedback.
	DecisionReplan
	// DecisionFinalize hands whatever results exist to the reporter.
	DecisionFinalize
)

func (d Decision) String() string {
	switch d {
	case DecisionAdvance:
		return "advance"
	case DecisionReplan:
		return "replan"
	case DecisionFinalize:
		return "finalize"
	default:
		return fmt.Sprintf("decision(%d)", int(d))
	}
}

// Verdict pairs a decision with the feedback that justifies it. Feedback is
// what the planner receives on a replan.
type Verdict struct {
	Decision Decision
	Feedback string
	// Forced marks verdicts the iteration ceiling imposed, so the reporter
	// can annotate the answer as best-effort.
	Forced bool
}

const validatorSystemPrompt = "" +
	"You review progress of a project-management plan after each step. " +
	"Output ONLY valid JSON: {\"decision\":\"advance|replan|finalize\",\"feedback\":\"...\"}\n" +
	"- advance: the step went well and later steps should run.\n" +
	"- replan: the plan no longer fits what was learned; feedback explains what to change.\n" +
	"- finalize: enough information exists to answer the user now.\n" +
	"JSON only. No markdown."

const escalationSystemPrompt = "" +
	"You judge whether a direct tool-backed answer fully covers a " +
	"project-management question, or whether it needs a multi-step plan.\n" +
	"Output ONLY valid JSON: {\"sufficient\":true|false,\"feedback\":\"...\"}\n" +
	"JSON only. No markdown."

// Validator decides, after each step, whether the workflow advances,
// replans, or finalizes. It also solely owns the escalation from the
// lightweight direct path into the planner path.
type Validator struct {
	llm               ports.LLMClient
	maxPlanIterations int
	logger            ports.Logger
	clock             ports.Clock
}

// NewValidator builds a validator; maxPlanIterations <= 0 defaults to 5.
func NewValidator(llm ports.LLMClient, maxPlanIterations int, logger ports.Logger, clock ports.Clock) *Validator {
	if maxPlanIterations <= 0 {
		maxPlanIterations = 5
	}
	if logger == nil {
		logger = ports.NoopLogger{}
	}
	if clock == nil {
		clock = ports.SystemClock{}
	}
	return &Validator{llm: llm, maxPlanIterations: maxPlanIterations, logger: logger, clock: clock}
}

type validatorWire struct {
	Decision string `json:"decision"`
	Feedback string `json:"feedback"`
}

// Evaluate returns the verdict for the step at stepIndex. planIteration
// counts plans consumed so far (initial plan = 1); once it reaches the
// ceiling the only legal verdict is finalize, whatever the step looked like.
func (v *Validator) Evaluate(ctx context.Context, query string, plan *Plan, stepIndex, planIteration int) Verdict {
	if planIteration >= v.maxPlanIterations {
		v.logger.Warn("plan iteration ceiling (%d) reached, forcing finalize with partial results", v.maxPlanIterations)
		return Verdict{Decision: DecisionFinalize, Feedback: "plan budget exhausted", Forced: true}
	}

	step := plan.Steps[stepIndex]
	lastStep := stepIndex == len(plan.Steps)-1

	if v.llm == nil {
		return v.fallbackVerdict(step, lastStep)
	}

	wire, err := v.reflect(ctx, query, plan, stepIndex)
	if err != nil {
		v.logger.Warn("validator reflection failed, using fallback verdict: %v", err)
		return v.fallbackVerdict(step, lastStep)
	}

	switch wire.Decision {
	case "advance":
		if lastStep {
			// Nothing left to advance to.
			return Verdict{Decision: DecisionFinalize, Feedback: wire.Feedback}
		}
		return Verdict{Decision: DecisionAdvance, Feedback: wire.Feedback}
	case "replan":
		return Verdict{Decision: DecisionReplan, Feedback: wire.Feedback}
	case "finalize":
		return Verdict{Decision: DecisionFinalize, Feedback: wire.Feedback}
	default:
		v.logger.Warn("validator returned unknown decision %q, using fallback verdict", wire.Decision)
		return v.fallbackVerdict(step, lastStep)
	}
}

// fallbackVerdict is the deterministic policy when no reflection is
// available: done steps advance, a failed step triggers one replan attempt,
// the last step finalizes.
func (v *Validator) fallbackVerdict(step *Step, lastStep bool) Verdict {
	if step.Status == StatusFailed {
		return Verdict{Decision: DecisionReplan, Feedback: fmt.Sprintf("step %q failed: %v", step.Title, step.Result.Err)}
	}
	if lastStep {
		return Verdict{Decision: DecisionFinalize}
	}
	return Verdict{Decision: DecisionAdvance}
}

func (v *Validator) reflect(ctx context.Context, query string, plan *Plan, stepIndex int) (*validatorWire, error) {
	user := &strings.Builder{}
	fmt.Fprintf(user, "Query: %s\nPlan (revision %d): %s\n", query, plan.Revision, plan.Title)
	for i, step := range plan.Steps {
		marker := " "
		if i == stepIndex {
			marker = ">"
		}
		fmt.Fprintf(user, "%s step %d [%s] %s -> %s\n", marker, i, step.Type, step.Title, step.Status)
		if step.Result != nil {
			if step.Result.Err != nil {
				fmt.Fprintf(user, "    error: %v\n", step.Result.Err)
			} else if step.Result.Summary != "" {
				fmt.Fprintf(user, "    result: %s\n", truncate(step.Result.Summary, 800))
			}
		}
	}

	resp, err := v.llm.Complete(ctx, ports.CompletionRequest{
		Messages: []ports.Message{
			{Role: "system", Content: validatorSystemPrompt},
			{Role: "user", Content: user.String()},
		},
		Temperature: 0,
		MaxTokens:   300,
		Metadata: map[string]any{
			"intent": "step_validation",
			"ts":     v.clock.Now().Format(time.RFC3339Nano),
		},
	})
	if err != nil {
		return nil, err
	}

	var wire validatorWire
	text := strings.TrimSpace(resp.Content)
	if err := json.Unmarshal([]byte(text), &wire); err != nil {
		obj := extractJSONObject(text)
		if obj == "" {
			return nil, fmt.Errorf("unparsable validator reply")
		}
		if err := json.Unmarshal([]byte(obj), &wire); err != nil {
			return nil, fmt.Errorf("unparsable validator reply: %w", err)
		}
	}
	wire.Decision = strings.ToLower(strings.TrimSpace(wire.Decision))
	return &wire, nil
}

type escalationWire struct {
	Sufficient bool   `json:"sufficient"`
	Feedback   string `json:"feedback"`
}

// EscalateDirect reports whether a direct-path result is insufficient and
// the query should enter the planner path. The second value is feedback for
// the planner. Reflection being unavailable keeps the direct answer: a
// failed direct step escalates, a completed one stands.
func (v *Validator) EscalateDirect(ctx context.Context, query string, result *StepResult) (bool, string) {
	if result == nil || result.Err != nil {
		return true, "direct execution failed, a stepwise plan is needed"
	}
	if v.llm == nil {
		return false, ""
	}

	user := fmt.Sprintf("Question: %s\nDirect answer draft: %s\nTool results seen: %d",
		query, truncate(result.Summary, 1500), len(result.Results))
	resp, err := v.llm.Complete(ctx, ports.CompletionRequest{
		Messages: []ports.Message{
			{Role: "system", Content: escalationSystemPrompt},
			{Role: "user", Content: user},
		},
		Temperature: 0,
		MaxTokens:   200,
		Metadata: map[string]any{
			"intent": "direct_escalation",
			"ts":     v.clock.Now().Format(time.RFC3339Nano),
		},
	})
	if err != nil {
		v.logger.Warn("escalation check failed, keeping direct answer: %v", err)
		return false, ""
	}

	var wire escalationWire
	text := strings.TrimSpace(resp.Content)
	if err := json.Unmarshal([]byte(text), &wire); err != nil {
		obj := extractJSONObject(text)
		if obj == "" || json.Unmarshal([]byte(obj), &wire) != nil {
			v.logger.Warn("unparsable escalation reply, keeping direct answer")
			return false, ""
		}
	}
	return !wire.Sufficient, wire.Feedback
}

// MaxPlanIterations exposes the configured ceiling.
func (v *Validator) MaxPlanIterations() int { return v.maxPlanIterations }
