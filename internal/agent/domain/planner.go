package domain

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/phancao/Project-Management-Agent-sub011/internal/agent/ports"
)

const plannerSystemPrompt = "" +
	"You are a planner for a project-management assistant. Output ONLY valid JSON with the shape:\n" +
	"{\"title\":\"...\",\"rationale\":\"...\",\"steps\":[{\"type\":\"data-query|processing|research\"," +
	"\"title\":\"...\",\"instruction\":\"...\",\"allowed_tools\":[\"...\"],\"forbidden_tools\":[]}]}\n" +
	"Constraints:\n" +
	"- The output must be JSON only. No markdown. No commentary.\n" +
	"- 2 to 6 steps.\n" +
	"- data-query steps fetch project data with read-only tools; processing steps use NO tools;\n" +
	"  research steps use search/document tools.\n" +
	"- Each step title is a short task name (<= 8 words).\n"

// Planner decomposes a query into an ordered list of typed steps.
type Planner struct {
	llm    ports.LLMClient
	logger ports.Logger
	clock  ports.Clock
}

// NewPlanner constructs a planner; nil logger/clock fall back to no-ops.
func NewPlanner(llm ports.LLMClient, logger ports.Logger, clock ports.Clock) *Planner {
	if logger == nil {
		logger = ports.NoopLogger{}
	}
	if clock == nil {
		clock = ports.SystemClock{}
	}
	return &Planner{llm: llm, logger: logger, clock: clock}
}

type plannerStepWire struct {
	Type           string   `json:"type"`
	Title          string   `json:"title"`
	Instruction    string   `json:"instruction"`
	AllowedTools   []string `json:"allowed_tools"`
	ForbiddenTools []string `json:"forbidden_tools"`
	Sequential     bool     `json:"sequential"`
}

type plannerWire struct {
	Title     string            `json:"title"`
	Rationale string            `json:"rationale"`
	Steps     []plannerStepWire `json:"steps"`
}

// Plan produces a fresh plan for the query.
func (p *Planner) Plan(ctx context.Context, query string, toolDefs []ports.ToolDefinition) (*Plan, error) {
	return p.plan(ctx, query, toolDefs, nil, "")
}

// Revise produces a NEW plan from new information gathered by the
// validator, carrying the prior rationale forward so the audit trail
// explains why replanning happened. The prior plan is never patched.
func (p *Planner) Revise(ctx context.Context, query string, toolDefs []ports.ToolDefinition, prior *Plan, feedback string) (*Plan, error) {
	if prior == nil {
		return p.plan(ctx, query, toolDefs, nil, feedback)
	}
	revised, err := p.plan(ctx, query, toolDefs, prior, feedback)
	if err != nil {
		return nil, err
	}
	p.logPlanDiff(prior, revised)
	return revised, nil
}

func (p *Planner) plan(ctx context.Context, query string, toolDefs []ports.ToolDefinition, prior *Plan, feedback string) (*Plan, error) {
	if p.llm == nil {
		return nil, fmt.Errorf("planner requires an LLM client")
	}

	user := &strings.Builder{}
	fmt.Fprintf(user, "Query: %s\n", query)
	if len(toolDefs) > 0 {
		user.WriteString("Available tools:\n")
		for _, def := range toolDefs {
			fmt.Fprintf(user, "- %s (%s): %s\n", def.Name, def.Category, def.Description)
		}
	}
	if prior != nil {
		fmt.Fprintf(user, "\nPrior plan %q failed to complete. Prior rationale: %s\n", prior.Title, prior.Rationale)
		for i, step := range prior.Steps {
			fmt.Fprintf(user, "  step %d [%s] %s -> %s\n", i, step.Type, step.Title, step.Status)
		}
	}
	if feedback != "" {
		fmt.Fprintf(user, "\nValidator feedback: %s\n", feedback)
	}

	resp, err := p.llm.Complete(ctx, ports.CompletionRequest{
		Messages: []ports.Message{
			{Role: "system", Content: plannerSystemPrompt},
			{Role: "user", Content: user.String()},
		},
		Temperature: 0.2,
		MaxTokens:   800,
		Metadata: map[string]any{
			"intent": "task_planning",
			"ts":     p.clock.Now().Format(time.RFC3339Nano),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("planner llm call failed: %w", err)
	}

	wire, err := parsePlannerResponse(resp.Content)
	if err != nil {
		return nil, fmt.Errorf("planner response unusable: %w", err)
	}

	plan := &Plan{
		Title:     strings.TrimSpace(wire.Title),
		Rationale: strings.TrimSpace(wire.Rationale),
	}
	if prior != nil {
		plan.Revision = prior.Revision + 1
		// Keep the history of why we got here.
		if prior.Rationale != "" {
			plan.Rationale = strings.TrimSpace(prior.Rationale + "\n[revised] " + plan.Rationale)
		}
	}
	for _, sw := range wire.Steps {
		stepType, err := ParseStepType(strings.TrimSpace(sw.Type))
		if err != nil {
			p.logger.Warn("skipping step with %v", err)
			continue
		}
		title := strings.TrimSpace(sw.Title)
		instruction := strings.TrimSpace(sw.Instruction)
		if title == "" || instruction == "" {
			continue
		}
		plan.Steps = append(plan.Steps, &Step{
			Type:           stepType,
			Title:          title,
			Instruction:    instruction,
			AllowedTools:   sw.AllowedTools,
			ForbiddenTools: sw.ForbiddenTools,
			Sequential:     sw.Sequential,
			Status:         StatusPending,
		})
	}
	if len(plan.Steps) == 0 {
		return nil, fmt.Errorf("planner produced no usable steps")
	}
	if plan.Title == "" {
		plan.Title = query
	}
	return plan, nil
}

func parsePlannerResponse(content string) (*plannerWire, error) {
	text := strings.TrimSpace(content)
	if text == "" {
		return nil, fmt.Errorf("empty planner content")
	}

	var wire plannerWire
	if err := json.Unmarshal([]byte(text), &wire); err == nil && len(wire.Steps) > 0 {
		return &wire, nil
	}

	// Recover JSON if the model added wrapper text.
	if obj := extractJSONObject(text); obj != "" {
		if err := json.Unmarshal([]byte(obj), &wire); err == nil && len(wire.Steps) > 0 {
			return &wire, nil
		}
	}
	return nil, fmt.Errorf("unable to parse plan")
}

func extractJSONObject(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < 0 || end <= start {
		return ""
	}
	return strings.TrimSpace(text[start : end+1])
}

// logPlanDiff records what changed between revisions so replans stay
// explainable after the fact.
func (p *Planner) logPlanDiff(prior, revised *Plan) {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(planOutline(prior), planOutline(revised), false)
	dmp.DiffCleanupSemantic(diffs)
	changes := 0
	for _, d := range diffs {
		if d.Type != diffmatchpatch.DiffEqual {
			changes++
		}
	}
	p.logger.Info("plan revised (rev %d -> %d, %d changed segments):\n%s",
		prior.Revision, revised.Revision, changes, dmp.DiffPrettyText(diffs))
}

func planOutline(plan *Plan) string {
	b := &strings.Builder{}
	for _, step := range plan.Steps {
		fmt.Fprintf(b, "[%s] %s\n", step.Type, step.Title)
	}
	return b.String()
}
