package domain

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phancao/Project-Management-Agent-sub011/internal/agent/ports"
	"github.com/phancao/Project-Management-Agent-sub011/internal/agent/ports/mocks"
)

const planJSON = `{
	"title": "Sprint health check",
	"rationale": "Need current sprint data before judging velocity.",
	"steps": [
		{"type": "data-query", "title": "Fetch sprint tasks", "instruction": "List tasks in the active sprint.", "allowed_tools": ["list_tasks"]},
		{"type": "processing", "title": "Compute completion rate", "instruction": "Derive done/total from the fetched tasks."}
	]
}`

func plannerWith(content string) (*Planner, *mocks.MockLLMClient) {
	llm := &mocks.MockLLMClient{
		CompleteFunc: func(ctx context.Context, req ports.CompletionRequest) (*ports.CompletionResponse, error) {
			return &ports.CompletionResponse{Content: content}, nil
		},
	}
	return NewPlanner(llm, nil, nil), llm
}

func TestPlanParsesTypedSteps(t *testing.T) {
	p, _ := plannerWith(planJSON)

	plan, err := p.Plan(context.Background(), "how healthy is the sprint", nil)
	require.NoError(t, err)
	require.Len(t, plan.Steps, 2)
	assert.Equal(t, "Sprint health check", plan.Title)
	assert.Equal(t, StepDataQuery, plan.Steps[0].Type)
	assert.Equal(t, []string{"list_tasks"}, plan.Steps[0].AllowedTools)
	assert.Equal(t, StepProcessing, plan.Steps[1].Type)
	assert.Equal(t, StatusPending, plan.Steps[0].Status)
	assert.Equal(t, 0, plan.Revision)
}

func TestPlanRecoversJSONFromWrapperText(t *testing.T) {
	p, _ := plannerWith("Here is the plan you asked for:\n" + planJSON + "\nLet me know!")

	plan, err := p.Plan(context.Background(), "how healthy is the sprint", nil)
	require.NoError(t, err)
	assert.Len(t, plan.Steps, 2)
}

func TestPlanRejectsUnusableResponse(t *testing.T) {
	p, _ := plannerWith("I cannot plan this.")

	_, err := p.Plan(context.Background(), "anything", nil)
	assert.Error(t, err)
}

func TestPlanSkipsStepsWithUnknownType(t *testing.T) {
	p, _ := plannerWith(`{"title":"x","rationale":"r","steps":[
		{"type":"telepathy","title":"Guess","instruction":"guess"},
		{"type":"data-query","title":"Fetch","instruction":"fetch"}]}`)

	plan, err := p.Plan(context.Background(), "q", nil)
	require.NoError(t, err)
	require.Len(t, plan.Steps, 1)
	assert.Equal(t, "Fetch", plan.Steps[0].Title)
}

func TestReviseProducesNewPlanCarryingRationale(t *testing.T) {
	p, _ := plannerWith(planJSON)

	prior := &Plan{
		Title:     "First attempt",
		Rationale: "Assumed one sprint.",
		Steps:     []*Step{{Type: StepDataQuery, Title: "Old step", Instruction: "x", Status: StatusFailed}},
	}
	revised, err := p.Revise(context.Background(), "q", nil, prior, "two sprints are active")
	require.NoError(t, err)

	assert.NotSame(t, prior, revised)
	assert.Equal(t, 1, revised.Revision)
	assert.Contains(t, revised.Rationale, "Assumed one sprint.")
	assert.Contains(t, revised.Rationale, "[revised]")
	// Prior plan is untouched.
	assert.Equal(t, "First attempt", prior.Title)
	assert.Len(t, prior.Steps, 1)
}

func TestReviseSendsPriorOutcomeAndFeedback(t *testing.T) {
	p, llm := plannerWith(planJSON)

	prior := &Plan{
		Title: "First attempt",
		Steps: []*Step{{Type: StepDataQuery, Title: "Old step", Instruction: "x", Status: StatusFailed}},
	}
	_, err := p.Revise(context.Background(), "q", nil, prior, "missing workload data")
	require.NoError(t, err)

	calls := llm.Calls()
	require.Len(t, calls, 1)
	prompt := calls[0].Messages[1].Content
	assert.Contains(t, prompt, "First attempt")
	assert.Contains(t, prompt, "failed")
	assert.Contains(t, prompt, "missing workload data")
}

func TestPlanSurfacesLLMFailure(t *testing.T) {
	llm := &mocks.MockLLMClient{
		CompleteFunc: func(ctx context.Context, req ports.CompletionRequest) (*ports.CompletionResponse, error) {
			return nil, fmt.Errorf("rate limited")
		},
	}
	p := NewPlanner(llm, nil, nil)

	_, err := p.Plan(context.Background(), "q", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limited")
}
