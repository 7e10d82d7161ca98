package domain

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phancao/Project-Management-Agent-sub011/internal/agent/ports"
	"github.com/phancao/Project-Management-Agent-sub011/internal/agent/ports/mocks"
	"github.com/phancao/Project-Management-Agent-sub011/internal/stream"
)

// routingLLM answers by which system prompt is asking, so one mock can
// serve escalation checks and step reflection at once.
func routingLLM(routes map[string]string, fallback string) *mocks.MockLLMClient {
	return &mocks.MockLLMClient{
		CompleteFunc: func(ctx context.Context, req ports.CompletionRequest) (*ports.CompletionResponse, error) {
			system := req.Messages[0].Content
			for needle, reply := range routes {
				if strings.Contains(system, needle) {
					return &ports.CompletionResponse{Content: reply}, nil
				}
			}
			return &ports.CompletionResponse{Content: fallback}, nil
		},
	}
}

func testWorkflow(t *testing.T, executorLLM, validatorLLM, plannerLLM, genericLLM ports.LLMClient, registry ports.ToolRegistry, maxPlanIterations int) *Workflow {
	t.Helper()
	if registry == nil {
		registry = &mocks.MockToolRegistry{}
	}
	classifier := NewIntentClassifier(IntentClassifierConfig{
		Keywords: []string{"sprint", "task"},
		LLM:      genericLLM,
	})
	return NewWorkflow(WorkflowConfig{
		Classifier: classifier,
		Planner:    NewPlanner(plannerLLM, nil, nil),
		Executor: NewStepExecutor(StepExecutorConfig{
			LLM:         executorLLM,
			Tools:       registry,
			ToolTimeout: time.Second,
		}),
		Validator: NewValidator(validatorLLM, maxPlanIterations, nil, nil),
		Reporter:  NewReporter(nil, nil, nil),
		LLM:       genericLLM,
		Tools:     registry,
	})
}

func TestDirectPathAnswersWithoutPlanning(t *testing.T) {
	registry := &mocks.MockToolRegistry{Tools: map[string]ports.Tool{
		"list_sprints": dataTool("list_sprints"),
	}}
	executorLLM := scriptedLLM(
		`{"thought":"one lookup is enough","tool_calls":[{"name":"list_sprints","args":{}}]}`,
		`{"done":true,"summary":"Sprint 14 is active with 9 tasks."}`,
	)
	validatorLLM := routingLLM(map[string]string{
		"direct tool-backed": `{"sufficient":true,"feedback":""}`,
	}, `{"decision":"finalize","feedback":""}`)
	plannerLLM := &mocks.MockLLMClient{}

	w := testWorkflow(t, executorLLM, validatorLLM, plannerLLM, &mocks.MockLLMClient{}, registry, 5)
	pub := &recordingPublisher{}

	result, err := w.Run(context.Background(), "t1", "which sprint is active", pub)
	require.NoError(t, err)
	assert.True(t, result.Direct)
	assert.Equal(t, "final_answer", result.StopReason)
	assert.Contains(t, result.Answer, "Sprint 14 is active with 9 tasks.")
	assert.Equal(t, 0, plannerLLM.CallCount(), "a sufficient direct answer must not plan")
}

func TestBothConcurrentToolResultsReachTheReport(t *testing.T) {
	taskTool := &mocks.MockTool{
		Def: ports.ToolDefinition{Name: "list_tasks", Category: ports.CategoryDataQuery},
		ExecuteFunc: func(ctx context.Context, call ports.ToolCall) (ports.ToolResult, error) {
			return ports.ToolResult{
				CallID:  call.ID,
				Content: "2 tasks",
				Data:    map[string]any{"tasks": []map[string]any{{"title": "Fix login"}, {"title": "Ship report"}}},
			}, nil
		},
	}
	sprintTool := &mocks.MockTool{
		Def: ports.ToolDefinition{Name: "list_sprints", Category: ports.CategoryDataQuery},
		ExecuteFunc: func(ctx context.Context, call ports.ToolCall) (ports.ToolResult, error) {
			return ports.ToolResult{
				CallID:  call.ID,
				Content: "1 sprint",
				Data:    map[string]any{"sprints": []map[string]any{{"name": "Sprint 14"}}},
			}, nil
		},
	}
	registry := &mocks.MockToolRegistry{Tools: map[string]ports.Tool{
		"list_tasks": taskTool, "list_sprints": sprintTool,
	}}
	executorLLM := scriptedLLM(
		`{"thought":"fetch both","tool_calls":[{"name":"list_tasks","args":{}},{"name":"list_sprints","args":{}}]}`,
		`{"done":true,"summary":"Sprint 14 carries 2 tasks."}`,
	)
	validatorLLM := routingLLM(map[string]string{
		"direct tool-backed": `{"sufficient":true,"feedback":""}`,
	}, `{"decision":"finalize","feedback":""}`)

	w := testWorkflow(t, executorLLM, validatorLLM, &mocks.MockLLMClient{}, &mocks.MockLLMClient{}, registry, 5)

	result, err := w.Run(context.Background(), "t1", "sprint workload please", &recordingPublisher{})
	require.NoError(t, err)
	assert.Contains(t, result.Answer, "Fix login")
	assert.Contains(t, result.Answer, "Ship report")
	assert.Contains(t, result.Answer, "Sprint 14")
}

func TestPlanBudgetExhaustionForcesFinalize(t *testing.T) {
	registry := &mocks.MockToolRegistry{Tools: map[string]ports.Tool{
		"list_tasks": dataTool("list_tasks"),
	}}
	executorLLM := scriptedLLM(`{"done":true,"summary":"partial look at tasks"}`)
	// The validator never accepts: escalate, then replan forever.
	validatorLLM := routingLLM(map[string]string{
		"direct tool-backed": `{"sufficient":false,"feedback":"needs a plan"}`,
	}, `{"decision":"replan","feedback":"still not enough"}`)
	plannerLLM := scriptedLLM(planJSON)

	w := testWorkflow(t, executorLLM, validatorLLM, plannerLLM, &mocks.MockLLMClient{}, registry, 2)

	result, err := w.Run(context.Background(), "t1", "deep sprint analysis", &recordingPublisher{})
	require.NoError(t, err, "budget exhaustion is a terminating outcome, not an error")
	assert.Equal(t, "plan_budget_exhausted", result.StopReason)
	require.NotNil(t, result.Plan)
	assert.Equal(t, 1, result.Plan.Revision, "exactly one replan before the ceiling")
	assert.Contains(t, result.Answer, "Best-effort")
	assert.NotEmpty(t, result.Answer)
}

func TestUnmatchedQueryGetsGenericAnswer(t *testing.T) {
	genericLLM := routingLLM(map[string]string{
		"project management": "NO",
		"helpful assistant":  "Paris is the capital of France.",
	}, "NO")

	w := testWorkflow(t, &mocks.MockLLMClient{}, &mocks.MockLLMClient{}, &mocks.MockLLMClient{}, genericLLM, nil, 5)
	pub := &recordingPublisher{}

	result, err := w.Run(context.Background(), "t1", "what is the capital of France", pub)
	require.NoError(t, err)
	assert.True(t, result.Direct)
	assert.Equal(t, "Paris is the capital of France.", result.Answer)

	chunks := pub.byKind(stream.KindMessageChunk)
	require.NotEmpty(t, chunks)
	last := chunks[len(chunks)-1]
	assert.True(t, last.MessageChunk.Finish, "the stream must end with a finish chunk")
	var content strings.Builder
	for _, c := range chunks {
		content.WriteString(c.MessageChunk.Content)
	}
	assert.Equal(t, result.Answer, content.String())
}

func TestCancelledRunTerminatesNormally(t *testing.T) {
	registry := &mocks.MockToolRegistry{Tools: map[string]ports.Tool{
		"list_tasks": dataTool("list_tasks"),
	}}
	validatorLLM := routingLLM(map[string]string{
		"direct tool-backed": `{"sufficient":false,"feedback":"plan it"}`,
	}, `{"decision":"advance","feedback":""}`)
	plannerLLM := scriptedLLM(planJSON)

	w := testWorkflow(t, scriptedLLM(`{"done":true,"summary":"ok"}`), validatorLLM, plannerLLM, &mocks.MockLLMClient{}, registry, 5)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := w.Run(ctx, "t1", "analyze sprint tasks", &recordingPublisher{})
	require.NoError(t, err, "cancellation is normal termination")
	assert.Equal(t, "cancelled", result.StopReason)
}

func TestStepProgressEventsTrackLifecycle(t *testing.T) {
	registry := &mocks.MockToolRegistry{Tools: map[string]ports.Tool{
		"list_sprints": dataTool("list_sprints"),
	}}
	executorLLM := scriptedLLM(`{"done":true,"summary":"one active sprint"}`)
	validatorLLM := routingLLM(map[string]string{
		"direct tool-backed": `{"sufficient":true,"feedback":""}`,
	}, `{"decision":"finalize","feedback":""}`)

	w := testWorkflow(t, executorLLM, validatorLLM, &mocks.MockLLMClient{}, &mocks.MockLLMClient{}, registry, 5)
	pub := &recordingPublisher{}

	_, err := w.Run(context.Background(), "t1", "sprint overview", pub)
	require.NoError(t, err)

	progress := pub.byKind(stream.KindStepProgress)
	require.Len(t, progress, 2)
	assert.Equal(t, stream.StepRunning, progress[0].StepProgress.Status)
	assert.Equal(t, stream.StepDone, progress[1].StepProgress.Status)
}
