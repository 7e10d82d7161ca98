package domain

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/phancao/Project-Management-Agent-sub011/internal/agent/ports"
	"github.com/phancao/Project-Management-Agent-sub011/internal/stream"
)

const executorSystemPrompt = "" +
	"You execute ONE step of a project-management plan. Output ONLY valid JSON with the shape:\n" +
	"{\"thought\":\"...\",\"tool_calls\":[{\"name\":\"...\",\"args\":{}}],\"done\":false,\"summary\":\"...\",\"data\":{}}\n" +
	"Rules:\n" +
	"- Use only the tools listed for this step. A step may finish without tool calls.\n" +
	"- Set done=true with a summary (and optional structured data) when the step's goal is met.\n" +
	"- JSON only. No markdown. No commentary.\n"

// Transcript is the producer-side record of the in-progress message.
// Every tool call issued and every result received is appended and never
// discarded, even on later failure, for provenance.
type Transcript struct {
	MessageID string
	Calls     []ports.ToolCall
	Results   []ports.ToolResult
	Tokens    int
}

// StepExecutor runs the bounded reason-then-act loop for one step.
type StepExecutor struct {
	llm           ports.LLMClient
	tools         ports.ToolRegistry
	maxIterations int
	toolTimeout   time.Duration
	estimator     *TokenEstimator
	logger        ports.Logger
	clock         ports.Clock

	handlers map[StepType]stepHandler
}

type stepHandler func(ctx context.Context, req stepRequest) (*StepResult, error)

type stepRequest struct {
	query      string
	plan       *Plan
	stepIndex  int
	transcript *Transcript
	publisher  EventPublisher
	threadID   string
}

// StepExecutorConfig captures the executor's dependencies.
type StepExecutorConfig struct {
	LLM           ports.LLMClient
	Tools         ports.ToolRegistry
	MaxIterations int
	ToolTimeout   time.Duration
	Logger        ports.Logger
	Clock         ports.Clock
}

// NewStepExecutor builds an executor with an explicit per-type handler table.
func NewStepExecutor(cfg StepExecutorConfig) *StepExecutor {
	logger := cfg.Logger
	if logger == nil {
		logger = ports.NoopLogger{}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = ports.SystemClock{}
	}
	maxIter := cfg.MaxIterations
	if maxIter <= 0 {
		maxIter = 4
	}
	toolTimeout := cfg.ToolTimeout
	if toolTimeout <= 0 {
		toolTimeout = 30 * time.Second
	}
	e := &StepExecutor{
		llm:           cfg.LLM,
		tools:         cfg.Tools,
		maxIterations: maxIter,
		toolTimeout:   toolTimeout,
		estimator:     NewTokenEstimator(),
		logger:        logger,
		clock:         clock,
	}
	e.handlers = map[StepType]stepHandler{
		StepDataQuery:  e.runReasonActLoop,
		StepProcessing: e.runReasonActLoop,
		StepResearch:   e.runReasonActLoop,
	}
	return e
}

// ExecuteStep drives one step through its lifecycle and publishes progress.
// A cap overrun marks the step failed; the workflow continues rather than
// hanging.
func (e *StepExecutor) ExecuteStep(ctx context.Context, threadID, query string, plan *Plan, stepIndex int, transcript *Transcript, publisher EventPublisher) error {
	step := plan.Steps[stepIndex]
	if err := step.markRunning(); err != nil {
		return err
	}
	e.publishProgress(publisher, threadID, stepIndex, step)

	handler, ok := e.handlers[step.Type]
	if !ok {
		result := &StepResult{Err: fmt.Errorf("no handler for step type %s", step.Type)}
		step.finish(result)
		e.publishProgress(publisher, threadID, stepIndex, step)
		return result.Err
	}

	result, err := handler(ctx, stepRequest{
		query:      query,
		plan:       plan,
		stepIndex:  stepIndex,
		transcript: transcript,
		publisher:  publisher,
		threadID:   threadID,
	})
	if err != nil {
		result = &StepResult{Err: err}
	}
	step.finish(result)
	e.publishProgress(publisher, threadID, stepIndex, step)
	return nil
}

type execWire struct {
	Thought   string `json:"thought"`
	ToolCalls []struct {
		Name string         `json:"name"`
		Args map[string]any `json:"args"`
	} `json:"tool_calls"`
	Done    bool           `json:"done"`
	Summary string         `json:"summary"`
	Data    map[string]any `json:"data"`
}

// runReasonActLoop is the shared reason-act cycle. The step's type and
// structured tool gates decide which tools each turn may dispatch;
// processing steps dispatch none.
func (e *StepExecutor) runReasonActLoop(ctx context.Context, req stepRequest) (*StepResult, error) {
	step := req.plan.Steps[req.stepIndex]
	allowed := e.allowedTools(step)

	result := &StepResult{Data: map[string]any{}}
	var turnResults []ports.ToolResult

	for iteration := 0; iteration < e.maxIterations; iteration++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		wire, err := e.think(ctx, req, allowed, turnResults)
		if err != nil {
			return nil, fmt.Errorf("step %q think failed: %w", step.Title, err)
		}

		if thought := strings.TrimSpace(wire.Thought); thought != "" {
			req.publisher.Publish(stream.Event{
				ThreadID: req.threadID,
				Kind:     stream.KindThoughts,
				Thoughts: []stream.Thought{{StepIndex: req.stepIndex, Text: thought}},
			})
		}

		if wire.Done || len(wire.ToolCalls) == 0 {
			result.Summary = strings.TrimSpace(wire.Summary)
			if result.Summary == "" {
				result.Summary = strings.TrimSpace(wire.Thought)
			}
			if result.Summary == "" {
				return nil, fmt.Errorf("step %q completed without a summary", step.Title)
			}
			for k, v := range wire.Data {
				result.Data[k] = v
			}
			return result, nil
		}

		calls := make([]ports.ToolCall, 0, len(wire.ToolCalls))
		for _, wc := range wire.ToolCalls {
			calls = append(calls, ports.ToolCall{
				ID:        uuid.NewString(),
				Name:      wc.Name,
				Arguments: wc.Args,
			})
		}

		turnResults = e.dispatchTools(ctx, req, step, calls)
		result.ToolCalls = append(result.ToolCalls, calls...)
		result.Results = append(result.Results, turnResults...)

		succeeded := 0
		for _, r := range turnResults {
			if r.Error == nil {
				succeeded++
			}
		}
		req.publisher.Publish(stream.Event{
			ThreadID: req.threadID,
			Kind:     stream.KindThoughts,
			Thoughts: []stream.Thought{{
				StepIndex: req.stepIndex,
				Text:      fmt.Sprintf("Observed %d/%d tool results for %s.", succeeded, len(turnResults), step.Title),
				AfterTool: true,
			}},
		})
	}

	return nil, fmt.Errorf("step %q exceeded iteration cap (%d)", step.Title, e.maxIterations)
}

// think asks the LLM what to do next for this step and parses the strict
// JSON contract.
func (e *StepExecutor) think(ctx context.Context, req stepRequest, allowed []ports.ToolDefinition, lastResults []ports.ToolResult) (*execWire, error) {
	step := req.plan.Steps[req.stepIndex]

	user := &strings.Builder{}
	fmt.Fprintf(user, "Overall query: %s\n", req.query)
	fmt.Fprintf(user, "Plan: %s\n", req.plan.Title)
	fmt.Fprintf(user, "Current step (%d, %s): %s\nInstruction: %s\n", req.stepIndex, step.Type, step.Title, step.Instruction)

	if len(allowed) > 0 {
		user.WriteString("Tools for this step:\n")
		for _, def := range allowed {
			fmt.Fprintf(user, "- %s: %s\n", def.Name, def.Description)
		}
	} else {
		user.WriteString("No tools are available for this step; compute over data already gathered.\n")
	}

	for i, prior := range req.plan.Steps[:req.stepIndex] {
		if prior.Result != nil && prior.Result.Summary != "" {
			fmt.Fprintf(user, "Result of step %d (%s): %s\n", i, prior.Title, prior.Result.Summary)
		}
	}
	for _, r := range lastResults {
		if r.Error != nil {
			fmt.Fprintf(user, "Tool result %s: ERROR %v\n", r.CallID, r.Error)
			continue
		}
		fmt.Fprintf(user, "Tool result %s: %s\n", r.CallID, truncate(r.Content, 2000))
	}

	prompt := user.String()
	req.transcript.Tokens += e.estimator.Estimate(prompt)

	resp, err := e.llm.Complete(ctx, ports.CompletionRequest{
		Messages: []ports.Message{
			{Role: "system", Content: executorSystemPrompt},
			{Role: "user", Content: prompt},
		},
		Temperature: 0.2,
		MaxTokens:   1200,
		Metadata: map[string]any{
			"intent": "step_execution",
			"ts":     e.clock.Now().Format(time.RFC3339Nano),
		},
	})
	if err != nil {
		return nil, err
	}
	req.transcript.Tokens += e.estimator.Estimate(resp.Content)

	var wire execWire
	text := strings.TrimSpace(resp.Content)
	if err := json.Unmarshal([]byte(text), &wire); err != nil {
		if obj := extractJSONObject(text); obj != "" {
			if err := json.Unmarshal([]byte(obj), &wire); err == nil {
				return &wire, nil
			}
		}
		// Unparsable responses degrade to a bare thought turn.
		return &execWire{Thought: text, Done: true, Summary: text}, nil
	}
	return &wire, nil
}

// dispatchTools runs one turn's calls, concurrently unless the step is
// sequential, and always awaits the full set before returning. Calls and
// results are appended to the transcript for provenance and published.
func (e *StepExecutor) dispatchTools(ctx context.Context, req stepRequest, step *Step, calls []ports.ToolCall) []ports.ToolResult {
	deltas := make([]stream.ToolCallDelta, 0, len(calls))
	for _, call := range calls {
		deltas = append(deltas, stream.ToolCallDelta{ID: call.ID, Name: call.Name, Args: call.Arguments})
	}
	req.publisher.Publish(stream.Event{ThreadID: req.threadID, Kind: stream.KindToolCalls, ToolCalls: deltas})

	req.transcript.Calls = append(req.transcript.Calls, calls...)

	results := make([]ports.ToolResult, len(calls))
	g, groupCtx := errgroup.WithContext(ctx)
	if step.Sequential {
		g.SetLimit(1)
	}
	for i, call := range calls {
		g.Go(func() error {
			results[i] = e.invokeTool(groupCtx, step, call)
			return nil
		})
	}
	// Tool failures are recorded per call, never group-fatal.
	_ = g.Wait()

	for i := range results {
		req.transcript.Results = append(req.transcript.Results, results[i])
		req.publisher.Publish(stream.Event{
			ThreadID:       req.threadID,
			Kind:           stream.KindToolCallResult,
			ToolCallResult: toWireResult(results[i], calls[i].Name),
		})
	}
	return results
}

// invokeTool gates, resolves and executes a single call with an explicit
// timeout. Every failure path returns a typed error result.
func (e *StepExecutor) invokeTool(ctx context.Context, step *Step, call ports.ToolCall) ports.ToolResult {
	tool, err := e.tools.Get(call.Name)
	if err != nil {
		return ports.ToolResult{CallID: call.ID, Error: err}
	}
	if !step.toolAllowed(tool.Definition()) {
		err := ports.NewToolError(ports.ToolErrPermissionDenied, call.Name,
			fmt.Sprintf("tool not permitted for %s step %q", step.Type, step.Title), nil)
		return ports.ToolResult{CallID: call.ID, Error: err}
	}

	callCtx, cancel := context.WithTimeout(ctx, e.toolTimeout)
	defer cancel()

	start := e.clock.Now()
	result, err := tool.Execute(callCtx, call)
	elapsed := e.clock.Now().Sub(start)

	if err != nil {
		if callCtx.Err() == context.DeadlineExceeded {
			err = ports.NewToolError(ports.ToolErrTimeout, call.Name,
				fmt.Sprintf("timed out after %s", e.toolTimeout), err)
		}
		e.logger.Warn("tool %s failed after %s: %v", call.Name, elapsed, err)
		return ports.ToolResult{CallID: call.ID, Error: err}
	}
	if result.CallID == "" {
		result.CallID = call.ID
	}
	e.logger.Debug("tool %s completed in %s (%d bytes)", call.Name, elapsed, len(result.Content))
	return result
}

func (e *StepExecutor) allowedTools(step *Step) []ports.ToolDefinition {
	if step.Type == StepProcessing {
		return nil
	}
	var out []ports.ToolDefinition
	for _, def := range e.tools.List() {
		if step.toolAllowed(def) {
			out = append(out, def)
		}
	}
	return out
}

func (e *StepExecutor) publishProgress(publisher EventPublisher, threadID string, stepIndex int, step *Step) {
	publisher.Publish(stream.Event{
		ThreadID: threadID,
		Kind:     stream.KindStepProgress,
		StepProgress: &stream.StepProgress{
			StepIndex: stepIndex,
			Title:     step.Title,
			Status:    stepWireStatus(step.Status),
		},
	})
}

func toWireResult(result ports.ToolResult, name string) *stream.ToolCallResult {
	wire := &stream.ToolCallResult{
		CallID:  result.CallID,
		Name:    name,
		Content: result.Content,
		Data:    result.Data,
	}
	if result.Error != nil {
		wire.ErrorCode = string(ports.ToolErrorCodeOf(result.Error))
	}
	return wire
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
