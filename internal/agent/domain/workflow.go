package domain

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/phancao/Project-Management-Agent-sub011/internal/agent/ports"
	"github.com/phancao/Project-Management-Agent-sub011/internal/stream"
)

const genericSystemPrompt = "" +
	"You are a helpful assistant. Answer the user's message directly and " +
	"briefly. You have no tools."

// answerChunkSize bounds how much text a single streamed chunk carries.
const answerChunkSize = 512

// Workflow is the orchestration state machine: classifier routes the query,
// the direct path or the planner/executor/validator loop produces step
// results, and the reporter renders the answer. Progress is visible only
// through published events.
type Workflow struct {
	classifier *IntentClassifier
	planner    *Planner
	executor   *StepExecutor
	validator  *Validator
	reporter   *Reporter
	llm        ports.LLMClient
	tools      ports.ToolRegistry
	metrics    *Metrics
	tracer     trace.Tracer
	logger     ports.Logger
	clock      ports.Clock
}

// WorkflowConfig wires the orchestrator's collaborators.
type WorkflowConfig struct {
	Classifier *IntentClassifier
	Planner    *Planner
	Executor   *StepExecutor
	Validator  *Validator
	Reporter   *Reporter
	LLM        ports.LLMClient
	Tools      ports.ToolRegistry
	Metrics    *Metrics
	Tracer     trace.Tracer
	Logger     ports.Logger
	Clock      ports.Clock
}

// NewWorkflow builds the orchestrator.
func NewWorkflow(cfg WorkflowConfig) *Workflow {
	logger := cfg.Logger
	if logger == nil {
		logger = ports.NoopLogger{}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = ports.SystemClock{}
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("workflow")
	}
	return &Workflow{
		classifier: cfg.Classifier,
		planner:    cfg.Planner,
		executor:   cfg.Executor,
		validator:  cfg.Validator,
		reporter:   cfg.Reporter,
		llm:        cfg.LLM,
		tools:      cfg.Tools,
		metrics:    cfg.Metrics,
		tracer:     tracer,
		logger:     logger,
		clock:      clock,
	}
}

// Run executes one query end to end, publishing progress to publisher.
// Cancellation is normal termination: the result carries stop reason
// "cancelled" and no error.
func (w *Workflow) Run(ctx context.Context, threadID, query string, publisher EventPublisher) (*RunResult, error) {
	if publisher == nil {
		publisher = NopPublisher()
	}
	ctx, span := w.tracer.Start(ctx, "workflow.run",
		trace.WithAttributes(attribute.String("thread.id", threadID)))
	defer span.End()

	start := w.clock.Now()
	result := &RunResult{
		ThreadID:  threadID,
		MessageID: uuid.NewString(),
	}
	transcript := &Transcript{MessageID: result.MessageID}

	defer func() {
		elapsed := w.clock.Now().Sub(start)
		w.metrics.ObserveRun(result.StopReason, elapsed)
		w.metrics.AddTokens(transcript.Tokens)
		result.TokensUsed = transcript.Tokens
		span.SetAttributes(
			attribute.String("workflow.stop_reason", result.StopReason),
			attribute.Int("workflow.tokens", transcript.Tokens),
		)
		w.logger.Info("run %s finished in %s (%s, ~%d tokens)",
			result.MessageID, elapsed, result.StopReason, transcript.Tokens)
	}()

	if w.classifier == nil || !w.classifier.Matches(ctx, query) {
		return w.runGeneric(ctx, query, result, transcript, publisher)
	}

	plan, forced, err := w.runManaged(ctx, query, result, transcript, publisher)
	if err != nil {
		if ctx.Err() != nil {
			result.StopReason = "cancelled"
			return result, nil
		}
		result.StopReason = "error"
		return result, err
	}
	if result.StopReason == "cancelled" {
		return result, nil
	}

	answer := w.reporter.Report(ctx, ReportInput{
		Query:      query,
		Plan:       plan,
		Transcript: transcript,
		Forced:     forced,
	})
	result.Plan = plan
	result.Answer = answer
	if forced {
		result.StopReason = "plan_budget_exhausted"
	} else {
		result.StopReason = "final_answer"
	}
	w.streamAnswer(publisher, threadID, result.MessageID, answer)
	return result, nil
}

// runGeneric answers a query the classifier routed away from the
// project-management workflow: one plain LLM turn, no tools.
func (w *Workflow) runGeneric(ctx context.Context, query string, result *RunResult, transcript *Transcript, publisher EventPublisher) (*RunResult, error) {
	result.Direct = true
	if w.llm == nil {
		return result, fmt.Errorf("no llm client for generic handling")
	}

	resp, err := w.llm.Complete(ctx, ports.CompletionRequest{
		Messages: []ports.Message{
			{Role: "system", Content: genericSystemPrompt},
			{Role: "user", Content: query},
		},
		Temperature: 0.7,
		MaxTokens:   900,
		Metadata:    map[string]any{"intent": "generic"},
	})
	if err != nil {
		if ctx.Err() != nil {
			result.StopReason = "cancelled"
			return result, nil
		}
		result.StopReason = "error"
		return result, fmt.Errorf("generic completion failed: %w", err)
	}
	transcript.Tokens += w.executorEstimate(query) + w.executorEstimate(resp.Content)

	result.Answer = strings.TrimSpace(resp.Content)
	result.StopReason = "final_answer"
	w.streamAnswer(publisher, result.ThreadID, result.MessageID, result.Answer)
	return result, nil
}

// runManaged runs the direct path first and escalates into the planner loop
// only when the validator says the direct answer falls short.
func (w *Workflow) runManaged(ctx context.Context, query string, result *RunResult, transcript *Transcript, publisher EventPublisher) (*Plan, bool, error) {
	directPlan := &Plan{
		Title: "Direct answer",
		Steps: []*Step{{
			Type:        StepDataQuery,
			Title:       "Answer directly",
			Instruction: query,
			Status:      StatusPending,
		}},
	}

	if err := w.executor.ExecuteStep(ctx, result.ThreadID, query, directPlan, 0, transcript, publisher); err != nil {
		w.logger.Warn("direct execution failed, escalating to planner: %v", err)
	}
	directStep := directPlan.Steps[0]
	w.metrics.ObserveStep(directStep.Type, directStep.Status)

	escalate, feedback := w.validator.EscalateDirect(ctx, query, directStep.Result)
	if !escalate {
		result.Direct = true
		return directPlan, false, nil
	}
	w.logger.Info("escalating to planner path: %s", feedback)

	return w.runPlanned(ctx, query, feedback, result, transcript, publisher)
}

// runPlanned is the planner -> executor <-> validator loop. The returned
// bool reports a finalize forced by the plan-iteration ceiling.
func (w *Workflow) runPlanned(ctx context.Context, query, feedback string, result *RunResult, transcript *Transcript, publisher EventPublisher) (*Plan, bool, error) {
	ctx, span := w.tracer.Start(ctx, "workflow.planned")
	defer span.End()

	toolDefs := w.tools.List()
	plan, err := w.planner.Plan(ctx, query, toolDefs)
	if err != nil {
		return nil, false, fmt.Errorf("planning failed: %w", err)
	}
	if feedback != "" {
		plan.Rationale = strings.TrimSpace(plan.Rationale + "\n[escalated] " + feedback)
	}
	planIteration := 1

	stepIndex := 0
	for stepIndex < len(plan.Steps) {
		if ctx.Err() != nil {
			result.StopReason = "cancelled"
			return plan, false, nil
		}

		if err := w.executor.ExecuteStep(ctx, result.ThreadID, query, plan, stepIndex, transcript, publisher); err != nil {
			if ctx.Err() != nil {
				result.StopReason = "cancelled"
				return plan, false, nil
			}
			w.logger.Warn("step %d errored: %v", stepIndex, err)
		}
		step := plan.Steps[stepIndex]
		w.metrics.ObserveStep(step.Type, step.Status)

		verdict := w.validator.Evaluate(ctx, query, plan, stepIndex, planIteration)
		w.logger.Debug("validator verdict after step %d: %s (%s)", stepIndex, verdict.Decision, verdict.Feedback)

		switch verdict.Decision {
		case DecisionAdvance:
			stepIndex++
		case DecisionReplan:
			revised, err := w.planner.Revise(ctx, query, toolDefs, plan, verdict.Feedback)
			if err != nil {
				w.logger.Warn("replanning failed, finalizing with partial results: %v", err)
				return plan, true, nil
			}
			w.metrics.IncPlanRevision()
			plan = revised
			planIteration++
			stepIndex = 0
		case DecisionFinalize:
			return plan, verdict.Forced, nil
		}
	}
	return plan, false, nil
}

// streamAnswer publishes the answer as ordered message chunks followed by
// the finish chunk that closes the message.
func (w *Workflow) streamAnswer(publisher EventPublisher, threadID, messageID, answer string) {
	runes := []rune(answer)
	for offset := 0; offset < len(runes); offset += answerChunkSize {
		end := offset + answerChunkSize
		if end > len(runes) {
			end = len(runes)
		}
		publisher.Publish(stream.Event{
			ThreadID: threadID,
			Kind:     stream.KindMessageChunk,
			MessageChunk: &stream.MessageChunk{
				MessageID: messageID,
				Role:      "assistant",
				Content:   string(runes[offset:end]),
			},
		})
	}
	publisher.Publish(stream.Event{
		ThreadID: threadID,
		Kind:     stream.KindMessageChunk,
		MessageChunk: &stream.MessageChunk{
			MessageID: messageID,
			Role:      "assistant",
			Finish:    true,
		},
	})
}

func (w *Workflow) executorEstimate(text string) int {
	if w.executor == nil || w.executor.estimator == nil {
		return 0
	}
	return w.executor.estimator.Estimate(text)
}
