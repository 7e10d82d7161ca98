package domain

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/phancao/Project-Management-Agent-sub011/internal/agent/ports"
)

const reporterSystemPrompt = "" +
	"You write the final answer for a project-management question from step " +
	"results gathered by tools.\n" +
	"Rules:\n" +
	"- Use ONLY facts present in the provided results. Never invent numbers, " +
	"names or dates.\n" +
	"- If a result is missing or failed, say so plainly.\n" +
	"- Answer in a few short paragraphs. No preamble."

// Reporter assembles the final answer from step results. The data and
// metrics sections are built deterministically from recorded results; only
// the prose summary may come from the LLM, grounded on those results.
type Reporter struct {
	llm    ports.LLMClient
	logger ports.Logger
	clock  ports.Clock
}

// NewReporter constructs a reporter. A nil LLM yields fully deterministic
// output.
func NewReporter(llm ports.LLMClient, logger ports.Logger, clock ports.Clock) *Reporter {
	if logger == nil {
		logger = ports.NoopLogger{}
	}
	if clock == nil {
		clock = ports.SystemClock{}
	}
	return &Reporter{llm: llm, logger: logger, clock: clock}
}

// ReportInput is everything the reporter may draw on. Nothing outside it
// appears in the answer.
type ReportInput struct {
	Query      string
	Plan       *Plan
	Transcript *Transcript
	// Forced marks a finalize imposed by the plan-iteration ceiling; the
	// answer is annotated as best-effort.
	Forced bool
}

// Report renders the structured answer. It never returns an empty string
// for a run that executed: absent results become explicit statements.
func (r *Reporter) Report(ctx context.Context, in ReportInput) string {
	out := &strings.Builder{}

	out.WriteString("## Summary\n\n")
	out.WriteString(r.summary(ctx, in))
	out.WriteString("\n")

	if dataSection := r.renderData(in.Plan); dataSection != "" {
		out.WriteString("\n## Data\n\n")
		out.WriteString(dataSection)
	}

	out.WriteString("\n## Key Metrics\n\n")
	out.WriteString(r.renderMetrics(in))

	return out.String()
}

// summary asks the LLM for grounded prose and falls back to stitching the
// recorded step summaries together.
func (r *Reporter) summary(ctx context.Context, in ReportInput) string {
	fallback := r.deterministicSummary(in)
	if r.llm == nil || in.Plan == nil {
		return fallback
	}

	user := &strings.Builder{}
	fmt.Fprintf(user, "Question: %s\n\nStep results:\n", in.Query)
	for i, step := range in.Plan.Steps {
		if step.Result == nil {
			fmt.Fprintf(user, "- step %d (%s): no result (not executed)\n", i, step.Title)
			continue
		}
		if step.Result.Err != nil {
			fmt.Fprintf(user, "- step %d (%s): FAILED: %v\n", i, step.Title, step.Result.Err)
			continue
		}
		fmt.Fprintf(user, "- step %d (%s): %s\n", i, step.Title, truncate(step.Result.Summary, 1200))
	}
	if in.Forced {
		user.WriteString("\nThe run stopped early; results are partial. Say so.\n")
	}

	resp, err := r.llm.Complete(ctx, ports.CompletionRequest{
		Messages: []ports.Message{
			{Role: "system", Content: reporterSystemPrompt},
			{Role: "user", Content: user.String()},
		},
		Temperature: 0.3,
		MaxTokens:   900,
		Metadata: map[string]any{
			"intent": "report_synthesis",
			"ts":     r.clock.Now().Format(time.RFC3339Nano),
		},
	})
	if err != nil {
		r.logger.Warn("report synthesis failed, using deterministic summary: %v", err)
		return fallback
	}
	text := strings.TrimSpace(resp.Content)
	if text == "" {
		return fallback
	}
	return text
}

func (r *Reporter) deterministicSummary(in ReportInput) string {
	if in.Plan == nil || len(in.Plan.Steps) == 0 {
		return "No steps were executed for this question."
	}
	b := &strings.Builder{}
	if in.Forced {
		b.WriteString("Best-effort answer: the run stopped before every step completed.\n\n")
	}
	for _, step := range in.Plan.Steps {
		switch {
		case step.Result == nil:
			fmt.Fprintf(b, "- %s: not executed.\n", step.Title)
		case step.Result.Err != nil:
			fmt.Fprintf(b, "- %s: failed (%v).\n", step.Title, step.Result.Err)
		case step.Result.Summary == "":
			fmt.Fprintf(b, "- %s: completed without a summary.\n", step.Title)
		default:
			fmt.Fprintf(b, "- %s: %s\n", step.Title, step.Result.Summary)
		}
	}
	return b.String()
}

// renderData emits markdown tables for structured step data and tool
// payloads. Rows come verbatim from recorded results.
func (r *Reporter) renderData(plan *Plan) string {
	if plan == nil {
		return ""
	}
	b := &strings.Builder{}
	for _, step := range plan.Steps {
		if step.Result == nil {
			continue
		}
		for _, key := range sortedKeys(step.Result.Data) {
			if table := renderTable(step.Result.Data[key]); table != "" {
				fmt.Fprintf(b, "**%s - %s**\n\n%s\n", step.Title, key, table)
			}
		}
		for _, res := range step.Result.Results {
			if res.Error != nil {
				fmt.Fprintf(b, "**%s**: tool call %s returned %s: %v\n\n",
					step.Title, res.CallID, ports.ToolErrorCodeOf(res.Error), res.Error)
				continue
			}
			for _, key := range sortedKeys(res.Data) {
				if table := renderTable(res.Data[key]); table != "" {
					fmt.Fprintf(b, "**%s - %s**\n\n%s\n", step.Title, key, table)
				}
			}
		}
	}
	return b.String()
}

func (r *Reporter) renderMetrics(in ReportInput) string {
	var done, failed, pending, toolCalls, toolErrors int
	if in.Plan != nil {
		for _, step := range in.Plan.Steps {
			switch step.Status {
			case StatusDone:
				done++
			case StatusFailed:
				failed++
			default:
				pending++
			}
		}
	}
	if in.Transcript != nil {
		toolCalls = len(in.Transcript.Calls)
		for _, res := range in.Transcript.Results {
			if res.Error != nil {
				toolErrors++
			}
		}
	}

	b := &strings.Builder{}
	fmt.Fprintf(b, "- Steps: %d done, %d failed, %d not executed\n", done, failed, pending)
	fmt.Fprintf(b, "- Tool calls: %d issued, %d errored\n", toolCalls, toolErrors)
	if in.Plan != nil && in.Plan.Revision > 0 {
		fmt.Fprintf(b, "- Plan revisions: %d\n", in.Plan.Revision)
	}
	if in.Transcript != nil && in.Transcript.Tokens > 0 {
		fmt.Fprintf(b, "- Estimated tokens: %d\n", in.Transcript.Tokens)
	}
	if in.Forced {
		b.WriteString("- Completeness: partial (iteration budget reached)\n")
	}
	return b.String()
}

// renderTable turns a slice of homogeneous row maps into a markdown table.
// Anything else renders as nothing; scalar data stays in the summary.
func renderTable(value any) string {
	rows, ok := value.([]map[string]any)
	if !ok {
		generic, ok := value.([]any)
		if !ok {
			return ""
		}
		for _, item := range generic {
			row, ok := item.(map[string]any)
			if !ok {
				return ""
			}
			rows = append(rows, row)
		}
	}
	if len(rows) == 0 {
		return ""
	}

	columns := sortedKeys(rows[0])
	if len(columns) == 0 {
		return ""
	}

	b := &strings.Builder{}
	b.WriteString("| " + strings.Join(columns, " | ") + " |\n")
	b.WriteString("|" + strings.Repeat("---|", len(columns)) + "\n")
	for _, row := range rows {
		cells := make([]string, 0, len(columns))
		for _, col := range columns {
			cells = append(cells, fmt.Sprintf("%v", row[col]))
		}
		b.WriteString("| " + strings.Join(cells, " | ") + " |\n")
	}
	return b.String()
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
