package merge

import (
	"sort"
	"strings"

	"github.com/phancao/Project-Management-Agent-sub011/internal/logging"
	"github.com/phancao/Project-Management-Agent-sub011/internal/stream"
)

// ToolResultMarker is the literal token some producers use to embed a
// tool's result inside free thought text. Carried for compatibility with
// that upstream behavior.
const ToolResultMarker = "TOOL_RESULT:"

// Engine folds events into a Message one at a time. Not safe for
// concurrent use; each thread has exactly one engine on the consuming side.
type Engine struct {
	message *Message
	logger  logging.Logger
}

// NewEngine creates an engine owning the given message.
func NewEngine(message *Message, logger logging.Logger) *Engine {
	return &Engine{message: message, logger: logging.OrNop(logger)}
}

// Message returns the reconstruction target.
func (e *Engine) Message() *Message { return e.message }

// Apply folds one event into the message. Events for other threads are
// ignored with a warning; malformed payloads degrade, never panic.
func (e *Engine) Apply(event stream.Event) {
	if event.ThreadID != "" && e.message.ThreadID != "" && event.ThreadID != e.message.ThreadID {
		e.logger.Warn("dropping %s event for thread %s (engine bound to %s)", event.Kind, event.ThreadID, e.message.ThreadID)
		return
	}

	switch event.Kind {
	case stream.KindMessageChunk:
		if event.MessageChunk != nil {
			e.applyMessageChunk(*event.MessageChunk)
		}
	case stream.KindToolCalls:
		e.applyToolCalls(event.ToolCalls)
	case stream.KindToolCallChunks:
		e.applyToolCallChunks(event.ToolCallChunks)
	case stream.KindToolCallResult:
		if event.ToolCallResult != nil {
			e.applyToolCallResult(*event.ToolCallResult)
		}
	case stream.KindThoughts:
		e.applyThoughts(event.Thoughts)
	case stream.KindStepProgress:
		// Step progress drives UI state, not message content.
	case stream.KindInterrupt:
		if event.Interrupt != nil {
			e.message.InterruptReason = event.Interrupt.Reason
			e.message.InterruptOptions = append([]string(nil), event.Interrupt.Options...)
		}
	default:
		e.logger.Warn("unknown event kind %q, ignoring", event.Kind)
	}
}

// applyMessageChunk appends text; content is never overwritten. The chunk
// log keeps every delta for replay.
func (e *Engine) applyMessageChunk(chunk stream.MessageChunk) {
	if chunk.MessageID != "" && e.message.ID == "" {
		e.message.ID = chunk.MessageID
	}
	if chunk.Role != "" && e.message.Role == "" {
		e.message.Role = chunk.Role
	}
	if chunk.Content != "" {
		e.message.Content += chunk.Content
		e.message.Chunks = append(e.message.Chunks, chunk.Content)
	}
	if chunk.Finish {
		e.finalize()
	}
}

// applyToolCalls merges the authoritative form by id: update in place when
// the id exists, append otherwise. Arriving structured args close the
// fragment list.
func (e *Engine) applyToolCalls(deltas []stream.ToolCallDelta) {
	for _, delta := range deltas {
		if delta.ID == "" && delta.Name == "" {
			continue
		}
		// An id-less delta can never merge in place: FindToolCall("") would
		// hit whichever earlier id-less call came first and overwrite it.
		var existing *ToolCall
		if delta.ID != "" {
			existing = e.message.FindToolCall(delta.ID)
		}
		if existing == nil {
			tc := &ToolCall{ID: delta.ID, Name: delta.Name}
			if delta.Args != nil {
				tc.Args = delta.Args
			} else {
				tc.fragmentsOpen = true
			}
			e.message.ToolCalls = append(e.message.ToolCalls, tc)
			continue
		}
		if delta.Name != "" {
			existing.Name = delta.Name
		}
		if delta.Args != nil {
			existing.Args = delta.Args
			existing.fragmentsOpen = false
		}
	}
}

// applyToolCallChunks appends raw argument fragments. A chunk with an id
// targets that call; an id-less chunk goes to the last call with an open
// fragment list. That tie-break can misattribute fragments when multiple
// calls stream concurrently without ids, so it is degraded mode only:
// producers that can attach ids must do so.
func (e *Engine) applyToolCallChunks(chunks []stream.ToolCallChunk) {
	for _, chunk := range chunks {
		var target *ToolCall
		if chunk.ID != "" {
			target = e.message.FindToolCall(chunk.ID)
			if target == nil {
				target = &ToolCall{ID: chunk.ID, fragmentsOpen: true}
				e.message.ToolCalls = append(e.message.ToolCalls, target)
			}
		} else {
			target = e.message.lastOpenToolCall()
			if target == nil {
				e.logger.Warn("id-less argument fragment with no open tool call, dropping %d bytes", len(chunk.Fragment))
				continue
			}
		}
		target.Fragments = append(target.Fragments, chunk.Fragment)
		target.fragmentsOpen = true
	}
}

// applyToolCallResult attaches a result, matching primarily by call id and
// falling back to the earliest same-name call lacking a result.
func (e *Engine) applyToolCallResult(result stream.ToolCallResult) {
	target := e.message.FindToolCall(result.CallID)
	if target == nil && result.Name != "" {
		target = e.message.earliestCallNamedWithoutResult(result.Name)
	}
	if target == nil {
		e.logger.Warn("tool result for unknown call id=%q name=%q, ignoring", result.CallID, result.Name)
		return
	}
	target.HasResult = true
	target.ErrorCode = result.ErrorCode
	if result.Data != nil {
		target.ResultData = result.Data
	}
	if result.Content != "" {
		target.ResultRaw = result.Content
	}
}

// applyThoughts dedupes by (step index, text) and keeps thoughts sorted by
// step index ascending. Merging the same event twice is a no-op. The dedupe
// check runs on the raw incoming pair, before embedded-result extraction:
// otherwise a re-delivered thought would replay the extraction side effect
// and attach its payload to another tool call.
func (e *Engine) applyThoughts(thoughts []stream.Thought) {
	for _, incoming := range thoughts {
		if e.message.seenThought(incoming.StepIndex, incoming.Text) {
			continue
		}
		e.message.markThoughtSeen(incoming.StepIndex, incoming.Text)
		text := e.extractEmbeddedResult(incoming.Text)
		if strings.TrimSpace(text) == "" {
			continue
		}
		e.message.Thoughts = append(e.message.Thoughts, Thought{
			StepIndex: incoming.StepIndex,
			Text:      text,
			AfterTool: incoming.AfterTool,
		})
	}
	sort.SliceStable(e.message.Thoughts, func(i, j int) bool {
		return e.message.Thoughts[i].StepIndex < e.message.Thoughts[j].StepIndex
	})
}

// extractEmbeddedResult scans thought text for the TOOL_RESULT marker. A
// heuristically complete payload (balanced braces/brackets) is parsed and
// attached to the most recent ToolCall lacking a result; an incomplete one
// is buffered and retried on the next merge. Returns the thought text with
// the marker payload stripped.
func (e *Engine) extractEmbeddedResult(text string) string {
	combined := text
	if e.message.pendingResultText != "" {
		combined = e.message.pendingResultText + text
		e.message.pendingResultText = ""
	}

	idx := strings.Index(combined, ToolResultMarker)
	if idx < 0 {
		return combined
	}
	prefix := combined[:idx]
	payload := combined[idx+len(ToolResultMarker):]

	if _, ok := extractBalanced(payload); !ok {
		// Incomplete: keep the raw text and retry when more arrives.
		e.message.pendingResultText = combined[idx:]
		return prefix
	}

	target := e.message.lastCallWithoutResult()
	if target == nil {
		e.logger.Warn("embedded tool result with no pending tool call, discarding payload")
		return prefix
	}
	parsed := parseStructured(payload)
	target.HasResult = true
	if len(parsed) > 0 {
		target.ResultData = parsed
	} else {
		target.ResultRaw = strings.TrimSpace(payload)
	}
	return prefix
}

// finalize marks the message done and converts every fragment-only tool
// call's raw arguments into a structured value. Parse failures degrade to
// an empty structured value rather than raising.
func (e *Engine) finalize() {
	e.message.Finish = StateDone
	for _, tc := range e.message.ToolCalls {
		tc.fragmentsOpen = false
		if tc.Args != nil || len(tc.Fragments) == 0 {
			continue
		}
		raw := strings.Join(tc.Fragments, "")
		tc.Args = parseStructured(raw)
		if len(tc.Args) == 0 {
			e.logger.Warn("tool call %s arguments did not parse, degrading to empty args (%d raw bytes)", tc.ID, len(raw))
		}
	}
}
