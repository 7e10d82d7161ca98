// Package stream carries workflow progress out of the agent as an ordered
// sequence of thread-scoped events. Events are the only channel through
// which workflow state becomes visible outside the workflow.
package stream

// Kind discriminates event payloads.
type Kind string

const (
	KindMessageChunk   Kind = "message_chunk"
	KindToolCalls      Kind = "tool_calls"
	KindToolCallChunks Kind = "tool_call_chunks"
	KindToolCallResult Kind = "tool_call_result"
	KindThoughts       Kind = "thoughts"
	KindStepProgress   Kind = "step_progress"
	KindInterrupt      Kind = "interrupt"
)

// StepStatus mirrors the step lifecycle on the wire.
type StepStatus string

const (
	StepPending StepStatus = "pending"
	StepRunning StepStatus = "running"
	StepDone    StepStatus = "done"
	StepFailed  StepStatus = "failed"
)

// MessageChunk appends streamed text to the thread's message. Finish marks
// the end of the stream for the message.
type MessageChunk struct {
	MessageID string `json:"message_id,omitempty"`
	Role      string `json:"role,omitempty"`
	Content   string `json:"content"`
	Finish    bool   `json:"finish,omitempty"`
}

// ToolCallDelta is the authoritative form of a tool call: id, name and
// structured arguments known up front.
type ToolCallDelta struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// ToolCallChunk carries a raw argument fragment. ID may be empty when the
// producer streams fragments without call attribution.
type ToolCallChunk struct {
	ID       string `json:"id,omitempty"`
	Fragment string `json:"fragment"`
}

// ToolCallResult reports a finished tool invocation. CallID is the primary
// match key; Name enables the degraded-mode fallback.
type ToolCallResult struct {
	CallID    string         `json:"call_id,omitempty"`
	Name      string         `json:"name,omitempty"`
	Content   string         `json:"content,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	ErrorCode string         `json:"error_code,omitempty"`
}

// Thought is a reasoning trace attributed to a plan step.
type Thought struct {
	StepIndex int    `json:"step_index"`
	Text      string `json:"text"`
	AfterTool bool   `json:"after_tool,omitempty"`
}

// StepProgress reports a step lifecycle transition.
type StepProgress struct {
	StepIndex int        `json:"step_index"`
	Title     string     `json:"title"`
	Status    StepStatus `json:"status"`
}

// Interrupt pauses the message and offers the client resume options.
type Interrupt struct {
	Reason  string   `json:"reason,omitempty"`
	Options []string `json:"options,omitempty"`
}

// Event is a discriminated record: exactly one payload field matching Kind
// is populated.
type Event struct {
	ThreadID       string           `json:"thread_id"`
	Kind           Kind             `json:"kind"`
	MessageChunk   *MessageChunk    `json:"message_chunk,omitempty"`
	ToolCalls      []ToolCallDelta  `json:"tool_calls,omitempty"`
	ToolCallChunks []ToolCallChunk  `json:"tool_call_chunks,omitempty"`
	ToolCallResult *ToolCallResult  `json:"tool_call_result,omitempty"`
	Thoughts       []Thought        `json:"thoughts,omitempty"`
	StepProgress   *StepProgress    `json:"step_progress,omitempty"`
	Interrupt      *Interrupt       `json:"interrupt,omitempty"`
}

// Critical reports whether the event must survive a saturated queue.
// Finish chunks and interrupts decide the terminal state of a message, so
// dropping them would leave the consumer stuck in streaming state.
func (e Event) Critical() bool {
	if e.Kind == KindInterrupt {
		return true
	}
	return e.Kind == KindMessageChunk && e.MessageChunk != nil && e.MessageChunk.Finish
}
