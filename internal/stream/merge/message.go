// Package merge folds an ordered event sequence into one mutable Message.
// It is used both to materialize the final conversation record and to
// reconstruct live state on the consuming side. The engine is the sole
// mutator of the Message it owns.
package merge

// FinishState tracks whether a message is still streaming.
type FinishState string

const (
	StateStreaming FinishState = "streaming"
	StateDone      FinishState = "done"
)

// ToolCall accumulates one tool invocation as events arrive. Arguments may
// be fully known up front (Args) or arrive as raw fragments awaiting
// concatenation (Fragments); a finish signal converts fragments to Args.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Args      map[string]any `json:"args,omitempty"`
	Fragments []string       `json:"fragments,omitempty"`

	// ResultData / ResultRaw hold the structured or raw result; HasResult
	// distinguishes "no result yet" from an empty result.
	HasResult  bool           `json:"has_result"`
	ResultData map[string]any `json:"result_data,omitempty"`
	ResultRaw  string         `json:"result_raw,omitempty"`
	ErrorCode  string         `json:"error_code,omitempty"`

	// fragmentsOpen marks a fragment list that is still receiving id-less
	// chunks. Closed when args become authoritative or on finalize.
	fragmentsOpen bool
}

// Open reports whether the call still accepts id-less argument fragments.
func (tc *ToolCall) Open() bool { return tc.fragmentsOpen }

// Thought is one deduplicated reasoning trace entry.
type Thought struct {
	StepIndex int    `json:"step_index"`
	Text      string `json:"text"`
	AfterTool bool   `json:"after_tool,omitempty"`
}

// Message is the mutable reconstruction target.
type Message struct {
	ID       string `json:"id"`
	ThreadID string `json:"thread_id"`
	Role     string `json:"role"`

	Content string   `json:"content"`
	Chunks  []string `json:"chunks,omitempty"` // ordered chunk log for replay/audit

	ToolCalls []*ToolCall `json:"tool_calls,omitempty"`
	Thoughts  []Thought   `json:"thoughts,omitempty"`

	Finish           FinishState `json:"finish"`
	InterruptReason  string      `json:"interrupt_reason,omitempty"`
	InterruptOptions []string    `json:"interrupt_options,omitempty"`

	// pendingResultText holds an incomplete TOOL_RESULT payload carried over
	// from a previous thought merge, retried on the next one.
	pendingResultText string

	// seenThoughts records every raw (step index, text) pair ever merged,
	// so re-delivered thought events are no-ops even when extraction later
	// rewrites the stored text.
	seenThoughts map[thoughtKey]struct{}
}

type thoughtKey struct {
	stepIndex int
	text      string
}

// NewMessage creates an empty streaming message for a thread.
func NewMessage(id, threadID, role string) *Message {
	return &Message{
		ID:       id,
		ThreadID: threadID,
		Role:     role,
		Finish:   StateStreaming,
	}
}

// seenThought reports whether this exact raw thought was merged before.
func (m *Message) seenThought(stepIndex int, text string) bool {
	_, ok := m.seenThoughts[thoughtKey{stepIndex, text}]
	return ok
}

func (m *Message) markThoughtSeen(stepIndex int, text string) {
	if m.seenThoughts == nil {
		m.seenThoughts = make(map[thoughtKey]struct{})
	}
	m.seenThoughts[thoughtKey{stepIndex, text}] = struct{}{}
}

// FindToolCall returns the call with the given id, or nil.
func (m *Message) FindToolCall(id string) *ToolCall {
	for _, tc := range m.ToolCalls {
		if tc.ID == id {
			return tc
		}
	}
	return nil
}

// lastOpenToolCall returns the most recently appended call whose fragment
// list is still open, or nil.
func (m *Message) lastOpenToolCall() *ToolCall {
	for i := len(m.ToolCalls) - 1; i >= 0; i-- {
		if m.ToolCalls[i].Open() {
			return m.ToolCalls[i]
		}
	}
	return nil
}

// lastCallWithoutResult returns the most recently appended call lacking a
// result, or nil.
func (m *Message) lastCallWithoutResult() *ToolCall {
	for i := len(m.ToolCalls) - 1; i >= 0; i-- {
		if !m.ToolCalls[i].HasResult {
			return m.ToolCalls[i]
		}
	}
	return nil
}

// earliestCallNamedWithoutResult returns the first call with the given name
// still lacking a result, or nil.
func (m *Message) earliestCallNamedWithoutResult(name string) *ToolCall {
	for _, tc := range m.ToolCalls {
		if tc.Name == name && !tc.HasResult {
			return tc
		}
	}
	return nil
}
