package merge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phancao/Project-Management-Agent-sub011/internal/logging"
	"github.com/phancao/Project-Management-Agent-sub011/internal/stream"
)

func newEngine() *Engine {
	return NewEngine(NewMessage("m1", "t1", "assistant"), logging.Nop())
}

func thoughtEvent(step int, text string) stream.Event {
	return stream.Event{
		ThreadID: "t1",
		Kind:     stream.KindThoughts,
		Thoughts: []stream.Thought{{StepIndex: step, Text: text}},
	}
}

func TestTextChunksAppendAndLog(t *testing.T) {
	e := newEngine()
	e.Apply(stream.Event{ThreadID: "t1", Kind: stream.KindMessageChunk, MessageChunk: &stream.MessageChunk{Content: "Hello, "}})
	e.Apply(stream.Event{ThreadID: "t1", Kind: stream.KindMessageChunk, MessageChunk: &stream.MessageChunk{Content: "world"}})

	msg := e.Message()
	assert.Equal(t, "Hello, world", msg.Content)
	assert.Equal(t, []string{"Hello, ", "world"}, msg.Chunks)
	assert.Equal(t, StateStreaming, msg.Finish)
}

func TestIdempotentThoughtMerge(t *testing.T) {
	e := newEngine()
	event := thoughtEvent(2, "checking sprint backlog")
	e.Apply(event)
	once := append([]Thought(nil), e.Message().Thoughts...)

	e.Apply(event)
	assert.Equal(t, once, e.Message().Thoughts, "merging the same thought twice must be a no-op")
}

func TestThoughtsSortedByStepIndex(t *testing.T) {
	e := newEngine()
	e.Apply(thoughtEvent(3, "third"))
	e.Apply(thoughtEvent(1, "first"))
	e.Apply(thoughtEvent(2, "second"))

	thoughts := e.Message().Thoughts
	require.Len(t, thoughts, 3)
	assert.Equal(t, []int{1, 2, 3}, []int{thoughts[0].StepIndex, thoughts[1].StepIndex, thoughts[2].StepIndex})
}

func TestToolCallsMergeByID(t *testing.T) {
	e := newEngine()
	e.Apply(stream.Event{ThreadID: "t1", Kind: stream.KindToolCalls, ToolCalls: []stream.ToolCallDelta{
		{ID: "c1", Name: "list_tasks"},
	}})
	e.Apply(stream.Event{ThreadID: "t1", Kind: stream.KindToolCalls, ToolCalls: []stream.ToolCallDelta{
		{ID: "c1", Name: "list_tasks", Args: map[string]any{"sprint": "s7"}},
		{ID: "c2", Name: "list_sprints", Args: map[string]any{}},
	}})

	msg := e.Message()
	require.Len(t, msg.ToolCalls, 2)
	assert.Equal(t, "s7", msg.ToolCalls[0].Args["sprint"])
	assert.False(t, msg.ToolCalls[0].HasResult)
	assert.Equal(t, "list_sprints", msg.ToolCalls[1].Name)
}

func TestIDLessDeltasAppendSeparateCalls(t *testing.T) {
	e := newEngine()
	e.Apply(stream.Event{ThreadID: "t1", Kind: stream.KindToolCalls, ToolCalls: []stream.ToolCallDelta{
		{Name: "list_tasks", Args: map[string]any{"status": "open"}},
	}})
	e.Apply(stream.Event{ThreadID: "t1", Kind: stream.KindToolCalls, ToolCalls: []stream.ToolCallDelta{
		{Name: "list_sprints", Args: map[string]any{}},
	}})

	msg := e.Message()
	require.Len(t, msg.ToolCalls, 2, "a second id-less delta must not overwrite the first")
	assert.Equal(t, "list_tasks", msg.ToolCalls[0].Name)
	assert.Equal(t, "open", msg.ToolCalls[0].Args["status"])
	assert.Equal(t, "list_sprints", msg.ToolCalls[1].Name)
}

func TestFragmentRoundTrip(t *testing.T) {
	e := newEngine()
	e.Apply(stream.Event{ThreadID: "t1", Kind: stream.KindToolCalls, ToolCalls: []stream.ToolCallDelta{{ID: "c1", Name: "list_tasks"}}})
	e.Apply(stream.Event{ThreadID: "t1", Kind: stream.KindToolCallChunks, ToolCallChunks: []stream.ToolCallChunk{
		{ID: "c1", Fragment: "{\"a\":1,"},
		{ID: "c1", Fragment: "\"b\":2}"},
	}})
	e.Apply(stream.Event{ThreadID: "t1", Kind: stream.KindMessageChunk, MessageChunk: &stream.MessageChunk{Finish: true}})

	msg := e.Message()
	assert.Equal(t, StateDone, msg.Finish)
	require.Len(t, msg.ToolCalls, 1)
	assert.Equal(t, float64(1), msg.ToolCalls[0].Args["a"])
	assert.Equal(t, float64(2), msg.ToolCalls[0].Args["b"])
}

func TestNoiseToleranceInArgumentText(t *testing.T) {
	e := newEngine()
	e.Apply(stream.Event{ThreadID: "t1", Kind: stream.KindToolCalls, ToolCalls: []stream.ToolCallDelta{{ID: "c1", Name: "list_tasks"}}})
	e.Apply(stream.Event{ThreadID: "t1", Kind: stream.KindToolCallChunks, ToolCallChunks: []stream.ToolCallChunk{
		{ID: "c1", Fragment: "garbage{\"a\":1}trailing"},
	}})
	e.Apply(stream.Event{ThreadID: "t1", Kind: stream.KindMessageChunk, MessageChunk: &stream.MessageChunk{Finish: true}})

	args := e.Message().ToolCalls[0].Args
	assert.Equal(t, map[string]any{"a": float64(1)}, args)
}

func TestUnparsableArgumentsDegradeToEmpty(t *testing.T) {
	e := newEngine()
	e.Apply(stream.Event{ThreadID: "t1", Kind: stream.KindToolCalls, ToolCalls: []stream.ToolCallDelta{{ID: "c1", Name: "list_tasks"}}})
	e.Apply(stream.Event{ThreadID: "t1", Kind: stream.KindToolCallChunks, ToolCallChunks: []stream.ToolCallChunk{
		{ID: "c1", Fragment: "no json here at all"},
	}})
	e.Apply(stream.Event{ThreadID: "t1", Kind: stream.KindMessageChunk, MessageChunk: &stream.MessageChunk{Finish: true}})

	tc := e.Message().ToolCalls[0]
	require.NotNil(t, tc.Args)
	assert.Empty(t, tc.Args)
}

func TestIDLessFragmentsGoToLastOpenCall(t *testing.T) {
	e := newEngine()
	e.Apply(stream.Event{ThreadID: "t1", Kind: stream.KindToolCalls, ToolCalls: []stream.ToolCallDelta{
		{ID: "c1", Name: "list_tasks", Args: map[string]any{"done": true}},
		{ID: "c2", Name: "search_docs"},
	}})
	e.Apply(stream.Event{ThreadID: "t1", Kind: stream.KindToolCallChunks, ToolCallChunks: []stream.ToolCallChunk{
		{Fragment: "{\"query\":"},
		{Fragment: "\"burndown\"}"},
	}})
	e.Apply(stream.Event{ThreadID: "t1", Kind: stream.KindMessageChunk, MessageChunk: &stream.MessageChunk{Finish: true}})

	msg := e.Message()
	// c1 had authoritative args, so its fragment list was closed; the
	// id-less fragments must land on c2.
	assert.Equal(t, map[string]any{"done": true}, msg.ToolCalls[0].Args)
	assert.Equal(t, "burndown", msg.ToolCalls[1].Args["query"])
}

func TestFallbackResultMatchingByName(t *testing.T) {
	e := newEngine()
	e.Apply(stream.Event{ThreadID: "t1", Kind: stream.KindToolCalls, ToolCalls: []stream.ToolCallDelta{
		{ID: "c1", Name: "list_tasks", Args: map[string]any{}},
		{ID: "c2", Name: "list_tasks", Args: map[string]any{}},
	}})
	e.Apply(stream.Event{ThreadID: "t1", Kind: stream.KindToolCallResult, ToolCallResult: &stream.ToolCallResult{
		CallID:  "unmatched-id",
		Name:    "list_tasks",
		Content: "7 tasks",
	}})

	msg := e.Message()
	assert.True(t, msg.ToolCalls[0].HasResult, "earliest same-name call without result must receive it")
	assert.False(t, msg.ToolCalls[1].HasResult)
	assert.Equal(t, "7 tasks", msg.ToolCalls[0].ResultRaw)
}

func TestEmbeddedToolResultInThoughtText(t *testing.T) {
	e := newEngine()
	e.Apply(stream.Event{ThreadID: "t1", Kind: stream.KindToolCalls, ToolCalls: []stream.ToolCallDelta{
		{ID: "c1", Name: "list_tasks", Args: map[string]any{}},
	}})
	e.Apply(thoughtEvent(0, "fetched the board TOOL_RESULT:{\"count\":4}"))

	msg := e.Message()
	require.Len(t, msg.Thoughts, 1)
	assert.Equal(t, "fetched the board ", msg.Thoughts[0].Text)
	require.True(t, msg.ToolCalls[0].HasResult)
	assert.Equal(t, float64(4), msg.ToolCalls[0].ResultData["count"])
}

func TestRedeliveredEmbeddedResultThoughtIsNoOp(t *testing.T) {
	e := newEngine()
	e.Apply(stream.Event{ThreadID: "t1", Kind: stream.KindToolCalls, ToolCalls: []stream.ToolCallDelta{
		{ID: "c1", Name: "list_tasks", Args: map[string]any{}},
		{ID: "c2", Name: "list_sprints", Args: map[string]any{}},
	}})
	event := thoughtEvent(0, "fetched TOOL_RESULT:{\"count\":4}")

	e.Apply(event)
	require.Len(t, e.Message().Thoughts, 1)
	assert.False(t, e.Message().ToolCalls[0].HasResult)
	require.True(t, e.Message().ToolCalls[1].HasResult)

	e.Apply(event)
	assert.Len(t, e.Message().Thoughts, 1)
	assert.False(t, e.Message().ToolCalls[0].HasResult,
		"re-merging the same thought event must not attach the payload to another call")
}

func TestRedeliveredIncompleteMarkerKeepsPendingIntact(t *testing.T) {
	e := newEngine()
	e.Apply(stream.Event{ThreadID: "t1", Kind: stream.KindToolCalls, ToolCalls: []stream.ToolCallDelta{
		{ID: "c1", Name: "list_tasks", Args: map[string]any{}},
	}})
	partial := thoughtEvent(0, "partial TOOL_RESULT:{\"count\":")
	e.Apply(partial)
	e.Apply(partial)
	assert.False(t, e.Message().ToolCalls[0].HasResult)

	e.Apply(thoughtEvent(0, "4}"))
	require.True(t, e.Message().ToolCalls[0].HasResult)
	assert.Equal(t, float64(4), e.Message().ToolCalls[0].ResultData["count"])
}

func TestIncompleteEmbeddedResultRetriesOnNextMerge(t *testing.T) {
	e := newEngine()
	e.Apply(stream.Event{ThreadID: "t1", Kind: stream.KindToolCalls, ToolCalls: []stream.ToolCallDelta{
		{ID: "c1", Name: "list_tasks", Args: map[string]any{}},
	}})
	e.Apply(thoughtEvent(0, "partial TOOL_RESULT:{\"count\":"))
	assert.False(t, e.Message().ToolCalls[0].HasResult)

	e.Apply(thoughtEvent(0, "4}"))
	require.True(t, e.Message().ToolCalls[0].HasResult)
	assert.Equal(t, float64(4), e.Message().ToolCalls[0].ResultData["count"])
}

func TestInterruptRecordsOptions(t *testing.T) {
	e := newEngine()
	e.Apply(stream.Event{ThreadID: "t1", Kind: stream.KindInterrupt, Interrupt: &stream.Interrupt{
		Reason:  "needs approval",
		Options: []string{"continue", "abort"},
	}})
	assert.Equal(t, "needs approval", e.Message().InterruptReason)
	assert.Equal(t, []string{"continue", "abort"}, e.Message().InterruptOptions)
}

func TestCrossThreadEventsIgnored(t *testing.T) {
	e := newEngine()
	e.Apply(stream.Event{ThreadID: "other", Kind: stream.KindMessageChunk, MessageChunk: &stream.MessageChunk{Content: "leak"}})
	assert.Empty(t, e.Message().Content)
}

func TestExtractBalanced(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{`{"a":1}`, `{"a":1}`, true},
		{`noise{"a":{"b":2}}tail`, `{"a":{"b":2}}`, true},
		{`{"s":"br{ace}"}`, `{"s":"br{ace}"}`, true},
		{`{"s":"esc\"{"}`, `{"s":"esc\"{"}`, true},
		{`[1,2,3]extra`, `[1,2,3]`, true},
		{`{"open":`, "", false},
		{`plain text`, "", false},
	}
	for _, tc := range cases {
		got, ok := extractBalanced(tc.in)
		assert.Equal(t, tc.ok, ok, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}
}
