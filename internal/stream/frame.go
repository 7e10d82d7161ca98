package stream

import (
	"encoding/json"
	"fmt"
)

// Frame is the wire form of an Event: thread id, kind discriminator and a
// kind-specific payload. Frames for one thread travel over a single
// order-preserving connection; no batching across frame boundaries.
type Frame struct {
	ThreadID string          `json:"thread_id"`
	Kind     Kind            `json:"kind"`
	Payload  json.RawMessage `json:"payload"`
}

// EncodeFrame serializes the event's payload according to its kind.
func EncodeFrame(event Event) (Frame, error) {
	var payload any
	switch event.Kind {
	case KindMessageChunk:
		payload = event.MessageChunk
	case KindToolCalls:
		payload = event.ToolCalls
	case KindToolCallChunks:
		payload = event.ToolCallChunks
	case KindToolCallResult:
		payload = event.ToolCallResult
	case KindThoughts:
		payload = event.Thoughts
	case KindStepProgress:
		payload = event.StepProgress
	case KindInterrupt:
		payload = event.Interrupt
	default:
		return Frame{}, fmt.Errorf("unknown event kind %q", event.Kind)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, fmt.Errorf("marshal %s payload: %w", event.Kind, err)
	}
	return Frame{ThreadID: event.ThreadID, Kind: event.Kind, Payload: raw}, nil
}

// DecodeFrame reconstructs the Event from its wire form.
func DecodeFrame(frame Frame) (Event, error) {
	event := Event{ThreadID: frame.ThreadID, Kind: frame.Kind}
	var err error
	switch frame.Kind {
	case KindMessageChunk:
		event.MessageChunk = &MessageChunk{}
		err = json.Unmarshal(frame.Payload, event.MessageChunk)
	case KindToolCalls:
		err = json.Unmarshal(frame.Payload, &event.ToolCalls)
	case KindToolCallChunks:
		err = json.Unmarshal(frame.Payload, &event.ToolCallChunks)
	case KindToolCallResult:
		event.ToolCallResult = &ToolCallResult{}
		err = json.Unmarshal(frame.Payload, event.ToolCallResult)
	case KindThoughts:
		err = json.Unmarshal(frame.Payload, &event.Thoughts)
	case KindStepProgress:
		event.StepProgress = &StepProgress{}
		err = json.Unmarshal(frame.Payload, event.StepProgress)
	case KindInterrupt:
		event.Interrupt = &Interrupt{}
		err = json.Unmarshal(frame.Payload, event.Interrupt)
	default:
		return Event{}, fmt.Errorf("unknown frame kind %q", frame.Kind)
	}
	if err != nil {
		return Event{}, fmt.Errorf("decode %s payload: %w", frame.Kind, err)
	}
	return event, nil
}
