package chat

import (
	"encoding/json"
	"io"
)

// EventType discriminates StreamEvent.
type EventType string

const (
	EventToken EventType = "token"
	EventError EventType = "error"
	EventDone  EventType = "done"
)

// StreamEvent is the only shape relayed downstream, whatever the upstream vendor sends.
type StreamEvent struct {
	Type    EventType `json:"type"`
	Text    string    `json:"text,omitempty"`
	Message string    `json:"message,omitempty"`
}

func TokenEvent(text string) StreamEvent {
	return StreamEvent{Type: EventToken, Text: text}
}

func ErrorEvent(message string) StreamEvent {
	return StreamEvent{Type: EventError, Message: message}
}

func DoneEvent() StreamEvent {
	return StreamEvent{Type: EventDone}
}

// DoneSentinel terminates every event stream, successful or not.
var DoneSentinel = []byte("data: [DONE]\n\n")

// SSE encodes the event as one "data: <json>\n\n" frame.
func (e StreamEvent) SSE() []byte {
	payload, err := json.Marshal(e)
	if err != nil {
		// Only strings are marshalled; this cannot happen.
		payload = []byte(`{"type":"error","message":"unencodable event"}`)
	}
	frame := make([]byte, 0, len(payload)+8)
	frame = append(frame, "data: "...)
	frame = append(frame, payload...)
	frame = append(frame, '\n', '\n')
	return frame
}

// WriteEvent writes one frame.
func WriteEvent(w io.Writer, e StreamEvent) error {
	_, err := w.Write(e.SSE())
	return err
}
