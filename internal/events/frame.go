package events

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Event names published for analysis state changes. Part of the wire
// contract between the server and watching clients.
const (
	AnalysisStarted  = "analysis-started"
	AnalysisComplete = "analysis-complete"
	AnalysisFailed   = "analysis-failed"
)

// Heartbeat is the comment-only keep-alive frame. It carries no event name,
// id, or data; clients treat it as proof of liveness and nothing else.
var Heartbeat = []byte(": ping\n\n")

// Event is one parsed state-change notification.
type Event struct {
	Name    string          `json:"event"`
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

// Frame builds the wire representation of one event:
//
//	event: <name>\n
//	id: <id>\n
//	data: <JSON payload, includes eventId>\n
//	\n
//
// Framing is independent of connection bookkeeping so it can be tested
// without a live transport.
func Frame(name, id string, payload any) ([]byte, error) {
	body := map[string]any{}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encoding payload: %w", err)
		}
		if err := json.Unmarshal(raw, &body); err != nil {
			// Payload is valid JSON but not an object; nest it.
			body = map[string]any{"data": json.RawMessage(raw)}
		}
	}
	body["eventId"] = id

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding frame data: %w", err)
	}
	return []byte(fmt.Sprintf("event: %s\nid: %s\ndata: %s\n\n", name, id, data)), nil
}

// ParseFrame decodes a wire frame. Comment-only frames (heartbeats) return
// ok=false with no error. A frame missing its event name or id is malformed.
func ParseFrame(frame []byte) (ev Event, ok bool, err error) {
	trimmed := bytes.TrimRight(frame, "\n")
	if len(trimmed) == 0 {
		return Event{}, false, nil
	}

	for _, line := range bytes.Split(trimmed, []byte("\n")) {
		switch {
		case bytes.HasPrefix(line, []byte(":")):
			// Comment line; ignore.
		case bytes.HasPrefix(line, []byte("event: ")):
			ev.Name = string(bytes.TrimPrefix(line, []byte("event: ")))
		case bytes.HasPrefix(line, []byte("id: ")):
			ev.ID = string(bytes.TrimPrefix(line, []byte("id: ")))
		case bytes.HasPrefix(line, []byte("data: ")):
			ev.Payload = json.RawMessage(bytes.TrimPrefix(line, []byte("data: ")))
		}
	}

	if ev.Name == "" && ev.ID == "" && ev.Payload == nil {
		// Nothing but comments: a heartbeat.
		return Event{}, false, nil
	}
	if ev.Name == "" || ev.ID == "" {
		return Event{}, false, fmt.Errorf("malformed frame: %q", frame)
	}
	return ev, true, nil
}
