package ws

import "encoding/json"

// Envelope wraps every WS frame.
type Envelope struct {
	Event string          `json:"event"`          // e.g. "code-edit"
	Body  json.RawMessage `json:"body,omitempty"` // arbitrary JSON object
}

// ErrorBody is returned for failures.
type ErrorBody struct {
	Error string `json:"error"`
}

// Inbound events.
const (
	EventJoinRoom     = "join-room"
	EventEditRoom     = "edit-room"
	EventCursor       = "cursor"
	EventSelection    = "selection"
	EventCodeEdit     = "code-edit"
	EventEditMember   = "edit-member"
	EventCloseSession = "close-session"
)

func encode(event string, body any) ([]byte, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Body: raw})
}
