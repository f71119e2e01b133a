package realtime

import "encoding/json"

// Event names exchanged over the websocket.
const (
	EventJoinChat       = "join_chat"
	EventLeaveChat      = "leave_chat"
	EventReceiveMessage = "receive_message"
	EventError          = "error"
)

// Envelope frames every websocket event.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// RoomRequest is the payload of join_chat and leave_chat.
type RoomRequest struct {
	ThreadID string `json:"thread_id"`
}

// ErrorData is the payload of an error event.
type ErrorData struct {
	Message string `json:"message"`
}

// Encode frames data under the event name.
func Encode(event string, data interface{}) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}
