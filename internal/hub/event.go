package hub

import (
	"encoding/json"
	"time"
)

// Event is a typed, immutable payload routed through the hub. Events are
// transient: constructed, serialized once per broadcast, and discarded.
type Event interface {
	// Kind names the event variant for logging.
	Kind() string

	// Encode produces the wire representation delivered to recipients.
	Encode() ([]byte, error)
}

// ChatMessage is a message posted to a chat group.
type ChatMessage struct {
	Group     GroupID
	SenderID  int64
	Username  string
	Content   string
	Timestamp time.Time
}

// Kind implements Event.
func (ChatMessage) Kind() string { return "chat_message" }

// Encode implements Event. Only the message body and sender name go over the
// wire; group and timestamp stay server-side.
func (e ChatMessage) Encode() ([]byte, error) {
	return json.Marshal(struct {
		Message  string `json:"message"`
		Username string `json:"username"`
	}{e.Content, e.Username})
}

// LocationUpdate carries a user's latest position to their trusted contacts.
type LocationUpdate struct {
	UserID    int64
	Username  string
	Latitude  float64
	Longitude float64
}

// Kind implements Event.
func (LocationUpdate) Kind() string { return "location_update" }

// Encode implements Event.
func (e LocationUpdate) Encode() ([]byte, error) {
	return json.Marshal(struct {
		Type      string  `json:"type"`
		UserID    int64   `json:"user_id"`
		Username  string  `json:"username"`
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
	}{"location", e.UserID, e.Username, e.Latitude, e.Longitude})
}

// PanicState is the lifecycle state of an SOS toggle.
type PanicState string

// Panic states broadcast to trusted contacts.
const (
	PanicActive   PanicState = "ACTIVE"
	PanicResolved PanicState = "RESOLVED"
)

// PanicStatus announces an SOS trigger or resolution to trusted contacts.
type PanicStatus struct {
	UserID    int64
	Username  string
	Status    PanicState
	Timestamp time.Time
}

// Kind implements Event.
func (PanicStatus) Kind() string { return "panic_status" }

// Encode implements Event. The timestamp is the trigger time for ACTIVE and
// the resolution time for RESOLVED, in ISO 8601.
func (e PanicStatus) Encode() ([]byte, error) {
	return json.Marshal(struct {
		Type      string `json:"type"`
		UserID    int64  `json:"user_id"`
		Username  string `json:"username"`
		Status    string `json:"status"`
		Timestamp string `json:"timestamp"`
	}{"panic", e.UserID, e.Username, string(e.Status), e.Timestamp.UTC().Format(time.RFC3339)})
}
