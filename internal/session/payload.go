// Package session implements the per-connection state machines for the chat
// and safety services: connect-time authorization and group joins, inbound
// payload handling, and exactly-once teardown.
package session

import "encoding/json"

// PayloadKind tags the parsed variant of an inbound payload. Dispatch happens
// on the tag, never on raw field sniffing in the handlers.
type PayloadKind int

// Recognized payload variants.
const (
	PayloadMalformed PayloadKind = iota
	PayloadChat
	PayloadLocation
	PayloadPanic
)

// Payload is the parsed form of one inbound frame. Only the fields for the
// tagged kind are meaningful.
type Payload struct {
	Kind        PayloadKind
	Message     string
	Latitude    float64
	Longitude   float64
	PanicActive bool
}

// ParseChat parses a chat frame. The message field must be present; any other
// shape is malformed. An empty message string is still a valid frame.
func ParseChat(raw []byte) Payload {
	var in struct {
		Message *string `json:"message"`
	}
	if err := json.Unmarshal(raw, &in); err != nil || in.Message == nil {
		return Payload{Kind: PayloadMalformed}
	}
	return Payload{Kind: PayloadChat, Message: *in.Message}
}

// ParseSafety parses a safety frame into exactly one of the two recognized
// kinds. A frame with both latitude and longitude is a location update; one
// with panic_active is a panic toggle; location wins when a frame carries
// both shapes. Anything else is malformed.
func ParseSafety(raw []byte) Payload {
	var in struct {
		Latitude    *float64 `json:"latitude"`
		Longitude   *float64 `json:"longitude"`
		PanicActive *bool    `json:"panic_active"`
	}
	if err := json.Unmarshal(raw, &in); err != nil {
		return Payload{Kind: PayloadMalformed}
	}

	switch {
	case in.Latitude != nil && in.Longitude != nil:
		return Payload{Kind: PayloadLocation, Latitude: *in.Latitude, Longitude: *in.Longitude}
	case in.PanicActive != nil:
		return Payload{Kind: PayloadPanic, PanicActive: *in.PanicActive}
	default:
		return Payload{Kind: PayloadMalformed}
	}
}
