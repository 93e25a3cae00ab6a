package proto

import "encoding/json"

// Inbound is the envelope for messages coming from the client.
type Inbound struct {
	Type string          `json:"type"`
	ID   string          `json:"id,omitempty"`
	Data json.RawMessage `json:"data"`
}

const (
	InboundTypeJoinRoom  = "join_room"
	InboundTypeLeaveRoom = "leave_room"

	OutboundTypeEvent = "event"
	OutboundTypeAck   = "ack"
	OutboundTypeError = "error"

	EventPresenceSnapshot   = "presence_snapshot"
	EventConversationNew    = "conversation_new"
	EventMessageNew         = "message_new"
	EventConversationUpdate = "conversation_update"
)

// RoomData names the conversation a join_room or leave_room refers to.
type RoomData struct {
	Room string `json:"room"`
}

// Outbound is the envelope for messages sent to the client.
type Outbound struct {
	Type  string `json:"type"`
	Event string `json:"event,omitempty"`
	ID    string `json:"id,omitempty"`
	OK    *bool  `json:"ok,omitempty"`
	Data  any    `json:"data,omitempty"`
	Error *Error `json:"error,omitempty"`
}

// PresenceSnapshot lists every user with at least one live connection.
type PresenceSnapshot struct {
	Users   []string `json:"users"`
	Version uint64   `json:"version"`
}

// ConversationUpdate carries a conversation summary change.
type ConversationUpdate struct {
	ConversationID string `json:"conversationId"`
	Payload        any    `json:"payload"`
}

// Error describes a protocol-level error response.
type Error struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}

// Ack builds the reply to a request carrying an id.
func Ack(id string, err *Error) Outbound {
	ok := err == nil
	return Outbound{Type: OutboundTypeAck, ID: id, OK: &ok, Error: err}
}
