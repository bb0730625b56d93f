package models

import (
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("not found")
)

// DedupWindow is the interval within which two messages carrying
// identical text are treated as the same logical message. It absorbs
// the same message arriving via different transports (optimistic local
// echo, socket push, poll pull) with slightly different clocks or
// synthesized identifiers.
const DedupWindow = 2 * time.Second

type Sender string

const (
	SenderCustomer Sender = "customer"
	SenderAdmin    Sender = "admin"
)

// Message is a single chat message within a conversation.
type Message struct {
	ID          string    `json:"id"`
	Text        string    `json:"text"`
	Sender      Sender    `json:"sender"`
	CreatedAt   time.Time `json:"created_at"`
	RoomID      string    `json:"room_id"`
	SessionID   string    `json:"session_id,omitempty"`
	ProductName string    `json:"product_name,omitempty"`
	Language    string    `json:"preferred_language,omitempty"`
}

// DuplicateOf reports whether m and other are the same logical message:
// either they share an identifier, or they carry identical text and
// their timestamps fall within DedupWindow of each other.
func (m Message) DuplicateOf(other Message) bool {
	if m.ID != "" && m.ID == other.ID {
		return true
	}
	if m.Text != other.Text {
		return false
	}
	d := m.CreatedAt.Sub(other.CreatedAt)
	if d < 0 {
		d = -d
	}
	return d < DedupWindow
}

// Conversation is a persistent customer-admin chat thread keyed by an
// opaque room identifier.
type Conversation struct {
	RoomID         string    `json:"room_id"`
	SessionID      string    `json:"session_id"`
	LastMessage    *Message  `json:"last_message,omitempty"`
	Unread         int       `json:"unread_count"`
	CustomerName   string    `json:"customer_name,omitempty"`
	CustomerEmail  string    `json:"customer_email,omitempty"`
	ProductName    string    `json:"product_name,omitempty"`
	AdminConnected bool      `json:"admin_connected"`
	CreatedAt      time.Time `json:"created_at"`
}

// LastActivity is the timestamp conversations are ordered by: the last
// message's creation time, falling back to the conversation's own.
func (c Conversation) LastActivity() time.Time {
	if c.LastMessage != nil {
		return c.LastMessage.CreatedAt
	}
	return c.CreatedAt
}

// ConversationRecord is the REST listing shape for a conversation.
// Backends that inline recent history populate Messages; the last
// message is then derived rather than taken from the explicit field.
type ConversationRecord struct {
	Conversation
	Messages []Message `json:"messages,omitempty"`
}

// ConversationMeta is the optional conversation block returned
// alongside a message listing.
type ConversationMeta struct {
	AdminConnected bool   `json:"admin_connected"`
	CustomerName   string `json:"customer_name"`
	CustomerEmail  string `json:"customer_email"`
}

type EventType string

// Events emitted by the admin client.
const (
	EventAdminJoin       EventType = "admin:join"
	EventAdminJoinRoom   EventType = "admin:join-room"
	EventAdminMessage    EventType = "admin:message"
	EventAdminConnect    EventType = "admin:connect"
	EventAdminDisconnect EventType = "admin:disconnect"
)

// Events consumed by the admin client. EventAdminMessage appears on
// both sides: outbound it is a send, inbound it is the echo of a
// message sent by any admin (including this one).
const (
	EventCustomerRequest EventType = "admin:customer-request"
	EventAdminIncoming   EventType = "admin:incoming"
	EventCustomerMessage EventType = "customer:message"
)

// Event is the JSON frame exchanged over the socket channel.
type Event struct {
	Type         EventType     `json:"type"`
	RoomID       string        `json:"room_id,omitempty"`
	SessionID    string        `json:"session_id,omitempty"`
	SenderID     string        `json:"sender_id,omitempty"`
	Text         string        `json:"text,omitempty"`
	Message      *Message      `json:"message,omitempty"`
	Conversation *Conversation `json:"conversation,omitempty"`
}
