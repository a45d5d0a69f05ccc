// Package models defines the conversation channel event and keyboard types.
package models

// EventKind distinguishes typed text from button clicks.
type EventKind string

const (
	// EventText is a plain text message typed by the user.
	EventText EventKind = "text"
	// EventButton is an inline keyboard button click; Payload carries the
	// button's callback data and MessageID the message holding the keyboard.
	EventButton EventKind = "button"
)

// ResetCommand is the literal text event that forces a conversation back to
// the start regardless of stored state.
const ResetCommand = "/start"

// Event is one inbound conversation event as delivered by the channel.
type Event struct {
	ConversationID string    `json:"conversation_id"`
	Kind           EventKind `json:"kind"`
	Payload        string    `json:"payload"`
	MessageID      int64     `json:"message_id,omitempty"`
}

// IsReset reports whether the event is the explicit reset command.
func (e Event) IsReset() bool {
	return e.Kind == EventText && e.Payload == ResetCommand
}

// Button is one selectable option on an inline keyboard.
type Button struct {
	Label string `json:"label"`
	Data  string `json:"data"`
}

// Keyboard is an ordered grid of buttons attached to an outbound message.
type Keyboard struct {
	Rows [][]Button `json:"rows"`
}

// Row appends one row of buttons and returns the keyboard for chaining.
func (k *Keyboard) Row(buttons ...Button) *Keyboard {
	k.Rows = append(k.Rows, buttons)
	return k
}
