// Package channel defines the conversation transport consumed by the bot.
package channel

import (
	"context"

	"github.com/MSMikl/fish-store/internal/models"
)

// Channel is a pluggable conversation transport abstraction. It delivers
// inbound user events on a channel and sends text, photo, and delete actions
// back to the conversation.
type Channel interface {
	// Start begins background processing (e.g., polling for events).
	Start(ctx context.Context) error

	// Stop stops background processing and cleans up resources.
	Stop()

	// Events returns the stream of inbound conversation events.
	Events() <-chan models.Event

	// SendText sends a text message, optionally with an inline keyboard.
	SendText(ctx context.Context, conversationID, text string, keyboard *models.Keyboard) error

	// SendPhoto sends a photo by URL with a caption, optionally with an inline keyboard.
	SendPhoto(ctx context.Context, conversationID, photoURL, caption string, keyboard *models.Keyboard) error

	// DeleteMessage removes a previously sent or received message.
	DeleteMessage(ctx context.Context, conversationID string, messageID int64) error
}
