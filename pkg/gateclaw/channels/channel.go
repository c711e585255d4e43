// Package channels defines the interfaces and types the GateClaw core uses
// to talk to a messaging gateway. The gateway (currently WhatsApp via
// whatsmeow) delivers incoming envelopes and exposes fallible remote
// operations: send, remove participant, promote participant.
package channels

import (
	"context"
	"fmt"
	"time"
)

// ContentKind identifies the kind of envelope content.
type ContentKind string

const (
	ContentText  ContentKind = "text"
	ContentAudio ContentKind = "audio"
	ContentImage ContentKind = "image"
	ContentOther ContentKind = "other"
)

// Channel is the contract every messaging gateway must implement.
type Channel interface {
	// Name returns the gateway identifier (e.g. "whatsapp").
	Name() string

	// Connect establishes or re-establishes the gateway session.
	// Calling Connect while already connected is a no-op.
	Connect(ctx context.Context) error

	// Disconnect gracefully closes the session.
	Disconnect() error

	// Send sends a text message to the given chat.
	Send(ctx context.Context, to string, msg *OutgoingMessage) error

	// Receive returns the stream of incoming envelopes.
	Receive() <-chan *Envelope

	// IsConnected reports whether the session is established.
	IsConnected() bool

	// SelfID returns the bot's own identity on the gateway, or "" if
	// not yet paired.
	SelfID() string
}

// GroupAdminChannel extends Channel with group administration operations.
// All of these are remote calls that can fail; callers log failures and
// move on (they are never retried inside the moderation path).
type GroupAdminChannel interface {
	Channel

	// RemoveParticipant kicks a user from a group.
	RemoveParticipant(ctx context.Context, groupID, userID string) error

	// PromoteParticipant makes a user a group admin.
	PromoteParticipant(ctx context.Context, groupID, userID string) error
}

// Envelope is one inbound unit of gateway content. It is immutable once
// received and consumed exactly once by the pipeline.
type Envelope struct {
	// ID is the gateway-unique message identifier.
	ID string

	// ChatID is the conversation identifier (user JID or group JID).
	ChatID string

	// SenderID is the author of the message. In groups this is the
	// participant; in direct chats it equals ChatID.
	SenderID string

	// SenderName is the author's display name, if the gateway knows it.
	SenderName string

	// IsGroup indicates a group conversation.
	IsGroup bool

	// Kind is the content kind.
	Kind ContentKind

	// Text is the textual content (caption for media).
	Text string

	// Timestamp is when the message was sent.
	Timestamp time.Time

	// ReplyTo is the ID of the quoted message, if any.
	ReplyTo string

	// QuotedText is the text of the quoted message, if any.
	QuotedText string
}

// OutgoingMessage is a message to be sent through the gateway.
type OutgoingMessage struct {
	// Text is the message body.
	Text string

	// ReplyTo quotes the given message ID, if set.
	ReplyTo string
}

// Errors.
var (
	ErrNotConnected = fmt.Errorf("gateway is not connected")
	ErrNotPaired    = fmt.Errorf("gateway session is not paired")
)
