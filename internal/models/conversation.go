package models

import (
	"time"

	"github.com/google/uuid"
)

type ConversationStatus string

const (
	ConversationStatusActive    ConversationStatus = "ACTIVE"
	ConversationStatusCompleted ConversationStatus = "COMPLETED"
	ConversationStatusCancelled ConversationStatus = "CANCELLED"
)

type MessageKind string

const (
	MessageKindText              MessageKind = "TEXT"
	MessageKindSystem            MessageKind = "SYSTEM"
	MessageKindExchangeCompleted MessageKind = "EXCHANGE_COMPLETED"
	MessageKindExchangeCancelled MessageKind = "EXCHANGE_CANCELLED"
)

// Conversation is the coordination channel for one accepted exchange request.
// ParticipantA is the requester, ParticipantB the listing owner.
type Conversation struct {
	ID           uuid.UUID          `json:"id"`
	ListingID    uuid.UUID          `json:"listing_id"`
	RequestID    uuid.UUID          `json:"request_id"`
	ParticipantA int64              `json:"participant_a"`
	ParticipantB int64              `json:"participant_b"`
	Status       ConversationStatus `json:"status"`
	CreatedAt    time.Time          `json:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
}

func (c *Conversation) Involves(userID int64) bool {
	return c.ParticipantA == userID || c.ParticipantB == userID
}

func (c *Conversation) IsActive() bool {
	return c.Status == ConversationStatusActive
}

// Message is one entry of a conversation log. SenderID is nil for system entries.
type Message struct {
	ID             int64       `json:"id"`
	ConversationID uuid.UUID   `json:"conversation_id"`
	SenderID       *int64      `json:"sender_id,omitempty"`
	Content        string      `json:"content"`
	Kind           MessageKind `json:"kind"`
	CreatedAt      time.Time   `json:"created_at"`
}

type ConversationWithUnread struct {
	Conversation
	UnreadCount int `json:"unread_count"`
}
