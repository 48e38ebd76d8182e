package services

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/HammerMeetNail/bookbuddy/internal/models"
)

const (
	MaxMessageLength      = 2000
	DefaultRecentMessages = 50
	MaxRecentMessages     = 500
)

const conversationColumns = `id, listing_id, request_id, participant_a, participant_b, status, created_at, updated_at`

const messageColumns = `id, conversation_id, sender_id, content, kind, created_at`

const (
	exchangeCompletedText = "Exchange completed successfully!"
	exchangeCancelledText = "Exchange was cancelled."
)

var acceptedText = map[models.ExchangeType]string{
	models.ExchangeGiveAway: "Give away request accepted! You can now arrange the pickup details.",
	models.ExchangeLend:     "Lending request accepted! You can now arrange the pickup and return details.",
	models.ExchangeSwap:     "Swap request accepted! You can now arrange the book exchange details.",
}

type ConversationService struct {
	db DB
}

func NewConversationService(db DB) *ConversationService {
	return &ConversationService{db: db}
}

// CreateForRequest opens the conversation for an accepted request.
func (s *ConversationService) CreateForRequest(ctx context.Context, requestID uuid.UUID) (*models.Conversation, error) {
	var conv *models.Conversation
	err := runInTx(ctx, s.db, func(tx Tx) error {
		var err error
		conv, err = s.createForRequestInTx(ctx, tx, requestID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return conv, nil
}

func (s *ConversationService) createForRequestInTx(ctx context.Context, tx Tx, requestID uuid.UUID) (*models.Conversation, error) {
	req, err := lockRequestForUpdate(ctx, tx, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status != models.RequestStatusAccepted {
		return nil, ErrConversationRequiresAccepted
	}

	var exists bool
	err = tx.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM conversations WHERE request_id = $1)`,
		requestID,
	).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("check conversation: %w", err)
	}
	if exists {
		return nil, ErrConversationExists
	}

	conv, err := scanConversation(tx.QueryRow(ctx,
		`INSERT INTO conversations (listing_id, request_id, participant_a, participant_b, status)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (request_id) DO NOTHING
		 RETURNING `+conversationColumns,
		req.ListingID, req.ID, req.RequesterID, req.OwnerID, models.ConversationStatusActive,
	))
	if isNoRows(err) {
		return nil, ErrConversationExists
	}
	if err != nil {
		return nil, fmt.Errorf("insert conversation: %w", err)
	}

	if _, err := insertMessage(ctx, tx, conv.ID, nil, acceptedText[req.Type()], models.MessageKindSystem); err != nil {
		return nil, err
	}
	return conv, nil
}

// PostMessage appends a text message from one of the participants.
func (s *ConversationService) PostMessage(ctx context.Context, conversationID uuid.UUID, senderID int64, content string) (*models.Message, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyMessage
	}
	if utf8.RuneCountInString(content) > MaxMessageLength {
		return nil, ErrMessageTooLong
	}

	var msg *models.Message
	err := runInTx(ctx, s.db, func(tx Tx) error {
		conv, err := lockConversationForUpdate(ctx, tx, conversationID)
		if err != nil {
			return err
		}
		if !conv.Involves(senderID) {
			return ErrNotParticipant
		}
		if !conv.IsActive() {
			return ErrConversationNotActive
		}

		sender := senderID
		msg, err = insertMessage(ctx, tx, conv.ID, &sender, content, models.MessageKindText)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `UPDATE conversations SET updated_at = NOW() WHERE id = $1`, conv.ID)
		if err != nil {
			return fmt.Errorf("touch conversation: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// Close ends an active conversation with outcome COMPLETED or CANCELLED.
func (s *ConversationService) Close(ctx context.Context, conversationID uuid.UUID, callerID int64, outcome models.ConversationStatus) (*models.Conversation, error) {
	if outcome != models.ConversationStatusCompleted && outcome != models.ConversationStatusCancelled {
		return nil, ErrInvalidOutcome
	}

	var conv *models.Conversation
	err := runInTx(ctx, s.db, func(tx Tx) error {
		var err error
		conv, err = lockConversationForUpdate(ctx, tx, conversationID)
		if err != nil {
			return err
		}
		if !conv.Involves(callerID) {
			return ErrNotParticipant
		}
		return closeConversation(ctx, tx, conv, outcome)
	})
	if err != nil {
		return nil, err
	}
	return conv, nil
}

// closeForRequestInTx closes the request's conversation if it is still active.
// A missing or already closed conversation is not an error.
func (s *ConversationService) closeForRequestInTx(ctx context.Context, tx Tx, requestID uuid.UUID, outcome models.ConversationStatus) (*models.Conversation, error) {
	conv, err := scanConversation(tx.QueryRow(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE request_id = $1 FOR UPDATE`,
		requestID,
	))
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load conversation by request: %w", err)
	}
	if !conv.IsActive() {
		return conv, nil
	}
	if err := closeConversation(ctx, tx, conv, outcome); err != nil {
		return nil, err
	}
	return conv, nil
}

func closeConversation(ctx context.Context, tx Tx, conv *models.Conversation, outcome models.ConversationStatus) error {
	if !conv.IsActive() {
		return ErrConversationNotActive
	}

	err := tx.QueryRow(ctx,
		`UPDATE conversations SET status = $2, updated_at = NOW() WHERE id = $1 RETURNING updated_at`,
		conv.ID, outcome,
	).Scan(&conv.UpdatedAt)
	if err != nil {
		return fmt.Errorf("close conversation: %w", err)
	}
	conv.Status = outcome

	content, kind := exchangeCompletedText, models.MessageKindExchangeCompleted
	if outcome == models.ConversationStatusCancelled {
		content, kind = exchangeCancelledText, models.MessageKindExchangeCancelled
	}
	_, err = insertMessage(ctx, tx, conv.ID, nil, content, kind)
	return err
}

func (s *ConversationService) Get(ctx context.Context, conversationID uuid.UUID, callerID int64) (*models.Conversation, error) {
	conv, err := getConversation(ctx, s.db, `WHERE id = $1`, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.Involves(callerID) {
		return nil, ErrNotParticipant
	}
	return conv, nil
}

func (s *ConversationService) GetByRequestID(ctx context.Context, requestID uuid.UUID, callerID int64) (*models.Conversation, error) {
	conv, err := getConversation(ctx, s.db, `WHERE request_id = $1`, requestID)
	if err != nil {
		return nil, err
	}
	if !conv.Involves(callerID) {
		return nil, ErrNotParticipant
	}
	return conv, nil
}

// ListForUser returns the user's conversations, most recently active first.
// An empty status returns all of them.
func (s *ConversationService) ListForUser(ctx context.Context, userID int64, status models.ConversationStatus) ([]models.ConversationWithUnread, error) {
	query := `SELECT c.id, c.listing_id, c.request_id, c.participant_a, c.participant_b, c.status,
			c.created_at, c.updated_at,
			(SELECT COUNT(*) FROM messages m
			 WHERE m.conversation_id = c.id AND m.kind = 'TEXT' AND m.sender_id <> $1) AS unread
		 FROM conversations c
		 WHERE (c.participant_a = $1 OR c.participant_b = $1)`
	args := []any{userID}
	if status != "" {
		query += ` AND c.status = $2`
		args = append(args, status)
	}
	query += ` ORDER BY c.updated_at DESC`

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	conversations := []models.ConversationWithUnread{}
	for rows.Next() {
		var c models.ConversationWithUnread
		if err := rows.Scan(&c.ID, &c.ListingID, &c.RequestID, &c.ParticipantA, &c.ParticipantB, &c.Status,
			&c.CreatedAt, &c.UpdatedAt, &c.UnreadCount); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		conversations = append(conversations, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversations: %w", err)
	}
	return conversations, nil
}

// Messages returns the full log, oldest first.
func (s *ConversationService) Messages(ctx context.Context, conversationID uuid.UUID, callerID int64) ([]models.Message, error) {
	if _, err := s.Get(ctx, conversationID, callerID); err != nil {
		return nil, err
	}
	return s.listMessages(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE conversation_id = $1 ORDER BY created_at ASC, id ASC`,
		conversationID)
}

// RecentMessages returns the newest n messages, newest first.
func (s *ConversationService) RecentMessages(ctx context.Context, conversationID uuid.UUID, callerID int64, n int) ([]models.Message, error) {
	if _, err := s.Get(ctx, conversationID, callerID); err != nil {
		return nil, err
	}
	if n <= 0 {
		n = DefaultRecentMessages
	}
	if n > MaxRecentMessages {
		n = MaxRecentMessages
	}
	return s.listMessages(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE conversation_id = $1
		 ORDER BY created_at DESC, id DESC LIMIT $2`,
		conversationID, n)
}

// LatestMessage returns nil when the conversation has no messages.
func (s *ConversationService) LatestMessage(ctx context.Context, conversationID uuid.UUID, callerID int64) (*models.Message, error) {
	msgs, err := s.RecentMessages(ctx, conversationID, callerID, 1)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, nil
	}
	return &msgs[0], nil
}

// UnreadCount counts text messages the user did not write. There is no read
// cursor, so this is the same number every time until someone posts.
func (s *ConversationService) UnreadCount(ctx context.Context, conversationID uuid.UUID, userID int64) (int, error) {
	if _, err := s.Get(ctx, conversationID, userID); err != nil {
		return 0, err
	}
	var count int
	err := s.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM messages WHERE conversation_id = $1 AND kind = 'TEXT' AND sender_id <> $2`,
		conversationID, userID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count unread messages: %w", err)
	}
	return count, nil
}

func (s *ConversationService) listMessages(ctx context.Context, sql string, args ...any) ([]models.Message, error) {
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	messages := []models.Message{}
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, *msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return messages, nil
}

func insertMessage(ctx context.Context, q DBConn, conversationID uuid.UUID, senderID *int64, content string, kind models.MessageKind) (*models.Message, error) {
	msg, err := scanMessage(q.QueryRow(ctx,
		`INSERT INTO messages (conversation_id, sender_id, content, kind)
		 VALUES ($1, $2, $3, $4)
		 RETURNING `+messageColumns,
		conversationID, senderID, content, kind,
	))
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	return msg, nil
}

func lockConversationForUpdate(ctx context.Context, q DBConn, id uuid.UUID) (*models.Conversation, error) {
	conv, err := scanConversation(q.QueryRow(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE id = $1 FOR UPDATE`, id))
	if isNoRows(err) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock conversation: %w", err)
	}
	return conv, nil
}

func getConversation(ctx context.Context, q DBConn, where string, arg any) (*models.Conversation, error) {
	conv, err := scanConversation(q.QueryRow(ctx, `SELECT `+conversationColumns+` FROM conversations `+where, arg))
	if isNoRows(err) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return conv, nil
}

func scanConversation(row Row) (*models.Conversation, error) {
	c := &models.Conversation{}
	err := row.Scan(&c.ID, &c.ListingID, &c.RequestID, &c.ParticipantA, &c.ParticipantB, &c.Status,
		&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func scanMessage(row Row) (*models.Message, error) {
	m := &models.Message{}
	if err := row.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Content, &m.Kind, &m.CreatedAt); err != nil {
		return nil, err
	}
	return m, nil
}
