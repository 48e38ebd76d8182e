package services

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/HammerMeetNail/bookbuddy/internal/logging"
	"github.com/HammerMeetNail/bookbuddy/internal/models"
)

// AcceptResult is an accepted request together with its conversation.
type AcceptResult struct {
	Request      *models.ExchangeRequest `json:"request"`
	Conversation *models.Conversation    `json:"conversation"`
}

// ExchangeOrchestrator is what the request layer calls. It keeps requests and
// conversations in step by running both in the same transaction.
type ExchangeOrchestrator struct {
	db            DB
	exchanges     *ExchangeService
	conversations *ConversationService
}

func NewExchangeOrchestrator(db DB, exchanges *ExchangeService, conversations *ConversationService) *ExchangeOrchestrator {
	return &ExchangeOrchestrator{db: db, exchanges: exchanges, conversations: conversations}
}

func (o *ExchangeOrchestrator) CreateGiveAwayRequest(ctx context.Context, listingID uuid.UUID, requesterID int64, message string) (*models.ExchangeRequest, error) {
	return o.exchanges.CreateGiveAwayRequest(ctx, listingID, requesterID, message)
}

func (o *ExchangeOrchestrator) CreateLendRequest(ctx context.Context, listingID uuid.UUID, requesterID int64, message string, requestedDurationDays int) (*models.ExchangeRequest, error) {
	return o.exchanges.CreateLendRequest(ctx, listingID, requesterID, message, requestedDurationDays)
}

func (o *ExchangeOrchestrator) CreateSwapRequest(ctx context.Context, listingID uuid.UUID, requesterID int64, offeredListingID uuid.UUID, message string) (*models.ExchangeRequest, error) {
	return o.exchanges.CreateSwapRequest(ctx, listingID, requesterID, offeredListingID, message)
}

// AcceptRequest accepts and opens the conversation. If a conversation already
// exists for the request the existing one is returned.
func (o *ExchangeOrchestrator) AcceptRequest(ctx context.Context, requestID uuid.UUID, callerID int64) (*AcceptResult, error) {
	result := &AcceptResult{}
	err := runInTx(ctx, o.db, func(tx Tx) error {
		req, err := o.exchanges.acceptInTx(ctx, tx, requestID, callerID)
		if err != nil {
			return err
		}
		result.Request = req

		conv, err := o.conversations.createForRequestInTx(ctx, tx, requestID)
		if errors.Is(err, ErrConversationExists) {
			logging.Info("Conversation already exists for accepted request", map[string]interface{}{
				"request_id": requestID.String(),
			})
			conv, err = getConversation(ctx, tx, `WHERE request_id = $1`, requestID)
		}
		if err != nil {
			return err
		}
		result.Conversation = conv
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (o *ExchangeOrchestrator) RejectRequest(ctx context.Context, requestID uuid.UUID, callerID int64) (*models.ExchangeRequest, error) {
	return o.thenClose(ctx, requestID, callerID, o.exchanges.rejectInTx, models.ConversationStatusCancelled)
}

func (o *ExchangeOrchestrator) CancelRequest(ctx context.Context, requestID uuid.UUID, callerID int64) (*models.ExchangeRequest, error) {
	return o.thenClose(ctx, requestID, callerID, o.exchanges.cancelInTx, models.ConversationStatusCancelled)
}

func (o *ExchangeOrchestrator) CompleteRequest(ctx context.Context, requestID uuid.UUID, callerID int64) (*models.ExchangeRequest, error) {
	return o.thenClose(ctx, requestID, callerID, o.exchanges.completeInTx, models.ConversationStatusCompleted)
}

func (o *ExchangeOrchestrator) ReturnLentBook(ctx context.Context, requestID uuid.UUID, callerID int64) (*models.ExchangeRequest, error) {
	return o.thenClose(ctx, requestID, callerID, o.exchanges.returnInTx, models.ConversationStatusCompleted)
}

// thenClose runs a request transition and closes the request's conversation
// with outcome in the same transaction.
func (o *ExchangeOrchestrator) thenClose(ctx context.Context, requestID uuid.UUID, callerID int64, fn transitionFunc, outcome models.ConversationStatus) (*models.ExchangeRequest, error) {
	var req *models.ExchangeRequest
	err := runInTx(ctx, o.db, func(tx Tx) error {
		var err error
		req, err = fn(ctx, tx, requestID, callerID)
		if err != nil {
			return err
		}

		conv, err := o.conversations.closeForRequestInTx(ctx, tx, requestID, outcome)
		if err != nil {
			return err
		}
		if conv == nil {
			logging.Debug("No conversation to close for request", map[string]interface{}{
				"request_id": requestID.String(),
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return req, nil
}
