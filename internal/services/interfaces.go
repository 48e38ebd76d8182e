package services

import (
	"context"

	"github.com/google/uuid"

	"github.com/HammerMeetNail/bookbuddy/internal/models"
)

type ListingServiceInterface interface {
	Create(ctx context.Context, ownerID int64, params CreateListingParams) (*models.Listing, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Listing, error)
	ListByOwner(ctx context.Context, ownerID int64) ([]models.Listing, error)
	ListAvailable(ctx context.Context, params ListingSearchParams) ([]models.Listing, error)
	Update(ctx context.Context, id uuid.UUID, ownerID int64, params UpdateListingParams) (*models.Listing, error)
	Delete(ctx context.Context, id uuid.UUID, ownerID int64) error
}

// ExchangeQueryInterface covers the read side of the request lifecycle.
type ExchangeQueryInterface interface {
	Get(ctx context.Context, requestID uuid.UUID, callerID int64) (*models.ExchangeRequest, error)
	ListByRequester(ctx context.Context, requesterID int64) ([]models.ExchangeRequest, error)
	ListByOwner(ctx context.Context, ownerID int64) ([]models.ExchangeRequest, error)
	ListActiveByRequester(ctx context.Context, requesterID int64) ([]models.ExchangeRequest, error)
	ListActiveByOwner(ctx context.Context, ownerID int64) ([]models.ExchangeRequest, error)
	ListByListing(ctx context.Context, listingID uuid.UUID, callerID int64) ([]models.ExchangeRequest, error)
	CountPendingByOwner(ctx context.Context, ownerID int64) (int, error)
	CountUpdatedSent(ctx context.Context, requesterID int64) (int, error)
}

// ExchangeOrchestratorInterface is the write side the request layer calls.
type ExchangeOrchestratorInterface interface {
	CreateGiveAwayRequest(ctx context.Context, listingID uuid.UUID, requesterID int64, message string) (*models.ExchangeRequest, error)
	CreateLendRequest(ctx context.Context, listingID uuid.UUID, requesterID int64, message string, requestedDurationDays int) (*models.ExchangeRequest, error)
	CreateSwapRequest(ctx context.Context, listingID uuid.UUID, requesterID int64, offeredListingID uuid.UUID, message string) (*models.ExchangeRequest, error)
	AcceptRequest(ctx context.Context, requestID uuid.UUID, callerID int64) (*AcceptResult, error)
	RejectRequest(ctx context.Context, requestID uuid.UUID, callerID int64) (*models.ExchangeRequest, error)
	CancelRequest(ctx context.Context, requestID uuid.UUID, callerID int64) (*models.ExchangeRequest, error)
	CompleteRequest(ctx context.Context, requestID uuid.UUID, callerID int64) (*models.ExchangeRequest, error)
	ReturnLentBook(ctx context.Context, requestID uuid.UUID, callerID int64) (*models.ExchangeRequest, error)
}

type ConversationServiceInterface interface {
	Get(ctx context.Context, conversationID uuid.UUID, callerID int64) (*models.Conversation, error)
	GetByRequestID(ctx context.Context, requestID uuid.UUID, callerID int64) (*models.Conversation, error)
	ListForUser(ctx context.Context, userID int64, status models.ConversationStatus) ([]models.ConversationWithUnread, error)
	Messages(ctx context.Context, conversationID uuid.UUID, callerID int64) ([]models.Message, error)
	RecentMessages(ctx context.Context, conversationID uuid.UUID, callerID int64, n int) ([]models.Message, error)
	LatestMessage(ctx context.Context, conversationID uuid.UUID, callerID int64) (*models.Message, error)
	UnreadCount(ctx context.Context, conversationID uuid.UUID, userID int64) (int, error)
	PostMessage(ctx context.Context, conversationID uuid.UUID, senderID int64, content string) (*models.Message, error)
	Close(ctx context.Context, conversationID uuid.UUID, callerID int64, outcome models.ConversationStatus) (*models.Conversation, error)
}

var (
	_ ListingServiceInterface       = (*ListingService)(nil)
	_ ExchangeQueryInterface        = (*ExchangeService)(nil)
	_ ExchangeOrchestratorInterface = (*ExchangeOrchestrator)(nil)
	_ ConversationServiceInterface  = (*ConversationService)(nil)
)
