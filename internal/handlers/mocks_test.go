package handlers

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/HammerMeetNail/bookbuddy/internal/models"
	"github.com/HammerMeetNail/bookbuddy/internal/services"
	"github.com/HammerMeetNail/bookbuddy/internal/testutil"
)

var errUnexpectedCall = errors.New("unexpected call")

func assertErrorResponse(t *testing.T, rr *httptest.ResponseRecorder, code int, msg string) {
	t.Helper()
	testutil.AssertStatusCode(t, rr, code)
	testutil.AssertJSONContains(t, rr.Body.Bytes(), "error", msg)
}

type mockListingService struct {
	CreateFunc        func(ctx context.Context, ownerID int64, params services.CreateListingParams) (*models.Listing, error)
	GetFunc           func(ctx context.Context, id uuid.UUID) (*models.Listing, error)
	ListByOwnerFunc   func(ctx context.Context, ownerID int64) ([]models.Listing, error)
	ListAvailableFunc func(ctx context.Context, params services.ListingSearchParams) ([]models.Listing, error)
	UpdateFunc        func(ctx context.Context, id uuid.UUID, ownerID int64, params services.UpdateListingParams) (*models.Listing, error)
	DeleteFunc        func(ctx context.Context, id uuid.UUID, ownerID int64) error
}

func (m *mockListingService) Create(ctx context.Context, ownerID int64, params services.CreateListingParams) (*models.Listing, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, ownerID, params)
	}
	return nil, errUnexpectedCall
}

func (m *mockListingService) Get(ctx context.Context, id uuid.UUID) (*models.Listing, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, id)
	}
	return nil, errUnexpectedCall
}

func (m *mockListingService) ListByOwner(ctx context.Context, ownerID int64) ([]models.Listing, error) {
	if m.ListByOwnerFunc != nil {
		return m.ListByOwnerFunc(ctx, ownerID)
	}
	return nil, errUnexpectedCall
}

func (m *mockListingService) ListAvailable(ctx context.Context, params services.ListingSearchParams) ([]models.Listing, error) {
	if m.ListAvailableFunc != nil {
		return m.ListAvailableFunc(ctx, params)
	}
	return nil, errUnexpectedCall
}

func (m *mockListingService) Update(ctx context.Context, id uuid.UUID, ownerID int64, params services.UpdateListingParams) (*models.Listing, error) {
	if m.UpdateFunc != nil {
		return m.UpdateFunc(ctx, id, ownerID, params)
	}
	return nil, errUnexpectedCall
}

func (m *mockListingService) Delete(ctx context.Context, id uuid.UUID, ownerID int64) error {
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, id, ownerID)
	}
	return errUnexpectedCall
}

type mockExchangeQueries struct {
	GetFunc                   func(ctx context.Context, requestID uuid.UUID, callerID int64) (*models.ExchangeRequest, error)
	ListByRequesterFunc       func(ctx context.Context, requesterID int64) ([]models.ExchangeRequest, error)
	ListByOwnerFunc           func(ctx context.Context, ownerID int64) ([]models.ExchangeRequest, error)
	ListActiveByRequesterFunc func(ctx context.Context, requesterID int64) ([]models.ExchangeRequest, error)
	ListActiveByOwnerFunc     func(ctx context.Context, ownerID int64) ([]models.ExchangeRequest, error)
	ListByListingFunc         func(ctx context.Context, listingID uuid.UUID, callerID int64) ([]models.ExchangeRequest, error)
	CountPendingByOwnerFunc   func(ctx context.Context, ownerID int64) (int, error)
	CountUpdatedSentFunc      func(ctx context.Context, requesterID int64) (int, error)
}

func (m *mockExchangeQueries) Get(ctx context.Context, requestID uuid.UUID, callerID int64) (*models.ExchangeRequest, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, requestID, callerID)
	}
	return nil, errUnexpectedCall
}

func (m *mockExchangeQueries) ListByRequester(ctx context.Context, requesterID int64) ([]models.ExchangeRequest, error) {
	if m.ListByRequesterFunc != nil {
		return m.ListByRequesterFunc(ctx, requesterID)
	}
	return nil, errUnexpectedCall
}

func (m *mockExchangeQueries) ListByOwner(ctx context.Context, ownerID int64) ([]models.ExchangeRequest, error) {
	if m.ListByOwnerFunc != nil {
		return m.ListByOwnerFunc(ctx, ownerID)
	}
	return nil, errUnexpectedCall
}

func (m *mockExchangeQueries) ListActiveByRequester(ctx context.Context, requesterID int64) ([]models.ExchangeRequest, error) {
	if m.ListActiveByRequesterFunc != nil {
		return m.ListActiveByRequesterFunc(ctx, requesterID)
	}
	return nil, errUnexpectedCall
}

func (m *mockExchangeQueries) ListActiveByOwner(ctx context.Context, ownerID int64) ([]models.ExchangeRequest, error) {
	if m.ListActiveByOwnerFunc != nil {
		return m.ListActiveByOwnerFunc(ctx, ownerID)
	}
	return nil, errUnexpectedCall
}

func (m *mockExchangeQueries) ListByListing(ctx context.Context, listingID uuid.UUID, callerID int64) ([]models.ExchangeRequest, error) {
	if m.ListByListingFunc != nil {
		return m.ListByListingFunc(ctx, listingID, callerID)
	}
	return nil, errUnexpectedCall
}

func (m *mockExchangeQueries) CountPendingByOwner(ctx context.Context, ownerID int64) (int, error) {
	if m.CountPendingByOwnerFunc != nil {
		return m.CountPendingByOwnerFunc(ctx, ownerID)
	}
	return 0, errUnexpectedCall
}

func (m *mockExchangeQueries) CountUpdatedSent(ctx context.Context, requesterID int64) (int, error) {
	if m.CountUpdatedSentFunc != nil {
		return m.CountUpdatedSentFunc(ctx, requesterID)
	}
	return 0, errUnexpectedCall
}

type mockOrchestrator struct {
	CreateGiveAwayFunc func(ctx context.Context, listingID uuid.UUID, requesterID int64, message string) (*models.ExchangeRequest, error)
	CreateLendFunc     func(ctx context.Context, listingID uuid.UUID, requesterID int64, message string, days int) (*models.ExchangeRequest, error)
	CreateSwapFunc     func(ctx context.Context, listingID uuid.UUID, requesterID int64, offeredID uuid.UUID, message string) (*models.ExchangeRequest, error)
	AcceptFunc         func(ctx context.Context, requestID uuid.UUID, callerID int64) (*services.AcceptResult, error)
	TransitionFunc     func(action string, requestID uuid.UUID, callerID int64) (*models.ExchangeRequest, error)
}

func (m *mockOrchestrator) CreateGiveAwayRequest(ctx context.Context, listingID uuid.UUID, requesterID int64, message string) (*models.ExchangeRequest, error) {
	if m.CreateGiveAwayFunc != nil {
		return m.CreateGiveAwayFunc(ctx, listingID, requesterID, message)
	}
	return nil, errUnexpectedCall
}

func (m *mockOrchestrator) CreateLendRequest(ctx context.Context, listingID uuid.UUID, requesterID int64, message string, days int) (*models.ExchangeRequest, error) {
	if m.CreateLendFunc != nil {
		return m.CreateLendFunc(ctx, listingID, requesterID, message, days)
	}
	return nil, errUnexpectedCall
}

func (m *mockOrchestrator) CreateSwapRequest(ctx context.Context, listingID uuid.UUID, requesterID int64, offeredID uuid.UUID, message string) (*models.ExchangeRequest, error) {
	if m.CreateSwapFunc != nil {
		return m.CreateSwapFunc(ctx, listingID, requesterID, offeredID, message)
	}
	return nil, errUnexpectedCall
}

func (m *mockOrchestrator) AcceptRequest(ctx context.Context, requestID uuid.UUID, callerID int64) (*services.AcceptResult, error) {
	if m.AcceptFunc != nil {
		return m.AcceptFunc(ctx, requestID, callerID)
	}
	return nil, errUnexpectedCall
}

func (m *mockOrchestrator) transition(action string, requestID uuid.UUID, callerID int64) (*models.ExchangeRequest, error) {
	if m.TransitionFunc != nil {
		return m.TransitionFunc(action, requestID, callerID)
	}
	return nil, errUnexpectedCall
}

func (m *mockOrchestrator) RejectRequest(ctx context.Context, requestID uuid.UUID, callerID int64) (*models.ExchangeRequest, error) {
	return m.transition("reject", requestID, callerID)
}

func (m *mockOrchestrator) CancelRequest(ctx context.Context, requestID uuid.UUID, callerID int64) (*models.ExchangeRequest, error) {
	return m.transition("cancel", requestID, callerID)
}

func (m *mockOrchestrator) CompleteRequest(ctx context.Context, requestID uuid.UUID, callerID int64) (*models.ExchangeRequest, error) {
	return m.transition("complete", requestID, callerID)
}

func (m *mockOrchestrator) ReturnLentBook(ctx context.Context, requestID uuid.UUID, callerID int64) (*models.ExchangeRequest, error) {
	return m.transition("return", requestID, callerID)
}

type mockConversationService struct {
	GetFunc            func(ctx context.Context, conversationID uuid.UUID, callerID int64) (*models.Conversation, error)
	GetByRequestIDFunc func(ctx context.Context, requestID uuid.UUID, callerID int64) (*models.Conversation, error)
	ListForUserFunc    func(ctx context.Context, userID int64, status models.ConversationStatus) ([]models.ConversationWithUnread, error)
	MessagesFunc       func(ctx context.Context, conversationID uuid.UUID, callerID int64) ([]models.Message, error)
	RecentMessagesFunc func(ctx context.Context, conversationID uuid.UUID, callerID int64, n int) ([]models.Message, error)
	LatestMessageFunc  func(ctx context.Context, conversationID uuid.UUID, callerID int64) (*models.Message, error)
	UnreadCountFunc    func(ctx context.Context, conversationID uuid.UUID, userID int64) (int, error)
	PostMessageFunc    func(ctx context.Context, conversationID uuid.UUID, senderID int64, content string) (*models.Message, error)
	CloseFunc          func(ctx context.Context, conversationID uuid.UUID, callerID int64, outcome models.ConversationStatus) (*models.Conversation, error)
}

func (m *mockConversationService) Get(ctx context.Context, conversationID uuid.UUID, callerID int64) (*models.Conversation, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, conversationID, callerID)
	}
	return nil, errUnexpectedCall
}

func (m *mockConversationService) GetByRequestID(ctx context.Context, requestID uuid.UUID, callerID int64) (*models.Conversation, error) {
	if m.GetByRequestIDFunc != nil {
		return m.GetByRequestIDFunc(ctx, requestID, callerID)
	}
	return nil, errUnexpectedCall
}

func (m *mockConversationService) ListForUser(ctx context.Context, userID int64, status models.ConversationStatus) ([]models.ConversationWithUnread, error) {
	if m.ListForUserFunc != nil {
		return m.ListForUserFunc(ctx, userID, status)
	}
	return nil, errUnexpectedCall
}

func (m *mockConversationService) Messages(ctx context.Context, conversationID uuid.UUID, callerID int64) ([]models.Message, error) {
	if m.MessagesFunc != nil {
		return m.MessagesFunc(ctx, conversationID, callerID)
	}
	return nil, errUnexpectedCall
}

func (m *mockConversationService) RecentMessages(ctx context.Context, conversationID uuid.UUID, callerID int64, n int) ([]models.Message, error) {
	if m.RecentMessagesFunc != nil {
		return m.RecentMessagesFunc(ctx, conversationID, callerID, n)
	}
	return nil, errUnexpectedCall
}

func (m *mockConversationService) LatestMessage(ctx context.Context, conversationID uuid.UUID, callerID int64) (*models.Message, error) {
	if m.LatestMessageFunc != nil {
		return m.LatestMessageFunc(ctx, conversationID, callerID)
	}
	return nil, errUnexpectedCall
}

func (m *mockConversationService) UnreadCount(ctx context.Context, conversationID uuid.UUID, userID int64) (int, error) {
	if m.UnreadCountFunc != nil {
		return m.UnreadCountFunc(ctx, conversationID, userID)
	}
	return 0, errUnexpectedCall
}

func (m *mockConversationService) PostMessage(ctx context.Context, conversationID uuid.UUID, senderID int64, content string) (*models.Message, error) {
	if m.PostMessageFunc != nil {
		return m.PostMessageFunc(ctx, conversationID, senderID, content)
	}
	return nil, errUnexpectedCall
}

func (m *mockConversationService) Close(ctx context.Context, conversationID uuid.UUID, callerID int64, outcome models.ConversationStatus) (*models.Conversation, error) {
	if m.CloseFunc != nil {
		return m.CloseFunc(ctx, conversationID, callerID, outcome)
	}
	return nil, errUnexpectedCall
}
