package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/HammerMeetNail/bookbuddy/internal/models"
	"github.com/HammerMeetNail/bookbuddy/internal/services"
)

type ExchangeHandler struct {
	orchestrator  services.ExchangeOrchestratorInterface
	queries       services.ExchangeQueryInterface
	conversations services.ConversationServiceInterface
}

func NewExchangeHandler(
	orchestrator services.ExchangeOrchestratorInterface,
	queries services.ExchangeQueryInterface,
	conversations services.ConversationServiceInterface,
) *ExchangeHandler {
	return &ExchangeHandler{orchestrator: orchestrator, queries: queries, conversations: conversations}
}

type CreateRequestBody struct {
	ListingID             uuid.UUID           `json:"listing_id"`
	RequestType           models.ExchangeType `json:"request_type"`
	Message               string              `json:"message"`
	RequestedDurationDays int                 `json:"requested_duration_days"`
	OfferedListingID      *uuid.UUID          `json:"offered_listing_id"`
}

type RequestResponse struct {
	Request *models.ExchangeRequest `json:"request"`
}

type RequestCountsResponse struct {
	PendingReceived int `json:"pending_received"`
	UpdatedSent     int `json:"updated_sent"`
}

func (h *ExchangeHandler) Create(w http.ResponseWriter, r *http.Request) {
	callerID, ok := requireCaller(w, r)
	if !ok {
		return
	}

	var body CreateRequestBody
	if !decodeBody(w, r, &body) {
		return
	}
	if body.ListingID == uuid.Nil {
		writeError(w, http.StatusBadRequest, "listing_id is required")
		return
	}

	var (
		req *models.ExchangeRequest
		err error
	)
	ctx := r.Context()
	switch body.RequestType {
	case models.ExchangeGiveAway:
		req, err = h.orchestrator.CreateGiveAwayRequest(ctx, body.ListingID, callerID, body.Message)
	case models.ExchangeLend:
		req, err = h.orchestrator.CreateLendRequest(ctx, body.ListingID, callerID, body.Message, body.RequestedDurationDays)
	case models.ExchangeSwap:
		if body.OfferedListingID == nil || *body.OfferedListingID == uuid.Nil {
			err = services.ErrOfferedListingUnset
			break
		}
		req, err = h.orchestrator.CreateSwapRequest(ctx, body.ListingID, callerID, *body.OfferedListingID, body.Message)
	default:
		err = services.ErrInvalidRequestType
	}
	if err != nil {
		writeServiceError(w, "creating exchange request", err)
		return
	}
	writeJSON(w, http.StatusCreated, RequestResponse{Request: req})
}

// Sent lists the caller's outgoing requests. ?active=1 limits to PENDING and ACCEPTED.
func (h *ExchangeHandler) Sent(w http.ResponseWriter, r *http.Request) {
	callerID, ok := requireCaller(w, r)
	if !ok {
		return
	}

	list := h.queries.ListByRequester
	if r.URL.Query().Get("active") == "1" {
		list = h.queries.ListActiveByRequester
	}
	requests, err := list(r.Context(), callerID)
	if err != nil {
		writeServiceError(w, "listing sent requests", err)
		return
	}
	writeJSON(w, http.StatusOK, RequestListResponse{Requests: requests})
}

// Received lists requests made against the caller's listings.
func (h *ExchangeHandler) Received(w http.ResponseWriter, r *http.Request) {
	callerID, ok := requireCaller(w, r)
	if !ok {
		return
	}

	list := h.queries.ListByOwner
	if r.URL.Query().Get("active") == "1" {
		list = h.queries.ListActiveByOwner
	}
	requests, err := list(r.Context(), callerID)
	if err != nil {
		writeServiceError(w, "listing received requests", err)
		return
	}
	writeJSON(w, http.StatusOK, RequestListResponse{Requests: requests})
}

func (h *ExchangeHandler) Counts(w http.ResponseWriter, r *http.Request) {
	callerID, ok := requireCaller(w, r)
	if !ok {
		return
	}

	pending, err := h.queries.CountPendingByOwner(r.Context(), callerID)
	if err != nil {
		writeServiceError(w, "counting pending requests", err)
		return
	}
	updated, err := h.queries.CountUpdatedSent(r.Context(), callerID)
	if err != nil {
		writeServiceError(w, "counting updated requests", err)
		return
	}
	writeJSON(w, http.StatusOK, RequestCountsResponse{PendingReceived: pending, UpdatedSent: updated})
}

func (h *ExchangeHandler) Get(w http.ResponseWriter, r *http.Request) {
	callerID, ok := requireCaller(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id", "request")
	if !ok {
		return
	}

	req, err := h.queries.Get(r.Context(), id, callerID)
	if err != nil {
		writeServiceError(w, "getting exchange request", err)
		return
	}
	writeJSON(w, http.StatusOK, RequestResponse{Request: req})
}

// Conversation returns the conversation opened when the request was accepted.
func (h *ExchangeHandler) Conversation(w http.ResponseWriter, r *http.Request) {
	callerID, ok := requireCaller(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id", "request")
	if !ok {
		return
	}

	conv, err := h.conversations.GetByRequestID(r.Context(), id, callerID)
	if err != nil {
		writeServiceError(w, "getting request conversation", err)
		return
	}
	writeJSON(w, http.StatusOK, ConversationResponse{Conversation: conv})
}

func (h *ExchangeHandler) Accept(w http.ResponseWriter, r *http.Request) {
	callerID, ok := requireCaller(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id", "request")
	if !ok {
		return
	}

	result, err := h.orchestrator.AcceptRequest(r.Context(), id, callerID)
	if err != nil {
		writeServiceError(w, "accepting exchange request", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *ExchangeHandler) Reject(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "rejecting exchange request", h.orchestrator.RejectRequest)
}

func (h *ExchangeHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "cancelling exchange request", h.orchestrator.CancelRequest)
}

func (h *ExchangeHandler) Complete(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "completing exchange request", h.orchestrator.CompleteRequest)
}

func (h *ExchangeHandler) Return(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "returning lent book", h.orchestrator.ReturnLentBook)
}

type requestTransition func(ctx context.Context, requestID uuid.UUID, callerID int64) (*models.ExchangeRequest, error)

func (h *ExchangeHandler) transition(w http.ResponseWriter, r *http.Request, action string, fn requestTransition) {
	callerID, ok := requireCaller(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id", "request")
	if !ok {
		return
	}

	req, err := fn(r.Context(), id, callerID)
	if err != nil {
		writeServiceError(w, action, err)
		return
	}
	writeJSON(w, http.StatusOK, RequestResponse{Request: req})
}
