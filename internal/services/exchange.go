package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/HammerMeetNail/bookbuddy/internal/logging"
	"github.com/HammerMeetNail/bookbuddy/internal/models"
)

const requestColumns = `id, listing_id, requester_id, owner_id, request_type, status, message,
	offered_listing_id, requested_duration_days, created_at, updated_at`

// ExchangeService owns the exchange request lifecycle and is the only code
// that moves listings through the transition table. It does not touch
// conversations; application code drives transitions through
// ExchangeOrchestrator so an accepted request always has one.
type ExchangeService struct {
	db       DB
	listings *ListingService
}

func NewExchangeService(db DB, listings *ListingService) *ExchangeService {
	return &ExchangeService{db: db, listings: listings}
}

func (s *ExchangeService) CreateGiveAwayRequest(ctx context.Context, listingID uuid.UUID, requesterID int64, message string) (*models.ExchangeRequest, error) {
	return s.create(ctx, listingID, requesterID, message, models.GiveAwayTerms{})
}

func (s *ExchangeService) CreateLendRequest(ctx context.Context, listingID uuid.UUID, requesterID int64, message string, requestedDurationDays int) (*models.ExchangeRequest, error) {
	return s.create(ctx, listingID, requesterID, message, models.LendTerms{DurationDays: requestedDurationDays})
}

func (s *ExchangeService) CreateSwapRequest(ctx context.Context, listingID uuid.UUID, requesterID int64, offeredListingID uuid.UUID, message string) (*models.ExchangeRequest, error) {
	return s.create(ctx, listingID, requesterID, message, models.SwapTerms{OfferedListingID: offeredListingID})
}

func (s *ExchangeService) create(ctx context.Context, listingID uuid.UUID, requesterID int64, message string, terms models.ExchangeTerms) (*models.ExchangeRequest, error) {
	var created *models.ExchangeRequest
	err := runInTx(ctx, s.db, func(tx Tx) error {
		var err error
		created, err = s.createInTx(ctx, tx, listingID, requesterID, message, terms)
		return err
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (s *ExchangeService) createInTx(ctx context.Context, tx Tx, listingID uuid.UUID, requesterID int64, message string, terms models.ExchangeTerms) (*models.ExchangeRequest, error) {
	listing, offered, err := s.lockCreateTargets(ctx, tx, listingID, terms)
	if err != nil {
		return nil, err
	}

	if listing.OwnedBy(requesterID) {
		return nil, ErrSelfRequest
	}
	if offered != nil {
		switch {
		case offered.ID == listing.ID:
			return nil, ErrSwapSameListing
		case !offered.OwnedBy(requesterID):
			return nil, ErrOfferedListingNotOwned
		case offered.SharingMode != models.ExchangeSwap:
			return nil, ErrOfferedListingNotSwappable
		}
	}

	var duplicate bool
	err = tx.QueryRow(ctx,
		`SELECT EXISTS(
			SELECT 1 FROM exchange_requests
			WHERE listing_id = $1 AND requester_id = $2 AND status = $3
		)`,
		listing.ID, requesterID, models.RequestStatusPending,
	).Scan(&duplicate)
	if err != nil {
		return nil, fmt.Errorf("check pending requests: %w", err)
	}
	if duplicate {
		return nil, ErrDuplicatePendingRequest
	}

	if listing.SharingMode != terms.Type() {
		return nil, ErrSharingModeMismatch
	}
	if !listing.IsAvailable() {
		return nil, ErrListingNotAvailable
	}
	if offered != nil && !offered.IsAvailable() {
		return nil, ErrOfferedListingNotAvailable
	}
	if lend, ok := terms.(models.LendTerms); ok {
		if lend.DurationDays <= 0 {
			return nil, ErrInvalidDuration
		}
		if listing.MaxLendingDays == nil || lend.DurationDays > *listing.MaxLendingDays {
			return nil, ErrDurationExceedsMax
		}
	}

	requestType, offeredID, durationDays := models.TermsColumns(terms)
	req, err := scanRequest(tx.QueryRow(ctx,
		`INSERT INTO exchange_requests (listing_id, requester_id, owner_id, request_type, status,
			message, offered_listing_id, requested_duration_days)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING `+requestColumns,
		listing.ID, requesterID, listing.OwnerID, requestType, models.RequestStatusPending,
		message, offeredID, durationDays,
	))
	if isUniqueViolation(err) {
		return nil, ErrActiveRequestExists
	}
	if err != nil {
		return nil, fmt.Errorf("insert exchange request: %w", err)
	}

	if err := s.applyToListings(ctx, tx, models.ListingEventRequested, listing, offered); err != nil {
		return nil, err
	}

	logging.Debug("Exchange request created", map[string]interface{}{
		"request_id":   req.ID.String(),
		"listing_id":   listing.ID.String(),
		"request_type": string(requestType),
	})
	return req, nil
}

// lockCreateTargets locks the requested listing and, for swaps, the offered one.
func (s *ExchangeService) lockCreateTargets(ctx context.Context, tx Tx, listingID uuid.UUID, terms models.ExchangeTerms) (*models.Listing, *models.Listing, error) {
	swap, isSwap := terms.(models.SwapTerms)
	if !isSwap {
		listing, err := lockListingForUpdate(ctx, tx, listingID)
		if isNoRows(err) {
			return nil, nil, ErrListingNotFound
		}
		if err != nil {
			return nil, nil, err
		}
		return listing, nil, nil
	}

	listing, offered, err := lockListingPairForUpdate(ctx, tx, listingID, swap.OfferedListingID)
	if isNoRows(err) {
		if _, getErr := getListing(ctx, tx, listingID); getErr != nil {
			return nil, nil, getErr
		}
		return nil, nil, ErrOfferedListingNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	return listing, offered, nil
}

// AcceptRequest accepts without opening a conversation. Use
// ExchangeOrchestrator.AcceptRequest unless the caller opens it itself.
func (s *ExchangeService) AcceptRequest(ctx context.Context, requestID uuid.UUID, callerID int64) (*models.ExchangeRequest, error) {
	return s.transition(ctx, requestID, callerID, s.acceptInTx)
}

func (s *ExchangeService) RejectRequest(ctx context.Context, requestID uuid.UUID, callerID int64) (*models.ExchangeRequest, error) {
	return s.transition(ctx, requestID, callerID, s.rejectInTx)
}

func (s *ExchangeService) CancelRequest(ctx context.Context, requestID uuid.UUID, callerID int64) (*models.ExchangeRequest, error) {
	return s.transition(ctx, requestID, callerID, s.cancelInTx)
}

func (s *ExchangeService) CompleteRequest(ctx context.Context, requestID uuid.UUID, callerID int64) (*models.ExchangeRequest, error) {
	return s.transition(ctx, requestID, callerID, s.completeInTx)
}

func (s *ExchangeService) ReturnLentBook(ctx context.Context, requestID uuid.UUID, callerID int64) (*models.ExchangeRequest, error) {
	return s.transition(ctx, requestID, callerID, s.returnInTx)
}

type transitionFunc func(ctx context.Context, tx Tx, requestID uuid.UUID, callerID int64) (*models.ExchangeRequest, error)

func (s *ExchangeService) transition(ctx context.Context, requestID uuid.UUID, callerID int64, fn transitionFunc) (*models.ExchangeRequest, error) {
	var req *models.ExchangeRequest
	err := runInTx(ctx, s.db, func(tx Tx) error {
		var err error
		req, err = fn(ctx, tx, requestID, callerID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return req, nil
}

func (s *ExchangeService) acceptInTx(ctx context.Context, tx Tx, requestID uuid.UUID, callerID int64) (*models.ExchangeRequest, error) {
	req, err := lockRequestForUpdate(ctx, tx, requestID)
	if err != nil {
		return nil, err
	}
	if req.OwnerID != callerID {
		return nil, ErrNotListingOwner
	}
	if req.Status != models.RequestStatusPending {
		return nil, ErrRequestNotPending
	}
	return s.finish(ctx, tx, req, models.ListingEventAccepted, models.RequestStatusAccepted)
}

func (s *ExchangeService) rejectInTx(ctx context.Context, tx Tx, requestID uuid.UUID, callerID int64) (*models.ExchangeRequest, error) {
	req, err := lockRequestForUpdate(ctx, tx, requestID)
	if err != nil {
		return nil, err
	}
	if req.OwnerID != callerID {
		return nil, ErrNotListingOwner
	}
	if req.Status != models.RequestStatusPending {
		return nil, ErrRequestNotPending
	}
	return s.finish(ctx, tx, req, models.ListingEventDeclined, models.RequestStatusRejected)
}

func (s *ExchangeService) cancelInTx(ctx context.Context, tx Tx, requestID uuid.UUID, callerID int64) (*models.ExchangeRequest, error) {
	req, err := lockRequestForUpdate(ctx, tx, requestID)
	if err != nil {
		return nil, err
	}
	if req.RequesterID != callerID {
		return nil, ErrNotRequester
	}
	if req.Status != models.RequestStatusPending {
		return nil, ErrRequestNotPending
	}
	return s.finish(ctx, tx, req, models.ListingEventDeclined, models.RequestStatusCancelled)
}

func (s *ExchangeService) completeInTx(ctx context.Context, tx Tx, requestID uuid.UUID, callerID int64) (*models.ExchangeRequest, error) {
	req, err := lockRequestForUpdate(ctx, tx, requestID)
	if err != nil {
		return nil, err
	}
	if req.OwnerID != callerID {
		return nil, ErrNotListingOwner
	}
	if req.Type() == models.ExchangeLend {
		return nil, ErrLendRequiresReturn
	}
	if req.Status != models.RequestStatusAccepted {
		return nil, ErrRequestNotAccepted
	}
	return s.finish(ctx, tx, req, models.ListingEventCompleted, models.RequestStatusCompleted)
}

func (s *ExchangeService) returnInTx(ctx context.Context, tx Tx, requestID uuid.UUID, callerID int64) (*models.ExchangeRequest, error) {
	req, err := lockRequestForUpdate(ctx, tx, requestID)
	if err != nil {
		return nil, err
	}
	if req.OwnerID != callerID {
		return nil, ErrNotListingOwner
	}
	if req.Type() != models.ExchangeLend {
		return nil, ErrNotLendRequest
	}
	if req.Status != models.RequestStatusAccepted {
		return nil, ErrRequestNotAccepted
	}
	return s.finish(ctx, tx, req, models.ListingEventReturned, models.RequestStatusCompleted)
}

// finish locks the request's listings, applies event to them and stores the
// new request status.
func (s *ExchangeService) finish(ctx context.Context, tx Tx, req *models.ExchangeRequest, event models.ListingEvent, status models.RequestStatus) (*models.ExchangeRequest, error) {
	listing, offered, err := lockRequestListings(ctx, tx, req)
	if err != nil {
		return nil, err
	}
	if err := s.applyToListings(ctx, tx, event, listing, offered); err != nil {
		return nil, err
	}

	from := req.Status
	err = tx.QueryRow(ctx,
		`UPDATE exchange_requests SET status = $2, updated_at = NOW() WHERE id = $1 RETURNING updated_at`,
		req.ID, status,
	).Scan(&req.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("update exchange request status: %w", err)
	}
	req.Status = status

	logging.Debug("Exchange request status changed", map[string]interface{}{
		"request_id": req.ID.String(),
		"from":       string(from),
		"to":         string(status),
	})
	return req, nil
}

func lockRequestListings(ctx context.Context, tx Tx, req *models.ExchangeRequest) (*models.Listing, *models.Listing, error) {
	offeredID, isSwap := req.OfferedListingID()
	if !isSwap {
		listing, err := lockListingForUpdate(ctx, tx, req.ListingID)
		if isNoRows(err) {
			return nil, nil, ErrListingNotFound
		}
		return listing, nil, err
	}

	listing, offered, err := lockListingPairForUpdate(ctx, tx, req.ListingID, offeredID)
	if isNoRows(err) {
		return nil, nil, ErrListingNotFound
	}
	return listing, offered, err
}

func (s *ExchangeService) applyToListings(ctx context.Context, tx Tx, event models.ListingEvent, listings ...*models.Listing) error {
	for _, listing := range listings {
		if listing == nil {
			continue
		}
		if err := s.listings.applyEvent(ctx, tx, listing, event); err != nil {
			return err
		}
	}
	return nil
}

// Get returns a request visible to one of its two participants.
func (s *ExchangeService) Get(ctx context.Context, requestID uuid.UUID, callerID int64) (*models.ExchangeRequest, error) {
	req, err := getRequest(ctx, s.db, requestID)
	if err != nil {
		return nil, err
	}
	if !req.IsParticipant(callerID) {
		return nil, ErrNotParticipant
	}
	return req, nil
}

func (s *ExchangeService) ListByRequester(ctx context.Context, requesterID int64) ([]models.ExchangeRequest, error) {
	return s.listRequests(ctx,
		`SELECT `+requestColumns+` FROM exchange_requests WHERE requester_id = $1 ORDER BY created_at DESC`,
		requesterID)
}

func (s *ExchangeService) ListByOwner(ctx context.Context, ownerID int64) ([]models.ExchangeRequest, error) {
	return s.listRequests(ctx,
		`SELECT `+requestColumns+` FROM exchange_requests WHERE owner_id = $1 ORDER BY created_at DESC`,
		ownerID)
}

func (s *ExchangeService) ListActiveByRequester(ctx context.Context, requesterID int64) ([]models.ExchangeRequest, error) {
	return s.listRequests(ctx,
		`SELECT `+requestColumns+` FROM exchange_requests
		 WHERE requester_id = $1 AND status IN ('PENDING', 'ACCEPTED')
		 ORDER BY created_at DESC`,
		requesterID)
}

func (s *ExchangeService) ListActiveByOwner(ctx context.Context, ownerID int64) ([]models.ExchangeRequest, error) {
	return s.listRequests(ctx,
		`SELECT `+requestColumns+` FROM exchange_requests
		 WHERE owner_id = $1 AND status IN ('PENDING', 'ACCEPTED')
		 ORDER BY created_at DESC`,
		ownerID)
}

// ListByListing returns every request made against a listing. Owner only.
func (s *ExchangeService) ListByListing(ctx context.Context, listingID uuid.UUID, callerID int64) ([]models.ExchangeRequest, error) {
	listing, err := getListing(ctx, s.db, listingID)
	if err != nil {
		return nil, err
	}
	if !listing.OwnedBy(callerID) {
		return nil, ErrNotListingOwner
	}
	return s.listRequests(ctx,
		`SELECT `+requestColumns+` FROM exchange_requests WHERE listing_id = $1 ORDER BY created_at DESC`,
		listingID)
}

func (s *ExchangeService) CountPendingByOwner(ctx context.Context, ownerID int64) (int, error) {
	var count int
	err := s.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM exchange_requests WHERE owner_id = $1 AND status = 'PENDING'`,
		ownerID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count pending requests: %w", err)
	}
	return count, nil
}

// CountUpdatedSent counts the caller's sent requests the owner has acted on.
func (s *ExchangeService) CountUpdatedSent(ctx context.Context, requesterID int64) (int, error) {
	var count int
	err := s.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM exchange_requests
		 WHERE requester_id = $1 AND status IN ('ACCEPTED', 'REJECTED', 'COMPLETED')`,
		requesterID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count updated requests: %w", err)
	}
	return count, nil
}

func (s *ExchangeService) listRequests(ctx context.Context, sql string, args ...any) ([]models.ExchangeRequest, error) {
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list exchange requests: %w", err)
	}
	defer rows.Close()

	requests := []models.ExchangeRequest{}
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan exchange request: %w", err)
		}
		requests = append(requests, *req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate exchange requests: %w", err)
	}
	return requests, nil
}

func getRequest(ctx context.Context, q DBConn, id uuid.UUID) (*models.ExchangeRequest, error) {
	req, err := scanRequest(q.QueryRow(ctx, `SELECT `+requestColumns+` FROM exchange_requests WHERE id = $1`, id))
	if isNoRows(err) {
		return nil, ErrRequestNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get exchange request: %w", err)
	}
	return req, nil
}

func scanRequest(row Row) (*models.ExchangeRequest, error) {
	req := &models.ExchangeRequest{}
	var requestType models.ExchangeType
	var message *string
	var offeredID *uuid.UUID
	var durationDays *int
	err := row.Scan(&req.ID, &req.ListingID, &req.RequesterID, &req.OwnerID, &requestType, &req.Status,
		&message, &offeredID, &durationDays, &req.CreatedAt, &req.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if message != nil {
		req.Message = *message
	}
	req.Terms, err = models.TermsFromColumns(requestType, offeredID, durationDays)
	if err != nil {
		return nil, err
	}
	return req, nil
}
