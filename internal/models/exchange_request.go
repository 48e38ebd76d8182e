package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type RequestStatus string

const (
	RequestStatusPending   RequestStatus = "PENDING"
	RequestStatusAccepted  RequestStatus = "ACCEPTED"
	RequestStatusRejected  RequestStatus = "REJECTED"
	RequestStatusCompleted RequestStatus = "COMPLETED"
	RequestStatusCancelled RequestStatus = "CANCELLED"
)

func (s RequestStatus) IsTerminal() bool {
	switch s {
	case RequestStatusRejected, RequestStatusCompleted, RequestStatusCancelled:
		return true
	}
	return false
}

// ExchangeTerms carries the fields that only make sense for one request type.
// Implemented by GiveAwayTerms, LendTerms and SwapTerms.
type ExchangeTerms interface {
	Type() ExchangeType
	isExchangeTerms()
}

type GiveAwayTerms struct{}

type LendTerms struct {
	DurationDays int
}

type SwapTerms struct {
	OfferedListingID uuid.UUID
}

func (GiveAwayTerms) Type() ExchangeType { return ExchangeGiveAway }
func (LendTerms) Type() ExchangeType     { return ExchangeLend }
func (SwapTerms) Type() ExchangeType     { return ExchangeSwap }

func (GiveAwayTerms) isExchangeTerms() {}
func (LendTerms) isExchangeTerms()     {}
func (SwapTerms) isExchangeTerms()     {}

var ErrInvalidTerms = errors.New("invalid exchange terms")

// TermsFromColumns rebuilds terms from their stored column form.
func TermsFromColumns(requestType ExchangeType, offeredListingID *uuid.UUID, durationDays *int) (ExchangeTerms, error) {
	switch requestType {
	case ExchangeGiveAway:
		if offeredListingID != nil || durationDays != nil {
			return nil, fmt.Errorf("%w: give away request with extra fields", ErrInvalidTerms)
		}
		return GiveAwayTerms{}, nil
	case ExchangeLend:
		if durationDays == nil || offeredListingID != nil {
			return nil, fmt.Errorf("%w: lend request needs only a duration", ErrInvalidTerms)
		}
		return LendTerms{DurationDays: *durationDays}, nil
	case ExchangeSwap:
		if offeredListingID == nil || durationDays != nil {
			return nil, fmt.Errorf("%w: swap request needs only an offered listing", ErrInvalidTerms)
		}
		return SwapTerms{OfferedListingID: *offeredListingID}, nil
	default:
		return nil, fmt.Errorf("%w: unknown request type %q", ErrInvalidTerms, requestType)
	}
}

// TermsColumns is the inverse of TermsFromColumns.
func TermsColumns(terms ExchangeTerms) (ExchangeType, *uuid.UUID, *int) {
	switch t := terms.(type) {
	case LendTerms:
		days := t.DurationDays
		return ExchangeLend, nil, &days
	case SwapTerms:
		id := t.OfferedListingID
		return ExchangeSwap, &id, nil
	default:
		return ExchangeGiveAway, nil, nil
	}
}

type ExchangeRequest struct {
	ID          uuid.UUID     `json:"id"`
	ListingID   uuid.UUID     `json:"listing_id"`
	RequesterID int64         `json:"requester_id"`
	OwnerID     int64         `json:"owner_id"`
	Status      RequestStatus `json:"status"`
	Message     string        `json:"message,omitempty"`
	Terms       ExchangeTerms `json:"-"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

func (r *ExchangeRequest) Type() ExchangeType {
	if r.Terms == nil {
		return ""
	}
	return r.Terms.Type()
}

// OfferedListingID returns the requester's listing for swap requests.
func (r *ExchangeRequest) OfferedListingID() (uuid.UUID, bool) {
	if swap, ok := r.Terms.(SwapTerms); ok {
		return swap.OfferedListingID, true
	}
	return uuid.Nil, false
}

func (r *ExchangeRequest) IsParticipant(userID int64) bool {
	return r.RequesterID == userID || r.OwnerID == userID
}

func (r ExchangeRequest) MarshalJSON() ([]byte, error) {
	type plain ExchangeRequest
	requestType, offeredListingID, durationDays := TermsColumns(r.Terms)
	return json.Marshal(struct {
		plain
		RequestType           ExchangeType `json:"request_type"`
		OfferedListingID      *uuid.UUID   `json:"offered_listing_id,omitempty"`
		RequestedDurationDays *int         `json:"requested_duration_days,omitempty"`
	}{
		plain:                 plain(r),
		RequestType:           requestType,
		OfferedListingID:      offeredListingID,
		RequestedDurationDays: durationDays,
	})
}
