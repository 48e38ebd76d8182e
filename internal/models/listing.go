package models

import (
	"time"

	"github.com/google/uuid"
)

// ExchangeType is both a listing's sharing mode and the type of a request made against it.
type ExchangeType string

const (
	ExchangeGiveAway ExchangeType = "GIVE_AWAY"
	ExchangeLend     ExchangeType = "LEND"
	ExchangeSwap     ExchangeType = "SWAP"
)

func (t ExchangeType) Valid() bool {
	switch t {
	case ExchangeGiveAway, ExchangeLend, ExchangeSwap:
		return true
	}
	return false
}

type ListingStatus string

const (
	ListingStatusAvailable          ListingStatus = "AVAILABLE"
	ListingStatusUnavailable        ListingStatus = "UNAVAILABLE"
	ListingStatusExchangeInProgress ListingStatus = "EXCHANGE_IN_PROGRESS"
	ListingStatusCurrentlyLentOut   ListingStatus = "CURRENTLY_LENT_OUT"
	ListingStatusGivenAway          ListingStatus = "GIVEN_AWAY"
	ListingStatusSwapped            ListingStatus = "SWAPPED"
)

func (s ListingStatus) Valid() bool {
	switch s {
	case ListingStatusAvailable, ListingStatusUnavailable, ListingStatusExchangeInProgress,
		ListingStatusCurrentlyLentOut, ListingStatusGivenAway, ListingStatusSwapped:
		return true
	}
	return false
}

// IsFinal reports whether the book has left its owner for good.
func (s ListingStatus) IsFinal() bool {
	return s == ListingStatusGivenAway || s == ListingStatusSwapped
}

var AllowedConditions = []string{"New", "Like New", "Good", "Fair", "Poor"}

type Listing struct {
	ID             uuid.UUID     `json:"id"`
	OwnerID        int64         `json:"owner_id"`
	Title          string        `json:"title"`
	Author         string        `json:"author"`
	Genre          string        `json:"genre,omitempty"`
	ISBN           string        `json:"isbn,omitempty"`
	Condition      string        `json:"condition"`
	Description    string        `json:"description,omitempty"`
	PickupLocation string        `json:"pickup_location,omitempty"`
	SharingMode    ExchangeType  `json:"sharing_mode"`
	Status         ListingStatus `json:"status"`
	MaxLendingDays *int          `json:"max_lending_days,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

func (l *Listing) IsAvailable() bool {
	return l.Status == ListingStatusAvailable
}

func (l *Listing) OwnedBy(userID int64) bool {
	return l.OwnerID == userID
}
