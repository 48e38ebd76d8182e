package models

import (
	"errors"
	"fmt"
)

// ListingEvent is a lifecycle step of an exchange request that moves its listing(s).
type ListingEvent string

const (
	ListingEventRequested ListingEvent = "requested"
	ListingEventAccepted  ListingEvent = "accepted"
	ListingEventDeclined  ListingEvent = "declined" // rejected by the owner or cancelled by the requester
	ListingEventCompleted ListingEvent = "completed"
	ListingEventReturned  ListingEvent = "returned"
)

var ErrIllegalTransition = errors.New("illegal listing transition")

type transitionKey struct {
	mode  ExchangeType
	from  ListingStatus
	event ListingEvent
}

// listingTransitions is the only place listing status changes are defined.
// SWAP rows apply to both the requested and the offered listing.
var listingTransitions = map[transitionKey]ListingStatus{
	{ExchangeGiveAway, ListingStatusAvailable, ListingEventRequested}:          ListingStatusUnavailable,
	{ExchangeGiveAway, ListingStatusUnavailable, ListingEventAccepted}:         ListingStatusExchangeInProgress,
	{ExchangeGiveAway, ListingStatusUnavailable, ListingEventDeclined}:         ListingStatusAvailable,
	{ExchangeGiveAway, ListingStatusExchangeInProgress, ListingEventCompleted}: ListingStatusGivenAway,

	{ExchangeLend, ListingStatusAvailable, ListingEventRequested}:       ListingStatusUnavailable,
	{ExchangeLend, ListingStatusUnavailable, ListingEventAccepted}:      ListingStatusCurrentlyLentOut,
	{ExchangeLend, ListingStatusUnavailable, ListingEventDeclined}:      ListingStatusAvailable,
	{ExchangeLend, ListingStatusCurrentlyLentOut, ListingEventReturned}: ListingStatusAvailable,

	{ExchangeSwap, ListingStatusAvailable, ListingEventRequested}:          ListingStatusUnavailable,
	{ExchangeSwap, ListingStatusUnavailable, ListingEventAccepted}:         ListingStatusExchangeInProgress,
	{ExchangeSwap, ListingStatusUnavailable, ListingEventDeclined}:         ListingStatusAvailable,
	{ExchangeSwap, ListingStatusExchangeInProgress, ListingEventCompleted}: ListingStatusSwapped,
}

// NextListingStatus returns the status a listing with the given sharing mode moves to
// when event happens in status from.
func NextListingStatus(mode ExchangeType, from ListingStatus, event ListingEvent) (ListingStatus, error) {
	next, ok := listingTransitions[transitionKey{mode: mode, from: from, event: event}]
	if !ok {
		return "", fmt.Errorf("%w: %s listing in %s cannot be %s", ErrIllegalTransition, mode, from, event)
	}
	return next, nil
}

// Transition applies event to the listing in place.
func (l *Listing) Transition(event ListingEvent) error {
	next, err := NextListingStatus(l.SharingMode, l.Status, event)
	if err != nil {
		return err
	}
	l.Status = next
	return nil
}
