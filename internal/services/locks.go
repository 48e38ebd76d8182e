package services

import (
	"bytes"
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/HammerMeetNail/bookbuddy/internal/models"
)

// lockListingPairForUpdate locks both listings of a swap in ascending uuid byte
// order so that two swaps over the same pair can never deadlock. Equal ids are
// locked once. The returned listings are in argument order.
func lockListingPairForUpdate(ctx context.Context, q DBConn, a, b uuid.UUID) (*models.Listing, *models.Listing, error) {
	first, second := a, b
	if bytes.Compare(first[:], second[:]) > 0 {
		first, second = second, first
	}

	firstListing, err := lockListingForUpdate(ctx, q, first)
	if err != nil {
		return nil, nil, err
	}
	if first == second {
		return firstListing, firstListing, nil
	}
	secondListing, err := lockListingForUpdate(ctx, q, second)
	if err != nil {
		return nil, nil, err
	}

	if first == a {
		return firstListing, secondListing, nil
	}
	return secondListing, firstListing, nil
}

// lockListingForUpdate returns pgx.ErrNoRows unwrapped so callers can pick the
// right not-found error for the side that was missing.
func lockListingForUpdate(ctx context.Context, q DBConn, id uuid.UUID) (*models.Listing, error) {
	listing, err := scanListing(q.QueryRow(ctx,
		`SELECT `+listingColumns+` FROM listings WHERE id = $1 FOR UPDATE`, id))
	if isNoRows(err) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("lock listing: %w", err)
	}
	return listing, nil
}

func lockRequestForUpdate(ctx context.Context, q DBConn, id uuid.UUID) (*models.ExchangeRequest, error) {
	req, err := scanRequest(q.QueryRow(ctx,
		`SELECT `+requestColumns+` FROM exchange_requests WHERE id = $1 FOR UPDATE`, id))
	if isNoRows(err) {
		return nil, ErrRequestNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock exchange request: %w", err)
	}
	return req, nil
}
