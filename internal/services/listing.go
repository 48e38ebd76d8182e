package services

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/HammerMeetNail/bookbuddy/internal/logging"
	"github.com/HammerMeetNail/bookbuddy/internal/models"
)

const (
	DefaultListingSearchLimit = 50
	MaxListingSearchLimit     = 200
)

const listingColumns = `id, owner_id, title, author, genre, isbn, condition, description,
	pickup_location, sharing_mode, status, max_lending_days, created_at, updated_at`

type CreateListingParams struct {
	Title          string              `json:"title"`
	Author         string              `json:"author"`
	Genre          string              `json:"genre"`
	ISBN           string              `json:"isbn"`
	Condition      string              `json:"condition"`
	Description    string              `json:"description"`
	PickupLocation string              `json:"pickup_location"`
	SharingMode    models.ExchangeType `json:"sharing_mode"`
	MaxLendingDays *int                `json:"max_lending_days"`
}

// UpdateListingParams only covers descriptive fields. Nil fields are left as is.
type UpdateListingParams struct {
	Title          *string `json:"title"`
	Author         *string `json:"author"`
	Genre          *string `json:"genre"`
	ISBN           *string `json:"isbn"`
	Condition      *string `json:"condition"`
	Description    *string `json:"description"`
	PickupLocation *string `json:"pickup_location"`
	MaxLendingDays *int    `json:"max_lending_days"`
}

type ListingSearchParams struct {
	Query          string
	Mode           models.ExchangeType
	ExcludeOwnerID int64
	Limit          int
}

type ListingService struct {
	db DB
}

func NewListingService(db DB) *ListingService {
	return &ListingService{db: db}
}

func (s *ListingService) Create(ctx context.Context, ownerID int64, params CreateListingParams) (*models.Listing, error) {
	params.Title = strings.TrimSpace(params.Title)
	params.Author = strings.TrimSpace(params.Author)
	if err := validateListing(params.Title, params.Author, params.Condition, params.SharingMode, params.MaxLendingDays); err != nil {
		return nil, err
	}

	listing, err := scanListing(s.db.QueryRow(ctx,
		`INSERT INTO listings (owner_id, title, author, genre, isbn, condition, description,
			pickup_location, sharing_mode, status, max_lending_days)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 RETURNING `+listingColumns,
		ownerID, params.Title, params.Author, strings.TrimSpace(params.Genre), strings.TrimSpace(params.ISBN),
		params.Condition, params.Description, params.PickupLocation, params.SharingMode,
		models.ListingStatusAvailable, params.MaxLendingDays,
	))
	if err != nil {
		return nil, fmt.Errorf("insert listing: %w", err)
	}
	return listing, nil
}

func (s *ListingService) Get(ctx context.Context, id uuid.UUID) (*models.Listing, error) {
	return getListing(ctx, s.db, id)
}

func (s *ListingService) ListByOwner(ctx context.Context, ownerID int64) ([]models.Listing, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+listingColumns+` FROM listings WHERE owner_id = $1 ORDER BY created_at DESC`,
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("list listings by owner: %w", err)
	}
	return collectListings(rows)
}

// ListAvailable returns AVAILABLE listings, newest first. Query matches title,
// author or genre case-insensitively.
func (s *ListingService) ListAvailable(ctx context.Context, params ListingSearchParams) ([]models.Listing, error) {
	where := []string{"status = $1"}
	args := []any{models.ListingStatusAvailable}

	if q := strings.TrimSpace(params.Query); q != "" {
		args = append(args, "%"+q+"%")
		n := len(args)
		where = append(where, fmt.Sprintf("(title ILIKE $%d OR author ILIKE $%d OR genre ILIKE $%d)", n, n, n))
	}
	if params.Mode != "" {
		if !params.Mode.Valid() {
			return nil, ErrInvalidSharingMode
		}
		args = append(args, params.Mode)
		where = append(where, fmt.Sprintf("sharing_mode = $%d", len(args)))
	}
	if params.ExcludeOwnerID != 0 {
		args = append(args, params.ExcludeOwnerID)
		where = append(where, fmt.Sprintf("owner_id <> $%d", len(args)))
	}

	limit := params.Limit
	if limit <= 0 {
		limit = DefaultListingSearchLimit
	}
	if limit > MaxListingSearchLimit {
		limit = MaxListingSearchLimit
	}
	args = append(args, limit)

	rows, err := s.db.Query(ctx,
		`SELECT `+listingColumns+` FROM listings
		 WHERE `+strings.Join(where, " AND ")+`
		 ORDER BY created_at DESC
		 LIMIT $`+fmt.Sprint(len(args)),
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("search listings: %w", err)
	}
	return collectListings(rows)
}

// Update changes descriptive fields only. Status and sharing mode are owned by
// the exchange lifecycle.
func (s *ListingService) Update(ctx context.Context, id uuid.UUID, ownerID int64, params UpdateListingParams) (*models.Listing, error) {
	var updated *models.Listing
	err := runInTx(ctx, s.db, func(tx Tx) error {
		listing, err := lockListingForUpdate(ctx, tx, id)
		if isNoRows(err) {
			return ErrListingNotFound
		}
		if err != nil {
			return err
		}
		if !listing.OwnedBy(ownerID) {
			return ErrNotListingOwner
		}

		applyListingUpdate(listing, params)
		if params.MaxLendingDays != nil && listing.SharingMode != models.ExchangeLend {
			return ErrInvalidMaxLending
		}
		if err := validateListing(listing.Title, listing.Author, listing.Condition, listing.SharingMode, listing.MaxLendingDays); err != nil {
			return err
		}

		updated, err = scanListing(tx.QueryRow(ctx,
			`UPDATE listings
			 SET title = $2, author = $3, genre = $4, isbn = $5, condition = $6,
				 description = $7, pickup_location = $8, max_lending_days = $9, updated_at = NOW()
			 WHERE id = $1
			 RETURNING `+listingColumns,
			id, listing.Title, listing.Author, listing.Genre, listing.ISBN, listing.Condition,
			listing.Description, listing.PickupLocation, listing.MaxLendingDays,
		))
		if err != nil {
			return fmt.Errorf("update listing: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Delete removes a listing. Only the owner may delete, and only while nothing
// references it through an active request.
func (s *ListingService) Delete(ctx context.Context, id uuid.UUID, ownerID int64) error {
	return runInTx(ctx, s.db, func(tx Tx) error {
		listing, err := lockListingForUpdate(ctx, tx, id)
		if isNoRows(err) {
			return ErrListingNotFound
		}
		if err != nil {
			return err
		}
		if !listing.OwnedBy(ownerID) {
			return ErrNotListingOwner
		}
		if !listing.IsAvailable() {
			return ErrListingInUse
		}
		if _, err := tx.Exec(ctx, `DELETE FROM listings WHERE id = $1`, id); err != nil {
			return fmt.Errorf("delete listing: %w", err)
		}
		return nil
	})
}

func (s *ListingService) SetAvailable(ctx context.Context, id uuid.UUID) (*models.Listing, error) {
	return setListingStatus(ctx, s.db, id, models.ListingStatusAvailable)
}

func (s *ListingService) SetUnavailable(ctx context.Context, id uuid.UUID) (*models.Listing, error) {
	return setListingStatus(ctx, s.db, id, models.ListingStatusUnavailable)
}

func (s *ListingService) SetExchangeInProgress(ctx context.Context, id uuid.UUID) (*models.Listing, error) {
	return setListingStatus(ctx, s.db, id, models.ListingStatusExchangeInProgress)
}

func (s *ListingService) SetCurrentlyLentOut(ctx context.Context, id uuid.UUID) (*models.Listing, error) {
	return setListingStatus(ctx, s.db, id, models.ListingStatusCurrentlyLentOut)
}

func (s *ListingService) SetGivenAway(ctx context.Context, id uuid.UUID) (*models.Listing, error) {
	return setListingStatus(ctx, s.db, id, models.ListingStatusGivenAway)
}

func (s *ListingService) SetSwapped(ctx context.Context, id uuid.UUID) (*models.Listing, error) {
	return setListingStatus(ctx, s.db, id, models.ListingStatusSwapped)
}

// applyEvent moves a locked listing through the transition table.
func (s *ListingService) applyEvent(ctx context.Context, q DBConn, listing *models.Listing, event models.ListingEvent) error {
	from := listing.Status
	next, err := models.NextListingStatus(listing.SharingMode, from, event)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidState, err)
	}

	updated, err := setListingStatus(ctx, q, listing.ID, next)
	if err != nil {
		return err
	}
	*listing = *updated

	logging.Debug("Listing status changed", map[string]interface{}{
		"listing_id": listing.ID.String(),
		"event":      string(event),
		"from":       string(from),
		"to":         string(next),
	})
	return nil
}

func setListingStatus(ctx context.Context, q DBConn, id uuid.UUID, status models.ListingStatus) (*models.Listing, error) {
	listing, err := scanListing(q.QueryRow(ctx,
		`UPDATE listings SET status = $2, updated_at = NOW() WHERE id = $1 RETURNING `+listingColumns,
		id, status,
	))
	if isNoRows(err) {
		return nil, ErrListingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("set listing status: %w", err)
	}
	return listing, nil
}

func getListing(ctx context.Context, q DBConn, id uuid.UUID) (*models.Listing, error) {
	listing, err := scanListing(q.QueryRow(ctx, `SELECT `+listingColumns+` FROM listings WHERE id = $1`, id))
	if isNoRows(err) {
		return nil, ErrListingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get listing: %w", err)
	}
	return listing, nil
}

func scanListing(row Row) (*models.Listing, error) {
	l := &models.Listing{}
	err := row.Scan(&l.ID, &l.OwnerID, &l.Title, &l.Author, &l.Genre, &l.ISBN, &l.Condition,
		&l.Description, &l.PickupLocation, &l.SharingMode, &l.Status, &l.MaxLendingDays,
		&l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return l, nil
}

func collectListings(rows Rows) ([]models.Listing, error) {
	defer rows.Close()

	listings := []models.Listing{}
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, fmt.Errorf("scan listing: %w", err)
		}
		listings = append(listings, *l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate listings: %w", err)
	}
	return listings, nil
}

func validateListing(title, author, condition string, mode models.ExchangeType, maxLendingDays *int) error {
	if strings.TrimSpace(title) == "" {
		return ErrTitleRequired
	}
	if strings.TrimSpace(author) == "" {
		return ErrAuthorRequired
	}
	if !slices.Contains(models.AllowedConditions, condition) {
		return ErrInvalidCondition
	}
	if !mode.Valid() {
		return ErrInvalidSharingMode
	}
	if mode == models.ExchangeLend {
		if maxLendingDays == nil || *maxLendingDays <= 0 {
			return ErrInvalidMaxLending
		}
	} else if maxLendingDays != nil {
		return ErrInvalidMaxLending
	}
	return nil
}

func applyListingUpdate(l *models.Listing, params UpdateListingParams) {
	if params.Title != nil {
		l.Title = strings.TrimSpace(*params.Title)
	}
	if params.Author != nil {
		l.Author = strings.TrimSpace(*params.Author)
	}
	if params.Genre != nil {
		l.Genre = strings.TrimSpace(*params.Genre)
	}
	if params.ISBN != nil {
		l.ISBN = strings.TrimSpace(*params.ISBN)
	}
	if params.Condition != nil {
		l.Condition = *params.Condition
	}
	if params.Description != nil {
		l.Description = *params.Description
	}
	if params.PickupLocation != nil {
		l.PickupLocation = *params.PickupLocation
	}
	if params.MaxLendingDays != nil {
		days := *params.MaxLendingDays
		l.MaxLendingDays = &days
	}
}
