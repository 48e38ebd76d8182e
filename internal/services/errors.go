package services

import "errors"

// Error kinds. Handlers map these to status codes; the specific errors below
// each wrap exactly one kind.
var (
	ErrNotFound         = errors.New("not found")
	ErrForbidden        = errors.New("forbidden")
	ErrInvalidState     = errors.New("invalid state")
	ErrValidation       = errors.New("validation failed")
	ErrConflict         = errors.New("conflict")
	ErrInvalidOperation = errors.New("invalid operation")
)

type kindError struct {
	kind error
	msg  string
}

func (e *kindError) Error() string { return e.msg }
func (e *kindError) Unwrap() error { return e.kind }

func newKindError(kind error, msg string) error {
	return &kindError{kind: kind, msg: msg}
}

var (
	ErrListingNotFound      = newKindError(ErrNotFound, "listing not found")
	ErrRequestNotFound      = newKindError(ErrNotFound, "exchange request not found")
	ErrConversationNotFound = newKindError(ErrNotFound, "conversation not found")
)

var (
	ErrNotListingOwner = newKindError(ErrForbidden, "only the listing owner can do this")
	ErrNotRequester    = newKindError(ErrForbidden, "only the requester can do this")
	ErrNotParticipant  = newKindError(ErrForbidden, "not a participant")
)

var (
	ErrListingNotAvailable          = newKindError(ErrInvalidState, "listing is not available")
	ErrSharingModeMismatch          = newKindError(ErrInvalidState, "request type does not match listing sharing mode")
	ErrRequestNotPending            = newKindError(ErrInvalidState, "exchange request is not pending")
	ErrRequestNotAccepted           = newKindError(ErrInvalidState, "exchange request is not accepted")
	ErrConversationNotActive        = newKindError(ErrInvalidState, "conversation is not active")
	ErrConversationRequiresAccepted = newKindError(ErrInvalidState, "conversation requires an accepted request")
	ErrListingInUse                 = newKindError(ErrInvalidState, "listing can only be deleted while available")
)

var (
	ErrSelfRequest                = newKindError(ErrInvalidOperation, "cannot request your own listing")
	ErrOfferedListingNotFound     = newKindError(ErrInvalidOperation, "offered listing not found")
	ErrOfferedListingNotOwned     = newKindError(ErrInvalidOperation, "offered listing must belong to the requester")
	ErrOfferedListingNotSwappable = newKindError(ErrInvalidOperation, "offered listing is not shared for swap")
	ErrOfferedListingNotAvailable = newKindError(ErrInvalidOperation, "offered listing is not available")
	ErrSwapSameListing            = newKindError(ErrInvalidOperation, "cannot swap a listing for itself")
	ErrNotLendRequest             = newKindError(ErrInvalidOperation, "only lend requests can be returned")
	ErrLendRequiresReturn         = newKindError(ErrInvalidOperation, "lend requests are completed by returning the book")
)

var (
	ErrTitleRequired       = newKindError(ErrValidation, "title is required")
	ErrAuthorRequired      = newKindError(ErrValidation, "author is required")
	ErrInvalidCondition    = newKindError(ErrValidation, "invalid condition")
	ErrInvalidSharingMode  = newKindError(ErrValidation, "invalid sharing mode")
	ErrInvalidMaxLending   = newKindError(ErrValidation, "max lending days must be positive for lend listings and absent otherwise")
	ErrInvalidDuration     = newKindError(ErrValidation, "requested duration must be positive")
	ErrDurationExceedsMax  = newKindError(ErrValidation, "requested duration exceeds the listing maximum")
	ErrEmptyMessage        = newKindError(ErrValidation, "message content is required")
	ErrMessageTooLong      = newKindError(ErrValidation, "message content is too long")
	ErrInvalidOutcome      = newKindError(ErrValidation, "outcome must be COMPLETED or CANCELLED")
	ErrInvalidRequestType  = newKindError(ErrValidation, "invalid request type")
	ErrOfferedListingUnset = newKindError(ErrValidation, "offered listing is required for swap requests")
)

var (
	ErrDuplicatePendingRequest = newKindError(ErrConflict, "you already have a pending request for this listing")
	ErrActiveRequestExists     = newKindError(ErrConflict, "listing already has an active request")
	ErrConversationExists      = newKindError(ErrConflict, "conversation already exists for this request")
)
