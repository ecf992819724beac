package messenger

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

// Kind classifies an Error for callers that need to map it onto a transport status.
type Kind int

const (
	KindInternal Kind = iota
	KindAuthorization
	KindValidation
	KindNotFound
	KindRateLimited
)

func (k Kind) String() string {
	switch k {
	case KindAuthorization:
		return "authorization"
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindRateLimited:
		return "rate_limited"
	}
	return "internal"
}

type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches on Kind so errors.Is(err, ErrEmptyMessage) compares the class and message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Message == e.Message
}

func Denied(msg string) *Error {
	return &Error{Kind: KindAuthorization, Message: msg}
}

func Invalid(msg string) *Error {
	return &Error{Kind: KindValidation, Message: msg}
}

func NotFound(msg string) *Error {
	return &Error{Kind: KindNotFound, Message: msg}
}

func RateLimited(msg string) *Error {
	return &Error{Kind: KindRateLimited, Message: msg}
}

func Internal(msg string, err error) *Error {
	return &Error{Kind: KindInternal, Message: msg, Err: err}
}

// KindOf returns the Kind of err, KindInternal for anything that is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

var (
	ErrNotOwner          = Denied("entity is not controlled by the caller")
	ErrNotParticipant    = Denied("entity is not part of this conversation")
	ErrEmptyMessage      = Invalid("empty message")
	ErrMessageTooLong    = Invalid("message too long")
	ErrInvalidEntityType = Invalid("malformed entity type")
	ErrSelfConversation  = Invalid("cannot message the same entity")
	ErrInvalidEmoji      = Invalid("invalid reaction emoji")
	ErrInvalidClientID   = Invalid("clientMessageId must be a UUID")
	ErrEntityMissing     = NotFound("entity not found")
	ErrConversationGone  = NotFound("conversation not found")
	ErrMessageGone       = NotFound("message not found")
	ErrSendRateExceeded  = RateLimited("too many messages, slow down")
)

// ErrEntityNotFound is returned by an Oracle when the entity row does not exist.
var ErrEntityNotFound = errors.New("entity not found")

// storeError converts a storage failure into the error taxonomy. notFound is used
// for gorm.ErrRecordNotFound; everything else becomes an internal error.
func storeError(err error, notFound *Error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound) && notFound != nil:
		return notFound
	case errors.Is(err, context.DeadlineExceeded):
		return Internal("storage timeout", err)
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return Internal("storage failure", err)
}
