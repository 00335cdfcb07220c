package services

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
)

// Kind is the machine-readable class of a domain error.
type Kind string

const (
	KindInvalidTransition   Kind = "InvalidTransition"
	KindNotParticipant      Kind = "NotParticipant"
	KindNotTurnOwner        Kind = "NotTurnOwner"
	KindActionNotAllowed    Kind = "ActionNotAllowed"
	KindSessionNotFound     Kind = "SessionNotFound"
	KindQueueEntryNotFound  Kind = "QueueEntryNotFound"
	KindRatingNotFound      Kind = "RatingNotFound"
	KindPlayerBusy          Kind = "PlayerBusy"
	KindTokenExpired        Kind = "TokenExpired"
	KindInvalidToken        Kind = "InvalidToken"
	KindConcurrencyConflict Kind = "ConcurrencyConflict"
	KindValidation          Kind = "Validation"
	KindInternal            Kind = "Internal"
)

// HTTPStatus maps a kind onto a response status.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindValidation:
		return fiber.StatusBadRequest
	case KindInvalidToken:
		return fiber.StatusUnauthorized
	case KindNotParticipant:
		return fiber.StatusForbidden
	case KindSessionNotFound, KindQueueEntryNotFound, KindRatingNotFound:
		return fiber.StatusNotFound
	case KindInvalidTransition, KindNotTurnOwner, KindPlayerBusy, KindConcurrencyConflict:
		return fiber.StatusConflict
	case KindTokenExpired:
		return fiber.StatusGone
	case KindActionNotAllowed:
		return fiber.StatusUnprocessableEntity
	default:
		return fiber.StatusInternalServerError
	}
}

// Error is the domain error type.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches by kind, so errors.Is(err, ErrPlayerBusy) holds for any PlayerBusy error.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Kind == t.Kind
	}
	return false
}

func newError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func wrapError(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Sentinels for errors.Is
var (
	ErrInvalidTransition   = &Error{Kind: KindInvalidTransition, Message: "invalid transition"}
	ErrNotParticipant      = &Error{Kind: KindNotParticipant, Message: "not a participant"}
	ErrNotTurnOwner        = &Error{Kind: KindNotTurnOwner, Message: "not your turn"}
	ErrActionNotAllowed    = &Error{Kind: KindActionNotAllowed, Message: "action not allowed"}
	ErrSessionNotFound     = &Error{Kind: KindSessionNotFound, Message: "session not found"}
	ErrQueueEntryNotFound  = &Error{Kind: KindQueueEntryNotFound, Message: "queue entry not found"}
	ErrRatingNotFound      = &Error{Kind: KindRatingNotFound, Message: "rating not found"}
	ErrPlayerBusy          = &Error{Kind: KindPlayerBusy, Message: "player already in a session"}
	ErrTokenExpired        = &Error{Kind: KindTokenExpired, Message: "continuity token expired"}
	ErrInvalidToken        = &Error{Kind: KindInvalidToken, Message: "invalid continuity token"}
	ErrConcurrencyConflict = &Error{Kind: KindConcurrencyConflict, Message: "concurrent update"}
	ErrValidation          = &Error{Kind: KindValidation, Message: "validation failed"}
)

// errNoop aborts a mutation without writing; the store returns the current session.
var errNoop = errors.New("no-op")

// KindOf extracts the kind of err, KindInternal when err is not a domain error.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}

// RespondError writes the standard error body for err.
func RespondError(c *fiber.Ctx, err error) error {
	kind := KindOf(err)
	msg := err.Error()
	if kind == KindInternal {
		msg = "internal error"
	}
	return c.Status(kind.HTTPStatus()).JSON(fiber.Map{"error": msg, "kind": kind})
}
