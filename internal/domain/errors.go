package domain

import (
	"errors"
	"fmt"
)

// Error roots. Every error produced by the core wraps exactly one of these,
// so callers can classify with errors.Is.
var (
	// ErrRejected marks an expected, recoverable refusal (capacity, quota,
	// permission, not found, rate limit).
	ErrRejected = errors.New("rejected")

	// ErrInvalidInput marks content that failed validation.
	ErrInvalidInput = errors.New("invalid input")

	// ErrFault marks a broken collaborator (randomness, cipher). Never
	// downgraded to a rejection.
	ErrFault = errors.New("internal fault")
)

var (
	ErrRoomNotFound       = fmt.Errorf("%w: room not found", ErrRejected)
	ErrRoomFull           = fmt.Errorf("%w: room is full", ErrRejected)
	ErrTooManyRooms       = fmt.Errorf("%w: room limit reached", ErrRejected)
	ErrCreationQuota      = fmt.Errorf("%w: room creation quota exceeded", ErrRejected)
	ErrCodeSpaceExhausted = fmt.Errorf("%w: could not allocate a unique room code", ErrRejected)
	ErrRateLimited        = fmt.Errorf("%w: rate limited", ErrRejected)
	ErrNotOwner           = fmt.Errorf("%w: requester is not the room owner", ErrRejected)
	ErrSelfKick           = fmt.Errorf("%w: cannot kick yourself", ErrRejected)
	ErrUserNotFound       = fmt.Errorf("%w: user not found", ErrRejected)
	ErrNotMember          = fmt.Errorf("%w: not a member of this room", ErrRejected)
	ErrAlreadyInRoom      = fmt.Errorf("%w: already in a room", ErrRejected)
	ErrUsernameTaken      = fmt.Errorf("%w: username already taken", ErrRejected)
	ErrBanned             = fmt.Errorf("%w: banned from this room", ErrRejected)
	ErrUnauthorized       = fmt.Errorf("%w: invalid or expired session", ErrRejected)
	ErrValidationFailed   = fmt.Errorf("%w: content could not be validated", ErrRejected)
)

var (
	ErrEmptyMessage      = fmt.Errorf("%w: message is empty", ErrInvalidInput)
	ErrMessageTooLong    = fmt.Errorf("%w: message is too long", ErrInvalidInput)
	ErrSuspiciousContent = fmt.Errorf("%w: message content not allowed", ErrInvalidInput)
)

// Fault wraps err as an ErrFault with the given operation name.
func Fault(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrFault, op, err)
}

// IsRejected reports whether err is an expected refusal.
func IsRejected(err error) bool {
	return errors.Is(err, ErrRejected)
}

// IsInvalidInput reports whether err is a validation failure.
func IsInvalidInput(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}

// IsFault reports whether err signals a broken collaborator.
func IsFault(err error) bool {
	return errors.Is(err, ErrFault)
}

var publicMessages = []struct {
	err error
	msg string
}{
	{ErrRoomNotFound, "Room not found"},
	{ErrRoomFull, "Room is full"},
	{ErrTooManyRooms, "Server is busy, try again later"},
	{ErrCreationQuota, "Too many rooms created, try again later"},
	{ErrCodeSpaceExhausted, "Server is busy, try again later"},
	{ErrRateLimited, "Slow down"},
	{ErrNotOwner, "Only the room owner can do that"},
	{ErrSelfKick, "You cannot kick yourself"},
	{ErrUserNotFound, "User not found"},
	{ErrNotMember, "You are not in this room"},
	{ErrAlreadyInRoom, "You are already in a room"},
	{ErrUsernameTaken, "Username is already taken"},
	{ErrBanned, "You cannot join this room"},
	{ErrUnauthorized, "Session expired"},
	{ErrValidationFailed, "Message was blocked"},
	{ErrEmptyMessage, "Message is empty"},
	{ErrMessageTooLong, "Message is too long"},
	{ErrSuspiciousContent, "Message was blocked"},
}

// PublicMessage maps err to a fixed user-facing string. Internal details
// never leave the core.
func PublicMessage(err error) string {
	if err == nil {
		return ""
	}
	for _, pm := range publicMessages {
		if errors.Is(err, pm.err) {
			return pm.msg
		}
	}
	switch {
	case IsRejected(err):
		return "Request rejected"
	case IsInvalidInput(err):
		return "Invalid input"
	default:
		return "Something went wrong"
	}
}
