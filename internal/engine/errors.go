package engine

import (
	"errors"

	"github.com/goodtune/kblock/internal/access"
	"github.com/goodtune/kblock/internal/lockdown"
	"github.com/goodtune/kblock/internal/override"
)

var (
	// ErrUnknownCommand is returned for a command type the engine does not handle.
	ErrUnknownCommand = errors.New("unknown command")

	// ErrUnknownSet is returned when a command names a set that does not exist.
	ErrUnknownSet = errors.New("unknown block set")

	// ErrInvalidCommand is returned when a command is missing required fields.
	ErrInvalidCommand = errors.New("invalid command")

	// ErrNotReady is returned when a delayed page is unlocked too early.
	ErrNotReady = errors.New("delay has not elapsed")

	// ErrStopped is returned by Submit after Run has exited.
	ErrStopped = errors.New("engine stopped")
)

// Response codes.
const (
	CodeAccessDenied = "access-denied"
	CodeLimitReached = "limit-reached"
	CodeInvalid      = "invalid"
	CodeLockedDown   = "locked-down"
	CodeUnknownSet   = "unknown-set"
	CodeInternal     = "internal"
)

func codeFor(err error) string {
	switch {
	case errors.Is(err, access.ErrAccessDenied), errors.Is(err, access.ErrNoChallenge):
		return CodeAccessDenied
	case errors.Is(err, override.ErrLimitReached):
		return CodeLimitReached
	case errors.Is(err, override.ErrLockedDown):
		return CodeLockedDown
	case errors.Is(err, ErrUnknownSet):
		return CodeUnknownSet
	case errors.Is(err, ErrUnknownCommand),
		errors.Is(err, ErrInvalidCommand),
		errors.Is(err, ErrNotReady),
		errors.Is(err, lockdown.ErrInvalidDuration),
		errors.Is(err, lockdown.ErrNoSets),
		errors.Is(err, override.ErrInvalidMinutes),
		errors.Is(err, override.ErrNoSets):
		return CodeInvalid
	default:
		return CodeInternal
	}
}
