package worldsave

import (
	"errors"
	"fmt"

	wserrors "github.com/randalmurphal/worldsave/pkg/worldsave/errors"
)

// Sentinel errors returned by Session.
var (
	// ErrSessionClosed indicates the session was closed. Tasks still
	// scheduled when the session closes end with this error.
	ErrSessionClosed = errors.New("session closed")

	// ErrScopeEmpty indicates a save or load was requested for no scope.
	ErrScopeEmpty = errors.New("empty task scope")

	// ErrStreamingDisabled indicates a region operation while region
	// streaming is turned off.
	ErrStreamingDisabled = errors.New("region streaming disabled")

	// ErrNoWorld indicates New was called without a world.
	ErrNoWorld = errors.New("nil world")
)

func conflict(op, format string, args ...any) error {
	return wserrors.TaskConflict(op, fmt.Errorf(format, args...))
}
