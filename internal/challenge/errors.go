package challenge

import (
	"errors"
	"fmt"

	"github.com/jmerrifield20/dlts/pkg/client"
)

var (
	// ErrDenied is returned when the citizen rejects the challenge on their device.
	ErrDenied = errors.New("challenge denied")

	// ErrTimedOut is returned when the lifetime elapses, or the authority
	// reports the challenge expired, before it was approved or denied.
	ErrTimedOut = errors.New("challenge timed out")

	// ErrCancelled is returned by Run after Cancel or when its context ends.
	ErrCancelled = errors.New("challenge cancelled")

	// ErrBusy is returned by Run while another challenge is being opened or polled.
	ErrBusy = errors.New("a challenge is already in progress")
)

const defaultPollingMessage = "Failed to check approval status"

// PollingError ends polling after a single failed status check.
type PollingError struct {
	ChallengeID string
	Err         error
}

func (e *PollingError) Error() string {
	return fmt.Sprintf("poll challenge %s: %v", e.ChallengeID, e.Err)
}

func (e *PollingError) Unwrap() error { return e.Err }

// Message returns the text to show the citizen.
func (e *PollingError) Message() string {
	var se *client.StatusError
	if errors.As(e.Err, &se) && se.Message != "" {
		return se.Message
	}
	return defaultPollingMessage
}
