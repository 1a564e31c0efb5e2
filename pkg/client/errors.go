package client

import "fmt"

const (
	defaultRequestMessage = "Failed to initiate DSSN challenge"
	defaultStatusMessage  = "Failed to check approval status"
)

// ChallengeRequestError is returned by OpenChallenge when the authority
// rejects the request or cannot be reached. Message is safe to show to the
// citizen; Err carries the underlying transport or decode failure, if any.
type ChallengeRequestError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *ChallengeRequestError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("open challenge: %s: %v", e.Message, e.Err)
	}
	return "open challenge: " + e.Message
}

func (e *ChallengeRequestError) Unwrap() error { return e.Err }

// StatusError is returned by ChallengeStatus when a status check fails.
type StatusError struct {
	ChallengeID string
	StatusCode  int
	Message     string
	Err         error
}

func (e *StatusError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("challenge status %s: %s: %v", e.ChallengeID, e.Message, e.Err)
	}
	return fmt.Sprintf("challenge status %s: %s", e.ChallengeID, e.Message)
}

func (e *StatusError) Unwrap() error { return e.Err }
