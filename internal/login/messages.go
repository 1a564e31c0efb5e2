package login

import (
	"errors"

	"github.com/jmerrifield20/dlts/internal/challenge"
	"github.com/jmerrifield20/dlts/internal/session"
	"github.com/jmerrifield20/dlts/pkg/client"
	"github.com/jmerrifield20/dlts/pkg/dssn"
)

// Messages shown to the citizen.
const (
	MsgEmptyDSSN        = "Please enter your DSSN"
	MsgInvalidDSSN      = "Please enter a valid 15-digit DSSN"
	MsgDenied           = "Transportation access was denied on your mobile device"
	MsgTimedOut         = "Transportation verification timed out. Please try again."
	MsgCancelled        = "Transportation verification was cancelled"
	MsgBusy             = "A transportation verification is already in progress"
	MsgRequestFailed    = "Failed to initiate DSSN challenge"
	MsgMissingToken     = "Your request was approved but no access token was issued. Please try again."
	MsgInstallApp       = "Please install the Digital Liberia mobile app to receive verification requests"
	MsgPushSent         = "Push notification sent to your mobile device"
	msgUnknownPushError = "Unknown error"
)

// UserMessage maps a Login error to the single message shown to the citizen.
// It returns "" for a nil error.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}

	var verr *dssn.ValidationError
	if errors.As(err, &verr) {
		if verr.Reason == dssn.ReasonEmpty {
			return MsgEmptyDSSN
		}
		return MsgInvalidDSSN
	}

	var rerr *client.ChallengeRequestError
	if errors.As(err, &rerr) && rerr.Message != "" {
		return rerr.Message
	}

	var perr *challenge.PollingError
	if errors.As(err, &perr) {
		return perr.Message()
	}

	switch {
	case errors.Is(err, challenge.ErrDenied):
		return MsgDenied
	case errors.Is(err, challenge.ErrTimedOut):
		return MsgTimedOut
	case errors.Is(err, challenge.ErrCancelled):
		return MsgCancelled
	case errors.Is(err, challenge.ErrBusy):
		return MsgBusy
	case errors.Is(err, session.ErrMissingToken):
		return MsgMissingToken
	}
	return MsgRequestFailed
}

// AdvisoryMessage describes a push outcome that needs the citizen's
// attention. It returns "" when the push was sent or nothing is known.
func AdvisoryMessage(outcome *client.PushOutcome) string {
	if outcome == nil || outcome.Sent {
		return ""
	}
	if !outcome.HasToken {
		return MsgInstallApp
	}
	if outcome.Error == "" {
		return "Notification error: " + msgUnknownPushError
	}
	return "Notification error: " + outcome.Error
}
