// Package login wires the DSSN challenge pieces into the single operation a
// front end needs: Login, plus Cancel, Logout and Current.
package login

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jmerrifield20/dlts/internal/challenge"
	"github.com/jmerrifield20/dlts/internal/metrics"
	"github.com/jmerrifield20/dlts/internal/push"
	"github.com/jmerrifield20/dlts/internal/session"
	"github.com/jmerrifield20/dlts/pkg/client"
	"github.com/jmerrifield20/dlts/pkg/dssn"
)

const (
	// ServiceName identifies this portal to the authority.
	ServiceName = "Digital Liberia Transportation System"
	// RequestDescriptor is shown on the citizen's mobile device.
	RequestDescriptor = "Digital Liberia Transportation - National Access"
)

type tokenProvider interface {
	AcquireToken(ctx context.Context) (push.Token, bool)
}

type challengeRunner interface {
	Run(ctx context.Context, req client.OpenChallengeRequest, onOpen func(*client.ChallengeHandle)) (*challenge.Result, error)
	Cancel()
}

type sessionStore interface {
	OnApproved(ctx context.Context, dssn string, res *challenge.Result) (*session.Session, error)
	Current(ctx context.Context) (*session.Session, error)
	Logout(ctx context.Context) error
}

// AdvisoryFunc is called once per opened challenge. advisory is
// AdvisoryMessage of the push outcome and may be empty.
type AdvisoryFunc func(handle *client.ChallengeHandle, advisory string)

// Flow runs logins.
type Flow struct {
	tokens   tokenProvider
	runner   challengeRunner
	sessions sessionStore
	advisory AdvisoryFunc
	logger   *zap.Logger
}

// NewFlow creates a Flow. tokens may be nil to log in without push.
func NewFlow(tokens tokenProvider, runner challengeRunner, sessions sessionStore, logger *zap.Logger) *Flow {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Flow{
		tokens:   tokens,
		runner:   runner,
		sessions: sessions,
		logger:   logger,
	}
}

// SetAdvisory registers the callback that receives the push advisory.
func (f *Flow) SetAdvisory(fn AdvisoryFunc) {
	f.advisory = fn
}

// Login verifies rawDSSN through a mobile-approved challenge and returns the
// persisted session. Map errors for display with UserMessage.
func (f *Flow) Login(ctx context.Context, rawDSSN string) (*session.Session, error) {
	d, err := dssn.Normalize(rawDSSN)
	if err != nil {
		return nil, err
	}

	var token push.Token
	if f.tokens != nil {
		var ok bool
		token, ok = f.tokens.AcquireToken(ctx)
		metrics.RecordPushToken(ok)
	}

	req := client.OpenChallengeRequest{
		DSSN:       d,
		Service:    ServiceName,
		Descriptor: RequestDescriptor,
		PushToken:  string(token),
	}

	start := time.Now()
	res, err := f.runner.Run(ctx, req, func(h *client.ChallengeHandle) {
		if f.advisory != nil {
			f.advisory(h, AdvisoryMessage(h.PushNotification))
		}
	})
	if err != nil {
		metrics.RecordChallenge(outcome(err), time.Since(start))
		f.logger.Info("login not completed",
			zap.String("dssn", dssn.Mask(d)),
			zap.Error(err),
		)
		return nil, err
	}
	s, err := f.sessions.OnApproved(ctx, d, res)
	if err != nil {
		metrics.RecordChallenge("session_failed", time.Since(start))
		f.logger.Warn("approved challenge not materialized",
			zap.String("dssn", dssn.Mask(d)),
			zap.String("challenge_id", res.Handle.ChallengeID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("materialize session: %w", err)
	}
	metrics.RecordChallenge("approved", time.Since(start))
	f.logger.Info("login approved",
		zap.String("dssn", dssn.Mask(d)),
		zap.String("challenge_id", s.ChallengeID),
	)
	return s, nil
}

// Cancel abandons a login in progress. It is safe to call at any time.
func (f *Flow) Cancel() {
	f.runner.Cancel()
}

// Logout clears the persisted session.
func (f *Flow) Logout(ctx context.Context) error {
	return f.sessions.Logout(ctx)
}

// Current returns the persisted session or session.ErrNoSession.
func (f *Flow) Current(ctx context.Context) (*session.Session, error) {
	return f.sessions.Current(ctx)
}

func outcome(err error) string {
	var rerr *client.ChallengeRequestError
	var perr *challenge.PollingError
	switch {
	case errors.As(err, &rerr):
		return "request_failed"
	case errors.As(err, &perr):
		return "failed"
	case errors.Is(err, challenge.ErrDenied):
		return "denied"
	case errors.Is(err, challenge.ErrTimedOut):
		return "timed_out"
	case errors.Is(err, challenge.ErrCancelled):
		return "cancelled"
	case errors.Is(err, challenge.ErrBusy):
		return "busy"
	}
	return "error"
}
