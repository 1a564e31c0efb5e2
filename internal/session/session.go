// Package session turns an approved challenge into the locally persisted
// login session and removes it again on logout.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/jmerrifield20/dlts/internal/challenge"
	"github.com/jmerrifield20/dlts/internal/kv"
)

// Storage keys.
const (
	TokenKey = "transportToken"
	UserKey  = "transportUser"
)

var (
	// ErrNoSession is returned by Current when nobody is logged in.
	ErrNoSession = errors.New("no active session")

	// ErrMissingToken is returned by OnApproved when the authority approved
	// the challenge without issuing a token.
	ErrMissingToken = errors.New("approved challenge carries no gov token")
)

// Session is the authenticated state after an approved challenge.
type Session struct {
	DSSN          string         `json:"dssn"`
	GovToken      string         `json:"govToken"`
	ChallengeID   string         `json:"challengeId"`
	Profile       map[string]any `json:"profile"`
	EstablishedAt time.Time      `json:"timestamp"`
	ExpiresAt     *time.Time     `json:"expiresAt,omitempty"`
}

// Expired reports whether the gov token carried an expiry that has passed.
func (s *Session) Expired(now time.Time) bool {
	return s.ExpiresAt != nil && !now.Before(*s.ExpiresAt)
}

// Materializer persists sessions to a kv.Store.
type Materializer struct {
	store     kv.Store
	announcer Announcer
	now       func() time.Time
	logger    *zap.Logger
}

// NewMaterializer creates a Materializer. announcer may be nil.
func NewMaterializer(store kv.Store, announcer Announcer, logger *zap.Logger) *Materializer {
	if announcer == nil {
		announcer = NopAnnouncer{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Materializer{
		store:     store,
		announcer: announcer,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    logger,
	}
}

// SetNow overrides the clock used to stamp sessions.
func (m *Materializer) SetNow(now func() time.Time) {
	m.now = now
}

// OnApproved builds the session for an approved challenge and persists it.
// It makes no network calls other than the optional announcement.
func (m *Materializer) OnApproved(ctx context.Context, dssn string, res *challenge.Result) (*Session, error) {
	if res == nil || res.GovToken == "" {
		return nil, ErrMissingToken
	}

	profile := make(map[string]any, len(res.Profile)+1)
	for k, v := range res.Profile {
		profile[k] = v
	}
	profile["dssn"] = dssn

	s := &Session{
		DSSN:          dssn,
		GovToken:      res.GovToken,
		Profile:       profile,
		EstablishedAt: m.now(),
		ExpiresAt:     tokenExpiry(res.GovToken),
	}
	if res.Handle != nil {
		s.ChallengeID = res.Handle.ChallengeID
	}

	record, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode session: %w", err)
	}
	if err := m.store.Set(ctx, TokenKey, s.GovToken); err != nil {
		return nil, fmt.Errorf("persist token: %w", err)
	}
	if err := m.store.Set(ctx, UserKey, string(record)); err != nil {
		_ = m.store.Remove(ctx, TokenKey)
		return nil, fmt.Errorf("persist session: %w", err)
	}

	m.announce(ctx, newEvent(EventEstablished, s, m.now()))
	return s, nil
}

// Current loads the persisted session.
func (m *Materializer) Current(ctx context.Context) (*Session, error) {
	token, err := m.store.Get(ctx, TokenKey)
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, ErrNoSession
		}
		return nil, fmt.Errorf("load token: %w", err)
	}
	record, err := m.store.Get(ctx, UserKey)
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, ErrNoSession
		}
		return nil, fmt.Errorf("load session: %w", err)
	}

	var s Session
	if err := json.Unmarshal([]byte(record), &s); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	s.GovToken = token
	return &s, nil
}

// Logout removes the persisted session. It succeeds when nobody is logged in.
func (m *Materializer) Logout(ctx context.Context) error {
	existing, _ := m.Current(ctx)

	errToken := m.store.Remove(ctx, TokenKey)
	errUser := m.store.Remove(ctx, UserKey)
	if err := errors.Join(errToken, errUser); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}

	if existing != nil {
		m.announce(ctx, newEvent(EventEnded, existing, m.now()))
	}
	return nil
}

func (m *Materializer) announce(ctx context.Context, ev Event) {
	if err := m.announcer.Announce(ctx, ev); err != nil {
		m.logger.Warn("announce session event",
			zap.String("type", ev.Type),
			zap.Error(err),
		)
	}
}

// tokenExpiry reads the exp claim when the token is a JWT. The signature is
// not checked; the authority validates its own tokens.
func tokenExpiry(token string) *time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil
	}
	t := exp.Time.UTC()
	return &t
}
