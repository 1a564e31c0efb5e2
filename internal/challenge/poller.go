// Package challenge drives a single DSSN challenge from the opening request
// to one terminal outcome.
//
// A Poller owns at most one challenge at a time. Run opens a fresh challenge
// and then polls its status on a fixed interval while a lifetime timer runs
// alongside. Both timers live in the goroutine executing Run and are stopped
// on every exit path. Status checks run inline in that goroutine, so two
// checks for the same challenge never overlap.
//
// Races between a status response and the lifetime timer are settled by
// arrival order: the first event the loop receives wins. A response that is
// already in hand is processed before a timer that fired while the request
// was in flight. Once a terminal state is reached every later event is a no-op.
//
// Every Run is tagged with a generation. Cancel retires the current one, so a
// cancelled Run that is still unwinding can no longer change the state seen
// by the next Run; it only ever returns ErrCancelled.
package challenge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jmerrifield20/dlts/pkg/client"
	"github.com/jmerrifield20/dlts/pkg/dssn"
)

const (
	DefaultInterval = 3 * time.Second
	DefaultLifetime = 5 * time.Minute
)

// authority is the interface expected by Poller, satisfied by *client.Client.
type authority interface {
	OpenChallenge(ctx context.Context, req client.OpenChallengeRequest) (*client.ChallengeHandle, error)
	ChallengeStatus(ctx context.Context, challengeID string) (*client.StatusResult, error)
}

// Config holds the polling cadence. Zero values select the defaults.
type Config struct {
	Interval time.Duration
	Lifetime time.Duration
}

// Result is the outcome of an approved challenge.
type Result struct {
	Handle   *client.ChallengeHandle
	GovToken string
	Profile  map[string]any
	Polls    int
}

// Observer is notified of every state change, in order, exactly once. It is
// called with the Poller locked and must not call back into it.
type Observer func(from, to State)

// PollHook is called after every status check with the reported status
// ("error" on failure) and the time the check took.
type PollHook func(status string, elapsed time.Duration)

// Option configures a Poller.
type Option func(*Poller)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(p *Poller) { p.clock = c }
}

// WithObserver registers a state change observer.
func WithObserver(o Observer) Option {
	return func(p *Poller) { p.observer = o }
}

// WithPollHook registers a per-check callback.
func WithPollHook(h PollHook) Option {
	return func(p *Poller) { p.pollHook = h }
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(p *Poller) { p.logger = l }
}

// Poller opens and polls challenges against the authority.
type Poller struct {
	auth     authority
	cfg      Config
	clock    Clock
	observer Observer
	pollHook PollHook
	logger   *zap.Logger

	mu     sync.Mutex
	gen    uint64
	state  State
	handle *client.ChallengeHandle
	cancel context.CancelFunc
}

// New creates an idle Poller.
func New(auth authority, cfg Config, opts ...Option) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Lifetime <= 0 {
		cfg.Lifetime = DefaultLifetime
	}
	p := &Poller{
		auth:   auth,
		cfg:    cfg,
		clock:  realClock{},
		logger: zap.NewNop(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// State returns the current state.
func (p *Poller) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Handle returns the most recently opened challenge, or nil.
func (p *Poller) Handle() *client.ChallengeHandle {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.handle
}

// Cancel abandons the challenge being opened or polled. It is safe to call
// any number of times from any state; outside requesting and polling it does
// nothing.
func (p *Poller) Cancel() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.fireLocked(evCancel) {
		return
	}
	p.gen++
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
}

// Run opens a new challenge and blocks until it reaches a terminal outcome.
// onOpen, when non-nil, is called once with the handle as polling starts.
//
// Run returns a *Result on approval. Otherwise the error is one of ErrDenied,
// ErrTimedOut, ErrCancelled, ErrBusy, *PollingError, *client.ChallengeRequestError
// or *dssn.ValidationError.
func (p *Poller) Run(ctx context.Context, req client.OpenChallengeRequest, onOpen func(*client.ChallengeHandle)) (*Result, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	p.mu.Lock()
	if p.state.Active() {
		p.mu.Unlock()
		return nil, ErrBusy
	}
	p.fireLocked(evReset)
	p.fireLocked(evOpen)
	p.gen++
	gen := p.gen
	p.handle = nil
	p.cancel = cancel
	p.mu.Unlock()

	handle, err := p.auth.OpenChallenge(runCtx, req)
	if err != nil {
		if runCtx.Err() != nil {
			p.fire(gen, evCancel)
			return nil, ErrCancelled
		}
		if !p.fire(gen, evOpenFailed) {
			return nil, ErrCancelled
		}
		p.logger.Warn("open challenge failed", zap.String("dssn", dssn.Mask(req.DSSN)), zap.Error(err))
		return nil, err
	}

	p.mu.Lock()
	if p.gen != gen || !p.fireLocked(evOpened) {
		// Cancelled between the response and here.
		p.mu.Unlock()
		return nil, ErrCancelled
	}
	p.handle = handle
	ticker := p.clock.NewTicker(p.cfg.Interval)
	lifetime := p.clock.NewTimer(p.cfg.Lifetime)
	p.mu.Unlock()
	defer ticker.Stop()
	defer lifetime.Stop()

	p.logger.Info("challenge opened",
		zap.String("challenge_id", handle.ChallengeID),
		zap.Duration("interval", p.cfg.Interval),
		zap.Duration("lifetime", p.cfg.Lifetime),
	)
	if onOpen != nil {
		onOpen(handle)
	}

	polls := 0
	for {
		select {
		case <-runCtx.Done():
			p.fire(gen, evCancel)
			return nil, ErrCancelled

		case <-lifetime.C():
			return nil, p.settle(gen, evExpired, ErrTimedOut)

		case <-ticker.C():
			// A lifetime that already elapsed beats a tick delivered alongside it.
			select {
			case <-lifetime.C():
				return nil, p.settle(gen, evExpired, ErrTimedOut)
			default:
			}

			polls++
			res, err := p.check(runCtx, handle.ChallengeID)
			if err != nil {
				if runCtx.Err() != nil {
					p.fire(gen, evCancel)
					return nil, ErrCancelled
				}
				return nil, p.settle(gen, evFailed, &PollingError{ChallengeID: handle.ChallengeID, Err: err})
			}

			switch res.Status {
			case client.StatusPending:
				continue
			case client.StatusApproved:
				if err := p.settle(gen, evApproved, nil); err != nil {
					return nil, err
				}
				return &Result{
					Handle:   handle,
					GovToken: res.GovToken,
					Profile:  res.Profile,
					Polls:    polls,
				}, nil
			case client.StatusDenied:
				return nil, p.settle(gen, evDenied, ErrDenied)
			case client.StatusExpired:
				return nil, p.settle(gen, evExpired, ErrTimedOut)
			default:
				return nil, p.settle(gen, evFailed, &PollingError{
					ChallengeID: handle.ChallengeID,
					Err:         fmt.Errorf("unknown challenge status %q", res.Status),
				})
			}
		}
	}
}

func (p *Poller) check(ctx context.Context, challengeID string) (*client.StatusResult, error) {
	start := p.clock.Now()
	res, err := p.auth.ChallengeStatus(ctx, challengeID)
	elapsed := p.clock.Now().Sub(start)

	status := "error"
	if err == nil {
		status = string(res.Status)
	}
	p.logger.Debug("challenge status",
		zap.String("challenge_id", challengeID),
		zap.String("status", status),
		zap.Duration("elapsed", elapsed),
	)
	if p.pollHook != nil {
		p.pollHook(status, elapsed)
	}
	return res, err
}

// settle applies a terminal event for run gen and returns outcome. When gen
// was retired or the event no longer applies, the challenge was cancelled
// concurrently.
func (p *Poller) settle(gen uint64, e event, outcome error) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.gen != gen || !p.fireLocked(e) {
		return ErrCancelled
	}
	p.cancel = nil
	p.logger.Info("challenge finished", zap.Stringer("state", p.state))
	return outcome
}

// fire applies e only while gen is the current run.
func (p *Poller) fire(gen uint64, e event) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.gen != gen {
		return false
	}
	return p.fireLocked(e)
}

func (p *Poller) fireLocked(e event) bool {
	next, ok := transition(p.state, e)
	if !ok {
		return false
	}
	from := p.state
	p.state = next
	if p.observer != nil {
		p.observer(from, next)
	}
	return true
}
