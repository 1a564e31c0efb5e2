// Package push obtains the device token that lets the authority deliver a
// verification request to the citizen's mobile app.
//
// Push is best effort: Provider.AcquireToken never returns an error, and a
// login proceeds without a token when anything along the way fails.
package push

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/jmerrifield20/dlts/internal/kv"
)

// TokenKey is the storage key of the cached device token.
const TokenKey = "fcmToken"

// Token is an opaque device token issued by the push relay.
type Token string

// Permission is the citizen's answer to the notification prompt.
type Permission string

const (
	PermissionDefault Permission = "default"
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
)

// Registration is the current push state as seen by this process.
type Registration struct {
	Token      Token
	Permission Permission
}

// messagingClient is the interface expected by Provider, satisfied by *Messaging.
type messagingClient interface {
	Init(ctx context.Context) error
	Register(ctx context.Context, endpoint string) (string, error)
	GetToken(ctx context.Context, cfg TokenConfig) (Token, error)
}

// ProviderConfig carries the relay-facing settings of a Provider.
type ProviderConfig struct {
	// VAPIDKey is the public application server key sent with token requests.
	VAPIDKey string
	// Endpoint is the background delivery worker URL registered with the relay.
	Endpoint string
}

// Provider acquires and caches the device token.
type Provider struct {
	store     kv.Store
	messaging messagingClient
	prompter  PermissionPrompter
	cfg       ProviderConfig
	logger    *zap.Logger

	mu         sync.Mutex
	permission Permission
	token      Token
}

// NewProvider creates a Provider. messaging may be nil, in which case only a
// previously cached token can be returned.
func NewProvider(store kv.Store, messaging messagingClient, prompter PermissionPrompter, cfg ProviderConfig, logger *zap.Logger) *Provider {
	if prompter == nil {
		prompter = StaticPrompter{Answer: PermissionDefault}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		store:      store,
		messaging:  messaging,
		prompter:   prompter,
		cfg:        cfg,
		logger:     logger,
		permission: PermissionDefault,
	}
}

// AcquireToken returns a device token if one is cached or can be obtained.
// The second return value is false when no token is available; the reason is
// logged, never returned.
func (p *Provider) AcquireToken(ctx context.Context) (Token, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	cached, err := p.store.Get(ctx, TokenKey)
	switch {
	case err == nil && cached != "":
		p.token = Token(cached)
		return p.token, true
	case err != nil && !errors.Is(err, kv.ErrNotFound):
		p.logger.Warn("read cached push token", zap.Error(err))
	}

	if p.messaging == nil {
		return "", false
	}
	if p.permission == PermissionDenied {
		p.logger.Debug("push permission previously denied; continuing without token")
		return "", false
	}

	if err := p.messaging.Init(ctx); err != nil {
		if errors.Is(err, ErrUnsupported) {
			p.logger.Debug("push messaging not supported; continuing without token")
		} else {
			p.logger.Warn("push messaging init failed", zap.Error(err))
		}
		return "", false
	}

	if p.permission != PermissionGranted {
		perm, err := p.prompter.RequestPermission(ctx)
		if err != nil {
			p.logger.Warn("push permission prompt failed", zap.Error(err))
			return "", false
		}
		p.permission = perm
		if perm != PermissionGranted {
			p.logger.Warn("push permission not granted", zap.String("permission", string(perm)))
			return "", false
		}
	}

	registrationID, err := p.messaging.Register(ctx, p.cfg.Endpoint)
	if err != nil {
		p.logger.Warn("push endpoint registration failed", zap.Error(err))
		return "", false
	}

	token, err := p.messaging.GetToken(ctx, TokenConfig{
		VAPIDKey:       p.cfg.VAPIDKey,
		RegistrationID: registrationID,
	})
	if err != nil || token == "" {
		p.logger.Warn("push token unavailable", zap.Error(err))
		return "", false
	}

	if err := p.store.Set(ctx, TokenKey, string(token)); err != nil {
		p.logger.Warn("cache push token", zap.Error(err))
	}
	p.token = token
	return token, true
}

// Invalidate drops the cached token so the next AcquireToken requests a new one.
func (p *Provider) Invalidate(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.token = ""
	if err := p.store.Remove(ctx, TokenKey); err != nil {
		return fmt.Errorf("remove cached push token: %w", err)
	}
	return nil
}

// Registration reports the last known token and permission.
func (p *Provider) Registration() Registration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Registration{Token: p.token, Permission: p.permission}
}
