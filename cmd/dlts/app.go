package main

import (
	"context"
	"fmt"
	"io"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/jmerrifield20/dlts/internal/challenge"
	"github.com/jmerrifield20/dlts/internal/kv"
	"github.com/jmerrifield20/dlts/internal/login"
	"github.com/jmerrifield20/dlts/internal/metrics"
	"github.com/jmerrifield20/dlts/internal/push"
	"github.com/jmerrifield20/dlts/internal/session"
	"github.com/jmerrifield20/dlts/pkg/client"
)

// app holds the wired components for one CLI invocation.
type app struct {
	cfg       *config
	logger    *zap.Logger
	store     kv.Store
	authority *client.Client
	messaging *push.Messaging
	tokens    *push.Provider
	sessions  *session.Materializer
	flow      *login.Flow
	closers   []io.Closer
}

type appOptions struct {
	prompter push.PermissionPrompter
	noPush   bool
}

func newApp(ctx context.Context, cfg *config, logger *zap.Logger, opts appOptions) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	store, err := kv.Open(ctx, cfg.StorageURL)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	a.store = store
	a.closers = append(a.closers, store)

	a.authority, err = client.New(cfg.AuthorityURL,
		client.WithTimeout(cfg.AuthorityTimeout),
		client.WithOrigin(cfg.Origin),
		client.WithUserAgent("dlts/"+version),
		client.WithStatusCache(cfg.PollLifetime),
	)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("create authority client: %w", err)
	}

	providerCfg := push.ProviderConfig{VAPIDKey: cfg.VAPIDKey, Endpoint: cfg.DeliveryEndpoint}
	if opts.noPush {
		a.tokens = push.NewProvider(store, nil, opts.prompter, providerCfg, logger.Named("push"))
	} else {
		relay := push.RelayConfig{RelayURL: cfg.RelayURL, ProjectID: cfg.ProjectID}
		if cfg.OAuthClientID != "" {
			relay.OAuth = &push.OAuthConfig{
				ClientID:     cfg.OAuthClientID,
				ClientSecret: cfg.OAuthClientSecret,
				TokenURL:     cfg.OAuthTokenURL,
			}
		}
		a.messaging = push.NewMessaging(relay)
		a.tokens = push.NewProvider(store, a.messaging, opts.prompter, providerCfg, logger.Named("push"))
	}

	publisher, closers, err := newPublisher(cfg, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.closers = append(a.closers, closers...)
	a.sessions = session.NewMaterializer(store, session.NewWatermillAnnouncer(publisher), logger.Named("session"))

	poller := challenge.New(a.authority,
		challenge.Config{Interval: cfg.PollInterval, Lifetime: cfg.PollLifetime},
		challenge.WithLogger(logger.Named("challenge")),
		challenge.WithPollHook(metrics.RecordStatusCheck),
	)
	a.flow = login.NewFlow(a.tokens, poller, a.sessions, logger.Named("login"))
	return a, nil
}

// newPublisher returns a Redis stream publisher when events.redis_url is set
// and an in-process channel otherwise.
func newPublisher(cfg *config, logger *zap.Logger) (message.Publisher, []io.Closer, error) {
	if cfg.EventsRedisURL == "" {
		pubSub := session.NewGoChannelPubSub(logger)
		return pubSub, []io.Closer{pubSub}, nil
	}
	opts, err := redis.ParseURL(cfg.EventsRedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse events redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	pub, err := session.NewRedisStreamPublisher(rdb, logger)
	if err != nil {
		_ = rdb.Close()
		return nil, nil, err
	}
	return pub, []io.Closer{rdb, pub}, nil
}

// Close releases storage and publisher connections.
func (a *app) Close() {
	if a.messaging != nil {
		a.messaging.Shutdown()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			a.logger.Debug("close", zap.Error(err))
		}
	}
}
