package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/jmerrifield20/dlts/pkg/dssn"
)

// Topic carries session lifecycle events.
const Topic = "dlts.sessions"

// Event types.
const (
	EventEstablished = "session.established"
	EventEnded       = "session.ended"
)

// Event is published when a session starts or ends. The DSSN is masked.
type Event struct {
	Type        string    `json:"type"`
	DSSN        string    `json:"dssn"`
	ChallengeID string    `json:"challenge_id,omitempty"`
	At          time.Time `json:"at"`
}

func newEvent(typ string, s *Session, at time.Time) Event {
	return Event{
		Type:        typ,
		DSSN:        dssn.Mask(s.DSSN),
		ChallengeID: s.ChallengeID,
		At:          at,
	}
}

// Announcer publishes session events.
type Announcer interface {
	Announce(ctx context.Context, ev Event) error
}

// NopAnnouncer discards every event.
type NopAnnouncer struct{}

// Announce implements Announcer.
func (NopAnnouncer) Announce(context.Context, Event) error { return nil }

// WatermillAnnouncer publishes events on a watermill publisher.
type WatermillAnnouncer struct {
	publisher message.Publisher
	topic     string
}

// NewWatermillAnnouncer creates an announcer publishing to Topic.
func NewWatermillAnnouncer(publisher message.Publisher) *WatermillAnnouncer {
	return &WatermillAnnouncer{publisher: publisher, topic: Topic}
}

// Announce implements Announcer.
func (a *WatermillAnnouncer) Announce(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := message.NewMessage(uuid.NewString(), payload)
	msg.Metadata.Set("type", ev.Type)
	msg.SetContext(ctx)

	if err := a.publisher.Publish(a.topic, msg); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// NewGoChannelPubSub returns an in-process pub/sub for single-binary use.
func NewGoChannelPubSub(logger *zap.Logger) *gochannel.GoChannel {
	return gochannel.NewGoChannel(gochannel.Config{}, NewZapLoggerAdapter(logger))
}

// NewRedisStreamPublisher publishes events to a Redis stream.
func NewRedisStreamPublisher(client redis.UniversalClient, logger *zap.Logger) (message.Publisher, error) {
	pub, err := redisstream.NewPublisher(
		redisstream.PublisherConfig{Client: client},
		NewZapLoggerAdapter(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("create redis stream publisher: %w", err)
	}
	return pub, nil
}

// zapLoggerAdapter routes watermill logs through zap.
type zapLoggerAdapter struct {
	logger *zap.Logger
}

// NewZapLoggerAdapter wraps logger as a watermill.LoggerAdapter.
func NewZapLoggerAdapter(logger *zap.Logger) watermill.LoggerAdapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &zapLoggerAdapter{logger: logger.Named("watermill")}
}

func (a *zapLoggerAdapter) Error(msg string, err error, fields watermill.LogFields) {
	a.logger.Error(msg, append(zapFields(fields), zap.Error(err))...)
}

func (a *zapLoggerAdapter) Info(msg string, fields watermill.LogFields) {
	a.logger.Info(msg, zapFields(fields)...)
}

func (a *zapLoggerAdapter) Debug(msg string, fields watermill.LogFields) {
	a.logger.Debug(msg, zapFields(fields)...)
}

func (a *zapLoggerAdapter) Trace(msg string, fields watermill.LogFields) {
	a.logger.Debug(msg, zapFields(fields)...)
}

func (a *zapLoggerAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &zapLoggerAdapter{logger: a.logger.With(zapFields(fields)...)}
}

func zapFields(fields watermill.LogFields) []zap.Field {
	out := make([]zap.Field, 0, len(fields))
	for k, v := range fields {
		out = append(out, zap.Any(k, v))
	}
	return out
}
