package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/michel-DC/Teamify-sub004/pkg/logger"
	"github.com/michel-DC/Teamify-sub004/pkg/metrics"
)

const (
	// StreamName is the name of the live frame stream.
	StreamName = "REALTIME"

	// SubjectPrefix is the prefix for all live frame subjects.
	SubjectPrefix = "rt"

	kindRoom = "room"
	kindUser = "user"
	kindJoin = "join"
)

// Local delivers frames to the sockets connected to this instance.
type Local interface {
	PublishRoom(ctx context.Context, room string, payload []byte) error
	PublishUser(ctx context.Context, userID string, payload []byte) error
	JoinUser(ctx context.Context, userID, room string) error
}

type envelope struct {
	Kind    string `json:"kind"`
	Target  string `json:"target"`
	Room    string `json:"room,omitempty"`
	Payload []byte `json:"payload,omitempty"`
}

// Subject returns the subject frames of kind are published on. Targets travel
// in the envelope so user-supplied ids never become subject tokens.
func Subject(kind string) string {
	return fmt.Sprintf("%s.%s", SubjectPrefix, kind)
}

// Bus fans live frames out across gateway instances. Every instance, the
// publisher included, receives each frame from its ordered consumer and
// hands it to Local, so all instances observe one publication order.
type Bus struct {
	client *Client
	local  Local
	log    *logger.Logger

	mu      sync.Mutex
	consume jetstream.ConsumeContext
}

// NewBus creates a bus over client delivering into local.
func NewBus(client *Client, local Local, log *logger.Logger) *Bus {
	return &Bus{client: client, local: local, log: log.Named("bus")}
}

// EnsureStream creates the live frame stream if it does not exist. Frames
// are short-lived: history is served from the database.
func (b *Bus) EnsureStream(ctx context.Context) error {
	js := b.client.JetStream()

	if _, err := js.Stream(ctx, StreamName); err == nil {
		return nil
	}

	_, err := js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{SubjectPrefix + ".>"},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      time.Minute,
		Storage:     jetstream.MemoryStorage,
		Replicas:    1,
		Description: "Live conversation, presence and notification frames",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}
	return nil
}

// Start subscribes this instance with an ephemeral ordered consumer that
// only sees frames published from now on.
func (b *Bus) Start(ctx context.Context) error {
	if err := b.EnsureStream(ctx); err != nil {
		return err
	}

	consumer, err := b.client.JetStream().OrderedConsumer(ctx, StreamName, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{SubjectPrefix + ".>"},
		DeliverPolicy:  jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}

	cc, err := consumer.Consume(b.handle)
	if err != nil {
		return fmt.Errorf("failed to consume: %w", err)
	}

	b.mu.Lock()
	b.consume = cc
	b.mu.Unlock()
	b.log.Info("bus started", zap.String("stream", StreamName))
	return nil
}

// Stop ends consumption.
func (b *Bus) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.consume != nil {
		b.consume.Stop()
		b.consume = nil
	}
}

func (b *Bus) handle(msg jetstream.Msg) {
	var env envelope
	if err := json.Unmarshal(msg.Data(), &env); err != nil {
		b.log.Warn("dropping malformed bus frame", zap.String("subject", msg.Subject()), zap.Error(err))
		return
	}
	metrics.BusMessages.WithLabelValues("in", env.Kind).Inc()

	ctx := context.Background()
	var err error
	switch env.Kind {
	case kindRoom:
		err = b.local.PublishRoom(ctx, env.Target, env.Payload)
	case kindUser:
		err = b.local.PublishUser(ctx, env.Target, env.Payload)
	case kindJoin:
		err = b.local.JoinUser(ctx, env.Target, env.Room)
	default:
		b.log.Warn("unknown bus frame kind", zap.String("kind", env.Kind))
		return
	}
	if err != nil {
		b.log.Warn("local delivery failed", zap.String("kind", env.Kind), zap.String("target", env.Target), zap.Error(err))
	}
}

func (b *Bus) publish(ctx context.Context, env envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal frame: %w", err)
	}
	if _, err := b.client.JetStream().Publish(ctx, Subject(env.Kind), data); err != nil {
		return fmt.Errorf("failed to publish frame: %w", err)
	}
	metrics.BusMessages.WithLabelValues("out", env.Kind).Inc()
	return nil
}

// PublishRoom sends payload to room on every instance.
func (b *Bus) PublishRoom(ctx context.Context, room string, payload []byte) error {
	return b.publish(ctx, envelope{Kind: kindRoom, Target: room, Payload: payload})
}

// PublishUser sends payload to every connection of userID on every instance.
func (b *Bus) PublishUser(ctx context.Context, userID string, payload []byte) error {
	return b.publish(ctx, envelope{Kind: kindUser, Target: userID, Payload: payload})
}

// JoinUser subscribes userID's connections on every instance to room.
func (b *Bus) JoinUser(ctx context.Context, userID, room string) error {
	return b.publish(ctx, envelope{Kind: kindJoin, Target: userID, Room: room})
}
