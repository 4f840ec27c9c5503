package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alem-hub/shadow-ranch/internal/domain/shared"
)

// DefaultChannel is the Pub/Sub channel events travel on.
const DefaultChannel = "shadow-ranch:events"

const publishTimeout = 2 * time.Second

// RedisEventBusConfig configures RedisEventBus.
type RedisEventBusConfig struct {
	Client *redis.Client
	// ChannelName defaults to DefaultChannel.
	ChannelName string
	// InstanceID tags outgoing messages so the sender can drop its own echo.
	// A random UUID is used when empty.
	InstanceID     string
	LocalBusConfig InMemoryEventBusConfig
	Logger         *slog.Logger
}

// RedisEventBus delivers every event to local handlers right away and
// mirrors it on a Redis channel for the other instances. A failed Redis
// publish is logged; local delivery still happens.
type RedisEventBus struct {
	*InMemoryEventBus

	client   *redis.Client
	sub      *redis.PubSub
	channel  string
	instance string
	log      *slog.Logger

	stop     context.CancelFunc
	listener sync.WaitGroup
	once     sync.Once
}

var _ shared.EventBus = (*RedisEventBus)(nil)

// wireEvent is the JSON shape on the channel.
type wireEvent struct {
	ID       string `json:"id"`
	Instance string `json:"instance_id"`
	shared.Record
}

// NewRedisEventBus subscribes to the channel and starts listening. It
// returns only after Redis confirmed the subscription.
func NewRedisEventBus(ctx context.Context, cfg RedisEventBusConfig) (*RedisEventBus, error) {
	if cfg.Client == nil {
		return nil, errors.New("redis client is required")
	}
	if cfg.ChannelName == "" {
		cfg.ChannelName = DefaultChannel
	}
	if cfg.InstanceID == "" {
		cfg.InstanceID = uuid.NewString()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.LocalBusConfig.Logger == nil {
		cfg.LocalBusConfig.Logger = cfg.Logger
	}

	sub := cfg.Client.Subscribe(ctx, cfg.ChannelName)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", cfg.ChannelName, err)
	}

	listenCtx, stop := context.WithCancel(context.Background())
	b := &RedisEventBus{
		InMemoryEventBus: NewInMemoryEventBus(cfg.LocalBusConfig),
		client:           cfg.Client,
		sub:              sub,
		channel:          cfg.ChannelName,
		instance:         cfg.InstanceID,
		log:              cfg.Logger.With(slog.String("channel", cfg.ChannelName)),
		stop:             stop,
	}
	b.listener.Add(1)
	go b.listen(listenCtx, sub.Channel())
	return b, nil
}

// Publish delivers locally and mirrors the event to Redis.
func (b *RedisEventBus) Publish(event shared.Event) error {
	if err := b.InMemoryEventBus.Publish(event); err != nil {
		return err
	}

	data, err := json.Marshal(wireEvent{
		ID:       uuid.NewString(),
		Instance: b.instance,
		Record: shared.Record{
			Type:      event.EventType(),
			Authority: event.AggregateID(),
			At:        event.OccurredAt(),
			Fields:    event.Payload(),
		},
	})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := b.client.Publish(ctx, b.channel, data).Err(); err != nil {
		b.log.Error("redis publish failed",
			slog.String("event_type", string(event.EventType())),
			slog.String("error", err.Error()))
	}
	return nil
}

func (b *RedisEventBus) listen(ctx context.Context, messages <-chan *redis.Message) {
	defer b.listener.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			b.receive(msg.Payload)
		}
	}
}

func (b *RedisEventBus) receive(payload string) {
	var w wireEvent
	if err := json.Unmarshal([]byte(payload), &w); err != nil {
		b.log.Warn("dropping malformed event", slog.String("error", err.Error()))
		return
	}
	if w.Instance == b.instance {
		return
	}
	if err := b.InMemoryEventBus.Publish(w.Record); err != nil && !errors.Is(err, ErrEventBusClosed) {
		b.log.Error("remote event delivery failed", slog.String("error", err.Error()))
	}
}

// Close stops the listener, unsubscribes and drains local handlers.
func (b *RedisEventBus) Close() error {
	var err error
	b.once.Do(func() {
		b.stop()
		err = b.sub.Close()
		b.listener.Wait()
		_ = b.InMemoryEventBus.Close()
	})
	return err
}
