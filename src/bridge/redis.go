package bridge

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// envelope wraps a message with the originating instance ID so a node
// can skip its own published messages.
type envelope struct {
	InstanceID string          `json:"instance_id"`
	Channel    string          `json:"channel"`
	Data       json.RawMessage `json:"data"`
}

type subscription struct {
	sub *redis.PubSub
	out chan Message
}

// RedisBridge relays messages between server instances via Redis
// pub/sub, supporting multiple channels and wildcard subscriptions.
type RedisBridge struct {
	client     *redis.Client
	prefix     string
	instanceID string
	logger     zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu   sync.Mutex
	subs map[string]*subscription
}

// NewRedisBridge creates a bridge that uses Redis pub/sub for
// cross-instance messaging.
func NewRedisBridge(cfg *RedisConfig, logger zerolog.Logger) *RedisBridge {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithCancel(context.Background())

	return &RedisBridge{
		client:     client,
		prefix:     cfg.Prefix,
		instanceID: uuid.New().String(),
		logger:     logger.With().Str("component", "redis-bridge").Logger(),
		ctx:        ctx,
		cancel:     cancel,
		subs:       make(map[string]*subscription),
	}
}

// Ping verifies Redis is reachable, used by callers to decide whether
// to run standalone when the bridge is unavailable.
func (b *RedisBridge) Ping() error {
	return b.client.Ping(b.ctx).Err()
}

// Publish sends msg to channel (prefixed) for all instances, wrapping
// the originating instance id so Subscribe can skip self-echoes.
func (b *RedisBridge) Publish(channel string, msg Message) error {
	data, err := json.Marshal(msg.Data)
	if err != nil {
		return err
	}
	env := envelope{InstanceID: b.instanceID, Channel: channel, Data: data}
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return b.client.Publish(b.ctx, b.prefix+channel, payload).Err()
}

// Subscribe listens on channelOrWildcard and returns a stream of
// messages from OTHER instances. A channel containing "*" is handed to
// Redis PSUBSCRIBE, whose glob "*" matches any run of characters,
// ":" included, so "ws:room:*" also matches room ids that contain ":".
func (b *RedisBridge) Subscribe(channelOrWildcard string) (<-chan Message, error) {
	full := b.prefix + channelOrWildcard

	var sub *redis.PubSub
	if strings.Contains(channelOrWildcard, "*") {
		sub = b.client.PSubscribe(b.ctx, full)
	} else {
		sub = b.client.Subscribe(b.ctx, full)
	}
	if _, err := sub.Receive(b.ctx); err != nil {
		return nil, err
	}

	out := make(chan Message, 256)
	b.mu.Lock()
	b.subs[channelOrWildcard] = &subscription{sub: sub, out: out}
	b.mu.Unlock()

	b.wg.Add(1)
	go b.listen(sub, out)

	b.logger.Info().Str("instance_id", b.instanceID).Str("channel", full).Msg("subscribed")
	return out, nil
}

// Unsubscribe stops and removes a subscription created by Subscribe.
func (b *RedisBridge) Unsubscribe(channelOrWildcard string) error {
	b.mu.Lock()
	s, ok := b.subs[channelOrWildcard]
	delete(b.subs, channelOrWildcard)
	b.mu.Unlock()
	if !ok {
		return nil
	}
	return s.sub.Close()
}

// Close cancels every subscription and closes the Redis connection.
func (b *RedisBridge) Close() error {
	b.cancel()
	b.wg.Wait()
	return b.client.Close()
}

func (b *RedisBridge) listen(sub *redis.PubSub, out chan Message) {
	defer b.wg.Done()
	defer close(out)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			b.forward(msg, out)
		case <-b.ctx.Done():
			return
		}
	}
}

func (b *RedisBridge) forward(msg *redis.Message, out chan Message) {
	var env envelope
	if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
		b.logger.Error().Err(err).Msg("failed to decode redis message")
		return
	}
	if env.InstanceID == b.instanceID {
		return
	}

	var data map[string]any
	if err := json.Unmarshal(env.Data, &data); err != nil {
		b.logger.Error().Err(err).Msg("failed to decode redis message data")
		return
	}

	select {
	case out <- Message{Channel: env.Channel, Data: data}:
	default:
		b.logger.Warn().Str("channel", env.Channel).Msg("subscriber buffer full, dropping")
	}
}
