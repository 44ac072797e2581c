package stream

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"fundwatch/internal/config"
	apperrors "fundwatch/internal/errors"
	"fundwatch/internal/logging"
)

// DefaultRelayChannel is the pub/sub channel used when none is configured.
const DefaultRelayChannel = "fundwatch:push"

const publishTimeout = 5 * time.Second

// Envelope is the relay wire format. An empty UserID broadcasts.
type Envelope struct {
	UserID string          `json:"userId,omitempty"`
	Event  json.RawMessage `json:"event"`
}

// LocalPusher is the delivery side a relay forwards into.
type LocalPusher interface {
	SendToUser(userID string, event any) int
	Broadcast(event any) int
}

// RedisRelay publishes push events over Redis pub/sub so a process that does
// not own the connections (the CLI, another replica) can still reach them.
// The serving process runs Forward to deliver what arrives on the channel.
type RedisRelay struct {
	client  *redis.Client
	channel string
	logger  zerolog.Logger
}

// NewRedisClient creates a client from the redis configuration.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// NewRedisRelay creates a relay on channel.
func NewRedisRelay(client *redis.Client, channel string, logger zerolog.Logger) *RedisRelay {
	if channel == "" {
		channel = DefaultRelayChannel
	}
	return &RedisRelay{
		client:  client,
		channel: channel,
		logger:  logging.WithComponent(logger, "relay"),
	}
}

// Channel returns the pub/sub channel name.
func (r *RedisRelay) Channel() string {
	return r.channel
}

// SendToUser publishes event for userID and returns the number of
// subscribed processes that received it.
func (r *RedisRelay) SendToUser(userID string, event any) int {
	return r.publish(userID, event)
}

// Broadcast publishes event for every user.
func (r *RedisRelay) Broadcast(event any) int {
	return r.publish("", event)
}

func (r *RedisRelay) publish(userID string, event any) int {
	payload, err := EncodeEnvelope(userID, event)
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to encode relay envelope")
		return 0
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	receivers, err := r.client.Publish(ctx, r.channel, payload).Result()
	if err != nil {
		r.logger.Error().Err(err).Str("channel", r.channel).Msg("Relay publish failed")
		return 0
	}
	if receivers == 0 {
		r.logger.Warn().Str("channel", r.channel).Msg("No server is subscribed to the relay channel")
	}
	return int(receivers)
}

// Forward subscribes to the channel and delivers every envelope to local
// until ctx is done.
func (r *RedisRelay) Forward(ctx context.Context, local LocalPusher) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return apperrors.Wrapf(err, "subscribe %s", r.channel)
	}
	r.logger.Info().Str("channel", r.channel).Msg("Relay forwarding started")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return apperrors.ErrStreamClosed
			}
			if _, err := Dispatch([]byte(msg.Payload), local); err != nil {
				r.logger.Warn().Err(err).Msg("Dropping malformed relay envelope")
			}
		}
	}
}

// Ping checks the Redis connection.
func (r *RedisRelay) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// EncodeEnvelope wraps event for the relay channel.
func EncodeEnvelope(userID string, event any) ([]byte, error) {
	raw, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{UserID: userID, Event: raw})
}

// Dispatch decodes one envelope and delivers its event to local.
func Dispatch(payload []byte, local LocalPusher) (int, error) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return 0, apperrors.Wrap(apperrors.ErrUnparseable, err.Error())
	}
	if len(env.Event) == 0 {
		return 0, apperrors.Wrap(apperrors.ErrUnparseable, "envelope has no event")
	}
	if env.UserID == "" {
		return local.Broadcast(env.Event), nil
	}
	return local.SendToUser(env.UserID, env.Event), nil
}
