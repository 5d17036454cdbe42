package publish

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/lexiqai/sentiment-gateway/internal/fusion"
)

// redisClient is the part of *redis.Client the publisher uses.
type redisClient interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Ping(ctx context.Context) *redis.StatusCmd
	Close() error
}

// RedisPublisher PUBLISHes every result, wrapped with its session id, to
// one channel.
type RedisPublisher struct {
	rdb     redisClient
	channel string
	logger  zerolog.Logger
}

// NewRedisPublisher parses a redis:// URL and returns a publisher. The
// connection is established lazily on first use.
func NewRedisPublisher(url, channel string, logger zerolog.Logger) (*RedisPublisher, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	return newRedisPublisher(redis.NewClient(opts), channel, logger), nil
}

func newRedisPublisher(rdb redisClient, channel string, logger zerolog.Logger) *RedisPublisher {
	return &RedisPublisher{
		rdb:     rdb,
		channel: channel,
		logger:  logger.With().Str("sink", "redis").Str("channel", channel).Logger(),
	}
}

func (p *RedisPublisher) Name() string {
	return "redis"
}

func (p *RedisPublisher) Publish(ctx context.Context, sessionID string, r fusion.Result) error {
	payload, err := json.Marshal(envelope{SessionID: sessionID, Result: r})
	if err != nil {
		return &SinkError{Sink: p.Name(), Err: err}
	}

	receivers, err := p.rdb.Publish(ctx, p.channel, payload).Result()
	if err != nil {
		return &SinkError{Sink: p.Name(), Err: err}
	}

	p.logger.Debug().Str("session_id", sessionID).Int64("receivers", receivers).Msg("Result published")
	return nil
}

// Check pings the server.
func (p *RedisPublisher) Check(ctx context.Context) (bool, error) {
	if err := p.rdb.Ping(ctx).Err(); err != nil {
		return false, err
	}
	return true, nil
}

func (p *RedisPublisher) Close() error {
	return p.rdb.Close()
}
