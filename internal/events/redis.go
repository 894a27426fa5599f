package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"studio/internal/domain"
	"studio/internal/infra"
)

const (
	channelPrefix = "studio:runs:"
	lastSuffix    = ":last"
	lastTTL       = 24 * time.Hour
)

// ChannelFor returns the pub/sub channel carrying a run's events.
func ChannelFor(runID string) string {
	return channelPrefix + runID
}

// ConnectRedis parses url, connects and pings.
func ConnectRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(strings.TrimSpace(url))
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// RedisPublisher broadcasts events on a per-run channel and remembers the
// latest one so late subscribers can catch up.
type RedisPublisher struct {
	client *redis.Client
}

func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{client: client}
}

// Publish implements domain.Publisher.
func (p *RedisPublisher) Publish(ctx context.Context, ev domain.ProgressEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	channel := ChannelFor(ev.RunID)
	pipe := p.client.TxPipeline()
	pipe.Set(ctx, channel+lastSuffix, payload, lastTTL)
	pipe.Publish(ctx, channel, payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis publish %s: %w", channel, err)
	}
	return nil
}

// Last returns the most recent event of a run, or nil when none is known.
func Last(ctx context.Context, client *redis.Client, runID string) (*domain.ProgressEvent, error) {
	raw, err := client.Get(ctx, ChannelFor(runID)+lastSuffix).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get last event: %w", err)
	}
	var ev domain.ProgressEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, fmt.Errorf("decode last event: %w", err)
	}
	return &ev, nil
}

// Relay subscribes to every run channel and forwards decoded events to dst
// until ctx ends.
func Relay(ctx context.Context, client *redis.Client, dst domain.Publisher, logger *infra.Logger) error {
	sub := client.PSubscribe(ctx, channelPrefix+"*")
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("redis psubscribe: %w", err)
	}
	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return errors.New("redis subscription closed")
			}
			var ev domain.ProgressEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				logger.Warn().Err(err).Str("channel", msg.Channel).Msg("events: drop undecodable message")
				continue
			}
			if err := dst.Publish(ctx, ev); err != nil {
				logger.Warn().Err(err).Str("run_id", ev.RunID).Msg("events: relay publish failed")
			}
		}
	}
}

var _ domain.Publisher = (*RedisPublisher)(nil)
