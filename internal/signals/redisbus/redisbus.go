// Package redisbus lets multiple daemon instances (or the content
// producers that feed them) share data-change notifications over a Redis
// pub/sub channel, instead of every writer having to know the address of
// every daemon instance it should wake up.
package redisbus

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/syncd/syncd/internal/core/facade"
	"github.com/syncd/syncd/internal/worker"
)

const channel = "syncd:data-changed"

// Bus publishes and subscribes to data-change notifications over Redis.
// A nil client makes every method a no-op, so a daemon can be built with
// redisbus wired in but Redis disabled in configuration.
type Bus struct {
	client  *redis.Client
	logger  zerolog.Logger
	retryer *worker.Retryer
}

// New wraps a redis.Client. Pass nil to get a no-op Bus.
func New(client *redis.Client, logger zerolog.Logger) *Bus {
	logger = logger.With().Str("component", "signals.redisbus").Logger()
	return &Bus{
		client: client,
		logger: logger,
		retryer: worker.NewRetryer(&worker.RetryConfig{
			MaxRetries:   3,
			BaseDelay:    50 * time.Millisecond,
			MaxDelay:     2 * time.Second,
			Multiplier:   2.0,
			JitterFactor: 0.1,
		}, logger),
	}
}

// Publish announces that uri's content changed to every subscriber,
// retrying transient publish failures (e.g. a brief connection drop)
// before giving up.
func (b *Bus) Publish(ctx context.Context, uri string) error {
	if b.client == nil {
		return nil
	}
	result := b.retryer.Execute(ctx, "redisbus.publish", func(ctx context.Context) error {
		return b.client.Publish(ctx, channel, uri).Err()
	})
	return result.LastError
}

// Subscribe forwards every published URI into f.NotifyDataChanged until
// ctx is cancelled. Intended to run in its own goroutine.
func (b *Bus) Subscribe(ctx context.Context, f *facade.Facade) {
	if b.client == nil {
		return
	}
	sub := b.client.Subscribe(ctx, channel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			f.NotifyDataChanged(msg.Payload)
		}
	}
}
