package feed

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	busReconnectBase = time.Second
	busReconnectMax  = 15 * time.Second
)

// RedisBus bridges terminal events across gateway replicas over a
// Redis pub/sub channel. Locally produced events are published via the
// feed's distributor hook; foreign events are ingested back into the
// local feed with echo suppression by instance id.
type RedisBus struct {
	feed     *Feed
	client   *redis.Client
	channel  string
	instance string
	log      zerolog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRedisBus builds the bridge from a redis URL. The connection is
// not established here; Start spawns the subscribe loop.
func NewRedisBus(f *Feed, redisURL, channel, instanceID string, connectTimeout time.Duration, log zerolog.Logger) (*RedisBus, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	if connectTimeout > 0 {
		opts.DialTimeout = connectTimeout
	}
	opts.MinIdleConns = 1
	return &RedisBus{
		feed:     f,
		client:   redis.NewClient(opts),
		channel:  channel,
		instance: instanceID,
		log:      log,
	}, nil
}

// Start launches the subscribe loop. Connection failures are retried
// with doubling backoff; the bus never takes the gateway down.
func (b *RedisBus) Start(ctx context.Context) {
	ctx, b.cancel = context.WithCancel(ctx)
	b.wg.Add(1)
	go b.run(ctx)
}

// Stop cancels the loop and closes the client.
func (b *RedisBus) Stop() {
	if b.cancel != nil {
		b.cancel()
	}
	b.wg.Wait()
	b.client.Close()
}

// Publish forwards one event to the channel. Wired as the feed's
// distributor; errors are counted by the feed, not here.
func (b *RedisBus) Publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, b.channel, payload).Err()
}

func (b *RedisBus) run(ctx context.Context) {
	defer b.wg.Done()
	backoff := busReconnectBase
	for ctx.Err() == nil {
		pubsub := b.client.Subscribe(ctx, b.channel)
		if _, err := pubsub.Receive(ctx); err != nil {
			pubsub.Close()
			if ctx.Err() != nil {
				return
			}
			b.log.Warn().Err(err).Msg("terminal bus unavailable")
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
			backoff *= 2
			if backoff > busReconnectMax {
				backoff = busReconnectMax
			}
			continue
		}
		b.log.Info().Str("channel", b.channel).Msg("terminal bus connected")
		backoff = busReconnectBase
		// pubsub.Channel only closes on pubsub.Close, not on context
		// cancellation, so tie the two together or Stop would hang on
		// a parked receive.
		go func(ps *redis.PubSub) {
			<-ctx.Done()
			ps.Close()
		}(pubsub)
		for msg := range pubsub.Channel() {
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				continue
			}
			b.feed.Ingest(ev)
		}
		pubsub.Close()
	}
}
