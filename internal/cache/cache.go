// Package cache provides encrypted key/value and pub/sub access to the
// shared Redis store.
//
// Raw bytes never touch the wire: every value is run through the
// authenticated codec on the way out and verified on the way in, so a
// compromised or shared cache cannot feed the process forged payloads.
package cache

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/perpdesk/perpdesk/internal/codec"
)

// SnapshotKey returns the cache key for a price snapshot of an
// (instrument, timeframe) pair.
func SnapshotKey(instrument, timeframe string) string {
	return fmt.Sprintf("df_%s_%s", instrument, timeframe)
}

// ChannelName returns the pub/sub channel for an (instrument,
// timeframe) pair.
func ChannelName(instrument, timeframe string) string {
	return fmt.Sprintf("channel_%s_%s", instrument, timeframe)
}

// Channels returns the channel names for the full instrument x
// timeframe cross product.
func Channels(instruments, timeframes []string) []string {
	channels := make([]string, 0, len(instruments)*len(timeframes))
	for _, inst := range instruments {
		for _, tf := range timeframes {
			channels = append(channels, ChannelName(inst, tf))
		}
	}
	return channels
}

// taskKey returns the cache key holding an out-of-band task result.
func taskKey(id string) string {
	return "task:" + id
}

// Store is an encrypted view over the shared Redis store. It holds the
// connection by composition and exposes only the operations the client
// needs.
type Store struct {
	client redis.UniversalClient
	codec  *codec.Codec
}

// New creates a cache store over an existing Redis connection.
func New(client redis.UniversalClient, c *codec.Codec) *Store {
	return &Store{client: client, codec: c}
}

// Set encodes value and writes it under key. One network round trip.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	encoded, err := s.codec.Encode(value)
	if err != nil {
		return fmt.Errorf("encode value for %q: %w", key, err)
	}
	if err := s.client.Set(ctx, key, encoded, 0).Err(); err != nil {
		return fmt.Errorf("set %q: %w", key, err)
	}
	return nil
}

// Get reads and decodes the value under key. A missing key is not an
// error: the second return value reports presence and callers decide
// whether emptiness matters.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	encoded, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("get %q: %w", key, err)
	}

	value, err := s.codec.Decode(encoded)
	if err != nil {
		return nil, false, fmt.Errorf("decode value for %q: %w", key, err)
	}
	return value, true, nil
}

// Publish encodes value and publishes it on channel.
func (s *Store) Publish(ctx context.Context, channel string, value []byte) error {
	encoded, err := s.codec.Encode(value)
	if err != nil {
		return fmt.Errorf("encode message for %q: %w", channel, err)
	}
	if err := s.client.Publish(ctx, channel, encoded).Err(); err != nil {
		return fmt.Errorf("publish %q: %w", channel, err)
	}
	return nil
}

// SetTaskResult stores an encrypted out-of-band task result.
func (s *Store) SetTaskResult(ctx context.Context, id string, payload []byte) error {
	return s.Set(ctx, taskKey(id), payload)
}

// TaskResult loads an out-of-band task result, if present.
func (s *Store) TaskResult(ctx context.Context, id string) ([]byte, bool, error) {
	return s.Get(ctx, taskKey(id))
}

// Subscribe subscribes to the given channels.
func (s *Store) Subscribe(ctx context.Context, channels ...string) *Subscription {
	return &Subscription{
		pubsub: s.client.Subscribe(ctx, channels...),
		codec:  s.codec,
	}
}

// SubscribeAll subscribes to the channels of the full instrument x
// timeframe cross product.
func (s *Store) SubscribeAll(ctx context.Context, instruments, timeframes []string) *Subscription {
	return s.Subscribe(ctx, Channels(instruments, timeframes)...)
}

// Subscription is a decoded view over a Redis pub/sub subscription.
type Subscription struct {
	pubsub *redis.PubSub
	codec  *codec.Codec
}

// Message is one decoded pub/sub message.
type Message struct {
	Channel string
	Payload []byte
}

// Next blocks for up to timeout waiting for the next message.
// Expiry without a message returns (nil, nil); subscription
// confirmations are skipped.
func (sub *Subscription) Next(ctx context.Context, timeout time.Duration) (*Message, error) {
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}

		raw, err := sub.pubsub.ReceiveTimeout(ctx, remaining)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return nil, nil
			}
			return nil, fmt.Errorf("receive message: %w", err)
		}

		msg, ok := raw.(*redis.Message)
		if !ok {
			continue // subscription ack or pong
		}

		payload, err := sub.codec.Decode([]byte(msg.Payload))
		if err != nil {
			return nil, fmt.Errorf("decode message on %q: %w", msg.Channel, err)
		}
		return &Message{Channel: msg.Channel, Payload: payload}, nil
	}
}

// Close tears down the subscription.
func (sub *Subscription) Close() error {
	return sub.pubsub.Close()
}
