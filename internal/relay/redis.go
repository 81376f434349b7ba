package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Redis relays over Redis pub/sub, one channel per share.
type Redis struct {
	client redis.UniversalClient
	prefix string

	mu     sync.Mutex
	subs   map[*redis.PubSub]struct{}
	closed bool
}

// RedisConfig contains configuration options for the Redis relay.
type RedisConfig struct {
	// Client is the Redis client to use. If nil, one is created for Addr.
	Client redis.UniversalClient
	Addr   string
	// Prefix is prepended to every channel name. Defaults to "notesync:relay:".
	Prefix string
}

func NewRedis(cfg RedisConfig) *Redis {
	client := cfg.Client
	if client == nil {
		client = redis.NewClient(&redis.Options{Addr: cfg.Addr})
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "notesync:relay:"
	}
	return &Redis{
		client: client,
		prefix: prefix,
		subs:   make(map[*redis.PubSub]struct{}),
	}
}

// Ping checks that Redis is reachable.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) channel(sessionID string) string {
	return r.prefix + sessionID
}

func (r *Redis) Publish(ctx context.Context, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode relay message: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel(msg.SessionID), data).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", r.channel(msg.SessionID), err)
	}
	return nil
}

func (r *Redis) Subscribe(ctx context.Context, sessionID string, handler Handler) (func(), error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrClosed
	}
	r.mu.Unlock()

	pubsub := r.client.Subscribe(ctx, r.channel(sessionID))
	// Wait for the subscription to be confirmed so nothing published after
	// Subscribe returns is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", r.channel(sessionID), err)
	}

	r.mu.Lock()
	r.subs[pubsub] = struct{}{}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for m := range pubsub.Channel() {
			var msg Message
			if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
				log.Printf("⚠️  Dropping malformed relay message on %s: %v", m.Channel, err)
				continue
			}
			handler(msg)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.subs, pubsub)
			r.mu.Unlock()
			pubsub.Close()
			<-done
		})
	}, nil
}

// Close ends every subscription and closes the client.
func (r *Redis) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	subs := r.subs
	r.subs = make(map[*redis.PubSub]struct{})
	r.mu.Unlock()

	for pubsub := range subs {
		pubsub.Close()
	}
	return r.client.Close()
}
