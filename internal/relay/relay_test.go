package relay

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
	"github.com/redis/go-redis/v9"
)

func TestMemoryDeliversToSessionSubscribers(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	var got []Message
	unsubscribe, err := m.Subscribe(ctx, "s1", func(msg Message) { got = append(got, msg) })
	assert.Equal(t, err, nil)

	var other []Message
	_, err = m.Subscribe(ctx, "s2", func(msg Message) { other = append(other, msg) })
	assert.Equal(t, err, nil)

	assert.Equal(t, m.Publish(ctx, Message{SessionID: "s1", Raw: "a", Origin: "n1"}), nil)
	assert.Equal(t, len(got), 1)
	assert.Equal(t, got[0].Raw, "a")
	assert.Equal(t, len(other), 0)

	unsubscribe()
	unsubscribe()
	assert.Equal(t, m.Subscribers("s1"), 0)

	assert.Equal(t, m.Publish(ctx, Message{SessionID: "s1", Raw: "b"}), nil)
	assert.Equal(t, len(got), 1)
}

func TestMemoryClosed(t *testing.T) {
	m := NewMemory()
	assert.Equal(t, m.Close(), nil)

	_, err := m.Subscribe(context.Background(), "s1", func(Message) {})
	assert.Equal(t, err, ErrClosed)
	assert.Equal(t, m.Publish(context.Background(), Message{SessionID: "s1"}), ErrClosed)
}

func TestRedisRoundTrip(t *testing.T) {
	addr := os.Getenv("NOTESYNC_TEST_REDIS")
	if addr == "" {
		addr = "localhost:6379"
	}

	ping := redis.NewClient(&redis.Options{Addr: addr})
	if err := ping.Ping(context.Background()).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	ping.Close()

	r := NewRedis(RedisConfig{Addr: addr, Prefix: "notesync:test:relay:"})
	defer r.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	received := make(chan Message, 1)
	unsubscribe, err := r.Subscribe(ctx, "share-1", func(msg Message) { received <- msg })
	assert.Equal(t, err, nil)
	defer unsubscribe()

	sent := Message{SessionID: "share-1", NoteID: "n1", UserID: "u1", Raw: "<p>hi</p>", Origin: "node-a"}
	assert.Equal(t, r.Publish(ctx, sent), nil)

	select {
	case msg := <-received:
		assert.Equal(t, msg, sent)
	case <-ctx.Done():
		t.Fatal("relayed message not received")
	}
}
