package notify

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisNotifierRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	n := NewRedisNotifier(rdb)
	msgs, err := n.Subscribe(ctx, "c1")
	require.NoError(t, err)

	require.NoError(t, n.Publish(ctx, Message{
		Type:           TakeoverChange,
		ConversationID: "c1",
		Payload:        map[string]any{"bot_paused": true},
	}))

	select {
	case m := <-msgs:
		assert.Equal(t, TakeoverChange, m.Type)
		assert.Equal(t, "c1", m.ConversationID)
		assert.Equal(t, true, m.Payload["bot_paused"])
		assert.False(t, m.At.IsZero())
	case <-ctx.Done():
		t.Fatal("no message received")
	}
}

func TestNopPublish(t *testing.T) {
	assert.NoError(t, Nop{}.Publish(context.Background(), Message{Type: "x"}))
	assert.Equal(t, "conversation:abc", Channel("abc"))
}
