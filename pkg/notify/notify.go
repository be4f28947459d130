package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	TakeoverChange = "takeover_change"
	AdminMessage   = "admin_message"
)

// Message is what subscribers of conversation:{id} receive.
type Message struct {
	Type           string         `json:"type"`
	ConversationID string         `json:"conversation_id"`
	Payload        map[string]any `json:"payload,omitempty"`
	At             time.Time      `json:"at"`
}

type Notifier interface {
	Publish(ctx context.Context, msg Message) error
}

func Channel(conversationID string) string { return "conversation:" + conversationID }

type RedisNotifier struct {
	rdb *redis.Client
}

func NewRedisNotifier(rdb *redis.Client) *RedisNotifier { return &RedisNotifier{rdb: rdb} }

func (n *RedisNotifier) Publish(ctx context.Context, msg Message) error {
	if msg.At.IsZero() {
		msg.At = time.Now().UTC()
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := n.rdb.Publish(ctx, Channel(msg.ConversationID), string(b)).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", msg.Type, err)
	}
	return nil
}

// Subscribe streams messages for one conversation until ctx ends.
func (n *RedisNotifier) Subscribe(ctx context.Context, conversationID string) (<-chan Message, error) {
	sub := n.rdb.Subscribe(ctx, Channel(conversationID))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	out := make(chan Message)
	go func() {
		defer close(out)
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok {
					return
				}
				var msg Message
				if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
					log.Printf("[notify] bad payload on %s: %v", m.Channel, err)
					continue
				}
				select {
				case out <- msg:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Nop drops everything; used when redis is not configured.
type Nop struct{}

func (Nop) Publish(context.Context, Message) error { return nil }
