package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aditya/towbid/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
)

const channelPrefix = "notifications:user:"

// Channel is the pub/sub channel carrying live notifications for userID.
func Channel(userID string) string {
	return channelPrefix + userID
}

// RedisTransport publishes each notification on the recipient's channel.
// Stream handlers subscribe to the same channel to wake up early.
type RedisTransport struct {
	redis *redis.Client
}

func NewRedisTransport(client *redis.Client) *RedisTransport {
	return &RedisTransport{redis: client}
}

func (t *RedisTransport) Push(ctx context.Context, n *models.Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return err
	}
	return t.redis.Publish(ctx, Channel(n.UserID), data).Err()
}

// Subscribe returns a channel that receives a value whenever a notification is
// published for userID. The returned func releases the subscription.
func (t *RedisTransport) Subscribe(ctx context.Context, userID string) (<-chan struct{}, func()) {
	pubsub := t.redis.Subscribe(ctx, Channel(userID))
	wake := make(chan struct{}, 1)

	go func() {
		for range pubsub.Channel() {
			select {
			case wake <- struct{}{}:
			default:
			}
		}
	}()
	return wake, func() { pubsub.Close() }
}

// KafkaTransport writes notifications to a topic keyed by recipient so one
// user's events stay ordered within a partition.
type KafkaTransport struct {
	writer *kafka.Writer
}

func NewKafkaTransport(brokers []string, topic string) *KafkaTransport {
	w := kafka.NewWriter(kafka.WriterConfig{
		Brokers:      brokers,
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
	})
	return &KafkaTransport{writer: w}
}

func (t *KafkaTransport) Push(ctx context.Context, n *models.Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return err
	}
	if err := t.writer.WriteMessages(ctx, kafka.Message{Key: []byte(n.UserID), Value: data}); err != nil {
		return fmt.Errorf("kafka write: %w", err)
	}
	return nil
}

func (t *KafkaTransport) Close() error {
	if t.writer == nil {
		return nil
	}
	return t.writer.Close()
}

// Noop drops pushes. Clients still see every notification by polling.
type Noop struct{}

func (Noop) Push(context.Context, *models.Notification) error { return nil }
