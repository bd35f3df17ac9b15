package pipeline

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisMirror ships accepted intents to a Redis stream, following
// stake-plus-govcomms/src/api/data/redis.go's MustRedis/XAdd pattern (the
// pack's only example of a Go service using a Redis stream as a durable
// append log rather than a cache).
type RedisMirror struct {
	client *redis.Client
	stream string
}

// NewRedisMirror wraps an already-constructed client. Stream defaults to
// "sleet.persistence-intents" if empty.
func NewRedisMirror(client *redis.Client, stream string) *RedisMirror {
	if stream == "" {
		stream = "sleet.persistence-intents"
	}
	return &RedisMirror{client: client, stream: stream}
}

func (m *RedisMirror) Mirror(ctx context.Context, in Intent) error {
	payload, err := in.Payload.MarshalCBOR()
	if err != nil {
		return fmt.Errorf("pipeline: encoding intent %s for mirror: %w", in.ID, err)
	}
	_, err = m.client.XAdd(ctx, &redis.XAddArgs{
		Stream: m.stream,
		Values: map[string]interface{}{
			"id":       in.ID,
			"tenant":   in.Tenant,
			"hash":     in.PayloadHash.String(),
			"priority": int(in.Priority),
			"payload":  payload,
		},
	}).Result()
	return err
}
