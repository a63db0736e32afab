package events

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// redisChannel is the single pub/sub channel all instances share; the
// target fan-out channel travels inside the envelope.
const redisChannel = "carelink:events"

// envelope is what crosses redis. Origin lets an instance skip frames it
// published itself — those already went to its local peers.
type envelope struct {
	Origin  string          `json:"origin"`
	Channel string          `json:"channel"`
	Frame   json.RawMessage `json:"frame"`
}

// Bridge extends a Hub across instances over redis pub/sub. Local peers get
// the event immediately; every other instance receives it via redis and
// fans out to its own subscribers. Loss semantics are unchanged —
// best-effort, at-most-once per connected peer.
type Bridge struct {
	hub    *Hub
	rdb    *redis.Client
	origin string
	logger *zap.Logger
}

func NewBridge(hub *Hub, rdb *redis.Client, logger *zap.Logger) *Bridge {
	return &Bridge{
		hub:    hub,
		rdb:    rdb,
		origin: uuid.NewString(),
		logger: logger,
	}
}

// Publish implements Publisher.
func (b *Bridge) Publish(channel string, event Event) {
	frame, err := event.MarshalJSON()
	if err != nil {
		b.logger.Error("drop unencodable event",
			zap.String("channel", channel),
			zap.String("type", event.Type),
			zap.Error(err),
		)
		return
	}

	b.hub.publishFrame(channel, frame)

	payload, err := json.Marshal(envelope{Origin: b.origin, Channel: channel, Frame: frame})
	if err != nil {
		b.logger.Error("marshal event envelope", zap.Error(err))
		return
	}
	// Remote delivery is best-effort like everything else here; a redis
	// hiccup costs remote peers this event, nothing more.
	if err := b.rdb.Publish(context.Background(), redisChannel, payload).Err(); err != nil {
		b.logger.Warn("redis publish failed", zap.String("channel", channel), zap.Error(err))
	}
}

// Listen consumes remote publishes until ctx is cancelled. Run it in its
// own goroutine.
func (b *Bridge) Listen(ctx context.Context) {
	pubsub := b.rdb.Subscribe(ctx, redisChannel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				b.logger.Warn("drop malformed event envelope", zap.Error(err))
				continue
			}
			if env.Origin == b.origin {
				continue
			}
			b.hub.publishFrame(env.Channel, env.Frame)
		}
	}
}
