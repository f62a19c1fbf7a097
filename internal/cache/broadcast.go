package cache

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultChannel is the pub/sub channel invalidations travel on.
const DefaultChannel = "finchat.cache.invalidate"

const redisPublishTimeout = 2 * time.Second

// broadcaster fans invalidations out to other process instances over
// redis pub/sub. The cache itself stays process-local; only the
// invalidation signal crosses instances.
type broadcaster struct {
	client     *redis.Client
	channel    string
	instanceID string
	logger     *zap.Logger
	cancel     context.CancelFunc
}

// EnableBroadcast attaches a redis-backed invalidation broadcast to the
// manager and starts listening for invalidations published by other
// instances. Messages carry the sender's instance ID so a node ignores
// its own publishes (it already invalidated locally).
func (m *Manager) EnableBroadcast(client *redis.Client, channel string) {
	if channel == "" {
		channel = DefaultChannel
	}
	ctx, cancel := context.WithCancel(context.Background())
	b := &broadcaster{
		client:     client,
		channel:    channel,
		instanceID: uuid.NewString(),
		logger:     m.logger.Named("broadcast"),
		cancel:     cancel,
	}
	m.broadcast = b

	go b.listen(ctx, m)

	b.logger.Info("invalidation broadcast enabled",
		zap.String("channel", channel),
		zap.String("instance", b.instanceID))
}

// StopBroadcast detaches the broadcast listener. Idempotent.
func (m *Manager) StopBroadcast() {
	if m.broadcast != nil {
		m.broadcast.cancel()
		m.broadcast = nil
	}
}

func (b *broadcaster) publish(userID string) {
	ctx, cancel := context.WithTimeout(context.Background(), redisPublishTimeout)
	defer cancel()

	payload := b.instanceID + "|" + userID
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		// Local invalidation already happened; a lost broadcast only
		// delays other instances until their TTL expires.
		b.logger.Warn("failed to publish invalidation",
			zap.String("user", userID),
			zap.Error(err))
	}
}

func (b *broadcaster) listen(ctx context.Context, m *Manager) {
	sub := b.client.Subscribe(ctx, b.channel)
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
			sender, userID, found := strings.Cut(msg.Payload, "|")
			if !found || sender == b.instanceID {
				continue
			}
			m.invalidateLocal(userID)
		}
	}
}
