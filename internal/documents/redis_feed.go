package documents

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	redisChannelPrefix   = "pinboard:documents:"
	redisPublishTimeout  = 5 * time.Second
	opRedisFeedPublish   = "documents.redis_feed.publish"
	opRedisFeedSubscribe = "documents.redis_feed.subscribe"
)

// RedisChangeFeed shares change events between processes through redis pub/sub.
type RedisChangeFeed struct {
	client     *redis.Client
	prefix     string
	bufferSize int
	logger     *zap.Logger
}

// NewRedisChangeFeed constructs a change feed on an existing redis client.
func NewRedisChangeFeed(client *redis.Client, logger *zap.Logger) *RedisChangeFeed {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisChangeFeed{
		client:     client,
		prefix:     redisChannelPrefix,
		bufferSize: defaultFeedBufferSize,
		logger:     logger,
	}
}

func (f *RedisChangeFeed) channel(collection string) string {
	return f.prefix + collection
}

// Publish sends the event to the collection channel. Failures are logged.
func (f *RedisChangeFeed) Publish(event ChangeEvent) {
	if event.Collection == "" {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		f.logger.Error("change feed error", zap.String("operation", opRedisFeedPublish), zap.String("reason", "encode_failed"), zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), redisPublishTimeout)
	defer cancel()
	if err := f.client.Publish(ctx, f.channel(event.Collection), payload).Err(); err != nil {
		f.logger.Error("change feed error",
			zap.String("operation", opRedisFeedPublish),
			zap.String("reason", "publish_failed"),
			zap.String("collection", event.Collection),
			zap.Error(err))
	}
}

// Subscribe listens on the collection channel until ctx ends or the cleanup runs.
func (f *RedisChangeFeed) Subscribe(ctx context.Context, collection string) (<-chan ChangeEvent, func()) {
	stream := make(chan ChangeEvent, f.bufferSize)
	if collection == "" {
		close(stream)
		return stream, func() {}
	}

	pubsub := f.client.Subscribe(ctx, f.channel(collection))
	// Wait for the subscription confirmation so events published right after
	// Subscribe returns are not lost.
	if _, err := pubsub.Receive(ctx); err != nil {
		f.logger.Error("change feed error",
			zap.String("operation", opRedisFeedSubscribe),
			zap.String("reason", "subscribe_failed"),
			zap.String("collection", collection),
			zap.Error(err))
		_ = pubsub.Close()
		close(stream)
		return stream, func() {}
	}

	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			_ = pubsub.Close()
		})
	}

	go func() {
		for message := range pubsub.Channel() {
			var event ChangeEvent
			if err := json.Unmarshal([]byte(message.Payload), &event); err != nil {
				f.logger.Warn("change feed message dropped", zap.String("collection", collection), zap.Error(err))
				continue
			}
			select {
			case stream <- event:
			default:
			}
		}
	}()
	go func() {
		<-ctx.Done()
		cleanup()
	}()

	return stream, cleanup
}
