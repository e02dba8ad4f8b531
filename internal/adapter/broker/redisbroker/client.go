// Package redisbroker wraps the Redis client with the typed operations the
// control plane needs: namespaced string cache, queue primitives, pub/sub
// channels and Lua script execution.
package redisbroker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/videogen/internal/domain"
)

// Client is safe for concurrent use. Every key and channel name passed in is
// prefixed with the configured namespace before it reaches Redis.
type Client struct {
	rdb       *redis.Client
	namespace string
}

// New connects to Redis at redisURL and verifies the connection with a ping.
func New(redisURL, namespace string) (*Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("op=redisbroker.New: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("op=redisbroker.New: ping: %w", err)
	}

	slog.Info("connected to redis", slog.String("addr", opts.Addr), slog.String("namespace", namespace))
	return &Client{rdb: rdb, namespace: namespace}, nil
}

// NewWithClient wraps an existing connection; used by tests.
func NewWithClient(rdb *redis.Client, namespace string) *Client {
	return &Client{rdb: rdb, namespace: namespace}
}

func (c *Client) key(k string) string { return c.namespace + k }

func retryable(op string, err error) error {
	return fmt.Errorf("op=%s: %w: %v", op, domain.ErrRetryable, err)
}

// Get returns the string value at key; a missing key is domain.ErrNotFound.
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	val, err := c.rdb.Get(ctx, c.key(key)).Result()
	if err == redis.Nil {
		return "", fmt.Errorf("op=redisbroker.Get: %w", domain.ErrNotFound)
	}
	if err != nil {
		return "", retryable("redisbroker.Get", err)
	}
	return val, nil
}

// Set stores value at key; ttl <= 0 means no expiration.
func (c *Client) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := c.rdb.Set(ctx, c.key(key), value, ttl).Err(); err != nil {
		return retryable("redisbroker.Set", err)
	}
	return nil
}

func (c *Client) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	namespaced := make([]string, len(keys))
	for i, k := range keys {
		namespaced[i] = c.key(k)
	}
	if err := c.rdb.Del(ctx, namespaced...).Err(); err != nil {
		return retryable("redisbroker.Delete", err)
	}
	return nil
}

func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	n, err := c.rdb.Exists(ctx, c.key(key)).Result()
	if err != nil {
		return false, retryable("redisbroker.Exists", err)
	}
	return n > 0, nil
}

// LPush pushes value onto the head of the list at key.
func (c *Client) LPush(ctx context.Context, key, value string) error {
	if err := c.rdb.LPush(ctx, c.key(key), value).Err(); err != nil {
		return retryable("redisbroker.LPush", err)
	}
	return nil
}

// BRPop pops from the tail of the list at key, waiting up to timeout.
// An elapsed wait returns ("", nil).
func (c *Client) BRPop(ctx context.Context, timeout time.Duration, key string) (string, error) {
	res, err := c.rdb.BRPop(ctx, timeout, c.key(key)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", retryable("redisbroker.BRPop", err)
	}
	// res is [key, value]
	if len(res) != 2 {
		return "", fmt.Errorf("op=redisbroker.BRPop: unexpected reply length %d", len(res))
	}
	return res[1], nil
}

func (c *Client) LLen(ctx context.Context, key string) (int64, error) {
	n, err := c.rdb.LLen(ctx, c.key(key)).Result()
	if err != nil {
		return 0, retryable("redisbroker.LLen", err)
	}
	return n, nil
}

func (c *Client) SAdd(ctx context.Context, key, member string) error {
	if err := c.rdb.SAdd(ctx, c.key(key), member).Err(); err != nil {
		return retryable("redisbroker.SAdd", err)
	}
	return nil
}

func (c *Client) SRem(ctx context.Context, key, member string) error {
	if err := c.rdb.SRem(ctx, c.key(key), member).Err(); err != nil {
		return retryable("redisbroker.SRem", err)
	}
	return nil
}

func (c *Client) SCard(ctx context.Context, key string) (int64, error) {
	n, err := c.rdb.SCard(ctx, c.key(key)).Result()
	if err != nil {
		return 0, retryable("redisbroker.SCard", err)
	}
	return n, nil
}

// Publish sends payload to every subscriber of channel.
func (c *Client) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := c.rdb.Publish(ctx, c.key(channel), payload).Err(); err != nil {
		return retryable("redisbroker.Publish", err)
	}
	return nil
}

// Subscribe returns a stream of message payloads from channel. The returned
// stop function tears the subscription down and closes the stream.
func (c *Client) Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error) {
	pubsub := c.rdb.Subscribe(ctx, c.key(channel))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, retryable("redisbroker.Subscribe", err)
	}

	out := make(chan []byte, 32)
	go func() {
		defer close(out)
		for msg := range pubsub.Channel() {
			select {
			case out <- []byte(msg.Payload):
			case <-ctx.Done():
				return
			}
		}
	}()

	stop := func() { _ = pubsub.Close() }
	return out, stop, nil
}

// RunScript executes a Lua script with namespaced keys.
func (c *Client) RunScript(ctx context.Context, script *redis.Script, keys []string, args ...any) (any, error) {
	namespaced := make([]string, len(keys))
	for i, k := range keys {
		namespaced[i] = c.key(k)
	}
	res, err := script.Run(ctx, c.rdb, namespaced, args...).Result()
	if err != nil {
		return nil, retryable("redisbroker.RunScript", err)
	}
	return res, nil
}

// Ping probes broker liveness.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return retryable("redisbroker.Ping", err)
	}
	return nil
}

func (c *Client) Close() error { return c.rdb.Close() }
