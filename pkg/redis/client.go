package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/angelmondragon/payintents-backend/pkg/config"
	"github.com/angelmondragon/payintents-backend/pkg/logger"
)

const keyNamespace = "pi"

const (
	kindIdempotency = "idempotency"
	kindRateLimit   = "rate_limit"
	kindLock        = "lock"
)

// compareAndDelete removes KEYS[1] only while it still holds ARGV[1].
const compareAndDelete = `if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

var errNotInitialized = errors.New("redis client not initialized")

type commands interface {
	Ping(ctx context.Context) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) *redis.BoolCmd
	Incr(ctx context.Context, key string) *redis.IntCmd
	ExpireNX(ctx context.Context, key string, ttl time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Eval(ctx context.Context, script string, keys []string, args ...any) *redis.Cmd
}

// Pinger exposes the health-check surface.
type Pinger interface {
	Ping(context.Context) error
}

// IdempotencyStore is the subset used by the HTTP replay cache and the event consumers.
type IdempotencyStore interface {
	Get(context.Context, string) (string, error)
	SetNX(context.Context, string, any, time.Duration) (bool, error)
	IdempotencyKey(scope, id string) string
	Del(context.Context, ...string) error
}

// Client holds the shared connection for idempotency records, rate-limit
// windows and worker locks. Every key lives under the "pi:" namespace.
type Client struct {
	cmd  commands
	conn *redis.Client
}

// New dials Redis and fails fast when the server is unreachable.
func New(ctx context.Context, cfg config.RedisConfig, logg *logger.Logger) (*Client, error) {
	opts, err := optionsFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	conn := redis.NewClient(opts)
	if err := conn.Ping(ctx).Err(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping redis %s: %w", opts.Addr, err)
	}
	if logg != nil {
		logg.Info(logg.WithFields(ctx, map[string]any{"redis_addr": opts.Addr, "redis_db": opts.DB}), "redis connection established")
	}
	return &Client{cmd: conn, conn: conn}, nil
}

func optionsFromConfig(cfg config.RedisConfig) (*redis.Options, error) {
	var opts *redis.Options
	switch {
	case cfg.URL != "":
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("parsing redis url: %w", err)
		}
		opts = parsed
	case cfg.Address != "":
		opts = &redis.Options{Addr: cfg.Address, Password: cfg.Password}
	default:
		return nil, errors.New("redis url or address is required")
	}

	// URL values win; config only fills what the URL left unset.
	if opts.DB == 0 {
		opts.DB = cfg.DB
	}
	fillInt(&opts.PoolSize, cfg.PoolSize)
	fillInt(&opts.MinIdleConns, cfg.MinIdleConns)
	fillDuration(&opts.DialTimeout, cfg.DialTimeout)
	fillDuration(&opts.ReadTimeout, cfg.ReadTimeout)
	fillDuration(&opts.WriteTimeout, cfg.WriteTimeout)
	return opts, nil
}

func fillInt(dst *int, v int) {
	if *dst == 0 {
		*dst = v
	}
}

func fillDuration(dst *time.Duration, v time.Duration) {
	if *dst == 0 {
		*dst = v
	}
}

// Get returns the value at key, or redis.Nil when absent.
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	if c.cmd == nil {
		return "", errNotInitialized
	}
	return c.cmd.Get(ctx, key).Result()
}

// SetNX writes value only when key is free.
func (c *Client) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if c.cmd == nil {
		return false, errNotInitialized
	}
	return c.cmd.SetNX(ctx, key, value, ttl).Result()
}

// Del removes keys.
func (c *Client) Del(ctx context.Context, keys ...string) error {
	if c.cmd == nil {
		return errNotInitialized
	}
	return c.cmd.Del(ctx, keys...).Err()
}

// CompareAndDelete deletes key only when it still stores expected. It
// reports whether the key was removed.
func (c *Client) CompareAndDelete(ctx context.Context, key, expected string) (bool, error) {
	if c.cmd == nil {
		return false, errNotInitialized
	}
	removed, err := c.cmd.Eval(ctx, compareAndDelete, []string{key}, expected).Int64()
	if err != nil {
		return false, err
	}
	return removed > 0, nil
}

// FixedWindowAllow counts one hit against scope and reports whether the
// window still has room. The TTL is attached with NX semantics on every hit,
// so a window whose first EXPIRE was lost still closes.
func (c *Client) FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error) {
	if c.cmd == nil {
		return false, 0, errNotInitialized
	}
	key := c.RateLimitKey(scope)
	count, err := c.cmd.Incr(ctx, key).Result()
	if err != nil {
		return false, 0, err
	}
	if window > 0 {
		if err := c.cmd.ExpireNX(ctx, key, window).Err(); err != nil {
			return false, count, err
		}
	}
	return count <= limit, count, nil
}

// IdempotencyKey namespaces a replay record, e.g. pi:idempotency:<scope>:<id>.
func (c *Client) IdempotencyKey(scope, id string) string {
	return buildKey(kindIdempotency, scope, id)
}

// RateLimitKey namespaces a fixed-window counter.
func (c *Client) RateLimitKey(scope string) string {
	return buildKey(kindRateLimit, scope)
}

// LockKey namespaces a worker lock.
func (c *Client) LockKey(name string) string {
	return buildKey(kindLock, name)
}

// Ping verifies the connection.
func (c *Client) Ping(ctx context.Context) error {
	if c.cmd == nil {
		return errNotInitialized
	}
	return c.cmd.Ping(ctx).Err()
}

// Close releases the connection pool.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

func buildKey(kind string, parts ...string) string {
	var b strings.Builder
	b.WriteString(keyNamespace)
	b.WriteByte(':')
	b.WriteString(kind)
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		b.WriteByte(':')
		b.WriteString(part)
	}
	return b.String()
}
