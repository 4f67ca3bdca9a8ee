package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/formiq/platform/pkg/common/logger"
	"github.com/redis/go-redis/v9"
)

type Status string

const (
	StatusHit  Status = "HIT"
	StatusMiss Status = "MISS"
)

// HeaderName is set on dashboard reads so clients can observe cache behaviour.
const HeaderName = "X-Cache-Status"

const defaultVersion int64 = 1

var ErrMiss = errors.New("cache miss")

// ComputeFunc produces the value for a missing entry.
type ComputeFunc func(ctx context.Context) (interface{}, error)

// Versioned is a read-through cache whose keys embed a per-owner version.
// Bumping the version orphans every entry written under the previous one;
// orphans are left to expire.
type Versioned struct {
	rdb       redis.Cmdable
	namespace string
	timeout   time.Duration
}

func NewVersioned(rdb redis.Cmdable, namespace string, timeout time.Duration) *Versioned {
	if namespace == "" {
		namespace = "owner"
	}
	return &Versioned{rdb: rdb, namespace: namespace, timeout: timeout}
}

// Scoped returns a cache over the same client whose version counters live
// under namespace instead.
func (c *Versioned) Scoped(namespace string) *Versioned {
	return NewVersioned(c.rdb, namespace, c.timeout)
}

// Key builds {purpose}:v{version}:{scope}:{signature}.
func Key(purpose string, version int64, scope, signature string) string {
	return fmt.Sprintf("%s:v%d:%s:%s", purpose, version, scope, signature)
}

func (c *Versioned) versionKey(owner string) string {
	return c.namespace + ":version:" + owner
}

func (c *Versioned) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

// Version returns the owner's current version, 1 when never bumped.
func (c *Versioned) Version(ctx context.Context, owner string) (int64, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	raw, err := c.rdb.Get(ctx, c.versionKey(owner)).Result()
	if errors.Is(err, redis.Nil) {
		return defaultVersion, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading cache version: %w", err)
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing cache version %q: %w", raw, err)
	}
	return v, nil
}

// Bump advances the owner's version. The counter is seeded to the default
// first so the very first bump already moves past it.
func (c *Versioned) Bump(ctx context.Context, owner string) (int64, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	key := c.versionKey(owner)
	var incr *redis.IntCmd
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SetNX(ctx, key, defaultVersion, 0)
		incr = pipe.Incr(ctx, key)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("bumping cache version: %w", err)
	}
	return incr.Val(), nil
}

// Get decodes the entry at key into dst. A missing entry returns ErrMiss.
func (c *Versioned) Get(ctx context.Context, key string, dst interface{}) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	raw, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrMiss
	}
	if err != nil {
		return fmt.Errorf("reading cache entry: %w", err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decoding cache entry: %w", err)
	}
	return nil
}

func (c *Versioned) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding cache entry: %w", err)
	}
	return c.setRaw(ctx, key, payload, ttl)
}

func (c *Versioned) setRaw(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	if err := c.rdb.Set(ctx, key, payload, ttl).Err(); err != nil {
		return fmt.Errorf("writing cache entry: %w", err)
	}
	return nil
}

// Fetch fills dst from the entry at key, or from compute when the entry is
// missing. Store failures are logged and degrade to computing; compute
// errors are returned and nothing is cached.
func (c *Versioned) Fetch(ctx context.Context, key string, ttl time.Duration, dst interface{}, compute ComputeFunc) (Status, error) {
	err := c.Get(ctx, key, dst)
	if err == nil {
		return StatusHit, nil
	}
	if !errors.Is(err, ErrMiss) {
		logger.Log.WithError(err).WithField("key", key).Warn("cache read failed, computing")
	}

	value, err := compute(ctx)
	if err != nil {
		return StatusMiss, err
	}

	payload, err := json.Marshal(value)
	if err != nil {
		return StatusMiss, fmt.Errorf("encoding cache entry: %w", err)
	}
	if err := json.Unmarshal(payload, dst); err != nil {
		return StatusMiss, fmt.Errorf("decoding computed value: %w", err)
	}

	if err := c.setRaw(ctx, key, payload, ttl); err != nil {
		logger.Log.WithError(err).WithField("key", key).Warn("cache write failed")
	}
	return StatusMiss, nil
}

// FetchVersioned resolves the owner's current version, builds the key and
// fetches. When the version cannot be read the value is computed uncached.
func (c *Versioned) FetchVersioned(ctx context.Context, owner, purpose, scope, signature string, ttl time.Duration, dst interface{}, compute ComputeFunc) (Status, error) {
	version, err := c.Version(ctx, owner)
	if err != nil {
		logger.Log.WithError(err).WithField("owner", owner).Warn("cache version unavailable, bypassing cache")
		value, err := compute(ctx)
		if err != nil {
			return StatusMiss, err
		}
		payload, err := json.Marshal(value)
		if err != nil {
			return StatusMiss, err
		}
		return StatusMiss, json.Unmarshal(payload, dst)
	}
	return c.Fetch(ctx, Key(purpose, version, scope, signature), ttl, dst, compute)
}
