package ratelimit

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

//go:embed token_bucket.lua
var tokenBucketSource string

var tokenBucketScript = redis.NewScript(tokenBucketSource)

var errNoBuckets = errors.New("no buckets to evaluate")

// Bucket describes one token bucket in a batch. Name is how the caller
// addresses the result; Key is where the state lives.
type Bucket struct {
	Key          string
	Name         string
	Capacity     int64
	RefillTokens int64
	Interval     time.Duration
	Requested    int64
}

// Evaluator applies a batch of buckets atomically in a single server-side
// script call. Every bucket in the batch is charged, even when another one
// goes negative.
type Evaluator struct {
	rdb     redis.Scripter
	timeout time.Duration
}

func NewEvaluator(rdb redis.Scripter, timeout time.Duration) *Evaluator {
	return &Evaluator{rdb: rdb, timeout: timeout}
}

// Evaluate returns bucket name -> tokens left after this request. Negative
// values mean the bucket could not cover the request; buckets are debited
// regardless.
func (e *Evaluator) Evaluate(ctx context.Context, now time.Time, buckets []Bucket) (map[string]int64, error) {
	if len(buckets) == 0 {
		return nil, errNoBuckets
	}

	keys := make([]string, 0, len(buckets))
	args := make([]interface{}, 0, len(buckets)*4+1)
	for _, b := range buckets {
		if b.Capacity <= 0 || b.Interval <= 0 {
			return nil, fmt.Errorf("bucket %q: capacity and interval must be positive", b.Name)
		}
		requested := b.Requested
		if requested <= 0 {
			requested = 1
		}
		keys = append(keys, b.Key)
		args = append(args, b.Capacity, b.RefillTokens, b.Interval.Milliseconds(), requested)
	}
	args = append(args, now.UnixMilli())

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	raw, err := tokenBucketScript.Run(ctx, e.rdb, keys, args...).Slice()
	if err != nil {
		return nil, fmt.Errorf("evaluating token buckets: %w", err)
	}
	if len(raw) != len(buckets) {
		return nil, fmt.Errorf("token bucket script returned %d values for %d buckets", len(raw), len(buckets))
	}

	remaining := make(map[string]int64, len(buckets))
	for i, v := range raw {
		n, err := toInt64(v)
		if err != nil {
			return nil, fmt.Errorf("bucket %q: %w", buckets[i].Name, err)
		}
		remaining[buckets[i].Name] = n
	}
	return remaining, nil
}

func toInt64(v interface{}) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case string:
		return strconv.ParseInt(n, 10, 64)
	default:
		return 0, fmt.Errorf("unexpected script value %T", v)
	}
}
