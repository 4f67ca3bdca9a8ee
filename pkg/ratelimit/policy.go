package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/formiq/platform/pkg/common/config"
)

// BucketEvaluator is satisfied by *Evaluator.
type BucketEvaluator interface {
	Evaluate(ctx context.Context, now time.Time, buckets []Bucket) (map[string]int64, error)
}

// Rule is one logical policy. Each rule becomes a per-client bucket and a
// per-project bucket scaled by the policy multiplier.
type Rule struct {
	Name     string
	Capacity int64
	Refill   int64
	Interval time.Duration
}

func DefaultRules(cfg *config.Config) []Rule {
	return []Rule{
		{
			Name:     "shortTerm",
			Capacity: int64(cfg.ShortTermCapacity),
			Refill:   int64(cfg.ShortTermRefill),
			Interval: cfg.ShortTermInterval,
		},
		{
			Name:     "longTerm",
			Capacity: int64(cfg.LongTermCapacity),
			Refill:   int64(cfg.LongTermRefill),
			Interval: cfg.LongTermInterval,
		},
	}
}

type Policy struct {
	eval       BucketEvaluator
	rules      []Rule
	multiplier int64
	now        func() time.Time
}

func NewPolicy(eval BucketEvaluator, rules []Rule, multiplier int64) *Policy {
	if multiplier <= 0 {
		multiplier = 10
	}
	return &Policy{
		eval:       eval,
		rules:      rules,
		multiplier: multiplier,
		now:        time.Now,
	}
}

// WithClock replaces the time source.
func (p *Policy) WithClock(now func() time.Time) *Policy {
	p.now = now
	return p
}

// Result is the outcome of one Check. Remaining always holds every bucket so
// rejected callers can see which scope ran out.
type Result struct {
	Allowed   bool             `json:"allowed"`
	Remaining map[string]int64 `json:"remaining"`
	Limit     int64            `json:"limit"`
	Reset     time.Time        `json:"reset"`
}

func (r *Result) MinRemaining() int64 {
	first := true
	var min int64
	for _, v := range r.Remaining {
		if first || v < min {
			min = v
			first = false
		}
	}
	return min
}

// SetHeaders writes the X-RateLimit-* headers. Reset is unix milliseconds.
func (r *Result) SetHeaders(h http.Header) {
	h.Set("X-RateLimit-Limit", strconv.FormatInt(r.Limit, 10))
	h.Set("X-RateLimit-Remaining", strconv.FormatInt(r.MinRemaining(), 10))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(r.Reset.UnixMilli(), 10))
}

func (p *Policy) Buckets(projectID, clientID string) []Bucket {
	buckets := make([]Bucket, 0, len(p.rules)*2)
	for _, rule := range p.rules {
		buckets = append(buckets,
			Bucket{
				Key:          fmt.Sprintf("rate_limit:%s:%s:client:%s", rule.Name, projectID, clientID),
				Name:         "client:" + rule.Name,
				Capacity:     rule.Capacity,
				RefillTokens: rule.Refill,
				Interval:     rule.Interval,
				Requested:    1,
			},
			Bucket{
				Key:          fmt.Sprintf("rate_limit:%s:%s:global", rule.Name, projectID),
				Name:         "project:" + rule.Name,
				Capacity:     rule.Capacity * p.multiplier,
				RefillTokens: rule.Refill * p.multiplier,
				Interval:     rule.Interval,
				Requested:    1,
			},
		)
	}
	return buckets
}

func (p *Policy) Check(ctx context.Context, projectID, clientID string) (*Result, error) {
	if projectID == "" {
		return nil, errors.New("project id required for rate limiting")
	}
	if clientID == "" {
		return nil, errors.New("unable to determine client identity")
	}

	now := p.now()
	buckets := p.Buckets(projectID, clientID)

	remaining, err := p.eval.Evaluate(ctx, now, buckets)
	if err != nil {
		return nil, err
	}

	res := &Result{Allowed: true, Remaining: remaining}
	var minInterval time.Duration
	for _, b := range buckets {
		if b.Capacity > res.Limit {
			res.Limit = b.Capacity
		}
		if minInterval == 0 || b.Interval < minInterval {
			minInterval = b.Interval
		}
	}
	for _, v := range remaining {
		if v < 0 {
			res.Allowed = false
		}
	}
	res.Reset = now.Add(minInterval)

	return res, nil
}
