package notification

import (
	"context"
	"errors"
	"time"

	"github.com/formiq/platform/pkg/common/models"
	"github.com/formiq/platform/pkg/observability/metrics"
	"github.com/google/uuid"
)

var (
	ErrMissingType      = errors.New("notification job type is required")
	ErrMissingRecipient = errors.New("notification job recipient is required")
)

// JobPublisher is satisfied by *kafka.Producer.
type JobPublisher interface {
	PublishJob(ctx context.Context, job models.Job) error
}

// Dispatcher puts jobs on the durable queue. It never retries inline;
// callers decide whether a failure matters.
type Dispatcher struct {
	publisher JobPublisher
}

func NewDispatcher(publisher JobPublisher) *Dispatcher {
	return &Dispatcher{publisher: publisher}
}

func (d *Dispatcher) Enqueue(ctx context.Context, job models.Job) error {
	if job.Type == "" {
		return ErrMissingType
	}
	if job.To == "" {
		return ErrMissingRecipient
	}
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}

	err := d.publisher.PublishJob(ctx, job)
	metrics.ObserveEnqueue(job.Type, err)
	return err
}
