package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/formiq/platform/pkg/common/logger"
	"github.com/formiq/platform/pkg/common/models"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// MessageWriter is the subset of *kafka.Writer the producer needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Producer struct {
	writer  MessageWriter
	topic   string
	timeout time.Duration
}

func NewProducer(brokers []string, topic string, timeout time.Duration) *Producer {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.LeastBytes{},
		RequiredAcks:           kafka.RequireAll,
		Async:                  false,
		BatchSize:              1,
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
	return NewProducerWithWriter(writer, topic, timeout)
}

func NewProducerWithWriter(writer MessageWriter, topic string, timeout time.Duration) *Producer {
	return &Producer{writer: writer, topic: topic, timeout: timeout}
}

// PublishJob writes job as one message keyed by its id. Missing ids and
// enqueue times are filled in.
func (p *Producer) PublishJob(ctx context.Context, job models.Job) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}

	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	message := kafka.Message{
		Key:   []byte(job.ID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "job-type", Value: []byte(job.Type)},
		},
	}

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	if err := p.writer.WriteMessages(ctx, message); err != nil {
		logger.Log.WithError(err).WithFields(map[string]interface{}{
			"job_id":   job.ID,
			"job_type": job.Type,
			"topic":    p.topic,
		}).Error("Failed to publish job")
		return fmt.Errorf("publishing job %s: %w", job.ID, err)
	}

	logger.Log.WithFields(map[string]interface{}{
		"job_id":   job.ID,
		"job_type": job.Type,
		"attempt":  job.Attempt,
		"topic":    p.topic,
	}).Debug("Job published")

	return nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}
