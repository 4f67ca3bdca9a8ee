package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/formiq/platform/pkg/common/logger"
	"github.com/formiq/platform/pkg/common/models"
	"github.com/segmentio/kafka-go"
)

// MessageReader is the subset of *kafka.Reader the consumer needs.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Delivery is a decoded job together with the message it came from, so the
// caller can commit once it is done with it. DecodeErr is set when the
// payload is not a job; such a delivery only needs committing.
type Delivery struct {
	Job       models.Job
	Message   kafka.Message
	DecodeErr error
}

type Consumer struct {
	reader MessageReader
}

func NewConsumer(brokers []string, topic, groupID string) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})
	return NewConsumerWithReader(reader)
}

func NewConsumerWithReader(reader MessageReader) *Consumer {
	return &Consumer{reader: reader}
}

// Fetch blocks until the next message arrives. Messages that do not decode
// are still returned so they get committed in offset order with the rest.
func (c *Consumer) Fetch(ctx context.Context) (*Delivery, error) {
	message, err := c.reader.FetchMessage(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching message: %w", err)
	}

	var job models.Job
	if err := json.Unmarshal(message.Value, &job); err != nil {
		logger.Log.WithError(err).WithFields(map[string]interface{}{
			"topic":     message.Topic,
			"partition": message.Partition,
			"offset":    message.Offset,
		}).Error("Failed to unmarshal job")
		return &Delivery{Message: message, DecodeErr: err}, nil
	}

	return &Delivery{Job: job, Message: message}, nil
}

func (c *Consumer) Commit(ctx context.Context, d *Delivery) error {
	return c.reader.CommitMessages(ctx, d.Message)
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
