package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/formiq/platform/pkg/common/logger"
	"github.com/formiq/platform/pkg/common/models"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	messages []kafka.Message
	err      error
	deadline bool
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	_, w.deadline = ctx.Deadline()
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

type fakeReader struct {
	queue     []kafka.Message
	committed []kafka.Message
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if len(r.queue) == 0 {
		return kafka.Message{}, context.Canceled
	}
	m := r.queue[0]
	r.queue = r.queue[1:]
	return m, nil
}

func (r *fakeReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *fakeReader) Close() error { return nil }

func TestPublishJobFillsIdentityAndHeaders(t *testing.T) {
	w := &fakeWriter{}
	p := NewProducerWithWriter(w, "notifications.email", time.Second)

	err := p.PublishJob(context.Background(), models.Job{Type: models.JobFormSubmission, To: "owner@example.com"})
	require.NoError(t, err)
	require.Len(t, w.messages, 1)
	assert.True(t, w.deadline)

	var job models.Job
	require.NoError(t, json.Unmarshal(w.messages[0].Value, &job))
	assert.NotEmpty(t, job.ID)
	assert.False(t, job.EnqueuedAt.IsZero())
	assert.Equal(t, job.ID, string(w.messages[0].Key))
	assert.Equal(t, "job-type", w.messages[0].Headers[0].Key)
	assert.Equal(t, models.JobFormSubmission, string(w.messages[0].Headers[0].Value))
}

func TestPublishJobReportsWriterErrors(t *testing.T) {
	logger.Discard()
	p := NewProducerWithWriter(&fakeWriter{err: errors.New("broker unavailable")}, "t", time.Second)
	assert.Error(t, p.PublishJob(context.Background(), models.Job{Type: models.JobSupportTicket}))
}

func TestFetchReturnsUndecodableMessagesUncommitted(t *testing.T) {
	logger.Discard()
	good, err := json.Marshal(models.Job{ID: "j1", Type: models.JobSupportTicket})
	require.NoError(t, err)

	r := &fakeReader{queue: []kafka.Message{
		{Value: []byte("not json"), Offset: 1},
		{Value: good, Offset: 2},
	}}
	c := NewConsumerWithReader(r)

	bad, err := c.Fetch(context.Background())
	require.NoError(t, err)
	assert.Error(t, bad.DecodeErr)
	assert.Equal(t, int64(1), bad.Message.Offset)
	assert.Empty(t, r.committed)

	d, err := c.Fetch(context.Background())
	require.NoError(t, err)
	assert.NoError(t, d.DecodeErr)
	assert.Equal(t, "j1", d.Job.ID)

	require.NoError(t, c.Commit(context.Background(), d))
	require.Len(t, r.committed, 1)
	assert.Equal(t, int64(2), r.committed[0].Offset)

	_, err = c.Fetch(context.Background())
	assert.ErrorIs(t, err, context.Canceled)
}
