package notification

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/formiq/platform/pkg/common/kafka"
	"github.com/formiq/platform/pkg/common/logger"
	"github.com/formiq/platform/pkg/common/models"
	"github.com/formiq/platform/pkg/gateway/httpclient"
	"github.com/formiq/platform/pkg/observability/metrics"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const (
	settleTimeout        = 10 * time.Second
	maxDeadLetterBackoff = 30 * time.Second
)

const (
	outcomeSent         = "sent"
	outcomeDeadLettered = "dead_lettered"
)

var errUnknownJobType = errors.New("no template for job type")

// JobSource is satisfied by *kafka.Consumer.
type JobSource interface {
	Fetch(ctx context.Context) (*kafka.Delivery, error)
	Commit(ctx context.Context, d *kafka.Delivery) error
}

type WorkerConfig struct {
	Concurrency  int
	MaxAttempts  int
	BaseDelay    time.Duration
	SendRPS      float64
	JobTimeout   time.Duration
	FetchBackoff time.Duration
}

func (c *WorkerConfig) withDefaults() {
	if c.Concurrency <= 0 {
		c.Concurrency = 5
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 500 * time.Millisecond
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = time.Minute
	}
	if c.FetchBackoff <= 0 {
		c.FetchBackoff = time.Second
	}
}

// Worker consumes notification jobs and hands them to the mailer.
type Worker struct {
	source    JobSource
	dlq       JobPublisher
	mailer    Mailer
	templates Templates
	limiter   *rate.Limiter
	cfg       WorkerConfig

	offsets  *offsetTracker
	commitMu sync.Mutex
}

func NewWorker(source JobSource, dlq JobPublisher, mailer Mailer, templates Templates, cfg WorkerConfig) *Worker {
	cfg.withDefaults()

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.SendRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.SendRPS), max(1, int(cfg.SendRPS)))
	}

	return &Worker{
		source:    source,
		dlq:       dlq,
		mailer:    mailer,
		templates: templates,
		limiter:   limiter,
		cfg:       cfg,
		offsets:   newOffsetTracker(),
	}
}

// Run fetches until ctx is cancelled, then waits for in-flight jobs.
// Transport errors are logged and retried after a pause.
func (w *Worker) Run(ctx context.Context) error {
	var g errgroup.Group
	g.SetLimit(w.cfg.Concurrency)

	// Jobs outlive ctx so a shutdown lets them finish.
	jobCtx := context.WithoutCancel(ctx)

	for {
		d, err := w.source.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			logger.Log.WithError(err).Error("Failed to fetch notification job")
			select {
			case <-time.After(w.cfg.FetchBackoff):
				continue
			case <-ctx.Done():
			}
			break
		}

		f := w.offsets.add(d)
		if d.DecodeErr != nil {
			w.settle(f)
			continue
		}

		g.Go(func() error {
			w.handle(jobCtx, ctx.Done(), f)
			return nil
		})
	}

	logger.Log.Info("Notification worker draining in-flight jobs")
	err := g.Wait()
	if open := w.offsets.open(); open > 0 {
		logger.Log.WithField("uncommitted", open).Warn("Notification worker stopped with uncommitted jobs; they will be redelivered")
	}
	return err
}

// handle sends one job. A job that can be neither sent nor dead-lettered by
// the time stop closes is left unsettled, which also holds back commits of
// later offsets on its partition.
func (w *Worker) handle(ctx context.Context, stop <-chan struct{}, f *inFlight) {
	metrics.JobStarted()
	defer metrics.JobFinished()

	ctx, cancel := context.WithTimeout(ctx, w.cfg.JobTimeout)
	defer cancel()

	job := f.delivery.Job
	log := logger.Log.WithFields(map[string]interface{}{
		"job_id":   job.ID,
		"job_type": job.Type,
	})

	if err := w.Process(ctx, &job); err != nil {
		log.WithError(err).WithField("attempts", job.Attempt).Error("Notification failed, dead-lettering")
		if dlqErr := w.deadLetterUntilStopped(stop, job, err); dlqErr != nil {
			log.WithError(dlqErr).Error("Gave up dead-lettering at shutdown, job left uncommitted")
			return
		}
		metrics.ObserveNotification(job.Type, outcomeDeadLettered)
	} else {
		metrics.ObserveNotification(job.Type, outcomeSent)
		log.Info("Notification sent")
	}

	w.settle(f)
}

// settle commits whatever f unblocks. Commits are issued one at a time so a
// lower offset is never written after a higher one.
func (w *Worker) settle(f *inFlight) {
	w.commitMu.Lock()
	defer w.commitMu.Unlock()

	d := w.offsets.settle(f)
	if d == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), settleTimeout)
	defer cancel()
	if err := w.source.Commit(ctx, d); err != nil {
		// A later commit on the partition covers this offset too.
		logger.Log.WithError(err).WithFields(map[string]interface{}{
			"partition": d.Message.Partition,
			"offset":    d.Message.Offset,
		}).Error("Failed to commit notification job")
	}
}

// Process sends one job with bounded retries. job.Attempt is advanced per
// mailer call.
func (w *Worker) Process(ctx context.Context, job *models.Job) error {
	tmpl, ok := w.templates.Lookup(job.Type)
	if !ok {
		return fmt.Errorf("%w: %q", errUnknownJobType, job.Type)
	}
	if job.To == "" {
		return ErrMissingRecipient
	}

	data := make(map[string]interface{}, len(job.Data)+1)
	for k, v := range job.Data {
		data[k] = v
	}
	if _, ok := data["subject"]; !ok && tmpl.Subject != "" {
		data["subject"] = tmpl.Subject
	}

	return httpclient.Retry(ctx, w.cfg.MaxAttempts, w.cfg.BaseDelay, func() error {
		if err := w.limiter.Wait(ctx); err != nil {
			return err
		}
		job.Attempt++
		metrics.ObserveSendAttempt()
		return w.mailer.Send(ctx, job.To, tmpl.ID, data)
	})
}

func (w *Worker) deadLetter(ctx context.Context, job models.Job, cause error) error {
	if w.dlq == nil {
		return nil
	}
	job.LastError = cause.Error()
	return w.dlq.PublishJob(ctx, job)
}

// deadLetterUntilStopped retries the dead-letter publish with capped
// backoff until it succeeds or stop closes.
func (w *Worker) deadLetterUntilStopped(stop <-chan struct{}, job models.Job, cause error) error {
	delay := w.cfg.BaseDelay
	for attempt := 1; ; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), settleTimeout)
		err := w.deadLetter(ctx, job, cause)
		cancel()
		if err == nil {
			return nil
		}

		logger.Log.WithError(err).WithFields(map[string]interface{}{
			"job_id":  job.ID,
			"attempt": attempt,
		}).Warn("Failed to dead-letter notification job, retrying")

		select {
		case <-stop:
			return err
		case <-time.After(delay):
		}
		delay = min(delay*2, maxDeadLetterBackoff)
	}
}
