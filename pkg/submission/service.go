package submission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/formiq/platform/pkg/common/logger"
	"github.com/formiq/platform/pkg/common/models"
	"github.com/formiq/platform/pkg/credential"
	"github.com/formiq/platform/pkg/observability/metrics"
	"github.com/formiq/platform/pkg/origin"
	"github.com/formiq/platform/pkg/project"
	"github.com/formiq/platform/pkg/ratelimit"
	"github.com/google/uuid"
	"github.com/mssola/useragent"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"
)

const (
	StageDecode     = "decode"
	StageTenant     = "tenant"
	StageOrigin     = "origin"
	StageCredential = "credential"
	StageRateLimit  = "rate_limit"
	StagePersist    = "persist"
	StageCache      = "cache"
	StageNotify     = "notify"

	MaxFields = 200

	postPersistTimeout = 2 * time.Second
)

var (
	ErrForbidden   = errors.New("origin or credential not authorized")
	ErrRateLimited = errors.New("rate limit exceeded")
)

type ValidationError struct {
	reason error
}

func (e ValidationError) Error() string {
	return e.reason.Error()
}

func (e ValidationError) Unwrap() error {
	return e.reason
}

func IsValidationError(err error) bool {
	var ve ValidationError
	return errors.As(err, &ve)
}

// Rejection is returned when a guard stops the pipeline. Origin is set once
// the origin check has passed so the response can still carry CORS headers;
// Limit is set once the rate check has run.
type Rejection struct {
	Stage  string
	Origin string
	Limit  *ratelimit.Result
	Err    error
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("%s: %v", r.Stage, r.Err)
}

func (r *Rejection) Unwrap() error {
	return r.Err
}

// Failure wraps an internal error raised after the rate check so the
// response still carries the limit headers and the origin grant.
type Failure struct {
	Origin string
	Limit  *ratelimit.Result
	Err    error
}

func (f *Failure) Error() string {
	return f.Err.Error()
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// Projects is satisfied by *project.Service.
type Projects interface {
	Settings(ctx context.Context, projectID string) (*project.Settings, error)
	OwnerOf(ctx context.Context, id string) (string, error)
}

// Limiter is satisfied by *ratelimit.Policy.
type Limiter interface {
	Check(ctx context.Context, projectID, clientID string) (*ratelimit.Result, error)
}

// Invalidator is satisfied by *cache.Versioned.
type Invalidator interface {
	Bump(ctx context.Context, owner string) (int64, error)
}

// Enqueuer is satisfied by *notification.Dispatcher.
type Enqueuer interface {
	Enqueue(ctx context.Context, job models.Job) error
}

type Result struct {
	Submission *Submission
	Origin     string
	Limit      *ratelimit.Result
}

type Service struct {
	store    Store
	projects Projects
	gate     *origin.Gate
	limiter  Limiter
	cache    Invalidator
	notifier Enqueuer
	tracer   trace.Tracer
}

func NewService(store Store, projects Projects, gate *origin.Gate, limiter Limiter, cache Invalidator, notifier Enqueuer) *Service {
	return &Service{
		store:    store,
		projects: projects,
		gate:     gate,
		limiter:  limiter,
		cache:    cache,
		notifier: notifier,
		tracer:   otel.Tracer("formiq/submission"),
	}
}

// Submit runs a public submission through origin, credential and rate
// checks, persists it, then invalidates the owner's cache and enqueues a
// notification. Failures after persistence are logged, never returned.
func (s *Service) Submit(ctx context.Context, in Input) (*Result, error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "submission.Submit", trace.WithAttributes(
		attribute.String("project.id", in.ProjectID),
	))
	defer span.End()

	if err := validateFields(in.Fields); err != nil {
		metrics.ObserveStage(StageDecode, metrics.OutcomeFail)
		return nil, fail(span, err)
	}

	settings, err := s.stage(ctx, StageTenant, func(ctx context.Context) (*project.Settings, error) {
		return s.projects.Settings(ctx, in.ProjectID)
	})
	if err != nil {
		return nil, fail(span, err)
	}

	if _, err := s.stage(ctx, StageOrigin, func(context.Context) (*project.Settings, error) {
		if !s.gate.Allowed(in.Origin, settings.AuthorizedDomains) {
			return nil, &Rejection{Stage: StageOrigin, Err: ErrForbidden}
		}
		return settings, nil
	}); err != nil {
		return nil, fail(span, err)
	}

	if _, err := s.stage(ctx, StageCredential, func(context.Context) (*project.Settings, error) {
		if !credential.Verify(in.Credential, settings.PublicKey) {
			return nil, &Rejection{Stage: StageCredential, Origin: in.Origin, Err: ErrForbidden}
		}
		return settings, nil
	}); err != nil {
		return nil, fail(span, err)
	}

	var limit *ratelimit.Result
	if _, err := s.stage(ctx, StageRateLimit, func(ctx context.Context) (*project.Settings, error) {
		res, err := s.limiter.Check(ctx, settings.ProjectID, in.ClientIP)
		if err != nil {
			return nil, fmt.Errorf("checking rate limit: %w", err)
		}
		limit = res
		if !res.Allowed {
			for name, v := range res.Remaining {
				if v < 0 {
					metrics.ObserveRateLimitRejection(name)
				}
			}
			return nil, &Rejection{Stage: StageRateLimit, Origin: in.Origin, Limit: res, Err: ErrRateLimited}
		}
		return settings, nil
	}); err != nil {
		return nil, fail(span, err)
	}

	sub := &Submission{
		ID:         uuid.New().String(),
		ProjectRef: settings.ID,
		Fields:     datatypes.JSONMap(in.Fields),
		IPAddress:  firstNonEmpty(in.ClientIP, optionValue(in.Options, func(o *models.SubmitOptions) string { return o.IPAddress })),
		UserAgent:  firstNonEmpty(in.UserAgent, optionValue(in.Options, func(o *models.SubmitOptions) string { return o.UserAgent })),
		Origin:     firstNonEmpty(in.Origin, optionValue(in.Options, func(o *models.SubmitOptions) string { return o.Origin })),
	}
	if _, err := s.stage(ctx, StagePersist, func(ctx context.Context) (*project.Settings, error) {
		if err := s.store.Create(ctx, sub); err != nil {
			return nil, fmt.Errorf("persisting submission: %w", err)
		}
		return settings, nil
	}); err != nil {
		return nil, fail(span, &Failure{Origin: in.Origin, Limit: limit, Err: err})
	}

	// The write is final; the client going away must not stop the follow-up.
	post := context.WithoutCancel(ctx)
	s.invalidate(post, settings.OwnerID)
	if settings.EmailNotifications && settings.Email != "" {
		s.notify(post, settings, sub)
	}

	metrics.ObserveIngestionDuration(time.Since(start))
	span.SetAttributes(attribute.String("submission.id", sub.ID))
	return &Result{Submission: sub, Origin: in.Origin, Limit: limit}, nil
}

// Preflight checks only that origin may call the project.
func (s *Service) Preflight(ctx context.Context, projectID, requestOrigin string) error {
	settings, err := s.projects.Settings(ctx, projectID)
	if err != nil {
		return err
	}
	if !s.gate.Allowed(requestOrigin, settings.AuthorizedDomains) {
		return &Rejection{Stage: StageOrigin, Err: ErrForbidden}
	}
	return nil
}

// Get returns a submission belonging to one of owner's projects.
func (s *Service) Get(ctx context.Context, owner, id string) (*Submission, error) {
	sub, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	projectOwner, err := s.projects.OwnerOf(ctx, sub.ProjectRef)
	if errors.Is(err, project.ErrProjectNotFound) || (err == nil && projectOwner != owner) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("resolving submission owner: %w", err)
	}
	return sub, nil
}

func (s *Service) Delete(ctx context.Context, owner, id string) error {
	sub, err := s.Get(ctx, owner, id)
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, sub.ID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return err
		}
		return fmt.Errorf("deleting submission: %w", err)
	}

	s.invalidate(context.WithoutCancel(ctx), owner)
	return nil
}

// stage runs one pipeline step inside its own span and records the outcome.
func (s *Service) stage(ctx context.Context, name string, fn func(context.Context) (*project.Settings, error)) (*project.Settings, error) {
	ctx, span := s.tracer.Start(ctx, "submission."+name)
	defer span.End()

	out, err := fn(ctx)
	switch {
	case err == nil:
		metrics.ObserveStage(name, metrics.OutcomePass)
	case isRejection(err) || errors.Is(err, project.ErrProjectNotFound):
		metrics.ObserveStage(name, metrics.OutcomeFail)
		span.SetAttributes(attribute.String("rejected", err.Error()))
	default:
		metrics.ObserveStage(name, metrics.OutcomeError)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return out, err
}

func (s *Service) invalidate(ctx context.Context, owner string) {
	ctx, cancel := context.WithTimeout(ctx, postPersistTimeout)
	defer cancel()

	if _, err := s.cache.Bump(ctx, owner); err != nil {
		metrics.ObserveStage(StageCache, metrics.OutcomeError)
		logger.Log.WithError(err).WithField("owner", owner).Warn("failed to bump cache version after submission write")
		return
	}
	metrics.ObserveStage(StageCache, metrics.OutcomePass)
}

func (s *Service) notify(ctx context.Context, settings *project.Settings, sub *Submission) {
	ctx, cancel := context.WithTimeout(ctx, postPersistTimeout)
	defer cancel()

	job := models.Job{
		Type: models.JobFormSubmission,
		To:   settings.Email,
		Data: notificationData(settings, sub),
	}
	if err := s.notifier.Enqueue(ctx, job); err != nil {
		metrics.ObserveStage(StageNotify, metrics.OutcomeError)
		logger.Log.WithError(err).WithFields(map[string]interface{}{
			"project_id":    settings.ProjectID,
			"submission_id": sub.ID,
		}).Warn("failed to enqueue submission notification")
		return
	}
	metrics.ObserveStage(StageNotify, metrics.OutcomePass)
}

func notificationData(settings *project.Settings, sub *Submission) map[string]interface{} {
	data := map[string]interface{}{
		"projectId":    settings.ProjectID,
		"projectName":  settings.Name,
		"submissionId": sub.ID,
		"fields":       map[string]interface{}(sub.Fields),
		"origin":       sub.Origin,
		"submittedAt":  sub.CreatedAt.Format(time.RFC3339),
	}
	if sub.UserAgent != "" {
		ua := useragent.New(sub.UserAgent)
		browser, version := ua.Browser()
		data["client"] = map[string]interface{}{
			"browser": browser,
			"version": version,
			"os":      ua.OS(),
			"mobile":  ua.Mobile(),
			"bot":     ua.Bot(),
		}
	}
	return data
}

func validateFields(fields models.Fields) error {
	if fields == nil {
		return ValidationError{reason: errors.New("fields must be a JSON object")}
	}
	if len(fields) == 0 {
		return ValidationError{reason: errors.New("fields must contain at least one entry")}
	}
	if len(fields) > MaxFields {
		return ValidationError{reason: fmt.Errorf("fields may contain at most %d entries", MaxFields)}
	}
	for k := range fields {
		if k == "" {
			return ValidationError{reason: errors.New("field names must not be empty")}
		}
	}
	return nil
}

func isRejection(err error) bool {
	var rej *Rejection
	return errors.As(err, &rej)
}

func fail(span trace.Span, err error) error {
	if !isRejection(err) && !IsValidationError(err) && !errors.Is(err, project.ErrProjectNotFound) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func optionValue(o *models.SubmitOptions, get func(*models.SubmitOptions) string) string {
	if o == nil {
		return ""
	}
	return get(o)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
