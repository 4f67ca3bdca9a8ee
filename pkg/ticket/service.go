package ticket

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/formiq/platform/pkg/common/logger"
	"github.com/formiq/platform/pkg/common/models"
	"github.com/google/uuid"
)

const (
	enqueueTimeout = 2 * time.Second
	notProvided    = "not provided"
)

// Enqueuer is satisfied by *notification.Dispatcher.
type Enqueuer interface {
	Enqueue(ctx context.Context, job models.Job) error
}

type Service struct {
	store        Store
	notifier     Enqueuer
	supportEmail string
}

func NewService(store Store, notifier Enqueuer, supportEmail string) *Service {
	return &Service{store: store, notifier: notifier, supportEmail: supportEmail}
}

// Create stores an open ticket and queues a mail to support. A queue failure
// is logged; the ticket is already saved.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Ticket, error) {
	subscribe := true
	if req.Subscribe != nil {
		subscribe = *req.Subscribe
	}

	now := time.Now().UTC()
	t := &Ticket{
		ID:          uuid.New().String(),
		Name:        strings.TrimSpace(req.Name),
		Email:       strings.ToLower(strings.TrimSpace(req.Email)),
		Subject:     strings.TrimSpace(req.Subject),
		Description: strings.TrimSpace(req.Description),
		Category:    req.Category,
		Priority:    req.Priority,
		ProjectID:   strings.TrimSpace(req.ProjectID),
		URL:         strings.TrimSpace(req.URL),
		Steps:       req.Steps,
		Expected:    req.Expected,
		Actual:      req.Actual,
		Subscribe:   subscribe,
		Consent:     req.Consent,
		Status:      StatusOpen,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.store.Create(ctx, t); err != nil {
		return nil, fmt.Errorf("saving ticket: %w", err)
	}

	if s.supportEmail == "" {
		logger.Log.WithField("ticket_id", t.ID).Warn("support email not configured; ticket notification skipped")
		return t, nil
	}

	enqueueCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), enqueueTimeout)
	defer cancel()
	job := models.Job{
		Type: models.JobSupportTicket,
		To:   s.supportEmail,
		Data: map[string]interface{}{
			"ticketId":     t.ID,
			"ticketFields": ticketFields(t),
		},
	}
	if err := s.notifier.Enqueue(enqueueCtx, job); err != nil {
		logger.Log.WithError(err).WithField("ticket_id", t.ID).Error("failed to enqueue support ticket notification")
	}
	return t, nil
}

func ticketFields(t *Ticket) map[string]interface{} {
	return map[string]interface{}{
		"name":        t.Name,
		"email":       t.Email,
		"subject":     t.Subject,
		"description": t.Description,
		"priority":    t.Priority,
		"category":    t.Category,
		"projectId":   orNotProvided(t.ProjectID),
		"url":         orNotProvided(t.URL),
		"steps":       orNotProvided(t.Steps),
		"expected":    orNotProvided(t.Expected),
		"actual":      orNotProvided(t.Actual),
	}
}

func orNotProvided(v string) string {
	if strings.TrimSpace(v) == "" {
		return notProvided
	}
	return v
}
