package models

import (
	"time"
)

// Fields is a tenant-defined submission payload. Values are whatever JSON
// decodes to: string, float64, bool, nil, map[string]interface{} or []interface{}.
type Fields map[string]interface{}

// Public submission wire format.
type SubmitRequest struct {
	Fields    Fields         `json:"fields"`
	Options   *SubmitOptions `json:"options,omitempty"`
	FormiqKey string         `json:"formiqKey,omitempty"`
}

type SubmitOptions struct {
	IPAddress string `json:"ipAddress,omitempty"`
	UserAgent string `json:"userAgent,omitempty"`
	Origin    string `json:"origin,omitempty"`
}

type SubmissionResponse struct {
	ID        string    `json:"id"`
	Fields    Fields    `json:"fields"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Notification job types.
const (
	JobFormSubmission = "formSubmission"
	JobSupportTicket  = "supportTicket"
)

// Job is the unit placed on the notification queue.
type Job struct {
	ID         string                 `json:"id"`
	Type       string                 `json:"type"`
	To         string                 `json:"to"`
	Data       map[string]interface{} `json:"data"`
	Attempt    int                    `json:"attempt"`
	EnqueuedAt time.Time              `json:"enqueued_at"`
	LastError  string                 `json:"last_error,omitempty"`
}
