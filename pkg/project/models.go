package project

import (
	"time"

	"gorm.io/datatypes"
)

// Project is a tenant: one owner, one credential pair, a set of origins
// allowed to submit.
type Project struct {
	ID                 string                      `json:"id" gorm:"primaryKey;column:id"`
	ProjectID          string                      `json:"projectId" gorm:"column:project_id;uniqueIndex"`
	OwnerID            string                      `json:"ownerId" gorm:"column:owner_id;index"`
	Name               string                      `json:"name" gorm:"column:name"`
	Description        string                      `json:"description" gorm:"column:description"`
	AuthorizedDomains  datatypes.JSONSlice[string] `json:"authorizedDomains" gorm:"column:authorized_domains"`
	PublicKey          string                      `json:"publicKey" gorm:"column:public_key"`
	PrivateKey         string                      `json:"-" gorm:"column:private_key"`
	EmailNotifications bool                        `json:"emailNotifications" gorm:"column:email_notifications"`
	Email              string                      `json:"email" gorm:"column:email"`
	CreatedAt          time.Time                   `json:"createdAt" gorm:"column:created_at"`
	UpdatedAt          time.Time                   `json:"updatedAt" gorm:"column:updated_at"`
}

func (Project) TableName() string {
	return "projects"
}

// Settings is what the submission path needs to admit a request. It is
// cached, so it carries nothing secret.
type Settings struct {
	ID                 string   `json:"id"`
	ProjectID          string   `json:"projectId"`
	OwnerID            string   `json:"ownerId"`
	Name               string   `json:"name"`
	AuthorizedDomains  []string `json:"authorizedDomains"`
	PublicKey          string   `json:"publicKey"`
	EmailNotifications bool     `json:"emailNotifications"`
	Email              string   `json:"email"`
}

func (p *Project) Settings() Settings {
	return Settings{
		ID:                 p.ID,
		ProjectID:          p.ProjectID,
		OwnerID:            p.OwnerID,
		Name:               p.Name,
		AuthorizedDomains:  append([]string(nil), p.AuthorizedDomains...),
		PublicKey:          p.PublicKey,
		EmailNotifications: p.EmailNotifications,
		Email:              p.Email,
	}
}

type Stats struct {
	SubmissionCount int64      `json:"submissionCount"`
	LastSubmission  *time.Time `json:"lastSubmission"`
}

// Detail is the dashboard view of one project.
type Detail struct {
	Project
	Stats
}

// Summary is one row of the dashboard project list.
type Summary struct {
	ID                 string    `json:"id"`
	ProjectID          string    `json:"projectId"`
	Name               string    `json:"name"`
	Description        string    `json:"description"`
	EmailNotifications bool      `json:"emailNotifications"`
	DomainCount        int       `json:"domainCount"`
	CreatedAt          time.Time `json:"createdAt"`
}

type CreateInput struct {
	Name               string
	Description        string
	AuthorizedDomains  []string
	EmailNotifications bool
	Email              string
}

// UpdateInput leaves nil fields unchanged.
type UpdateInput struct {
	Name               *string
	Description        *string
	AuthorizedDomains  []string
	EmailNotifications *bool
	Email              *string
}
