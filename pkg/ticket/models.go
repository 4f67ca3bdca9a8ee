package ticket

import "time"

const StatusOpen = "open"

type Ticket struct {
	ID          string    `json:"id" gorm:"primaryKey;column:id"`
	Name        string    `json:"name" gorm:"column:name"`
	Email       string    `json:"email" gorm:"column:email;index"`
	Subject     string    `json:"subject" gorm:"column:subject"`
	Description string    `json:"description" gorm:"column:description"`
	Category    string    `json:"category" gorm:"column:category"`
	Priority    string    `json:"priority" gorm:"column:priority"`
	ProjectID   string    `json:"projectId,omitempty" gorm:"column:project_id"`
	URL         string    `json:"url,omitempty" gorm:"column:url"`
	Steps       string    `json:"steps,omitempty" gorm:"column:steps"`
	Expected    string    `json:"expected,omitempty" gorm:"column:expected"`
	Actual      string    `json:"actual,omitempty" gorm:"column:actual"`
	Subscribe   bool      `json:"subscribe" gorm:"column:subscribe"`
	Consent     bool      `json:"consent" gorm:"column:consent"`
	Status      string    `json:"status" gorm:"column:status"`
	CreatedAt   time.Time `json:"createdAt" gorm:"column:created_at"`
	UpdatedAt   time.Time `json:"updatedAt" gorm:"column:updated_at"`
}

func (Ticket) TableName() string {
	return "tickets"
}

// CreateRequest is the public ticket form.
type CreateRequest struct {
	Name        string `json:"name" validate:"required,min=2,max=100"`
	Email       string `json:"email" validate:"required,email"`
	Subject     string `json:"subject" validate:"required,min=5,max=120"`
	Description string `json:"description" validate:"required,min=10,max=5000"`
	Category    string `json:"category" validate:"required,oneof=billing technical account feedback other"`
	Priority    string `json:"priority" validate:"required,oneof=low normal high urgent"`
	ProjectID   string `json:"projectId" validate:"omitempty,max=64"`
	URL         string `json:"url" validate:"omitempty,url"`
	Steps       string `json:"steps" validate:"omitempty,max=5000"`
	Expected    string `json:"expected" validate:"omitempty,max=5000"`
	Actual      string `json:"actual" validate:"omitempty,max=5000"`
	Subscribe   *bool  `json:"subscribe"`
	Consent     bool   `json:"consent" validate:"eq=true"`
}
