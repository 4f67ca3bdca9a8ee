package submission

import (
	"time"

	"github.com/formiq/platform/pkg/common/models"
	"gorm.io/datatypes"
)

type Submission struct {
	ID         string            `json:"id" gorm:"primaryKey;column:id"`
	ProjectRef string            `json:"-" gorm:"column:project_ref;index:idx_submissions_project_created,priority:1"`
	Fields     datatypes.JSONMap `json:"fields" gorm:"column:fields"`
	IPAddress  string            `json:"-" gorm:"column:ip_address"`
	UserAgent  string            `json:"-" gorm:"column:user_agent"`
	Origin     string            `json:"-" gorm:"column:origin"`
	CreatedAt  time.Time         `json:"createdAt" gorm:"column:created_at;index:idx_submissions_project_created,priority:2"`
	UpdatedAt  time.Time         `json:"updatedAt" gorm:"column:updated_at"`
}

func (Submission) TableName() string {
	return "submissions"
}

// Response strips request metadata.
func (s *Submission) Response() models.SubmissionResponse {
	return models.SubmissionResponse{
		ID:        s.ID,
		Fields:    models.Fields(s.Fields),
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
}

// Input is one public submission as seen by the pipeline.
type Input struct {
	ProjectID  string
	Origin     string
	Credential string
	ClientIP   string
	UserAgent  string
	Fields     models.Fields
	Options    *models.SubmitOptions
}
