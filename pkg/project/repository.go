package project

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"gorm.io/gorm"
)

var ErrProjectNotFound = errors.New("project not found")

// Store is the persistence the service depends on; *Repository implements it.
type Store interface {
	Create(ctx context.Context, p *Project) error
	Save(ctx context.Context, p *Project) error
	Delete(ctx context.Context, id string) error
	GetByID(ctx context.Context, id string) (*Project, error)
	GetByProjectID(ctx context.Context, projectID string) (*Project, error)
	ListByOwner(ctx context.Context, ownerID string) ([]Project, error)
	SubmissionStats(ctx context.Context, id string) (Stats, error)
}

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&Project{})
}

func (r *Repository) Create(ctx context.Context, p *Project) error {
	p.CreatedAt = time.Now().UTC()
	p.UpdatedAt = p.CreatedAt
	return r.db.WithContext(ctx).Create(p).Error
}

func (r *Repository) Save(ctx context.Context, p *Project) error {
	p.UpdatedAt = time.Now().UTC()
	return r.db.WithContext(ctx).Save(p).Error
}

// Delete removes the project and its submissions in one transaction.
func (r *Repository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("DELETE FROM submissions WHERE project_ref = ?", id).Error; err != nil {
			return err
		}
		result := tx.Where("id = ?", id).Delete(&Project{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrProjectNotFound
		}
		return nil
	})
}

func (r *Repository) GetByID(ctx context.Context, id string) (*Project, error) {
	var p Project
	result := r.db.WithContext(ctx).First(&p, "id = ?", id)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrProjectNotFound
	}
	return &p, result.Error
}

func (r *Repository) GetByProjectID(ctx context.Context, projectID string) (*Project, error) {
	var p Project
	result := r.db.WithContext(ctx).First(&p, "project_id = ?", projectID)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrProjectNotFound
	}
	return &p, result.Error
}

func (r *Repository) ListByOwner(ctx context.Context, ownerID string) ([]Project, error) {
	var projects []Project
	err := r.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at DESC").
		Find(&projects).Error
	return projects, err
}

func (r *Repository) SubmissionStats(ctx context.Context, id string) (Stats, error) {
	var row struct {
		Count int64
		Last  sql.NullTime
	}
	err := r.db.WithContext(ctx).
		Raw("SELECT COUNT(*) AS count, MAX(created_at) AS last FROM submissions WHERE project_ref = ?", id).
		Scan(&row).Error
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{SubmissionCount: row.Count}
	if row.Last.Valid {
		last := row.Last.Time.UTC()
		stats.LastSubmission = &last
	}
	return stats, nil
}
