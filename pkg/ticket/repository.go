package ticket

import (
	"context"

	"gorm.io/gorm"
)

// Store is satisfied by *Repository.
type Store interface {
	Create(ctx context.Context, t *Ticket) error
}

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&Ticket{})
}

func (r *Repository) Create(ctx context.Context, t *Ticket) error {
	return r.db.WithContext(ctx).Create(t).Error
}
