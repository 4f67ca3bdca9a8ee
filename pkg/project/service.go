package project

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/formiq/platform/pkg/cache"
	"github.com/formiq/platform/pkg/common/logger"
	"github.com/formiq/platform/pkg/credential"
	"github.com/formiq/platform/pkg/observability/metrics"
	"github.com/formiq/platform/pkg/origin"
	"github.com/google/uuid"
)

const (
	purposeList   = "projects"
	purposeDetail = "project"
	purposePublic = "project_public"

	invalidateTimeout = 2 * time.Second
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

func invalid(format string, args ...interface{}) error {
	return ValidationError{reason: fmt.Errorf(format, args...)}
}

// SettingsKey is the cache key of a project's public settings at version.
// The version counter is per project, so a write orphans every entry a
// concurrent reader may still be filling.
func SettingsKey(version int64, projectID string) string {
	return cache.Key(purposePublic, version, projectID, "settings")
}

type Service struct {
	store      Store
	cache      *cache.Versioned
	public     *cache.Versioned
	projectTTL time.Duration
	listTTL    time.Duration
	keygen     func() (credential.KeyPair, error)
}

func NewService(store Store, c *cache.Versioned, projectTTL, listTTL time.Duration) *Service {
	return &Service{
		store:      store,
		cache:      c,
		public:     c.Scoped("project"),
		projectTTL: projectTTL,
		listTTL:    listTTL,
		keygen:     credential.GenerateKeyPair,
	}
}

// WithKeyGenerator replaces credential generation.
func (s *Service) WithKeyGenerator(gen func() (credential.KeyPair, error)) *Service {
	s.keygen = gen
	return s
}

func (s *Service) Create(ctx context.Context, owner string, in CreateInput) (*Project, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, invalid("name is required")
	}
	domains, err := normalizeDomains(in.AuthorizedDomains)
	if err != nil {
		return nil, err
	}
	if in.EmailNotifications && strings.TrimSpace(in.Email) == "" {
		return nil, invalid("email is required when email notifications are enabled")
	}

	keys, err := s.keygen()
	if err != nil {
		return nil, fmt.Errorf("generating project credentials: %w", err)
	}

	p := &Project{
		ID:                 uuid.New().String(),
		ProjectID:          newProjectID(),
		OwnerID:            owner,
		Name:               name,
		Description:        strings.TrimSpace(in.Description),
		AuthorizedDomains:  domains,
		PublicKey:          keys.PublicKey,
		PrivateKey:         keys.PrivateKey,
		EmailNotifications: in.EmailNotifications,
		Email:              strings.TrimSpace(in.Email),
	}
	if err := s.store.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("persisting project: %w", err)
	}

	s.invalidate(ctx, owner, "")
	return p, nil
}

func (s *Service) List(ctx context.Context, owner string) ([]Summary, cache.Status, error) {
	var out []Summary
	status, err := s.cache.FetchVersioned(ctx, owner, purposeList, owner, "all", s.listTTL, &out,
		func(ctx context.Context) (interface{}, error) {
			projects, err := s.store.ListByOwner(ctx, owner)
			if err != nil {
				return nil, fmt.Errorf("listing projects: %w", err)
			}
			rows := make([]Summary, 0, len(projects))
			for _, p := range projects {
				rows = append(rows, Summary{
					ID:                 p.ID,
					ProjectID:          p.ProjectID,
					Name:               p.Name,
					Description:        p.Description,
					EmailNotifications: p.EmailNotifications,
					DomainCount:        len(p.AuthorizedDomains),
					CreatedAt:          p.CreatedAt,
				})
			}
			return rows, nil
		})
	metrics.ObserveCacheLookup(purposeList, string(status))
	return out, status, err
}

// Get returns the project with its submission statistics. Projects of other
// owners are reported as not found.
func (s *Service) Get(ctx context.Context, owner, id string) (*Detail, cache.Status, error) {
	var out Detail
	status, err := s.cache.FetchVersioned(ctx, owner, purposeDetail, owner, id, s.projectTTL, &out,
		func(ctx context.Context) (interface{}, error) {
			p, err := s.loadOwned(ctx, owner, id)
			if err != nil {
				return nil, err
			}
			stats, err := s.store.SubmissionStats(ctx, p.ID)
			if err != nil {
				return nil, fmt.Errorf("loading submission stats: %w", err)
			}
			return Detail{Project: *p, Stats: stats}, nil
		})
	metrics.ObserveCacheLookup(purposeDetail, string(status))
	if err != nil {
		return nil, status, err
	}
	return &out, status, nil
}

func (s *Service) Update(ctx context.Context, owner, id string, in UpdateInput) (*Project, error) {
	p, err := s.loadOwned(ctx, owner, id)
	if err != nil {
		return nil, err
	}

	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			return nil, invalid("name must not be empty")
		}
		p.Name = name
	}
	if in.Description != nil {
		p.Description = strings.TrimSpace(*in.Description)
	}
	if in.AuthorizedDomains != nil {
		domains, err := normalizeDomains(in.AuthorizedDomains)
		if err != nil {
			return nil, err
		}
		p.AuthorizedDomains = domains
	}
	if in.Email != nil {
		p.Email = strings.TrimSpace(*in.Email)
	}
	if in.EmailNotifications != nil {
		p.EmailNotifications = *in.EmailNotifications
	}
	if p.EmailNotifications && p.Email == "" {
		return nil, invalid("email is required when email notifications are enabled")
	}

	if err := s.store.Save(ctx, p); err != nil {
		return nil, fmt.Errorf("updating project: %w", err)
	}

	s.invalidate(ctx, owner, p.ProjectID)
	return p, nil
}

func (s *Service) Delete(ctx context.Context, owner, id string) error {
	p, err := s.loadOwned(ctx, owner, id)
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, p.ID); err != nil {
		if errors.Is(err, ErrProjectNotFound) {
			return err
		}
		return fmt.Errorf("deleting project: %w", err)
	}

	s.invalidate(ctx, owner, p.ProjectID)
	return nil
}

// RegenerateKeys replaces the credential pair. The old public key stops
// working as soon as the cached settings are dropped.
func (s *Service) RegenerateKeys(ctx context.Context, owner, id string) (*Project, error) {
	p, err := s.loadOwned(ctx, owner, id)
	if err != nil {
		return nil, err
	}

	keys, err := s.keygen()
	if err != nil {
		return nil, fmt.Errorf("generating project credentials: %w", err)
	}
	p.PublicKey = keys.PublicKey
	p.PrivateKey = keys.PrivateKey

	if err := s.store.Save(ctx, p); err != nil {
		return nil, fmt.Errorf("updating project credentials: %w", err)
	}

	s.invalidate(ctx, owner, p.ProjectID)
	return p, nil
}

// Settings resolves a public project id for the submission path.
func (s *Service) Settings(ctx context.Context, projectID string) (*Settings, error) {
	if projectID == "" {
		return nil, ErrProjectNotFound
	}

	var out Settings
	status, err := s.public.FetchVersioned(ctx, projectID, purposePublic, projectID, "settings", s.projectTTL, &out,
		func(ctx context.Context) (interface{}, error) {
			p, err := s.store.GetByProjectID(ctx, projectID)
			if err != nil {
				return nil, err
			}
			return p.Settings(), nil
		})
	metrics.ObserveCacheLookup(purposePublic, string(status))
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// OwnerOf returns the owner of the project with internal id, for callers
// that need to invalidate that owner's cache.
func (s *Service) OwnerOf(ctx context.Context, id string) (string, error) {
	p, err := s.store.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	return p.OwnerID, nil
}

func (s *Service) loadOwned(ctx context.Context, owner, id string) (*Project, error) {
	p, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.OwnerID != owner {
		return nil, ErrProjectNotFound
	}
	return p, nil
}

// invalidate runs after the write has committed, so it ignores cancellation
// and only logs failures; stale entries expire with their TTL.
func (s *Service) invalidate(ctx context.Context, owner, projectID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), invalidateTimeout)
	defer cancel()

	if _, err := s.cache.Bump(ctx, owner); err != nil {
		logger.Log.WithError(err).WithField("owner", owner).Warn("failed to bump cache version")
	}
	if projectID != "" {
		if _, err := s.public.Bump(ctx, projectID); err != nil {
			logger.Log.WithError(err).WithField("project_id", projectID).Warn("failed to bump project settings version")
		}
	}
}

func normalizeDomains(domains []string) ([]string, error) {
	out := make([]string, 0, len(domains))
	seen := make(map[string]struct{}, len(domains))
	for _, d := range domains {
		d = strings.TrimSpace(d)
		if err := origin.ValidPattern(d); err != nil {
			return nil, ValidationError{reason: err}
		}
		if _, dup := seen[d]; dup {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	return out, nil
}

func newProjectID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")[:16]
}
