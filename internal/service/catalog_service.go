package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/edubatch/admission-api/internal/models"
	appErrors "github.com/edubatch/admission-api/pkg/errors"
)

type batchCatalogReader interface {
	ListAvailability(ctx context.Context, filter models.BatchFilter) ([]models.BatchAvailability, int, error)
}

type registrationReader interface {
	FindDetailByID(ctx context.Context, id string) (*models.RegistrationDetail, error)
	ListByStudent(ctx context.Context, studentID string) ([]models.Registration, error)
}

type studentReader interface {
	FindByEmail(ctx context.Context, email string) (*models.Student, error)
}

type catalogCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

type batchListing struct {
	Batches []models.BatchAvailability `json:"batches"`
	Total   int                        `json:"total"`
}

// CatalogService serves the read side: batch availability with live seat
// counts and registration lookups. Listings are cached briefly; remaining
// seat counts may lag by at most the cache TTL.
type CatalogService struct {
	batches       batchCatalogReader
	registrations registrationReader
	students      studentReader
	cache         catalogCache
	cacheTTL      time.Duration
	logger        *zap.Logger
}

// NewCatalogService wires the read side. Cache is optional; a nil cache
// means every listing hits the database.
func NewCatalogService(
	batches batchCatalogReader,
	registrations registrationReader,
	students studentReader,
	cache catalogCache,
	cacheTTL time.Duration,
	logger *zap.Logger,
) *CatalogService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CatalogService{
		batches:       batches,
		registrations: registrations,
		students:      students,
		cache:         cache,
		cacheTTL:      cacheTTL,
		logger:        logger,
	}
}

// ListBatches returns batches with remaining seat counts, optionally
// filtered to a course or to open enrollment windows only.
func (s *CatalogService) ListBatches(ctx context.Context, filter models.BatchFilter) ([]models.BatchAvailability, int, error) {
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize < 1 || filter.PageSize > 100 {
		filter.PageSize = 20
	}

	cacheKey := fmt.Sprintf("catalog:batches:%s:%t:%d:%d", filter.CourseID, filter.OpenOnly, filter.Page, filter.PageSize)
	if s.cache != nil {
		var cached batchListing
		if err := s.cache.Get(ctx, cacheKey, &cached); err == nil {
			return cached.Batches, cached.Total, nil
		}
	}

	batches, total, err := s.batches.ListAvailability(ctx, filter)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list batches")
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, cacheKey, batchListing{Batches: batches, Total: total}, s.cacheTTL); err != nil {
			s.logger.Warn("failed to cache batch listing", zap.Error(err))
		}
	}

	return batches, total, nil
}

// GetRegistration loads one registration with its student, batch and course.
func (s *CatalogService) GetRegistration(ctx context.Context, id string) (*models.RegistrationDetail, error) {
	if id == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "registration id is required")
	}
	detail, err := s.registrations.FindDetailByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "registration not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load registration")
	}
	return detail, nil
}

// ListStudentRegistrations returns a student's registration history, looked
// up by email.
func (s *CatalogService) ListStudentRegistrations(ctx context.Context, email string) ([]models.Registration, error) {
	if email == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "email is required")
	}
	student, err := s.students.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	registrations, err := s.registrations.ListByStudent(ctx, student.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list registrations")
	}
	return registrations, nil
}
