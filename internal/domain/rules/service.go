package rules

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/niceverygood/maria-reservation-sub000/internal/platform/worker"
)

// Invalidator drops derived availability after a rule edit.
type Invalidator interface {
	Invalidate(ctx context.Context, doctorID uuid.UUID, date string)
	InvalidateDoctor(ctx context.Context, doctorID uuid.UUID)
	InvalidateAll(ctx context.Context)
}

// SummaryRefresher recomputes daily summaries touched by a rule edit.
type SummaryRefresher interface {
	RebuildOne(ctx context.Context, doctorID uuid.UUID, date string) error
	RebuildDoctor(ctx context.Context, doctorID uuid.UUID) error
}

type Submitter interface {
	Submit(t worker.Task)
}

type Service struct {
	repo      Repository
	cache     Invalidator
	summaries SummaryRefresher
	tasks     Submitter
	logger    zerolog.Logger
}

func NewService(repo Repository, cache Invalidator, summaries SummaryRefresher, tasks Submitter, logger zerolog.Logger) *Service {
	return &Service{
		repo:      repo,
		cache:     cache,
		summaries: summaries,
		tasks:     tasks,
		logger:    logger.With().Str("component", "rules").Logger(),
	}
}

// -- Doctors --

func (s *Service) CreateDoctor(ctx context.Context, d *Doctor) error {
	if err := d.Validate(); err != nil {
		return err
	}
	return s.repo.CreateDoctor(ctx, d)
}

func (s *Service) GetDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	return s.repo.GetDoctor(ctx, id)
}

func (s *Service) ListDoctors(ctx context.Context, activeOnly bool) ([]*Doctor, error) {
	return s.repo.ListDoctors(ctx, activeOnly)
}

// SetDoctorActive toggles bookability. Existing appointments are kept.
func (s *Service) SetDoctorActive(ctx context.Context, id uuid.UUID, active bool) error {
	if err := s.repo.SetDoctorActive(ctx, id, active); err != nil {
		return err
	}
	s.logger.Info().Str("doctor_id", id.String()).Bool("active", active).Msg("doctor bookability changed")
	s.cache.InvalidateDoctor(ctx, id)
	s.refreshDoctor(id)
	return nil
}

// -- Weekly templates --

func (s *Service) CreateTemplate(ctx context.Context, t *WeeklyTemplate) error {
	if t.DoctorID == uuid.Nil {
		return fmt.Errorf("%w: doctorId is required", ErrInvalidRule)
	}
	if err := t.Validate(); err != nil {
		return err
	}
	if err := s.repo.CreateTemplate(ctx, t); err != nil {
		return err
	}
	s.cache.InvalidateAll(ctx)
	s.refreshDoctor(t.DoctorID)
	return nil
}

func (s *Service) DeleteTemplate(ctx context.Context, doctorID, id uuid.UUID) error {
	if err := s.repo.DeleteTemplate(ctx, doctorID, id); err != nil {
		return err
	}
	s.cache.InvalidateAll(ctx)
	s.refreshDoctor(doctorID)
	return nil
}

func (s *Service) ListTemplates(ctx context.Context, doctorID uuid.UUID) ([]*WeeklyTemplate, error) {
	if _, err := s.repo.GetDoctor(ctx, doctorID); err != nil {
		return nil, err
	}
	return s.repo.ListTemplates(ctx, doctorID)
}

// -- Exceptions --

// SetException creates or replaces the exception for (doctor, date).
func (s *Service) SetException(ctx context.Context, e *Exception) error {
	if err := e.Validate(); err != nil {
		return err
	}
	if err := s.repo.UpsertException(ctx, e); err != nil {
		return err
	}
	s.cache.Invalidate(ctx, e.DoctorID, e.Date)
	s.refreshCell(e.DoctorID, e.Date)
	return nil
}

func (s *Service) DeleteException(ctx context.Context, doctorID uuid.UUID, date string) error {
	if err := s.repo.DeleteException(ctx, doctorID, date); err != nil {
		return err
	}
	s.cache.Invalidate(ctx, doctorID, date)
	s.refreshCell(doctorID, date)
	return nil
}

func (s *Service) ListExceptions(ctx context.Context, doctorID uuid.UUID, start, end string) ([]*Exception, error) {
	return s.repo.ListExceptions(ctx, &doctorID, start, end)
}

func (s *Service) refreshDoctor(doctorID uuid.UUID) {
	if s.summaries == nil {
		return
	}
	s.tasks.Submit(worker.Task{
		Name: "summary.rebuild_doctor",
		Run: func(ctx context.Context) error {
			return s.summaries.RebuildDoctor(ctx, doctorID)
		},
	})
}

func (s *Service) refreshCell(doctorID uuid.UUID, date string) {
	if s.summaries == nil {
		return
	}
	s.tasks.Submit(worker.Task{
		Name: "summary.rebuild_one",
		Run: func(ctx context.Context) error {
			return s.summaries.RebuildOne(ctx, doctorID, date)
		},
	})
}
