package rules

import (
	"context"

	"github.com/google/uuid"
)

// Repository is the Rule Store.
type Repository interface {
	CreateDoctor(ctx context.Context, d *Doctor) error
	GetDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error)
	ListDoctors(ctx context.Context, activeOnly bool) ([]*Doctor, error)
	SetDoctorActive(ctx context.Context, id uuid.UUID, active bool) error

	CreateTemplate(ctx context.Context, t *WeeklyTemplate) error
	DeleteTemplate(ctx context.Context, doctorID, id uuid.UUID) error
	ListTemplates(ctx context.Context, doctorID uuid.UUID) ([]*WeeklyTemplate, error)
	ListAllTemplates(ctx context.Context) ([]*WeeklyTemplate, error)

	// UpsertException replaces any exception already set for (doctor, date).
	UpsertException(ctx context.Context, e *Exception) error
	DeleteException(ctx context.Context, doctorID uuid.UUID, date string) error
	// GetException returns (nil, nil) when the date has no exception.
	GetException(ctx context.Context, doctorID uuid.UUID, date string) (*Exception, error)
	ListExceptions(ctx context.Context, doctorID *uuid.UUID, start, end string) ([]*Exception, error)
}
