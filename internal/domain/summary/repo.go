package summary

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	// Upsert writes all rows in one round trip. A row whose ComputedAt is
	// older than the stored one is skipped.
	Upsert(ctx context.Context, rows []DailySlotSummary) error
	List(ctx context.Context, doctorID *uuid.UUID, start, end string) ([]DailySlotSummary, error)
	DeleteBefore(ctx context.Context, date string) (int64, error)
}
