package summary

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/niceverygood/maria-reservation-sub000/internal/platform/db"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const upsertSQL = `
	INSERT INTO daily_slot_summary
		(doctor_id, summary_date, total_slots, available_slots, booked_slots, is_off, computed_at)
	VALUES ($1, $2::date, $3, $4, $5, $6, $7)
	ON CONFLICT (doctor_id, summary_date) DO UPDATE SET
		total_slots = EXCLUDED.total_slots,
		available_slots = EXCLUDED.available_slots,
		booked_slots = EXCLUDED.booked_slots,
		is_off = EXCLUDED.is_off,
		computed_at = EXCLUDED.computed_at
	WHERE daily_slot_summary.computed_at <= EXCLUDED.computed_at`

func (r *repoPG) Upsert(ctx context.Context, rows []DailySlotSummary) error {
	if len(rows) == 0 {
		return nil
	}
	b := &pgx.Batch{}
	for _, s := range rows {
		b.Queue(upsertSQL, s.DoctorID, s.Date, s.TotalSlots, s.AvailableSlots, s.BookedSlots, s.IsOff, s.ComputedAt)
	}
	br := r.conn(ctx).SendBatch(ctx, b)
	defer br.Close()
	for i := range rows {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("upsert summary %s/%s: %w", rows[i].DoctorID, rows[i].Date, err)
		}
	}
	return br.Close()
}

func (r *repoPG) List(ctx context.Context, doctorID *uuid.UUID, start, end string) ([]DailySlotSummary, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT doctor_id, summary_date::text, total_slots, available_slots, booked_slots, is_off, computed_at
		FROM daily_slot_summary
		WHERE summary_date BETWEEN $1::date AND $2::date
		  AND ($3::uuid IS NULL OR doctor_id = $3)
		ORDER BY summary_date, doctor_id`, start, end, doctorID)
	if err != nil {
		return nil, fmt.Errorf("list summaries: %w", err)
	}
	defer rows.Close()

	var items []DailySlotSummary
	for rows.Next() {
		var s DailySlotSummary
		if err := rows.Scan(&s.DoctorID, &s.Date, &s.TotalSlots, &s.AvailableSlots,
			&s.BookedSlots, &s.IsOff, &s.ComputedAt); err != nil {
			return nil, err
		}
		items = append(items, s)
	}
	return items, rows.Err()
}

func (r *repoPG) DeleteBefore(ctx context.Context, date string) (int64, error) {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM daily_slot_summary WHERE summary_date < $1::date`, date)
	if err != nil {
		return 0, fmt.Errorf("delete summaries: %w", err)
	}
	return tag.RowsAffected(), nil
}
