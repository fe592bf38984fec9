package rules

import (
	"context"
	"errors"
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

// =========== Doctors ===========

const doctorCols = `id, name, active, created_at, updated_at`

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	if err := row.Scan(&d.ID, &d.Name, &d.Active, &d.CreatedAt, &d.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &d, nil
}

func (r *repoPG) CreateDoctor(ctx context.Context, d *Doctor) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO doctor (id, name, active) VALUES ($1, $2, $3)
		RETURNING created_at, updated_at`,
		d.ID, d.Name, d.Active).Scan(&d.CreatedAt, &d.UpdatedAt)
}

func (r *repoPG) GetDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	return scanDoctor(r.conn(ctx).QueryRow(ctx, `SELECT `+doctorCols+` FROM doctor WHERE id = $1`, id))
}

func (r *repoPG) ListDoctors(ctx context.Context, activeOnly bool) ([]*Doctor, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+doctorCols+` FROM doctor
		WHERE ($1::bool = FALSE OR active) ORDER BY name, id`, activeOnly)
	if err != nil {
		return nil, fmt.Errorf("list doctors: %w", err)
	}
	defer rows.Close()

	var items []*Doctor
	for rows.Next() {
		d, err := scanDoctor(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, d)
	}
	return items, rows.Err()
}

func (r *repoPG) SetDoctorActive(ctx context.Context, id uuid.UUID, active bool) error {
	tag, err := r.conn(ctx).Exec(ctx, `UPDATE doctor SET active = $2, updated_at = NOW() WHERE id = $1`, id, active)
	if err != nil {
		return fmt.Errorf("set doctor active: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// =========== Weekly templates ===========

const templateCols = `id, doctor_id, day_of_week, start_time, end_time, interval_minutes, daily_max, created_at`

func scanTemplate(row pgx.Row) (*WeeklyTemplate, error) {
	var t WeeklyTemplate
	err := row.Scan(&t.ID, &t.DoctorID, &t.DayOfWeek, &t.StartTime, &t.EndTime,
		&t.IntervalMinutes, &t.DailyMax, &t.CreatedAt)
	return &t, err
}

func collectTemplates(rows pgx.Rows) ([]*WeeklyTemplate, error) {
	defer rows.Close()
	var items []*WeeklyTemplate
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, t)
	}
	return items, rows.Err()
}

func (r *repoPG) CreateTemplate(ctx context.Context, t *WeeklyTemplate) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO weekly_template (id, doctor_id, day_of_week, start_time, end_time, interval_minutes, daily_max)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at`,
		t.ID, t.DoctorID, t.DayOfWeek, t.StartTime, t.EndTime, t.IntervalMinutes, t.DailyMax).Scan(&t.CreatedAt)
	if db.ForeignKeyViolation(err) {
		return ErrNotFound
	}
	return err
}

func (r *repoPG) DeleteTemplate(ctx context.Context, doctorID, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM weekly_template WHERE id = $1 AND doctor_id = $2`, id, doctorID)
	if err != nil {
		return fmt.Errorf("delete template: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) ListTemplates(ctx context.Context, doctorID uuid.UUID) ([]*WeeklyTemplate, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+templateCols+` FROM weekly_template
		WHERE doctor_id = $1 ORDER BY day_of_week, start_time`, doctorID)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	return collectTemplates(rows)
}

func (r *repoPG) ListAllTemplates(ctx context.Context) ([]*WeeklyTemplate, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+templateCols+` FROM weekly_template
		ORDER BY doctor_id, day_of_week, start_time`)
	if err != nil {
		return nil, fmt.Errorf("list all templates: %w", err)
	}
	return collectTemplates(rows)
}

// =========== Exceptions ===========

const exceptionCols = `id, doctor_id, exception_date::text, exception_type,
	custom_start, custom_end, custom_interval, created_at`

func scanException(row pgx.Row) (*Exception, error) {
	var (
		e          Exception
		typ        string
		start, end *string
		interval   *int
	)
	if err := row.Scan(&e.ID, &e.DoctorID, &e.Date, &typ, &start, &end, &interval, &e.CreatedAt); err != nil {
		return nil, err
	}
	e.Type = ExceptionType(typ)
	if start != nil {
		e.CustomStart = *start
	}
	if end != nil {
		e.CustomEnd = *end
	}
	if interval != nil {
		e.CustomInterval = *interval
	}
	return &e, nil
}

func nullable[T comparable](v T) *T {
	var zero T
	if v == zero {
		return nil
	}
	return &v
}

func (r *repoPG) UpsertException(ctx context.Context, e *Exception) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO schedule_exception (id, doctor_id, exception_date, exception_type,
			custom_start, custom_end, custom_interval)
		VALUES ($1, $2, $3::date, $4, $5, $6, $7)
		ON CONFLICT (doctor_id, exception_date) DO UPDATE SET
			exception_type = EXCLUDED.exception_type,
			custom_start = EXCLUDED.custom_start,
			custom_end = EXCLUDED.custom_end,
			custom_interval = EXCLUDED.custom_interval
		RETURNING id, created_at`,
		e.ID, e.DoctorID, e.Date, string(e.Type),
		nullable(e.CustomStart), nullable(e.CustomEnd), nullable(e.CustomInterval),
	).Scan(&e.ID, &e.CreatedAt)
	if db.ForeignKeyViolation(err) {
		return ErrNotFound
	}
	return err
}

func (r *repoPG) DeleteException(ctx context.Context, doctorID uuid.UUID, date string) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`DELETE FROM schedule_exception WHERE doctor_id = $1 AND exception_date = $2::date`, doctorID, date)
	if err != nil {
		return fmt.Errorf("delete exception: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) GetException(ctx context.Context, doctorID uuid.UUID, date string) (*Exception, error) {
	e, err := scanException(r.conn(ctx).QueryRow(ctx, `SELECT `+exceptionCols+` FROM schedule_exception
		WHERE doctor_id = $1 AND exception_date = $2::date`, doctorID, date))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return e, err
}

func (r *repoPG) ListExceptions(ctx context.Context, doctorID *uuid.UUID, start, end string) ([]*Exception, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+exceptionCols+` FROM schedule_exception
		WHERE exception_date BETWEEN $1::date AND $2::date
		  AND ($3::uuid IS NULL OR doctor_id = $3)
		ORDER BY doctor_id, exception_date`, start, end, doctorID)
	if err != nil {
		return nil, fmt.Errorf("list exceptions: %w", err)
	}
	defer rows.Close()

	var items []*Exception
	for rows.Next() {
		e, err := scanException(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, e)
	}
	return items, rows.Err()
}
