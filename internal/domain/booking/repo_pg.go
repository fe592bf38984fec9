package booking

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/niceverygood/maria-reservation-sub000/internal/platform/db"
)

// Constraint names from migrations/001_scheduling.sql.
const (
	constraintActiveSlot    = "appointment_active_slot_uniq"
	constraintPatientActive = "appointment_patient_active_date_uniq"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

func (r *repoPG) Transact(ctx context.Context, fn func(ctx context.Context) error) error {
	return db.WithTx(ctx, r.pool, fn)
}

const apptCols = `id, doctor_id, patient_ref, appt_date::text, appt_time, status,
	reserved_at, updated_at, cancelled_by, rescheduled_from`

func scanAppt(row pgx.Row) (*Appointment, error) {
	var (
		a           Appointment
		status      string
		cancelledBy *string
	)
	err := row.Scan(&a.ID, &a.DoctorID, &a.PatientRef, &a.Date, &a.Time, &status,
		&a.ReservedAt, &a.UpdatedAt, &cancelledBy, &a.RescheduledFrom)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	a.Status = Status(status)
	if cancelledBy != nil {
		a.CancelledBy = *cancelledBy
	}
	return &a, nil
}

func collectAppts(rows pgx.Rows) ([]*Appointment, error) {
	defer rows.Close()
	var items []*Appointment
	for rows.Next() {
		a, err := scanAppt(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

func statusStrings(ss []Status) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = string(s)
	}
	return out
}

func (r *repoPG) Insert(ctx context.Context, a *Appointment) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO appointment (id, doctor_id, patient_ref, appt_date, appt_time, status, rescheduled_from)
		VALUES ($1, $2, $3, $4::date, $5, $6, $7)
		RETURNING reserved_at, updated_at`,
		a.ID, a.DoctorID, a.PatientRef, a.Date, a.Time, string(a.Status), a.RescheduledFrom,
	).Scan(&a.ReservedAt, &a.UpdatedAt)
	if name, ok := db.UniqueViolation(err); ok {
		switch name {
		case constraintActiveSlot:
			return ErrSlotTaken
		case constraintPatientActive:
			return ErrDuplicateActiveBooking
		}
	}
	if err != nil {
		return fmt.Errorf("insert appointment: %w", err)
	}
	return nil
}

func (r *repoPG) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return scanAppt(r.conn(ctx).QueryRow(ctx, `SELECT `+apptCols+` FROM appointment WHERE id = $1`, id))
}

func (r *repoPG) ListByPatient(ctx context.Context, patientRef string) ([]*Appointment, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+apptCols+` FROM appointment
		WHERE patient_ref = $1 ORDER BY appt_date DESC, appt_time DESC`, patientRef)
	if err != nil {
		return nil, fmt.Errorf("list appointments by patient: %w", err)
	}
	return collectAppts(rows)
}

func (r *repoPG) ActiveTimes(ctx context.Context, doctorID uuid.UUID, date string) ([]string, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT appt_time FROM appointment
		WHERE doctor_id = $1 AND appt_date = $2::date AND status = ANY($3)
		ORDER BY appt_time`, doctorID, date, statusStrings(ActiveStatuses))
	if err != nil {
		return nil, fmt.Errorf("active times: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (r *repoPG) HasActiveForPatient(ctx context.Context, patientRef, date string, exclude uuid.UUID) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx, `SELECT EXISTS (
		SELECT 1 FROM appointment
		WHERE patient_ref = $1 AND appt_date = $2::date AND status = ANY($3) AND id <> $4)`,
		patientRef, date, statusStrings(ActiveStatuses), exclude).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("patient active check: %w", err)
	}
	return exists, nil
}

func (r *repoPG) TransitionStatus(ctx context.Context, id uuid.UUID, from []Status, to Status, actor string) (*Appointment, error) {
	var cancelledBy *string
	if to == StatusCancelled && actor != "" {
		cancelledBy = &actor
	}
	a, err := scanAppt(r.conn(ctx).QueryRow(ctx, `
		UPDATE appointment
		SET status = $3, updated_at = NOW(), cancelled_by = COALESCE($4, cancelled_by)
		WHERE id = $1 AND status = ANY($2)
		RETURNING `+apptCols, id, statusStrings(from), string(to), cancelledBy))
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("transition appointment: %w", err)
	}
	if _, err := r.Get(ctx, id); err != nil {
		return nil, err
	}
	return nil, errStatusMismatch
}

func (r *repoPG) ActiveInRange(ctx context.Context, doctorID *uuid.UUID, start, end string) ([]*Appointment, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+apptCols+` FROM appointment
		WHERE appt_date BETWEEN $1::date AND $2::date
		  AND ($3::uuid IS NULL OR doctor_id = $3)
		  AND status = ANY($4)
		ORDER BY doctor_id, appt_date, appt_time`, start, end, doctorID, statusStrings(ActiveStatuses))
	if err != nil {
		return nil, fmt.Errorf("active appointments in range: %w", err)
	}
	return collectAppts(rows)
}

func (r *repoPG) CountByStatus(ctx context.Context, doctorID *uuid.UUID, start, end string) (map[string]map[Status]int, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT appt_date::text, status, COUNT(*) FROM appointment
		WHERE appt_date BETWEEN $1::date AND $2::date
		  AND ($3::uuid IS NULL OR doctor_id = $3)
		GROUP BY appt_date, status`, start, end, doctorID)
	if err != nil {
		return nil, fmt.Errorf("count appointments by status: %w", err)
	}
	defer rows.Close()

	out := make(map[string]map[Status]int)
	for rows.Next() {
		var (
			date, status string
			n            int
		)
		if err := rows.Scan(&date, &status, &n); err != nil {
			return nil, err
		}
		if out[date] == nil {
			out[date] = make(map[Status]int)
		}
		out[date][Status(status)] = n
	}
	return out, rows.Err()
}
