package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/niceverygood/maria-reservation-sub000/internal/domain/availability"
	"github.com/niceverygood/maria-reservation-sub000/internal/domain/rules"
	"github.com/niceverygood/maria-reservation-sub000/internal/platform/broadcast"
	"github.com/niceverygood/maria-reservation-sub000/internal/platform/db"
	"github.com/niceverygood/maria-reservation-sub000/internal/platform/metrics"
	"github.com/niceverygood/maria-reservation-sub000/internal/platform/worker"
)

var tracer = otel.Tracer("github.com/niceverygood/maria-reservation-sub000/internal/domain/booking")

// SlotComputer assembles the slot computer input for one cell. It must read
// through ctx so the check runs inside the booking transaction.
type SlotComputer interface {
	Input(ctx context.Context, doctorID uuid.UUID, date string) (availability.Input, error)
}

type DoctorReader interface {
	GetDoctor(ctx context.Context, id uuid.UUID) (*rules.Doctor, error)
}

type CacheInvalidator interface {
	Invalidate(ctx context.Context, doctorID uuid.UUID, date string)
}

type SummaryRefresher interface {
	RebuildOne(ctx context.Context, doctorID uuid.UUID, date string) error
}

type EventPublisher interface {
	Publish(t broadcast.EventType, ev broadcast.Event)
}

type Submitter interface {
	Submit(t worker.Task)
}

type Option func(*Coordinator)

// WithSummaries refreshes the daily summary of every touched cell through
// the task submitter after commit.
func WithSummaries(r SummaryRefresher, s Submitter) Option {
	return func(c *Coordinator) {
		c.summaries = r
		c.tasks = s
	}
}

func WithPublisher(p EventPublisher) Option {
	return func(c *Coordinator) { c.publisher = p }
}

func WithMetrics(m *metrics.Collector) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithInitialStatus sets the status of new bookings, BOOKED or PENDING.
func WithInitialStatus(s Status) Option {
	return func(c *Coordinator) {
		if s.Active() {
			c.initialStatus = s
		}
	}
}

// Coordinator turns one slot into a booking under concurrency. The store's
// uniqueness rule decides races; the slot pre-check only produces better
// errors.
type Coordinator struct {
	repo          Repository
	doctors       DoctorReader
	slots         SlotComputer
	cache         CacheInvalidator
	summaries     SummaryRefresher
	tasks         Submitter
	publisher     EventPublisher
	metrics       *metrics.Collector
	initialStatus Status
	logger        zerolog.Logger
}

func NewCoordinator(repo Repository, doctors DoctorReader, slots SlotComputer, cache CacheInvalidator, logger zerolog.Logger, opts ...Option) *Coordinator {
	c := &Coordinator{
		repo:          repo,
		doctors:       doctors,
		slots:         slots,
		cache:         cache,
		initialStatus: StatusBooked,
		logger:        logger.With().Str("component", "booking").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type cell struct {
	doctorID uuid.UUID
	date     string
}

// CreateBooking books req's slot for the patient.
func (c *Coordinator) CreateBooking(ctx context.Context, req CreateRequest) (*Appointment, error) {
	ctx, span := tracer.Start(ctx, "booking.create", trace.WithAttributes(
		attribute.String("doctor.id", req.DoctorID.String()),
		attribute.String("booking.date", req.Date),
		attribute.String("booking.time", req.Time),
	))
	defer span.End()

	appt, err := c.create(ctx, req)
	err = c.finish(span, "create", err)
	if err != nil {
		return nil, err
	}

	c.afterCommit(ctx, broadcast.EventNewBooking, appt, "", "", cell{appt.DoctorID, appt.Date})
	return appt, nil
}

func (c *Coordinator) create(ctx context.Context, req CreateRequest) (*Appointment, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	appt := &Appointment{
		DoctorID:   req.DoctorID,
		PatientRef: req.PatientRef,
		Date:       req.Date,
		Time:       req.Time,
		Status:     c.initialStatus,
	}
	err := c.repo.Transact(ctx, func(ctx context.Context) error {
		if err := c.checkDoctor(ctx, req.DoctorID); err != nil {
			return err
		}
		if err := c.checkSlot(ctx, req.DoctorID, req.Date, req.Time); err != nil {
			return err
		}
		if err := c.checkPatient(ctx, req.PatientRef, req.Date, uuid.Nil); err != nil {
			return err
		}
		return c.repo.Insert(ctx, appt)
	})
	if err != nil {
		return nil, err
	}
	return appt, nil
}

// CancelBooking cancels an active booking. Of two concurrent cancels one
// succeeds and the other gets ErrAlreadyTerminal.
func (c *Coordinator) CancelBooking(ctx context.Context, id uuid.UUID, actorRef string) (*Appointment, error) {
	ctx, span := tracer.Start(ctx, "booking.cancel", trace.WithAttributes(
		attribute.String("booking.id", id.String()),
	))
	defer span.End()

	appt, err := c.repo.TransitionStatus(ctx, id, ActiveStatuses, StatusCancelled, actorRef)
	if errors.Is(err, errStatusMismatch) {
		err = ErrAlreadyTerminal
	}
	if err = c.finish(span, "cancel", err); err != nil {
		return nil, err
	}

	c.afterCommit(ctx, broadcast.EventCancelled, appt, "", "", cell{appt.DoctorID, appt.Date})
	return appt, nil
}

// RescheduleBooking moves an active booking to a new slot in one store
// transaction: the old booking is cancelled and a new one inserted. On any
// failure the old booking is left untouched.
func (c *Coordinator) RescheduleBooking(ctx context.Context, oldID uuid.UUID, newDate, newTime, actorRef string) (*Appointment, error) {
	ctx, span := tracer.Start(ctx, "booking.reschedule", trace.WithAttributes(
		attribute.String("booking.id", oldID.String()),
		attribute.String("booking.date", newDate),
		attribute.String("booking.time", newTime),
	))
	defer span.End()

	old, appt, err := c.reschedule(ctx, oldID, newDate, newTime, actorRef)
	if err = c.finish(span, "reschedule", err); err != nil {
		return nil, err
	}

	c.afterCommit(ctx, broadcast.EventRescheduled, appt, old.Date, old.Time,
		cell{old.DoctorID, old.Date}, cell{appt.DoctorID, appt.Date})
	return appt, nil
}

func (c *Coordinator) reschedule(ctx context.Context, oldID uuid.UUID, newDate, newTime, actorRef string) (*Appointment, *Appointment, error) {
	if err := validateCell(newDate, newTime); err != nil {
		return nil, nil, err
	}
	var old, appt *Appointment
	err := c.repo.Transact(ctx, func(ctx context.Context) error {
		var err error
		old, err = c.repo.Get(ctx, oldID)
		if err != nil {
			return err
		}
		if !old.Status.Active() {
			return ErrAlreadyTerminal
		}
		if old.Date == newDate && old.Time == newTime {
			return fmt.Errorf("%w: booking is already at %s %s", ErrInvalidInput, newDate, newTime)
		}
		if err := c.checkDoctor(ctx, old.DoctorID); err != nil {
			return err
		}
		if _, err := c.repo.TransitionStatus(ctx, oldID, ActiveStatuses, StatusCancelled, actorRef); err != nil {
			if errors.Is(err, errStatusMismatch) {
				return ErrAlreadyTerminal
			}
			return err
		}
		if err := c.checkSlot(ctx, old.DoctorID, newDate, newTime); err != nil {
			return err
		}
		if err := c.checkPatient(ctx, old.PatientRef, newDate, oldID); err != nil {
			return err
		}
		movedFrom := oldID
		appt = &Appointment{
			DoctorID:        old.DoctorID,
			PatientRef:      old.PatientRef,
			Date:            newDate,
			Time:            newTime,
			Status:          old.Status,
			RescheduledFrom: &movedFrom,
		}
		return c.repo.Insert(ctx, appt)
	})
	if err != nil {
		return nil, nil, err
	}
	return old, appt, nil
}

// UpdateStatus applies an administrative status change such as confirming
// a pending booking or recording a no-show.
func (c *Coordinator) UpdateStatus(ctx context.Context, id uuid.UUID, to Status, actorRef string) (*Appointment, error) {
	ctx, span := tracer.Start(ctx, "booking.update_status", trace.WithAttributes(
		attribute.String("booking.id", id.String()),
		attribute.String("booking.status", string(to)),
	))
	defer span.End()

	prev, appt, err := c.updateStatus(ctx, id, to, actorRef)
	if err = c.finish(span, "update_status", err); err != nil {
		return nil, err
	}

	evType := broadcast.EventStatusChanged
	if to == StatusCancelled {
		evType = broadcast.EventCancelled
	}
	cells := []cell{{appt.DoctorID, appt.Date}}
	if prev.Active() == appt.Status.Active() {
		// The slot stays occupied; only the summary's status counts move.
		c.refreshSummaries(cells)
		c.publish(evType, appt, "", "")
		return appt, nil
	}
	c.afterCommit(ctx, evType, appt, "", "", cells...)
	return appt, nil
}

func (c *Coordinator) updateStatus(ctx context.Context, id uuid.UUID, to Status, actorRef string) (Status, *Appointment, error) {
	if !to.Valid() {
		return "", nil, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, to)
	}
	cur, err := c.repo.Get(ctx, id)
	if err != nil {
		return "", nil, err
	}
	if !cur.Status.Active() {
		return "", nil, ErrAlreadyTerminal
	}
	if !canTransition(cur.Status, to) {
		return "", nil, fmt.Errorf("%w: cannot move from %s to %s", ErrInvalidInput, cur.Status, to)
	}
	appt, err := c.repo.TransitionStatus(ctx, id, []Status{cur.Status}, to, actorRef)
	if errors.Is(err, errStatusMismatch) {
		// Someone else changed it first.
		latest, gerr := c.repo.Get(ctx, id)
		if gerr == nil && !latest.Status.Active() {
			return "", nil, ErrAlreadyTerminal
		}
		return "", nil, fmt.Errorf("%w: status changed concurrently, retry", ErrInvalidInput)
	}
	if err != nil {
		return "", nil, err
	}
	return cur.Status, appt, nil
}

func (c *Coordinator) GetBooking(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, err := c.repo.Get(ctx, id)
	return a, classify(err)
}

func (c *Coordinator) ListPatientBookings(ctx context.Context, patientRef string) ([]*Appointment, error) {
	patientRef = strings.TrimSpace(patientRef)
	if patientRef == "" {
		return nil, fmt.Errorf("%w: patient_ref is required", ErrInvalidInput)
	}
	items, err := c.repo.ListByPatient(ctx, patientRef)
	return items, classify(err)
}

// -- checks run inside the transaction --

func (c *Coordinator) checkDoctor(ctx context.Context, doctorID uuid.UUID) error {
	doc, err := c.doctors.GetDoctor(ctx, doctorID)
	if errors.Is(err, rules.ErrNotFound) {
		return ErrDoctorInactive
	}
	if err != nil {
		return err
	}
	if !doc.Active {
		return ErrDoctorInactive
	}
	return nil
}

func (c *Coordinator) checkSlot(ctx context.Context, doctorID uuid.UUID, date, t string) error {
	in, err := c.slots.Input(ctx, doctorID, date)
	if err != nil {
		return err
	}
	slot, ok := availability.Lookup(availability.ComputeSlots(in), t)
	if !ok {
		return fmt.Errorf("%w: %s %s is not on the schedule", ErrInvalidSlot, date, t)
	}
	if slot.Available {
		return nil
	}
	for _, booked := range in.Booked {
		if booked == t {
			return ErrSlotTaken
		}
	}
	return fmt.Errorf("%w: %s %s can no longer be booked", ErrInvalidSlot, date, t)
}

func (c *Coordinator) checkPatient(ctx context.Context, patientRef, date string, exclude uuid.UUID) error {
	dup, err := c.repo.HasActiveForPatient(ctx, patientRef, date, exclude)
	if err != nil {
		return err
	}
	if dup {
		return ErrDuplicateActiveBooking
	}
	return nil
}

// -- outcome and side effects --

// classify folds every failure that is not a domain error into
// ErrStoreUnavailable: all of them come from the stores the coordinator
// reads and writes. The cause stays in the chain.
func classify(err error) error {
	if err == nil || Code(err) != "INTERNAL" {
		return err
	}
	return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
}

func (c *Coordinator) finish(span trace.Span, op string, err error) error {
	err = classify(err)
	if err == nil {
		c.metrics.RecordBookingOutcome(op, "OK")
		span.SetStatus(otelcodes.Ok, "")
		return nil
	}
	code := Code(err)
	c.metrics.RecordBookingOutcome(op, code)
	span.SetAttributes(attribute.String("booking.result", code))
	if code == "INTERNAL" || code == "STORE_UNAVAILABLE" {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, code)
		c.logger.Error().Err(err).Str("operation", op).Bool("transient", db.IsTransient(err)).
			Msg("booking operation failed")
	}
	return err
}

// afterCommit runs once the store transaction has committed. Cache
// invalidation is synchronous so the caller's next read sees the change.
// Summary refresh and event publishing never fail the operation.
func (c *Coordinator) afterCommit(ctx context.Context, t broadcast.EventType, appt *Appointment, prevDate, prevTime string, cells ...cell) {
	ctx = context.WithoutCancel(ctx)
	for _, cl := range cells {
		c.cache.Invalidate(ctx, cl.doctorID, cl.date)
	}
	c.refreshSummaries(cells)
	c.publish(t, appt, prevDate, prevTime)
}

func (c *Coordinator) refreshSummaries(cells []cell) {
	if c.summaries == nil || c.tasks == nil {
		return
	}
	seen := make(map[cell]bool, len(cells))
	for _, cl := range cells {
		if seen[cl] {
			continue
		}
		seen[cl] = true
		cl := cl
		c.tasks.Submit(worker.Task{
			Name: "summary.rebuild_one",
			Run: func(ctx context.Context) error {
				return c.summaries.RebuildOne(ctx, cl.doctorID, cl.date)
			},
		})
	}
}

func (c *Coordinator) publish(t broadcast.EventType, appt *Appointment, prevDate, prevTime string) {
	if c.publisher == nil {
		return
	}
	c.publisher.Publish(t, broadcast.Event{
		DoctorID:     appt.DoctorID.String(),
		Date:         appt.Date,
		Time:         appt.Time,
		BookingID:    appt.ID.String(),
		Status:       string(appt.Status),
		PreviousDate: prevDate,
		PreviousTime: prevTime,
		OccurredAt:   time.Now().UTC(),
	})
}
