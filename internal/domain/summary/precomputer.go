package summary

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/niceverygood/maria-reservation-sub000/internal/domain/availability"
	"github.com/niceverygood/maria-reservation-sub000/internal/domain/booking"
	"github.com/niceverygood/maria-reservation-sub000/internal/domain/rules"
	"github.com/niceverygood/maria-reservation-sub000/internal/platform/metrics"
)

var tracer = otel.Tracer("github.com/niceverygood/maria-reservation-sub000/internal/domain/summary")

type RuleSource interface {
	GetDoctor(ctx context.Context, id uuid.UUID) (*rules.Doctor, error)
	ListDoctors(ctx context.Context, activeOnly bool) ([]*rules.Doctor, error)
	ListTemplates(ctx context.Context, doctorID uuid.UUID) ([]*rules.WeeklyTemplate, error)
	ListAllTemplates(ctx context.Context) ([]*rules.WeeklyTemplate, error)
	ListExceptions(ctx context.Context, doctorID *uuid.UUID, start, end string) ([]*rules.Exception, error)
}

type BookingSource interface {
	ActiveInRange(ctx context.Context, doctorID *uuid.UUID, start, end string) ([]*booking.Appointment, error)
	CountByStatus(ctx context.Context, doctorID *uuid.UUID, start, end string) (map[string]map[booking.Status]int, error)
}

// Clock supplies the same now, timezone and lead time the read path uses.
type Clock interface {
	Now() time.Time
	Location() *time.Location
	LeadTime() time.Duration
}

type Option func(*Precomputer)

func WithMetrics(m *metrics.Collector) Option {
	return func(p *Precomputer) { p.metrics = m }
}

// WithHorizon sets how many days RebuildDoctor covers.
func WithHorizon(days int) Option {
	return func(p *Precomputer) {
		if days > 0 {
			p.horizon = days
		}
	}
}

type Precomputer struct {
	repo     Repository
	rules    RuleSource
	bookings BookingSource
	clock    Clock
	metrics  *metrics.Collector
	horizon  int
	logger   zerolog.Logger
}

func NewPrecomputer(repo Repository, rs RuleSource, bs BookingSource, clock Clock, logger zerolog.Logger, opts ...Option) *Precomputer {
	p := &Precomputer{
		repo:     repo,
		rules:    rs,
		bookings: bs,
		clock:    clock,
		horizon:  28,
		logger:   logger.With().Str("component", "summary").Logger(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *Precomputer) today() time.Time {
	now := p.clock.Now().In(p.clock.Location())
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}

func (p *Precomputer) days(from time.Time, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = from.AddDate(0, 0, i).Format(rules.DateLayout)
	}
	return out
}

// RebuildHorizon recomputes every active doctor for today and the next
// days-1 dates.
func (p *Precomputer) RebuildHorizon(ctx context.Context, days int) (Result, error) {
	if days <= 0 {
		return Result{}, fmt.Errorf("%w: days must be positive", ErrInvalidRange)
	}
	return p.rebuild(ctx, "horizon", nil, p.days(p.today(), days))
}

// RebuildDoctor recomputes one doctor across the configured horizon.
func (p *Precomputer) RebuildDoctor(ctx context.Context, doctorID uuid.UUID) error {
	_, err := p.rebuild(ctx, "doctor", &doctorID, p.days(p.today(), p.horizon))
	return err
}

// RebuildOne recomputes a single (doctor, date) cell.
func (p *Precomputer) RebuildOne(ctx context.Context, doctorID uuid.UUID, date string) error {
	if _, err := rules.ParseDate(date, time.UTC); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRange, err)
	}
	_, err := p.rebuild(ctx, "one", &doctorID, []string{date})
	return err
}

// Cleanup deletes summaries for dates before yesterday.
func (p *Precomputer) Cleanup(ctx context.Context) (int64, error) {
	cutoff := p.today().AddDate(0, 0, -1).Format(rules.DateLayout)
	n, err := p.repo.DeleteBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	p.logger.Info().Int64("deleted", n).Str("before", cutoff).Msg("summary cleanup")
	return n, nil
}

func (p *Precomputer) rebuild(ctx context.Context, mode string, doctorID *uuid.UUID, days []string) (res Result, err error) {
	ctx, span := tracer.Start(ctx, "summary.rebuild")
	span.SetAttributes(attribute.String("mode", mode), attribute.Int("days", len(days)))
	started := time.Now()
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	snap, err := p.load(ctx, doctorID, days[0], days[len(days)-1])
	if err != nil {
		return Result{}, err
	}
	rows, problems := p.compute(snap, days)
	if err := p.repo.Upsert(ctx, rows); err != nil {
		return Result{}, err
	}

	if p.metrics != nil {
		p.metrics.RecordSummaryRebuild(mode, time.Since(started), len(rows))
	}
	for _, msg := range problems {
		p.logger.Warn().Str("mode", mode).Msg(msg)
	}
	span.SetAttributes(attribute.Int("cells", len(rows)))
	return Result{Updated: len(rows), Errors: problems}, nil
}

type snapshot struct {
	readAt     time.Time
	doctors    []*rules.Doctor
	templates  map[uuid.UUID][]*rules.WeeklyTemplate
	exceptions map[cellKey]*rules.Exception
	booked     map[cellKey][]string
}

// doctors lists the active doctors, or the one doctor asked for whatever
// its state.
func (p *Precomputer) doctors(ctx context.Context, doctorID *uuid.UUID) ([]*rules.Doctor, error) {
	if doctorID == nil {
		return p.rules.ListDoctors(ctx, true)
	}
	d, err := p.rules.GetDoctor(ctx, *doctorID)
	if errors.Is(err, rules.ErrNotFound) {
		return nil, ErrDoctorNotFound
	}
	if err != nil {
		return nil, err
	}
	return []*rules.Doctor{d}, nil
}

// load reads doctors, templates, exceptions and active bookings for the
// range concurrently.
func (p *Precomputer) load(ctx context.Context, doctorID *uuid.UUID, start, end string) (*snapshot, error) {
	// Taken before any read so a slower rebuild cannot stamp its rows as
	// newer than one that read later.
	readAt := p.clock.Now()
	var (
		doctors    []*rules.Doctor
		templates  []*rules.WeeklyTemplate
		exceptions []*rules.Exception
		appts      []*booking.Appointment
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		doctors, err = p.doctors(gctx, doctorID)
		return err
	})
	g.Go(func() error {
		var err error
		if doctorID == nil {
			templates, err = p.rules.ListAllTemplates(gctx)
		} else {
			templates, err = p.rules.ListTemplates(gctx, *doctorID)
		}
		return err
	})
	g.Go(func() error {
		var err error
		exceptions, err = p.rules.ListExceptions(gctx, doctorID, start, end)
		return err
	})
	g.Go(func() error {
		var err error
		appts, err = p.bookings.ActiveInRange(gctx, doctorID, start, end)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	snap := &snapshot{
		readAt:     readAt,
		doctors:    doctors,
		templates:  make(map[uuid.UUID][]*rules.WeeklyTemplate),
		exceptions: make(map[cellKey]*rules.Exception, len(exceptions)),
		booked:     make(map[cellKey][]string),
	}
	for _, t := range templates {
		snap.templates[t.DoctorID] = append(snap.templates[t.DoctorID], t)
	}
	for _, e := range exceptions {
		snap.exceptions[cellKey{e.DoctorID, e.Date}] = e
	}
	for _, a := range appts {
		k := cellKey{a.DoctorID, a.Date}
		snap.booked[k] = append(snap.booked[k], a.Time)
	}
	return snap, nil
}

// compute evaluates every (doctor, date) cell of the snapshot. Malformed rule
// rows are reported and otherwise behave as they do on the read path.
func (p *Precomputer) compute(snap *snapshot, days []string) ([]DailySlotSummary, []string) {
	now := snap.readAt
	var problems []string
	for _, d := range snap.doctors {
		for _, t := range snap.templates[d.ID] {
			tc := *t
			if err := tc.Validate(); err != nil {
				problems = append(problems, fmt.Sprintf("template %s of doctor %s: %v", t.ID, d.ID, err))
			}
		}
	}

	rows := make([]DailySlotSummary, 0, len(snap.doctors)*len(days))
	for _, d := range snap.doctors {
		for _, date := range days {
			k := cellKey{d.ID, date}
			exc := snap.exceptions[k]
			if exc != nil {
				ec := *exc
				if err := ec.Validate(); err != nil {
					problems = append(problems, fmt.Sprintf("exception %s on %s: %v", d.ID, date, err))
				}
			}
			booked := snap.booked[k]
			row := DailySlotSummary{
				DoctorID:   d.ID,
				Date:       date,
				IsOff:      !d.Active || (exc != nil && exc.Type == rules.ExceptionOff),
				ComputedAt: now,
			}
			if d.Active {
				slots := availability.ComputeSlots(availability.Input{
					DoctorID:    d.ID,
					Date:        date,
					Templates:   snap.templates[d.ID],
					Exception:   exc,
					Booked:      booked,
					BookedCount: len(booked),
					Now:         now,
					LeadTime:    p.clock.LeadTime(),
					Location:    p.clock.Location(),
				})
				row.TotalSlots, row.AvailableSlots, row.BookedSlots = availability.Count(slots, booked)
			}
			rows = append(rows, row)
		}
	}
	sort.Strings(problems)
	return rows, problems
}

// CalendarCounts aggregates slot counts per date. Stored summaries are used
// where present; today and missing cells are computed live and written back.
func (p *Precomputer) CalendarCounts(ctx context.Context, q CalendarQuery) (map[string]DayCounts, error) {
	days, err := rules.DateRange(q.Start, q.End)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRange, err)
	}
	if len(days) == 0 {
		return nil, fmt.Errorf("%w: start is after end", ErrInvalidRange)
	}
	if len(days) > MaxCalendarDays {
		return nil, fmt.Errorf("%w: at most %d days", ErrInvalidRange, MaxCalendarDays)
	}

	var (
		stored   []DailySlotSummary
		byStatus map[string]map[booking.Status]int
		doctors  []*rules.Doctor
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		stored, err = p.repo.List(gctx, q.DoctorID, q.Start, q.End)
		return err
	})
	g.Go(func() error {
		var err error
		byStatus, err = p.bookings.CountByStatus(gctx, q.DoctorID, q.Start, q.End)
		return err
	})
	g.Go(func() error {
		var err error
		doctors, err = p.doctors(gctx, q.DoctorID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	have := make(map[cellKey]DailySlotSummary, len(stored))
	for _, s := range stored {
		have[cellKey{s.DoctorID, s.Date}] = s
	}
	today := p.today().Format(rules.DateLayout)

	var live []string
	for _, date := range days {
		if date == today {
			live = append(live, date)
			continue
		}
		for _, d := range doctors {
			if _, ok := have[cellKey{d.ID, date}]; !ok {
				live = append(live, date)
				break
			}
		}
	}
	// Only the span of live dates is read from the rule and booking stores.
	if len(live) > 0 {
		snap, err := p.load(ctx, q.DoctorID, live[0], live[len(live)-1])
		if err != nil {
			return nil, err
		}
		rows, _ := p.compute(snap, live)
		for _, r := range rows {
			have[cellKey{r.DoctorID, r.Date}] = r
		}
		if err := p.repo.Upsert(ctx, rows); err != nil {
			p.logger.Warn().Err(err).Msg("write back live summaries")
		}
	}

	out := make(map[string]DayCounts, len(days))
	for _, date := range days {
		dc := DayCounts{ByStatus: make(map[string]int)}
		for _, d := range doctors {
			s := have[cellKey{d.ID, date}]
			dc.Total += s.TotalSlots
			dc.Available += s.AvailableSlots
		}
		for st, n := range byStatus[date] {
			dc.ByStatus[string(st)] = n
		}
		out[date] = dc
	}
	return out, nil
}

// Schedule runs RebuildHorizon followed by Cleanup every interval until ctx
// is done. The first run starts immediately.
func (p *Precomputer) Schedule(ctx context.Context, interval time.Duration, days int) {
	if interval <= 0 {
		return
	}
	run := func() {
		res, err := p.RebuildHorizon(ctx, days)
		if err != nil {
			p.logger.Error().Err(err).Msg("scheduled summary rebuild failed")
			return
		}
		p.logger.Info().Int("updated", res.Updated).Int("errors", len(res.Errors)).Msg("scheduled summary rebuild")
		if _, err := p.Cleanup(ctx); err != nil {
			p.logger.Error().Err(err).Msg("scheduled summary cleanup failed")
		}
	}

	run()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			run()
		}
	}
}
