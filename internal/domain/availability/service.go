package availability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/niceverygood/maria-reservation-sub000/internal/domain/rules"
)

var (
	ErrDoctorNotFound = errors.New("doctor not found")
	ErrInvalidDate    = errors.New("invalid date")
)

// maxLookahead bounds NextAvailable scans.
const maxLookahead = 90

// maxFillAttempts bounds recomputation when invalidations keep landing
// while a fill is in flight.
const maxFillAttempts = 3

// RuleReader is the subset of the Rule Store the read path needs.
type RuleReader interface {
	GetDoctor(ctx context.Context, id uuid.UUID) (*rules.Doctor, error)
	ListTemplates(ctx context.Context, doctorID uuid.UUID) ([]*rules.WeeklyTemplate, error)
	GetException(ctx context.Context, doctorID uuid.UUID, date string) (*rules.Exception, error)
}

// BookingReader lists the times of active bookings for one cell. It must
// honour a transaction carried in ctx.
type BookingReader interface {
	ActiveTimes(ctx context.Context, doctorID uuid.UUID, date string) ([]string, error)
}

type Service struct {
	rules    RuleReader
	bookings BookingReader
	cache    *Cache
	group    singleflight.Group
	leadTime time.Duration
	loc      *time.Location
	now      func() time.Time
	logger   zerolog.Logger
}

type ServiceOption func(*Service)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

func NewService(rr RuleReader, br BookingReader, c *Cache, leadTime time.Duration, loc *time.Location, logger zerolog.Logger, opts ...ServiceOption) *Service {
	if loc == nil {
		loc = time.UTC
	}
	s := &Service{
		rules:    rr,
		bookings: br,
		cache:    c,
		leadTime: leadTime,
		loc:      loc,
		now:      time.Now,
		logger:   logger.With().Str("component", "availability").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Now is the clock shared with everything that evaluates slots.
func (s *Service) Now() time.Time { return s.now() }

func (s *Service) Location() *time.Location { return s.loc }

func (s *Service) LeadTime() time.Duration { return s.leadTime }

// Today is the current date in the clinic's timezone.
func (s *Service) Today() string {
	return s.now().In(s.loc).Format(rules.DateLayout)
}

// Input assembles the slot computer input for one cell, reading the stores
// through ctx.
func (s *Service) Input(ctx context.Context, doctorID uuid.UUID, date string) (Input, error) {
	templates, err := s.rules.ListTemplates(ctx, doctorID)
	if err != nil {
		return Input{}, fmt.Errorf("load templates: %w", err)
	}
	exc, err := s.rules.GetException(ctx, doctorID, date)
	if err != nil {
		return Input{}, fmt.Errorf("load exception: %w", err)
	}
	booked, err := s.bookings.ActiveTimes(ctx, doctorID, date)
	if err != nil {
		return Input{}, fmt.Errorf("load bookings: %w", err)
	}
	return Input{
		DoctorID:    doctorID,
		Date:        date,
		Templates:   templates,
		Exception:   exc,
		Booked:      booked,
		BookedCount: len(booked),
		Now:         s.now(),
		LeadTime:    s.leadTime,
		Location:    s.loc,
	}, nil
}

// Compute evaluates one cell without the cache. The booking coordinator
// calls it inside its transaction.
func (s *Service) Compute(ctx context.Context, doctorID uuid.UUID, date string) ([]Slot, error) {
	in, err := s.Input(ctx, doctorID, date)
	if err != nil {
		return nil, err
	}
	return ComputeSlots(in), nil
}

// GetSlots is the slot lookup read path. An inactive doctor has no slots.
func (s *Service) GetSlots(ctx context.Context, doctorID uuid.UUID, date string) ([]Slot, error) {
	if _, err := rules.ParseDate(date, s.loc); err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDate, date)
	}
	doc, err := s.rules.GetDoctor(ctx, doctorID)
	if errors.Is(err, rules.ErrNotFound) {
		return nil, ErrDoctorNotFound
	}
	if err != nil {
		return nil, err
	}
	if !doc.Active {
		return []Slot{}, nil
	}

	if slots, ok := s.cache.Get(ctx, doctorID, date); ok {
		return ApplyCutoff(slots, date, s.now(), s.leadTime, s.loc), nil
	}

	// Concurrent misses for one key share a single computation. A caller
	// may join after an invalidation, so a fill the cache rejects as stale
	// is recomputed rather than handed out.
	v, err, _ := s.group.Do(cacheKey(doctorID, date), func() (interface{}, error) {
		fillCtx := context.WithoutCancel(ctx)
		var slots []Slot
		for attempt := 1; ; attempt++ {
			token := s.cache.Token()
			computed, err := s.Compute(fillCtx, doctorID, date)
			if err != nil {
				return nil, err
			}
			slots = computed
			if s.cache.Put(fillCtx, doctorID, date, slots, token) || attempt == maxFillAttempts {
				break
			}
			s.logger.Debug().Str("doctor_id", doctorID.String()).Str("date", date).Int("attempt", attempt).
				Msg("slot fill invalidated in flight, recomputing")
		}
		return slots, nil
	})
	if err != nil {
		return nil, err
	}
	return ApplyCutoff(v.([]Slot), date, s.now(), s.leadTime, s.loc), nil
}

// NextAvailable scans forward from date for the first bookable slot.
func (s *Service) NextAvailable(ctx context.Context, doctorID uuid.UUID, from string, days int) (date, t string, found bool, err error) {
	start, err := rules.ParseDate(from, s.loc)
	if err != nil {
		return "", "", false, fmt.Errorf("%w: %q", ErrInvalidDate, from)
	}
	if days <= 0 || days > maxLookahead {
		days = maxLookahead
	}
	for i := 0; i < days; i++ {
		d := start.AddDate(0, 0, i).Format(rules.DateLayout)
		slots, err := s.GetSlots(ctx, doctorID, d)
		if err != nil {
			return "", "", false, err
		}
		if t, ok := FirstAvailable(slots); ok {
			return d, t, true, nil
		}
	}
	return "", "", false, nil
}
