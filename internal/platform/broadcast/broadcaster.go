package broadcast

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/niceverygood/maria-reservation-sub000/internal/platform/metrics"
)

const drainTimeout = 2 * time.Second

// Transport delivers an encoded event to the subscribers of any of topics.
type Transport interface {
	Deliver(ctx context.Context, topics []string, payload []byte) error
	Name() string
}

type Broadcaster struct {
	events     chan Event
	transports []Transport
	logger     zerolog.Logger
	metrics    *metrics.Collector
	now        func() time.Time
}

func NewBroadcaster(logger zerolog.Logger, m *metrics.Collector, buffer int, transports ...Transport) *Broadcaster {
	if buffer <= 0 {
		buffer = 256
	}
	return &Broadcaster{
		events:     make(chan Event, buffer),
		transports: transports,
		logger:     logger.With().Str("component", "broadcast").Logger(),
		metrics:    m,
		now:        time.Now,
	}
}

// Publish enqueues an event and returns immediately. When the buffer is full
// the event is dropped and counted.
func (b *Broadcaster) Publish(t EventType, ev Event) {
	ev.Type = t
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = b.now().UTC()
	}
	select {
	case b.events <- ev:
	default:
		b.metrics.RecordBroadcastDrop()
		b.logger.Warn().
			Str("type", string(t)).
			Str("doctor_id", ev.DoctorID).
			Str("booking_id", ev.BookingID).
			Msg("broadcast buffer full, event dropped")
	}
}

// Run delivers queued events until ctx is done, then makes a short attempt
// to flush what is still buffered.
func (b *Broadcaster) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			b.drain()
			return
		case ev := <-b.events:
			b.deliver(ctx, ev)
		}
	}
}

func (b *Broadcaster) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	for {
		select {
		case ev := <-b.events:
			b.deliver(ctx, ev)
		default:
			return
		}
	}
}

func (b *Broadcaster) deliver(ctx context.Context, ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		b.logger.Error().Err(err).Str("type", string(ev.Type)).Msg("encode event")
		return
	}
	topics := ev.Topics()
	for _, t := range b.transports {
		if err := t.Deliver(ctx, topics, payload); err != nil {
			b.logger.Warn().Err(err).
				Str("transport", t.Name()).
				Str("type", string(ev.Type)).
				Str("booking_id", ev.BookingID).
				Msg("broadcast delivery failed")
		}
	}
	b.metrics.RecordBroadcast(string(ev.Type))
}
