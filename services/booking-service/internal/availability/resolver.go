package availability

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/md-rashed-zaman/carebook/libs/domain"
)

const (
	DefaultDuration = 30 * time.Minute
	DefaultHorizon  = 90 * 24 * time.Hour
)

// Schedule is what the resolver needs to know about a provider.
type Schedule struct {
	ProviderID string
	Location   *time.Location
	Hours      domain.OperatingHours
	Services   []domain.Service
}

// Directory returns a provider's schedule, or a not_found error for unknown providers.
type Directory interface {
	Schedule(ctx context.Context, providerID string) (Schedule, error)
}

// Bookings lists the windows held by blocking appointments of a provider
// that intersect [start, end).
type Bookings interface {
	BusyIntervals(ctx context.Context, providerID string, start, end time.Time) ([]Interval, error)
}

type Query struct {
	ProviderID string
	Date       string
	ServiceIDs []string
}

type Resolver struct {
	directory Directory
	bookings  Bookings
	policy    StepPolicy
	horizon   time.Duration
	now       func() time.Time
}

type Option func(*Resolver)

func WithStepPolicy(p StepPolicy) Option { return func(r *Resolver) { r.policy = p } }

// WithHorizon limits how far ahead a date may be booked. Non-positive values keep the default.
func WithHorizon(d time.Duration) Option {
	return func(r *Resolver) {
		if d > 0 {
			r.horizon = d
		}
	}
}

func WithClock(now func() time.Time) Option { return func(r *Resolver) { r.now = now } }

func NewResolver(directory Directory, bookings Bookings, opts ...Option) *Resolver {
	r := &Resolver{
		directory: directory,
		bookings:  bookings,
		horizon:   DefaultHorizon,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

var tracer = otel.Tracer("booking-service/availability")

// Resolve lists the bookable slots for q. A closed day or a fully booked day
// yields an empty, non-nil slice.
func (r *Resolver) Resolve(ctx context.Context, q Query) ([]domain.Slot, error) {
	ctx, span := tracer.Start(ctx, "availability.Resolve")
	defer span.End()
	span.SetAttributes(
		attribute.String("provider.id", q.ProviderID),
		attribute.String("appointment.date", q.Date),
		attribute.Int("services.count", len(q.ServiceIDs)),
	)

	plan, err := r.plan(ctx, q)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("slots.count", len(plan.slots)))
	return plan.slots, nil
}

// Validate checks that start-end is still one of the slots Resolve would
// offer for q and returns the absolute bounds. A window that is no longer
// offered is a slot_unavailable conflict.
func (r *Resolver) Validate(ctx context.Context, q Query, startClock, endClock string) (Interval, error) {
	plan, err := r.plan(ctx, q)
	if err != nil {
		return Interval{}, err
	}
	want := domain.Slot{StartTime: startClock, EndTime: endClock}
	start, end, err := want.Bounds(plan.date)
	if err != nil {
		return Interval{}, err
	}
	if end.Sub(start) != plan.duration {
		return Interval{}, domain.FieldError("end_time", fmt.Sprintf("selected services take %d minutes", int(plan.duration.Minutes())))
	}
	for _, s := range plan.slots {
		if s.StartTime == want.StartTime && s.EndTime == want.EndTime {
			return Interval{Start: start, End: end}, nil
		}
	}
	return Interval{}, domain.SlotUnavailable("the selected time is no longer available")
}

// Duration is the booking length for the given services of a schedule.
func Duration(s Schedule, serviceIDs []string) (time.Duration, []domain.Service, error) {
	if len(serviceIDs) == 0 {
		return DefaultDuration, nil, nil
	}
	var (
		total    time.Duration
		selected []domain.Service
		seen     = make(map[string]bool, len(serviceIDs))
	)
	for _, id := range serviceIDs {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		i := slices.IndexFunc(s.Services, func(svc domain.Service) bool { return svc.ID == id })
		if i < 0 {
			return 0, nil, domain.Validation("unknown_service", "unknown service", map[string][]string{
				"service_ids": {fmt.Sprintf("service %s is not offered by this provider", id)},
			})
		}
		selected = append(selected, s.Services[i])
		total += time.Duration(s.Services[i].DurationMinutes) * time.Minute
	}
	if total <= 0 {
		return DefaultDuration, selected, nil
	}
	return total, selected, nil
}

type plan struct {
	date     time.Time
	duration time.Duration
	slots    []domain.Slot
}

func (r *Resolver) plan(ctx context.Context, q Query) (plan, error) {
	if strings.TrimSpace(q.ProviderID) == "" {
		return plan{}, domain.FieldError("provider_id", "provider_id is required")
	}
	sched, err := r.directory.Schedule(ctx, q.ProviderID)
	if err != nil {
		return plan{}, err
	}
	loc := sched.Location
	if loc == nil {
		loc = time.UTC
	}
	date, err := domain.ParseDate(q.Date, loc)
	if err != nil {
		return plan{}, err
	}

	now := r.now().In(loc)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	if date.Before(today) {
		return plan{}, domain.FieldError("date", "date is in the past")
	}
	if date.After(today.AddDate(0, 0, int(r.horizon.Hours()/24))) {
		return plan{}, domain.FieldError("date", fmt.Sprintf("date is more than %d days ahead", int(r.horizon.Hours()/24)))
	}

	duration, _, err := Duration(sched, q.ServiceIDs)
	if err != nil {
		return plan{}, err
	}

	p := plan{date: date, duration: duration, slots: []domain.Slot{}}
	start, end, open := sched.Hours.ForDate(date).Window(date)
	if !open {
		return p, nil
	}
	busy, err := r.bookings.BusyIntervals(ctx, q.ProviderID, start, end)
	if err != nil {
		return plan{}, fmt.Errorf("list busy intervals: %w", err)
	}
	for _, s := range AvailableSlots(start, end, duration, r.policy.Step(duration), busy, now) {
		p.slots = append(p.slots, domain.NewSlot(s, s.Add(duration)))
	}
	return p, nil
}
