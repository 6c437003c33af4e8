package draft

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/md-rashed-zaman/carebook/libs/domain"
	"github.com/md-rashed-zaman/carebook/services/portal-service/internal/apiclient"
	"github.com/md-rashed-zaman/carebook/services/portal-service/internal/querycache"
)

// ErrSuperseded is returned for a slot load whose inputs changed, or which a
// newer load replaced, before it completed.
var ErrSuperseded = errors.New("slot request superseded")

type Remote interface {
	AvailableSlots(ctx context.Context, providerID, date string, serviceIDs []string) ([]domain.Slot, error)
	CreateAppointment(ctx context.Context, req apiclient.CreateAppointmentRequest) (domain.Appointment, error)
}

type slotLoad struct {
	gen    uint64
	cancel context.CancelFunc
}

// Wizard drives a draft through the booking steps. It discards a chosen slot
// whenever the provider, date or service set changes.
type Wizard struct {
	store  Store
	remote Remote
	cache  *querycache.Cache
	logger *slog.Logger

	mu    sync.Mutex
	seq   uint64
	loads map[string]slotLoad
}

func NewWizard(store Store, remote Remote, cache *querycache.Cache, logger *slog.Logger) *Wizard {
	return &Wizard{
		store:  store,
		remote: remote,
		cache:  cache,
		logger: logger,
		loads:  map[string]slotLoad{},
	}
}

func (w *Wizard) Get(ctx context.Context, session string) (Draft, error) {
	return w.store.Get(ctx, session)
}

// Update merges the wizard inputs. Slot fields in p are ignored; use SelectSlot.
func (w *Wizard) Update(ctx context.Context, session string, p Partial) (Draft, error) {
	if err := validatePartial(p); err != nil {
		return Draft{}, err
	}
	p.SelectedSlot, p.SlotKey, p.ClearSlot = nil, nil, false

	cur, err := w.store.Get(ctx, session)
	if err != nil {
		return Draft{}, err
	}
	if cur.Merge(p).Fingerprint() != cur.Fingerprint() {
		p.ClearSlot = true
		w.supersede(session)
	}
	return w.store.SetData(ctx, session, p)
}

func validatePartial(p Partial) error {
	if p.SelectedDate != nil && *p.SelectedDate != "" {
		if _, err := domain.ParseDate(*p.SelectedDate, time.UTC); err != nil {
			return domain.FieldError("selected_date", "selected_date must be YYYY-MM-DD")
		}
	}
	if p.Notes != nil && len(*p.Notes) > 1000 {
		return domain.FieldError("notes", "notes must be at most 1000 characters")
	}
	return nil
}

func notReady(d Draft) error {
	fields := map[string][]string{}
	if d.ProviderID == "" {
		fields["provider_id"] = []string{"choose a provider"}
	}
	if d.SelectedDate == "" {
		fields["selected_date"] = []string{"choose a date"}
	}
	if len(d.SelectedServices) == 0 {
		fields["selected_services"] = []string{"choose at least one service"}
	}
	return domain.Validation("draft_incomplete", "provider, date and services must be selected first", fields)
}

// supersede invalidates any slot load in flight for session.
func (w *Wizard) supersede(session string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if l, ok := w.loads[session]; ok {
		l.cancel()
		delete(w.loads, session)
	}
}

// LoadSlots fetches slots for the current inputs. A load that is overtaken by a
// newer load or by a change of inputs returns ErrSuperseded.
func (w *Wizard) LoadSlots(ctx context.Context, session string) ([]domain.Slot, error) {
	ctx, span := otel.Tracer("portal-service/draft").Start(ctx, "draft.LoadSlots")
	defer span.End()

	d, err := w.store.Get(ctx, session)
	if err != nil {
		return nil, err
	}
	if !d.Ready() {
		return nil, notReady(d)
	}
	span.SetAttributes(attribute.String("provider_id", d.ProviderID), attribute.String("date", d.SelectedDate))

	w.mu.Lock()
	if l, ok := w.loads[session]; ok {
		l.cancel()
	}
	w.seq++
	gen := w.seq
	lctx, cancel := context.WithCancel(ctx)
	w.loads[session] = slotLoad{gen: gen, cancel: cancel}
	w.mu.Unlock()

	key := querycache.SlotsKey(d.ProviderID, d.SelectedDate, d.SelectedServices)
	slots, err := querycache.Fetch(lctx, w.cache, key, func(fctx context.Context) ([]domain.Slot, error) {
		return w.remote.AvailableSlots(fctx, d.ProviderID, d.SelectedDate, d.SelectedServices)
	})

	w.mu.Lock()
	l, ok := w.loads[session]
	current := ok && l.gen == gen
	if current {
		delete(w.loads, session)
	}
	w.mu.Unlock()
	cancel()

	if !current {
		return nil, ErrSuperseded
	}
	if err != nil {
		return nil, err
	}
	latest, err := w.store.Get(ctx, session)
	if err != nil {
		return nil, err
	}
	if latest.Fingerprint() != d.Fingerprint() {
		return nil, ErrSuperseded
	}
	return slots, nil
}

// SelectSlot records slot against the current inputs.
func (w *Wizard) SelectSlot(ctx context.Context, session string, slot domain.Slot) (Draft, error) {
	d, err := w.store.Get(ctx, session)
	if err != nil {
		return Draft{}, err
	}
	if !d.Ready() {
		return Draft{}, notReady(d)
	}
	date, err := domain.ParseDate(d.SelectedDate, time.UTC)
	if err != nil {
		return Draft{}, err
	}
	if _, _, err := slot.Bounds(date); err != nil {
		return Draft{}, err
	}
	if slot.Label == "" {
		start, end, _ := slot.Bounds(date)
		slot = domain.NewSlot(start, end)
	}
	key := d.Fingerprint()
	return w.store.SetData(ctx, session, Partial{SelectedSlot: &slot, SlotKey: &key})
}

// Submit books the selected slot. On success the draft is cleared and every
// cached view the booking affects is invalidated. A slot taken in the
// meantime is dropped from the draft so the patient picks another.
func (w *Wizard) Submit(ctx context.Context, session string) (domain.Appointment, error) {
	ctx, span := otel.Tracer("portal-service/draft").Start(ctx, "draft.Submit")
	defer span.End()

	d, err := w.store.Get(ctx, session)
	if err != nil {
		return domain.Appointment{}, err
	}
	if !d.Ready() {
		return domain.Appointment{}, notReady(d)
	}
	if d.SelectedSlot == nil {
		return domain.Appointment{}, domain.FieldError("selected_slot", "choose a time slot")
	}
	if !d.SlotValid() {
		if _, err := w.store.SetData(ctx, session, Partial{ClearSlot: true}); err != nil {
			return domain.Appointment{}, err
		}
		return domain.Appointment{}, domain.FieldError("selected_slot", "the booking changed, choose a time slot again")
	}

	appt, err := w.remote.CreateAppointment(ctx, apiclient.CreateAppointmentRequest{
		ProviderID: d.ProviderID,
		ServiceIDs: d.SelectedServices,
		Date:       d.SelectedDate,
		StartTime:  d.SelectedSlot.StartTime,
		EndTime:    d.SelectedSlot.EndTime,
		Notes:      d.Notes,
	})
	if err != nil {
		if domain.CodeOf(err) == domain.CodeSlotUnavailable {
			if _, serr := w.store.SetData(ctx, session, Partial{ClearSlot: true}); serr != nil {
				w.logger.Warn("drop taken slot failed", "session", session, "err", serr)
			}
			w.invalidate(ctx, querycache.SlotPrefix(d.ProviderID, d.SelectedDate))
		}
		return domain.Appointment{}, err
	}

	if err := w.store.Clear(ctx, session); err != nil {
		w.logger.Warn("clear draft failed", "session", session, "err", err)
	}
	w.invalidate(ctx, append(querycache.AppointmentPrefixes(d.ProviderID), querycache.SlotPrefix(d.ProviderID, d.SelectedDate))...)
	w.logger.Info("booking submitted", "session", session, "appointment_id", appt.ID, "provider_id", d.ProviderID)
	return appt, nil
}

// Abandon drops the draft and any slot load in flight.
func (w *Wizard) Abandon(ctx context.Context, session string) error {
	w.supersede(session)
	return w.store.Clear(ctx, session)
}

func (w *Wizard) invalidate(ctx context.Context, prefixes ...string) {
	if err := w.cache.Invalidate(ctx, prefixes...); err != nil {
		w.logger.Warn("cache invalidation failed", "prefixes", prefixes, "err", err)
	}
}
