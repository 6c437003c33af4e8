package draft

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/md-rashed-zaman/carebook/libs/domain"
	"github.com/md-rashed-zaman/carebook/services/portal-service/internal/apiclient"
	"github.com/md-rashed-zaman/carebook/services/portal-service/internal/querycache"
)

type fakeRemote struct {
	mu        sync.Mutex
	slotCalls int
	slots     func(ctx context.Context, providerID, date string) ([]domain.Slot, error)
	created   []apiclient.CreateAppointmentRequest
	createErr error
}

func (f *fakeRemote) AvailableSlots(ctx context.Context, providerID, date string, _ []string) ([]domain.Slot, error) {
	f.mu.Lock()
	f.slotCalls++
	f.mu.Unlock()
	if f.slots != nil {
		return f.slots(ctx, providerID, date)
	}
	return []domain.Slot{{StartTime: "09:00", EndTime: "09:30", Label: "9:00 AM - 9:30 AM"}}, nil
}

func (f *fakeRemote) CreateAppointment(_ context.Context, req apiclient.CreateAppointmentRequest) (domain.Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return domain.Appointment{}, f.createErr
	}
	f.created = append(f.created, req)
	return domain.Appointment{ID: "a1", ProviderID: req.ProviderID, Status: domain.StatusPending}, nil
}

func newWizard(remote *fakeRemote) (*Wizard, *MemoryStore, *querycache.Cache) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := NewMemoryStore()
	cache := querycache.New(querycache.NewMemoryBackend(), time.Minute, logger)
	return NewWizard(store, remote, cache, logger), store, cache
}

func fill(t *testing.T, w *Wizard, session string) Draft {
	t.Helper()
	svcs := []string{"s1"}
	d, err := w.Update(context.Background(), session, Partial{
		ProviderID:       strp("p1"),
		SelectedDate:     strp("2025-01-06"),
		SelectedServices: &svcs,
	})
	require.NoError(t, err)
	return d
}

func TestLoadSlotsRequiresCompleteInputs(t *testing.T) {
	remote := &fakeRemote{}
	w, _, _ := newWizard(remote)
	_, err := w.Update(context.Background(), "s", Partial{ProviderID: strp("p1")})
	require.NoError(t, err)

	_, err = w.LoadSlots(context.Background(), "s")
	require.Error(t, err)
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
	assert.Equal(t, 0, remote.slotCalls)
}

func TestChangingInputsDropsSelectedSlot(t *testing.T) {
	ctx := context.Background()
	w, _, _ := newWizard(&fakeRemote{})
	fill(t, w, "s")

	d, err := w.SelectSlot(ctx, "s", domain.Slot{StartTime: "09:00", EndTime: "09:30"})
	require.NoError(t, err)
	require.True(t, d.SlotValid())
	assert.Equal(t, "9:00 AM - 9:30 AM", d.SelectedSlot.Label)

	d, err = w.Update(ctx, "s", Partial{Notes: strp("first visit")})
	require.NoError(t, err)
	assert.True(t, d.SlotValid(), "notes do not affect the slot")

	for name, p := range map[string]Partial{
		"provider": {ProviderID: strp("p2")},
		"date":     {SelectedDate: strp("2025-01-07")},
		"services": {SelectedServices: &[]string{"s1", "s2"}},
	} {
		t.Run(name, func(t *testing.T) {
			fill(t, w, "s")
			_, err := w.SelectSlot(ctx, "s", domain.Slot{StartTime: "09:00", EndTime: "09:30"})
			require.NoError(t, err)
			d, err := w.Update(ctx, "s", p)
			require.NoError(t, err)
			assert.Nil(t, d.SelectedSlot)
			assert.Empty(t, d.SlotKey)
		})
	}
}

func TestUpdateRejectsBadDate(t *testing.T) {
	w, _, _ := newWizard(&fakeRemote{})
	_, err := w.Update(context.Background(), "s", Partial{SelectedDate: strp("06/01/2025")})
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
}

func TestStaleSlotLoadIsDiscarded(t *testing.T) {
	ctx := context.Background()
	started := make(chan struct{})
	remote := &fakeRemote{}
	remote.slots = func(ctx context.Context, _, date string) ([]domain.Slot, error) {
		if date == "2025-01-06" {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return []domain.Slot{{StartTime: "10:00", EndTime: "10:30"}}, nil
	}
	w, _, _ := newWizard(remote)
	fill(t, w, "s")

	errc := make(chan error, 1)
	go func() {
		_, err := w.LoadSlots(ctx, "s")
		errc <- err
	}()
	<-started

	_, err := w.Update(ctx, "s", Partial{SelectedDate: strp("2025-01-07")})
	require.NoError(t, err)

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrSuperseded)
	case <-time.After(2 * time.Second):
		t.Fatal("stale load was not cancelled")
	}

	slots, err := w.LoadSlots(ctx, "s")
	require.NoError(t, err)
	require.Len(t, slots, 1)
	assert.Equal(t, "10:00", slots[0].StartTime)
}

func TestSlotsAreCached(t *testing.T) {
	remote := &fakeRemote{}
	w, _, _ := newWizard(remote)
	fill(t, w, "s")

	for range 2 {
		_, err := w.LoadSlots(context.Background(), "s")
		require.NoError(t, err)
	}
	assert.Equal(t, 1, remote.slotCalls)
}

func TestSubmitClearsDraftAndInvalidates(t *testing.T) {
	ctx := context.Background()
	remote := &fakeRemote{}
	w, store, _ := newWizard(remote)
	fill(t, w, "s")
	_, err := w.LoadSlots(ctx, "s")
	require.NoError(t, err)
	_, err = w.SelectSlot(ctx, "s", domain.Slot{StartTime: "09:00", EndTime: "09:30"})
	require.NoError(t, err)

	appt, err := w.Submit(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, "a1", appt.ID)
	require.Len(t, remote.created, 1)
	assert.Equal(t, "09:00", remote.created[0].StartTime)
	assert.Equal(t, []string{"s1"}, remote.created[0].ServiceIDs)

	d, _ := store.Get(ctx, "s")
	assert.Equal(t, Draft{}, d)

	fill(t, w, "s")
	_, err = w.LoadSlots(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, 2, remote.slotCalls, "slot cache was invalidated")
}

func TestSubmitWithoutSlot(t *testing.T) {
	w, _, _ := newWizard(&fakeRemote{})
	fill(t, w, "s")
	_, err := w.Submit(context.Background(), "s")
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
}

func TestSubmitRejectsSlotFromOtherInputs(t *testing.T) {
	ctx := context.Background()
	remote := &fakeRemote{}
	w, store, _ := newWizard(remote)
	fill(t, w, "s")
	// A slot written straight to the store under a stale fingerprint.
	slot := domain.Slot{StartTime: "09:00", EndTime: "09:30"}
	_, err := store.SetData(ctx, "s", Partial{SelectedSlot: &slot, SlotKey: strp("p1|2025-01-05|s1")})
	require.NoError(t, err)

	_, err = w.Submit(ctx, "s")
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
	assert.Empty(t, remote.created)
	d, _ := store.Get(ctx, "s")
	assert.Nil(t, d.SelectedSlot)
}

func TestSubmitTakenSlotDropsSelection(t *testing.T) {
	ctx := context.Background()
	remote := &fakeRemote{createErr: domain.SlotUnavailable("that time was just booked")}
	w, store, _ := newWizard(remote)
	fill(t, w, "s")
	_, err := w.SelectSlot(ctx, "s", domain.Slot{StartTime: "09:00", EndTime: "09:30"})
	require.NoError(t, err)

	_, err = w.Submit(ctx, "s")
	assert.Equal(t, domain.KindConflict, domain.KindOf(err))
	d, _ := store.Get(ctx, "s")
	assert.Nil(t, d.SelectedSlot)
	assert.Equal(t, "p1", d.ProviderID, "the rest of the draft survives")
}

func TestSubmitOtherConflictKeepsSlot(t *testing.T) {
	ctx := context.Background()
	remote := &fakeRemote{createErr: domain.Conflict("duplicate_appointment", "appointment already exists")}
	w, store, _ := newWizard(remote)
	fill(t, w, "s")
	_, err := w.LoadSlots(ctx, "s")
	require.NoError(t, err)
	_, err = w.SelectSlot(ctx, "s", domain.Slot{StartTime: "09:00", EndTime: "09:30"})
	require.NoError(t, err)

	_, err = w.Submit(ctx, "s")
	assert.Equal(t, domain.KindConflict, domain.KindOf(err))
	d, _ := store.Get(ctx, "s")
	assert.True(t, d.SlotValid(), "only a taken slot is dropped")

	_, err = w.LoadSlots(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, 1, remote.slotCalls, "slot cache kept")
}

func TestSubmitUnknownErrorKeepsDraft(t *testing.T) {
	ctx := context.Background()
	remote := &fakeRemote{createErr: domain.Unknown("booking service unreachable", errors.New("dial"))}
	w, store, _ := newWizard(remote)
	fill(t, w, "s")
	_, err := w.SelectSlot(ctx, "s", domain.Slot{StartTime: "09:00", EndTime: "09:30"})
	require.NoError(t, err)

	_, err = w.Submit(ctx, "s")
	assert.True(t, domain.Retryable(err))
	d, _ := store.Get(ctx, "s")
	assert.True(t, d.SlotValid())
}

func TestAbandon(t *testing.T) {
	ctx := context.Background()
	w, store, _ := newWizard(&fakeRemote{})
	fill(t, w, "s")
	require.NoError(t, w.Abandon(ctx, "s"))
	d, _ := store.Get(ctx, "s")
	assert.Equal(t, Draft{}, d)
}
