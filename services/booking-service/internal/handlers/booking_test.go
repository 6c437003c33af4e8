package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/md-rashed-zaman/carebook/libs/domain"
	"github.com/md-rashed-zaman/carebook/libs/httpx"
	"github.com/md-rashed-zaman/carebook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/carebook/services/booking-service/internal/metrics"
	"github.com/md-rashed-zaman/carebook/services/booking-service/internal/storage"
)

const aptID = "6f1c3f0e-8a4b-4c8e-9d62-2b7f0e5a1c11"

// Monday 2 March 2026; the clock sits on the previous day.
var monday = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

type fakeProviders struct {
	sched availability.Schedule
	saved *domain.OperatingHours
}

func (f *fakeProviders) Schedule(_ context.Context, providerID string) (availability.Schedule, error) {
	if providerID != f.sched.ProviderID {
		return availability.Schedule{}, domain.NotFound("provider not found")
	}
	return f.sched, nil
}

func (f *fakeProviders) Location(_ context.Context, _ string) (*time.Location, error) {
	return time.UTC, nil
}

func (f *fakeProviders) SaveOperatingHours(_ context.Context, _ string, hours domain.OperatingHours) error {
	f.saved = &hours
	return nil
}

type fakeAppointments struct {
	byID        map[string]domain.Appointment
	transitions int
	lastList    storage.ListQuery
	rangeStart  time.Time
	rangeEnd    time.Time
}

func (f *fakeAppointments) Create(_ context.Context, appt *domain.Appointment) error {
	for _, a := range f.byID {
		if a.Blocking() && a.ProviderID == appt.ProviderID && a.Overlaps(appt.StartTime, appt.EndTime) {
			return domain.SlotUnavailable("taken")
		}
	}
	appt.ID = "new-apt"
	appt.Status = domain.StatusPending
	f.byID[appt.ID] = *appt
	return nil
}

func (f *fakeAppointments) Transition(_ context.Context, id string, change storage.StatusChange) (domain.Appointment, error) {
	f.transitions++
	a, ok := f.byID[id]
	if !ok {
		return domain.Appointment{}, domain.NotFound("appointment not found")
	}
	if change.Authorize != nil {
		if err := change.Authorize(a); err != nil {
			return domain.Appointment{}, err
		}
	}
	if err := domain.Transition(a.Status, change.To); err != nil {
		return domain.Appointment{}, err
	}
	a.Status = change.To
	if change.Reason != "" {
		a.Cancellation = &domain.Cancellation{Reason: change.Reason, ActorID: change.ActorID, ActorRole: change.ActorRole}
	}
	f.byID[id] = a
	return a, nil
}

func (f *fakeAppointments) List(_ context.Context, _ string, q storage.ListQuery) (domain.Page[domain.Appointment], error) {
	f.lastList = q
	return domain.Page[domain.Appointment]{Data: []domain.Appointment{}, Meta: domain.NewPageMeta(q.Page, q.PerPage, 0)}, nil
}

func (f *fakeAppointments) Counts(_ context.Context, _ string) (domain.Counts, error) {
	return domain.NewCounts(map[domain.Status]int{domain.StatusPending: 1}), nil
}

func (f *fakeAppointments) Range(_ context.Context, _ string, start, end time.Time) ([]domain.Appointment, error) {
	f.rangeStart, f.rangeEnd = start, end
	return []domain.Appointment{}, nil
}

func (f *fakeAppointments) BusyIntervals(_ context.Context, providerID string, start, end time.Time) ([]availability.Interval, error) {
	var busy []availability.Interval
	for _, a := range f.byID {
		if a.Blocking() && a.ProviderID == providerID && a.Overlaps(start, end) {
			busy = append(busy, availability.Interval{Start: a.StartTime, End: a.EndTime})
		}
	}
	return busy, nil
}

type testEnv struct {
	mux       *http.ServeMux
	appts     *fakeAppointments
	providers *fakeProviders
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	hours := domain.DefaultOperatingHours()
	hours[time.Monday] = domain.DayHours{Weekday: time.Monday, Open: 9 * 60, Close: 12 * 60}
	providers := &fakeProviders{sched: availability.Schedule{
		ProviderID: "prov-1",
		Location:   time.UTC,
		Hours:      hours,
		Services: []domain.Service{
			{ID: "consult", Name: "Consultation", DurationMinutes: 30, PriceMin: 50, PriceMax: 80},
			{ID: "followup", Name: "Follow-up", DurationMinutes: 15, PriceMin: 20, PriceMax: 20},
		},
	}}
	appts := &fakeAppointments{byID: map[string]domain.Appointment{
		aptID: {
			ID:         aptID,
			PatientID:  "pat-1",
			ProviderID: "prov-1",
			Date:       "2026-03-02",
			StartTime:  monday.Add(10 * time.Hour),
			EndTime:    monday.Add(10*time.Hour + 30*time.Minute),
			Status:     domain.StatusPending,
		},
	}}
	resolver := availability.NewResolver(providers, appts,
		availability.WithClock(func() time.Time { return monday.Add(-12 * time.Hour) }))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewBookingHandler(appts, providers, resolver, metrics.New(prometheus.NewRegistry()), logger)
	mux := http.NewServeMux()
	h.Register(mux)
	return &testEnv{mux: mux, appts: appts, providers: providers}
}

func (e *testEnv) do(method, target string, body any, id *httpx.Identity) *httptest.ResponseRecorder {
	var rdr io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rdr = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, target, rdr)
	if id != nil {
		httpx.SetIdentityHeaders(req, *id)
	}
	rec := httptest.NewRecorder()
	e.mux.ServeHTTP(rec, req)
	return rec
}

var (
	patient  = &httpx.Identity{UserID: "pat-1", Role: httpx.RolePatient}
	stranger = &httpx.Identity{UserID: "pat-2", Role: httpx.RolePatient}
	provider = &httpx.Identity{UserID: "user-9", Role: httpx.RoleProvider, ProviderID: "prov-1"}
)

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) domain.Error {
	t.Helper()
	var e domain.Error
	if err := json.Unmarshal(rec.Body.Bytes(), &e); err != nil {
		t.Fatalf("decode error body %q: %v", rec.Body.String(), err)
	}
	return e
}

func TestAvailableSlotsExcludesBookedWindow(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(http.MethodGet, "/providers/prov-1/available-slots?date=2026-03-02&service_ids=consult", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var slots []domain.Slot
	if err := json.Unmarshal(rec.Body.Bytes(), &slots); err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := []string{"09:00", "09:30", "10:30", "11:00", "11:30"}
	if len(slots) != len(want) {
		t.Fatalf("expected %d slots, got %+v", len(want), slots)
	}
	for i, s := range slots {
		if s.StartTime != want[i] {
			t.Fatalf("slot %d: expected %s, got %s", i, want[i], s.StartTime)
		}
	}
}

func TestAvailableSlotsUnknownProvider(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(http.MethodGet, "/providers/nobody/available-slots?date=2026-03-02", nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestCreateAppointment(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(http.MethodPost, "/appointments", map[string]any{
		"provider_id":      "prov-1",
		"service_ids":      []string{"consult", "followup"},
		"appointment_date": "2026-03-02",
		"start_time":       "09:00",
		"end_time":         "09:45",
		"notes":            "first visit",
	}, patient)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var appt domain.Appointment
	if err := json.Unmarshal(rec.Body.Bytes(), &appt); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if appt.Status != domain.StatusPending || appt.TotalPrice != 70 || len(appt.Services) != 2 || appt.PatientID != "pat-1" {
		t.Fatalf("unexpected appointment %+v", appt)
	}
	if !appt.StartTime.Equal(monday.Add(9 * time.Hour)) {
		t.Fatalf("unexpected start %s", appt.StartTime)
	}
}

func TestCreateAppointmentTakenSlot(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(http.MethodPost, "/appointments", map[string]any{
		"provider_id":      "prov-1",
		"service_ids":      []string{"consult"},
		"appointment_date": "2026-03-02",
		"start_time":       "10:00",
		"end_time":         "10:30",
	}, patient)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
	e := decodeError(t, rec)
	if e.Code != domain.CodeSlotUnavailable || len(e.Fields["start_time"]) == 0 {
		t.Fatalf("expected slot_unavailable with start_time message, got %+v", e)
	}
}

func TestCreateAppointmentValidation(t *testing.T) {
	env := newTestEnv(t)
	if rec := env.do(http.MethodPost, "/appointments", map[string]any{"provider_id": "prov-1"}, nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without identity, got %d", rec.Code)
	}
	rec := env.do(http.MethodPost, "/appointments", map[string]any{"provider_id": "prov-1"}, patient)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
	e := decodeError(t, rec)
	for _, f := range []string{"appointment_date", "start_time", "end_time"} {
		if len(e.Fields[f]) == 0 {
			t.Fatalf("expected message for %s, got %+v", f, e.Fields)
		}
	}
}

func TestCancelRequiresReason(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(http.MethodPost, "/appointments/"+aptID+"/cancel", map[string]string{"cancellation_reason": "  "}, patient)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
	if env.appts.transitions != 0 {
		t.Fatalf("store must not be touched without a reason")
	}

	rec = env.do(http.MethodPost, "/appointments/"+aptID+"/cancel", map[string]string{"cancellation_reason": "patient requested"}, patient)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	got := env.appts.byID[aptID]
	if got.Status != domain.StatusCancelled || got.Cancellation.Reason != "patient requested" || got.Cancellation.ActorRole != httpx.RolePatient {
		t.Fatalf("unexpected appointment %+v", got)
	}
}

func TestProviderTransitions(t *testing.T) {
	env := newTestEnv(t)
	if rec := env.do(http.MethodPost, "/appointments/"+aptID+"/complete", nil, provider); rec.Code != http.StatusConflict {
		t.Fatalf("complete from pending: expected 409, got %d", rec.Code)
	}
	if rec := env.do(http.MethodPost, "/appointments/"+aptID+"/confirm", nil, provider); rec.Code != http.StatusOK {
		t.Fatalf("confirm: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	rec := env.do(http.MethodPost, "/appointments/"+aptID+"/confirm", nil, provider)
	if rec.Code != http.StatusConflict || decodeError(t, rec).Kind != domain.KindInvalidState {
		t.Fatalf("second confirm: expected invalid_state, got %d %s", rec.Code, rec.Body.String())
	}
	if rec := env.do(http.MethodPost, "/appointments/"+aptID+"/no-show", map[string]string{"cancellation_reason": "did not arrive"}, provider); rec.Code != http.StatusOK {
		t.Fatalf("no-show: expected 200, got %d", rec.Code)
	}
	if env.appts.byID[aptID].Status != domain.StatusNoShow {
		t.Fatalf("expected no_show, got %s", env.appts.byID[aptID].Status)
	}
}

func TestTransitionAuthorization(t *testing.T) {
	env := newTestEnv(t)
	if rec := env.do(http.MethodPost, "/appointments/"+aptID+"/cancel", map[string]string{"cancellation_reason": "x"}, stranger); rec.Code != http.StatusNotFound {
		t.Fatalf("stranger: expected 404, got %d", rec.Code)
	}
	if rec := env.do(http.MethodPost, "/appointments/"+aptID+"/confirm", nil, patient); rec.Code != http.StatusForbidden {
		t.Fatalf("patient confirm: expected 403, got %d", rec.Code)
	}
	if rec := env.do(http.MethodPost, "/appointments/"+aptID+"/reopen", nil, provider); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown action: expected 404, got %d", rec.Code)
	}
	if env.appts.byID[aptID].Status != domain.StatusPending {
		t.Fatalf("status must be unchanged")
	}
}

func TestListQueryParsing(t *testing.T) {
	env := newTestEnv(t)
	if rec := env.do(http.MethodGet, "/provider/appointments", nil, patient); rec.Code != http.StatusForbidden {
		t.Fatalf("patient: expected 403, got %d", rec.Code)
	}
	for _, q := range []string{"status=bogus", "page=0", "per_page=abc", "per_page=500"} {
		if rec := env.do(http.MethodGet, "/provider/appointments?"+q, nil, provider); rec.Code != http.StatusUnprocessableEntity {
			t.Fatalf("%s: expected 422, got %d", q, rec.Code)
		}
	}
	rec := env.do(http.MethodGet, "/provider/appointments?status=all&search=doe&page=3&per_page=10", nil, provider)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	want := storage.ListQuery{Search: "doe", Page: 3, PerPage: 10}
	if env.appts.lastList != want {
		t.Fatalf("expected %+v, got %+v", want, env.appts.lastList)
	}
}

func TestCalendarRangeIsInclusive(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(http.MethodGet, "/provider/calendar-appointments?start_date=2026-03-01&end_date=2026-03-07", nil, provider)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !env.appts.rangeStart.Equal(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)) || !env.appts.rangeEnd.Equal(time.Date(2026, 3, 8, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected range %s - %s", env.appts.rangeStart, env.appts.rangeEnd)
	}
	if rec := env.do(http.MethodGet, "/provider/calendar-appointments?start_date=2026-03-07&end_date=2026-03-01", nil, provider); rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("inverted range: expected 422, got %d", rec.Code)
	}
}

func TestPutOperatingHours(t *testing.T) {
	env := newTestEnv(t)
	bad := map[string]any{"operating_hours": []map[string]any{{"weekday": 1, "open_minute": 600, "close_minute": 540}}}
	if rec := env.do(http.MethodPut, "/provider/operating-hours", bad, provider); rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
	if env.providers.saved != nil {
		t.Fatalf("invalid hours must not be saved")
	}

	good := map[string]any{"operating_hours": []map[string]any{{"weekday": 2, "open_minute": 480, "close_minute": 960}}}
	rec := env.do(http.MethodPut, "/provider/operating-hours", good, provider)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	saved := *env.providers.saved
	if saved[time.Tuesday].Open != 480 || !saved[time.Monday].Closed {
		t.Fatalf("unexpected saved hours %+v", saved)
	}
}

func TestScheduleInfo(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(http.MethodGet, "/providers/prov-1/schedule-info", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var info domain.ScheduleInfo
	if err := json.Unmarshal(rec.Body.Bytes(), &info); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(info.Services) != 2 || info.OperatingHours[time.Monday].Close != 720 || info.Timezone != "UTC" {
		t.Fatalf("unexpected schedule info %+v", info)
	}
}
