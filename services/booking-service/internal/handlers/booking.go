package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/md-rashed-zaman/carebook/libs/domain"
	"github.com/md-rashed-zaman/carebook/libs/httpx"
	"github.com/md-rashed-zaman/carebook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/carebook/services/booking-service/internal/metrics"
	"github.com/md-rashed-zaman/carebook/services/booking-service/internal/storage"
)

type Appointments interface {
	Create(ctx context.Context, appt *domain.Appointment) error
	Transition(ctx context.Context, appointmentID string, change storage.StatusChange) (domain.Appointment, error)
	List(ctx context.Context, providerID string, q storage.ListQuery) (domain.Page[domain.Appointment], error)
	Counts(ctx context.Context, providerID string) (domain.Counts, error)
	Range(ctx context.Context, providerID string, start, end time.Time) ([]domain.Appointment, error)
}

type Providers interface {
	Schedule(ctx context.Context, providerID string) (availability.Schedule, error)
	Location(ctx context.Context, providerID string) (*time.Location, error)
	SaveOperatingHours(ctx context.Context, providerID string, hours domain.OperatingHours) error
}

type Slots interface {
	Resolve(ctx context.Context, q availability.Query) ([]domain.Slot, error)
	Validate(ctx context.Context, q availability.Query, startClock, endClock string) (availability.Interval, error)
}

const (
	defaultPerPage  = 25
	maxPerPage      = 100
	maxCalendarDays = 92
)

type BookingHandler struct {
	appts     Appointments
	providers Providers
	slots     Slots
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

func NewBookingHandler(appts Appointments, providers Providers, slots Slots, m *metrics.Metrics, logger *slog.Logger) *BookingHandler {
	return &BookingHandler{appts: appts, providers: providers, slots: slots, metrics: m, logger: logger}
}

func (h *BookingHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /providers/{id}/schedule-info", h.ScheduleInfo)
	mux.HandleFunc("GET /providers/{id}/available-slots", h.AvailableSlots)
	mux.HandleFunc("POST /appointments", h.Create)
	mux.HandleFunc("POST /appointments/{id}/{action}", h.Transition)
	mux.HandleFunc("GET /provider/appointments", h.List)
	mux.HandleFunc("GET /provider/appointments/counts", h.Counts)
	mux.HandleFunc("GET /provider/calendar-appointments", h.Calendar)
	mux.HandleFunc("GET /provider/operating-hours", h.GetOperatingHours)
	mux.HandleFunc("PUT /provider/operating-hours", h.PutOperatingHours)
}

func (h *BookingHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	httpx.WriteError(w, r, h.logger, err)
}

func (h *BookingHandler) ScheduleInfo(w http.ResponseWriter, r *http.Request) {
	sched, err := h.providers.Schedule(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, domain.ScheduleInfo{
		ProviderID:     sched.ProviderID,
		Timezone:       sched.Location.String(),
		OperatingHours: sched.Hours,
		Services:       sched.Services,
	})
}

func (h *BookingHandler) AvailableSlots(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	slots, err := h.slots.Resolve(r.Context(), availability.Query{
		ProviderID: r.PathValue("id"),
		Date:       q.Get("date"),
		ServiceIDs: serviceIDs(q["service_ids"]),
	})
	h.metrics.ObserveSlotQuery(metrics.Outcome(err), len(slots))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, slots)
}

// serviceIDs accepts both repeated and comma separated values.
func serviceIDs(raw []string) []string {
	var ids []string
	for _, v := range raw {
		for _, id := range strings.Split(v, ",") {
			if id = strings.TrimSpace(id); id != "" {
				ids = append(ids, id)
			}
		}
	}
	return ids
}

type createAppointmentRequest struct {
	ProviderID  string   `json:"provider_id"`
	ServiceIDs  []string `json:"service_ids"`
	Date        string   `json:"appointment_date"`
	StartTime   string   `json:"start_time"`
	EndTime     string   `json:"end_time"`
	Notes       string   `json:"notes"`
	PatientName string   `json:"patient_name"`
}

func (req createAppointmentRequest) validate() error {
	fields := map[string][]string{}
	if strings.TrimSpace(req.ProviderID) == "" {
		fields["provider_id"] = append(fields["provider_id"], "provider_id is required")
	}
	if strings.TrimSpace(req.Date) == "" {
		fields["appointment_date"] = append(fields["appointment_date"], "appointment_date is required")
	}
	if strings.TrimSpace(req.StartTime) == "" {
		fields["start_time"] = append(fields["start_time"], "start_time is required")
	}
	if strings.TrimSpace(req.EndTime) == "" {
		fields["end_time"] = append(fields["end_time"], "end_time is required")
	}
	if len(req.Notes) > 1000 {
		fields["notes"] = append(fields["notes"], "notes must be at most 1000 characters")
	}
	if len(fields) > 0 {
		return domain.Validation("invalid_request", "the booking request is incomplete", fields)
	}
	return nil
}

func (h *BookingHandler) Create(w http.ResponseWriter, r *http.Request) {
	appt, err := h.create(r)
	h.metrics.ObserveBooking(metrics.Outcome(err))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, appt)
}

func (h *BookingHandler) create(r *http.Request) (domain.Appointment, error) {
	ctx := r.Context()
	id, err := httpx.IdentityFromRequest(r)
	if err != nil {
		return domain.Appointment{}, err
	}
	var req createAppointmentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		return domain.Appointment{}, err
	}
	if err := req.validate(); err != nil {
		return domain.Appointment{}, err
	}

	sched, err := h.providers.Schedule(ctx, req.ProviderID)
	if err != nil {
		return domain.Appointment{}, err
	}
	_, selected, err := availability.Duration(sched, req.ServiceIDs)
	if err != nil {
		return domain.Appointment{}, err
	}
	q := availability.Query{ProviderID: req.ProviderID, Date: req.Date, ServiceIDs: req.ServiceIDs}
	window, err := h.slots.Validate(ctx, q, req.StartTime, req.EndTime)
	if err != nil {
		return domain.Appointment{}, err
	}

	appt := domain.Appointment{
		PatientID:   id.UserID,
		PatientName: strings.TrimSpace(req.PatientName),
		ProviderID:  sched.ProviderID,
		Date:        req.Date,
		StartTime:   window.Start,
		EndTime:     window.End,
		Notes:       strings.TrimSpace(req.Notes),
		Services:    []domain.AppointmentService{},
	}
	for _, s := range selected {
		appt.Services = append(appt.Services, domain.AppointmentService{
			ID:              s.ID,
			Name:            s.Name,
			DurationMinutes: s.DurationMinutes,
			Price:           s.PriceMin,
		})
		appt.TotalPrice += s.PriceMin
	}
	if err := h.appts.Create(ctx, &appt); err != nil {
		return domain.Appointment{}, err
	}
	h.logger.Info("appointment booked",
		"appointment_id", appt.ID,
		"provider_id", appt.ProviderID,
		"start_time", appt.StartTime,
	)
	return appt.In(sched.Location), nil
}

type transitionRequest struct {
	Reason string `json:"cancellation_reason"`
}

func (h *BookingHandler) Transition(w http.ResponseWriter, r *http.Request) {
	action, err := domain.ParseAction(r.PathValue("action"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	appt, err := h.transition(r, action)
	h.metrics.ObserveTransition(string(action), metrics.Outcome(err))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, appt)
}

func (h *BookingHandler) transition(r *http.Request, action domain.Action) (domain.Appointment, error) {
	ctx := r.Context()
	id, err := httpx.IdentityFromRequest(r)
	if err != nil {
		return domain.Appointment{}, err
	}
	var req transitionRequest
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			return domain.Appointment{}, err
		}
	}
	req.Reason = strings.TrimSpace(req.Reason)
	if action.RequiresReason() && req.Reason == "" {
		return domain.Appointment{}, domain.FieldError("cancellation_reason", "a reason is required")
	}

	appt, err := h.appts.Transition(ctx, r.PathValue("id"), storage.StatusChange{
		To:        action.Target(),
		Reason:    req.Reason,
		ActorID:   id.UserID,
		ActorRole: id.Role,
		Authorize: func(a domain.Appointment) error { return authorize(id, a, action) },
	})
	if err != nil {
		return domain.Appointment{}, err
	}
	h.logger.Info("appointment transitioned",
		"appointment_id", appt.ID,
		"action", string(action),
		"status", string(appt.Status),
		"actor_id", id.UserID,
	)
	loc, err := h.providers.Location(ctx, appt.ProviderID)
	if err != nil {
		return appt, nil
	}
	return appt.In(loc), nil
}

// authorize lets providers act on their own appointments and patients cancel
// theirs. Anything else is reported as not found.
func authorize(id httpx.Identity, a domain.Appointment, action domain.Action) error {
	if id.IsProvider() && a.ProviderID == id.ProviderID {
		return nil
	}
	if a.PatientID == id.UserID {
		if action == domain.ActionCancel {
			return nil
		}
		return domain.Forbidden("only the provider can " + string(action) + " this appointment")
	}
	return domain.NotFound("appointment not found")
}

func (h *BookingHandler) providerIdentity(r *http.Request) (httpx.Identity, error) {
	id, err := httpx.IdentityFromRequest(r)
	if err != nil {
		return httpx.Identity{}, err
	}
	if !id.IsProvider() {
		return httpx.Identity{}, domain.Forbidden("provider access required")
	}
	return id, nil
}

func (h *BookingHandler) List(w http.ResponseWriter, r *http.Request) {
	id, err := h.providerIdentity(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	q, err := parseListQuery(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	page, err := h.appts.List(r.Context(), id.ProviderID, q)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if loc, err := h.providers.Location(r.Context(), id.ProviderID); err == nil {
		for i := range page.Data {
			page.Data[i] = page.Data[i].In(loc)
		}
	}
	httpx.WriteJSON(w, http.StatusOK, page)
}

func parseListQuery(r *http.Request) (storage.ListQuery, error) {
	v := r.URL.Query()
	q := storage.ListQuery{Search: strings.TrimSpace(v.Get("search")), Page: 1, PerPage: defaultPerPage}
	if s := strings.TrimSpace(v.Get("status")); s != "" && s != "all" {
		st, err := domain.ParseStatus(s)
		if err != nil {
			return storage.ListQuery{}, err
		}
		q.Status = st
	}
	var err error
	if q.Page, err = positiveInt(v.Get("page"), "page", 1); err != nil {
		return storage.ListQuery{}, err
	}
	if q.PerPage, err = positiveInt(v.Get("per_page"), "per_page", defaultPerPage); err != nil {
		return storage.ListQuery{}, err
	}
	if q.PerPage > maxPerPage {
		return storage.ListQuery{}, domain.FieldError("per_page", "per_page must be at most "+strconv.Itoa(maxPerPage))
	}
	return q, nil
}

func positiveInt(raw, field string, fallback int) (int, error) {
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, domain.FieldError(field, field+" must be a positive integer")
	}
	return n, nil
}

func (h *BookingHandler) Counts(w http.ResponseWriter, r *http.Request) {
	id, err := h.providerIdentity(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	counts, err := h.appts.Counts(r.Context(), id.ProviderID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, counts)
}

// Calendar returns appointments between start_date and end_date inclusive,
// in the provider's time zone.
func (h *BookingHandler) Calendar(w http.ResponseWriter, r *http.Request) {
	id, err := h.providerIdentity(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	ctx := r.Context()
	loc, err := h.providers.Location(ctx, id.ProviderID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	start, err := domain.ParseDate(r.URL.Query().Get("start_date"), loc)
	if err != nil {
		h.fail(w, r, domain.FieldError("start_date", "start_date must be YYYY-MM-DD"))
		return
	}
	end, err := domain.ParseDate(r.URL.Query().Get("end_date"), loc)
	if err != nil {
		h.fail(w, r, domain.FieldError("end_date", "end_date must be YYYY-MM-DD"))
		return
	}
	if end.Before(start) {
		h.fail(w, r, domain.FieldError("end_date", "end_date must not be before start_date"))
		return
	}
	if end.Sub(start) > maxCalendarDays*24*time.Hour {
		h.fail(w, r, domain.FieldError("end_date", "range must be at most "+strconv.Itoa(maxCalendarDays)+" days"))
		return
	}

	appts, err := h.appts.Range(ctx, id.ProviderID, start, end.AddDate(0, 0, 1))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	for i := range appts {
		appts[i] = appts[i].In(loc)
	}
	httpx.WriteJSON(w, http.StatusOK, appts)
}

func (h *BookingHandler) GetOperatingHours(w http.ResponseWriter, r *http.Request) {
	id, err := h.providerIdentity(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	sched, err := h.providers.Schedule(r.Context(), id.ProviderID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, operatingHoursBody{OperatingHours: sched.Hours[:]})
}

type operatingHoursBody struct {
	OperatingHours []domain.DayHours `json:"operating_hours"`
}

func (h *BookingHandler) PutOperatingHours(w http.ResponseWriter, r *http.Request) {
	id, err := h.providerIdentity(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var body operatingHoursBody
	if err := httpx.DecodeJSON(r, &body); err != nil {
		h.fail(w, r, err)
		return
	}
	hours, err := domain.FromDays(body.OperatingHours)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.providers.SaveOperatingHours(r.Context(), id.ProviderID, hours); err != nil {
		h.fail(w, r, err)
		return
	}
	h.logger.Info("operating hours updated", "provider_id", id.ProviderID)
	httpx.WriteJSON(w, http.StatusOK, operatingHoursBody{OperatingHours: hours[:]})
}
