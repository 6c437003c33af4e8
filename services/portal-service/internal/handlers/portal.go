package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/md-rashed-zaman/carebook/libs/domain"
	"github.com/md-rashed-zaman/carebook/libs/httpx"
	"github.com/md-rashed-zaman/carebook/services/portal-service/internal/draft"
	"github.com/md-rashed-zaman/carebook/services/portal-service/internal/filters"
	"github.com/md-rashed-zaman/carebook/services/portal-service/internal/projector"
	"github.com/md-rashed-zaman/carebook/services/portal-service/internal/querycache"
)

type Remote interface {
	ScheduleInfo(ctx context.Context, providerID string) (domain.ScheduleInfo, error)
	ListAppointments(ctx context.Context, query url.Values) (domain.Page[domain.Appointment], error)
	Counts(ctx context.Context) (domain.Counts, error)
	Calendar(ctx context.Context, startDate, endDate string) ([]domain.Appointment, error)
	OperatingHours(ctx context.Context) ([]domain.DayHours, error)
	SaveOperatingHours(ctx context.Context, days []domain.DayHours) ([]domain.DayHours, error)
}

type Wizard interface {
	Get(ctx context.Context, session string) (draft.Draft, error)
	Update(ctx context.Context, session string, p draft.Partial) (draft.Draft, error)
	SelectSlot(ctx context.Context, session string, slot domain.Slot) (draft.Draft, error)
	LoadSlots(ctx context.Context, session string) ([]domain.Slot, error)
	Submit(ctx context.Context, session string) (domain.Appointment, error)
	Abandon(ctx context.Context, session string) error
}

type Lifecycle interface {
	Apply(ctx context.Context, appt *domain.Appointment, action domain.Action, reason string) error
}

type Options struct {
	WeekStart time.Weekday
	Hours     projector.HourRange
	// SubmitLimit guards booking submission; nil leaves it unlimited.
	SubmitLimit httpx.Middleware
}

type PortalHandler struct {
	remote    Remote
	wizard    Wizard
	lifecycle Lifecycle
	cache     *querycache.Cache
	opts      Options
	logger    *slog.Logger
	now       func() time.Time
}

func NewPortalHandler(remote Remote, wizard Wizard, lifecycle Lifecycle, cache *querycache.Cache, opts Options, logger *slog.Logger) *PortalHandler {
	if opts.Hours == (projector.HourRange{}) {
		opts.Hours = projector.AllDay
	}
	return &PortalHandler{remote: remote, wizard: wizard, lifecycle: lifecycle, cache: cache, opts: opts, logger: logger, now: time.Now}
}

func (h *PortalHandler) Register(mux *http.ServeMux) {
	submit := http.Handler(http.HandlerFunc(h.Submit))
	if h.opts.SubmitLimit != nil {
		submit = h.opts.SubmitLimit(submit)
	}
	mux.Handle("GET /portal/providers/{id}/schedule-info", h.identified(h.ScheduleInfo))
	mux.Handle("GET /portal/appointments", h.identified(h.List))
	mux.Handle("GET /portal/appointments/counts", h.identified(h.Counts))
	mux.Handle("GET /portal/calendar", h.identified(h.Calendar))
	mux.Handle("POST /portal/appointments/{id}/{action}", h.identified(h.Transition))
	mux.Handle("GET /portal/provider/operating-hours", h.identified(h.GetOperatingHours))
	mux.Handle("PUT /portal/provider/operating-hours", h.identified(h.PutOperatingHours))
	mux.Handle("GET /portal/booking/draft", h.identified(h.GetDraft))
	mux.Handle("PATCH /portal/booking/draft", h.identified(h.PatchDraft))
	mux.Handle("DELETE /portal/booking/draft", h.identified(h.DeleteDraft))
	mux.Handle("GET /portal/booking/slots", h.identified(h.Slots))
	mux.Handle("POST /portal/booking/submit", h.identified(submit.ServeHTTP))
}

// identified puts the gateway identity on the request context so the API
// client forwards it.
func (h *PortalHandler) identified(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := httpx.IdentityFromRequest(r)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		next(w, r.WithContext(httpx.ContextWithIdentity(r.Context(), id)))
	})
}

func (h *PortalHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	httpx.WriteError(w, r, h.logger, err)
}

func providerOf(r *http.Request) (httpx.Identity, error) {
	id, _ := httpx.IdentityFromContext(r.Context())
	if !id.IsProvider() {
		return httpx.Identity{}, domain.Forbidden("provider access required")
	}
	return id, nil
}

func (h *PortalHandler) schedule(ctx context.Context, providerID string) (domain.ScheduleInfo, error) {
	return querycache.Fetch(ctx, h.cache, querycache.ScheduleKey(providerID), func(ctx context.Context) (domain.ScheduleInfo, error) {
		return h.remote.ScheduleInfo(ctx, providerID)
	})
}

// today is the provider's current date as a UTC midnight, the form the
// projector bins by.
func (h *PortalHandler) today(ctx context.Context, providerID string) time.Time {
	loc := time.UTC
	info, err := h.schedule(ctx, providerID)
	if err != nil {
		h.logger.Warn("schedule lookup failed, calendar uses UTC", "provider_id", providerID, "err", err)
	} else if l, err := time.LoadLocation(info.Timezone); err != nil {
		h.logger.Warn("unknown provider timezone, calendar uses UTC", "provider_id", providerID, "timezone", info.Timezone)
	} else {
		loc = l
	}
	y, m, d := h.now().In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func (h *PortalHandler) ScheduleInfo(w http.ResponseWriter, r *http.Request) {
	info, err := h.schedule(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, info)
}

func (h *PortalHandler) List(w http.ResponseWriter, r *http.Request) {
	id, err := providerOf(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	f, err := filters.Decode(r.URL.Query())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	q := filters.Query(f)
	page, err := querycache.Fetch(r.Context(), h.cache, querycache.ListKey(id.ProviderID, q), func(ctx context.Context) (domain.Page[domain.Appointment], error) {
		return h.remote.ListAppointments(ctx, q)
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, projector.List(page, f))
}

func (h *PortalHandler) Counts(w http.ResponseWriter, r *http.Request) {
	id, err := providerOf(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	counts, err := querycache.Fetch(r.Context(), h.cache, querycache.CountsKey(id.ProviderID), h.remote.Counts)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, counts)
}

type calendarResponse struct {
	View      projector.View       `json:"view"`
	StartDate string               `json:"start_date"`
	EndDate   string               `json:"end_date"`
	Month     *projector.MonthView `json:"month,omitempty"`
	Grid      *projector.GridView  `json:"grid,omitempty"`
}

// Calendar projects the appointments around date (default the provider's
// today) into a month grid or week/day hour grid.
func (h *PortalHandler) Calendar(w http.ResponseWriter, r *http.Request) {
	id, err := providerOf(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	q := r.URL.Query()
	view, err := projector.ParseView(q.Get("view"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var anchor time.Time
	if raw := q.Get("date"); raw != "" {
		if anchor, err = domain.ParseDate(raw, time.UTC); err != nil {
			h.fail(w, r, err)
			return
		}
	} else {
		anchor = h.today(r.Context(), id.ProviderID)
	}
	hours, err := h.hourRange(q.Get("from_hour"), q.Get("to_hour"))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	start, end := projector.CalendarRange(view, anchor, h.opts.WeekStart)
	startDate, endDate := start.Format(domain.DateLayout), end.Format(domain.DateLayout)
	appts, err := querycache.Fetch(r.Context(), h.cache, querycache.CalendarKey(id.ProviderID, startDate, endDate), func(ctx context.Context) ([]domain.Appointment, error) {
		return h.remote.Calendar(ctx, startDate, endDate)
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	resp := calendarResponse{View: view, StartDate: startDate, EndDate: endDate}
	switch view {
	case projector.ViewWeek:
		g := projector.Week(anchor, appts, h.opts.WeekStart, hours)
		resp.Grid = &g
	case projector.ViewDay:
		g := projector.Day(anchor, appts, hours)
		resp.Grid = &g
	default:
		m := projector.Month(anchor, appts, h.opts.WeekStart)
		resp.Month = &m
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

func (h *PortalHandler) hourRange(from, to string) (projector.HourRange, error) {
	hours := h.opts.Hours
	parse := func(field, raw string, dst *int) error {
		if raw == "" {
			return nil
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 || n > 24 {
			return domain.FieldError(field, field+" must be an hour between 0 and 24")
		}
		*dst = n
		return nil
	}
	if err := parse("from_hour", from, &hours.From); err != nil {
		return hours, err
	}
	if err := parse("to_hour", to, &hours.To); err != nil {
		return hours, err
	}
	if hours.To <= hours.From {
		return hours, domain.FieldError("to_hour", "to_hour must be after from_hour")
	}
	return hours, nil
}

type transitionRequest struct {
	// Status is the status the caller last saw.
	Status string `json:"status"`
	Date   string `json:"appointment_date"`
	Reason string `json:"cancellation_reason"`
}

func (h *PortalHandler) Transition(w http.ResponseWriter, r *http.Request) {
	action, err := domain.ParseAction(r.PathValue("action"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req transitionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	status, err := domain.ParseStatus(req.Status)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	id, _ := httpx.IdentityFromContext(r.Context())
	appt := domain.Appointment{
		ID:         r.PathValue("id"),
		ProviderID: id.ProviderID,
		Status:     status,
		Date:       req.Date,
	}
	if err := h.lifecycle.Apply(r.Context(), &appt, action, req.Reason); err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, projector.Entry{Appointment: appt, Category: projector.CategoryFor(appt.Status)})
}

type operatingHoursBody struct {
	OperatingHours []domain.DayHours `json:"operating_hours"`
}

func (h *PortalHandler) GetOperatingHours(w http.ResponseWriter, r *http.Request) {
	if _, err := providerOf(r); err != nil {
		h.fail(w, r, err)
		return
	}
	days, err := h.remote.OperatingHours(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, operatingHoursBody{OperatingHours: days})
}

// PutOperatingHours saves the weekly table and drops every cached slot list
// and schedule of the provider.
func (h *PortalHandler) PutOperatingHours(w http.ResponseWriter, r *http.Request) {
	id, err := providerOf(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var body operatingHoursBody
	if err := httpx.DecodeJSON(r, &body); err != nil {
		h.fail(w, r, err)
		return
	}
	if _, err := domain.FromDays(body.OperatingHours); err != nil {
		h.fail(w, r, err)
		return
	}
	days, err := h.remote.SaveOperatingHours(r.Context(), body.OperatingHours)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.cache.Invalidate(r.Context(), querycache.SlotPrefix(id.ProviderID, ""), querycache.ScheduleKey(id.ProviderID)); err != nil {
		h.logger.Warn("cache invalidation failed", "provider_id", id.ProviderID, "err", err)
	}
	httpx.WriteJSON(w, http.StatusOK, operatingHoursBody{OperatingHours: days})
}

func sessionOf(r *http.Request) (string, error) {
	s := strings.TrimSpace(r.Header.Get(httpx.SessionIDHeader))
	if s == "" {
		return "", domain.Validation("missing_session", "a booking session is required", map[string][]string{
			httpx.SessionIDHeader: {"header is required"},
		})
	}
	id, _ := httpx.IdentityFromContext(r.Context())
	return id.UserID + ":" + s, nil
}

type draftPatch struct {
	ProviderID       *string      `json:"provider_id"`
	SelectedServices *[]string    `json:"selected_services"`
	SelectedDate     *string      `json:"selected_date"`
	Notes            *string      `json:"notes"`
	SelectedSlot     *domain.Slot `json:"selected_slot"`
}

type draftResponse struct {
	draft.Draft
	Ready bool `json:"ready"`
}

func writeDraft(w http.ResponseWriter, d draft.Draft) {
	httpx.WriteJSON(w, http.StatusOK, draftResponse{Draft: d, Ready: d.Ready()})
}

func (h *PortalHandler) GetDraft(w http.ResponseWriter, r *http.Request) {
	session, err := sessionOf(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	d, err := h.wizard.Get(r.Context(), session)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeDraft(w, d)
}

// PatchDraft merges wizard inputs; a selected_slot in the same request is
// applied after the inputs it depends on.
func (h *PortalHandler) PatchDraft(w http.ResponseWriter, r *http.Request) {
	session, err := sessionOf(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req draftPatch
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	d, err := h.wizard.Update(r.Context(), session, draft.Partial{
		ProviderID:       req.ProviderID,
		SelectedServices: req.SelectedServices,
		SelectedDate:     req.SelectedDate,
		Notes:            req.Notes,
	})
	if err == nil && req.SelectedSlot != nil {
		d, err = h.wizard.SelectSlot(r.Context(), session, *req.SelectedSlot)
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeDraft(w, d)
}

func (h *PortalHandler) DeleteDraft(w http.ResponseWriter, r *http.Request) {
	session, err := sessionOf(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.wizard.Abandon(r.Context(), session); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *PortalHandler) Slots(w http.ResponseWriter, r *http.Request) {
	session, err := sessionOf(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	slots, err := h.wizard.LoadSlots(r.Context(), session)
	if errors.Is(err, draft.ErrSuperseded) {
		err = domain.Conflict("superseded", "the booking changed while slots were loading")
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, slots)
}

func (h *PortalHandler) Submit(w http.ResponseWriter, r *http.Request) {
	session, err := sessionOf(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	appt, err := h.wizard.Submit(r.Context(), session)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, appt)
}
