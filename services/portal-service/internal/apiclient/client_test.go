package apiclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/md-rashed-zaman/carebook/libs/domain"
	"github.com/md-rashed-zaman/carebook/libs/httpx"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(srv.URL, WithHTTPClient(srv.Client()))
}

func TestAvailableSlotsForwardsQueryAndHeaders(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/providers/p1/available-slots", r.URL.Path)
		assert.Equal(t, "2025-01-06", r.URL.Query().Get("date"))
		assert.Equal(t, "s1,s2", r.URL.Query().Get("service_ids"))
		assert.Equal(t, "req-1", r.Header.Get(httpx.RequestIDHeader))
		assert.Equal(t, "u1", r.Header.Get(httpx.UserIDHeader))
		httpx.WriteJSON(w, http.StatusOK, []domain.Slot{{StartTime: "09:00", EndTime: "09:30", Label: "9:00 AM - 9:30 AM"}})
	})

	ctx := httpx.ContextWithRequestID(context.Background(), "req-1")
	ctx = httpx.ContextWithIdentity(ctx, httpx.Identity{UserID: "u1", Role: httpx.RolePatient})
	slots, err := c.AvailableSlots(ctx, "p1", "2025-01-06", []string{"s1", "s2"})
	require.NoError(t, err)
	require.Len(t, slots, 1)
	assert.Equal(t, "09:00", slots[0].StartTime)
}

func TestTransitionSendsReason(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/appointments/a1/no-show", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "did not arrive", body["cancellation_reason"])
		httpx.WriteJSON(w, http.StatusOK, domain.Appointment{ID: "a1", Status: domain.StatusNoShow})
	})

	appt, err := c.Transition(context.Background(), "a1", domain.ActionNoShow, "did not arrive")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusNoShow, appt.Status)
}

func TestListAppointmentsDecodesPage(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "confirmed", r.URL.Query().Get("status"))
		httpx.WriteJSON(w, http.StatusOK, domain.Page[domain.Appointment]{
			Data: []domain.Appointment{{ID: "a2"}, {ID: "a1"}},
			Meta: domain.NewPageMeta(1, 25, 2),
		})
	})

	page, err := c.ListAppointments(context.Background(), url.Values{"status": {"confirmed"}})
	require.NoError(t, err)
	assert.Len(t, page.Data, 2)
	assert.Equal(t, 1, page.Meta.TotalPages)
}

func TestErrorTranslation(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   *domain.Error
		kind   domain.Kind
	}{
		{"validation", http.StatusUnprocessableEntity, domain.FieldError("date", "date is in the past"), domain.KindValidation},
		{"slot taken", http.StatusUnprocessableEntity, domain.SlotUnavailable("slot taken"), domain.KindConflict},
		{"not found", http.StatusNotFound, domain.NotFound("provider not found"), domain.KindNotFound},
		{"invalid state", http.StatusConflict, domain.InvalidState("cannot confirm"), domain.KindInvalidState},
		{"forbidden", http.StatusForbidden, nil, domain.KindAuth},
		{"server", http.StatusBadGateway, nil, domain.KindUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				if tc.body == nil {
					w.WriteHeader(tc.status)
					return
				}
				httpx.WriteJSON(w, tc.status, tc.body)
			})
			_, err := c.CreateAppointment(context.Background(), CreateAppointmentRequest{ProviderID: "p1"})
			require.Error(t, err)
			assert.Equal(t, tc.kind, domain.KindOf(err))
		})
	}
}

func TestValidationFieldsSurvive(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusUnprocessableEntity, domain.FieldError("date", "date is in the past"))
	})
	_, err := c.ScheduleInfo(context.Background(), "p1")
	var de *domain.Error
	require.ErrorAs(t, err, &de)
	assert.Equal(t, []string{"date is in the past"}, de.Fields["date"])
}

func TestNetworkFailureIsUnknown(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	c := New(srv.URL, WithHTTPClient(srv.Client()))
	srv.Close()

	_, err := c.Counts(context.Background())
	require.Error(t, err)
	assert.True(t, domain.Retryable(err))
}
