// Package apiclient calls the booking-service HTTP API on behalf of the portal
// and translates its failures into the shared error taxonomy.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/md-rashed-zaman/carebook/libs/domain"
	"github.com/md-rashed-zaman/carebook/libs/httpx"
)

type Client struct {
	baseURL string
	http    *http.Client
}

type Option func(*Client)

// WithHTTPClient replaces the traced default client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout:   10 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type CreateAppointmentRequest struct {
	ProviderID  string   `json:"provider_id"`
	ServiceIDs  []string `json:"service_ids"`
	Date        string   `json:"appointment_date"`
	StartTime   string   `json:"start_time"`
	EndTime     string   `json:"end_time"`
	Notes       string   `json:"notes,omitempty"`
	PatientName string   `json:"patient_name,omitempty"`
}

func (c *Client) ScheduleInfo(ctx context.Context, providerID string) (domain.ScheduleInfo, error) {
	var out domain.ScheduleInfo
	err := c.do(ctx, http.MethodGet, "/providers/"+url.PathEscape(providerID)+"/schedule-info", nil, nil, &out)
	return out, err
}

func (c *Client) AvailableSlots(ctx context.Context, providerID, date string, serviceIDs []string) ([]domain.Slot, error) {
	q := url.Values{"date": {date}}
	if len(serviceIDs) > 0 {
		q.Set("service_ids", strings.Join(serviceIDs, ","))
	}
	out := []domain.Slot{}
	err := c.do(ctx, http.MethodGet, "/providers/"+url.PathEscape(providerID)+"/available-slots", q, nil, &out)
	return out, err
}

func (c *Client) CreateAppointment(ctx context.Context, req CreateAppointmentRequest) (domain.Appointment, error) {
	var out domain.Appointment
	err := c.do(ctx, http.MethodPost, "/appointments", nil, req, &out)
	return out, err
}

// ListAppointments forwards the filter query as is.
func (c *Client) ListAppointments(ctx context.Context, query url.Values) (domain.Page[domain.Appointment], error) {
	var out domain.Page[domain.Appointment]
	err := c.do(ctx, http.MethodGet, "/provider/appointments", query, nil, &out)
	return out, err
}

func (c *Client) Counts(ctx context.Context) (domain.Counts, error) {
	var out domain.Counts
	err := c.do(ctx, http.MethodGet, "/provider/appointments/counts", nil, nil, &out)
	return out, err
}

func (c *Client) Calendar(ctx context.Context, startDate, endDate string) ([]domain.Appointment, error) {
	q := url.Values{"start_date": {startDate}, "end_date": {endDate}}
	out := []domain.Appointment{}
	err := c.do(ctx, http.MethodGet, "/provider/calendar-appointments", q, nil, &out)
	return out, err
}

func (c *Client) Transition(ctx context.Context, appointmentID string, action domain.Action, reason string) (domain.Appointment, error) {
	var body any
	if reason != "" {
		body = map[string]string{"cancellation_reason": reason}
	}
	var out domain.Appointment
	path := "/appointments/" + url.PathEscape(appointmentID) + "/" + action.Path()
	err := c.do(ctx, http.MethodPost, path, nil, body, &out)
	return out, err
}

func (c *Client) OperatingHours(ctx context.Context) ([]domain.DayHours, error) {
	var out struct {
		OperatingHours []domain.DayHours `json:"operating_hours"`
	}
	err := c.do(ctx, http.MethodGet, "/provider/operating-hours", nil, nil, &out)
	return out.OperatingHours, err
}

func (c *Client) SaveOperatingHours(ctx context.Context, days []domain.DayHours) ([]domain.DayHours, error) {
	in := map[string][]domain.DayHours{"operating_hours": days}
	var out struct {
		OperatingHours []domain.DayHours `json:"operating_hours"`
	}
	err := c.do(ctx, http.MethodPut, "/provider/operating-hours", nil, in, &out)
	return out.OperatingHours, err
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return domain.Unknown("encode request", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return domain.Unknown("build request", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	httpx.PropagateRequestID(ctx, req)
	if id, ok := httpx.IdentityFromContext(ctx); ok {
		httpx.SetIdentityHeaders(req, id)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.Unknown("booking service unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return domain.Unknown("decode response", err)
	}
	return nil
}

// decodeError keeps the server's message and field errors but derives the
// kind from the status, so a misbehaving server cannot claim another kind.
func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var body domain.Error
	_ = json.Unmarshal(raw, &body)

	kind := domain.KindFromStatus(resp.StatusCode, body.Code)
	if kind == domain.KindUnknown {
		return domain.Unknown("booking service failed", fmt.Errorf("status %d", resp.StatusCode))
	}
	if body.Message == "" {
		body.Message = http.StatusText(resp.StatusCode)
	}
	return &domain.Error{Kind: kind, Code: body.Code, Message: body.Message, Fields: body.Fields}
}
