// Package lifecycle applies status transitions to appointments the portal has
// rendered. Illegal transitions are rejected locally before any request.
package lifecycle

import (
	"cmp"
	"context"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/md-rashed-zaman/carebook/libs/domain"
	"github.com/md-rashed-zaman/carebook/services/portal-service/internal/querycache"
)

type Remote interface {
	Transition(ctx context.Context, appointmentID string, action domain.Action, reason string) (domain.Appointment, error)
}

type Manager struct {
	remote Remote
	cache  querycache.Invalidator
	logger *slog.Logger
}

func NewManager(remote Remote, cache querycache.Invalidator, logger *slog.Logger) *Manager {
	return &Manager{remote: remote, cache: cache, logger: logger}
}

func (m *Manager) Confirm(ctx context.Context, appt *domain.Appointment) error {
	return m.Apply(ctx, appt, domain.ActionConfirm, "")
}

func (m *Manager) Complete(ctx context.Context, appt *domain.Appointment) error {
	return m.Apply(ctx, appt, domain.ActionComplete, "")
}

func (m *Manager) Cancel(ctx context.Context, appt *domain.Appointment, reason string) error {
	return m.Apply(ctx, appt, domain.ActionCancel, reason)
}

func (m *Manager) MarkNoShow(ctx context.Context, appt *domain.Appointment, reason string) error {
	return m.Apply(ctx, appt, domain.ActionNoShow, reason)
}

// Apply runs action against appt. On success *appt is replaced by the
// server's copy; on failure it is left untouched.
func (m *Manager) Apply(ctx context.Context, appt *domain.Appointment, action domain.Action, reason string) error {
	if appt == nil || appt.ID == "" {
		return domain.FieldError("appointment_id", "appointment is required")
	}
	if err := domain.Transition(appt.Status, action.Target()); err != nil {
		return err
	}
	reason = strings.TrimSpace(reason)
	if action.RequiresReason() && reason == "" {
		return domain.FieldError("cancellation_reason", "a reason is required")
	}
	if !action.RequiresReason() {
		reason = ""
	}

	ctx, span := otel.Tracer("portal-service/lifecycle").Start(ctx, "lifecycle."+string(action))
	defer span.End()
	span.SetAttributes(
		attribute.String("appointment_id", appt.ID),
		attribute.String("from_status", string(appt.Status)),
	)

	updated, err := m.remote.Transition(ctx, appt.ID, action, reason)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transition failed")
		// Our copy was stale; make the views refetch.
		if domain.IsKind(err, domain.KindInvalidState) {
			m.invalidate(ctx, querycache.AppointmentPrefixes(appt.ProviderID))
		}
		return err
	}

	prev := *appt
	*appt = updated
	// The caller's copy may be partial (a patient knows no provider id), so
	// the keys come from the server's copy.
	providerID := cmp.Or(updated.ProviderID, prev.ProviderID)
	prefixes := querycache.AppointmentPrefixes(providerID)
	if !updated.Blocking() {
		prefixes = append(prefixes, querycache.SlotPrefix(providerID, cmp.Or(updated.Date, prev.Date)))
	}
	m.invalidate(ctx, prefixes)
	m.logger.Info("appointment transitioned",
		"appointment_id", updated.ID,
		"action", string(action),
		"from", string(prev.Status),
		"to", string(updated.Status),
	)
	return nil
}

func (m *Manager) invalidate(ctx context.Context, prefixes []string) {
	if err := m.cache.Invalidate(ctx, prefixes...); err != nil {
		m.logger.Warn("cache invalidation failed", "prefixes", prefixes, "err", err)
	}
}
