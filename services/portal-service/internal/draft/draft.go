// Package draft holds in-progress bookings per browser session and the wizard
// that moves a draft from service selection to a submitted appointment.
package draft

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/md-rashed-zaman/carebook/libs/domain"
)

// Draft is the accumulated wizard state. SlotKey records the fingerprint the
// selected slot was chosen under.
type Draft struct {
	ProviderID       string       `json:"provider_id,omitempty"`
	SelectedServices []string     `json:"selected_services,omitempty"`
	SelectedDate     string       `json:"selected_date,omitempty"`
	SelectedSlot     *domain.Slot `json:"selected_slot,omitempty"`
	SlotKey          string       `json:"slot_key,omitempty"`
	Notes            string       `json:"notes,omitempty"`
	UpdatedAt        time.Time    `json:"updated_at,omitzero"`
}

// Fingerprint identifies the inputs a slot list is computed from.
func (d Draft) Fingerprint() string {
	return d.ProviderID + "|" + d.SelectedDate + "|" + strings.Join(d.SelectedServices, ",")
}

// Ready reports whether slots can be requested.
func (d Draft) Ready() bool {
	return d.ProviderID != "" && d.SelectedDate != "" && len(d.SelectedServices) > 0
}

// SlotValid reports whether the selected slot belongs to the current inputs.
func (d Draft) SlotValid() bool {
	return d.SelectedSlot != nil && d.SlotKey == d.Fingerprint()
}

// Partial is a shallow patch. Nil fields are left untouched.
type Partial struct {
	ProviderID       *string      `json:"provider_id,omitempty"`
	SelectedServices *[]string    `json:"selected_services,omitempty"`
	SelectedDate     *string      `json:"selected_date,omitempty"`
	SelectedSlot     *domain.Slot `json:"selected_slot,omitempty"`
	SlotKey          *string      `json:"slot_key,omitempty"`
	Notes            *string      `json:"notes,omitempty"`
	// ClearSlot drops the selected slot and its key.
	ClearSlot bool `json:"clear_slot,omitempty"`
}

// Merge applies p to d. Service ids are kept as a sorted set.
func (d Draft) Merge(p Partial) Draft {
	if p.ProviderID != nil {
		d.ProviderID = strings.TrimSpace(*p.ProviderID)
	}
	if p.SelectedServices != nil {
		d.SelectedServices = normalizeServices(*p.SelectedServices)
	}
	if p.SelectedDate != nil {
		d.SelectedDate = strings.TrimSpace(*p.SelectedDate)
	}
	if p.Notes != nil {
		d.Notes = *p.Notes
	}
	if p.ClearSlot {
		d.SelectedSlot = nil
		d.SlotKey = ""
	}
	if p.SelectedSlot != nil {
		s := *p.SelectedSlot
		d.SelectedSlot = &s
	}
	if p.SlotKey != nil {
		d.SlotKey = *p.SlotKey
	}
	return d
}

func normalizeServices(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	out = slices.Compact(out)
	if len(out) == 0 {
		return nil
	}
	return out
}

// Store persists drafts by session id. Get returns an empty draft for an
// unknown session.
type Store interface {
	Get(ctx context.Context, session string) (Draft, error)
	SetData(ctx context.Context, session string, p Partial) (Draft, error)
	Clear(ctx context.Context, session string) error
}
