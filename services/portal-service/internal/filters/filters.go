// Package filters holds the query shape of the provider appointment list and
// its canonical query-string form.
package filters

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/md-rashed-zaman/carebook/libs/domain"
)

const (
	DefaultStatus  = StatusPending
	DefaultPage    = 1
	DefaultPerPage = 25
	MaxPerPage     = 100

	// StatusAll lists every status.
	StatusAll = "all"
	// StatusPending is the inbox a provider lands on.
	StatusPending = string(domain.StatusPending)
)

type Filters struct {
	Status  string `json:"status"`
	Search  string `json:"search"`
	Page    int    `json:"page"`
	PerPage int    `json:"per_page"`
}

func Default() Filters {
	return Filters{Status: DefaultStatus, Page: DefaultPage, PerPage: DefaultPerPage}
}

// Patch is a partial update. Nil fields are left alone.
type Patch struct {
	Status  *string
	Search  *string
	Page    *int
	PerPage *int
}

func (p Patch) pageOnly() bool {
	return p.Status == nil && p.Search == nil && p.PerPage == nil
}

// Apply merges p into current. Changing anything other than the page starts
// again from page 1. Page and PerPage are clamped to their valid ranges.
func Apply(current Filters, p Patch) Filters {
	next := current
	if p.Status != nil {
		next.Status = *p.Status
	}
	if p.Search != nil {
		next.Search = strings.TrimSpace(*p.Search)
	}
	if p.PerPage != nil {
		next.PerPage = min(max(*p.PerPage, 1), MaxPerPage)
	}
	if p.pageOnly() {
		if p.Page != nil {
			next.Page = max(*p.Page, 1)
		}
		return next
	}
	next.Page = DefaultPage
	return next
}

func (f Filters) Validate() error {
	fields := map[string][]string{}
	if f.Status != StatusAll && !domain.Status(f.Status).Valid() {
		fields["status"] = append(fields["status"], "unknown status")
	}
	if f.Page < 1 {
		fields["page"] = append(fields["page"], "page must be a positive integer")
	}
	if f.PerPage < 1 || f.PerPage > MaxPerPage {
		fields["per_page"] = append(fields["per_page"], "per_page must be between 1 and "+strconv.Itoa(MaxPerPage))
	}
	if len(fields) > 0 {
		return domain.Validation("invalid_filters", "invalid filters", fields)
	}
	return nil
}

// Encode is the canonical URL form: default values are omitted.
func Encode(f Filters) url.Values {
	v := url.Values{}
	if f.Status != DefaultStatus {
		v.Set("status", f.Status)
	}
	if f.Search != "" {
		v.Set("search", f.Search)
	}
	if f.Page != DefaultPage {
		v.Set("page", strconv.Itoa(f.Page))
	}
	if f.PerPage != DefaultPerPage {
		v.Set("per_page", strconv.Itoa(f.PerPage))
	}
	return v
}

// Decode is the inverse of Encode; absent keys take their defaults.
func Decode(v url.Values) (Filters, error) {
	f := Default()
	if v.Has("status") {
		f.Status = strings.TrimSpace(v.Get("status"))
	}
	f.Search = strings.TrimSpace(v.Get("search"))

	fields := map[string][]string{}
	if raw := v.Get("page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			fields["page"] = append(fields["page"], "page must be a positive integer")
		}
		f.Page = n
	}
	if raw := v.Get("per_page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			fields["per_page"] = append(fields["per_page"], "per_page must be a positive integer")
		}
		f.PerPage = n
	}
	if len(fields) > 0 {
		return Filters{}, domain.Validation("invalid_filters", "invalid filters", fields)
	}
	if err := f.Validate(); err != nil {
		return Filters{}, err
	}
	return f, nil
}

// Query is the server query for f: status is dropped for "all" and
// pagination is always explicit.
func Query(f Filters) url.Values {
	v := url.Values{}
	if f.Status != "" && f.Status != StatusAll {
		v.Set("status", f.Status)
	}
	if f.Search != "" {
		v.Set("search", f.Search)
	}
	v.Set("page", strconv.Itoa(f.Page))
	v.Set("per_page", strconv.Itoa(f.PerPage))
	return v
}
