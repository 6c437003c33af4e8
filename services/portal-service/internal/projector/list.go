package projector

import (
	"github.com/md-rashed-zaman/carebook/libs/domain"
	"github.com/md-rashed-zaman/carebook/services/portal-service/internal/filters"
)

type ListView struct {
	Rows    []Entry         `json:"rows"`
	Meta    domain.PageMeta `json:"meta"`
	Filters filters.Filters `json:"filters"`
	Query   string          `json:"query"`
	// From and To are 1-based positions of the first and last row; both are
	// zero for an empty page.
	From      int    `json:"from"`
	To        int    `json:"to"`
	HasPrev   bool   `json:"has_prev"`
	HasNext   bool   `json:"has_next"`
	PrevQuery string `json:"prev_query,omitempty"`
	NextQuery string `json:"next_query,omitempty"`
}

// List keeps the server's row order.
func List(page domain.Page[domain.Appointment], f filters.Filters) ListView {
	v := ListView{
		Rows:    make([]Entry, 0, len(page.Data)),
		Meta:    page.Meta,
		Filters: f,
		Query:   filters.Encode(f).Encode(),
	}
	for _, a := range page.Data {
		v.Rows = append(v.Rows, entryFor(a))
	}
	if n := len(v.Rows); n > 0 {
		v.From = (page.Meta.Page-1)*page.Meta.PerPage + 1
		v.To = v.From + n - 1
	}
	v.HasPrev = page.Meta.Page > 1
	v.HasNext = page.Meta.Page < page.Meta.TotalPages
	if v.HasPrev {
		v.PrevQuery = pageQuery(f, page.Meta.Page-1)
	}
	if v.HasNext {
		v.NextQuery = pageQuery(f, page.Meta.Page+1)
	}
	return v
}

func pageQuery(f filters.Filters, page int) string {
	return filters.Encode(filters.Apply(f, filters.Patch{Page: &page})).Encode()
}
