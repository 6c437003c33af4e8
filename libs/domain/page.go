package domain

type PageMeta struct {
	Page       int `json:"page"`
	PerPage    int `json:"per_page"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

type Page[T any] struct {
	Data []T      `json:"data"`
	Meta PageMeta `json:"meta"`
}

func NewPageMeta(page, perPage, total int) PageMeta {
	pages := 0
	if perPage > 0 {
		pages = (total + perPage - 1) / perPage
	}
	return PageMeta{Page: page, PerPage: perPage, Total: total, TotalPages: pages}
}

// Counts maps each status to its number of appointments; All is the sum.
type Counts struct {
	ByStatus map[Status]int `json:"by_status"`
	All      int            `json:"all"`
}

func NewCounts(byStatus map[Status]int) Counts {
	c := Counts{ByStatus: make(map[Status]int, len(Statuses))}
	for _, s := range Statuses {
		n := byStatus[s]
		c.ByStatus[s] = n
		c.All += n
	}
	return c
}
