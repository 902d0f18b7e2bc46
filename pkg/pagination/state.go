package pagination

// Page size bounds applied by Clamp.
const (
	DefaultPerPage = 10
	MaxPerPage     = 100
)

// State is the page window of a list view. It is a value type: every
// change produces a new State, so a copy handed to a renderer never moves.
type State struct {
	Page    int `json:"page"`
	PerPage int `json:"per_page"`
	Total   int `json:"total"`
}

// NewState returns page 1 of an empty result with the given page size.
func NewState(perPage int) State {
	return State{Page: 1, PerPage: perPage}.Clamp()
}

// LastPage returns the highest valid page number, never less than 1.
func (s State) LastPage() int {
	perPage := clampPerPage(s.PerPage)
	if s.Total <= 0 {
		return 1
	}
	return (s.Total + perPage - 1) / perPage
}

// Clamp forces the state into range instead of rejecting it:
// Total >= 0, PerPage in [1, MaxPerPage], Page in [1, LastPage()].
func (s State) Clamp() State {
	if s.Total < 0 {
		s.Total = 0
	}
	s.PerPage = clampPerPage(s.PerPage)
	if last := s.LastPage(); s.Page > last {
		s.Page = last
	}
	if s.Page < 1 {
		s.Page = 1
	}
	return s
}

// WithPage moves to page p, clamped against the known total.
func (s State) WithPage(p int) State {
	s.Page = p
	return s.Clamp()
}

// WithPerPage changes the page size and returns to page 1.
func (s State) WithPerPage(n int) State {
	s.PerPage = n
	s.Page = 1
	return s.Clamp()
}

// WithTotal records a new total and re-clamps the page.
func (s State) WithTotal(total int) State {
	s.Total = total
	return s.Clamp()
}

// HasNext reports whether a page after the current one exists.
func (s State) HasNext() bool {
	return s.Page < s.LastPage()
}

// HasPrev reports whether a page before the current one exists.
func (s State) HasPrev() bool {
	return s.Page > 1
}

func clampPerPage(n int) int {
	switch {
	case n < 1:
		return 1
	case n > MaxPerPage:
		return MaxPerPage
	default:
		return n
	}
}
