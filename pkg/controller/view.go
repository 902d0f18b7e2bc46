package controller

import (
	"time"

	"github.com/Sternrassler/fwmon-client/pkg/pagination"
	"github.com/Sternrassler/fwmon-client/pkg/poll"
)

// ViewModel is an immutable snapshot of a view for rendering.
type ViewModel struct {
	View       string             `json:"view"`
	Rows       []pagination.Row   `json:"rows"`
	Pagination pagination.State   `json:"pagination"`
	Filter     pagination.Filter  `json:"filter"`
	Requested  pagination.Request `json:"requested"`
	Poll       poll.Status        `json:"poll"`
	Error      *Error             `json:"error,omitempty"`
	Loading    bool               `json:"loading"`
	UpdatedAt  time.Time          `json:"updated_at,omitempty"`
	Version    uint64             `json:"version"`
}

// HasError reports whether the error slot is set.
func (v ViewModel) HasError() bool {
	return v.Error != nil
}

// Keys returns the row keys in display order.
func (v ViewModel) Keys() []string {
	keys := make([]string, len(v.Rows))
	for i, row := range v.Rows {
		keys[i] = row.Key
	}
	return keys
}
