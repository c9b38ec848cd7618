// Package notice defines the notice record, the board query builder and the
// collaborator interfaces shared across subsystems.
package notice

import (
	"net/http"
	"time"
)

// Notice is one board post. It is treated as an immutable value once built.
type Notice struct {
	ID       int64  `json:"id"`
	Title    string `json:"title"`
	Category string `json:"category,omitempty"`
	Writer   string `json:"writer"`
	Date     string `json:"date"`
	Link     string `json:"link"`
}

// DateLayout is the board's yy.mm.dd date rendering.
const DateLayout = "06.01.02"

// FormatDate renders t the way the board prints notice dates.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// FetchRequest captures everything needed to fetch a board page.
type FetchRequest struct {
	URL     string
	Headers http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}
