// Package system provides the wall clock used outside tests.
package system

import (
	"fmt"
	"time"
	// embedded zone database so Asia/Seoul resolves in minimal images
	_ "time/tzdata"
)

// DefaultZone is the board's home time zone.
const DefaultZone = "Asia/Seoul"

// Clock reports the current time in a fixed location.
type Clock struct {
	loc *time.Location
}

// New creates a Clock for loc. A nil loc means UTC.
func New(loc *time.Location) *Clock {
	if loc == nil {
		loc = time.UTC
	}
	return &Clock{loc: loc}
}

// Load resolves an IANA zone name, defaulting to Asia/Seoul.
func Load(name string) (*time.Location, error) {
	if name == "" {
		name = DefaultZone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("load time zone %q: %w", name, err)
	}
	return loc, nil
}

// Now returns the current time in the clock's location.
func (c *Clock) Now() time.Time {
	return time.Now().In(c.loc)
}

// Location returns the clock's location.
func (c *Clock) Location() *time.Location {
	return c.loc
}
