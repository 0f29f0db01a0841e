// Package clock scopes queue queries to the clinic's local calendar day.
package clock

import (
	"fmt"
	"time"

	"github.com/jinzhu/now"
)

// Clock supplies the current instant in the clinic's timezone.
type Clock interface {
	Now() time.Time
	Location() *time.Location
}

// DayWindow is the closed interval [Start, End] of one local calendar day.
type DayWindow struct {
	Start time.Time
	End   time.Time
}

type systemClock struct {
	loc *time.Location
}

// New returns a wall clock reporting time in loc.
func New(loc *time.Location) Clock {
	if loc == nil {
		loc = time.UTC
	}
	return &systemClock{loc: loc}
}

func (c *systemClock) Now() time.Time           { return time.Now().In(c.loc) }
func (c *systemClock) Location() *time.Location { return c.loc }

// FixedClock always reports the same instant. Useful in tests and replays.
type FixedClock struct {
	At  time.Time
	Loc *time.Location
}

func (c *FixedClock) Now() time.Time {
	return c.At.In(c.Location())
}

func (c *FixedClock) Location() *time.Location {
	if c.Loc == nil {
		return time.UTC
	}
	return c.Loc
}

// LoadLocation resolves an IANA timezone name; empty means UTC.
func LoadLocation(name string) (*time.Location, error) {
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", name, err)
	}
	return loc, nil
}

// DayOf returns the local day containing t.
func DayOf(t time.Time, loc *time.Location) DayWindow {
	if loc == nil {
		loc = time.UTC
	}
	cfg := &now.Config{WeekStartDay: time.Monday, TimeLocation: loc}
	n := cfg.With(t.In(loc))
	return DayWindow{
		Start: n.BeginningOfDay(),
		End:   n.EndOfDay(),
	}
}

// Today returns the local day containing c.Now().
func Today(c Clock) DayWindow {
	return DayOf(c.Now(), c.Location())
}

// Contains reports whether t falls inside the window.
func (w DayWindow) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}
