package billing

import (
	"fmt"
	"github.com/ariefcatur/go-stockflow/internal/apperr"
	"strings"
	"time"
	_ "time/tzdata"
)

type Preference string

const (
	Weekly  Preference = "weekly"
	Monthly Preference = "monthly"
)

const DefaultTimezone = "Asia/Kolkata"

// ParsePreference normalizes a stored preference; empty means monthly.
func ParsePreference(s string) (Preference, error) {
	switch Preference(strings.ToLower(strings.TrimSpace(s))) {
	case "", Monthly:
		return Monthly, nil
	case Weekly:
		return Weekly, nil
	default:
		return "", apperr.InvalidArgument("invalid payment preference %q, choose either 'weekly' or 'monthly'", s)
	}
}

// Window is the range of order creation instants a billing run covers.
// Both bounds are inclusive and expressed in UTC.
type Window struct {
	Start time.Time
	End   time.Time
}

func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

// Calendar computes billing windows and due dates in one civil timezone.
type Calendar struct {
	loc *time.Location
}

func NewCalendar(tz string) (*Calendar, error) {
	if tz == "" {
		tz = DefaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("load billing timezone %q: %w", tz, err)
	}
	return &Calendar{loc: loc}, nil
}

// MustCalendar is for the fixed default zone, which is embedded via tzdata.
func MustCalendar(tz string) *Calendar {
	c, err := NewCalendar(tz)
	if err != nil {
		panic(err)
	}
	return c
}

func (c *Calendar) Location() *time.Location { return c.loc }

func (c *Calendar) Window(p Preference, ref time.Time) Window {
	local := ref.In(c.loc)
	var start time.Time
	if p == Weekly {
		start = c.startOfDay(local.AddDate(0, 0, -7))
	} else {
		start = time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, c.loc)
	}
	return Window{Start: start.UTC(), End: c.endOfDay(local).UTC()}
}

func (c *Calendar) DueDate(p Preference, ref time.Time) time.Time {
	days := 7
	if p == Weekly {
		days = 4
	}
	return ref.In(c.loc).AddDate(0, 0, days).UTC()
}

func (c *Calendar) startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, c.loc)
}

// endOfDay is the last millisecond of t's civil day.
func (c *Calendar) endOfDay(t time.Time) time.Time {
	return c.startOfDay(t).AddDate(0, 0, 1).Add(-time.Millisecond)
}
