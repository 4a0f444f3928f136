// Package venuetime pins every displayed and stamped timestamp to the
// venue's own time zone.
package venuetime

import (
	"fmt"
	"time"
	_ "time/tzdata"
)

const (
	DefaultZone   = "America/Mexico_City"
	DisplayLayout = "02/01/2006 15:04:05"
	NaiveLayout   = "2006-01-02T15:04:05.000000"
	NotRecorded   = "not recorded"
)

type Zone struct {
	loc *time.Location
	now func() time.Time
}

func Load(name string) (*Zone, error) {
	if name == "" {
		name = DefaultZone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("load venue time zone %q: %w", name, err)
	}
	return &Zone{loc: loc, now: time.Now}, nil
}

func MustLoad(name string) *Zone {
	z, err := Load(name)
	if err != nil {
		panic(err)
	}
	return z
}

// WithClock returns a copy of z that reads the current time from now.
func (z *Zone) WithClock(now func() time.Time) *Zone {
	return &Zone{loc: z.loc, now: now}
}

func (z *Zone) Location() *time.Location {
	return z.loc
}

func (z *Zone) Now() time.Time {
	return z.now().In(z.loc)
}

// Local converts a timezone-aware instant to venue time. The instant is
// unchanged; only its presentation moves.
func (z *Zone) Local(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.In(z.loc)
}

// FromNaive interprets the wall clock of t as venue-local time, discarding
// whatever location t carries. Use it for values read from timezone-naive
// storage.
func (z *Zone) FromNaive(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), z.loc)
}

// ToNaive returns the venue wall clock of t labelled as UTC, the inverse of
// FromNaive.
func (z *Zone) ToNaive(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	l := t.In(z.loc)
	return time.Date(l.Year(), l.Month(), l.Day(), l.Hour(), l.Minute(), l.Second(), l.Nanosecond(), time.UTC)
}

func (z *Zone) FormatNaive(t time.Time) string {
	return z.ToNaive(t).Format(NaiveLayout)
}

func (z *Zone) ParseNaive(s string) (time.Time, error) {
	t, err := time.Parse(NaiveLayout, s)
	if err != nil {
		return time.Time{}, err
	}
	return z.FromNaive(t), nil
}

func (z *Zone) Format(t *time.Time) string {
	if t == nil || t.IsZero() {
		return NotRecorded
	}
	return z.Local(*t).Format(DisplayLayout)
}
