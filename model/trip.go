package model

import (
	"fmt"
	"sort"
	"time"

	"github.com/mmcloughlin/geohash"
)

// GeohashPrecision is the number of geohash characters stored for an event location, roughly a
// 1.2km by 0.6km cell.
const GeohashPrecision = 6

// Location is an exact point. Only its reduced-precision geohash is ever stored.
type Location struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Geohash encodes the location at GeohashPrecision.
func (l Location) Geohash() (string, error) {
	if l.Lat < -90 || l.Lat > 90 || l.Lng < -180 || l.Lng > 180 {
		return "", fmt.Errorf("location %v,%v out of range", l.Lat, l.Lng)
	}
	return geohash.EncodeWithPrecision(l.Lat, l.Lng, GeohashPrecision), nil
}

// Event is the occasion a trip is built around.
type Event struct {
	Key         string     `json:"key"`
	Description string     `json:"description"`
	Owner       User       `json:"owner"`
	Time        time.Time  `json:"time"`
	EndTime     *time.Time `json:"endTime,omitempty"`
	Geohash     string     `json:"geohash,omitempty"`
}

// Location decodes the stored geohash to the centre of its cell.
func (e Event) Location() (Location, bool) {
	if e.Geohash == "" || geohash.Validate(e.Geohash) != nil {
		return Location{}, false
	}
	lat, lng := geohash.DecodeCenter(e.Geohash)
	return Location{Lat: lat, Lng: lng}, true
}

// Before orders events by start time ascending.
func (e Event) Before(o Event) bool {
	return e.Time.Before(o.Time)
}

// LegKind names one of the two legs of a trip.
type LegKind string

const (
	DropOff LegKind = "dropOff"
	PickUp  LegKind = "pickUp"
)

// Valid reports whether k is a known leg.
func (k LegKind) Valid() bool {
	return k == DropOff || k == PickUp
}

// Leg is a claimed directional segment of a trip. Unclaimed legs are nil on the trip.
type Leg struct {
	Driver User `json:"driver"`
}

// Comment is immutable once created and attached to exactly one trip.
type Comment struct {
	Key  string    `json:"key"`
	Time time.Time `json:"time"`
	Body string    `json:"body"`
	User User      `json:"user"`
}

// Trip is an event plus its drop-off and pick-up legs.
type Trip struct {
	Key      string    `json:"key"`
	Event    Event     `json:"event"`
	DropOff  *Leg      `json:"dropOff,omitempty"`
	PickUp   *Leg      `json:"pickUp,omitempty"`
	Children []Child   `json:"children"`
	Comments []Comment `json:"comments"`
	Repeats  bool      `json:"repeats"`
}

// DropOffIsClaimed reports whether someone drives the drop-off leg.
func (t Trip) DropOffIsClaimed() bool {
	return t.DropOff != nil
}

// PickUpIsClaimed reports whether someone drives the pick-up leg.
func (t Trip) PickUpIsClaimed() bool {
	return t.PickUp != nil
}

// Leg returns the leg of the given kind, nil when unclaimed.
func (t Trip) Leg(kind LegKind) *Leg {
	switch kind {
	case DropOff:
		return t.DropOff
	case PickUp:
		return t.PickUp
	}
	return nil
}

// Equal compares trips by key.
func (t Trip) Equal(o Trip) bool {
	return t.Key == o.Key
}

// OwnedBy reports whether uid owns the trip's event.
func (t Trip) OwnedBy(uid string) bool {
	return uid != "" && t.Event.Owner.Key == uid
}

// ShouldShow reports whether the trip happens within [low, high). A repeating trip also shows
// on the same weekday and time of day in any week after its first occurrence.
func (t Trip) ShouldShow(low, high time.Time) bool {
	start := t.Event.Time
	if !start.Before(low) && start.Before(high) {
		return true
	}
	if !t.Repeats {
		return false
	}
	start = start.In(low.Location())
	day := time.Date(low.Year(), low.Month(), low.Day(), 0, 0, 0, 0, low.Location())
	for ; day.Before(high); day = day.AddDate(0, 0, 1) {
		if day.Weekday() != start.Weekday() {
			continue
		}
		candidate := time.Date(day.Year(), day.Month(), day.Day(),
			start.Hour(), start.Minute(), start.Second(), start.Nanosecond(), low.Location())
		if candidate.Before(start) {
			continue
		}
		if !candidate.Before(low) && candidate.Before(high) {
			return true
		}
	}
	return false
}

// Direction selects a sort order for trips.
type Direction int

const (
	// Ascending puts the earliest event first; schedules use it so the most imminent trip
	// leads.
	Ascending Direction = iota
	// Descending puts the latest event first; live trip lists use it.
	Descending
)

// SortTrips sorts in place by event time, ties broken by key.
func SortTrips(trips []Trip, dir Direction) {
	sort.SliceStable(trips, func(i, j int) bool {
		a, b := trips[i], trips[j]
		if a.Event.Time.Equal(b.Event.Time) {
			return a.Key < b.Key
		}
		if dir == Descending {
			return b.Event.Before(a.Event)
		}
		return a.Event.Before(b.Event)
	})
}

// SortComments sorts comments oldest first.
func SortComments(comments []Comment) {
	sort.SliceStable(comments, func(i, j int) bool {
		return comments[i].Time.Before(comments[j].Time)
	})
}
