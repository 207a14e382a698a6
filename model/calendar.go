package model

import "time"

const prettyDateLayout = "Monday, Jan 2"

// Calendar buckets a set of trips into days relative to Today.
type Calendar struct {
	Trips []Trip    `json:"trips"`
	Today time.Time `json:"today"`
}

// DailySchedule is the trips of one day, most imminent first.
type DailySchedule struct {
	Trips      []Trip    `json:"trips"`
	PrettyName string    `json:"prettyName"`
	Date       time.Time `json:"date"`
}

// NewCalendar anchors a calendar at the start of now's day, in now's location.
func NewCalendar(trips []Trip, now time.Time) Calendar {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	return Calendar{Trips: trips, Today: today}
}

// DailySchedule returns the schedule dayOffset days from today: 0 is today, 1 tomorrow.
func (c Calendar) DailySchedule(dayOffset int) DailySchedule {
	low := c.Today.AddDate(0, 0, dayOffset)
	high := low.AddDate(0, 0, 1)
	trips := []Trip{}
	for _, t := range c.Trips {
		if t.ShouldShow(low, high) {
			trips = append(trips, t)
		}
	}
	SortTrips(trips, Ascending)
	return DailySchedule{
		Trips:      trips,
		PrettyName: low.Format(prettyDateLayout),
		Date:       low,
	}
}

// Week returns seven daily schedules starting today.
func (c Calendar) Week() []DailySchedule {
	week := make([]DailySchedule, 0, 7)
	for i := 0; i < 7; i++ {
		week = append(week, c.DailySchedule(i))
	}
	return week
}
