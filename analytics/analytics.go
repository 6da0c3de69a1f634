// Package analytics computes adherence statistics from dose history.
//
// Everything here is a pure function over (events, window, now): no clocks,
// no storage.  Callers pass the same retention-trimmed event list the UI
// shows, so the numbers always agree with what the user sees.
package analytics

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/israfil-hossain/mediremind/dbtypes"
)

// AdherenceStats summarizes dose history over a window.
type AdherenceStats struct {
	TotalDoses  int
	TakenDoses  int
	MissedDoses int

	// AdherenceRate is a percentage with one decimal of precision.  It is
	// zero, not NaN, when no doses were recorded.
	AdherenceRate float64

	// CurrentStreak counts consecutive taken doses ending at the most
	// recent event.  Streaks blend all medications: one missed dose of
	// anything resets the count.
	CurrentStreak int

	// LongestStreak is the longest run of consecutive taken doses across
	// the whole window.
	LongestStreak int
}

// MedicationStats is the per-medication adherence breakdown.
type MedicationStats struct {
	MedicationID string
	Name         string
	TotalDoses   int
	TakenDoses   int
	Rate         float64
}

// WeekBucket is one 7-day column of the weekly trend.
type WeekBucket struct {
	// Label is the bucket's start day as "M/D".
	Label string
	Total int
	Taken int
	Rate  float64
}

// TimeOfDayBreakdown counts taken doses by local time of day.
type TimeOfDayBreakdown struct {
	Morning   int // 06:00-11:59
	Afternoon int // 12:00-17:59
	Evening   int // 18:00-21:59
	Night     int // 22:00-05:59
}

func roundRate(taken, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(taken)/float64(total)*1000) / 10
}

func inWindow(events []dbtypes.DoseEvent, days int, now time.Time) []dbtypes.DoseEvent {
	if days <= 0 {
		return events
	}
	cutoff := now.AddDate(0, 0, -days)
	var kept []dbtypes.DoseEvent
	for _, e := range events {
		if !e.Timestamp.Before(cutoff) && !e.Timestamp.After(now) {
			kept = append(kept, e)
		}
	}
	return kept
}

func startOfDay(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// Stats computes the headline adherence numbers over the trailing window of
// `days` days.  days <= 0 means all history.
func Stats(events []dbtypes.DoseEvent, days int, now time.Time) AdherenceStats {
	events = inWindow(events, days, now)

	stats := AdherenceStats{TotalDoses: len(events)}
	for _, e := range events {
		if e.Taken {
			stats.TakenDoses++
		}
	}
	stats.MissedDoses = stats.TotalDoses - stats.TakenDoses
	stats.AdherenceRate = roundRate(stats.TakenDoses, stats.TotalDoses)

	// Streaks run over the time-ordered event sequence.  The caller's
	// slice order is not trusted.
	ordered := make([]dbtypes.DoseEvent, len(events))
	copy(ordered, events)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Timestamp.Before(ordered[j].Timestamp)
	})

	run := 0
	for _, e := range ordered {
		if e.Taken {
			run++
		} else {
			run = 0
		}
		if run > stats.LongestStreak {
			stats.LongestStreak = run
		}
	}

	// Current streak reads the same sequence from the tail: consecutive
	// taken doses up to the first miss.
	for i := len(ordered) - 1; i >= 0; i-- {
		if !ordered[i].Taken {
			break
		}
		stats.CurrentStreak++
	}

	return stats
}

// PerMedication breaks adherence down by medication, sorted worst-last so
// the most reliable medication leads.
func PerMedication(meds []dbtypes.Medication, events []dbtypes.DoseEvent, days int, now time.Time) []MedicationStats {
	events = inWindow(events, days, now)

	// Every medication gets a row, even with no events in the window.  A
	// never-logged medication reports a rate of zero rather than vanishing.
	byMed := map[string]*MedicationStats{}
	var order []string
	for _, m := range meds {
		byMed[m.ID] = &MedicationStats{MedicationID: m.ID, Name: m.Name}
		order = append(order, m.ID)
	}
	for _, e := range events {
		s, ok := byMed[e.MedicationID]
		if !ok {
			// Event for a medication the caller no longer tracks.
			continue
		}
		s.TotalDoses++
		if e.Taken {
			s.TakenDoses++
		}
	}

	var stats []MedicationStats
	for _, id := range order {
		s := byMed[id]
		s.Rate = roundRate(s.TakenDoses, s.TotalDoses)
		stats = append(stats, *s)
	}
	sort.SliceStable(stats, func(i, j int) bool { return stats[i].Rate > stats[j].Rate })
	return stats
}

// WeeklyTrend buckets history into `weeks` 7-day columns, oldest first, with
// the most recent bucket ending today.
func WeeklyTrend(events []dbtypes.DoseEvent, weeks int, now time.Time) []WeekBucket {
	if weeks <= 0 {
		return nil
	}

	loc := now.Location()
	today := startOfDay(now, loc)

	buckets := make([]WeekBucket, weeks)
	for k := range buckets {
		offset := weeks - 1 - k
		end := today.AddDate(0, 0, -7*offset+1)
		start := end.AddDate(0, 0, -7)
		buckets[k].Label = fmt.Sprintf("%d/%d", int(start.Month()), start.Day())

		for _, e := range events {
			ts := e.Timestamp.In(loc)
			if ts.Before(start) || !ts.Before(end) {
				continue
			}
			buckets[k].Total++
			if e.Taken {
				buckets[k].Taken++
			}
		}
		buckets[k].Rate = roundRate(buckets[k].Taken, buckets[k].Total)
	}
	return buckets
}

// TimeOfDay counts taken doses by local time of day over the trailing
// window.
func TimeOfDay(events []dbtypes.DoseEvent, days int, now time.Time) TimeOfDayBreakdown {
	events = inWindow(events, days, now)
	loc := now.Location()

	var tod TimeOfDayBreakdown
	for _, e := range events {
		if !e.Taken {
			continue
		}
		switch h := e.Timestamp.In(loc).Hour(); {
		case h >= 6 && h < 12:
			tod.Morning++
		case h >= 12 && h < 18:
			tod.Afternoon++
		case h >= 18 && h < 22:
			tod.Evening++
		default:
			tod.Night++
		}
	}
	return tod
}

// Best returns the name of the most reliable time of day, or "" when no
// doses were taken.
func (t TimeOfDayBreakdown) Best() string {
	best, n := "", 0
	for _, c := range []struct {
		name  string
		count int
	}{
		{"morning", t.Morning},
		{"afternoon", t.Afternoon},
		{"evening", t.Evening},
		{"night", t.Night},
	} {
		if c.count > n {
			best, n = c.name, c.count
		}
	}
	return best
}
