package availability

import (
	"iter"
	"time"
)

type Interval struct {
	Start time.Time
	End   time.Time
}

// Windows yields [t, t+duration) for t = start, start+step, ... while the
// window still ends at or before end. The sequence is finite and ordered.
func Windows(start, end time.Time, duration, step time.Duration) iter.Seq[Interval] {
	return func(yield func(Interval) bool) {
		if duration <= 0 || step <= 0 {
			return
		}
		for t := start; !t.Add(duration).After(end); t = t.Add(step) {
			if !yield(Interval{Start: t, End: t.Add(duration)}) {
				return
			}
		}
	}
}

// AvailableSlots returns slot start times within [windowStart, windowEnd) where a booking of
// length duration would not overlap any of the busy intervals. Slots starting before now are skipped.
//
// All times are expected to be in the same location (timezone).
func AvailableSlots(windowStart, windowEnd time.Time, duration, step time.Duration, busy []Interval, now time.Time) []time.Time {
	if !windowEnd.After(windowStart) {
		return nil
	}
	var slots []time.Time
	for w := range Windows(windowStart, windowEnd, duration, step) {
		if w.Start.Before(now) {
			continue
		}
		if !overlapsAny(w.Start, w.End, busy) {
			slots = append(slots, w.Start)
		}
	}
	return slots
}

func overlapsAny(start, end time.Time, busy []Interval) bool {
	for _, b := range busy {
		// Half-open intervals: [start,end) overlaps [b.Start,b.End) iff start < b.End && b.Start < end.
		if start.Before(b.End) && b.Start.Before(end) {
			return true
		}
	}
	return false
}

// StepPolicy decides how far apart consecutive candidate windows start.
// A zero Fixed step means back-to-back windows of the requested duration.
type StepPolicy struct {
	Fixed time.Duration
}

func (p StepPolicy) Step(duration time.Duration) time.Duration {
	if p.Fixed > 0 {
		return p.Fixed
	}
	return duration
}
