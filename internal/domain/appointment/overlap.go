package appointment

import "time"

// Interval is the half-open range [Start, End). Both ends must already be in UTC.
type Interval struct {
	Start time.Time
	End   time.Time
}

func NewInterval(start time.Time, durationMins int) (Interval, error) {
	if durationMins <= 0 {
		return Interval{}, ErrInvalidInterval
	}
	return Interval{Start: start, End: start.Add(time.Duration(durationMins) * time.Minute)}, nil
}

// Overlaps covers start-inside, end-inside and either-encloses-the-other in one test.
// Intervals that only touch (i.End == o.Start) do not overlap.
func (i Interval) Overlaps(o Interval) bool {
	return i.Start.Before(o.End) && o.Start.Before(i.End)
}

// FindConflicts returns the appointments in existing whose slot overlaps candidate.
func FindConflicts(candidate Interval, existing []*Appointment) []*Appointment {
	var conflicts []*Appointment
	for _, a := range existing {
		if candidate.Overlaps(a.Interval()) {
			conflicts = append(conflicts, a)
		}
	}
	return conflicts
}
