package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"
)

// ErrInvalidSchedule is returned when a ScheduleExpression fails validation.
var ErrInvalidSchedule = errors.New("invalid schedule expression")

// maxNextFireSearchDays bounds the next-fire walk. A non-empty weekday set
// always has a match within one calendar week, so eight days would suffice
// for a same-day candidate that turns out to be in the past — but the
// spring-forward guard can also reject a calendar week's only candidate (its
// wall-clock time fell in that day's DST gap), pushing the real match out to
// the following week. Fifteen days covers that case with a week to spare.
const maxNextFireSearchDays = 15

// ScheduleExpression is the immutable (weekday-set, time-of-day, zone)
// triple that drives next-fire computation. Equality is structural and
// ignores the order weekdays were supplied in; mutation is not supported —
// operations that would change an expression return a new value.
type ScheduleExpression struct {
	days []Weekday // canonicalized: sorted, de-duplicated
	t    Time
	zone string
}

// NewScheduleExpression validates and constructs a ScheduleExpression.
// days must be non-empty; zone defaults to "UTC" when empty and must always
// be resolvable via time.LoadLocation.
func NewScheduleExpression(days []Weekday, t Time, zone string) (ScheduleExpression, error) {
	if len(days) == 0 {
		return ScheduleExpression{}, fmt.Errorf("%w: weekday set must be non-empty", ErrInvalidSchedule)
	}
	if zone == "" {
		zone = "UTC"
	}
	if _, err := time.LoadLocation(zone); err != nil {
		return ScheduleExpression{}, fmt.Errorf("%w: zone %q: %v", ErrInvalidSchedule, zone, err)
	}

	canon := canonicalizeDays(days)
	return ScheduleExpression{days: canon, t: t, zone: zone}, nil
}

func canonicalizeDays(days []Weekday) []Weekday {
	seen := make(map[Weekday]struct{}, len(days))
	out := make([]Weekday, 0, len(days))
	for _, d := range days {
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Days returns a copy of the canonicalized weekday set.
func (e ScheduleExpression) Days() []Weekday { return append([]Weekday(nil), e.days...) }

// Time returns the time-of-day component.
func (e ScheduleExpression) Time() Time { return e.t }

// Zone returns the IANA-style zone identifier.
func (e ScheduleExpression) Zone() string { return e.zone }

// Equal reports structural equality, ignoring the order days were supplied in.
func (e ScheduleExpression) Equal(other ScheduleExpression) bool {
	if !e.t.Equal(other.t) || e.zone != other.zone {
		return false
	}
	if len(e.days) != len(other.days) {
		return false
	}
	for i := range e.days {
		if e.days[i] != other.days[i] {
			return false
		}
	}
	return true
}

func (e ScheduleExpression) location() (*time.Location, error) {
	loc, err := time.LoadLocation(e.zone)
	if err != nil {
		return nil, fmt.Errorf("%w: cannot load zone %q: %v", ErrInvalidSchedule, e.zone, err)
	}
	return loc, nil
}

// MatchesDay reports whether date's local weekday (in e's zone) is in D.
func (e ScheduleExpression) MatchesDay(date time.Time) (bool, error) {
	loc, err := e.location()
	if err != nil {
		return false, err
	}
	local := date.In(loc)
	w := Weekday(local.Weekday())
	for _, d := range e.days {
		if d == w {
			return true, nil
		}
	}
	return false, nil
}

// ShouldExecuteAt reports whether date matches both the weekday set and the
// time-of-day, at minute precision, in e's zone.
func (e ScheduleExpression) ShouldExecuteAt(date time.Time) (bool, error) {
	matches, err := e.MatchesDay(date)
	if err != nil || !matches {
		return false, err
	}
	loc, err := e.location()
	if err != nil {
		return false, err
	}
	local := date.In(loc)
	localTime := Time{hour: local.Hour(), minute: local.Minute()}
	return localTime.Equal(e.t), nil
}

// NextFire returns the earliest instant strictly after ref whose local
// weekday (in e's zone) is in D and whose local time equals T, walking at
// most maxNextFireSearchDays calendar days forward. DST policy: a local
// wall-clock time skipped by a spring-forward transition is not a match for
// that day (time.Date normalizes it forward out of the intended day), so the
// search simply advances to the next matching day; a wall-clock time
// repeated by a fall-back transition resolves to its first occurrence,
// which is what time.Date in a *time.Location already returns.
func (e ScheduleExpression) NextFire(ref time.Time) (time.Time, error) {
	loc, err := e.location()
	if err != nil {
		return time.Time{}, err
	}
	local := ref.In(loc)
	y, m, d := local.Date()

	for i := 0; i < maxNextFireSearchDays; i++ {
		candidateDate := time.Date(y, m, d+i, 0, 0, 0, 0, loc)
		w := Weekday(candidateDate.Weekday())

		if !e.containsDay(w) {
			continue
		}

		candidate := time.Date(y, m, d+i, e.t.Hour(), e.t.Minute(), 0, 0, loc)
		if candidate.Hour() != e.t.Hour() || candidate.Minute() != e.t.Minute() {
			// Spring-forward skipped this wall-clock time on this day; time.Date
			// normalized it onto a different hour/minute, so it isn't the match
			// we're looking for. Keep walking to the next matching weekday.
			continue
		}
		if candidate.After(ref) {
			return candidate, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: no matching day found within %d days", ErrInvalidSchedule, maxNextFireSearchDays)
}

func (e ScheduleExpression) containsDay(w Weekday) bool {
	for _, d := range e.days {
		if d == w {
			return true
		}
	}
	return false
}

// Upcoming returns the sorted, deduplicated list of next-fire instants in
// (from, from+days]. It is computed by repeated NextFire with a one-minute
// forward nudge, matching the iterative definition in spec.md §4.1.
func (e ScheduleExpression) Upcoming(days int, from time.Time) ([]time.Time, error) {
	cutoff := from.Add(time.Duration(days) * 24 * time.Hour)

	var out []time.Time
	cursor := from
	for {
		next, err := e.NextFire(cursor)
		if err != nil {
			return nil, err
		}
		if next.After(cutoff) {
			break
		}
		out = append(out, next)
		cursor = next.Add(time.Minute)
	}
	return out, nil
}

// ConflictsWith reports whether e and other share at least one weekday and
// their times-of-day are within toleranceMinutes of each other.
func (e ScheduleExpression) ConflictsWith(other ScheduleExpression, toleranceMinutes int) bool {
	shared := false
	for _, d := range e.days {
		if other.containsDay(d) {
			shared = true
			break
		}
	}
	if !shared {
		return false
	}

	diff := e.t.DiffMinutes(other.t)
	if diff < 0 {
		diff = -diff
	}
	return diff <= toleranceMinutes
}

// ScheduleExpressionData is the JSON wire shape for ScheduleExpression.
type ScheduleExpressionData struct {
	Days []int  `json:"days"`
	Time string `json:"time"`
	Zone string `json:"zone"`
}

// ToData converts e to its plain-data representation for persistence/JSON.
func (e ScheduleExpression) ToData() ScheduleExpressionData {
	nums := make([]int, len(e.days))
	for i, d := range e.days {
		nums[i] = d.Number()
	}
	return ScheduleExpressionData{Days: nums, Time: e.t.Format24Hour(), Zone: e.zone}
}

// MarshalJSON implements json.Marshaler via ToData.
func (e ScheduleExpression) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.ToData())
}

// UnmarshalJSON implements json.Unmarshaler via ScheduleExpressionFromData.
func (e *ScheduleExpression) UnmarshalJSON(b []byte) error {
	var data ScheduleExpressionData
	if err := json.Unmarshal(b, &data); err != nil {
		return err
	}
	parsed, err := ScheduleExpressionFromData(data)
	if err != nil {
		return err
	}
	*e = parsed
	return nil
}

// ScheduleExpressionFromData reconstructs a ScheduleExpression from its
// plain-data representation, round-tripping with ToData.
func ScheduleExpressionFromData(data ScheduleExpressionData) (ScheduleExpression, error) {
	days := make([]Weekday, len(data.Days))
	for i, n := range data.Days {
		if n < 0 || n > 6 {
			return ScheduleExpression{}, fmt.Errorf("%w: day number %d out of range", ErrInvalidSchedule, n)
		}
		days[i] = Weekday(n)
	}
	t, err := ParseTime(data.Time)
	if err != nil {
		return ScheduleExpression{}, err
	}
	return NewScheduleExpression(days, t, data.Zone)
}
