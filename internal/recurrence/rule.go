// Package recurrence expands recurrence rules into concrete occurrences and
// performs the scoped series mutations: single-instance materialization,
// whole-series fan-out and this-and-future splits.
package recurrence

import (
	"fmt"
	"time"

	"github.com/teambition/rrule-go"

	"tidecal/internal/domain"
)

// Cap on generated occurrences so an unbounded rule cannot explode a query.
const defaultMaxOccurrences = 5000

var weekdayMap = map[time.Weekday]rrule.Weekday{
	time.Monday:    rrule.MO,
	time.Tuesday:   rrule.TU,
	time.Wednesday: rrule.WE,
	time.Thursday:  rrule.TH,
	time.Friday:    rrule.FR,
	time.Saturday:  rrule.SA,
	time.Sunday:    rrule.SU,
}

var freqMap = map[domain.RecurrenceFrequency]rrule.Frequency{
	domain.FreqDaily:   rrule.DAILY,
	domain.FreqWeekly:  rrule.WEEKLY,
	domain.FreqMonthly: rrule.MONTHLY,
	domain.FreqYearly:  rrule.YEARLY,
}

func millisToTime(ms int64, loc *time.Location) time.Time {
	return time.UnixMilli(ms).In(loc)
}

func buildSet(r *domain.RecurrenceRule) (*rrule.Set, error) {
	loc := r.Location()
	freq, ok := freqMap[r.Frequency]
	if !ok {
		return nil, fmt.Errorf("recurrence: unknown frequency %q", r.Frequency)
	}

	opt := rrule.ROption{
		Freq:     freq,
		Interval: r.IntervalOrDefault(),
		Dtstart:  millisToTime(r.StartDate, loc),
	}
	if r.Count > 0 {
		opt.Count = r.Count
	}
	if r.Until > 0 {
		opt.Until = millisToTime(r.Until, loc)
	}
	for _, wd := range r.ByDays {
		opt.Byweekday = append(opt.Byweekday, weekdayMap[wd])
	}

	rr, err := rrule.NewRRule(opt)
	if err != nil {
		return nil, fmt.Errorf("recurrence: build rule: %w", err)
	}

	var set rrule.Set
	set.RRule(rr)
	for _, ex := range r.ExcludedDates {
		set.ExDate(millisToTime(ex, loc))
	}
	return &set, nil
}

// ExpandBetween returns the rule's occurrence start times (epoch millis)
// intersected with [windowStart, windowEnd), in order.
func ExpandBetween(r *domain.RecurrenceRule, windowStart, windowEnd int64) ([]int64, error) {
	set, err := buildSet(r)
	if err != nil {
		return nil, err
	}
	loc := r.Location()
	times := set.Between(millisToTime(windowStart, loc), millisToTime(windowEnd-1, loc), true)
	if len(times) > defaultMaxOccurrences {
		times = times[:defaultMaxOccurrences]
	}
	out := make([]int64, len(times))
	for i, t := range times {
		out[i] = t.UnixMilli()
	}
	return out, nil
}

// Sequence returns the rule's occurrence dates from its anchor, up to max
// entries. Bounded rules terminate on their own; unbounded ones stop at the
// cap.
func Sequence(r *domain.RecurrenceRule, max int) ([]int64, error) {
	if max <= 0 {
		max = defaultMaxOccurrences
	}
	set, err := buildSet(r)
	if err != nil {
		return nil, err
	}
	var out []int64
	next := set.Iterator()
	for len(out) < max {
		t, ok := next()
		if !ok {
			break
		}
		out = append(out, t.UnixMilli())
	}
	return out, nil
}

// RemapOccurrenceDate maps a child's recurrence date across a series split:
// the date's index in the old rule's sequence, shifted down by splitIndex,
// selects the corresponding date in the new rule's sequence. Returns false
// when the date precedes the split or falls off either sequence.
func RemapOccurrenceDate(oldSeq, newSeq []int64, date int64, splitIndex int) (int64, bool) {
	idx := -1
	for i, d := range oldSeq {
		if d == date {
			idx = i
			break
		}
	}
	if idx < 0 || idx < splitIndex || idx-splitIndex >= len(newSeq) {
		return 0, false
	}
	return newSeq[idx-splitIndex], true
}
