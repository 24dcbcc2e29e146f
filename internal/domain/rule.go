package domain

import "time"

// RecurrenceFrequency is part of the wire contract.
type RecurrenceFrequency string

const (
	FreqDaily   RecurrenceFrequency = "daily"
	FreqWeekly  RecurrenceFrequency = "weekly"
	FreqMonthly RecurrenceFrequency = "monthly"
	FreqYearly  RecurrenceFrequency = "yearly"
)

// RecurrenceRule describes a series cadence anchored at StartDate. It
// produces a deterministic, ordered occurrence sequence; finite when Count
// or Until bound it, otherwise capped by the query window.
type RecurrenceRule struct {
	Frequency RecurrenceFrequency `json:"frequency"`
	Interval  int                 `json:"interval"`
	// Count bounds the sequence length; 0 means unbounded.
	Count int `json:"count,omitempty"`
	// Until is the inclusive last admissible occurrence start; 0 means none.
	Until int64 `json:"until,omitempty"`
	// ByDays restricts weekly rules to specific weekdays.
	ByDays        []time.Weekday `json:"byDays,omitempty"`
	ExcludedDates []int64        `json:"excludedDates,omitempty"`
	Timezone      string         `json:"timezone,omitempty"`
	// StartDate anchors the sequence (epoch millis).
	StartDate int64 `json:"startDate"`
}

// Clone returns a copy of the rule.
func (r *RecurrenceRule) Clone() *RecurrenceRule {
	if r == nil {
		return nil
	}
	out := *r
	out.ByDays = append([]time.Weekday(nil), r.ByDays...)
	out.ExcludedDates = append([]int64(nil), r.ExcludedDates...)
	return &out
}

// Location resolves the rule's timezone, defaulting to UTC.
func (r *RecurrenceRule) Location() *time.Location {
	if r.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(r.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// IntervalOrDefault returns the interval, treating 0 as 1.
func (r *RecurrenceRule) IntervalOrDefault() int {
	if r.Interval <= 0 {
		return 1
	}
	return r.Interval
}
