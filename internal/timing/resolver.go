package timing

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Sentinel errors for spec resolution. Callers match with errors.Is.
var (
	ErrInvalidTimingSpec = errors.New("invalid timing spec")
	ErrMissingAnchor     = errors.New("timing spec requires a discharge anchor")
	ErrPastSchedule      = errors.New("timing spec resolves before its anchor")
)

// Result is the outcome of resolving one timing spec.
// Times is strictly increasing. BestEffort marks "within_<N>_hours" specs,
// which carry no hard deadline; downstream scheduling may lower their priority.
type Result struct {
	Times      []time.Time
	BestEffort bool
}

var (
	hoursAfterRe = regexp.MustCompile(`^(\d+)_hours_after_discharge$`)
	dailyRe      = regexp.MustCompile(`^daily_for_(\d+)_days_starting_(\d+)_hours_after_discharge$`)
	dayBeforeRe  = regexp.MustCompile(`^day_before_date:(\d{4}-\d{2}-\d{2})(?:t(\d{2}):(\d{2}))?$`)
	withinRe     = regexp.MustCompile(`^within_(\d+)_hours$`)
)

// dayBeforeDefaultHour is the time-of-day used for day-before reminders
// when the spec carries no explicit time component.
const dayBeforeDefaultHour = 9

// Resolve expands a timing spec into concrete call times relative to anchor.
//
// Grammar (case-insensitive):
//
//	<N>_hours_after_discharge
//	daily_for_<N>_days_starting_<M>_hours_after_discharge
//	day_before_date:<YYYY-MM-DD>[T<HH>:<MM>]
//	within_<N>_hours
//
// Discharge-relative forms require a non-zero anchor. An unrecognized spec is
// an error; there is no default schedule. No resolved time may precede the
// anchor.
func Resolve(spec string, anchor time.Time) (Result, error) {
	s := strings.ToLower(strings.TrimSpace(spec))
	if s == "" {
		return Result{}, fmt.Errorf("%w: empty spec", ErrInvalidTimingSpec)
	}

	if m := hoursAfterRe.FindStringSubmatch(s); m != nil {
		if anchor.IsZero() {
			return Result{}, fmt.Errorf("%w: %q", ErrMissingAnchor, spec)
		}
		hours, _ := strconv.Atoi(m[1])
		r := Result{Times: []time.Time{anchor.Add(time.Duration(hours) * time.Hour)}}
		return r, checkPast(r.Times, anchor, spec)
	}

	if m := dailyRe.FindStringSubmatch(s); m != nil {
		if anchor.IsZero() {
			return Result{}, fmt.Errorf("%w: %q", ErrMissingAnchor, spec)
		}
		days, _ := strconv.Atoi(m[1])
		startHours, _ := strconv.Atoi(m[2])
		if days == 0 {
			return Result{}, fmt.Errorf("%w: %q expands to zero calls", ErrInvalidTimingSpec, spec)
		}
		start := anchor.Add(time.Duration(startHours) * time.Hour)
		r := Result{Times: make([]time.Time, 0, days)}
		for day := 0; day < days; day++ {
			// Fixed 24h steps, not calendar days: the series must stay evenly
			// spaced even when a DST change lands inside it.
			r.Times = append(r.Times, start.Add(time.Duration(day)*24*time.Hour))
		}
		return r, checkPast(r.Times, anchor, spec)
	}

	if m := dayBeforeRe.FindStringSubmatch(s); m != nil {
		target, err := time.ParseInLocation("2006-01-02", m[1], anchorLocation(anchor))
		if err != nil {
			return Result{}, fmt.Errorf("%w: bad date in %q", ErrInvalidTimingSpec, spec)
		}
		hour, minute := dayBeforeDefaultHour, 0
		if m[2] != "" {
			hour, _ = strconv.Atoi(m[2])
			minute, _ = strconv.Atoi(m[3])
			if hour > 23 || minute > 59 {
				return Result{}, fmt.Errorf("%w: bad time in %q", ErrInvalidTimingSpec, spec)
			}
		}
		reminder := target.AddDate(0, 0, -1)
		reminder = time.Date(reminder.Year(), reminder.Month(), reminder.Day(), hour, minute, 0, 0, reminder.Location())
		r := Result{Times: []time.Time{reminder}}
		return r, checkPast(r.Times, anchor, spec)
	}

	if m := withinRe.FindStringSubmatch(s); m != nil {
		if anchor.IsZero() {
			return Result{}, fmt.Errorf("%w: %q", ErrMissingAnchor, spec)
		}
		hours, _ := strconv.Atoi(m[1])
		r := Result{
			Times:      []time.Time{anchor.Add(time.Duration(hours) * time.Hour)},
			BestEffort: true,
		}
		return r, checkPast(r.Times, anchor, spec)
	}

	return Result{}, fmt.Errorf("%w: %q", ErrInvalidTimingSpec, spec)
}

func checkPast(times []time.Time, anchor time.Time, spec string) error {
	if anchor.IsZero() {
		return nil
	}
	for _, t := range times {
		if t.Before(anchor) {
			return fmt.Errorf("%w: %q resolves to %s", ErrPastSchedule, spec, t.Format(time.RFC3339))
		}
	}
	return nil
}

func anchorLocation(anchor time.Time) *time.Location {
	if anchor.IsZero() {
		return time.Local
	}
	return anchor.Location()
}
