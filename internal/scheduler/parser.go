package scheduler

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Maintenance schedules accept:
//   - cron expressions, with an optional leading seconds field: "0 3 * * *"
//   - descriptors: "@daily", "@every 6h"
//   - intervals: "every 6h", "every 30 minutes"
var (
	specParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

	intervalPattern = regexp.MustCompile(`^every\s+(\d+)\s*([a-z]+)$`)
)

var intervalUnits = map[string]time.Duration{
	"s": time.Second, "sec": time.Second, "second": time.Second, "seconds": time.Second,
	"m": time.Minute, "min": time.Minute, "minute": time.Minute, "minutes": time.Minute,
	"h": time.Hour, "hour": time.Hour, "hours": time.Hour,
	"d": 24 * time.Hour, "day": 24 * time.Hour, "days": 24 * time.Hour,
}

const (
	minInterval = time.Second
	maxInterval = 366 * 24 * time.Hour
)

// ParseSchedule parses a schedule expression.
func ParseSchedule(expr string) (cron.Schedule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, errors.New("schedule expression cannot be empty")
	}

	if strings.HasPrefix(strings.ToLower(expr), "every ") {
		d, err := parseInterval(strings.ToLower(expr))
		if err != nil {
			return nil, fmt.Errorf("invalid interval %q: %w", expr, err)
		}
		return cron.Every(d), nil
	}

	sched, err := specParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return sched, nil
}

func parseInterval(expr string) (time.Duration, error) {
	m := intervalPattern.FindStringSubmatch(expr)
	if m == nil {
		return 0, errors.New("expected 'every <number> <unit>', e.g. 'every 6h'")
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n <= 0 {
		return 0, errors.New("interval must be a positive integer")
	}
	unit, ok := intervalUnits[m[2]]
	if !ok {
		return 0, fmt.Errorf("unsupported time unit %q", m[2])
	}

	d := time.Duration(n) * unit
	if d < minInterval || d > maxInterval {
		return 0, fmt.Errorf("interval must be between %s and %s", minInterval, maxInterval)
	}
	return d, nil
}

// ValidateSchedule reports whether expr parses.
func ValidateSchedule(expr string) error {
	_, err := ParseSchedule(expr)
	return err
}

// NextRuns returns the next n activation times of expr after from.
func NextRuns(expr string, from time.Time, n int) ([]time.Time, error) {
	sched, err := ParseSchedule(expr)
	if err != nil {
		return nil, err
	}
	out := make([]time.Time, 0, n)
	for t := from; len(out) < n; {
		t = sched.Next(t)
		if t.IsZero() {
			break
		}
		out = append(out, t)
	}
	return out, nil
}
