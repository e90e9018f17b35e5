// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// CronExpr is a parsed cron expression, 5-field (minute..day-of-week) or
// 6-field (seconds prepended), as accepted by a Schedule's cron field.
type CronExpr struct {
	second     []int // 0-59
	minute     []int // 0-59
	hour       []int // 0-23
	dayOfMonth []int // 1-31
	month      []int // 1-12
	dayOfWeek  []int // 0-6 (0 = Sunday)
}

// ParseCron accepts either a standard 5-field expression (minute hour
// day-of-month month day-of-week) or a 6-field expression with a leading
// seconds field. A 5-field expression runs at second 0.
func ParseCron(expr string) (*CronExpr, error) {
	switch strings.ToLower(strings.TrimSpace(expr)) {
	case "@hourly":
		expr = "0 0 * * * *"
	case "@daily", "@midnight":
		expr = "0 0 0 * * *"
	case "@weekly":
		expr = "0 0 0 * * 0"
	case "@monthly":
		expr = "0 0 0 1 * *"
	case "@yearly", "@annually":
		expr = "0 0 0 1 1 *"
	}

	fields := strings.Fields(expr)
	switch len(fields) {
	case 5:
		fields = append([]string{"0"}, fields...)
	case 6:
		// already has a seconds field
	default:
		return nil, fmt.Errorf("expected 5 or 6 fields, got %d", len(fields))
	}

	c := &CronExpr{}
	var err error

	c.second, err = parseField(fields[0], 0, 59)
	if err != nil {
		return nil, fmt.Errorf("invalid second field: %w", err)
	}
	c.minute, err = parseField(fields[1], 0, 59)
	if err != nil {
		return nil, fmt.Errorf("invalid minute field: %w", err)
	}
	c.hour, err = parseField(fields[2], 0, 23)
	if err != nil {
		return nil, fmt.Errorf("invalid hour field: %w", err)
	}
	c.dayOfMonth, err = parseField(fields[3], 1, 31)
	if err != nil {
		return nil, fmt.Errorf("invalid day-of-month field: %w", err)
	}
	c.month, err = parseField(fields[4], 1, 12)
	if err != nil {
		return nil, fmt.Errorf("invalid month field: %w", err)
	}
	c.dayOfWeek, err = parseField(fields[5], 0, 6)
	if err != nil {
		return nil, fmt.Errorf("invalid day-of-week field: %w", err)
	}

	return c, nil
}

func parseField(field string, min, max int) ([]int, error) {
	if field == "*" {
		result := make([]int, max-min+1)
		for i := range result {
			result[i] = min + i
		}
		return result, nil
	}

	var result []int
	for _, part := range strings.Split(field, ",") {
		values, err := parseFieldPart(part, min, max)
		if err != nil {
			return nil, err
		}
		result = append(result, values...)
	}
	return unique(result), nil
}

func parseFieldPart(part string, min, max int) ([]int, error) {
	step := 1
	if idx := strings.Index(part, "/"); idx != -1 {
		stepStr := part[idx+1:]
		var err error
		step, err = strconv.Atoi(stepStr)
		if err != nil || step <= 0 {
			return nil, fmt.Errorf("invalid step: %s", stepStr)
		}
		part = part[:idx]
	}

	var start, end int
	switch {
	case part == "*":
		start, end = min, max
	case strings.Contains(part, "-"):
		var err error
		lo, hi, _ := strings.Cut(part, "-")
		start, err = strconv.Atoi(lo)
		if err != nil {
			return nil, fmt.Errorf("invalid range start: %s", lo)
		}
		end, err = strconv.Atoi(hi)
		if err != nil {
			return nil, fmt.Errorf("invalid range end: %s", hi)
		}
	default:
		var err error
		start, err = strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid value: %s", part)
		}
		end = start
	}

	if start < min || start > max || end < min || end > max || start > end {
		return nil, fmt.Errorf("value out of range [%d-%d]: %s", min, max, part)
	}

	var result []int
	for i := start; i <= end; i += step {
		result = append(result, i)
	}
	return result, nil
}

// Next returns the next occurrence strictly after from, evaluated in
// from's own location (callers pass a time already converted to the
// schedule's configured IANA timezone).
func (c *CronExpr) Next(from time.Time) time.Time {
	t := from.Truncate(time.Second).Add(time.Second)
	maxTime := from.Add(4 * 365 * 24 * time.Hour)

	for t.Before(maxTime) {
		if !contains(c.month, int(t.Month())) {
			t = time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, t.Location())
			continue
		}

		dayOfMonthMatch := contains(c.dayOfMonth, t.Day())
		dayOfWeekMatch := contains(c.dayOfWeek, int(t.Weekday()))
		if !(dayOfMonthMatch && dayOfWeekMatch) {
			t = time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, 0, t.Location())
			continue
		}

		if !contains(c.hour, t.Hour()) {
			t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour()+1, 0, 0, 0, t.Location())
			continue
		}
		if !contains(c.minute, t.Minute()) {
			t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute()+1, 0, 0, t.Location())
			continue
		}
		if !contains(c.second, t.Second()) {
			t = t.Add(time.Second)
			continue
		}

		return t
	}

	return time.Time{}
}

// OccurrencesThrough returns up to limit occurrences in (after, through],
// starting strictly after `after`, in ascending order. Used by the
// scheduler's catch-up materialization to bound how far a single tick
// walks the cron sequence.
func (c *CronExpr) OccurrencesThrough(after, through time.Time, limit int) []time.Time {
	var out []time.Time
	cursor := after
	for len(out) < limit {
		next := c.Next(cursor)
		if next.IsZero() || next.After(through) {
			break
		}
		out = append(out, next)
		cursor = next
	}
	return out
}

func contains(slice []int, val int) bool {
	for _, v := range slice {
		if v == val {
			return true
		}
	}
	return false
}

func unique(slice []int) []int {
	seen := make(map[int]bool, len(slice))
	var result []int
	for _, v := range slice {
		if !seen[v] {
			seen[v] = true
			result = append(result, v)
		}
	}
	return result
}
