// Package dimension implements typed parsing and range-expansion of
// analytics dimension values into their canonical string form.
package dimension

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jinzhu/now"

	"github.com/pulsegrid/aggregator/apperr"
)

// Type enumerates the dimension value kinds a mapping entry can declare.
type Type string

const (
	TypeInteger Type = "integer"
	TypeString  Type = "string"
	TypeDate    Type = "date"
	TypeWeek    Type = "week"
	TypeMonth   Type = "month"
	TypeYear    Type = "year"
)

// Valid reports whether t is one of the known dimension types.
func (t Type) Valid() bool {
	switch t {
	case TypeInteger, TypeString, TypeDate, TypeWeek, TypeMonth, TypeYear:
		return true
	}
	return false
}

const rangeOperator = ".."

const dateLayout = "20060102"

func init() {
	now.WeekStartDay = time.Monday
	// Accept day-month-name-year ("21-Sep-2011") and month-name-year
	// ("Sep-2011") forms alongside now's default layouts.
	now.TimeFormats = append(now.TimeFormats, "2-Jan-2006", "Jan-2006")
}

// Parse normalizes a single raw value to its canonical string form for
// the given dimension type.
func Parse(t Type, val any) (string, error) {
	switch t {
	case TypeInteger:
		return parseInteger(val)
	case TypeString:
		return parseString(val)
	case TypeDate:
		return parseDate(val)
	case TypeWeek:
		return parseWeek(val)
	case TypeMonth:
		return parseMonth(val)
	case TypeYear:
		return parseYear(val)
	default:
		return "", apperr.New(apperr.ErrInvalidValue, "unknown dimension type %q", t)
	}
}

func parseInteger(val any) (string, error) {
	switch v := val.(type) {
	case int:
		return strconv.Itoa(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case float64:
		return strconv.FormatInt(int64(v), 10), nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return "", apperr.New(apperr.ErrInvalidValue, "invalid integer %q", v)
		}
		return strconv.Itoa(n), nil
	default:
		return "", apperr.New(apperr.ErrInvalidValue, "invalid integer %v", val)
	}
}

// parseString stringifies val, trims surrounding whitespace, and
// rejects ':' since it is the key field delimiter.
func parseString(val any) (string, error) {
	s := strings.TrimSpace(fmt.Sprintf("%v", val))
	if strings.Contains(s, ":") {
		return "", apperr.New(apperr.ErrInvalidValue, "invalid value for string (%q), ':' is not allowed", s)
	}
	return s, nil
}

func toDateString(val any) (string, error) {
	switch v := val.(type) {
	case string:
		if v == "" {
			return "", apperr.New(apperr.ErrInvalidValue, "invalid date (empty)")
		}
		return v, nil
	case nil:
		return "", apperr.New(apperr.ErrInvalidValue, "invalid date (nil)")
	default:
		return fmt.Sprintf("%v", v), nil
	}
}

func parseToTime(val any) (time.Time, error) {
	s, err := toDateString(val)
	if err != nil {
		return time.Time{}, err
	}
	t, err := now.Parse(s)
	if err != nil {
		return time.Time{}, apperr.New(apperr.ErrInvalidValue, "invalid date %q", s)
	}
	return t, nil
}

func parseDate(val any) (string, error) {
	t, err := parseToTime(val)
	if err != nil {
		return "", err
	}
	return t.Format(dateLayout), nil
}

func parseWeek(val any) (string, error) {
	t, err := parseToTime(val)
	if err != nil {
		return "", err
	}
	return now.With(t).BeginningOfWeek().Format(dateLayout), nil
}

func parseMonth(val any) (string, error) {
	t, err := parseToTime(val)
	if err != nil {
		return "", err
	}
	return now.With(t).BeginningOfMonth().Format(dateLayout), nil
}

func parseYear(val any) (string, error) {
	t, err := parseToTime(val)
	if err != nil {
		return "", err
	}
	return now.With(t).BeginningOfYear().Format(dateLayout), nil
}

// Expand parses a range expression ("group(,group)*", group is either
// a bare value or "A..B") for the given dimension type into the set of
// canonical string values it denotes.
func Expand(t Type, rangeExpr string) (map[string]struct{}, error) {
	switch t {
	case TypeInteger:
		return expandInteger(rangeExpr)
	case TypeString:
		return expandString(rangeExpr)
	case TypeDate:
		return expandDateFamily(rangeExpr, parseDate, dayIterator)
	case TypeWeek:
		return expandDateFamily(rangeExpr, parseWeek, weekIterator)
	case TypeMonth:
		return expandDateFamily(rangeExpr, parseMonth, monthIterator)
	case TypeYear:
		return expandDateFamily(rangeExpr, parseYear, yearIterator)
	default:
		return nil, apperr.New(apperr.ErrInvalidValue, "unknown dimension type %q", t)
	}
}

func expandInteger(rangeExpr string) (map[string]struct{}, error) {
	out := map[string]struct{}{}
	for _, group := range strings.Split(rangeExpr, ",") {
		group = strings.TrimSpace(group)
		if strings.Contains(group, rangeOperator) {
			parts := strings.SplitN(group, rangeOperator, 2)
			start, err1 := strconv.Atoi(strings.TrimSpace(parts[0]))
			end, err2 := strconv.Atoi(strings.TrimSpace(parts[1]))
			if err1 != nil || err2 != nil {
				return nil, apperr.New(apperr.ErrInvalidValue, "integer range %q not parseable", rangeExpr)
			}
			if start > end {
				start, end = end, start
			}
			for i := start; i <= end; i++ {
				out[strconv.Itoa(i)] = struct{}{}
			}
		} else {
			n, err := strconv.Atoi(group)
			if err != nil {
				return nil, apperr.New(apperr.ErrInvalidValue, "integer range %q not parseable", rangeExpr)
			}
			out[strconv.Itoa(n)] = struct{}{}
		}
	}
	return out, nil
}

func expandString(rangeExpr string) (map[string]struct{}, error) {
	if strings.Contains(rangeExpr, rangeOperator) {
		return nil, apperr.New(apperr.ErrInvalidValue, "range operator is not supported for string (%q)", rangeExpr)
	}
	out := map[string]struct{}{}
	for _, part := range strings.Split(rangeExpr, ",") {
		s, err := parseString(part)
		if err != nil {
			return nil, err
		}
		out[s] = struct{}{}
	}
	return out, nil
}

type dateParser func(val any) (string, error)
type dateIterator func(from, to time.Time) []time.Time

func expandDateFamily(rangeExpr string, parse dateParser, iter dateIterator) (map[string]struct{}, error) {
	out := map[string]struct{}{}
	for _, group := range strings.Split(rangeExpr, ",") {
		group = strings.TrimSpace(group)
		if strings.Contains(group, rangeOperator) {
			parts := strings.SplitN(group, rangeOperator, 2)
			from, err := parseToTime(strings.TrimSpace(parts[0]))
			if err != nil {
				return nil, err
			}
			to, err := parseToTime(strings.TrimSpace(parts[1]))
			if err != nil {
				return nil, err
			}
			for _, d := range iter(from, to) {
				out[d.Format(dateLayout)] = struct{}{}
			}
		} else {
			s, err := parse(group)
			if err != nil {
				return nil, err
			}
			out[s] = struct{}{}
		}
	}
	return out, nil
}

func dayIterator(from, to time.Time) []time.Time {
	return stepIterator(from, to, func(t time.Time, forward bool) time.Time {
		if forward {
			return t.AddDate(0, 0, 1)
		}
		return t.AddDate(0, 0, -1)
	})
}

func weekIterator(from, to time.Time) []time.Time {
	from = now.With(from).BeginningOfWeek()
	to = now.With(to).BeginningOfWeek()
	return stepIterator(from, to, func(t time.Time, forward bool) time.Time {
		if forward {
			return t.AddDate(0, 0, 7)
		}
		return t.AddDate(0, 0, -7)
	})
}

func monthIterator(from, to time.Time) []time.Time {
	from = now.With(from).BeginningOfMonth()
	to = now.With(to).BeginningOfMonth()
	return stepIterator(from, to, func(t time.Time, forward bool) time.Time {
		if forward {
			return t.AddDate(0, 1, 0)
		}
		return t.AddDate(0, -1, 0)
	})
}

func yearIterator(from, to time.Time) []time.Time {
	from = now.With(from).BeginningOfYear()
	to = now.With(to).BeginningOfYear()
	return stepIterator(from, to, func(t time.Time, forward bool) time.Time {
		if forward {
			return t.AddDate(1, 0, 0)
		}
		return t.AddDate(-1, 0, 0)
	})
}

// stepIterator walks from 'from' to 'to' inclusive, stepping forward
// if from <= to or backward otherwise — mirroring the original
// datetime_iterator's symmetric behavior.
func stepIterator(from, to time.Time, step func(time.Time, bool) time.Time) []time.Time {
	var out []time.Time
	if from.After(to) {
		for t := from; !t.Before(to); t = step(t, false) {
			out = append(out, t)
		}
	} else {
		for t := from; !t.After(to); t = step(t, true) {
			out = append(out, t)
		}
	}
	return out
}

// SortedKeys returns the members of a canonical-string set in sorted order.
func SortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
