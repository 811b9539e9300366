package schedule

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	ErrInvalidInterval = errors.New("invalid interval")
	ErrInvalidStart    = errors.New("invalid start time")
)

// Unit is an interval unit.
type Unit byte

const (
	Minute Unit = 'm'
	Hour   Unit = 'h'
	Day    Unit = 'd'
	Week   Unit = 'w'
	Month  Unit = 'M'
)

func (u Unit) valid() bool {
	switch u {
	case Minute, Hour, Day, Week, Month:
		return true
	}
	return false
}

// Interval is a recurrence period such as "1d" or "30m".
type Interval struct {
	Value uint
	Unit  Unit
}

var reInterval = regexp.MustCompile(`^(\d+)([mhdwM])$`)

// ParseInterval parses "<n><m|h|d|w|M>".
func ParseInterval(raw string) (Interval, error) {
	s := strings.TrimSpace(raw)
	m := reInterval.FindStringSubmatch(s)
	if m == nil {
		return Interval{}, fmt.Errorf("%w %q (use e.g. 30m, 6h, 1d, 1w, 1M)", ErrInvalidInterval, raw)
	}
	n, err := strconv.ParseUint(m[1], 10, 32)
	if err != nil || n == 0 {
		return Interval{}, fmt.Errorf("%w %q: value must be > 0", ErrInvalidInterval, raw)
	}
	return Interval{Value: uint(n), Unit: Unit(m[2][0])}, nil
}

func (i Interval) String() string {
	if i.Value == 0 || !i.Unit.valid() {
		return ""
	}
	return strconv.FormatUint(uint64(i.Value), 10) + string(rune(i.Unit))
}

// IsZero reports whether the interval is unset.
func (i Interval) IsZero() bool { return i.Value == 0 }

// Duration is the fixed length of the interval. Month intervals have none
// and return 0.
func (i Interval) Duration() time.Duration {
	n := time.Duration(i.Value)
	switch i.Unit {
	case Minute:
		return n * time.Minute
	case Hour:
		return n * time.Hour
	case Day:
		return n * 24 * time.Hour
	case Week:
		return n * 7 * 24 * time.Hour
	default:
		return 0
	}
}

// ParseStart parses an anchor. Accepted forms:
//
//	"HH:MM" or "HH:MM+02:00"     time of day (UTC unless an offset is given)
//	"2006-01-02T15:04[:05]"      UTC
//	RFC3339
//
// A time of day is pinned to 1970-01-01 so the same input always yields the
// same anchor and therefore the same record key. The result is truncated to
// the minute and expressed in UTC.
func ParseStart(raw string) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return normalize(t), nil
	}
	for _, layout := range []string{"2006-01-02T15:04:05", "2006-01-02T15:04", "2006-01-02 15:04"} {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return normalize(t), nil
		}
	}
	for _, layout := range []string{"15:04Z07:00", "15:04"} {
		t, err := time.ParseInLocation(layout, s, time.UTC)
		if err != nil {
			continue
		}
		at := time.Date(1970, time.January, 1, t.Hour(), t.Minute(), 0, 0, t.Location())
		return normalize(at), nil
	}
	return time.Time{}, fmt.Errorf("%w %q (use HH:MM, HH:MM+hh:mm or an ISO timestamp)", ErrInvalidStart, raw)
}

func normalize(t time.Time) time.Time { return t.UTC().Truncate(time.Minute) }

// FormatStart renders an anchor for keys and listings; zero renders "".
func FormatStart(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format("2006-01-02T15:04:05Z")
}
