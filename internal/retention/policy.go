package retention

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidPolicy is returned for retention specs that do not parse.
var ErrInvalidPolicy = errors.New("invalid retention policy")

// DefaultMaxKeep caps the keep-set when no other cap is configured.
const DefaultMaxKeep = 50

// Period is a retention granularity code.
type Period byte

const (
	PeriodCount  Period = 'n' // keep last n, full timestamp granularity
	PeriodMinute Period = 'm'
	PeriodHour   Period = 'h'
	PeriodDay    Period = 'd'
	PeriodWeek   Period = 'w'
	PeriodMonth  Period = 'M'
	PeriodYear   Period = 'y'
)

// Periods lists every period finest first. PruneSet walks them in this order.
var Periods = []Period{PeriodCount, PeriodMinute, PeriodHour, PeriodDay, PeriodWeek, PeriodMonth, PeriodYear}

func (p Period) Valid() bool {
	for _, v := range Periods {
		if v == p {
			return true
		}
	}
	return false
}

func (p Period) String() string { return string(rune(p)) }

// bucket returns the truncation key of t at this granularity.
func (p Period) bucket(t time.Time) string {
	switch p {
	case PeriodMinute:
		return t.Format("2006-01-02-15_04")
	case PeriodHour:
		return t.Format("2006-01-02-15")
	case PeriodDay:
		return t.Format("2006-01-02")
	case PeriodWeek:
		y, w := t.ISOWeek()
		return fmt.Sprintf("%04d-%02d", y, w)
	case PeriodMonth:
		return t.Format("2006-01")
	case PeriodYear:
		return t.Format("2006")
	default:
		return t.Format("2006-01-02-15_04_05")
	}
}

// Policy maps a period to the number of distinct buckets to keep.
type Policy map[Period]int

var rePolicyItem = regexp.MustCompile(`^(\d+)([a-zA-Z])`)

// ParsePolicy parses specs like "7d4w12M" or "10n". Empty input yields an empty policy.
func ParsePolicy(raw string) (Policy, error) {
	s := strings.TrimSpace(raw)
	p := Policy{}
	for s != "" {
		m := rePolicyItem.FindStringSubmatch(s)
		if m == nil {
			return nil, fmt.Errorf("%w %q: expected <count><period>", ErrInvalidPolicy, raw)
		}
		per := Period(m[2][0])
		if !per.Valid() {
			return nil, fmt.Errorf("%w %q: unknown period %q", ErrInvalidPolicy, raw, m[2])
		}
		n, err := strconv.Atoi(m[1])
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("%w %q: count must be > 0", ErrInvalidPolicy, raw)
		}
		if _, dup := p[per]; dup {
			return nil, fmt.Errorf("%w %q: period %s given twice", ErrInvalidPolicy, raw, per)
		}
		p[per] = n
		s = s[len(m[0]):]
	}
	return p, nil
}

// String renders the policy in canonical (finest first) order.
func (p Policy) String() string {
	var b strings.Builder
	for _, per := range Periods {
		if n, ok := p[per]; ok && n > 0 {
			b.WriteString(strconv.Itoa(n))
			b.WriteByte(byte(per))
		}
	}
	return b.String()
}

func (p Policy) Clone() Policy {
	if p == nil {
		return nil
	}
	out := make(Policy, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Map returns the policy keyed by period code, for serialization.
func (p Policy) Map() map[string]int {
	out := make(map[string]int, len(p))
	for k, v := range p {
		out[k.String()] = v
	}
	return out
}

// PolicyFromMap is the inverse of Map. Unknown codes are rejected.
func PolicyFromMap(m map[string]int) (Policy, error) {
	p := Policy{}
	for k, v := range m {
		if len(k) != 1 || !Period(k[0]).Valid() {
			return nil, fmt.Errorf("%w: unknown period %q", ErrInvalidPolicy, k)
		}
		if v > 0 {
			p[Period(k[0])] = v
		}
	}
	return p, nil
}
