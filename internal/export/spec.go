package export

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

const DefaultSchedule = "@hourly"

// parser accepts 5- or 6-field (seconds) expressions and descriptors.
var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule turns an export schedule into a cron schedule.
//
// Supported forms:
//   - cron: "0 * * * *", "*/15 * * * *", "@hourly", "@every 30m"
//   - interval: "30m", "every 30m", "every:2h"
//
// Empty input means DefaultSchedule.
func ParseSchedule(raw string) (cron.Schedule, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		s = DefaultSchedule
	}
	low := strings.ToLower(s)
	for _, prefix := range []string{"every:", "every "} {
		if strings.HasPrefix(low, prefix) {
			return every(strings.TrimSpace(s[len(prefix):]), raw)
		}
	}
	if strings.HasPrefix(s, "@") || strings.ContainsAny(s, " \t") {
		sched, err := parser.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("invalid export schedule %q: %w", raw, err)
		}
		return sched, nil
	}
	return every(s, raw)
}

func every(v, raw string) (cron.Schedule, error) {
	d, err := time.ParseDuration(v)
	if err != nil {
		return nil, fmt.Errorf("invalid export schedule %q (use cron like '0 * * * *' or a duration like '30m')", raw)
	}
	if d < time.Second {
		return nil, fmt.Errorf("invalid export schedule %q: interval must be >= 1s", raw)
	}
	return cron.Every(d), nil
}
