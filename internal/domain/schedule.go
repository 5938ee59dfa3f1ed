package domain

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser accepts standard 5-field expressions, an optional leading
// seconds field, and descriptors like "@hourly" or "@every 30s".
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// CronParser returns the parser shared by validation and the worker timers
func CronParser() cron.Parser {
	return cronParser
}

// ParseSchedule validates expr and timezone and returns the schedule and
// its location. Both failures wrap ErrInvalidCron.
func ParseSchedule(expr, timezone string) (cron.Schedule, *time.Location, error) {
	if timezone == "" {
		timezone = DefaultTimezone
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: unknown timezone %q: %v", ErrInvalidCron, timezone, err)
	}

	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %q: %v", ErrInvalidCron, expr, err)
	}

	return sched, loc, nil
}
