package scheduler

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// SpecKind discriminates the accepted schedule syntaxes.
type SpecKind int

const (
	SpecCron SpecKind = iota
	SpecInterval
)

// ParsedSchedule is the normalized form of a schedule string.
type ParsedSchedule struct {
	Kind   SpecKind
	Cron   string        // set when Kind == SpecCron
	Every  time.Duration // set when Kind == SpecInterval
	Source string        // "cron" or "duration", for diagnostics
}

// CronSpec renders the schedule in the syntax the cron runner accepts.
func (p ParsedSchedule) CronSpec() string {
	if p.Kind == SpecInterval {
		return "@every " + p.Every.String()
	}
	return p.Cron
}

var specParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule accepts:
//   - cron expressions: "*/5 * * * *", "0 4 * * *"
//   - cron descriptors: "@daily", "@hourly", "@every 55m"
//   - Go durations: "60s", "2h30m"
//
// A "cron:" or "interval:" prefix forces the interpretation.
func ParseSchedule(raw string) (ParsedSchedule, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ParsedSchedule{}, fmt.Errorf("empty schedule")
	}

	switch {
	case strings.HasPrefix(s, "cron:"):
		return parseCronSpec(strings.TrimSpace(strings.TrimPrefix(s, "cron:")))
	case strings.HasPrefix(s, "interval:"):
		return parseIntervalSpec(strings.TrimSpace(strings.TrimPrefix(s, "interval:")))
	case strings.HasPrefix(s, "every:"):
		return parseIntervalSpec(strings.TrimSpace(strings.TrimPrefix(s, "every:")))
	}

	// Unprefixed: a bare duration parses as an interval, anything with
	// spaces or an @-descriptor goes through the cron parser.
	if !strings.ContainsAny(s, " \t") && !strings.HasPrefix(s, "@") {
		if d, err := time.ParseDuration(s); err == nil {
			if d <= 0 {
				return ParsedSchedule{}, fmt.Errorf("schedule %q: interval must be > 0", raw)
			}
			return ParsedSchedule{Kind: SpecInterval, Every: d, Source: "duration"}, nil
		}
	}
	return parseCronSpec(s)
}

func parseCronSpec(s string) (ParsedSchedule, error) {
	if _, err := specParser.Parse(s); err != nil {
		return ParsedSchedule{}, fmt.Errorf("invalid cron spec %q: %w", s, err)
	}
	return ParsedSchedule{Kind: SpecCron, Cron: s, Source: "cron"}, nil
}

func parseIntervalSpec(s string) (ParsedSchedule, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return ParsedSchedule{}, fmt.Errorf("invalid interval %q: %w", s, err)
	}
	if d <= 0 {
		return ParsedSchedule{}, fmt.Errorf("interval %q must be > 0", s)
	}
	return ParsedSchedule{Kind: SpecInterval, Every: d, Source: "duration"}, nil
}
