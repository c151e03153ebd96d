package scene

import (
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/cronexpr"
)

// Schedule gates a scene to a weekday mask plus a daily window. Windows
// are evaluated in local time; across DST transitions the wall-clock
// boundaries hold, so a window may be shortened or stretched by the shift.
type Schedule struct {
	// Weekdays the window applies to. Empty means every day.
	Weekdays []time.Weekday `json:"weekdays"`

	// Start and End bound the daily window as "HH:MM". An End before
	// Start crosses midnight.
	Start string `json:"start"`
	End   string `json:"end"`

	startExpr *cronexpr.Expression
	endExpr   *cronexpr.Expression
}

// Compile parses the window bounds into cron expressions. Must be called
// before InWindow; Registry.Register does so via Scene.Validate.
func (s *Schedule) Compile() error {
	startMin, err := parseHHMM(s.Start)
	if err != nil {
		return fmt.Errorf("invalid schedule start %q: %w", s.Start, err)
	}
	endMin, err := parseHHMM(s.End)
	if err != nil {
		return fmt.Errorf("invalid schedule end %q: %w", s.End, err)
	}

	// A window crossing midnight ends on the day after it starts, so the
	// end expression's weekday mask must shift forward by one day.
	endShift := 0
	if endMin < startMin {
		endShift = 1
	}

	if s.startExpr, err = compileDaily(startMin, dowField(s.Weekdays, 0)); err != nil {
		return fmt.Errorf("invalid schedule start %q: %w", s.Start, err)
	}
	if s.endExpr, err = compileDaily(endMin, dowField(s.Weekdays, endShift)); err != nil {
		return fmt.Errorf("invalid schedule end %q: %w", s.End, err)
	}
	return nil
}

func parseHHMM(hhmm string) (int, error) {
	var hh, mm int
	if _, err := fmt.Sscanf(hhmm, "%d:%d", &hh, &mm); err != nil {
		return 0, err
	}
	if hh < 0 || hh > 23 || mm < 0 || mm > 59 {
		return 0, fmt.Errorf("out of range")
	}
	return hh*60 + mm, nil
}

// dowField renders the weekday mask as a cron day-of-week field, rotated
// forward by shift days. Empty masks stay "*" regardless of shift.
func dowField(days []time.Weekday, shift int) string {
	if len(days) == 0 {
		return "*"
	}
	parts := make([]string, len(days))
	for i, wd := range days {
		parts[i] = fmt.Sprintf("%d", (int(wd)+shift)%7)
	}
	return strings.Join(parts, ",")
}

func compileDaily(minOfDay int, dow string) (*cronexpr.Expression, error) {
	return cronexpr.Parse(fmt.Sprintf("%d %d * * %s", minOfDay%60, minOfDay/60, dow))
}

// InWindow reports whether now falls inside the window: the next end
// boundary arriving before the next start boundary means we are inside.
// This also handles windows that cross midnight.
func (s *Schedule) InWindow(now time.Time) bool {
	if s.startExpr == nil || s.endExpr == nil {
		return false
	}
	nextStart := s.startExpr.Next(now)
	nextEnd := s.endExpr.Next(now)
	if nextStart.IsZero() || nextEnd.IsZero() {
		return false
	}
	return nextEnd.Before(nextStart)
}
