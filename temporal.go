package arrowpg

import (
	"fmt"
	"strconv"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/jackc/pgx/v5/pgtype"
)

// ZoneResolver resolves the time zone name carried by an Arrow timestamp type.
type ZoneResolver func(name string) (*time.Location, error)

// LoadZone resolves IANA zone names through the Go time zone database and
// absolute offsets of the form "+HH:MM" or "+HH:MM:SS" to fixed zones.
func LoadZone(name string) (*time.Location, error) {
	if name == "" {
		return nil, fmt.Errorf("empty time zone name")
	}
	loc, err := time.LoadLocation(name)
	if err == nil {
		return loc, nil
	}
	if off, ok := parseOffset(name); ok {
		return time.FixedZone(name, off), nil
	}
	return nil, err
}

// parseOffset parses "+HH:MM" or "+HH:MM:SS" (or the "-" forms) into seconds
// east of UTC.
func parseOffset(s string) (int, bool) {
	if (len(s) != 6 && len(s) != 9) || s[3] != ':' {
		return 0, false
	}
	var sign int
	switch s[0] {
	case '+':
		sign = 1
	case '-':
		sign = -1
	default:
		return 0, false
	}
	hh, err := strconv.Atoi(s[1:3])
	if err != nil || hh > 23 {
		return 0, false
	}
	mm, err := strconv.Atoi(s[4:6])
	if err != nil || mm > 59 {
		return 0, false
	}
	ss := 0
	if len(s) == 9 {
		if s[6] != ':' {
			return 0, false
		}
		ss, err = strconv.Atoi(s[7:9])
		if err != nil || ss > 59 {
			return 0, false
		}
	}
	return sign * (hh*3600 + mm*60 + ss), true
}

// formatOffset renders seconds east of UTC as "+HH:MM", or "+HH:MM:SS" when
// the offset is not a whole number of minutes.
func formatOffset(off int) string {
	sign := byte('+')
	if off < 0 {
		sign = '-'
		off = -off
	}
	if off%60 != 0 {
		return fmt.Sprintf("%c%02d:%02d:%02d", sign, off/3600, off%3600/60, off%60)
	}
	return fmt.Sprintf("%c%02d:%02d", sign, off/3600, off%3600/60)
}

// splitTimestamp converts a count of units since the epoch into whole seconds
// and a nanosecond remainder in [0, 1e9), rounding towards negative infinity.
func splitTimestamp(v int64, unit arrow.TimeUnit) (sec, nsec int64) {
	perSecond := int64(time.Second / unit.Multiplier())
	sec, rem := v/perSecond, v%perSecond
	if rem < 0 {
		sec--
		rem += perSecond
	}
	return sec, rem * int64(unit.Multiplier())
}

func timestampInstant(v arrow.Timestamp, unit arrow.TimeUnit) time.Time {
	sec, nsec := splitTimestamp(int64(v), unit)
	return time.Unix(sec, nsec).UTC()
}

// resolveZone looks up the zone of a timestamp type. A failure is the engine's
// fault, not the client's, so it is reported as an APIError.
func (e *CellEncoder) resolveZone(name string) (*time.Location, error) {
	loc, err := e.loadZone(name)
	if err != nil {
		return nil, &APIError{Op: fmt.Sprintf("resolve time zone %q", name), Err: err}
	}
	return loc, nil
}

// inFixedZone projects an instant into loc and pins the resulting offset, so
// the value no longer depends on the zone's rules.
func inFixedZone(t time.Time, loc *time.Location) time.Time {
	_, off := t.In(loc).Zone()
	return t.In(time.FixedZone(formatOffset(off), off))
}

func timestampValue(t time.Time) pgtype.Timestamp {
	return pgtype.Timestamp{Time: t, Valid: true}
}

func timestamptzValue(t time.Time) pgtype.Timestamptz {
	return pgtype.Timestamptz{Time: t, Valid: true}
}

func dateValue(t time.Time) pgtype.Date {
	return pgtype.Date{Time: t, Valid: true}
}

// timeOfDay converts a Time32/Time64 value to microseconds since midnight.
func timeOfDay(v int64, unit arrow.TimeUnit) pgtype.Time {
	var us int64
	switch unit {
	case arrow.Second:
		us = v * 1_000_000
	case arrow.Millisecond:
		us = v * 1_000
	case arrow.Microsecond:
		us = v
	case arrow.Nanosecond:
		us = v / 1_000
	}
	return pgtype.Time{Microseconds: us, Valid: true}
}

func monthInterval(v arrow.MonthInterval) pgtype.Interval {
	return pgtype.Interval{Months: int32(v), Valid: true}
}

func dayTimeInterval(v arrow.DayTimeInterval) pgtype.Interval {
	return pgtype.Interval{
		Days:         v.Days,
		Microseconds: int64(v.Milliseconds) * 1_000,
		Valid:        true,
	}
}

func monthDayNanoInterval(v arrow.MonthDayNanoInterval) pgtype.Interval {
	return pgtype.Interval{
		Months:       v.Months,
		Days:         v.Days,
		Microseconds: v.Nanoseconds / 1_000,
		Valid:        true,
	}
}
