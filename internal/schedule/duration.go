package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// NormalizeCron left-extends a 5-field cron expression with a "0" seconds
// column so every schedule is parsed by the same 6-field parser. A 6-field
// expression (or anything else) passes through unchanged.
func NormalizeCron(expr string) string {
	if len(strings.Fields(expr)) == 5 {
		return "0 " + expr
	}
	return expr
}

// ParseCooldown accepts a compound duration like "1d2h30m15s", a bare
// integer (seconds), or an empty/invalid string (no cooldown). Unlike
// time.ParseDuration it understands a "d" (day) unit, since rule authors
// write cooldowns in days as often as hours.
func ParseCooldown(s string) (time.Duration, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	if n, err := strconv.Atoi(s); err == nil {
		if n <= 0 {
			return 0, false
		}
		return time.Duration(n) * time.Second, true
	}

	d, err := parseCompoundDuration(s)
	if err != nil || d <= 0 {
		return 0, false
	}
	return d, true
}

func parseCompoundDuration(s string) (time.Duration, error) {
	var total time.Duration
	num := ""
	for _, r := range s {
		if r >= '0' && r <= '9' {
			num += string(r)
			continue
		}
		if num == "" {
			return 0, fmt.Errorf("invalid duration %q: expected digits before unit %q", s, r)
		}
		n, err := strconv.Atoi(num)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q: %w", s, err)
		}
		num = ""
		switch r {
		case 'd':
			total += time.Duration(n) * 24 * time.Hour
		case 'h':
			total += time.Duration(n) * time.Hour
		case 'm':
			total += time.Duration(n) * time.Minute
		case 's':
			total += time.Duration(n) * time.Second
		default:
			return 0, fmt.Errorf("invalid duration %q: unknown unit %q", s, r)
		}
	}
	if num != "" {
		return 0, fmt.Errorf("invalid duration %q: trailing digits with no unit", s)
	}
	return total, nil
}
