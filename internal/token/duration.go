package token

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"userboard.io/internal/apperr"
)

// ParseDuration parses TTL strings of the form <digits><unit>, where unit is
// m (minutes), h (hours) or d (days).
func ParseDuration(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if len(raw) < 2 {
		return 0, fmt.Errorf("%w: invalid duration %q", apperr.ErrConfiguration, raw)
	}
	digits, suffix := raw[:len(raw)-1], raw[len(raw)-1]

	var unit time.Duration
	switch suffix {
	case 'm':
		unit = time.Minute
	case 'h':
		unit = time.Hour
	case 'd':
		unit = 24 * time.Hour
	default:
		return 0, fmt.Errorf("%w: unrecognized duration unit %q in %q", apperr.ErrConfiguration, string(suffix), raw)
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("%w: invalid duration %q", apperr.ErrConfiguration, raw)
		}
	}
	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid duration %q: %v", apperr.ErrConfiguration, raw, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("%w: duration %q must be positive", apperr.ErrConfiguration, raw)
	}
	if n > int64(1<<63-1)/int64(unit) {
		return 0, fmt.Errorf("%w: duration %q overflows", apperr.ErrConfiguration, raw)
	}
	return time.Duration(n) * unit, nil
}
