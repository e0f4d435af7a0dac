package engine

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var durationRegex = regexp.MustCompile(`(?i)^(\d+)([smhd])$`)

var durationUnits = map[string]time.Duration{
	"s": time.Second,
	"m": time.Minute,
	"h": time.Hour,
	"d": 24 * time.Hour,
}

// Parses a mute or ban length like "30s", "10m", "2h" or "1d". Units are case-insensitive; anything else is rejected.
func ParseDuration(s string) (time.Duration, bool) {
	m := durationRegex.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0, false
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, false
	}
	unit := durationUnits[strings.ToLower(m[2])]
	if n > math.MaxInt64/int64(unit) {
		return 0, false
	}
	return time.Duration(n) * unit, true
}
