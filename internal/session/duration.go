package session

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// Poll interval clamp bounds.
const (
	MinPollInterval = 2 * time.Second
	MaxPollInterval = 30 * time.Second
)

// ParseDuration parses a protobuf JSON duration ("5s", "2.5s") or a bare
// number of seconds. ok is false when raw is empty or malformed, telling
// the caller to use its own default.
func ParseDuration(raw string) (time.Duration, bool) {
	s := strings.TrimSpace(raw)
	s = strings.TrimSuffix(s, "s")

	if s == "" {
		return 0, false
	}

	secs, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(secs) || math.IsInf(secs, 0) {
		return 0, false
	}

	return time.Duration(secs * float64(time.Second)), true
}

// PollInterval resolves the remote poll interval, falling back to def when
// the value is absent, malformed or not positive, and clamps the result to
// [MinPollInterval, MaxPollInterval].
func PollInterval(raw string, def time.Duration) time.Duration {
	d, ok := ParseDuration(raw)
	if !ok || d <= 0 {
		d = def
	}

	return min(max(d, MinPollInterval), MaxPollInterval)
}
