package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

// maxLevenshteinDistance is the maximum edit distance for "did you mean?"
// suggestions when unknown config keys are detected.
const maxLevenshteinDistance = 3

// knownKeys lists the valid keys of each config section.
var knownKeys = map[string][]string{
	"paths":   {"data_dir", "cache_dir", "credentials_file", "token_file"},
	"auth":    {"safety_margin"},
	"picker":  {"base_url", "poll_interval", "max_polls", "max_session_age", "retain_session"},
	"cache":   {"parallel_downloads"},
	"display": {"listen_addr", "sort", "update_interval", "refill_window", "show_width", "show_height", "allowed_origins"},
	"refresh": {"interval", "init_retry"},
	"logging": {"log_level", "log_file", "log_format"},
	"network": {"connect_timeout", "data_timeout", "user_agent"},
}

// knownSections is the sorted list of section names, for deterministic
// suggestions.
var knownSections = func() []string {
	out := make([]string, 0, len(knownKeys))
	for k := range knownKeys {
		out = append(out, k)
	}

	sort.Strings(out)

	return out
}()

// checkUnknownKeys inspects TOML metadata for undecoded keys and returns
// an error with "did you mean?" suggestions for each unknown key.
func checkUnknownKeys(md *toml.MetaData) error {
	undecoded := md.Undecoded()
	if len(undecoded) == 0 {
		return nil
	}

	var errs []error

	for _, key := range undecoded {
		errs = append(errs, unknownKeyError(key))
	}

	return errors.Join(errs...)
}

func unknownKeyError(key toml.Key) error {
	section := key[0]

	keys, ok := knownKeys[section]
	if !ok {
		if s := closestMatch(section, knownSections); s != "" {
			return fmt.Errorf("unknown config section or key %q, did you mean [%s]?", section, s)
		}

		return fmt.Errorf("unknown config section or key %q", section)
	}

	field := strings.Join(key[1:], ".")

	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)

	if s := closestMatch(field, sorted); s != "" {
		return fmt.Errorf("unknown config key %q in [%s], did you mean %q?", field, section, s)
	}

	return fmt.Errorf("unknown config key %q in [%s]", field, section)
}

// closestMatch finds the closest known key by Levenshtein distance.
// Returns empty string if no match is within maxLevenshteinDistance.
func closestMatch(unknown string, known []string) string {
	best := ""
	bestDist := maxLevenshteinDistance + 1

	for _, k := range known {
		d := levenshtein(unknown, k)
		if d < bestDist {
			bestDist = d
			best = k
		}
	}

	if bestDist <= maxLevenshteinDistance {
		return best
	}

	return ""
}

// levenshtein computes the edit distance between two strings.
func levenshtein(a, b string) int {
	if a == "" {
		return len(b)
	}

	if b == "" {
		return len(a)
	}

	// Single-row optimization.
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)

	for j := range prev {
		prev[j] = j
	}

	for i := range len(a) {
		curr[0] = i + 1

		for j := range len(b) {
			cost := 1
			if a[i] == b[j] {
				cost = 0
			}

			curr[j+1] = min(curr[j]+1, prev[j+1]+1, prev[j]+cost)
		}

		prev, curr = curr, prev
	}

	return prev[len(b)]
}
