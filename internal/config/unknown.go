package config

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

// maxLevenshteinDistance bounds "did you mean?" suggestions.
const maxLevenshteinDistance = 3

// knownKeys lists the valid keys of each section.
var knownKeys = map[string][]string{
	"server": {
		"host", "device_id", "background", "request_timeout", "resource_timeout",
		"bandwidth_limit", "user_agent",
	},
	"sync": {
		"batch_size", "remove_after_sync", "compact", "debug_level", "dry_run", "interval",
		"wifi_only", "charging_only", "min_free_space", "max_parallel", "shutdown_timeout",
		"watch_source", "watch_debounce", "feed_addr",
	},
	"source":  {"path", "collections"},
	"state":   {"path", "device_id_path"},
	"logging": {"log_level", "log_file", "log_format", "log_retention_days"},
}

// knownSections is the sorted list of section names, so ties in edit
// distance resolve deterministically.
var knownSections = func() []string {
	s := make([]string, 0, len(knownKeys))
	for k := range knownKeys {
		s = append(s, k)
	}

	sort.Strings(s)

	return s
}()

// checkUnknownKeys reports every undecoded key with a suggestion when a
// close match exists.
func checkUnknownKeys(md *toml.MetaData) error {
	var errs []error

	reported := make(map[string]bool)

	for _, key := range md.Undecoded() {
		section, leaf, nested := strings.Cut(key.String(), ".")

		known, ok := knownKeys[section]
		if !ok {
			if reported[section] {
				continue
			}

			reported[section] = true
			errs = append(errs, unknownKeyError("section", section, knownSections))

			continue
		}

		if !nested {
			errs = append(errs, fmt.Errorf("config key %q must be a section, not a value", section))
			continue
		}

		errs = append(errs, unknownKeyError("key", section+"."+leaf, qualify(section, known)))
	}

	return errors.Join(errs...)
}

func qualify(section string, keys []string) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = section + "." + k
	}

	slices.Sort(out)

	return out
}

func unknownKeyError(kind, name string, candidates []string) error {
	if suggestion := closestMatch(name, candidates); suggestion != "" {
		return fmt.Errorf("unknown config %s %q, did you mean %q?", kind, name, suggestion)
	}

	return fmt.Errorf("unknown config %s %q", kind, name)
}

// closestMatch finds the closest candidate by Levenshtein distance, or ""
// when none is within maxLevenshteinDistance.
func closestMatch(unknown string, known []string) string {
	best := ""
	bestDist := maxLevenshteinDistance + 1

	for _, k := range known {
		if d := levenshtein(unknown, k); d < bestDist {
			bestDist = d
			best = k
		}
	}

	return best
}

// levenshtein computes the edit distance between two strings with a
// two-row table.
func levenshtein(a, b string) int {
	if a == "" {
		return len(b)
	}

	if b == "" {
		return len(a)
	}

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
