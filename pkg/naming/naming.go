// SPDX-License-Identifier: Apache-2.0

// Package naming centralizes agent name versioning and traceability stamping.
// Repeated creations from the same source stay distinguishable in the remote
// system: each create bumps a numeric version suffix, and once the remote
// identifier is known the name is stamped with it plus the local date and
// timezone. Stamping never happens pre-creation.
package naming

import (
	"regexp"
	"strconv"
	"time"
)

const stampLayout = "2006-01-02 03:04 PM MST"

var versionSuffix = regexp.MustCompile(`\.(\d+)$`)

// ExtractBase strips a trailing ".N" version suffix from an agent name.
func ExtractBase(name string) string {
	return versionSuffix.ReplaceAllString(name, "")
}

// ParseVersion returns the numeric version suffix of name when it extends the
// given base, and false otherwise.
func ParseVersion(name, base string) (int, bool) {
	if len(name) <= len(base) || name[:len(base)] != base {
		return 0, false
	}
	m := versionSuffix.FindStringSubmatch(name[len(base):])
	if m == nil || name[len(base):] != "."+m[1] {
		return 0, false
	}
	v, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return v, true
}

// NextVersion finds the highest version for the base among the existing
// remote agent names and returns the next one. A base never seen before
// starts at 1.
func NextVersion(existing []string, base string) int {
	max := 0
	for _, name := range existing {
		// Stamped names carry " [id | ts]" after the version.
		if i := indexStamp(name); i >= 0 {
			name = name[:i]
		}
		if v, ok := ParseVersion(name, base); ok && v > max {
			max = v
		}
	}
	return max + 1
}

// Versioned returns the next versioned form of yamlName given the existing
// remote names, e.g. "ARCHITECT_MANAGER" with "ARCHITECT_MANAGER.2" present
// becomes "ARCHITECT_MANAGER.3".
func Versioned(existing []string, yamlName string) string {
	base := ExtractBase(yamlName)
	return base + "." + strconv.Itoa(NextVersion(existing, base))
}

// Stamped appends the traceability suffix to a versioned name:
//
//	ARCHITECT_MANAGER.4 [68abc123 | 2026-08-25 02:45 PM PST]
//
// The id exists only post-creation, so callers stamp after the create call
// returned; now is taken as a parameter to keep the function pure.
func Stamped(versioned, agentID string, now time.Time) string {
	if agentID == "" {
		return versioned
	}
	return versioned + " [" + agentID + " | " + now.Format(stampLayout) + "]"
}

func indexStamp(name string) int {
	for i := 0; i+1 < len(name); i++ {
		if name[i] == ' ' && name[i+1] == '[' {
			return i
		}
	}
	return -1
}
