package ndkports

import (
	"strconv"
	"strings"
)

// maxVersionParts matches CMake's major.minor.patch.tweak, which is what
// Prefab consumers compare against.
const maxVersionParts = 4

// Version is a normalized, totally ordered package version.
type Version struct {
	parts []int
}

// ParseVersion normalizes a dotted numeric version such as "1.10.0".
func ParseVersion(s string) (Version, error) {
	raw := strings.TrimSpace(s)
	if raw == "" {
		return Version{}, &InvalidVersionError{Version: s, Reason: "empty"}
	}
	fields := strings.Split(raw, ".")
	if len(fields) > maxVersionParts {
		return Version{}, &InvalidVersionError{Version: s, Reason: "more than 4 components"}
	}
	parts := make([]int, len(fields))
	for i, f := range fields {
		if f == "" {
			return Version{}, &InvalidVersionError{Version: s, Reason: "empty component"}
		}
		for _, r := range f {
			if r < '0' || r > '9' {
				return Version{}, &InvalidVersionError{Version: s, Reason: "component " + strconv.Quote(f) + " is not numeric"}
			}
		}
		n, err := strconv.Atoi(f)
		if err != nil {
			return Version{}, &InvalidVersionError{Version: s, Reason: err.Error()}
		}
		parts[i] = n
	}
	return Version{parts: parts}, nil
}

// Compare returns -1, 0 or 1. Missing components compare as zero; when the
// numbers tie, the version with fewer components sorts first so that the
// order stays total ("1.0" < "1.0.0").
func (v Version) Compare(o Version) int {
	n := len(v.parts)
	if len(o.parts) > n {
		n = len(o.parts)
	}
	for i := 0; i < n; i++ {
		a, b := v.part(i), o.part(i)
		if a < b {
			return -1
		}
		if a > b {
			return 1
		}
	}
	switch {
	case len(v.parts) < len(o.parts):
		return -1
	case len(v.parts) > len(o.parts):
		return 1
	}
	return 0
}

func (v Version) Less(o Version) bool { return v.Compare(o) < 0 }

func (v Version) part(i int) int {
	if i < len(v.parts) {
		return v.parts[i]
	}
	return 0
}

// String renders the normalized form; leading zeros are dropped.
func (v Version) String() string {
	s := make([]string, len(v.parts))
	for i, p := range v.parts {
		s[i] = strconv.Itoa(p)
	}
	return strings.Join(s, ".")
}

// compareVersions compares two version strings, falling back to a plain
// string comparison when either does not parse.
func compareVersions(a, b string) int {
	va, errA := ParseVersion(a)
	vb, errB := ParseVersion(b)
	if errA != nil || errB != nil {
		return strings.Compare(a, b)
	}
	return va.Compare(vb)
}
