package update

import (
	"fmt"
	"strings"
)

// Version is a three-component numeric version. Anything past the patch
// component, including prerelease and build suffixes, is ignored.
type Version struct {
	Major int
	Minor int
	Patch int
}

// ParseVersion parses a version string leniently.
// Supports formats like "1.4.0", "v1.4", "2.0.0-rc.1" and "1.2.3+build.7".
// Missing components are 0, and so is a component with no leading digits.
func ParseVersion(s string) Version {
	s = NormalizeVersion(s)
	if i := strings.IndexAny(s, "-+"); i >= 0 {
		s = s[:i]
	}

	var parts [3]int
	for i, field := range strings.SplitN(s, ".", 4) {
		if i >= len(parts) {
			break
		}
		parts[i] = leadingInt(field)
	}

	return Version{Major: parts[0], Minor: parts[1], Patch: parts[2]}
}

// leadingInt parses the run of digits at the start of s.
func leadingInt(s string) int {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			break
		}
		n = n*10 + int(r-'0')
	}
	return n
}

// String returns the string representation
func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Compare compares two versions component by component.
// Returns:
//   - 1 if v > other
//   - 0 if v == other
//   - -1 if v < other
func (v Version) Compare(other Version) int {
	a := [3]int{v.Major, v.Minor, v.Patch}
	b := [3]int{other.Major, other.Minor, other.Patch}
	for i := range a {
		if a[i] != b[i] {
			if a[i] > b[i] {
				return 1
			}
			return -1
		}
	}
	return 0
}

// IsGreaterThan returns true if v > other
func (v Version) IsGreaterThan(other Version) bool {
	return v.Compare(other) > 0
}

// CompareVersions compares two version strings.
// Returns 1, 0 or -1 like Version.Compare.
func CompareVersions(v1, v2 string) int {
	return ParseVersion(v1).Compare(ParseVersion(v2))
}

// HasUpdate reports whether latest is strictly newer than current.
func HasUpdate(latest, current string) bool {
	return CompareVersions(latest, current) > 0
}

// NormalizeVersion removes surrounding space and the 'v' prefix if present
func NormalizeVersion(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "v") || strings.HasPrefix(s, "V") {
		return s[1:]
	}
	return s
}
