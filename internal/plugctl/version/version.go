// Package version orders plugin versions by major.minor.patch.
//
// Only the canonical numeric form is accepted: no "v" prefix, no missing
// components, no leading zeros, no pre-release or build suffix. Each version
// therefore has exactly one spelling, which the cache relies on for directory names.
package version

import (
	"fmt"
	"slices"
	"strings"

	"github.com/Masterminds/semver"
	"github.com/greeddj/go-plugctl/internal/plugctl/helpers"
)

// Triple is the numeric part of a version.
type Triple struct {
	Major int64
	Minor int64
	Patch int64
}

// String renders the triple as major.minor.patch.
func (t Triple) String() string {
	return fmt.Sprintf("%d.%d.%d", t.Major, t.Minor, t.Patch)
}

// Parse extracts the major.minor.patch triple from value.
func Parse(value string) (Triple, error) {
	v, err := semver.NewVersion(value)
	if err != nil {
		return Triple{}, fmt.Errorf("%w %q: %w", helpers.ErrInvalidVersion, value, err)
	}
	t := Triple{Major: v.Major(), Minor: v.Minor(), Patch: v.Patch()}
	if t.String() != value {
		return Triple{}, fmt.Errorf("%w %q: not major.minor.patch", helpers.ErrInvalidVersion, value)
	}
	return t, nil
}

// Valid reports whether value parses as a version.
func Valid(value string) bool {
	_, err := Parse(value)
	return err == nil
}

// Compare returns -1, 0 or 1. Unparsable versions sort below parsable ones
// and fall back to lexical order among themselves.
func Compare(a, b string) int {
	ta, errA := Parse(a)
	tb, errB := Parse(b)
	switch {
	case errA != nil && errB != nil:
		return strings.Compare(a, b)
	case errA != nil:
		return -1
	case errB != nil:
		return 1
	}
	for _, pair := range [][2]int64{{ta.Major, tb.Major}, {ta.Minor, tb.Minor}, {ta.Patch, tb.Patch}} {
		if pair[0] < pair[1] {
			return -1
		}
		if pair[0] > pair[1] {
			return 1
		}
	}
	return 0
}

// SortDescending orders versions highest first.
func SortDescending(versions []string) {
	slices.SortStableFunc(versions, func(a, b string) int {
		return Compare(b, a)
	})
}

// Highest returns the highest version in versions.
func Highest(versions []string) (string, bool) {
	if len(versions) == 0 {
		return "", false
	}
	best := versions[0]
	for _, v := range versions[1:] {
		if Compare(v, best) > 0 {
			best = v
		}
	}
	return best, true
}

// HighestBelow returns the highest version strictly lower than ceiling.
func HighestBelow(versions []string, ceiling string) (string, bool) {
	var (
		best  string
		found bool
	)
	for _, v := range versions {
		if Compare(v, ceiling) >= 0 {
			continue
		}
		if !found || Compare(v, best) > 0 {
			best = v
			found = true
		}
	}
	return best, found
}

// Satisfies reports whether value matches a semver constraint such as ">=1.2.0, <2".
// An empty or "*" constraint matches everything.
func Satisfies(value, constraint string) (bool, error) {
	trimmed := strings.TrimSpace(constraint)
	if trimmed == "" || trimmed == "*" {
		return true, nil
	}
	c, err := semver.NewConstraint(trimmed)
	if err != nil {
		return false, fmt.Errorf("invalid constraint %q: %w", constraint, err)
	}
	t, err := Parse(value)
	if err != nil {
		return false, err
	}
	v, err := semver.NewVersion(t.String())
	if err != nil {
		return false, fmt.Errorf("%w %q: %w", helpers.ErrInvalidVersion, value, err)
	}
	return c.Check(v), nil
}
