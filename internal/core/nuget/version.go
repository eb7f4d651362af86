package nuget

import (
	"fmt"
	"strconv"
	"strings"
)

// Version is a parsed NuGet version: up to four numeric parts, an optional
// pre-release label and ignored build metadata.
type Version struct {
	Major    int
	Minor    int
	Patch    int
	Revision int
	Release  string
	Original string
}

// ParseVersion parses versions such as "8.0.1", "4.5.0.2" or "9.0.0-preview.3+build".
func ParseVersion(raw string) (Version, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return Version{}, fmt.Errorf("empty version")
	}

	v := Version{Original: value}
	if i := strings.IndexByte(value, '+'); i >= 0 {
		value = value[:i]
	}
	if i := strings.IndexByte(value, '-'); i >= 0 {
		v.Release = value[i+1:]
		value = value[:i]
		if v.Release == "" {
			return Version{}, fmt.Errorf("invalid version %q: empty pre-release label", raw)
		}
	}

	parts := strings.Split(value, ".")
	if len(parts) > 4 {
		return Version{}, fmt.Errorf("invalid version %q: too many parts", raw)
	}
	numbers := [4]int{}
	for i, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 {
			return Version{}, fmt.Errorf("invalid version %q", raw)
		}
		numbers[i] = n
	}
	v.Major, v.Minor, v.Patch, v.Revision = numbers[0], numbers[1], numbers[2], numbers[3]
	return v, nil
}

// IsPrerelease reports whether the version carries a pre-release label.
func (v Version) IsPrerelease() bool {
	return v.Release != ""
}

// Normalized renders the version the way the registry addresses it: three
// parts unless the revision is set, pre-release label kept, metadata dropped.
func (v Version) Normalized() string {
	out := fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
	if v.Revision != 0 {
		out += "." + strconv.Itoa(v.Revision)
	}
	if v.Release != "" {
		out += "-" + v.Release
	}
	return out
}

func (v Version) String() string {
	if v.Original != "" {
		return v.Original
	}
	return v.Normalized()
}

// Compare returns -1, 0 or 1. Pre-release labels compare with SemVer 2.0
// rules, case-insensitively.
func (v Version) Compare(other Version) int {
	for _, pair := range [][2]int{
		{v.Major, other.Major},
		{v.Minor, other.Minor},
		{v.Patch, other.Patch},
		{v.Revision, other.Revision},
	} {
		if pair[0] != pair[1] {
			if pair[0] < pair[1] {
				return -1
			}
			return 1
		}
	}
	return compareRelease(v.Release, other.Release)
}

func compareRelease(a, b string) int {
	switch {
	case a == "" && b == "":
		return 0
	case a == "":
		return 1
	case b == "":
		return -1
	}

	left := strings.Split(strings.ToLower(a), ".")
	right := strings.Split(strings.ToLower(b), ".")
	for i := 0; i < len(left) && i < len(right); i++ {
		if c := compareIdentifier(left[i], right[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(left) < len(right):
		return -1
	case len(left) > len(right):
		return 1
	}
	return 0
}

func compareIdentifier(a, b string) int {
	an, aErr := strconv.Atoi(a)
	bn, bErr := strconv.Atoi(b)
	switch {
	case aErr == nil && bErr == nil:
		switch {
		case an < bn:
			return -1
		case an > bn:
			return 1
		}
		return 0
	case aErr == nil:
		return -1
	case bErr == nil:
		return 1
	}
	return strings.Compare(a, b)
}
