package catalog

import (
	"sort"

	"golang.org/x/mod/semver"
)

// Version ranks used when picking a default version. A stable release always
// beats a prerelease, and anything that is not valid semver ranks last.
const (
	rankInvalid = iota
	rankPrerelease
	rankStable
)

// canonical converts a crate version number ("1.2.3-beta.1") into the "v"
// prefixed form expected by golang.org/x/mod/semver.
func canonical(number string) string {
	if len(number) > 0 && number[0] == 'v' {
		return number
	}
	return "v" + number
}

// isFullSemver reports whether v is valid semver with all three of MAJOR,
// MINOR and PATCH. semver.IsValid also accepts the "v1" and "v1.2"
// shorthands, which crate versions never use.
func isFullSemver(v string) bool {
	if !semver.IsValid(v) {
		return false
	}
	return semver.Canonical(v) == v[:len(v)-len(semver.Build(v))]
}

func rank(number string) int {
	v := canonical(number)
	switch {
	case !isFullSemver(v):
		return rankInvalid
	case semver.Prerelease(v) != "":
		return rankPrerelease
	default:
		return rankStable
	}
}

// Less reports whether version a ranks below version b for default-version
// selection. Versions with equal precedence (build metadata only, or two
// invalid numbers) are ordered bytewise so the result is total.
func Less(a, b string) bool {
	ra, rb := rank(a), rank(b)
	if ra != rb {
		return ra < rb
	}
	if ra == rankInvalid {
		return a < b
	}
	if c := semver.Compare(canonical(a), canonical(b)); c != 0 {
		return c < 0
	}
	return a < b
}

// DefaultVersion picks the current version of a crate: the highest stable
// version, or the highest prerelease when there is no stable one. It returns
// false for an empty list.
func DefaultVersion(numbers []string) (string, bool) {
	if len(numbers) == 0 {
		return "", false
	}
	best := numbers[0]
	for _, n := range numbers[1:] {
		if Less(best, n) {
			best = n
		}
	}
	return best, true
}

// SortVersions sorts numbers in place, newest first.
func SortVersions(numbers []string) {
	sort.Slice(numbers, func(i, j int) bool {
		return Less(numbers[j], numbers[i])
	})
}
