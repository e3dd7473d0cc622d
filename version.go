package deimos

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// VersionLines splits a version query's output into its lines, dropping a
// trailing carriage return on each.
func VersionLines(output string) []string {
	lines := strings.Split(output, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return lines
}

// ParseVersionOutput extracts the version token from the output of
// "<tool> version". The second line looks like "Version: 4.0.1-stable";
// the token is the part after ": " and before the first "-".
func ParseVersionOutput(output string) (string, error) {
	lines := VersionLines(output)
	if len(lines) < 2 {
		return "", fmt.Errorf("version output has %d line(s), want at least 2", len(lines))
	}
	_, after, ok := strings.Cut(lines[1], ": ")
	if !ok {
		return "", fmt.Errorf("unexpected version line %q", lines[1])
	}
	version, _, _ := strings.Cut(after, "-")
	version = strings.TrimSpace(version)
	if version == "" {
		return "", fmt.Errorf("empty version in line %q", lines[1])
	}
	return version, nil
}

// VersionCore reduces a release tag to the part the client reports about
// itself: no leading "v" and nothing from the first "-" on. "4.0.1-stable"
// and "v4.0.1" both become "4.0.1".
func VersionCore(version string) string {
	core, _, _ := strings.Cut(strings.TrimSpace(version), "-")
	return strings.TrimPrefix(core, "v")
}

// CompareVersions orders the cores of a and b (see VersionCore), so an
// installed "4.0.1" equals a published "4.0.1-stable". Cores that semver
// cannot parse only compare equal when identical; otherwise the result is 1.
func CompareVersions(a, b string) int {
	a, b = VersionCore(a), VersionCore(b)
	av, aerr := semver.NewVersion(a)
	bv, berr := semver.NewVersion(b)
	if aerr != nil || berr != nil {
		if a == b {
			return 0
		}
		return 1
	}
	return av.Compare(bv)
}
