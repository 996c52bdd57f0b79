package database

import (
	"strings"

	"golang.org/x/mod/semver"
)

// AtLeast reports whether a PostgreSQL version string is at or above min.
// Suffixes such as "beta1" or "devel" are ignored; an unparsable version
// never satisfies the check.
func AtLeast(version, min string) bool {
	v := canonical(version)
	m := canonical(min)
	if !semver.IsValid(v) || !semver.IsValid(m) {
		return false
	}
	return semver.Compare(v, m) >= 0
}

func canonical(version string) string {
	version = strings.TrimPrefix(strings.TrimSpace(version), "v")
	end := 0
	for end < len(version) {
		c := version[end]
		if (c < '0' || c > '9') && c != '.' {
			break
		}
		end++
	}
	version = strings.Trim(version[:end], ".")
	if version == "" {
		return ""
	}
	if parts := strings.Split(version, "."); len(parts) > 3 {
		version = strings.Join(parts[:3], ".")
	}
	return "v" + version
}
