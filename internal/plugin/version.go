package plugin

import (
	"fmt"
	"strings"

	"golang.org/x/mod/semver"
)

// canonicalVersion accepts "1.2.3" or "v1.2.3" and returns the semver form.
func canonicalVersion(v string) (string, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return "", false
	}
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	if !semver.IsValid(v) {
		return "", false
	}
	return semver.Canonical(v), true
}

// versionCompatible reports whether have satisfies want: equal major
// versions and have >= want.
func versionCompatible(have, want string) bool {
	h, ok := canonicalVersion(have)
	if !ok {
		return false
	}
	w, ok := canonicalVersion(want)
	if !ok {
		return false
	}
	return semver.Major(h) == semver.Major(w) && semver.Compare(h, w) >= 0
}

// parseDependency splits "name" or "name@version".
func parseDependency(dep string) (name, version string) {
	name, version, _ = strings.Cut(strings.TrimSpace(dep), "@")
	return name, version
}

func checkCoreVersion(meta Metadata, core string) error {
	if meta.MinCoreVersion == "" || core == "" {
		return nil
	}
	if _, ok := canonicalVersion(meta.MinCoreVersion); !ok {
		return fmt.Errorf("%w: invalid min_core_version %q", ErrIncompatible, meta.MinCoreVersion)
	}
	if !versionCompatible(core, meta.MinCoreVersion) {
		return fmt.Errorf("%w: requires core %s, running %s", ErrIncompatible, meta.MinCoreVersion, core)
	}
	return nil
}

func checkPlatform(meta Metadata, platform string) error {
	if len(meta.Platforms) == 0 || platform == "" {
		return nil
	}
	for _, p := range meta.Platforms {
		if strings.EqualFold(p, platform) || p == "*" {
			return nil
		}
	}
	return fmt.Errorf("%w: supports %v, running on %s", ErrIncompatible, meta.Platforms, platform)
}
