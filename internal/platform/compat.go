package platform

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// Minimum supported versions per family.
var minimumVersions = map[Type]string{
	TypeLinux:   "3.10",
	TypeMacOS:   "10.15",
	TypeWindows: "10.0",
}

// CheckCompatibility compares the running OS against the minimum baseline.
// Linux is judged by kernel version, the others by OS version.
func (f *Factory) CheckCompatibility(ctx context.Context) CompatibilityResult {
	t := f.Detect()
	res := CompatibilityResult{
		Platform:         t,
		RequiredFeatures: FeatureBaseline.Names(),
	}
	minimum, ok := minimumVersions[t]
	if !ok {
		res.Warnings = append(res.Warnings, "unrecognized operating system")
		return res
	}
	res.MinimumVersion = minimum

	version, kernel := osVersion()
	have := version
	if t == TypeLinux {
		have = kernel
	}
	res.Version = have

	feat := f.Features()
	for i, name := range featureNames {
		flag := Feature(1 << i)
		if FeatureBaseline.Has(flag) && !feat.Has(flag) {
			res.MissingFeatures = append(res.MissingFeatures, name)
		}
	}

	res.Supported = len(res.MissingFeatures) == 0
	switch cmp, err := compareVersions(have, minimum); {
	case err != nil:
		res.Warnings = append(res.Warnings, fmt.Sprintf("cannot parse version %q: %v", have, err))
	case cmp < 0:
		res.Supported = false
		res.Warnings = append(res.Warnings, fmt.Sprintf("%s %s is older than the minimum %s", f.PlatformName(t), have, minimum))
	}
	if ctx.Err() != nil {
		res.Warnings = append(res.Warnings, "compatibility check interrupted")
	}
	if !res.Supported {
		f.log.Warn().Str("platform", t.String()).Str("version", have).Strs("missing", res.MissingFeatures).Msg("platform below supported baseline")
	}
	return res
}

// compareVersions compares the leading numeric components of dotted
// versions, ignoring suffixes such as "-generic" or "+".
func compareVersions(a, b string) (int, error) {
	pa, err := versionParts(a)
	if err != nil {
		return 0, err
	}
	pb, err := versionParts(b)
	if err != nil {
		return 0, err
	}
	for i := 0; i < len(pa) || i < len(pb); i++ {
		var x, y int
		if i < len(pa) {
			x = pa[i]
		}
		if i < len(pb) {
			y = pb[i]
		}
		if x != y {
			if x < y {
				return -1, nil
			}
			return 1, nil
		}
	}
	return 0, nil
}

func versionParts(v string) ([]int, error) {
	v = strings.TrimSpace(v)
	end := strings.IndexFunc(v, func(r rune) bool { return (r < '0' || r > '9') && r != '.' })
	if end >= 0 {
		v = v[:end]
	}
	v = strings.Trim(v, ".")
	if v == "" {
		return nil, fmt.Errorf("no numeric version")
	}
	var out []int
	for _, s := range strings.Split(v, ".") {
		n, err := strconv.Atoi(s)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}
