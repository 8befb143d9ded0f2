package rules

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// TruncateVersion reduces a dotted version to the integer formed by its first
// three digits once the dots are removed: "19.3.0" -> 193, "11.2" -> 112.
func TruncateVersion(v string) (int, error) {
	s := strings.ReplaceAll(strings.TrimSpace(v), ".", "")
	if len(s) > 3 {
		s = s[:3]
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid version %q", v)
	}
	return n, nil
}

// InVersionRange reports whether version lies in [minVersion, maxVersion] after
// truncation. A blank bound leaves that side open.
func InVersionRange(version, minVersion, maxVersion string) (bool, error) {
	if strings.TrimSpace(minVersion) == "" && strings.TrimSpace(maxVersion) == "" {
		return true, nil
	}
	v, err := TruncateVersion(version)
	if err != nil {
		return false, err
	}
	lo, hi := math.MinInt, math.MaxInt
	if strings.TrimSpace(minVersion) != "" {
		if lo, err = TruncateVersion(minVersion); err != nil {
			return false, fmt.Errorf("minimum: %w", err)
		}
	}
	if strings.TrimSpace(maxVersion) != "" {
		if hi, err = TruncateVersion(maxVersion); err != nil {
			return false, fmt.Errorf("maximum: %w", err)
		}
	}
	return v >= lo && v <= hi, nil
}
