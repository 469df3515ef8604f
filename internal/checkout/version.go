package checkout

import (
	"fmt"
	"strconv"
	"strings"

	"assetlib/internal/services"
)

// InitialVersion is the version of an asset with no commits.
const InitialVersion = "01.00.00"

// Bump selects which component of an MM.mm.pp version to increment.
type Bump string

const (
	BumpMajor Bump = "major"
	BumpMinor Bump = "minor"
	BumpPatch Bump = "patch"
)

// ParseBump accepts major, minor or patch (case-insensitive). Empty means minor.
func ParseBump(value string) (Bump, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", string(BumpMinor):
		return BumpMinor, nil
	case string(BumpMajor):
		return BumpMajor, nil
	case string(BumpPatch):
		return BumpPatch, nil
	default:
		return "", services.Wrap(services.ErrValidation, component, "parse_bump", fmt.Sprintf("unknown version bump %q (want major, minor or patch)", value), nil)
	}
}

// NextVersion increments current by bump. Lower components reset to zero.
// An empty current version yields InitialVersion.
func NextVersion(current string, bump Bump) (string, error) {
	current = strings.TrimSpace(current)
	if current == "" {
		return InitialVersion, nil
	}
	nums, err := parseVersion(current)
	if err != nil {
		return "", err
	}
	switch bump {
	case BumpMajor:
		nums[0], nums[1], nums[2] = nums[0]+1, 0, 0
	case BumpPatch:
		nums[2]++
	case BumpMinor, "":
		nums[1], nums[2] = nums[1]+1, 0
	default:
		return "", services.Wrap(services.ErrValidation, component, "next_version", fmt.Sprintf("unknown version bump %q", bump), nil)
	}
	return fmt.Sprintf("%02d.%02d.%02d", nums[0], nums[1], nums[2]), nil
}

// ValidateVersion reports whether value is a MM.mm.pp version string.
func ValidateVersion(value string) error {
	_, err := parseVersion(strings.TrimSpace(value))
	return err
}

func parseVersion(value string) ([]int, error) {
	parts := strings.Split(value, ".")
	if len(parts) != 3 {
		return nil, invalidVersion(value)
	}
	nums := make([]int, 3)
	for i, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 {
			return nil, invalidVersion(value)
		}
		nums[i] = n
	}
	return nums, nil
}

func invalidVersion(value string) error {
	return services.Wrap(services.ErrValidation, component, "next_version", fmt.Sprintf("version %q is not MM.mm.pp", value), nil)
}
