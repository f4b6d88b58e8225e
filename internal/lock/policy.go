package lock

import (
	"fmt"
	"strings"
)

// Policy selects how validate and compile are serialized across processes
type Policy int

const (
	// PolicyStandard guards validate and compile with the compile lock and a bounded wait
	PolicyStandard Policy = iota

	// PolicyHighResolution uses separate locks: validate waits without bound,
	// compile waits with the bounded timeout
	PolicyHighResolution

	// PolicyNone disables locking; the host synchronizes externally
	PolicyNone
)

func (p Policy) String() string {
	switch p {
	case PolicyStandard:
		return "standard"
	case PolicyHighResolution:
		return "high-resolution"
	case PolicyNone:
		return "none"
	default:
		return "unknown"
	}
}

// ParsePolicy converts a configuration value to a Policy
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "standard":
		return PolicyStandard, nil
	case "high-resolution", "highresolution", "high":
		return PolicyHighResolution, nil
	case "none", "off":
		return PolicyNone, nil
	}

	return PolicyStandard, fmt.Errorf("unknown concurrency policy: %s", s)
}
