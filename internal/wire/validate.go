package wire

import (
	"fmt"
	"regexp"
)

// SupportedAPIVersion is the single apiVersion this build accepts. A real
// deployment would carry a compatibility range; one fixed value is enough to
// exercise the validation/rejection path this spec requires.
const SupportedAPIVersion = "v0.1"

var nameRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidateWorkloadName enforces the workload name charset [A-Za-z0-9_-] and
// a 1-63 character length.
func ValidateWorkloadName(name string) error {
	if len(name) < 1 || len(name) > 63 {
		return fmt.Errorf("%w: workload name %q must be 1-63 characters", ErrInvalidName, name)
	}
	if !nameRe.MatchString(name) {
		return fmt.Errorf("%w: workload name %q must match [A-Za-z0-9_-]", ErrInvalidName, name)
	}
	return nil
}

// ValidateAgentName enforces the agent name charset [A-Za-z0-9_-]. An empty
// agent name is allowed and means the workload is unscheduled.
func ValidateAgentName(name string) error {
	if name == "" {
		return nil
	}
	if !nameRe.MatchString(name) {
		return fmt.Errorf("%w: agent name %q must match [A-Za-z0-9_-]", ErrInvalidName, name)
	}
	return nil
}

// ValidateAPIVersion rejects anything but the supported version.
func ValidateAPIVersion(v string) error {
	if v != SupportedAPIVersion {
		return fmt.Errorf("%w: %q (supported: %q)", ErrUnsupportedAPIVersion, v, SupportedAPIVersion)
	}
	return nil
}

// ValidateAccessRules enforces that every StateRule rule carries a
// non-empty filterMasks list, and that every LogRule entry contains at
// most one '*'.
func ValidateAccessRules(rules AccessRules) error {
	for _, r := range append(append([]AccessRule{}, rules.AllowRules...), rules.DenyRules...) {
		if r.State != nil && len(r.State.FilterMasks) == 0 {
			return ErrEmptyFilterMask
		}
		if r.Log != nil {
			for _, n := range r.Log.WorkloadNames {
				if count(n, '*') > 1 {
					return fmt.Errorf("wire: log rule name %q may contain at most one '*'", n)
				}
			}
		}
	}
	return nil
}

// ValidateDesiredState runs name-charset and access-rule validation over
// every workload in a DesiredState. It does not check the dependency graph
// (that is internal/depgraph's job) or config references (internal/configrender's).
func ValidateDesiredState(ds DesiredState) error {
	if err := ValidateAPIVersion(ds.APIVersion); err != nil {
		return err
	}
	for name, wl := range ds.Workloads {
		if err := ValidateWorkloadName(name); err != nil {
			return err
		}
		if err := ValidateAgentName(wl.Agent); err != nil {
			return err
		}
		if wl.ControlInterfaceAccess != nil {
			if err := ValidateAccessRules(*wl.ControlInterfaceAccess); err != nil {
				return fmt.Errorf("workload %q: %w", name, err)
			}
		}
	}
	return nil
}

func count(s string, b byte) int {
	n := 0
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			n++
		}
	}
	return n
}
