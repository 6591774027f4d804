package proctor

import (
	"fmt"
	"strings"
)

// Status is the vendor verdict for a participant or session. The integer
// values are the codes stored and compared by the LMS.
type Status int

const (
	StatusInProgress      Status = -1
	StatusValid           Status = 0
	StatusInvalidID       Status = 1
	StatusInvalidRules    Status = 2
	StatusInvalidOverride Status = 3
)

var statusNames = map[Status]string{
	StatusInProgress:      "In Progress",
	StatusValid:           "Valid",
	StatusInvalidID:       "Invalid (ID)",
	StatusInvalidRules:    "Invalid (Rules)",
	StatusInvalidOverride: "Invalid (Override)",
}

// Statuses lists every status in code order.
var Statuses = []Status{StatusInProgress, StatusValid, StatusInvalidID, StatusInvalidRules, StatusInvalidOverride}

// ParseStatus maps a vendor status string to its Status. Anything outside the
// enum is an error, never a default.
func ParseStatus(s string) (Status, error) {
	s = strings.TrimSpace(s)
	for code, name := range statusNames {
		if strings.EqualFold(name, s) {
			return code, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownStatus, s)
}

// String returns the vendor string for s.
func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// Code returns the integer code.
func (s Status) Code() int { return int(s) }

// Known reports whether s is a member of the enum.
func (s Status) Known() bool {
	_, ok := statusNames[s]
	return ok
}

// Terminal reports whether the vendor is done evaluating.
func (s Status) Terminal() bool {
	return s.Known() && s != StatusInProgress
}

// Passed reports whether the status counts as a pass in gating logic.
func (s Status) Passed() bool {
	return s == StatusValid
}
