package enums

import (
	"fmt"
	"strings"
)

// PickupStatus maps to the pickup_status enum in Postgres.
type PickupStatus string

const (
	PickupStatusPending  PickupStatus = "pending"
	PickupStatusDone     PickupStatus = "done"
	PickupStatusCanceled PickupStatus = "canceled"
	// PickupStatusDeleted is kept for rows written by older clients and is
	// handled like canceled everywhere.
	PickupStatusDeleted PickupStatus = "deleted"
)

var validPickupStatuses = []PickupStatus{
	PickupStatusPending,
	PickupStatusDone,
	PickupStatusCanceled,
	PickupStatusDeleted,
}

// Upstream status codes understood by the order platform.
const (
	UpstreamStatusPending  = 0
	UpstreamStatusDone     = 1
	UpstreamStatusCanceled = 2
)

// String implements fmt.Stringer.
func (s PickupStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known PickupStatus.
func (s PickupStatus) IsValid() bool {
	for _, candidate := range validPickupStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsCanceled treats the legacy deleted status as canceled.
func (s PickupStatus) IsCanceled() bool {
	return s == PickupStatusCanceled || s == PickupStatusDeleted
}

// IsTerminal reports whether the retention sweep may remove the pickup.
func (s PickupStatus) IsTerminal() bool {
	return s == PickupStatusDone || s.IsCanceled()
}

// UpstreamCode returns the numeric code pushed to the order platform.
func (s PickupStatus) UpstreamCode() (int, error) {
	switch {
	case s == PickupStatusPending:
		return UpstreamStatusPending, nil
	case s == PickupStatusDone:
		return UpstreamStatusDone, nil
	case s.IsCanceled():
		return UpstreamStatusCanceled, nil
	default:
		return 0, fmt.Errorf("no upstream code for pickup status %q", s)
	}
}

// CanceledStatuses lists every status value treated as canceled.
func CanceledStatuses() []PickupStatus {
	return []PickupStatus{PickupStatusCanceled, PickupStatusDeleted}
}

// ParsePickupStatus converts raw strings into PickupStatus.
func ParsePickupStatus(value string) (PickupStatus, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	for _, candidate := range validPickupStatuses {
		if string(candidate) == normalized {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid pickup status %q", value)
}
