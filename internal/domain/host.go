package domain

import (
	"fmt"
	"math"
	"time"
)

// HostStatus is the externally reported availability of a host.
type HostStatus string

const (
	HostStatusActive   HostStatus = "active"
	HostStatusInactive HostStatus = "inactive"
)

// Valid reports whether s is a known status.
func (s HostStatus) Valid() bool {
	return s == HostStatusActive || s == HostStatusInactive
}

// Host is a physical machine (PC) that VMs can be placed on.
// CPUUsage and RAMUsage are utilization values in a unit chosen by the
// reporter (percent by default); only their relative order matters.
type Host struct {
	ID        string     `json:"host_id"`
	CPUUsage  float64    `json:"cpu_usage"`
	RAMUsage  float64    `json:"ram_usage"`
	Status    HostStatus `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// IsSchedulable returns true if the host may receive new VMs.
func (h *Host) IsSchedulable() bool {
	return h.Status == HostStatusActive
}

// Validate checks the fields supplied by registration and status reports.
func (h *Host) Validate() error {
	if h.ID == "" {
		return fmt.Errorf("%w: host_id is required", ErrInvalidArgument)
	}
	return ValidateUsage(h.CPUUsage, h.RAMUsage, h.Status)
}

// ValidateUsage checks a status report.
func ValidateUsage(cpu, ram float64, status HostStatus) error {
	if !finite(cpu) || !finite(ram) {
		return fmt.Errorf("%w: usage must be a finite number (cpu=%v, ram=%v)", ErrInvalidArgument, cpu, ram)
	}
	if cpu < 0 || ram < 0 {
		return fmt.Errorf("%w: usage must be non-negative (cpu=%v, ram=%v)", ErrInvalidArgument, cpu, ram)
	}
	if !status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidArgument, status)
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Clone returns a copy of the host that shares no state with h.
func (h *Host) Clone() *Host {
	if h == nil {
		return nil
	}
	c := *h
	return &c
}
