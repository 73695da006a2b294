package domain

import (
	"fmt"
	"time"
)

// Allocation binds a VM to the host chosen for it. Allocations are never
// modified after they are recorded, even if the host is later removed.
type Allocation struct {
	ID        string    `json:"id"`
	VMID      string    `json:"vm_id"`
	HostID    string    `json:"host_id"`
	Policy    string    `json:"policy"`
	CreatedAt time.Time `json:"created_at"`
}

// AllocationFilter narrows ledger listings.
type AllocationFilter struct {
	HostID string
}

// Matches reports whether a satisfies the filter.
func (f AllocationFilter) Matches(a *Allocation) bool {
	return f.HostID == "" || a.HostID == f.HostID
}

// AllocationMessage is the human-readable confirmation returned to callers.
func AllocationMessage(vmID, hostID string) string {
	return fmt.Sprintf("VM %s allocated to PC %s", vmID, hostID)
}
