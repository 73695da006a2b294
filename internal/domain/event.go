package domain

import "time"

// AllocationEvent is published once for every committed allocation.
type AllocationEvent struct {
	ID        string    `json:"id"`
	HostID    string    `json:"pc_id"`
	VMID      string    `json:"vm_id"`
	Policy    string    `json:"policy,omitempty"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}
