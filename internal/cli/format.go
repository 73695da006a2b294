package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/limiquantix/placement/internal/domain"
	"github.com/limiquantix/placement/internal/placement"
)

func FormatJSON(w io.Writer, data interface{}) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

func FormatHostsTable(w io.Writer, hosts []*domain.Host) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "HOST\tSTATUS\tCPU\tRAM\tUPDATED")

	for _, h := range hosts {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			h.ID,
			h.Status,
			formatUsage(h.CPUUsage),
			formatUsage(h.RAMUsage),
			formatTime(h.UpdatedAt),
		)
	}

	return tw.Flush()
}

func FormatHostDetail(w io.Writer, h *domain.Host) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Host:\t%s\n", h.ID)
	fmt.Fprintf(tw, "Status:\t%s\n", h.Status)
	fmt.Fprintf(tw, "CPU Usage:\t%s\n", formatUsage(h.CPUUsage))
	fmt.Fprintf(tw, "RAM Usage:\t%s\n", formatUsage(h.RAMUsage))
	fmt.Fprintf(tw, "Registered:\t%s\n", formatTime(h.CreatedAt))
	fmt.Fprintf(tw, "Updated:\t%s\n", formatTime(h.UpdatedAt))
	return tw.Flush()
}

func FormatAllocationsTable(w io.Writer, allocations []*domain.Allocation) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "VM\tHOST\tPOLICY\tCREATED")

	for _, a := range allocations {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			a.VMID,
			a.HostID,
			a.Policy,
			formatTime(a.CreatedAt),
		)
	}

	return tw.Flush()
}

func FormatAllocationResult(w io.Writer, result *placement.AllocationResult) error {
	_, err := fmt.Fprintln(w, result.Message)
	return err
}

func formatUsage(v float64) string {
	return fmt.Sprintf("%.1f", v)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}
