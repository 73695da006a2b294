package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/limiquantix/placement/internal/cli"
	"github.com/limiquantix/placement/internal/domain"
)

var (
	serverURL  string
	outputJSON bool
	timeout    time.Duration
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "placectl",
	Short: "CLI for the placement service",
	Long: `placectl is a command-line interface for the placement service API.

It registers hosts, reports their usage, places VMs and lists allocations.`,
	SilenceUsage: true,
}

func newClient(cmd *cobra.Command) (*cli.Client, context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	return cli.NewClient(serverURL), ctx, cancel
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check placement service health",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, ctx, cancel := newClient(cmd)
		defer cancel()

		data, err := client.Health(ctx)
		if err != nil {
			return err
		}

		if outputJSON {
			return cli.FormatJSON(os.Stdout, data)
		}

		fmt.Printf("Status: %v\n", data["status"])
		fmt.Printf("Service: %v\n", data["service"])
		return nil
	},
}

var hostsCmd = &cobra.Command{
	Use:   "hosts",
	Short: "Manage registered hosts",
}

var listHostsCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered hosts",
	RunE: func(cmd *cobra.Command, args []string) error {
		activeOnly, _ := cmd.Flags().GetBool("active")

		client, ctx, cancel := newClient(cmd)
		defer cancel()

		list, err := client.ListHosts(ctx, activeOnly)
		if err != nil {
			return err
		}

		if outputJSON {
			return cli.FormatJSON(os.Stdout, list)
		}
		return cli.FormatHostsTable(os.Stdout, list.Hosts)
	},
}

var getHostCmd = &cobra.Command{
	Use:   "get [host-id]",
	Short: "Show a single host",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, ctx, cancel := newClient(cmd)
		defer cancel()

		host, err := client.GetHost(ctx, args[0])
		if err != nil {
			return err
		}

		if outputJSON {
			return cli.FormatJSON(os.Stdout, host)
		}
		return cli.FormatHostDetail(os.Stdout, host)
	},
}

var registerHostCmd = &cobra.Command{
	Use:   "register [host-id]",
	Short: "Register a host",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cpu, _ := cmd.Flags().GetFloat64("cpu")
		ram, _ := cmd.Flags().GetFloat64("ram")
		status, _ := cmd.Flags().GetString("status")

		client, ctx, cancel := newClient(cmd)
		defer cancel()

		host, err := client.RegisterHost(ctx, args[0], cpu, ram, domain.HostStatus(status))
		if err != nil {
			return err
		}

		if outputJSON {
			return cli.FormatJSON(os.Stdout, host)
		}
		fmt.Printf("Host %s registered\n", host.ID)
		return nil
	},
}

var updateHostCmd = &cobra.Command{
	Use:   "update [host-id]",
	Short: "Report a host's usage and status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cpu, _ := cmd.Flags().GetFloat64("cpu")
		ram, _ := cmd.Flags().GetFloat64("ram")
		status, _ := cmd.Flags().GetString("status")

		client, ctx, cancel := newClient(cmd)
		defer cancel()

		host, err := client.UpdateHost(ctx, args[0], cpu, ram, domain.HostStatus(status))
		if err != nil {
			return err
		}

		if outputJSON {
			return cli.FormatJSON(os.Stdout, host)
		}
		return cli.FormatHostDetail(os.Stdout, host)
	},
}

var removeHostCmd = &cobra.Command{
	Use:   "remove [host-id]",
	Short: "Deregister a host",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, ctx, cancel := newClient(cmd)
		defer cancel()

		if err := client.RemoveHost(ctx, args[0]); err != nil {
			return err
		}
		fmt.Printf("Host %s removed\n", args[0])
		return nil
	},
}

var allocateCmd = &cobra.Command{
	Use:   "allocate [vm-id]",
	Short: "Place a VM on a host",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		policy, _ := cmd.Flags().GetString("policy")

		client, ctx, cancel := newClient(cmd)
		defer cancel()

		result, err := client.Allocate(ctx, args[0], policy)
		if err != nil {
			return err
		}

		if outputJSON {
			return cli.FormatJSON(os.Stdout, result)
		}
		return cli.FormatAllocationResult(os.Stdout, result)
	},
}

var allocationsCmd = &cobra.Command{
	Use:   "allocations",
	Short: "Query recorded allocations",
}

var listAllocationsCmd = &cobra.Command{
	Use:   "list",
	Short: "List allocations",
	RunE: func(cmd *cobra.Command, args []string) error {
		hostID, _ := cmd.Flags().GetString("host")

		client, ctx, cancel := newClient(cmd)
		defer cancel()

		list, err := client.ListAllocations(ctx, hostID)
		if err != nil {
			return err
		}

		if outputJSON {
			return cli.FormatJSON(os.Stdout, list)
		}
		return cli.FormatAllocationsTable(os.Stdout, list.Allocations)
	},
}

var getAllocationCmd = &cobra.Command{
	Use:   "get [vm-id]",
	Short: "Show the allocation of a VM",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, ctx, cancel := newClient(cmd)
		defer cancel()

		allocation, err := client.GetAllocation(ctx, args[0])
		if err != nil {
			return err
		}

		if outputJSON {
			return cli.FormatJSON(os.Stdout, allocation)
		}
		return cli.FormatAllocationsTable(os.Stdout, []*domain.Allocation{allocation})
	},
}

func init() {
	// Check for environment variable, fallback to default
	defaultServerURL := os.Getenv("PLACEMENT_URL")
	if defaultServerURL == "" {
		defaultServerURL = "http://localhost:8080"
	}

	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", defaultServerURL, "Placement service URL")
	rootCmd.PersistentFlags().BoolVarP(&outputJSON, "json", "j", false, "Output in JSON format")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "Request timeout")

	listHostsCmd.Flags().Bool("active", false, "Only list active hosts")

	for _, c := range []*cobra.Command{registerHostCmd, updateHostCmd} {
		c.Flags().Float64("cpu", 0, "CPU usage")
		c.Flags().Float64("ram", 0, "RAM usage")
	}
	registerHostCmd.Flags().String("status", string(domain.HostStatusActive), "Initial status (active|inactive)")
	updateHostCmd.Flags().String("status", string(domain.HostStatusActive), "Status (active|inactive)")

	allocateCmd.Flags().StringP("policy", "p", "", "Placement policy (round_robin|least_connection|weighted), server default if empty")
	listAllocationsCmd.Flags().String("host", "", "Only list allocations on this host")

	hostsCmd.AddCommand(listHostsCmd, getHostCmd, registerHostCmd, updateHostCmd, removeHostCmd)
	allocationsCmd.AddCommand(listAllocationsCmd, getAllocationCmd)

	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(hostsCmd)
	rootCmd.AddCommand(allocateCmd)
	rootCmd.AddCommand(allocationsCmd)
}
