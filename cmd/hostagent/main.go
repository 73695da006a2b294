package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/limiquantix/placement/internal/agent"
	"github.com/limiquantix/placement/internal/cli"
)

var (
	serverURL string
	hostID    string
	interval  time.Duration
	window    time.Duration
	debug     bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "hostagent",
	Short: "Report this machine's CPU and RAM usage to the placement service",
	Long: `hostagent registers the local machine as a placement host and reports its
CPU and RAM utilization on an interval. On shutdown the host is marked inactive
so no new VMs are placed on it.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger, err := newLogger()
		if err != nil {
			return err
		}
		defer logger.Sync()

		id := hostID
		if id == "" {
			id, err = agent.DefaultHostID()
			if err != nil {
				return err
			}
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		logger.Info("Starting host agent",
			zap.String("server", serverURL),
			zap.String("host_id", id),
			zap.Duration("interval", interval),
		)

		reporter := agent.NewReporter(cli.NewClient(serverURL), agent.NewSystemSampler(window), id, interval, logger)
		return reporter.Run(ctx)
	},
}

func newLogger() (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func init() {
	defaultServerURL := os.Getenv("PLACEMENT_URL")
	if defaultServerURL == "" {
		defaultServerURL = "http://localhost:8080"
	}

	rootCmd.Flags().StringVarP(&serverURL, "server", "s", defaultServerURL, "Placement service URL")
	rootCmd.Flags().StringVar(&hostID, "host-id", "", "Host ID to register (defaults to the hostname)")
	rootCmd.Flags().DurationVar(&interval, "interval", 10*time.Second, "Status report interval")
	rootCmd.Flags().DurationVar(&window, "cpu-window", time.Second, "CPU sampling window")
	rootCmd.Flags().BoolVar(&debug, "debug", false, "Enable debug logging")
}

