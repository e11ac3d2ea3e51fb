package cmd

import (
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/luma/beacon/cmd/gen"
)

var (
	// Overrides BEACON_URL
	serverURL string

	// Overrides BEACON_TIMEOUT
	timeout time.Duration

	// Overrides BEACON_LOG_LEVEL
	logLevel string
)

var RootCmd = &cobra.Command{
	Use:   "beacon",
	Short: "An asynchronous Redis client",
	Long: `An asynchronous Redis client

Usage
	beacon exec GET foo
	beacon subscribe news
	beacon monitor
	beacon gateway

`,
	SilenceUsage: true,
}

func init() {
	flags := RootCmd.PersistentFlags()

	flags.StringVarP(&serverURL, "url", "u", "", "The server to connect to, e.g. tcp://127.0.0.1:6379 (default $BEACON_URL)")
	flags.DurationVar(&timeout, "timeout", 0, "How long connecting may take (default $BEACON_TIMEOUT)")
	flags.StringVar(&logLevel, "log-level", "", "debug, info, warn or error (default $BEACON_LOG_LEVEL)")

	RootCmd.AddCommand(ExecCmd)
	RootCmd.AddCommand(SubscribeCmd)
	RootCmd.AddCommand(MonitorCmd)
	RootCmd.AddCommand(GatewayCmd)
	RootCmd.AddCommand(StubCmd)
	RootCmd.AddCommand(VersionCmd)
	RootCmd.AddCommand(gen.RootCmd)
}

func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
