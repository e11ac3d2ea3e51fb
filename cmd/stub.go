package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/luma/beacon/internal/env"
	"github.com/luma/beacon/internal/redistest"
	"github.com/luma/beacon/internal/storage"
)

var (
	stubNetwork string
	stubAddr    string
)

func init() {
	flags := StubCmd.Flags()

	flags.StringVar(&stubNetwork, "network", "tcp", "tcp or unix")
	flags.StringVar(&stubAddr, "addr", "127.0.0.1:6379", "The address or socket path to listen on")
}

var StubCmd = &cobra.Command{
	Use:   "stub",
	Short: "Run an in-memory stand-in server for local development",
	Long: `Run an in-memory stand-in server for local development

It understands a small subset of commands: PING, ECHO, GET, SET, DEL,
EXISTS, KEYS, INFO, PUBLISH, MULTI/EXEC/DISCARD, the subscribe family
and MONITOR. Keyspace notifications are published on
__keyspace@0__:<key> whenever a key changes.

Usage
	beacon stub --addr 127.0.0.1:6380

`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, signalStop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer signalStop()

		conf, err := env.LoadConfig(ctx)
		if err != nil {
			return err
		}

		if logLevel != "" {
			conf.LogLevel = logLevel
		}

		log, err := env.MakeLogger(conf.LogLevel)
		if err != nil {
			return err
		}

		defer func() {
			_ = log.Sync()
		}()

		server, err := redistest.NewServer(redistest.Options{
			Network: stubNetwork,
			Addr:    stubAddr,
			Store:   storage.NewInmemoryStore(),
			Log:     log.Named("stub"),
		})
		if err != nil {
			return err
		}

		log.Info("Listening", zap.String("url", server.URL()))

		<-ctx.Done()

		log.Info("Exiting")
		return server.Close()
	},
}
