package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/luma/beacon/client"
	"github.com/luma/beacon/gateway"
)

var (
	// Overrides BEACON_GATEWAY_HOST
	host string

	// Overrides BEACON_GATEWAY_PORT
	port int
)

func init() {
	flags := GatewayCmd.Flags()

	flags.IntVarP(&port, "port", "p", 0, "The port to listen for HTTP requests on (default $BEACON_GATEWAY_PORT)")
	flags.StringVarP(&host, "host", "a", "", "The host to listen on (default $BEACON_GATEWAY_HOST)")
}

var GatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Serve an HTTP gateway in front of the server",
	Long: `Serve an HTTP gateway in front of the server

Usage
	beacon gateway --port 7380
	curl -d '{"command":"GET","args":["foo"]}' localhost:7380/command

`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		ctx, signalStop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer signalStop()

		s, err := openSession(ctx)
		if err != nil {
			return err
		}

		fileLimit, err := setFileLimit()
		if err != nil {
			return err
		}

		s.log.Info("Set file limit", zap.Uint64("fileLimit", fileLimit))

		if host != "" {
			s.conf.GatewayHost = host
		}

		if port > 0 {
			s.conf.GatewayPort = port
		}

		loopCtx, stopLoop := context.WithCancel(context.Background())
		s.start(loopCtx)

		defer func() {
			stopLoop()
			err = multierr.Append(err, s.close())
		}()

		c := s.newClient(client.NewMetrics(nil), nil)

		g := gateway.New(gateway.Options{
			Host:      s.conf.GatewayHost,
			Port:      s.conf.GatewayPort,
			DebugHTTP: s.conf.DebugHTTP,
			Timeout:   s.conf.Timeout,
			Client:    c,
			Log:       s.log.Named("gateway"),
		})

		if err := g.Start(); err != nil {
			return err
		}

		s.log.Info("Started",
			zap.String("server", s.params.String()),
			zap.Stringer("addr", g.Addr()))

		// Listen for the interrupt signal.
		<-ctx.Done()

		// Restore default behavior on the interrupt signal and notify user of shutdown.
		signalStop()
		s.log.Info("Shutting down gracefully, press Ctrl+C again to force")

		// In flight requests get 5 seconds to finish
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := g.Shutdown(shutdownCtx); err != nil {
			s.log.Error("Http server forced to shutdown", zap.Error(err))
		}

		if err := c.Close(shutdownCtx); err != nil {
			s.log.Error("Client forced to close", zap.Error(err))
		}

		s.log.Info("Exiting")
		return nil
	},
}

func setFileLimit() (uint64, error) {
	var rLimit syscall.Rlimit

	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rLimit); err != nil {
		return 0, err
	}

	rLimit.Cur = rLimit.Max
	if err := syscall.Setrlimit(syscall.RLIMIT_NOFILE, &rLimit); err != nil {
		return 0, err
	}

	return rLimit.Cur, nil
}
