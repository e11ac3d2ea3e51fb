package cmd

import (
	"context"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/luma/beacon/client"
)

var MonitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Print every command processed by the server as JSON lines",
	Long: `Print every command processed by the server as JSON lines

Usage
	beacon monitor

`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		ctx, signalStop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer signalStop()

		s, err := openSession(ctx)
		if err != nil {
			return err
		}

		// The loop outlives ctx so the connection can be closed cleanly
		loopCtx, stopLoop := context.WithCancel(context.Background())
		defer stopLoop()

		failed := make(chan error, 1)
		c := s.newClient(nil, func(conn *client.Conn, err error) {
			select {
			case failed <- err:
			default:
			}
		})

		s.start(loopCtx)

		out := cmd.OutOrStdout()
		s.loop.Post(func() {
			c.Monitor(func(event client.MonitorEvent, monitor *client.Monitor) {
				err := writeJSONLine(out,
					"timestamp", event.Timestamp,
					"database", event.Database,
					"client", event.Client,
					"command", event.Command,
					"arguments", event.Arguments,
				)
				if err != nil {
					s.log.Warn("Failed to write event", zap.Error(err))
				}
			}, true)
		})

		select {
		case <-ctx.Done():
		case err = <-failed:
		}

		closeCtx, cancelClose := context.WithTimeout(context.Background(), time.Second)
		defer cancelClose()

		err = multierr.Append(err, c.Close(closeCtx))

		stopLoop()
		return multierr.Append(err, s.close())
	},
}
