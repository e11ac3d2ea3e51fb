package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/luma/beacon/client"
)

var patterns []string

func init() {
	flags := SubscribeCmd.Flags()

	flags.StringSliceVarP(&patterns, "pattern", "p", nil, "Patterns to subscribe to, may be repeated")
}

var SubscribeCmd = &cobra.Command{
	Use:   "subscribe [CHANNEL...]",
	Short: "Print the messages published to channels as JSON lines",
	Long: `Print the messages published to channels as JSON lines

Usage
	beacon subscribe news alerts
	beacon subscribe --pattern 'news.*'

`,
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		if len(args) == 0 && len(patterns) == 0 {
			return errors.New("Nothing to subscribe to, pass channels or --pattern")
		}

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
			c.PubSubLoop(args, patterns, func(msg client.PubSubMessage, pubsub *client.PubSub) {
				err := writeJSONLine(out,
					"kind", msg.Kind,
					"channel", msg.Channel,
					"pattern", msg.Pattern,
					"payload", string(msg.Payload),
				)
				if err != nil {
					s.log.Warn("Failed to write message", zap.Error(err))
				}
			})
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
