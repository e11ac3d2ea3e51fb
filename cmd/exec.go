package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/luma/beacon/gateway"
)

var ExecCmd = &cobra.Command{
	Use:   "exec COMMAND [ARG...]",
	Short: "Send a single command and print its reply as JSON",
	Long: `Send a single command and print its reply as JSON

Usage
	beacon exec SET greeting hello
	beacon exec HGETALL user:1

`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		ctx, signalStop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer signalStop()

		s, err := openSession(ctx)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithCancel(ctx)
		s.start(ctx)

		defer func() {
			cancel()
			err = multierr.Append(err, s.close())
		}()

		c := s.newClient(nil, nil)

		cmdArgs := make([]interface{}, 0, len(args)-1)
		for _, arg := range args[1:] {
			cmdArgs = append(cmdArgs, arg)
		}

		result, err := c.Do(ctx, args[0], cmdArgs...)
		if err != nil {
			return err
		}

		out, err := gateway.EncodeResult(result)
		if err != nil {
			return err
		}

		fmt.Fprintln(cmd.OutOrStdout(), string(out))

		return c.Close(ctx)
	},
}
