package cmd

import (
	"context"
	"errors"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/luma/beacon/client"
	"github.com/luma/beacon/internal/env"
	"github.com/luma/beacon/transport"
)

// session is the event loop and configuration shared by the commands
// talking to a server.
type session struct {
	conf   *env.Config
	params client.Parameters
	loop   *transport.Loop
	log    *zap.Logger

	stopped chan error
}

func openSession(ctx context.Context) (*session, error) {
	conf, err := env.LoadConfig(ctx)
	if err != nil {
		return nil, err
	}

	if serverURL != "" {
		conf.URL = serverURL
	}

	if timeout > 0 {
		conf.Timeout = timeout
	}

	if logLevel != "" {
		conf.LogLevel = logLevel
	}

	log, err := env.MakeLogger(conf.LogLevel)
	if err != nil {
		return nil, err
	}

	params, err := client.ParseURL(conf.URL)
	if err != nil {
		return nil, err
	}
	params.Timeout = conf.Timeout

	loop, err := transport.NewLoop(transport.Options{Log: log.Named("loop")})
	if err != nil {
		return nil, err
	}

	return &session{
		conf:    conf,
		params:  params,
		loop:    loop,
		log:     log,
		stopped: make(chan error, 1),
	}, nil
}

// start runs the event loop until ctx is done.
func (s *session) start(ctx context.Context) {
	go func() {
		s.stopped <- s.loop.Run(ctx)
	}()
}

func (s *session) newClient(metrics *client.Metrics, onError client.ErrorFunc) *client.Client {
	return client.New(client.Options{
		Parameters: s.params,
		Loop:       s.loop,
		OnError:    onError,
		Metrics:    metrics,
		Log:        s.log.Named("client"),
	})
}

// close waits for the loop to stop and releases it.
func (s *session) close() (err error) {
	if runErr := <-s.stopped; runErr != nil && !errors.Is(runErr, context.Canceled) {
		err = multierr.Append(err, runErr)
	}

	err = multierr.Append(err, s.loop.Close())

	// Sync fails on stdout/stderr on some platforms, it's not worth reporting
	_ = s.log.Sync()

	return err
}
