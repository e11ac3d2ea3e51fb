package transport

import (
	"go.uber.org/zap"
)

type Options struct {
	// MaxEvents bounds how many readiness events are handled per poll. Defaults to 128
	MaxEvents int

	Log *zap.Logger
}
