package ratelimit

import (
	"os"

	"github.com/rs/zerolog"
)

func zeroLogger() zerolog.Logger {
	return zerolog.New(os.Stderr).Level(zerolog.Disabled)
}
