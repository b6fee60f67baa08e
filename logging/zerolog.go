// Package logging adapts zerolog to the maskmail.Logger interface for
// embedders that already run structured logging. The root package keeps its
// plain default logger; wire this in with maskmail.Client.WithLogger when you
// want leveled JSON output.
package logging

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	maskmail "github.com/maskmail/go-maskmail"
)

var _ maskmail.Logger = (*ZerologAdapter)(nil)

// ZerologAdapter forwards printf style log calls to a zerolog.Logger.
type ZerologAdapter struct {
	logger zerolog.Logger
}

// New wraps the given zerolog.Logger.
func New(logger zerolog.Logger) *ZerologAdapter {
	return &ZerologAdapter{logger: logger}
}

// Default uses the global zerolog logger with a component marker.
func Default() *ZerologAdapter {
	return &ZerologAdapter{logger: log.With().Str("component", "maskmail").Logger()}
}

func (z *ZerologAdapter) Debug(format string, args ...any) {
	z.logger.Debug().Msgf(format, args...)
}

func (z *ZerologAdapter) Info(format string, args ...any) {
	z.logger.Info().Msgf(format, args...)
}

func (z *ZerologAdapter) Warn(format string, args ...any) {
	z.logger.Warn().Msgf(format, args...)
}

func (z *ZerologAdapter) Error(format string, args ...any) {
	z.logger.Error().Msgf(format, args...)
}
