// Package runtime carries the process-wide options shared by every
// subcommand.
package runtime

import (
	"log/slog"
	"os"

	"github.com/volantir/volantir/internal/logger"
	"github.com/volantir/volantir/internal/version"
)

type Options struct {
	JSONLogs bool
	LogLevel string

	log *logger.Logger
}

func (o *Options) SetupLogger() error {
	format := logger.FormatText
	if o.JSONLogs {
		format = logger.FormatJSON
	}
	log, err := logger.New(logger.Config{
		Format:      format,
		Level:       o.LogLevel,
		ServiceName: "volantir",
		Environment: os.Getenv("VOLANTIR_ENV"),
		Version:     version.Version,
	})
	if err != nil {
		return err
	}
	o.log = log
	return nil
}

func (o *Options) Logger() *slog.Logger {
	if o.log == nil {
		return nil
	}
	return o.log.Logger
}

// Component returns a child logger tagged for one subsystem.
func (o *Options) Component(name string) *slog.Logger {
	return o.log.WithComponent(name)
}
