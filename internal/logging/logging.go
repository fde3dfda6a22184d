// Package logging sets up the process-wide zerolog logger, generalizing
// the teacher's log.Printf("[startup] ...") lines into structured
// fields, matching the style other_examples' mulutu-paymatch
// reconcile-worker uses (github.com/rs/zerolog/log, one logger per
// component via log.With()).
package logging

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init configures the global zerolog logger from a §6 log-level string
// (debug, info, warn, error). Unrecognized levels fall back to info.
func Init(level string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
}
