// Package logging configures the process-wide logrus logger.
package logging

import (
	"fmt"
	"io"
	"strings"

	log "github.com/sirupsen/logrus"
)

const (
	FormatText = "text"
	FormatJSON = "json"
)

// Setup parses and sets the log level, formatter and output. A nil w keeps
// the current output.
func Setup(level, format string, w io.Writer) error {
	lvl, err := log.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		return fmt.Errorf("failed parsing log-level %s: %w", level, err)
	}

	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", FormatText:
		log.SetFormatter(&log.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02T15:04:05Z07:00",
			DisableQuote:    true,
		})
	case FormatJSON:
		log.SetFormatter(&log.JSONFormatter{
			FieldMap: log.FieldMap{log.FieldKeyMsg: "message"},
		})
	default:
		return fmt.Errorf("unknown log format %q (want text or json)", format)
	}

	if w != nil {
		log.SetOutput(w)
	}
	log.SetLevel(lvl)
	return nil
}
