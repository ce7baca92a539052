// Package logging holds the process-wide logrus entry used by threadstat.
package logging

import (
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

const serviceName = "threadstat"

var (
	logger *logrus.Logger
	Log    *logrus.Entry
)

// Commands and tests that never call Setup still get a usable logger.
func init() {
	logger = logrus.New()
	logger.SetOutput(os.Stderr)
	Log = logger.WithField("service", serviceName)
}

// Setup configures level and output format ("text" or "json") of the global logger.
func Setup(level, format string) error {
	lvl, err := logrus.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		return fmt.Errorf("parse log level: %w", err)
	}
	logger.SetLevel(lvl)

	switch strings.ToLower(strings.TrimSpace(format)) {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	case "text", "":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return fmt.Errorf("unknown log format %q (want text or json)", format)
	}
	return nil
}

// Or returns l when it is set and the global entry otherwise.
func Or(l logrus.FieldLogger) logrus.FieldLogger {
	if l != nil {
		return l
	}
	return Log
}
