package main

import (
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// configureLogger creates a logger whose level comes from --log-level, then
// --verbose, then the config file value.
func configureLogger(cmd *cobra.Command, configLevel string) (*logrus.Logger, error) {
	levelStr, _ := cmd.Flags().GetString("log-level")
	if levelStr == "" {
		if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
			levelStr = "debug"
		}
	}
	if levelStr == "" {
		levelStr = configLevel
	}

	level := logrus.WarnLevel
	switch levelStr {
	case "":
	case "debug":
		level = logrus.DebugLevel
	case "info":
		level = logrus.InfoLevel
	case "warn":
		level = logrus.WarnLevel
	case "error":
		level = logrus.ErrorLevel
	default:
		return nil, fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", levelStr)
	}

	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetLevel(level)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})
	return logger, nil
}
