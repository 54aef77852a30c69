// Package hopslog centralizes logrus setup for hopsd: level/format
// parsing and an optional tee to a log file, grounded on the teacher's
// Config.ApplyToLogger convention.
package hopslog

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// Options parameterizes New.
type Options struct {
	// Level is one of "debug", "info", "warn", "error"; defaults to "info"
	// on an unrecognized or empty value.
	Level string
	// Format is "text" or "json"; defaults to "text".
	Format string
	// FilePath, if set, tees output to this file in addition to stderr.
	FilePath string
}

// New builds a *logrus.Logger from Options. It never returns an error for
// a bad Level/Format (they fall back to the default); it does return an
// error if FilePath is set but cannot be opened.
func New(opts Options) (*logrus.Logger, error) {
	log := logrus.New()
	log.SetOutput(os.Stderr)

	switch opts.Level {
	case "debug":
		log.SetLevel(logrus.DebugLevel)
	case "warn":
		log.SetLevel(logrus.WarnLevel)
	case "error":
		log.SetLevel(logrus.ErrorLevel)
	default:
		log.SetLevel(logrus.InfoLevel)
	}

	switch opts.Format {
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{})
	default:
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	if opts.FilePath != "" {
		if err := os.MkdirAll(filepath.Dir(opts.FilePath), 0700); err != nil {
			return nil, fmt.Errorf("creating log directory: %w", err)
		}
		f, err := os.OpenFile(opts.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err != nil {
			return nil, fmt.Errorf("opening log file: %w", err)
		}
		log.SetOutput(&multiWriter{w1: os.Stderr, w2: f})
	}

	return log, nil
}

// multiWriter tees writes to both destinations, stopping at the first
// error so a full disk on the log file doesn't silently swallow stderr
// output too.
type multiWriter struct {
	w1, w2 interface {
		Write([]byte) (int, error)
	}
}

func (m *multiWriter) Write(p []byte) (int, error) {
	n, err := m.w1.Write(p)
	if err != nil {
		return n, err
	}
	return m.w2.Write(p)
}
