package logs

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Options are the logger settings read from configuration.
type Options struct {
	Level  string // trace|debug|info|warning|error
	Format string // text|json
	File   string // optional log file, written in addition to stdout
}

// New builds a logger from opts. The returned closer releases the log file,
// if one was opened.
func New(opts Options) (*logrus.Logger, io.Closer, error) {
	l := logrus.New()

	level, err := parseLevel(opts.Level)
	if err != nil {
		return nil, nil, err
	}
	l.SetLevel(level)

	switch strings.ToLower(opts.Format) {
	case "", "text":
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{})
	default:
		return nil, nil, fmt.Errorf("unknown log format %q", opts.Format)
	}

	if opts.File == "" {
		l.SetOutput(os.Stdout)
		return l, nopCloser{}, nil
	}

	file, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file %s: %w", opts.File, err)
	}
	l.SetOutput(io.MultiWriter(file, os.Stdout))
	return l, file, nil
}

func parseLevel(level string) (logrus.Level, error) {
	switch strings.ToLower(level) {
	case "":
		return logrus.InfoLevel, nil
	case "warn":
		return logrus.WarnLevel, nil
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return 0, fmt.Errorf("log level: %w", err)
	}
	return lvl, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
