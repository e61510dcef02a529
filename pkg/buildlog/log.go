// Package buildlog wires up the structured logger every buildrunner
// component is handed at construction time: one *logrus.Entry, carrying the
// fields that should appear on every line, that each component further
// narrows with .WithFields for its own concern (step, phase, container).
package buildlog

import (
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/buildrunner/buildrunner/pkg/config"
)

// New returns the root logger entry for a build invocation. Unlike an
// interactive TUI, buildrunner is a CLI: its log stream is the primary
// observability surface, so even the non-debug logger writes to stderr
// rather than being discarded.
func New(cfg *config.AppConfig) *logrus.Entry {
	log := logrus.New()
	log.Out = os.Stderr

	if cfg.Debug || os.Getenv("DEBUG") == "TRUE" {
		log.SetLevel(levelFromEnv(logrus.DebugLevel))
		log.Formatter = &logrus.JSONFormatter{}
		if cfg.ConfigDir != "" {
			if file, err := os.OpenFile(filepath.Join(cfg.ConfigDir, "debug.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600); err == nil {
				log.Out = io.MultiWriter(os.Stderr, file)
			}
		}
	} else {
		log.SetLevel(levelFromEnv(logrus.InfoLevel))
		log.Formatter = &logrus.TextFormatter{FullTimestamp: true}
	}

	return log.WithFields(logrus.Fields{
		"buildId":   cfg.BuildID,
		"version":   cfg.Version,
		"commit":    cfg.Commit,
		"buildDate": cfg.BuildDate,
	})
}

func levelFromEnv(fallback logrus.Level) logrus.Level {
	level, err := logrus.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		return fallback
	}
	return level
}
