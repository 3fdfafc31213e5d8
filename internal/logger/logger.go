package logger

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
)

// Init configures the global logrus logger: level, format and outputs.
func Init(level, format, file string) error {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		log.Warnf("invalid log level %q, defaulting to info: %v", level, err)
		lvl = log.InfoLevel
	}
	log.SetLevel(lvl)

	if strings.EqualFold(format, "json") {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}

	writers := []io.Writer{os.Stdout}
	if file != "" {
		if err := os.MkdirAll(filepath.Dir(file), 0o750); err != nil {
			log.Errorf("create log directory for %s: %v", file, err)
		} else if f, err := os.OpenFile(file, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o660); err != nil {
			log.Errorf("open log file %s: %v", file, err)
		} else {
			writers = append(writers, f)
		}
	}
	log.SetOutput(io.MultiWriter(writers...))
	return nil
}

// OrStandard returns l, or the global logger when l is nil.
func OrStandard(l log.FieldLogger) log.FieldLogger {
	if l == nil {
		return log.StandardLogger()
	}
	return l
}
