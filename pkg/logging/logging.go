package logging

import (
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

// New builds a text logger writing to stderr. Unknown levels fall back to
// info.
func New(level string) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
	})

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)
	return l
}

var defaultLogger = sync.OnceValue(func() *logrus.Logger {
	return New(os.Getenv("GEOSTORE_LOG_LEVEL"))
})

// Default is the process wide logger used when a component is not given one.
func Default() *logrus.Logger {
	return defaultLogger()
}

// OrDefault returns l, or Default when l is nil.
func OrDefault(l *logrus.Logger) *logrus.Logger {
	if l == nil {
		return Default()
	}
	return l
}
