package logger

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Setup configures the standard logrus logger from level and format strings.
// Unknown levels fall back to info, unknown formats to text.
func Setup(level, format string, out io.Writer) *logrus.Logger {
	log := logrus.StandardLogger()

	if out == nil {
		out = os.Stdout
	}
	log.SetOutput(out)

	lvl, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = logrus.InfoLevel
	}
	log.SetLevel(lvl)

	if strings.EqualFold(format, "json") {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	return log
}

// For returns an entry tagged with the component name
func For(component string) *logrus.Entry {
	return logrus.NewEntry(logrus.StandardLogger()).WithField("component", component)
}
