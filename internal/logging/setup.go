package logging

import (
	"github.com/mattn/go-colorable"
	"github.com/sirupsen/logrus"
)

// New builds the process-wide logrus.Logger. levelName is parsed with logrus' own
// ParseLevel (falls back to Info on empty or unrecognized input); color forces ANSI
// output even when stderr isn't a TTY (colorable wraps Windows consoles too, but only
// matters for color ever showing up at all on that platform). jsonOutput switches the
// formatter to logrus.JSONFormatter instead of the colored text formatter.
func New(levelName string, color bool, jsonOutput bool) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(colorable.NewColorableStderr())

	var formatter logrus.Formatter
	if jsonOutput {
		formatter = &logrus.JSONFormatter{}
	} else {
		formatter = &logrus.TextFormatter{
			FullTimestamp: true,
			ForceColors:   color,
		}
	}
	l.SetFormatter(formatter)

	lvl, err := logrus.ParseLevel(levelName)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)

	return l
}
