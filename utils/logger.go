package utils

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

var (
	InfoLogger  = newLogger(os.Stdout, logrus.InfoLevel, "text")
	ErrorLogger = newLogger(os.Stderr, logrus.WarnLevel, "text")
)

func newLogger(out io.Writer, level logrus.Level, format string) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(out)
	l.SetLevel(level)
	if strings.EqualFold(format, "json") {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}
	return l
}

// InitLogger reconfigures both loggers. level is a logrus level name
// ("debug", "info", ...); an unknown value keeps info. format is "text" or "json".
func InitLogger(level, format string) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}

	InfoLogger = newLogger(os.Stdout, lvl, format)

	// ErrorLogger never goes below warn, otherwise info lines end up on stderr twice.
	errLvl := logrus.WarnLevel
	if lvl < errLvl {
		errLvl = lvl
	}
	ErrorLogger = newLogger(os.Stderr, errLvl, format)
}

// LogError writes err with the module/function context attached as fields.
func LogError(module, funcName string, fields logrus.Fields, err error) {
	entry := ErrorLogger.WithFields(logrus.Fields{
		"module":   module,
		"funcName": funcName,
	})
	if fields != nil {
		entry = entry.WithFields(fields)
	}
	entry.Error(err.Error())
}
