package core

import (
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

var once sync.Once

type logger struct {
	*log.Logger
}

var singleton *logger

func getLogger() *logger {
	if singleton == nil {
		once.Do(
			func() {
				l := log.NewWithOptions(os.Stderr, log.Options{
					ReportCaller:    true,
					ReportTimestamp: true,
					TimeFormat:      time.RFC3339,
					Prefix:          "GPUScene 🎬 ",
				})
				l.SetLevel(log.DebugLevel)
				singleton = &logger{l}
			})
	}
	return singleton
}

// SetLogLevel changes the minimum level of the engine logger.
func SetLogLevel(level LogLevel) {
	switch level {
	case DebugLevel:
		getLogger().SetLevel(log.DebugLevel)
	case InfoLevel:
		getLogger().SetLevel(log.InfoLevel)
	case WarnLevel:
		getLogger().SetLevel(log.WarnLevel)
	case ErrorLevel:
		getLogger().SetLevel(log.ErrorLevel)
	}
}

func LogDebug(msg string, args ...interface{}) {
	getLogger().Debugf(msg, args...)
}

func LogInfo(msg string, args ...interface{}) {
	getLogger().Infof(msg, args...)
}

func LogWarn(msg string, args ...interface{}) {
	getLogger().Warnf(msg, args...)
}

func LogError(msg string, args ...interface{}) {
	getLogger().Errorf(msg, args...)
}

func LogFatal(msg string, args ...interface{}) {
	getLogger().Fatalf(msg, args...)
}
