package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type LogLevel int

const (
	ERROR LogLevel = iota
	WARN
	INFO
	DEBUG
)

var currentLevel = getLogLevel()

const (
	APP        = "APP"
	CHAT       = "CHAT"
	CONFIG     = "CONFIG"
	EMBEDDING  = "EMBEDDING"
	HANDLER    = "HANDLER"
	MIDDLEWARE = "MIDDLEWARE"
	PROVIDER   = "PROVIDER"
	REDIS      = "REDIS"
	REGISTRY   = "REGISTRY"
	RETRIEVAL  = "RETRIEVAL"
	SERVICE    = "SERVICE"
	STORE      = "STORE"
)

func getLogLevel() LogLevel {
	level := strings.ToUpper(os.Getenv("LOG_LEVEL"))
	switch level {
	case "DEBUG":
		return DEBUG
	case "INFO":
		return INFO
	case "WARN":
		return WARN
	case "ERROR":
		return ERROR
	default:
		return INFO
	}
}

func (l LogLevel) zerologLevel() zerolog.Level {
	switch l {
	case DEBUG:
		return zerolog.DebugLevel
	case WARN:
		return zerolog.WarnLevel
	case ERROR:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Setup configures the global zerolog logger from LOG_LEVEL and LOG_FORMAT.
// LOG_FORMAT=console switches to human readable output.
func Setup() {
	currentLevel = getLogLevel()
	zerolog.SetGlobalLevel(currentLevel.zerologLevel())

	var out io.Writer = os.Stdout
	if strings.EqualFold(os.Getenv("LOG_FORMAT"), "console") {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}
	log.Logger = zerolog.New(out).With().Timestamp().Logger()
}

// SetOutput redirects the global logger, mostly for tests.
func SetOutput(w io.Writer) {
	log.Logger = zerolog.New(w).With().Timestamp().Logger()
}

func write(event *zerolog.Event, namespace, format string, v ...interface{}) {
	event.Str("namespace", namespace).Msg(fmt.Sprintf(format, v...))
}

func Debug(namespace, format string, v ...interface{}) {
	if currentLevel >= DEBUG {
		write(log.Debug(), namespace, format, v...)
	}
}

func Info(namespace, format string, v ...interface{}) {
	if currentLevel >= INFO {
		write(log.Info(), namespace, format, v...)
	}
}

func Warn(namespace, format string, v ...interface{}) {
	if currentLevel >= WARN {
		write(log.Warn(), namespace, format, v...)
	}
}

func Error(namespace, format string, v ...interface{}) {
	if currentLevel >= ERROR {
		write(log.Error(), namespace, format, v...)
	}
}

// Fatal logs and exits the process.
func Fatal(namespace, format string, v ...interface{}) {
	log.Fatal().Str("namespace", namespace).Msg(fmt.Sprintf(format, v...))
}
