package common

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"

	"github.com/lni/dragonboat/v4/logger"
)

// --------------------------------------------------------------------------
// Custom Logger (implements dragonboats logger.ILogger)
// --------------------------------------------------------------------------

// hkvLogger implements the ILogger interface with custom formatting
type hkvLogger struct {
	name   string
	level  logger.LogLevel
	logger *log.Logger
}

func (l *hkvLogger) SetLevel(level logger.LogLevel) {
	l.level = level
}

func (l *hkvLogger) Debugf(format string, args ...interface{}) {
	if l.level >= logger.DEBUG {
		l.log("DEBUG", format, args...)
	}
}

func (l *hkvLogger) Infof(format string, args ...interface{}) {
	if l.level >= logger.INFO {
		l.log("INFO", format, args...)
	}
}

func (l *hkvLogger) Warningf(format string, args ...interface{}) {
	if l.level >= logger.WARNING {
		l.log("WARN", format, args...)
	}
}

func (l *hkvLogger) Errorf(format string, args ...interface{}) {
	if l.level >= logger.ERROR {
		l.log("ERROR", format, args...)
	}
}

func (l *hkvLogger) Panicf(format string, args ...interface{}) {
	if l.level >= logger.CRITICAL {
		panic(fmt.Sprintf(format, args...))
	}
}

// log formats and writes a log message. this internal helper is used by the public methods
func (l *hkvLogger) log(levelStr string, format string, args ...interface{}) {
	message := fmt.Sprintf(format, args...)
	l.logger.Printf("%-5s | %-15s | %s", levelStr, l.name, message)
}

// --------------------------------------------------------------------------
// Logger Factory
// --------------------------------------------------------------------------

var (
	outputMu sync.Mutex
	output   io.Writer = os.Stderr
)

// SetOutput changes the destination of all loggers created afterwards.
// nil restores the default (stderr, stdout is left to command output).
func SetOutput(w io.Writer) {
	outputMu.Lock()
	defer outputMu.Unlock()
	if w == nil {
		w = os.Stderr
	}
	output = w
}

// CreateLogger implements the dragonboat logger.Factory
func CreateLogger(pkgName string) logger.ILogger {
	outputMu.Lock()
	w := output
	outputMu.Unlock()

	return &hkvLogger{
		name:   pkgName,
		level:  logger.INFO,
		logger: log.New(w, "", log.Ldate|log.Ltime),
	}
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// ParseLogLevel converts a string level to logger.LogLevel
func ParseLogLevel(level string) (logger.LogLevel, error) {
	switch strings.ToLower(level) {
	case "debug":
		return logger.DEBUG, nil
	case "info":
		return logger.INFO, nil
	case "warning", "warn":
		return logger.WARNING, nil
	case "error":
		return logger.ERROR, nil
	default:
		return 0, fmt.Errorf("invalid log level: %s. must be one of debug, info, warn, error", level)
	}
}

// --------------------------------------------------------------------------
// Logger initialization
// --------------------------------------------------------------------------

// LoggerNames are the names under which the hkv packages obtain their loggers
var LoggerNames = []string{
	"maple", "pebble", "bolt", // substrates
	"lockmgr", "hstore", "kvstore", "volume", "lstore", // engines
	"cli",
}

// InitLoggers installs the custom logger factory and sets the level of all hkv loggers
func InitLoggers(config StoreConfig) error {
	level, err := ParseLogLevel(config.LogLevel)
	if err != nil {
		return err
	}

	// Set as the global logger factory for dragonboat
	logger.SetLoggerFactory(CreateLogger)

	for _, name := range LoggerNames {
		logger.GetLogger(name).SetLevel(level)
	}
	return nil
}
