package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
)

type Config struct {
	Level  string `json:"level"`
	Output string `json:"output"`
	Prefix string `json:"prefix"`
}

type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
	FATAL
)

var levelMap = map[string]LogLevel{
	"debug": DEBUG,
	"info":  INFO,
	"warn":  WARN,
	"error": ERROR,
	"fatal": FATAL,
}

// Logger is a leveled logger with a per-component prefix. One Logger is
// shared across goroutines; level changes are guarded by the mutex.
type Logger struct {
	logger *log.Logger
	prefix string
	mutex  sync.RWMutex
	level  LogLevel
	closer io.Closer
}

func NewLogger(config *Config) (*Logger, error) {
	if config == nil {
		config = &Config{Level: "info", Output: "stdout"}
	}

	level, exists := levelMap[strings.ToLower(config.Level)]
	if !exists {
		level = INFO
	}

	var output io.Writer
	var closer io.Closer
	switch config.Output {
	case "", "stdout":
		output = os.Stdout
	case "stderr":
		output = os.Stderr
	default:
		file, err := os.OpenFile(config.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		output = file
		closer = file
	}

	prefix := ""
	if config.Prefix != "" {
		prefix = "[" + config.Prefix + "] "
	}

	return &Logger{
		logger: log.New(output, "", log.LstdFlags),
		prefix: prefix,
		level:  level,
		closer: closer,
	}, nil
}

var (
	defaultLogger *Logger
	defaultOnce   sync.Once
)

// Default returns the shared stdout logger at info level.
func Default() *Logger {
	defaultOnce.Do(func() {
		defaultLogger, _ = NewLogger(nil)
	})
	return defaultLogger
}

// WithPrefix returns a logger sharing the same sink and level but tagged
// with a different component prefix.
func (l *Logger) WithPrefix(prefix string) *Logger {
	l.mutex.RLock()
	defer l.mutex.RUnlock()
	return &Logger{
		logger: l.logger,
		prefix: "[" + prefix + "] ",
		level:  l.level,
	}
}

func (l *Logger) SetLevel(level LogLevel) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.level = level
}

func (l *Logger) enabled(level LogLevel) bool {
	l.mutex.RLock()
	defer l.mutex.RUnlock()
	return l.level <= level
}

func (l *Logger) Debug(format string, args ...interface{}) {
	if l.enabled(DEBUG) {
		l.logger.Printf(l.prefix+"[DEBUG] "+format, args...)
	}
}

func (l *Logger) Info(format string, args ...interface{}) {
	if l.enabled(INFO) {
		l.logger.Printf(l.prefix+"[INFO] "+format, args...)
	}
}

func (l *Logger) Warn(format string, args ...interface{}) {
	if l.enabled(WARN) {
		l.logger.Printf(l.prefix+"[WARN] "+format, args...)
	}
}

func (l *Logger) Error(format string, args ...interface{}) {
	if l.enabled(ERROR) {
		l.logger.Printf(l.prefix+"[ERROR] "+format, args...)
	}
}

func (l *Logger) Fatal(format string, args ...interface{}) {
	l.logger.Printf(l.prefix+"[FATAL] "+format, args...)
	os.Exit(1)
}

func (l *Logger) Close() error {
	if l.closer != nil {
		return l.closer.Close()
	}
	return nil
}
