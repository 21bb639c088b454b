package lib

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	LogDirectory = "logs"
	LogFileName  = "log"
)

/* This file implements the leveled, colored logger shared by every module of the authority */

func init() {
	color.NoColor = false
}

// LoggerI defines the interface for various logging levels and formatted output
type LoggerI interface {
	Debug(msg string)
	Info(msg string)
	Warn(msg string)
	Error(msg string)
	Fatal(msg string)
	Print(msg string)
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Fatalf(format string, args ...interface{})
	Printf(format string, args ...interface{})
	With(scope string) LoggerI
}

const (
	DebugLevel int32 = -4
	InfoLevel  int32 = 0
	WarnLevel  int32 = 4
	ErrorLevel int32 = 8
)

const (
	gray = iota
	red
	green
	yellow
	blue
)

var _ LoggerI = &Logger{}

// LoggerConfig holds the minimum level that is written and the destination writer
type LoggerConfig struct {
	Level int32 `json:"level"`
	Out   io.Writer
}

// Logger is the concrete implementation of LoggerI
type Logger struct {
	config LoggerConfig
	scope  string // optional tag, typically the short name of the authority
}

// Debug() logs a message at the Debug level with blue color
func (l *Logger) Debug(msg string) { l.log(DebugLevel, blue, "DEBUG: ", msg) }

// Info() logs a message at the Info level with green color
func (l *Logger) Info(msg string) { l.log(InfoLevel, green, "INFO: ", msg) }

// Warn() logs a message at the Warn level with yellow color
func (l *Logger) Warn(msg string) { l.log(WarnLevel, yellow, "WARN: ", msg) }

// Error() logs a message at the Error level with red color
func (l *Logger) Error(msg string) { l.log(ErrorLevel, red, "ERROR: ", msg) }

// Print() logs a message without any level or color
func (l *Logger) Print(msg string) { l.write(msg) }

// Fatal() logs an error message and terminates the program
func (l *Logger) Fatal(msg string) {
	l.write(colorString(red, "FATAL: "+msg))
	os.Exit(1)
}

func (l *Logger) Debugf(format string, args ...interface{}) { l.Debug(fmt.Sprintf(format, args...)) }
func (l *Logger) Infof(format string, args ...interface{})  { l.Info(fmt.Sprintf(format, args...)) }
func (l *Logger) Warnf(format string, args ...interface{})  { l.Warn(fmt.Sprintf(format, args...)) }
func (l *Logger) Errorf(format string, args ...interface{}) { l.Error(fmt.Sprintf(format, args...)) }
func (l *Logger) Fatalf(format string, args ...interface{}) { l.Fatal(fmt.Sprintf(format, args...)) }
func (l *Logger) Printf(format string, args ...interface{}) { l.write(fmt.Sprintf(format, args...)) }

// With() returns a logger sharing the same output that tags every line with the scope
func (l *Logger) With(scope string) LoggerI {
	if l.scope != "" {
		scope = l.scope + "/" + scope
	}
	return &Logger{config: l.config, scope: scope}
}

// log() writes the colored message if the configured level allows it
func (l *Logger) log(level int32, c int, prefix, msg string) {
	if l.config.Level > level {
		return
	}
	if l.scope != "" {
		prefix += "[" + l.scope + "] "
	}
	l.write(colorString(c, prefix+msg))
}

// write() outputs the log message with a timestamp to the configured writer
func (l *Logger) write(msg string) {
	timeColored := colorString(gray, time.Now().Format(time.StampMilli))
	if _, err := l.config.Out.Write([]byte(fmt.Sprintf("%s %s\n", timeColored, msg))); err != nil {
		fmt.Println(ErrLog(err))
	}
}

// NewLogger() creates a new Logger; when no writer is configured, output is tee'd to stdout and a
// rotating file under <dataDirPath>/logs
func NewLogger(config LoggerConfig, dataDirPath ...string) LoggerI {
	if config.Out == nil {
		dir := DefaultDataDirPath()
		if len(dataDirPath) != 0 && dataDirPath[0] != "" {
			dir = dataDirPath[0]
		}
		logPath := filepath.Join(dir, LogDirectory, LogFileName)
		if _, err := os.Stat(logPath); errors.Is(err, os.ErrNotExist) {
			if err = os.MkdirAll(filepath.Join(dir, LogDirectory), os.ModePerm); err != nil {
				panic(err)
			}
		}
		config.Out = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   logPath,
			MaxSize:    1, // megabyte
			MaxBackups: 1500,
			MaxAge:     14, // days
			Compress:   true,
		})
	}
	return &Logger{config: config}
}

// NewDefaultLogger() creates a Logger at the Debug level writing to stdout
func NewDefaultLogger() LoggerI {
	return NewLogger(LoggerConfig{Level: DebugLevel, Out: os.Stdout})
}

// NewNullLogger() creates a Logger that discards all output
func NewNullLogger() LoggerI {
	return NewLogger(LoggerConfig{Level: DebugLevel, Out: io.Discard})
}

// colorString() applies the color line by line so multi-line errors stay colored
func colorString(c int, msg string) string {
	lines := strings.Split(msg, "\n")
	for i, line := range lines {
		lines[i] = cString(c, line)
	}
	return strings.Join(lines, "\n")
}

// cString() returns a string with a specific color applied
func cString(c int, msg string) string {
	switch c {
	case blue:
		return color.BlueString(msg)
	case red:
		return color.RedString(msg)
	case yellow:
		return color.YellowString(msg)
	case green:
		return color.GreenString(msg)
	case gray:
		return color.HiBlackString(msg)
	default:
		return color.WhiteString(msg)
	}
}
