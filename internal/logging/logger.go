// Package logging provides the structured, component-scoped logger used by
// every long-running piece of the pipeline (scheduler workers, HTTP
// servers, the batch processor).
package logging

import (
	"fmt"
	"log"
	"os"
	"time"
)

// Level is a logging severity.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	case LevelFatal:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// Fields is a bag of structured log attributes.
type Fields map[string]interface{}

// Merge returns a new Fields combining f with extra, extra taking
// precedence on key collisions.
func (f Fields) Merge(extra Fields) Fields {
	merged := make(Fields, len(f)+len(extra))
	for k, v := range f {
		merged[k] = v
	}
	for k, v := range extra {
		merged[k] = v
	}
	return merged
}

// Logger is a leveled logger tagged with a component name.
type Logger struct {
	component string
	level     Level
	out       *log.Logger
}

// New creates a logger for the named component at the given level.
func New(component string, level Level) *Logger {
	return &Logger{
		component: component,
		level:     level,
		out:       log.New(os.Stdout, "", 0),
	}
}

func (l *Logger) shouldLog(level Level) bool {
	return level >= l.level
}

func (l *Logger) format(level Level, msg string, fields Fields) string {
	ts := time.Now().Format(time.RFC3339)
	formatted := fmt.Sprintf("[%s] %s %s: %s", ts, level.String(), l.component, msg)
	if len(fields) > 0 {
		formatted += " |"
		for k, v := range fields {
			formatted += fmt.Sprintf(" %s=%v", k, v)
		}
	}
	return formatted
}

func (l *Logger) log(level Level, msg string, fields ...Fields) {
	if !l.shouldLog(level) {
		return
	}
	var f Fields
	if len(fields) > 0 {
		f = fields[0]
	}
	l.out.Println(l.format(level, msg, f))
}

func (l *Logger) Debug(msg string, fields ...Fields) { l.log(LevelDebug, msg, fields...) }
func (l *Logger) Info(msg string, fields ...Fields)  { l.log(LevelInfo, msg, fields...) }
func (l *Logger) Warn(msg string, fields ...Fields)  { l.log(LevelWarn, msg, fields...) }
func (l *Logger) Error(msg string, fields ...Fields) { l.log(LevelError, msg, fields...) }

// Fatal logs at fatal level and terminates the process.
func (l *Logger) Fatal(msg string, fields ...Fields) {
	var f Fields
	if len(fields) > 0 {
		f = fields[0]
	}
	l.out.Println(l.format(LevelFatal, msg, f))
	os.Exit(1)
}

// With returns a child logger that merges fixed fields into every call.
func (l *Logger) With(fields Fields) *Context {
	return &Context{logger: l, fields: fields}
}

// Context carries a logger plus a set of fields applied to every call.
type Context struct {
	logger *Logger
	fields Fields
}

func (c *Context) merge(extra Fields) Fields {
	merged := make(Fields, len(c.fields)+len(extra))
	for k, v := range c.fields {
		merged[k] = v
	}
	for k, v := range extra {
		merged[k] = v
	}
	return merged
}

func (c *Context) Debug(msg string, fields ...Fields) {
	c.logger.Debug(msg, c.merge(firstOrNil(fields)))
}
func (c *Context) Info(msg string, fields ...Fields) {
	c.logger.Info(msg, c.merge(firstOrNil(fields)))
}
func (c *Context) Warn(msg string, fields ...Fields) {
	c.logger.Warn(msg, c.merge(firstOrNil(fields)))
}
func (c *Context) Error(msg string, fields ...Fields) {
	c.logger.Error(msg, c.merge(firstOrNil(fields)))
}

func firstOrNil(fields []Fields) Fields {
	if len(fields) > 0 {
		return fields[0]
	}
	return nil
}
