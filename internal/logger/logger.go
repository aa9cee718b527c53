package logger

import (
	"fmt"
	"io"
	"log"
	"strings"
	"sync/atomic"
)

type Level int32

const (
	DEBUG Level = iota
	INFO
	NOTICE
	WARN
	ERROR
	FATAL
)

var currentLevel atomic.Int32

func init() {
	currentLevel.Store(int32(INFO))
}

func (l Level) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case NOTICE:
		return "NOTICE"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	case FATAL:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel maps a config string onto a Level, falling back to INFO.
func ParseLevel(level string) Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return DEBUG
	case "INFO":
		return INFO
	case "NOTICE":
		return NOTICE
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	case "FATAL":
		return FATAL
	default:
		return INFO
	}
}

func SetLevel(level string) {
	currentLevel.Store(int32(ParseLevel(level)))
}

func Enabled(level Level) bool {
	return Level(currentLevel.Load()) <= level
}

// SetOutput redirects every logger in the process. Workers log to stdout so
// the supervisor can read their lines.
func SetOutput(w io.Writer) {
	log.SetOutput(w)
}

func output(level Level, tag string, format string, v ...interface{}) {
	if !Enabled(level) {
		return
	}
	msg := fmt.Sprintf(format, v...)
	if tag != "" {
		log.Printf("[%s] [%s] %s", level, tag, msg)
		return
	}
	log.Printf("[%s] %s", level, msg)
}

func outputLn(level Level, tag string, v ...interface{}) {
	if !Enabled(level) {
		return
	}
	msg := fmt.Sprint(v...)
	if tag != "" {
		log.Printf("[%s] [%s] %s", level, tag, msg)
		return
	}
	log.Printf("[%s] %s", level, msg)
}

func Debug(v ...interface{}) {
	outputLn(DEBUG, "", v...)
}

func Debugf(format string, v ...interface{}) {
	output(DEBUG, "", format, v...)
}

func Info(v ...interface{}) {
	outputLn(INFO, "", v...)
}

func Infof(format string, v ...interface{}) {
	output(INFO, "", format, v...)
}

func Notice(v ...interface{}) {
	outputLn(NOTICE, "", v...)
}

func Noticef(format string, v ...interface{}) {
	output(NOTICE, "", format, v...)
}

func Warn(v ...interface{}) {
	outputLn(WARN, "", v...)
}

func Warnf(format string, v ...interface{}) {
	output(WARN, "", format, v...)
}

func Error(v ...interface{}) {
	outputLn(ERROR, "", v...)
}

func Errorf(format string, v ...interface{}) {
	output(ERROR, "", format, v...)
}

func Fatal(v ...interface{}) {
	log.Fatalf("[FATAL] %s", fmt.Sprint(v...))
}

func Fatalf(format string, v ...interface{}) {
	log.Fatalf("[FATAL] "+format, v...)
}

// Entry is a logger bound to a tag such as a camera id or component name.
type Entry struct {
	tag string
}

func Tagged(tag string) *Entry {
	return &Entry{tag: tag}
}

// Tagged nests a sub-tag: Tagged("cam1").Tagged("stdout") logs as [cam1/stdout].
func (e *Entry) Tagged(tag string) *Entry {
	if e.tag == "" {
		return &Entry{tag: tag}
	}
	return &Entry{tag: e.tag + "/" + tag}
}

func (e *Entry) Debugf(format string, v ...interface{}) {
	output(DEBUG, e.tag, format, v...)
}

func (e *Entry) Infof(format string, v ...interface{}) {
	output(INFO, e.tag, format, v...)
}

func (e *Entry) Noticef(format string, v ...interface{}) {
	output(NOTICE, e.tag, format, v...)
}

func (e *Entry) Warnf(format string, v ...interface{}) {
	output(WARN, e.tag, format, v...)
}

func (e *Entry) Errorf(format string, v ...interface{}) {
	output(ERROR, e.tag, format, v...)
}

func (e *Entry) Fatalf(format string, v ...interface{}) {
	log.Fatalf("[FATAL] [%s] "+format, append([]interface{}{e.tag}, v...)...)
}
