// Package logger writes leveled JSON log lines. Values logged under keys
// that name contact data are redacted.
package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Level represents the severity of a log entry.
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

var levelNames = map[Level]string{
	DEBUG: "DEBUG",
	INFO:  "INFO",
	WARN:  "WARN",
	ERROR: "ERROR",
}

// ParseLevel maps a config string to a Level; unknown names yield INFO.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DEBUG
	case "warn", "warning":
		return WARN
	case "error":
		return ERROR
	default:
		return INFO
	}
}

// Logger writes structured JSON lines.
type Logger struct {
	mu     sync.Mutex
	out    io.Writer
	level  Level
	redact bool
}

// New returns a logger writing to out.
func New(out io.Writer, level Level, redact bool) *Logger {
	return &Logger{out: out, level: level, redact: redact}
}

var defaultLogger = New(os.Stderr, INFO, true)

// Default returns the package-level logger.
func Default() *Logger { return defaultLogger }

// SetLevel sets the minimum log level for the default logger.
func SetLevel(l Level) {
	defaultLogger.mu.Lock()
	defaultLogger.level = l
	defaultLogger.mu.Unlock()
}

// SetRedact enables or disables redaction for the default logger.
func SetRedact(r bool) {
	defaultLogger.mu.Lock()
	defaultLogger.redact = r
	defaultLogger.mu.Unlock()
}

// SetOutput redirects the default logger.
func SetOutput(w io.Writer) {
	defaultLogger.mu.Lock()
	defaultLogger.out = w
	defaultLogger.mu.Unlock()
}

func Debug(msg string, fields ...any) { defaultLogger.Log(DEBUG, msg, fields...) }
func Info(msg string, fields ...any)  { defaultLogger.Log(INFO, msg, fields...) }
func Warn(msg string, fields ...any)  { defaultLogger.Log(WARN, msg, fields...) }
func Error(msg string, fields ...any) { defaultLogger.Log(ERROR, msg, fields...) }

// Log emits one entry. fields are key/value pairs; a trailing odd key is
// dropped.
func (l *Logger) Log(level Level, msg string, fields ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if level < l.level {
		return
	}

	entry := map[string]any{
		"time":  time.Now().UTC().Format(time.RFC3339),
		"level": levelNames[level],
		"msg":   msg,
	}
	for i := 0; i+1 < len(fields); i += 2 {
		key := fmt.Sprintf("%v", fields[i])
		var val any = fields[i+1]
		switch v := val.(type) {
		case error:
			val = v.Error()
		case fmt.Stringer:
			val = v.String()
		}
		if s, ok := val.(string); ok && l.redact {
			val = redactValue(key, s)
		}
		entry[key] = val
	}

	data, err := json.Marshal(entry)
	if err != nil {
		data = []byte(fmt.Sprintf(`{"level":"ERROR","msg":"log marshal failed: %v"}`, err))
	}
	fmt.Fprintln(l.out, string(data))
}

func redactValue(key, val string) string {
	key = strings.ToLower(key)
	switch {
	case strings.Contains(key, "phone"):
		return RedactPhone(val)
	case strings.Contains(key, "email"):
		return RedactEmail(val)
	}
	return emailRegex.ReplaceAllStringFunc(val, RedactEmail)
}
