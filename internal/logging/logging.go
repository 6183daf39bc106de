// SPDX-License-Identifier: MPL-2.0

package logging

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/charmbracelet/log"
)

// RedactedValue replaces the value of any sensitive field.
const RedactedValue = "[REDACTED]"

const (
	// FormatText is the human-readable default formatter.
	FormatText Format = "text"
	// FormatJSON emits one JSON object per entry.
	FormatJSON Format = "json"
	// FormatLogfmt emits logfmt key=value pairs.
	FormatLogfmt Format = "logfmt"
)

// ErrInvalidFormat is returned when a Format value is not recognized.
var ErrInvalidFormat = errors.New("invalid log format")

// sensitiveKeyMarkers are matched case-insensitively as substrings of field keys.
var sensitiveKeyMarkers = []string{"token", "password", "secret", "authorization", "credential"}

type (
	// Format selects the output encoding of log entries.
	Format string

	// Fields carries the structured context of one log entry.
	Fields map[string]any

	// Options configures a Logger.
	Options struct {
		// Prefix is printed before every entry. Defaults to "upkeep".
		Prefix string
		// Level is a charmbracelet/log level name (debug, info, warn, error).
		Level string
		// Format selects the formatter. Defaults to FormatText.
		Format Format
		// ReportTimestamp adds a timestamp to every entry.
		ReportTimestamp bool
	}

	// Logger writes categorized, redacted diagnostic entries.
	// A nil *Logger discards everything.
	Logger struct {
		base *log.Logger
	}
)

// IsValid reports whether f names a known formatter.
func (f Format) IsValid() bool {
	switch f {
	case FormatText, FormatJSON, FormatLogfmt, "":
		return true
	default:
		return false
	}
}

// New creates a Logger writing to w.
func New(w io.Writer, opts Options) (*Logger, error) {
	if !opts.Format.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidFormat, opts.Format)
	}

	prefix := opts.Prefix
	if prefix == "" {
		prefix = "upkeep"
	}

	level := log.InfoLevel
	if opts.Level != "" {
		parsed, err := log.ParseLevel(opts.Level)
		if err != nil {
			return nil, fmt.Errorf("parsing log level: %w", err)
		}
		level = parsed
	}

	base := log.NewWithOptions(w, log.Options{
		Prefix:          prefix,
		Level:           level,
		ReportTimestamp: opts.ReportTimestamp,
		Formatter:       formatterFor(opts.Format),
	})

	return &Logger{base: base}, nil
}

// Default returns a text Logger on stderr at info level.
func Default() *Logger {
	return &Logger{base: log.NewWithOptions(os.Stderr, log.Options{Prefix: "upkeep"})}
}

// Discard returns a Logger that drops every entry.
func Discard() *Logger {
	return &Logger{base: log.NewWithOptions(io.Discard, log.Options{Level: log.FatalLevel})}
}

// Error logs an entry at ERROR severity.
func (l *Logger) Error(category, msg string, fields Fields) {
	if l == nil {
		return
	}
	l.base.Error(msg, keyvals(category, fields)...)
}

// Warn logs an entry at WARN severity.
func (l *Logger) Warn(category, msg string, fields Fields) {
	if l == nil {
		return
	}
	l.base.Warn(msg, keyvals(category, fields)...)
}

// Info logs an entry at INFO severity.
func (l *Logger) Info(category, msg string, fields Fields) {
	if l == nil {
		return
	}
	l.base.Info(msg, keyvals(category, fields)...)
}

// Debug logs an entry at DEBUG severity.
func (l *Logger) Debug(category, msg string, fields Fields) {
	if l == nil {
		return
	}
	l.base.Debug(msg, keyvals(category, fields)...)
}

// Redact returns a copy of fields in which every value whose key names a
// credential is replaced by RedactedValue. Nested Fields and map[string]any
// values are redacted recursively.
func Redact(fields Fields) Fields {
	if fields == nil {
		return nil
	}

	out := make(Fields, len(fields))
	for k, v := range fields {
		if IsSensitiveKey(k) {
			out[k] = RedactedValue
			continue
		}
		switch nested := v.(type) {
		case Fields:
			out[k] = Redact(nested)
		case map[string]any:
			out[k] = map[string]any(Redact(nested))
		default:
			out[k] = v
		}
	}
	return out
}

// IsSensitiveKey reports whether key looks like it carries a credential.
func IsSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, marker := range sensitiveKeyMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// keyvals flattens redacted fields into charmbracelet/log key-value pairs,
// category first and the remaining keys in sorted order.
func keyvals(category string, fields Fields) []any {
	redacted := Redact(fields)

	keys := make([]string, 0, len(redacted))
	for k := range redacted {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	kv := make([]any, 0, 2+2*len(keys))
	if category != "" {
		kv = append(kv, "category", category)
	}
	for _, k := range keys {
		kv = append(kv, k, redacted[k])
	}
	return kv
}

func formatterFor(f Format) log.Formatter {
	switch f {
	case FormatJSON:
		return log.JSONFormatter
	case FormatLogfmt:
		return log.LogfmtFormatter
	default:
		return log.TextFormatter
	}
}
