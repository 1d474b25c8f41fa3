// Package logger wraps zap with the redaction behavior carried over from
// the platform logger this system is descended from: secret-shaped keys
// are redacted and JWT-shaped string values are caught even when the key
// name doesn't give them away. Unlike that ancestor, identifier keys
// (job_id, export_id) are passed through in the clear — this domain's
// identifiers are opaque UUIDs, not user PII, so hashing them would only
// make logs harder to correlate without protecting anything.
package logger

import (
	"strings"
	"sync"

	"go.uber.org/zap"
)

type Logger struct {
	sugared *zap.SugaredLogger
}

type Mode string

const (
	ModeProduction  Mode = "production"
	ModeDevelopment Mode = "development"
)

// New builds a Logger. When alsoStdout is true (IPA_CONTAINERIZED=true),
// logs additionally go to stdout regardless of the configured log file.
func New(mode Mode, logFile string, alsoStdout bool) (*Logger, error) {
	var cfg zap.Config
	switch mode {
	case ModeProduction:
		cfg = zap.NewProductionConfig()
	default:
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)

	outputs := []string{}
	if logFile != "" {
		outputs = append(outputs, logFile)
	}
	if alsoStdout || len(outputs) == 0 {
		outputs = append(outputs, "stdout")
	}
	cfg.OutputPaths = outputs
	cfg.ErrorOutputPaths = outputs

	zl, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return &Logger{sugared: zl.Sugar()}, nil
}

func (l *Logger) Sync() { _ = l.sugared.Sync() }

func (l *Logger) Debug(msg string, kv ...interface{}) { l.sugared.Debugw(msg, sanitizeKVs(kv)...) }
func (l *Logger) Info(msg string, kv ...interface{})  { l.sugared.Infow(msg, sanitizeKVs(kv)...) }
func (l *Logger) Warn(msg string, kv ...interface{})  { l.sugared.Warnw(msg, sanitizeKVs(kv)...) }
func (l *Logger) Error(msg string, kv ...interface{}) { l.sugared.Errorw(msg, sanitizeKVs(kv)...) }
func (l *Logger) Fatal(msg string, kv ...interface{}) { l.sugared.Fatalw(msg, sanitizeKVs(kv)...) }

func (l *Logger) With(kv ...interface{}) *Logger {
	return &Logger{sugared: l.sugared.With(sanitizeKVs(kv)...)}
}

var (
	redactOnce       sync.Once
	redactionEnabled = true
)

func sanitizeKVs(kv []interface{}) []interface{} {
	if len(kv) == 0 || !redactionEnabled {
		return kv
	}
	out := make([]interface{}, 0, len(kv))
	for i := 0; i < len(kv); i += 2 {
		if i == len(kv)-1 {
			out = append(out, kv[i])
			break
		}
		key := strings.ToLower(strings.TrimSpace(toString(kv[i])))
		out = append(out, kv[i], sanitizeValue(key, kv[i+1]))
	}
	return out
}

func sanitizeValue(key string, val interface{}) interface{} {
	if isRedactKey(key) {
		return "[REDACTED]"
	}
	if s, ok := val.(string); ok && looksLikeJWT(s) {
		return "[REDACTED]"
	}
	return val
}

func isRedactKey(key string) bool {
	switch {
	case strings.Contains(key, "token"),
		strings.Contains(key, "password"),
		strings.Contains(key, "secret"),
		strings.Contains(key, "authorization"),
		strings.Contains(key, "private_key"),
		strings.Contains(key, "credential"):
		return true
	default:
		return false
	}
}

func looksLikeJWT(s string) bool {
	parts := strings.Split(s, ".")
	return len(parts) == 3 && len(parts[0]) > 10 && len(parts[1]) > 10
}

func toString(v interface{}) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// SetRedactionEnabled overrides the default (on); intended for tests that
// need to assert on raw values.
func SetRedactionEnabled(enabled bool) {
	redactOnce.Do(func() {})
	redactionEnabled = enabled
}
