// Package logging builds the structured, redacting logger every component
// in this module receives through canonical.Logger. Construction follows
// the same zap.NewProductionConfig bootstrap the rest of the retrieval
// pack uses for its CLI agents, generalized to drive JSON logs and to
// redact secret-shaped fields before they ever reach an encoder.
package logging

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/cogni-dao/cogni-reviewd/internal/canonical"
)

// redactedKeys are substring-matched, case-insensitively, against every
// structured field key. A match replaces the value with a fixed marker
// before it reaches the underlying core.
var redactedKeys = []string{
	"authorization",
	"cookie",
	"set-cookie",
	"password",
	"token",
	"secret",
	"apikey",
	"api_key",
}

const redactedValue = "[redacted]"

func isSecretKey(key string) bool {
	lower := strings.ToLower(key)
	for _, k := range redactedKeys {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}

// redactingCore wraps a zapcore.Core and blanks out secret-shaped fields
// before passing the entry downstream.
type redactingCore struct {
	zapcore.Core
}

func (c *redactingCore) With(fields []zapcore.Field) zapcore.Core {
	return &redactingCore{Core: c.Core.With(redactFields(fields))}
}

func (c *redactingCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *redactingCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	return c.Core.Write(ent, redactFields(fields))
}

func redactFields(fields []zapcore.Field) []zapcore.Field {
	out := make([]zapcore.Field, len(fields))
	for i, f := range fields {
		if isSecretKey(f.Key) {
			out[i] = zap.String(f.Key, redactedValue)
			continue
		}
		out[i] = f
	}
	return out
}

// New builds the process-root logger from a textual level (debug, info,
// warn, error; empty defaults to info).
func New(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	lvl := zap.InfoLevel
	if level != "" {
		if parsed, err := zapcore.ParseLevel(level); err == nil {
			lvl = parsed
		}
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	base, err := cfg.Build(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return &redactingCore{Core: core}
	}))
	if err != nil {
		return nil, err
	}
	return base, nil
}

// ZapLogger adapts *zap.Logger to canonical.Logger so the core never
// imports zap directly.
type ZapLogger struct {
	z *zap.Logger
}

func Wrap(z *zap.Logger) *ZapLogger {
	return &ZapLogger{z: z}
}

func toZapFields(fields []any) []zap.Field {
	out := make([]zap.Field, 0, len(fields)/2)
	for i := 0; i+1 < len(fields); i += 2 {
		key, ok := fields[i].(string)
		if !ok {
			continue
		}
		out = append(out, zap.Any(key, fields[i+1]))
	}
	return out
}

func (l *ZapLogger) With(fields ...any) canonical.Logger {
	return &ZapLogger{z: l.z.With(toZapFields(fields)...)}
}

func (l *ZapLogger) Debug(msg string, fields ...any) { l.z.Debug(msg, toZapFields(fields)...) }
func (l *ZapLogger) Info(msg string, fields ...any)  { l.z.Info(msg, toZapFields(fields)...) }
func (l *ZapLogger) Warn(msg string, fields ...any)  { l.z.Warn(msg, toZapFields(fields)...) }
func (l *ZapLogger) Error(msg string, fields ...any) { l.z.Error(msg, toZapFields(fields)...) }

func (l *ZapLogger) Sync() error { return l.z.Sync() }
