// Package zap adapts *zap.Logger to the controller's logger.Logger interface.
package zap

import (
	"go.uber.org/zap"

	"github.com/jonturner53/forestctl/internal/logger"
)

// Adapter wraps a *zap.Logger so it satisfies logger.Logger.
type Adapter struct {
	L *zap.Logger
}

// New wraps l, skipping one extra caller frame so log sites report the
// caller of the logger.Logger method, not this adapter.
func New(l *zap.Logger) Adapter {
	return Adapter{L: l.WithOptions(zap.AddCallerSkip(1))}
}

func (z Adapter) With(fields...logger.Field) logger.Logger {
	return Adapter{L: z.L.With(toZap(fields)...)}
}

func (z Adapter) Named(name string) logger.Logger {
	return Adapter{L: z.L.Named(name)}
}

func (z Adapter) Debug(msg string, fields...logger.Field) {
	if ce := z.L.Check(zap.DebugLevel, msg); ce != nil {
		ce.Write(toZap(fields)...)
	}
}

func (z Adapter) Info(msg string, fields...logger.Field) {
	if ce := z.L.Check(zap.InfoLevel, msg); ce != nil {
		ce.Write(toZap(fields)...)
	}
}

func (z Adapter) Warn(msg string, fields...logger.Field) {
	if ce := z.L.Check(zap.WarnLevel, msg); ce != nil {
		ce.Write(toZap(fields)...)
	}
}

func (z Adapter) Error(msg string, fields...logger.Field) {
	if ce := z.L.Check(zap.ErrorLevel, msg); ce != nil {
		ce.Write(toZap(fields)...)
	}
}

func toZap(fs []logger.Field) []zap.Field {
	if len(fs) == 0 {
		return nil
	}
	out := make([]zap.Field, 0, len(fs))
	for _, f := range fs {
		out = append(out, zap.Any(f.Key, f.Val))
	}
	return out
}
