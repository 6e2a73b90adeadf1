// Package logging builds the zap logger shared by the coordinator and agent
// binaries. The setup mirrors aws-karpenter-provider-aws's
// cmd/controller/main.go LoggingContextOrDie: construct a zap.Logger, wrap it
// with go-logr/zapr so controller-runtime/client-go pieces can consume it via
// the logr.Logger interface, and stash both in the context.
package logging

import (
	"context"

	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type ctxKey struct{}

// New builds a zap.Logger. Production mode (JSON, ISO8601 timestamps) unless
// devMode is set, in which case it emits the human-friendly console encoder.
func New(component string, devMode bool, level string) *zap.Logger {
	var cfg zap.Config
	if devMode {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	if lvl, err := zapcore.ParseLevel(level); err == nil {
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	logger, err := cfg.Build()
	if err != nil {
		panic("failed to build zap logger: " + err.Error())
	}
	return logger.Named(component)
}

// Logr adapts a zap.Logger to the logr.Logger interface expected by
// client-go and controller-runtime call sites.
func Logr(z *zap.Logger) *zapr.Logger {
	l := zapr.NewLogger(z)
	return &l
}

// Into stores the logger on the context.
func Into(ctx context.Context, z *zap.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, z)
}

// From retrieves the logger from the context, falling back to the global
// zap logger if none was set (matches zap.L()'s own fallback behavior).
func From(ctx context.Context) *zap.Logger {
	if z, ok := ctx.Value(ctxKey{}).(*zap.Logger); ok {
		return z
	}
	return zap.L()
}
