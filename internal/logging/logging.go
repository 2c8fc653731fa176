// Package logging configures the process-wide zap.Logger every other
// package reaches via zap.L(), matching the teacher's
// internal/wal/consumer.go idiom of pulling a correlated sub-logger off
// the global logger at the point a request/statement crosses a package
// boundary, rather than threading a *zap.Logger through every call.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Init builds and installs the global zap.Logger. dev selects a
// human-readable console encoder (local development); production builds
// use the default JSON encoder so log aggregation can parse fields.
func Init(dev bool, level string) (*zap.Logger, error) {
	var cfg zap.Config
	if dev {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
	}
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logger)
	return logger, nil
}

// Values groups a set of zap.Fields under a single named object field,
// for logging a statement's bind parameters or a row's column values
// without spraying them as top-level fields.
func Values(name string, fields ...zap.Field) zap.Field {
	return zap.Object(name, zapcore.ObjectMarshalerFunc(func(enc zapcore.ObjectEncoder) error {
		for _, f := range fields {
			f.AddTo(enc)
		}
		return nil
	}))
}

// Session returns a sub-logger correlated to one session's lifetime,
// the way wal.Consumer.OnMessage correlates each WAL change to a
// sub-logger before dispatching to live queries.
func Session(id, currentUser string) *zap.Logger {
	return zap.L().With(zap.String("session_id", id), zap.String("user", currentUser))
}

// Statement returns a sub-logger correlated to one statement's
// execution within a session, for the errs.Error boundary-crossing log
// spec §7 calls for.
func Statement(sessionLogger *zap.Logger, kind string) *zap.Logger {
	return sessionLogger.With(zap.String("stmt_kind", kind))
}
