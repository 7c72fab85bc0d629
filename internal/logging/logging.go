// Package logging builds the process logger.
package logging

import (
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config returns the zap config for level. Development switches to
// colored levels and caller-relative output on stderr.
func Config(level string, development bool) (zap.Config, error) {
	lvl, err := zapcore.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return zap.Config{}, errors.Wrapf(err, "log level %q", level)
	}

	encodeLevel := zapcore.CapitalLevelEncoder
	out := "stdout"
	if development {
		encodeLevel = zapcore.CapitalColorLevelEncoder
		out = "stderr"
	}

	return zap.Config{
		Level:       zap.NewAtomicLevelAt(lvl),
		Development: development,
		Encoding:    "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "ts",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			FunctionKey:    zapcore.OmitKey,
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    encodeLevel,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.StringDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		DisableStacktrace: true,
		OutputPaths:       []string{out},
		ErrorOutputPaths:  []string{"stderr"},
	}, nil
}

// New returns a sugared logger named gnssctl.
func New(level string, development bool) (*zap.SugaredLogger, error) {
	cfg, err := Config(level, development)
	if err != nil {
		return nil, err
	}
	l, err := cfg.Build()
	if err != nil {
		return nil, errors.Wrap(err, "build logger")
	}
	return l.Named("gnssctl").Sugar(), nil
}
