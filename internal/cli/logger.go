package cli

import (
	"fmt"
	"io"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/AmmannChristian/go-apiclient/internal/config"
)

// newLogger builds a zap logger writing to w and exposes it as a logr.Logger.
// logr verbosity V(1) maps to zap's debug level.
func newLogger(cfg config.LogConfig, w io.Writer) (logr.Logger, func(), error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return logr.Discard(), func() {}, fmt.Errorf("cli: log level: %w", err)
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	switch cfg.Format {
	case "json":
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	default:
		encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	}

	zl := zap.New(zapcore.NewCore(encoder, zapcore.AddSync(w), level))
	return zapr.NewLogger(zl), func() { _ = zl.Sync() }, nil
}
