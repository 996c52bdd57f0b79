// Package logging builds the zap logger used across the CLI
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	EncodingConsole = "console"
	EncodingJSON    = "json"

	defaultMaxSize = 100
	defaultMaxAge  = 30
)

// Config describes where and how to log
type Config struct {
	Level    string
	File     string
	Encoding string
	MaxSize  int
	MaxAge   int
	Compress bool
}

// New returns a logger writing to stderr, or to a rotated file when
// config.File is set
func New(config Config) (*zap.Logger, error) {
	level, err := ParseLevel(config.Level)
	if err != nil {
		return nil, err
	}
	return zap.New(zapcore.NewCore(newEncoder(config.Encoding), zapcore.AddSync(writer(config)), level)), nil
}

func writer(config Config) io.Writer {
	if config.File == "" {
		return os.Stderr
	}
	if config.MaxSize <= 0 {
		config.MaxSize = defaultMaxSize
	}
	if config.MaxAge <= 0 {
		config.MaxAge = defaultMaxAge
	}
	return &lumberjack.Logger{
		Filename:  config.File,
		MaxSize:   config.MaxSize,
		MaxAge:    config.MaxAge,
		Compress:  config.Compress,
		LocalTime: true,
	}
}

// ParseLevel maps a level name onto a zap level, defaulting to warn
func ParseLevel(name string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "":
		return zap.WarnLevel, nil
	case "debug":
		return zap.DebugLevel, nil
	case "info":
		return zap.InfoLevel, nil
	case "warn", "warning":
		return zap.WarnLevel, nil
	case "error":
		return zap.ErrorLevel, nil
	}
	return zap.WarnLevel, errors.Errorf("unknown log level: %q", name)
}

func newEncoder(encoding string) zapcore.Encoder {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(t.Format("2006-01-02 15:04:05"))
	}
	encoderConfig.CallerKey = ""
	if encoding == EncodingJSON {
		return zapcore.NewJSONEncoder(encoderConfig)
	}
	return zapcore.NewConsoleEncoder(encoderConfig)
}
