package logging

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type FileLogger struct {
	Logger  *zap.SugaredLogger
	Close   func() error
	Path    string
	Enabled bool
}

func Nop() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}

// NewFileLogger returns a debug-level JSON file logger under <dataDir>/logs
// when debug is set, and a no-op logger otherwise. Secrets must be redacted
// by callers before they reach log fields; see redact.go.
func NewFileLogger(dataDir string, debug bool) (FileLogger, error) {
	if !debug {
		return FileLogger{Logger: Nop(), Close: func() error { return nil }, Enabled: false}, nil
	}
	logDir := filepath.Join(dataDir, "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return FileLogger{Logger: Nop(), Close: func() error { return nil }, Enabled: false}, err
	}
	path := filepath.Join(logDir, "engine.log")
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return FileLogger{Logger: Nop(), Close: func() error { return nil }, Enabled: false}, err
	}
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderCfg),
		zapcore.Lock(zapcore.AddSync(file)),
		zapcore.DebugLevel,
	)
	logger := zap.New(core, zap.AddCaller())
	return FileLogger{
		Logger: logger.Sugar(),
		Close: func() error {
			_ = logger.Sync()
			return file.Close()
		},
		Path:    path,
		Enabled: true,
	}, nil
}
