package logger

import (
	"io"
	"os"
	"path/filepath"

	"walletauth/internal/config"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// New 根据配置创建日志实例
// 配置了 file 时同时写 stdout 和滚动日志文件
func New(cfg *config.LoggerConfig) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(newOutput(cfg))

	if cfg.Format == "text" {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		l.SetFormatter(&logrus.JSONFormatter{})
	}

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)

	return l
}

func newOutput(cfg *config.LoggerConfig) io.Writer {
	if cfg.File == "" {
		return os.Stdout
	}

	maxSize := cfg.MaxSize
	if maxSize == 0 {
		maxSize = 512
	}
	maxBackups := cfg.MaxBackups
	if maxBackups == 0 {
		maxBackups = 10
	}
	maxAge := cfg.MaxAge
	if maxAge == 0 {
		maxAge = 14
	}

	return io.MultiWriter(
		os.Stdout,
		&lumberjack.Logger{
			Filename:   filepath.Clean(cfg.File),
			MaxSize:    maxSize,
			MaxAge:     maxAge,
			MaxBackups: maxBackups,
			LocalTime:  true,
		},
	)
}
