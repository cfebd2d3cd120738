package sysutil

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// 初始化之前是 no-op，测试里不需要调用 InitLogger
var Log = zap.NewNop()
var LogSugar = Log.Sugar()

type LogOptions struct {
	Level       string // debug, info, warn, error
	Development bool   // true: 彩色控制台输出; false: JSON
}

func InitLogger(opts LogOptions) error {
	level, err := zapcore.ParseLevel(opts.Level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", opts.Level, err)
	}

	var encoder zapcore.Encoder
	if opts.Development {
		config := zap.NewDevelopmentEncoderConfig()
		config.EncodeTime = zapcore.ISO8601TimeEncoder        // 格式化时间输出
		config.EncodeLevel = zapcore.CapitalColorLevelEncoder // 彩色级别
		encoder = zapcore.NewConsoleEncoder(config)
	} else {
		config := zap.NewProductionEncoderConfig()
		config.EncodeTime = zapcore.ISO8601TimeEncoder
		encoder = zapcore.NewJSONEncoder(config)
	}

	core := zapcore.NewCore(encoder, zapcore.AddSync(os.Stdout), level)
	Log = zap.New(core, zap.AddCaller())
	LogSugar = Log.Sugar()
	return nil
}
