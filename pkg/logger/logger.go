package logger

import (
	"os"
	"path/filepath"
	"time"

	"github.com/natefinch/lumberjack"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type LogConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`
	Filename   string `mapstructure:"filename" yaml:"filename"`
	MaxSize    int    `mapstructure:"max_size" yaml:"max_size"`
	MaxAge     int    `mapstructure:"max_age" yaml:"max_age"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	Daily      bool   `mapstructure:"daily" yaml:"daily"`
}

var Lg *zap.Logger

func init() {
	initDefaultLogger()
}

// initDefaultLogger installs a stdout production logger until Init runs
func initDefaultLogger() {
	config := zap.NewProductionConfig()
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)

	logger, err := config.Build(zap.AddCaller())
	if err != nil {
		Lg = zap.NewNop()
		return
	}

	Lg = logger
	zap.ReplaceGlobals(Lg)
}

// Init builds the process logger. Development mode additionally tees a
// colored console encoder to stdout/stderr.
func Init(cfg *LogConfig, mode string) (err error) {
	writeSyncer := getLogWriter(cfg.Filename, cfg.MaxSize, cfg.MaxBackups, cfg.MaxAge, cfg.Daily)
	encoder := getEncoder()
	var l = new(zapcore.Level)
	err = l.UnmarshalText([]byte(cfg.Level))
	if err != nil {
		return
	}
	var core zapcore.Core
	if mode == "dev" || mode == "development" {
		consoleEncoder := zapcore.NewConsoleEncoder(getConsoleEncoderConfig())
		highPriority := zap.LevelEnablerFunc(func(lvl zapcore.Level) bool {
			return lvl >= zapcore.ErrorLevel
		})
		lowPriority := zap.LevelEnablerFunc(func(lvl zapcore.Level) bool {
			return lvl >= *l && lvl < zapcore.ErrorLevel
		})

		core = zapcore.NewTee(
			zapcore.NewCore(encoder, writeSyncer, l),
			zapcore.NewCore(consoleEncoder, zapcore.Lock(os.Stdout), lowPriority),
			zapcore.NewCore(consoleEncoder, zapcore.Lock(os.Stderr), highPriority),
		)
	} else {
		core = zapcore.NewCore(encoder, writeSyncer, l)
	}

	Lg = zap.New(core, zap.AddCaller())

	zap.ReplaceGlobals(Lg)

	Info("logger initialized successfully", zap.String("level", l.String()), zap.String("mode", mode))
	return
}

func getConsoleEncoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewDevelopmentEncoderConfig()
	cfg.TimeKey = "time"
	cfg.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString("\x1b[90m" + t.Format("2006-01-02 15:04:05.000") + "\x1b[0m")
	}
	cfg.EncodeLevel = func(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
		var levelColor = map[zapcore.Level]string{
			zapcore.DebugLevel:  "\x1b[35m",
			zapcore.InfoLevel:   "\x1b[36m",
			zapcore.WarnLevel:   "\x1b[33m",
			zapcore.ErrorLevel:  "\x1b[31m",
			zapcore.DPanicLevel: "\x1b[31m",
			zapcore.PanicLevel:  "\x1b[31m",
			zapcore.FatalLevel:  "\x1b[31m",
		}
		color, ok := levelColor[l]
		if !ok {
			color = "\x1b[0m"
		}
		enc.AppendString(color + "[" + l.CapitalString() + "]\x1b[0m")
	}
	cfg.EncodeCaller = func(caller zapcore.EntryCaller, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString("\x1b[90m" + caller.TrimmedPath() + "\x1b[0m")
	}
	return cfg
}

func getEncoder() zapcore.Encoder {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.TimeKey = "time"
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	encoderConfig.EncodeDuration = zapcore.SecondsDurationEncoder
	encoderConfig.EncodeCaller = zapcore.ShortCallerEncoder
	return zapcore.NewJSONEncoder(encoderConfig)
}

func getLogWriter(filename string, maxSize, maxBackup, maxAge int, daily bool) zapcore.WriteSyncer {
	if daily {
		ext := filepath.Ext(filename)
		base := filename[:len(filename)-len(ext)]
		dateStr := time.Now().Format("2006-01-02")
		filename = base + "-" + dateStr + ext
	}

	lumberJackLogger := &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    maxSize,
		MaxBackups: maxBackup,
		MaxAge:     maxAge,
		LocalTime:  true,
	}
	return zapcore.AddSync(lumberJackLogger)
}

// Named returns a child of l scoped to component, falling back to the
// process logger when l is nil.
func Named(l *zap.Logger, component string) *zap.Logger {
	if l == nil {
		if Lg == nil {
			initDefaultLogger()
		}
		l = Lg
	}
	return l.Named(component)
}

// Info common info logger
func Info(msg string, fields ...zap.Field) {
	if Lg == nil {
		initDefaultLogger()
	}
	Lg.Info(msg, fields...)
}

// Warn common warn logger
func Warn(msg string, fields ...zap.Field) {
	if Lg == nil {
		initDefaultLogger()
	}
	Lg.Warn(msg, fields...)
}

// Error common error logger
func Error(msg string, fields ...zap.Field) {
	if Lg == nil {
		initDefaultLogger()
	}
	Lg.Error(msg, fields...)
}

// Debug common debug logger
func Debug(msg string, fields ...zap.Field) {
	if Lg == nil {
		initDefaultLogger()
	}
	Lg.Debug(msg, fields...)
}

// Fatal common fatal logger
func Fatal(msg string, fields ...zap.Field) {
	if Lg == nil {
		initDefaultLogger()
	}
	Lg.Fatal(msg, fields...)
}

// Sync flushes buffered entries
func Sync() {
	if Lg != nil {
		_ = Lg.Sync()
	}
}
