// Package logger builds the zap logger shared by every component.
package logger

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/edgecomet/render-agent/internal/common/configtypes"
)

const (
	outputConsole = "console"
	outputFile    = "file"
)

// output is one enabled sink with a runtime adjustable level
type output struct {
	name       string
	level      zap.AtomicLevel
	configured zapcore.Level
}

// DynamicLogger wraps zap.Logger with per-output levels that can change at runtime
type DynamicLogger struct {
	*zap.Logger
	outputs []*output
}

// NewLogger creates a logger running at the configured levels
func NewLogger(config configtypes.LogConfig) (*DynamicLogger, error) {
	return build(config, false)
}

// NewLoggerWithStartupOverride creates a logger that runs at INFO while the
// configured level is quieter. Call SwitchToConfiguredLevel once the process is ready.
func NewLoggerWithStartupOverride(config configtypes.LogConfig) (*DynamicLogger, error) {
	return build(config, true)
}

// NewDefaultLogger is used before the config file is loaded
func NewDefaultLogger() (*DynamicLogger, error) {
	return NewLogger(configtypes.LogConfig{
		Level: configtypes.LogLevelDebug,
		Console: configtypes.ConsoleLogConfig{
			Enabled: true,
			Format:  configtypes.LogFormatConsole,
		},
	})
}

func build(config configtypes.LogConfig, startupOverride bool) (*DynamicLogger, error) {
	globalLevel := parseLogLevel(config.Level)

	var cores []zapcore.Core
	dl := &DynamicLogger{}

	add := func(name, outputLevel string, encoder zapcore.Encoder, writer zapcore.WriteSyncer) {
		configured := resolveLogLevel(outputLevel, globalLevel)
		initial := configured
		if startupOverride && initial > zap.InfoLevel {
			initial = zap.InfoLevel
		}
		out := &output{name: name, level: zap.NewAtomicLevelAt(initial), configured: configured}
		dl.outputs = append(dl.outputs, out)
		cores = append(cores, zapcore.NewCore(encoder, writer, out.level))
	}

	if config.Console.Enabled {
		add(outputConsole, config.Console.Level, createEncoder(config.Console.Format), zapcore.Lock(os.Stdout))
	}

	if config.File.Enabled {
		if config.File.Path == "" {
			return nil, fmt.Errorf("file.path must be specified when file logging is enabled")
		}
		add(outputFile, config.File.Level, createEncoder(config.File.Format), createFileWriter(config.File.Path, config.File.Rotation))
	}

	if len(cores) == 0 {
		return nil, fmt.Errorf("at least one log output (console or file) must be enabled")
	}

	dl.Logger = zap.New(zapcore.NewTee(cores...))
	return dl, nil
}

// SwitchToConfiguredLevel restores every output to its configured level
func (dl *DynamicLogger) SwitchToConfiguredLevel() {
	for _, out := range dl.outputs {
		if out.level.Level() != out.configured {
			dl.Info("Switching logger to configured level",
				zap.String("output", out.name),
				zap.Stringer("level", out.configured))
			out.level.SetLevel(out.configured)
		}
	}
}

// EnsureInfoLevelForShutdown lowers quieter outputs to INFO so the shutdown sequence is visible
func (dl *DynamicLogger) EnsureInfoLevelForShutdown() {
	changed := false
	for _, out := range dl.outputs {
		if out.level.Level() > zap.InfoLevel {
			out.level.SetLevel(zap.InfoLevel)
			changed = true
		}
	}
	if changed {
		dl.Info("Switched to INFO level for shutdown visibility")
	}
}

// OutputLevel returns the current level of an output and whether it is enabled
func (dl *DynamicLogger) OutputLevel(name string) (zapcore.Level, bool) {
	for _, out := range dl.outputs {
		if out.name == name {
			return out.level.Level(), true
		}
	}
	return zapcore.InvalidLevel, false
}

// parseLogLevel converts string level to zapcore.Level, INFO when unknown
func parseLogLevel(level string) zapcore.Level {
	switch level {
	case configtypes.LogLevelDebug:
		return zap.DebugLevel
	case configtypes.LogLevelWarn:
		return zap.WarnLevel
	case configtypes.LogLevelError:
		return zap.ErrorLevel
	default:
		return zap.InfoLevel
	}
}

// resolveLogLevel prefers the output level and falls back to the global one
func resolveLogLevel(outputLevel string, globalLevel zapcore.Level) zapcore.Level {
	if outputLevel != "" {
		return parseLogLevel(outputLevel)
	}
	return globalLevel
}

// createEncoder returns JSON, colored console, or plain text encoding
func createEncoder(format string) zapcore.Encoder {
	if format == configtypes.LogFormatJSON {
		return zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	}

	encoderConfig := zap.NewDevelopmentEncoderConfig()
	if format == configtypes.LogFormatText {
		// No color codes in files
		encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	} else {
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	return zapcore.NewConsoleEncoder(encoderConfig)
}

// createFileWriter creates a rotating file sink
func createFileWriter(path string, rotation configtypes.RotationConfig) zapcore.WriteSyncer {
	return zapcore.AddSync(&lumberjack.Logger{
		Filename:   path,
		MaxSize:    rotation.MaxSize,
		MaxAge:     rotation.MaxAge,
		MaxBackups: rotation.MaxBackups,
		Compress:   rotation.Compress,
	})
}
