package logger

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/datazip-inc/olake-scaling/constants"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"
)

var logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "2006-01-02 15:04:05"}).With().Timestamp().Logger()

// Info writes record into os.stdout with log level INFO
func Info(v ...interface{}) {
	if len(v) == 1 {
		logger.Info().Interface("message", v[0]).Send()
	} else {
		logger.Info().Msg(fmt.Sprint(v...))
	}
}

func Infof(format string, v ...interface{}) {
	logger.Info().Msgf(format, v...)
}

func Debug(v ...interface{}) {
	logger.Debug().Msg(fmt.Sprint(v...))
}

func Debugf(format string, v ...interface{}) {
	logger.Debug().Msgf(format, v...)
}

func Error(v ...interface{}) {
	logger.Error().Msg(fmt.Sprint(v...))
}

func Errorf(format string, v ...interface{}) {
	logger.Error().Msgf(format, v...)
}

func Warn(v ...interface{}) {
	logger.Warn().Msg(fmt.Sprint(v...))
}

func Warnf(format string, v ...interface{}) {
	logger.Warn().Msgf(format, v...)
}

// Fatal logs and exits, reserved for the binary entrypoint
func Fatal(v ...interface{}) {
	logger.Fatal().Msg(fmt.Sprint(v...))
}

func Fatalf(format string, v ...interface{}) {
	logger.Fatal().Msgf(format, v...)
}

// FileLogger writes content as json into <config folder>/<fileName><fileExtension>
func FileLogger(content any, fileName, fileExtension string) error {
	filePath := viper.GetString(constants.ConfigFolder)
	if filePath == "" {
		return fmt.Errorf("config folder is not set")
	}

	contentBytes, err := json.Marshal(content)
	if err != nil {
		return fmt.Errorf("failed to marshal content: %s", err)
	}

	fullPath := filepath.Join(filePath, fileName+fileExtension)
	// write to a temp file first so readers never observe a partial file
	tmpPath := fullPath + ".tmp"
	if err := os.WriteFile(tmpPath, contentBytes, 0o644); err != nil {
		return fmt.Errorf("failed to write data to file: %s", err)
	}
	if err := os.Rename(tmpPath, fullPath); err != nil {
		return fmt.Errorf("failed to replace file[%s]: %s", fullPath, err)
	}

	return nil
}

// StatsLogger periodically logs the output of statsFunc and writes it to stats.json
func StatsLogger(ctx context.Context, period time.Duration, statsFunc func() map[string]any) {
	startTime := time.Now()
	go func() {
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				Debug("stats monitoring stopped")
				return
			case <-ticker.C:
				stats := statsFunc()
				memStats := new(runtime.MemStats)
				runtime.ReadMemStats(memStats)
				stats["memory"] = fmt.Sprintf("%d mb", memStats.HeapInuse/(1024*1024))
				stats["seconds_elapsed"] = fmt.Sprintf("%.2f", time.Since(startTime).Seconds())
				if err := FileLogger(stats, constants.StatsFileName, constants.JSONExt); err != nil {
					Debugf("failed to write stats in file: %s", err)
				}
				Infof("stats: %v", stats)
			}
		}
	}()
}

// Init configures console and rotating file output. The file is skipped when
// no config folder is set.
func Init() {
	zerolog.TimestampFunc = func() time.Time {
		return time.Now().UTC()
	}
	level, err := zerolog.ParseLevel(strings.ToLower(viper.GetString("LOG_LEVEL")))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	var currentLevel string
	logColors := map[string]string{
		"debug": "\033[36m", // Cyan
		"info":  "\033[32m", // Green
		"warn":  "\033[33m", // Yellow
		"error": "\033[31m", // Red
		"fatal": "\033[31m", // Red
	}
	console := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: "2006-01-02 15:04:05",
		FormatLevel: func(i interface{}) string {
			level, _ := i.(string)
			currentLevel = level
			return fmt.Sprintf("%s%s\033[0m", logColors[level], strings.ToUpper(level))
		},
		FormatMessage: func(i interface{}) string {
			var msg string
			switch v := i.(type) {
			case string:
				msg = v
			case nil:
				return ""
			default:
				jsonMsg, err := json.Marshal(v)
				if err != nil {
					return err.Error()
				}
				return string(jsonMsg)
			}
			if currentLevel == zerolog.ErrorLevel.String() || currentLevel == zerolog.FatalLevel.String() {
				msg = fmt.Sprintf("\033[31m%s\033[0m", msg)
			}
			return msg
		},
		FormatTimestamp: func(i interface{}) string {
			return fmt.Sprintf("\033[90m%s\033[0m", i)
		},
	}

	var writer zerolog.LevelWriter = zerolog.MultiLevelWriter(console)
	if folder := viper.GetString(constants.ConfigFolder); folder != "" {
		timestamp := time.Now().UTC().Format("2006-01-02_15-04-05")
		rotatingFile := &lumberjack.Logger{
			Filename:   filepath.Join(folder, "logs", fmt.Sprintf("sync_%s", timestamp), "olake-scaling.log"),
			MaxSize:    100, // megabytes
			MaxBackups: 5,
			MaxAge:     30, // days
			Compress:   true,
		}
		writer = zerolog.MultiLevelWriter(console, rotatingFile)
	}

	logger = zerolog.New(writer).Level(level).With().Timestamp().Logger()
}
