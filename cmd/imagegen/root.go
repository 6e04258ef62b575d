package main

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/shouni/image-fallback-kit/pkg/config"
)

func newRootCmd() *cobra.Command {
	var cfg config.Config

	root := &cobra.Command{
		Use:          "imagegen",
		Short:        "複数の画像生成プロバイダをフォールバックしながら呼び出します",
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cfg = config.Load()
			slog.SetDefault(newLogger(cfg))
		},
	}

	load := func() config.Config { return cfg }
	root.AddCommand(
		newServeCmd(load),
		newGenerateCmd(load),
		newEditCmd(load),
		newProvidersCmd(load),
	)
	return root
}

// newLogger は LOG_FORMAT / LOG_LEVEL / LOG_FILE に従って slog のロガーを作ります。
// LOG_FILE が指定された場合はローテーション付きのファイルに出力します。
func newLogger(cfg config.Config) *slog.Logger {
	var w io.Writer = os.Stderr
	if cfg.LogFile != "" {
		w = &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
			Compress:   true,
		}
	}

	opts := &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}
	if strings.EqualFold(cfg.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}
