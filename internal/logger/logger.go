// Package logger はJSON構造化ログのセットアップを提供する。
package logger

import (
	"io"
	"log/slog"
	"os"
)

// Setup は指定レベル以上を出力するJSON構造化ログのslog.Loggerを生成して返す。
func Setup(w io.Writer, level slog.Leveler) *slog.Logger {
	if level == nil {
		level = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	})
	return slog.New(handler).With(slog.String("service", "tallyman"))
}

// SetupDefault はJSON構造化ログをグローバルロガーとして設定し、ログレベルを変更するためのLevelVarを返す。
// 本番ではos.Stdoutを渡すことを想定している。
// 設定読み込み前に呼ばれるため初期レベルはInfoで、読み込み後にLevelVar.Setで変更する。
func SetupDefault(w io.Writer) *slog.LevelVar {
	if w == nil {
		w = os.Stdout
	}
	level := new(slog.LevelVar)
	slog.SetDefault(Setup(w, level))
	return level
}
