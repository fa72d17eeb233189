// Package cleanup は期限切れ投票セッションの削除ジョブを提供する。
// 期限切れのセッションは使用時にも拒否されるため、このジョブはテーブルの肥大化を防ぐためだけに動く。
// Redisストアを使う場合はキーのTTLで失効するため不要。
package cleanup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// Recorder は削除件数の記録先。
type Recorder interface {
	RecordSessionsPurged(count int64)
}

// SessionCleanupJob は期限切れ投票セッションの削除ジョブ。
// 冪等な削除処理を保証する。
type SessionCleanupJob struct {
	db       Executor
	recorder Recorder
	logger   *slog.Logger
	// GracePeriod は期限切れから削除までの猶予（デフォルト: 1時間）
	GracePeriod time.Duration
}

// NewSessionCleanupJob は新しいSessionCleanupJobを生成する。recorderはnilでもよい。
func NewSessionCleanupJob(db Executor, recorder Recorder, logger *slog.Logger) *SessionCleanupJob {
	return &SessionCleanupJob{
		db:          db,
		recorder:    recorder,
		logger:      logger,
		GracePeriod: time.Hour,
	}
}

// Run はexpires_atがGracePeriodより前のセッションを削除する。
// 冪等: 削除対象がない場合でもエラーにならない。
func (j *SessionCleanupJob) Run(ctx context.Context) error {
	start := time.Now()

	interval := fmt.Sprintf("%d seconds", int64(j.GracePeriod/time.Second))

	query := `DELETE FROM voting_sessions WHERE expires_at < now() - $1::interval`
	result, err := j.db.ExecContext(ctx, query, interval)
	if err != nil {
		j.logger.Error("投票セッションのクリーンアップに失敗しました",
			slog.String("error", err.Error()),
			slog.Duration("grace_period", j.GracePeriod),
		)
		return fmt.Errorf("投票セッションのクリーンアップに失敗: %w", err)
	}

	deletedCount, err := result.RowsAffected()
	if err != nil {
		j.logger.Error("削除件数の取得に失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("削除件数の取得に失敗: %w", err)
	}

	if j.recorder != nil && deletedCount > 0 {
		j.recorder.RecordSessionsPurged(deletedCount)
	}

	j.logger.Info("投票セッションのクリーンアップが完了しました",
		slog.Int64("deleted_count", deletedCount),
		slog.Duration("grace_period", j.GracePeriod),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return nil
}

// Start はintervalごとにRunを実行する。
// コンテキストがキャンセルされるまで実行を継続する。
func (j *SessionCleanupJob) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.logger.Info("投票セッションのクリーンアップジョブを開始しました", slog.Duration("interval", interval))

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("投票セッションのクリーンアップジョブを停止しました")
			return
		case <-ticker.C:
			// エラーはRun内でログ出力済み
			_ = j.Run(ctx)
		}
	}
}
