// Package lifecycle は終了日時を過ぎた投票を自動的に完了させるジョブを提供する。
package lifecycle

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// Executor はSQLのExecContextを抽象化するインターフェース。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// Recorder は自動完了件数の記録先。
type Recorder interface {
	RecordPollsCompleted(count int64)
}

// completeExpiredQuery は状態がactiveのまま終了日時を過ぎた投票をcompletedへ更新する。
// WHERE句でstatusを条件にしているため、手動の完了・取り消しと競合しても二重遷移しない。
const completeExpiredQuery = `UPDATE polls SET status = 'completed', updated_at = now()
	WHERE status = 'active' AND end_date IS NOT NULL AND end_date < $1`

// SweepJob はactive→completedの自動遷移を行う定期ジョブ。
type SweepJob struct {
	db       Executor
	recorder Recorder
	logger   *slog.Logger
	now      func() time.Time
}

// NewSweepJob は新しいSweepJobを生成する。recorderはnilでもよい。
func NewSweepJob(db Executor, recorder Recorder, logger *slog.Logger) *SweepJob {
	return &SweepJob{
		db:       db,
		recorder: recorder,
		logger:   logger,
		now:      time.Now,
	}
}

// Run は終了日時を過ぎた投票を1回だけ完了させる。
// 冪等: 対象がない場合でもエラーにならない。
func (j *SweepJob) Run(ctx context.Context) error {
	start := time.Now()

	result, err := j.db.ExecContext(ctx, completeExpiredQuery, j.now().UTC())
	if err != nil {
		j.logger.Error("投票の自動完了に失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("投票の自動完了に失敗: %w", err)
	}

	completed, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("更新件数の取得に失敗: %w", err)
	}

	if j.recorder != nil && completed > 0 {
		j.recorder.RecordPollsCompleted(completed)
	}

	level := slog.LevelDebug
	if completed > 0 {
		level = slog.LevelInfo
	}
	j.logger.Log(ctx, level, "投票の自動完了ジョブが完了しました",
		slog.Int64("completed_count", completed),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}

// Start はintervalごとにRunを実行する。起動直後に1回実行し、
// コンテキストがキャンセルされるまで継続する。
func (j *SweepJob) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.logger.Info("投票の自動完了ジョブを開始しました", slog.Duration("interval", interval))

	// エラーはRun内でログ出力済み
	_ = j.Run(ctx)
	for {
		select {
		case <-ctx.Done():
			j.logger.Info("投票の自動完了ジョブを停止しました")
			return
		case <-ticker.C:
			_ = j.Run(ctx)
		}
	}
}
