package lifecycle

import (
	"bytes"
	"context"
	"database/sql"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"
)

// --- モック ---

type fakeResult struct {
	rowsAffected int64
}

func (r fakeResult) LastInsertId() (int64, error) { return 0, nil }
func (r fakeResult) RowsAffected() (int64, error) { return r.rowsAffected, nil }

type mockExecutor struct {
	calls int
	query string
	args  []interface{}
	rows  int64
	err   error
}

func (m *mockExecutor) ExecContext(_ context.Context, query string, args ...interface{}) (sql.Result, error) {
	m.calls++
	m.query = query
	m.args = args
	if m.err != nil {
		return nil, m.err
	}
	return fakeResult{rowsAffected: m.rows}, nil
}

type mockRecorder struct {
	completed []int64
}

func (m *mockRecorder) RecordPollsCompleted(count int64) {
	m.completed = append(m.completed, count)
}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// TestSweepJob_Run_CompletesExpiredActivePolls はactiveかつ終了日時経過の投票のみが対象になることを検証する。
func TestSweepJob_Run_CompletesExpiredActivePolls(t *testing.T) {
	var buf bytes.Buffer
	db := &mockExecutor{rows: 3}
	rec := &mockRecorder{}
	job := NewSweepJob(db, rec, newTestLogger(&buf))
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	job.now = func() time.Time { return fixed }

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	for _, want := range []string{"UPDATE polls", "status = 'completed'", "status = 'active'", "end_date < $1"} {
		if !strings.Contains(db.query, want) {
			t.Errorf("query に %q が含まれていない: %s", want, db.query)
		}
	}
	if len(db.args) != 1 || db.args[0] != fixed {
		t.Errorf("args = %v, want [%v]", db.args, fixed)
	}
	if len(rec.completed) != 1 || rec.completed[0] != 3 {
		t.Errorf("recorded = %v, want [3]", rec.completed)
	}
	if !strings.Contains(buf.String(), `"completed_count":3`) {
		t.Errorf("ログに completed_count が記録されていない: %s", buf.String())
	}
}

// TestSweepJob_Run_NoTargets は対象がない場合にメトリクスを記録しないことを検証する。
func TestSweepJob_Run_NoTargets(t *testing.T) {
	var buf bytes.Buffer
	rec := &mockRecorder{}
	job := NewSweepJob(&mockExecutor{}, rec, newTestLogger(&buf))

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("2回目の Run() error = %v", err)
	}
	if len(rec.completed) != 0 {
		t.Errorf("recorded = %v, want none", rec.completed)
	}
}

// TestSweepJob_Run_NilRecorder はrecorderなしでも動作することを検証する。
func TestSweepJob_Run_NilRecorder(t *testing.T) {
	var buf bytes.Buffer
	job := NewSweepJob(&mockExecutor{rows: 1}, nil, newTestLogger(&buf))

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
}

// TestSweepJob_Run_DBError はDBエラーをラップして返しERRORログを出力することを検証する。
func TestSweepJob_Run_DBError(t *testing.T) {
	var buf bytes.Buffer
	job := NewSweepJob(&mockExecutor{err: sql.ErrConnDone}, nil, newTestLogger(&buf))

	err := job.Run(context.Background())
	if err == nil {
		t.Fatal("DBエラー時に Run() はエラーを返すべき")
	}
	if !strings.Contains(err.Error(), sql.ErrConnDone.Error()) {
		t.Errorf("error = %v", err)
	}
	if !strings.Contains(buf.String(), "ERROR") {
		t.Errorf("ERRORログが出力されていない: %s", buf.String())
	}
}

// signalExecutor は実行のたびにチャネルへ通知するExecutor。
type signalExecutor struct {
	ran chan struct{}
}

func (e *signalExecutor) ExecContext(context.Context, string, ...interface{}) (sql.Result, error) {
	select {
	case e.ran <- struct{}{}:
	default:
	}
	return fakeResult{}, nil
}

// TestSweepJob_Start_StopsOnCancel は起動直後に1回実行しキャンセルで停止することを検証する。
func TestSweepJob_Start_StopsOnCancel(t *testing.T) {
	db := &signalExecutor{ran: make(chan struct{}, 1)}
	job := NewSweepJob(db, nil, slog.New(slog.NewJSONHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		job.Start(ctx, time.Hour)
		close(done)
	}()

	select {
	case <-db.ran:
	case <-time.After(2 * time.Second):
		t.Fatal("起動直後の実行が行われなかった")
	}
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start がキャンセル後に停止しなかった")
	}
}
