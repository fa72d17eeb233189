package app

import (
	"context"
	"log/slog"

	"github.com/hitoshi/tallyman/internal/ballot"
)

// ballotRecorder は投票記録件数の記録先。
type ballotRecorder interface {
	RecordBallot(replaced bool)
}

// ballotObserver は投票記録をログとメトリクスに流すballot.Observerの実装。
type ballotObserver struct {
	logger   *slog.Logger
	recorder ballotRecorder
}

// compile-time interface check
var _ ballot.Observer = (*ballotObserver)(nil)

func newBallotObserver(logger *slog.Logger, recorder ballotRecorder) *ballotObserver {
	return &ballotObserver{logger: logger, recorder: recorder}
}

// BallotRecorded は投票の記録をログに出力し、件数を記録する。
func (o *ballotObserver) BallotRecorded(ctx context.Context, e ballot.Event) {
	o.logger.InfoContext(ctx, "ballot recorded",
		slog.String("poll_id", e.PollID),
		slog.String("participant_id", e.ParticipantID),
		slog.Int("version", e.Version),
		slog.Bool("replaced", e.Replaced),
	)
	if o.recorder != nil {
		o.recorder.RecordBallot(e.Replaced)
	}
}
