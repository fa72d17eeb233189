// Package ballot は投票内容の検証と記録を提供する。
package ballot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/tallyman/internal/auth"
	"github.com/hitoshi/tallyman/internal/model"
	"github.com/hitoshi/tallyman/internal/repository"
)

// SessionResolver は投票セッションから投票と参加者を解決するインターフェース。
type SessionResolver interface {
	ResolveSession(ctx context.Context, pollID, sessionID string) (*auth.Resolved, error)
}

// Event は投票内容が記録されたことを表す。コミット後に通知される。
type Event struct {
	PollID        string
	ParticipantID string
	Version       int
	Replaced      bool
	SubmittedAt   time.Time
}

// Observer は投票記録の通知を受け取るインターフェース。
// 通知の失敗が記録済みの投票に影響しないよう、戻り値は持たない。
type Observer interface {
	BallotRecorded(ctx context.Context, e Event)
}

// Receipt は投票の記録結果。
type Receipt struct {
	Ballot   *model.Ballot
	Replaced bool
}

// Status は参加者の投票状況。
type Status struct {
	Participant *model.Participant
	Ballot      *model.Ballot
}

// Service は投票内容の記録を行う。
type Service struct {
	sessions   SessionResolver
	ballotRepo repository.BallotRepository
	observer   Observer
	now        func() time.Time
}

// NewService はServiceを生成する。
func NewService(sessions SessionResolver, ballotRepo repository.BallotRepository) *Service {
	return &Service{
		sessions:   sessions,
		ballotRepo: ballotRepo,
		now:        time.Now,
	}
}

// SetObserver は投票記録の通知先を設定する。
func (s *Service) SetObserver(o Observer) {
	s.observer = o
}

// Submit は投票セッションの参加者の投票内容を検証して記録する。
// 再投票時は既存の投票内容を丸ごと置き換える。毎回すべての設問を検証し直す。
func (s *Service) Submit(ctx context.Context, pollID, sessionID string, selections model.Selections) (*Receipt, error) {
	r, err := s.sessions.ResolveSession(ctx, pollID, sessionID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if r.Session.ReadOnly || r.Poll.Status != model.PollStatusActive {
		return nil, model.NewPollNotOpenError(r.Poll.Status)
	}
	if !r.Poll.HasStarted(now) {
		return nil, model.NewPollNotStartedError()
	}

	normalized, err := Validate(r.Poll, selections)
	if err != nil {
		return nil, err
	}

	allowReplace := r.Poll.Settings.AllowVoteChanges
	if r.Participant.HasVoted && !allowReplace {
		return nil, model.NewVoteChangeNotAllowedError()
	}

	b := &model.Ballot{
		ID:            uuid.New().String(),
		PollID:        pollID,
		ParticipantID: r.Participant.ID,
		Selections:    normalized,
		SubmittedAt:   now,
	}
	replaced, err := s.ballotRepo.Record(ctx, b, allowReplace)
	if err != nil {
		var closed *repository.PollClosedError
		switch {
		case errors.Is(err, repository.ErrBallotAlreadyExists):
			return nil, model.NewVoteChangeNotAllowedError()
		case errors.As(err, &closed):
			return nil, model.NewPollNotOpenError(closed.Status)
		case errors.Is(err, repository.ErrNotFound), errors.Is(err, repository.ErrNotApproved):
			return nil, model.NewNotAParticipantError()
		}
		return nil, fmt.Errorf("投票内容の記録に失敗しました: %w", err)
	}

	slog.Info("ballot recorded",
		slog.String("poll_id", pollID),
		slog.String("participant_id", b.ParticipantID),
		slog.Int("version", b.Version),
		slog.Bool("replaced", replaced),
	)
	if s.observer != nil {
		s.observer.BallotRecorded(ctx, Event{
			PollID:        pollID,
			ParticipantID: b.ParticipantID,
			Version:       b.Version,
			Replaced:      replaced,
			SubmittedAt:   b.SubmittedAt,
		})
	}

	return &Receipt{Ballot: b, Replaced: replaced}, nil
}

// Current は投票セッションの参加者の投票状況と現在の投票内容を返す。
// 閲覧専用のセッションでも参照できる。未投票の場合、Ballotはnilになる。
func (s *Service) Current(ctx context.Context, pollID, sessionID string) (*Status, error) {
	r, err := s.sessions.ResolveSession(ctx, pollID, sessionID)
	if err != nil {
		return nil, err
	}

	b, err := s.ballotRepo.FindByParticipant(ctx, r.Participant.ID)
	if err != nil {
		return nil, fmt.Errorf("投票内容の取得に失敗しました: %w", err)
	}
	return &Status{Participant: r.Participant, Ballot: b}, nil
}
