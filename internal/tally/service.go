package tally

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/tallyman/internal/auth"
	"github.com/hitoshi/tallyman/internal/model"
	"github.com/hitoshi/tallyman/internal/poll"
	"github.com/hitoshi/tallyman/internal/repository"
)

// SnapshotLoader は集計用のスナップショットを読み込むインターフェース。
type SnapshotLoader interface {
	LoadSnapshot(ctx context.Context, pollID string) (*repository.TallySnapshot, error)
}

// SessionResolver は投票セッションを解決するインターフェース。
type SessionResolver interface {
	ResolveSession(ctx context.Context, pollID, sessionID string) (*auth.Resolved, error)
}

// AccessResolver は管理ユーザーと投票の関係を解決するインターフェース。
type AccessResolver interface {
	ResolveAccess(ctx context.Context, pollID string, actor model.Actor) (*poll.Access, error)
	ListStaff(ctx context.Context, pollID string) ([]model.PollStaff, error)
}

// ParticipantFinder は登録ユーザーの参加者を検索するインターフェース。
type ParticipantFinder interface {
	LookupByUserID(ctx context.Context, pollID, userID string) (*model.Participant, error)
}

// UserFinder はユーザーディレクトリを参照するインターフェース。
type UserFinder interface {
	FindByID(ctx context.Context, userID string) (*model.User, error)
}

// LatencyObserver は集計処理の所要時間を受け取るインターフェース。
type LatencyObserver interface {
	ObserveTally(viewer string, d time.Duration)
}

// Service は閲覧者に応じた投票結果を返す。
type Service struct {
	snapshots SnapshotLoader
	sessions  SessionResolver
	access    AccessResolver
	roster    ParticipantFinder
	users     UserFinder
	observer  LatencyObserver
}

// NewService はServiceを生成する。
func NewService(
	snapshots SnapshotLoader,
	sessions SessionResolver,
	access AccessResolver,
	roster ParticipantFinder,
	users UserFinder,
) *Service {
	return &Service{
		snapshots: snapshots,
		sessions:  sessions,
		access:    access,
		roster:    roster,
		users:     users,
	}
}

// SetObserver は集計時間の通知先を設定する。
func (s *Service) SetObserver(o LatencyObserver) {
	s.observer = o
}

// ResultsForSession は投票セッションの参加者として結果を返す。
// 閲覧専用のセッションでも参照できる。
func (s *Service) ResultsForSession(ctx context.Context, pollID, sessionID string) (*Results, error) {
	r, err := s.sessions.ResolveSession(ctx, pollID, sessionID)
	if err != nil {
		return nil, err
	}
	return s.results(ctx, r.Poll, ViewerParticipant)
}

// ResultsForUser は管理ユーザーとして結果を返す。
// 結果を閲覧できる管理ロールがなくても、承認済みの登録ユーザー参加者であれば参加者として閲覧できる。
func (s *Service) ResultsForUser(ctx context.Context, pollID string, actor model.Actor) (*Results, error) {
	access, err := s.access.ResolveAccess(ctx, pollID, actor)
	if err != nil {
		return nil, err
	}

	viewer, ok := ViewerFor(access)
	if !ok {
		p, err := s.roster.LookupByUserID(ctx, pollID, actor.UserID)
		if err != nil {
			return nil, err
		}
		if p == nil || !p.CanVote() {
			return nil, model.NewForbiddenError("view results")
		}
	}
	return s.results(ctx, access.Poll, viewer)
}

func (s *Service) results(ctx context.Context, p *model.Poll, viewer Viewer) (*Results, error) {
	start := time.Now()

	snap, err := s.snapshots.LoadSnapshot(ctx, p.ID)
	if err != nil {
		return nil, fmt.Errorf("集計データの読み込みに失敗しました: %w", err)
	}

	computed, err := Compute(p, snap.Participants, snap.Ballots)
	if err != nil {
		slog.Error("tally aborted",
			slog.String("poll_id", p.ID),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	perms := DerivePermissions(viewer, p.Settings, p.Status)
	staff, err := s.staff(ctx, p, perms)
	if err != nil {
		return nil, err
	}

	out := Shape(p, snap.Participants, computed, perms, staff)
	if s.observer != nil {
		s.observer.ObserveTally(viewer.String(), time.Since(start))
	}
	return out, nil
}

// staff は結果に添える管理者と、全結果を閲覧できる場合のみ監査者を取得する。
func (s *Service) staff(ctx context.Context, p *model.Poll, perms Permissions) (Staff, error) {
	var staff Staff
	if p.ManagerID != "" {
		u, err := s.users.FindByID(ctx, p.ManagerID)
		if err != nil && !model.HasCode(err, model.ErrCodeUserNotFound) {
			return staff, fmt.Errorf("管理者の取得に失敗しました: %w", err)
		}
		staff.Manager = u
	}
	if !perms.CanViewFullResults {
		return staff, nil
	}

	all, err := s.access.ListStaff(ctx, p.ID)
	if err != nil {
		return staff, err
	}
	for _, m := range all {
		if m.Role == model.PollRoleAuditor {
			staff.Auditors = append(staff.Auditors, m)
		}
	}
	return staff, nil
}
