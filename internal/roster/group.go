package roster

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hitoshi/tallyman/internal/model"
)

// GroupResult はグループ単位の名簿操作の集計結果。
// 重複による追加見送りは失敗ではなくSkippedとして数える。
type GroupResult struct {
	Total   int
	Added   int
	Updated int
	Removed int
	Skipped int
	Errors  []GroupMemberError
}

// GroupMemberError はグループメンバー1件分の失敗内容。
type GroupMemberError struct {
	Email string
	Code  string
	Msg   string
}

func (r *GroupResult) fail(email string, err error) bool {
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	r.Errors = append(r.Errors, GroupMemberError{Email: email, Code: apiErr.Code, Msg: apiErr.Message})
	return true
}

// AddGroup はグループの全メンバーを登録ユーザーとして名簿に追加する。
// 各メンバーは単独の追加と同じ検証を受け、1件の失敗で全体を中断しない。
func (s *Service) AddGroup(ctx context.Context, pollID, groupID string, voteWeight *float64) (*GroupResult, error) {
	if _, err := resolveWeight(voteWeight); err != nil {
		return nil, err
	}

	members, err := s.directory.ListGroupMembers(ctx, groupID)
	if err != nil {
		return nil, err
	}

	result := &GroupResult{Total: len(members)}
	for _, m := range members {
		_, err := s.add(ctx, pollID, AddInput{Email: m.Email, VoteWeight: voteWeight}, m)
		switch {
		case err == nil:
			result.Added++
		case model.HasCode(err, model.ErrCodeDuplicateParticipant):
			result.Skipped++
		case result.fail(m.Email, err):
		default:
			return nil, err
		}
	}

	slog.Info("グループを名簿に追加しました",
		slog.String("poll_id", pollID),
		slog.String("group_id", groupID),
		slog.Int("added", result.Added),
		slog.Int("skipped", result.Skipped),
		slog.Int("errors", len(result.Errors)),
	)
	return result, nil
}

// UpdateGroup は名簿に登録済みのグループメンバーの重みを一括更新する。
func (s *Service) UpdateGroup(ctx context.Context, pollID, groupID string, voteWeight float64) (*GroupResult, error) {
	if _, err := resolveWeight(&voteWeight); err != nil {
		return nil, err
	}

	members, err := s.directory.ListGroupMembers(ctx, groupID)
	if err != nil {
		return nil, err
	}

	result := &GroupResult{Total: len(members)}
	for _, m := range members {
		p, err := s.LookupByEmail(ctx, pollID, m.Email)
		if err != nil {
			return nil, err
		}
		if p == nil {
			result.Skipped++
			continue
		}
		w := voteWeight
		if _, err := s.UpdateParticipant(ctx, pollID, p.ID, UpdateInput{VoteWeight: &w}); err != nil {
			if result.fail(m.Email, err) {
				continue
			}
			return nil, err
		}
		result.Updated++
	}

	slog.Info("グループの重みを更新しました",
		slog.String("poll_id", pollID),
		slog.String("group_id", groupID),
		slog.Int("updated", result.Updated),
	)
	return result, nil
}

// RemoveGroup は名簿に登録済みのグループメンバーを削除する。
func (s *Service) RemoveGroup(ctx context.Context, pollID, groupID string) (*GroupResult, error) {
	members, err := s.directory.ListGroupMembers(ctx, groupID)
	if err != nil {
		return nil, err
	}

	result := &GroupResult{Total: len(members)}
	for _, m := range members {
		p, err := s.LookupByEmail(ctx, pollID, m.Email)
		if err != nil {
			return nil, err
		}
		if p == nil {
			result.Skipped++
			continue
		}
		if err := s.RemoveParticipant(ctx, pollID, p.ID); err != nil {
			if result.fail(m.Email, err) {
				continue
			}
			return nil, err
		}
		result.Removed++
	}

	slog.Info("グループを名簿から削除しました",
		slog.String("poll_id", pollID),
		slog.String("group_id", groupID),
		slog.Int("removed", result.Removed),
	)
	return result, nil
}
