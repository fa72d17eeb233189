package tally

import (
	"github.com/hitoshi/tallyman/internal/model"
	"github.com/hitoshi/tallyman/internal/poll"
)

// Viewer は結果を閲覧する立場。
type Viewer int

const (
	// ViewerParticipant は投票セッションまたは登録ユーザーとして閲覧する参加者。
	ViewerParticipant Viewer = iota
	ViewerAuditor
	ViewerEditor
	ViewerManager
	ViewerAdmin
)

func (v Viewer) String() string {
	switch v {
	case ViewerAuditor:
		return "auditor"
	case ViewerEditor:
		return "editor"
	case ViewerManager:
		return "manager"
	case ViewerAdmin:
		return "admin"
	}
	return "participant"
}

// Permissions は結果の公開範囲を表すフラグ。1リクエストにつき1回だけ導出し、整形処理に渡す。
type Permissions struct {
	CanViewFullResults      bool `json:"canViewFullResults"`
	CanViewVoteCounts       bool `json:"canViewVoteCounts"`
	CanViewResultsBreakdown bool `json:"canViewResultsBreakdown"`
	CanViewParticipantNames bool `json:"canViewParticipantNames"`
	CanViewVoteWeights      bool `json:"canViewVoteWeights"`
}

// DerivePermissions は閲覧者の立場・投票設定・投票状態から公開範囲を導出する。
// status には終了日時を考慮した状態を渡すこと。
func DerivePermissions(viewer Viewer, settings model.PollSettings, status model.PollStatus) Permissions {
	switch viewer {
	case ViewerAdmin, ViewerManager, ViewerEditor:
		return Permissions{
			CanViewFullResults:      true,
			CanViewVoteCounts:       true,
			CanViewResultsBreakdown: true,
			CanViewParticipantNames: true,
			CanViewVoteWeights:      true,
		}
	case ViewerAuditor:
		return Permissions{
			CanViewVoteCounts:       true,
			CanViewResultsBreakdown: true,
			CanViewParticipantNames: true,
			CanViewVoteWeights:      settings.ShowVoteWeights,
		}
	}

	completed := status == model.PollStatusCompleted
	return Permissions{
		CanViewVoteCounts:       settings.ShowVoteCounts || completed,
		CanViewResultsBreakdown: settings.AllowResultsView && (settings.ShowResultsBeforeEnd || completed),
		CanViewParticipantNames: settings.ShowParticipantNames,
		CanViewVoteWeights:      settings.ShowVoteWeights,
	}
}

// ViewerFor は管理ロールから閲覧者の立場を決める。複数ある場合は最も強いものを採用する。
// 結果を閲覧できるロールがない場合は false を返す。
func ViewerFor(access *poll.Access) (Viewer, bool) {
	switch {
	case access.Actor.IsAdmin():
		return ViewerAdmin, true
	case access.HasRole(model.PollRoleManager):
		return ViewerManager, true
	case access.HasRole(model.PollRoleEditor):
		return ViewerEditor, true
	case access.HasRole(model.PollRoleAuditor):
		return ViewerAuditor, true
	}
	return ViewerParticipant, false
}
