// Package model はドメインモデルを定義する。
package model

import "time"

// PollStatus は投票のライフサイクル状態を表す。
type PollStatus string

const (
	PollStatusDraft     PollStatus = "draft"
	PollStatusActive    PollStatus = "active"
	PollStatusCompleted PollStatus = "completed"
	PollStatusCancelled PollStatus = "cancelled"
)

// IsTerminal は終端状態（completed/cancelled）かどうかを返す。
func (s PollStatus) IsTerminal() bool {
	return s == PollStatusCompleted || s == PollStatusCancelled
}

// PollSettings は結果の公開範囲と重み付けに関する設定。
type PollSettings struct {
	ShowParticipantNames bool
	ShowVoteWeights      bool
	ShowVoteCounts       bool
	ShowResultsBeforeEnd bool
	AllowResultsView     bool
	VoteWeightEnabled    bool
	AllowVoteChanges     bool
}

// DefaultPollSettings は新規投票の初期設定を返す。
// AllowResultsView のみデフォルトで有効。
func DefaultPollSettings() PollSettings {
	return PollSettings{AllowResultsView: true}
}

// Poll は投票を表す。
type Poll struct {
	ID             string
	Title          string
	Description    string
	StartDate      *time.Time
	EndDate        *time.Time
	Status         PollStatus
	Settings       PollSettings
	WillSendEmails bool
	ManagerID      string
	Questions      []Question
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// EffectiveStatus は現在時刻を考慮した状態を返す。
// active のまま終了日時を過ぎた投票は completed とみなす。
func (p *Poll) EffectiveStatus(now time.Time) PollStatus {
	if p.Status == PollStatusActive && p.EndDate != nil && now.After(*p.EndDate) {
		return PollStatusCompleted
	}
	return p.Status
}

// HasStarted は開始日時を過ぎているかを返す。
func (p *Poll) HasStarted(now time.Time) bool {
	return p.StartDate == nil || !now.Before(*p.StartDate)
}

// FindQuestion は指定IDの設問を返す。存在しない場合はnilを返す。
func (p *Poll) FindQuestion(questionID string) *Question {
	for i := range p.Questions {
		if p.Questions[i].ID == questionID {
			return &p.Questions[i]
		}
	}
	return nil
}

// Question は投票の設問を表す。
type Question struct {
	ID              string
	PollID          string
	Title           string
	Description     string
	RandomizedOrder bool
	MinSelection    int
	MaxSelection    int
	Position        int
	Options         []Option
}

// HasOption は設問が指定の選択肢を持つかを返す。
func (q *Question) HasOption(optionID string) bool {
	for _, o := range q.Options {
		if o.ID == optionID {
			return true
		}
	}
	return false
}

// Option は設問の選択肢を表す。表示内容はエンジンにとって不透明。
type Option struct {
	ID               string
	QuestionID       string
	Title            string
	ShortDescription string
	LongDescription  string
	Link             string
	Image            string
	Position         int
}

// PollRole は投票に対する管理ロールを表す。
type PollRole string

const (
	PollRoleManager PollRole = "manager"
	PollRoleEditor  PollRole = "editor"
	PollRoleAuditor PollRole = "auditor"
)

// PollStaff は投票に割り当てられた編集者・監査者。
type PollStaff struct {
	PollID    string
	UserID    string
	Role      PollRole
	Name      string
	Email     string
	CreatedAt time.Time
}
