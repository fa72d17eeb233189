package model

import "time"

// Selections は設問IDから選択された選択肢IDの集合へのマップ。
type Selections map[string][]string

// Ballot は参加者の投票内容。参加者ごとに1件で、再投票時は丸ごと置き換えられる。
type Ballot struct {
	ID            string
	PollID        string
	ParticipantID string
	Version       int
	Selections    Selections
	SubmittedAt   time.Time
}

// VotingSession は (投票, 参加者) に紐づく短命の投票セッション。
// ReadOnly のセッションは結果閲覧と投票内容の確認のみ可能。
type VotingSession struct {
	ID            string
	PollID        string
	ParticipantID string
	ReadOnly      bool
	ExpiresAt     time.Time
	CreatedAt     time.Time
}

// IsExpired は有効期限を過ぎているかを返す。
func (s *VotingSession) IsExpired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
