package model

import "time"

// ParticipantStatus は参加者の承認状態を表す。
type ParticipantStatus string

const (
	ParticipantStatusPending  ParticipantStatus = "pending"
	ParticipantStatusApproved ParticipantStatus = "approved"
	ParticipantStatusRejected ParticipantStatus = "rejected"
)

// IsValid は定義済みの状態かどうかを返す。
func (s ParticipantStatus) IsValid() bool {
	switch s {
	case ParticipantStatusPending, ParticipantStatusApproved, ParticipantStatusRejected:
		return true
	}
	return false
}

// UserTypeMode は参加者追加時の登録ユーザー判定方法。
// 追加時に一度だけ解決され、以後 Participant.IsUser として固定される。
type UserTypeMode int

const (
	// UserTypeAuto はユーザーディレクトリをメールアドレスで照会して判定する。
	UserTypeAuto UserTypeMode = iota
	// UserTypeForceUser は登録ユーザーとして扱う。ディレクトリに存在しない場合はエラー。
	UserTypeForceUser
	// UserTypeForceExternal は外部参加者として扱い、アクセストークンを発行する。
	UserTypeForceExternal
)

// Participant は投票の参加者（名簿エントリ）を表す。
// (PollID, Email) は大文字小文字を区別せず一意。
type Participant struct {
	ID              string
	PollID          string
	UserID          string // IsUser=true の場合のみ
	Name            string
	Email           string
	IsUser          bool
	Token           string // IsUser=false の場合のみ
	VoteWeight      float64
	Status          ParticipantStatus
	HasVoted        bool
	VotedAt         *time.Time
	LastEmailSentAt *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// CanVote は投票可能な状態かどうかを返す。
func (p *Participant) CanVote() bool {
	return p.Status == ParticipantStatusApproved
}
