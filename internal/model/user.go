package model

import "time"

// UserRole はプラットフォーム上のユーザー権限。
type UserRole string

const (
	UserRoleAdmin    UserRole = "admin"
	UserRoleSubAdmin UserRole = "sub-admin"
	UserRoleUser     UserRole = "user"
)

// CanCreatePolls は投票を作成できるロールかどうかを返す。
func (r UserRole) CanCreatePolls() bool {
	return r == UserRoleAdmin || r == UserRoleSubAdmin
}

// User はユーザーディレクトリに登録されたユーザーを表す。
type User struct {
	ID           string
	Email        string
	Name         string
	PasswordHash string
	Role         UserRole
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Group はユーザーディレクトリ上のグループ。
type Group struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

// Actor は管理APIを呼び出す認証済みユーザー。
type Actor struct {
	UserID string
	Role   UserRole
}

// IsAdmin はプラットフォーム管理者かどうかを返す。
func (a Actor) IsAdmin() bool {
	return a.Role == UserRoleAdmin
}
