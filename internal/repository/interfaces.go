// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/tallyman/internal/model"
)

// リポジトリ層が返す判定用エラー。サービス層でAPIErrorに変換する。
var (
	ErrNotFound            = errors.New("record not found")
	ErrDuplicateEmail      = errors.New("duplicate participant email")
	ErrDuplicateToken      = errors.New("duplicate participant token")
	ErrStatusConflict      = errors.New("poll status changed concurrently")
	ErrBallotAlreadyExists = errors.New("ballot already exists")
	ErrNotApproved         = errors.New("participant is not approved")
)

// PollClosedError は投票内容の記録時点で投票が受付中でなかったことを表す。
type PollClosedError struct {
	Status model.PollStatus
}

func (e *PollClosedError) Error() string {
	return fmt.Sprintf("poll is not open: %s", e.Status)
}

// PollRepository は投票定義の永続化インターフェース。
type PollRepository interface {
	// FindByID は指定IDの投票を設問・選択肢付きで取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Poll, error)

	// Create は投票を設問・選択肢と同一トランザクションで作成する。
	Create(ctx context.Context, poll *model.Poll) error

	// UpdateDetails はタイトル・説明・メール送信フラグ・設定を更新する。
	UpdateDetails(ctx context.Context, poll *model.Poll) error

	// UpdateSchedule は開始・終了日時を更新する。
	// 投票がdraftでない場合はErrStatusConflictを返す。
	UpdateSchedule(ctx context.Context, pollID string, start, end *time.Time) error

	// ReplaceQuestions は設問と選択肢を丸ごと置き換える。
	// 投票行をFOR UPDATEでロックし、draftでない場合はErrStatusConflictを返す。
	ReplaceQuestions(ctx context.Context, pollID string, questions []model.Question) error

	// TransitionStatus は現在の状態がfromの場合のみtoへ更新する。
	// 状態が一致しない場合はErrStatusConflictを返す。
	TransitionStatus(ctx context.Context, pollID string, from, to model.PollStatus) error

	// Delete は投票を削除する。設問・参加者・投票内容はCASCADE削除される。
	Delete(ctx context.Context, id string) error

	// ListAll は全投票を作成日時の降順で返す（設問は含まない）。
	ListAll(ctx context.Context) ([]*model.Poll, error)

	// ListForUser は管理者・編集者・監査者として関与する投票を返す（設問は含まない）。
	ListForUser(ctx context.Context, userID string) ([]*model.Poll, error)
}

// PollStaffRepository は投票ごとの編集者・監査者割り当ての永続化インターフェース。
type PollStaffRepository interface {
	// ListByPoll は投票に割り当てられた編集者・監査者をユーザー情報付きで返す。
	ListByPoll(ctx context.Context, pollID string) ([]model.PollStaff, error)

	// RolesOf は指定ユーザーの投票に対するロール一覧を返す。
	RolesOf(ctx context.Context, pollID, userID string) ([]model.PollRole, error)

	// ReplaceRole は指定ロールの割り当てを丸ごと置き換える。
	ReplaceRole(ctx context.Context, pollID string, role model.PollRole, userIDs []string) error
}

// ParticipantRepository は名簿（参加者）の永続化インターフェース。
// HasVoted / VotedAt は投票内容の有無から導出される。
type ParticipantRepository interface {
	// FindByID は指定IDの参加者を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, pollID, id string) (*model.Participant, error)

	// FindByEmail はメールアドレス（大文字小文字を区別しない）で参加者を取得する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, pollID, email string) (*model.Participant, error)

	// FindByToken はアクセストークンで参加者を取得する。見つからない場合はnilを返す。
	FindByToken(ctx context.Context, pollID, token string) (*model.Participant, error)

	// FindByUserID は登録ユーザーIDで参加者を取得する。見つからない場合はnilを返す。
	FindByUserID(ctx context.Context, pollID, userID string) (*model.Participant, error)

	// ListByPoll は投票の参加者一覧を登録順に返す。
	ListByPoll(ctx context.Context, pollID string) ([]*model.Participant, error)

	// Create は参加者を作成する。
	// メールアドレスが重複する場合はErrDuplicateEmail、トークンが重複する場合はErrDuplicateTokenを返す。
	Create(ctx context.Context, participant *model.Participant) error

	// Update は名前・重み・トークン・状態・メール送信日時を更新する。
	// 参加者が存在しない場合はErrNotFoundを返す。
	Update(ctx context.Context, participant *model.Participant) error

	// Delete は参加者を削除する。投票内容と投票セッションはCASCADE削除される。
	// 参加者が存在しない場合はErrNotFoundを返す。
	Delete(ctx context.Context, pollID, id string) error
}

// BallotRepository は投票内容の永続化インターフェース。
type BallotRepository interface {
	// Record は投票内容を1トランザクションで記録する。
	// 参加者行をFOR UPDATEでロックして同一参加者の書き込みを直列化する。
	// 投票行はFOR SHAREでロックし、受付中でなければ*PollClosedErrorを、
	// 参加者が承認済みでなければErrNotApprovedを返す。
	// 既存の投票内容がありallowReplaceがfalseの場合はErrBallotAlreadyExistsを返す。
	// 置き換えた場合はreplaced=trueを返す。
	Record(ctx context.Context, ballot *model.Ballot, allowReplace bool) (replaced bool, err error)

	// FindByParticipant は参加者の投票内容を取得する。見つからない場合はnilを返す。
	FindByParticipant(ctx context.Context, participantID string) (*model.Ballot, error)

	// LoadSnapshot は集計用に参加者と投票内容を同一スナップショットから読み込む。
	LoadSnapshot(ctx context.Context, pollID string) (*TallySnapshot, error)
}

// TallySnapshot は集計時点の名簿と投票内容。
type TallySnapshot struct {
	Participants []*model.Participant
	Ballots      []*model.Ballot
}

// VotingSessionRepository は投票セッションの永続化インターフェース。
type VotingSessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.VotingSession) error
	// FindByID は指定IDのセッションを取得する。見つからない場合はnilを返す。
	// 有効期限の判定は呼び出し側で行う。
	FindByID(ctx context.Context, id string) (*model.VotingSession, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteByParticipantID は指定参加者の全セッションを削除する。
	DeleteByParticipantID(ctx context.Context, participantID string) error
}

// UserRepository はユーザーディレクトリの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail はメールアドレス（大文字小文字を区別しない）でユーザーを取得する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// Create はユーザーを作成する。メールアドレスが重複する場合はErrDuplicateEmailを返す。
	Create(ctx context.Context, user *model.User) error
}

// GroupRepository はユーザーグループの参照インターフェース。
type GroupRepository interface {
	// FindByID は指定IDのグループを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Group, error)

	// ListMembers はグループに所属するユーザーを返す。
	ListMembers(ctx context.Context, groupID string) ([]*model.User, error)
}

// TxBeginner はトランザクション開始用のインターフェース。
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}
