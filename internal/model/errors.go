package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: validation, authorization, conflict, not_found, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// エラーカテゴリ
const (
	CategoryValidation    = "validation"
	CategoryAuthorization = "authorization"
	CategoryConflict      = "conflict"
	CategoryNotFound      = "not_found"
	CategorySystem        = "system"
)

// 定義済みエラーコード
const (
	// validation
	ErrCodeInvalidWeight      = "INVALID_WEIGHT"
	ErrCodeIncompleteBallot   = "INCOMPLETE_BALLOT"
	ErrCodeTooManySelections  = "TOO_MANY_SELECTIONS"
	ErrCodeInvalidSelection   = "INVALID_SELECTION"
	ErrCodeNotLaunchable      = "NOT_LAUNCHABLE"
	ErrCodeInvalidPoll        = "INVALID_POLL"
	ErrCodeInvalidRequest     = "INVALID_REQUEST"
	ErrCodeUserNotInDirectory = "USER_NOT_IN_DIRECTORY"
	ErrCodeInvalidParticipant = "INVALID_PARTICIPANT"

	// authorization
	ErrCodePollNotOpen          = "POLL_NOT_OPEN"
	ErrCodeNotAParticipant      = "NOT_A_PARTICIPANT"
	ErrCodeInvalidCredentials   = "INVALID_CREDENTIALS"
	ErrCodeInvalidToken         = "INVALID_TOKEN"
	ErrCodeSessionExpired       = "SESSION_EXPIRED"
	ErrCodeVoteChangeNotAllowed = "VOTE_CHANGE_NOT_ALLOWED"
	ErrCodeUnauthorized         = "UNAUTHORIZED"
	ErrCodeForbidden            = "FORBIDDEN"

	// conflict
	ErrCodeDuplicateParticipant = "DUPLICATE_PARTICIPANT"
	ErrCodeDuplicateToken       = "DUPLICATE_TOKEN"
	ErrCodePollNotEditable      = "POLL_NOT_EDITABLE"
	ErrCodeSettingFrozen        = "SETTING_FROZEN"
	ErrCodeInvalidTransition    = "INVALID_TRANSITION"

	// not_found
	ErrCodePollNotFound        = "POLL_NOT_FOUND"
	ErrCodeParticipantNotFound = "PARTICIPANT_NOT_FOUND"
	ErrCodeUserNotFound        = "USER_NOT_FOUND"
	ErrCodeGroupNotFound       = "GROUP_NOT_FOUND"
)

// HasCode はerrがAPIErrorで指定コードを持つかを返す。
func HasCode(err error, code string) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == code
	}
	return false
}

// --- validation ---

// NewInvalidWeightError は票の重みが正でない場合のエラーを生成する。
func NewInvalidWeightError(weight float64) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidWeight,
		Message:  fmt.Sprintf("票の重みは0より大きい値である必要があります: %v", weight),
		Category: CategoryValidation,
		Action:   "正の数値を指定してください。",
	}
}

// NewIncompleteBallotError は選択数が不足している、または未回答の設問がある場合のエラーを生成する。
func NewIncompleteBallotError(questionID string, min, got int) *APIError {
	return &APIError{
		Code:     ErrCodeIncompleteBallot,
		Message:  fmt.Sprintf("設問 %s の選択数が不足しています（最小 %d、選択 %d）", questionID, min, got),
		Category: CategoryValidation,
		Action:   "すべての設問に必要な数の選択肢を選んでください。",
	}
}

// NewTooManySelectionsError は選択数が上限を超えた場合のエラーを生成する。
func NewTooManySelectionsError(questionID string, max, got int) *APIError {
	return &APIError{
		Code:     ErrCodeTooManySelections,
		Message:  fmt.Sprintf("設問 %s の選択数が上限を超えています（最大 %d、選択 %d）", questionID, max, got),
		Category: CategoryValidation,
		Action:   "選択数を減らしてください。",
	}
}

// NewInvalidSelectionError は存在しない設問・選択肢が指定された場合のエラーを生成する。
func NewInvalidSelectionError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidSelection,
		Message:  fmt.Sprintf("無効な選択です: %s", reason),
		Category: CategoryValidation,
		Action:   "投票画面を再読み込みしてから選び直してください。",
	}
}

// NewNotLaunchableError は投票を開始できない場合のエラーを生成する。
// reasonには満たされなかった条件を指定する。
func NewNotLaunchableError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeNotLaunchable,
		Message:  fmt.Sprintf("投票を開始できません: %s", reason),
		Category: CategoryValidation,
		Action:   "日程と設問を確認してから再度開始してください。",
	}
}

// NewInvalidPollError は投票定義が不正な場合のエラーを生成する。
func NewInvalidPollError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidPoll,
		Message:  fmt.Sprintf("投票の内容が不正です: %s", reason),
		Category: CategoryValidation,
		Action:   "入力内容を確認してください。",
	}
}

// NewInvalidRequestError はリクエストボディの解析に失敗した場合のエラーを生成する。
func NewInvalidRequestError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  "リクエストボディの解析に失敗しました。",
		Category: CategoryValidation,
		Action:   "正しいJSON形式でリクエストしてください。",
	}
}

// NewUserNotInDirectoryError は登録ユーザーとして追加しようとしたメールアドレスが
// ユーザーディレクトリに存在しない場合のエラーを生成する。
func NewUserNotInDirectoryError(email string) *APIError {
	return &APIError{
		Code:     ErrCodeUserNotInDirectory,
		Message:  fmt.Sprintf("登録ユーザーが見つかりません: %s", email),
		Category: CategoryValidation,
		Action:   "外部参加者として追加するか、メールアドレスを確認してください。",
	}
}

// NewInvalidParticipantError は参加者の入力値が不正な場合のエラーを生成する。
func NewInvalidParticipantError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidParticipant,
		Message:  fmt.Sprintf("参加者の内容が不正です: %s", reason),
		Category: CategoryValidation,
		Action:   "入力内容を確認してください。",
	}
}

// --- authorization ---

// NewPollNotOpenError は投票が受付中でない場合のエラーを生成する。
func NewPollNotOpenError(status PollStatus) *APIError {
	return &APIError{
		Code:     ErrCodePollNotOpen,
		Message:  fmt.Sprintf("この投票は現在受け付けていません（状態: %s）", status),
		Category: CategoryAuthorization,
		Action:   "投票期間を確認してください。",
	}
}

// NewPollNotStartedError は投票開始日時前の場合のエラーを生成する。
func NewPollNotStartedError() *APIError {
	return &APIError{
		Code:     ErrCodePollNotOpen,
		Message:  "この投票はまだ開始されていません。",
		Category: CategoryAuthorization,
		Action:   "開始日時になってから再度アクセスしてください。",
	}
}

// NewNotAParticipantError は名簿に登録されていない、または未承認の場合のエラーを生成する。
func NewNotAParticipantError() *APIError {
	return &APIError{
		Code:     ErrCodeNotAParticipant,
		Message:  "この投票の参加者として承認されていません。",
		Category: CategoryAuthorization,
		Action:   "投票の管理者に問い合わせてください。",
	}
}

// NewInvalidCredentialsError はメールアドレスまたはパスワードが誤っている場合のエラーを生成する。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "メールアドレスまたはパスワードが正しくありません。",
		Category: CategoryAuthorization,
		Action:   "入力内容を確認してください。",
	}
}

// NewInvalidTokenError はアクセストークンまたはセッショントークンが無効な場合のエラーを生成する。
func NewInvalidTokenError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidToken,
		Message:  "トークンが無効です。",
		Category: CategoryAuthorization,
		Action:   "招待メールのリンクからアクセスし直してください。",
	}
}

// NewSessionExpiredError は投票セッションの有効期限切れエラーを生成する。
func NewSessionExpiredError() *APIError {
	return &APIError{
		Code:     ErrCodeSessionExpired,
		Message:  "投票セッションの有効期限が切れています。",
		Category: CategoryAuthorization,
		Action:   "再度認証してください。",
	}
}

// NewVoteChangeNotAllowedError は再投票が許可されていない場合のエラーを生成する。
func NewVoteChangeNotAllowedError() *APIError {
	return &APIError{
		Code:     ErrCodeVoteChangeNotAllowed,
		Message:  "この投票では投票内容の変更は許可されていません。",
		Category: CategoryAuthorization,
		Action:   "投票済みの内容を確認してください。",
	}
}

// NewUnauthorizedError は認証が必要な場合のエラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: CategoryAuthorization,
		Action:   "ログインしてください。",
	}
}

// NewForbiddenError は操作権限がない場合のエラーを生成する。
func NewForbiddenError(operation string) *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  fmt.Sprintf("この操作を行う権限がありません: %s", operation),
		Category: CategoryAuthorization,
		Action:   "投票の管理者に権限の付与を依頼してください。",
	}
}

// --- conflict ---

// NewDuplicateParticipantError は同一メールアドレスの参加者が既に存在する場合のエラーを生成する。
func NewDuplicateParticipantError(email string) *APIError {
	return &APIError{
		Code:     ErrCodeDuplicateParticipant,
		Message:  fmt.Sprintf("このメールアドレスの参加者は既に登録されています: %s", email),
		Category: CategoryConflict,
		Action:   "既存の参加者を更新してください。",
	}
}

// NewDuplicateTokenError はアクセストークンが他の参加者と重複している場合のエラーを生成する。
func NewDuplicateTokenError() *APIError {
	return &APIError{
		Code:     ErrCodeDuplicateToken,
		Message:  "このアクセストークンは既に使用されています。",
		Category: CategoryConflict,
		Action:   "トークンを空にして自動生成させてください。",
	}
}

// NewPollNotEditableError は現在の状態では編集できない場合のエラーを生成する。
func NewPollNotEditableError(field string, status PollStatus) *APIError {
	return &APIError{
		Code:     ErrCodePollNotEditable,
		Message:  fmt.Sprintf("%s は状態 %s では変更できません", field, status),
		Category: CategoryConflict,
		Action:   "下書き状態の投票でのみ変更できます。",
	}
}

// NewSettingFrozenError は下書き以外で変更できない設定を変更しようとした場合のエラーを生成する。
func NewSettingFrozenError(setting string) *APIError {
	return &APIError{
		Code:     ErrCodeSettingFrozen,
		Message:  fmt.Sprintf("設定 %s は投票開始後に変更できません", setting),
		Category: CategoryConflict,
		Action:   "新しい投票を作成してください。",
	}
}

// NewInvalidTransitionError は許可されない状態遷移のエラーを生成する。
func NewInvalidTransitionError(from, to PollStatus) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidTransition,
		Message:  fmt.Sprintf("状態 %s から %s へは遷移できません", from, to),
		Category: CategoryConflict,
		Action:   "投票の現在の状態を確認してください。",
	}
}

// --- not_found ---

// NewPollNotFoundError は投票が見つからない場合のエラーを生成する。
func NewPollNotFoundError(pollID string) *APIError {
	return &APIError{
		Code:     ErrCodePollNotFound,
		Message:  fmt.Sprintf("指定された投票が見つかりません: %s", pollID),
		Category: CategoryNotFound,
		Action:   "投票IDを確認してください。",
	}
}

// NewParticipantNotFoundError は参加者が見つからない場合のエラーを生成する。
func NewParticipantNotFoundError(participantID string) *APIError {
	return &APIError{
		Code:     ErrCodeParticipantNotFound,
		Message:  fmt.Sprintf("指定された参加者が見つかりません: %s", participantID),
		Category: CategoryNotFound,
		Action:   "参加者IDを確認してください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: CategoryNotFound,
		Action:   "ログインし直してください。",
	}
}

// NewGroupNotFoundError はグループが見つからない場合のエラーを生成する。
func NewGroupNotFoundError(groupID string) *APIError {
	return &APIError{
		Code:     ErrCodeGroupNotFound,
		Message:  fmt.Sprintf("指定されたグループが見つかりません: %s", groupID),
		Category: CategoryNotFound,
		Action:   "グループIDを確認してください。",
	}
}
