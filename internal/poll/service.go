// Package poll は投票のライフサイクル（draft → active → completed/cancelled）と
// 管理ロールの解決を提供する。
package poll

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/tallyman/internal/model"
	"github.com/hitoshi/tallyman/internal/repository"
	"github.com/hitoshi/tallyman/internal/security"
)

// UserFinder は編集者・監査者の割り当て時にユーザーの存在を確認するインターフェース。
type UserFinder interface {
	FindByID(ctx context.Context, userID string) (*model.User, error)
}

// TransitionObserver は状態遷移の通知を受け取るインターフェース。
type TransitionObserver interface {
	ObserveTransition(from, to model.PollStatus)
}

// OptionInput は選択肢の入力。
type OptionInput struct {
	Title            string
	ShortDescription string
	LongDescription  string
	Link             string
	Image            string
}

// QuestionInput は設問の入力。選択数が0の場合は1として扱う。
type QuestionInput struct {
	Title           string
	Description     string
	RandomizedOrder bool
	MinSelection    int
	MaxSelection    int
	Options         []OptionInput
}

// CreateInput は投票作成の入力。Settingsがnilの場合は初期設定を使用する。
type CreateInput struct {
	Title          string
	Description    string
	StartDate      *time.Time
	EndDate        *time.Time
	Settings       *model.PollSettings
	WillSendEmails bool
	Questions      []QuestionInput
}

// DetailsInput は投票の基本情報更新の入力。nilの項目は変更しない。
type DetailsInput struct {
	Title          *string
	Description    *string
	WillSendEmails *bool
}

// Service は投票ライフサイクルのサービス層。
type Service struct {
	pollRepo  repository.PollRepository
	staffRepo repository.PollStaffRepository
	users     UserFinder
	sanitizer security.TextSanitizer
	observer  TransitionObserver
	now       func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	pollRepo repository.PollRepository,
	staffRepo repository.PollStaffRepository,
	users UserFinder,
	sanitizer security.TextSanitizer,
) *Service {
	return &Service{
		pollRepo:  pollRepo,
		staffRepo: staffRepo,
		users:     users,
		sanitizer: sanitizer,
		now:       time.Now,
	}
}

// SetTransitionObserver は状態遷移の通知先を設定する。
func (s *Service) SetTransitionObserver(o TransitionObserver) {
	s.observer = o
}

// load は保存されている状態のまま投票を取得する。
func (s *Service) load(ctx context.Context, pollID string) (*model.Poll, error) {
	p, err := s.pollRepo.FindByID(ctx, pollID)
	if err != nil {
		return nil, fmt.Errorf("投票の取得に失敗しました: %w", err)
	}
	if p == nil {
		return nil, model.NewPollNotFoundError(pollID)
	}
	return p, nil
}

// Get は投票を取得する。終了日時を過ぎたactiveの投票はcompletedとして返す。
func (s *Service) Get(ctx context.Context, pollID string) (*model.Poll, error) {
	p, err := s.load(ctx, pollID)
	if err != nil {
		return nil, err
	}
	p.Status = p.EffectiveStatus(s.now())
	return p, nil
}

// List はユーザーが関与する投票の一覧を返す。管理者には全投票を返す。
func (s *Service) List(ctx context.Context, actor model.Actor) ([]*model.Poll, error) {
	var (
		polls []*model.Poll
		err   error
	)
	if actor.IsAdmin() {
		polls, err = s.pollRepo.ListAll(ctx)
	} else {
		polls, err = s.pollRepo.ListForUser(ctx, actor.UserID)
	}
	if err != nil {
		return nil, fmt.Errorf("投票一覧の取得に失敗しました: %w", err)
	}

	now := s.now()
	for _, p := range polls {
		p.Status = p.EffectiveStatus(now)
	}
	return polls, nil
}

// Create はdraft状態の投票を作成する。作成者が管理者（manager）になる。
func (s *Service) Create(ctx context.Context, actor model.Actor, in CreateInput) (*model.Poll, error) {
	if !actor.Role.CanCreatePolls() {
		return nil, model.NewForbiddenError("投票の作成")
	}

	title := s.sanitizer.PlainText(in.Title)
	if title == "" {
		return nil, model.NewInvalidPollError("タイトルは必須です")
	}
	if err := validateSchedule(in.StartDate, in.EndDate); err != nil {
		return nil, err
	}

	pollID := uuid.New().String()
	questions, err := s.buildQuestions(pollID, in.Questions)
	if err != nil {
		return nil, err
	}

	settings := model.DefaultPollSettings()
	if in.Settings != nil {
		settings = *in.Settings
	}

	now := s.now()
	p := &model.Poll{
		ID:             pollID,
		Title:          title,
		Description:    s.sanitizer.RichText(in.Description),
		StartDate:      in.StartDate,
		EndDate:        in.EndDate,
		Status:         model.PollStatusDraft,
		Settings:       settings,
		WillSendEmails: in.WillSendEmails,
		ManagerID:      actor.UserID,
		Questions:      questions,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.pollRepo.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("投票の作成に失敗しました: %w", err)
	}

	slog.Info("投票を作成しました",
		slog.String("poll_id", p.ID),
		slog.String("manager_id", actor.UserID),
		slog.Int("questions", len(questions)),
	)
	return p, nil
}

// UpdateDetails はタイトル・説明・メール送信フラグを更新する。cancelledの投票は変更できない。
func (s *Service) UpdateDetails(ctx context.Context, pollID string, in DetailsInput) (*model.Poll, error) {
	p, err := s.Get(ctx, pollID)
	if err != nil {
		return nil, err
	}
	if p.Status == model.PollStatusCancelled {
		return nil, model.NewPollNotEditableError("details", p.Status)
	}

	if in.Title != nil {
		title := s.sanitizer.PlainText(*in.Title)
		if title == "" {
			return nil, model.NewInvalidPollError("タイトルは必須です")
		}
		p.Title = title
	}
	if in.Description != nil {
		p.Description = s.sanitizer.RichText(*in.Description)
	}
	if in.WillSendEmails != nil {
		p.WillSendEmails = *in.WillSendEmails
	}

	if err := s.saveDetails(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// ToggleEmails はメール送信フラグを反転する。
func (s *Service) ToggleEmails(ctx context.Context, pollID string) (*model.Poll, error) {
	p, err := s.Get(ctx, pollID)
	if err != nil {
		return nil, err
	}
	v := !p.WillSendEmails
	return s.UpdateDetails(ctx, pollID, DetailsInput{WillSendEmails: &v})
}

// UpdateSettings は公開範囲・重み付けの設定を更新する。
// cancelled以外で変更できるが、voteWeightEnabledはdraftを離れた後は変更できない。
func (s *Service) UpdateSettings(ctx context.Context, pollID string, settings model.PollSettings) (*model.Poll, error) {
	p, err := s.Get(ctx, pollID)
	if err != nil {
		return nil, err
	}
	if p.Status == model.PollStatusCancelled {
		return nil, model.NewPollNotEditableError("settings", p.Status)
	}
	if p.Status != model.PollStatusDraft && settings.VoteWeightEnabled != p.Settings.VoteWeightEnabled {
		return nil, model.NewSettingFrozenError("voteWeightEnabled")
	}

	p.Settings = settings
	if err := s.saveDetails(ctx, p); err != nil {
		return nil, err
	}

	slog.Info("投票設定を更新しました",
		slog.String("poll_id", p.ID),
		slog.String("status", string(p.Status)),
	)
	return p, nil
}

func (s *Service) saveDetails(ctx context.Context, p *model.Poll) error {
	if err := s.pollRepo.UpdateDetails(ctx, p); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.NewPollNotFoundError(p.ID)
		}
		return fmt.Errorf("投票の更新に失敗しました: %w", err)
	}
	p.UpdatedAt = s.now()
	return nil
}

// ReplaceBallot は設問と選択肢を丸ごと置き換える。draftの投票でのみ可能。
// 公開後に選択肢を削除すると既存の投票内容が参照できなくなるため、公開後は一切変更できない。
func (s *Service) ReplaceBallot(ctx context.Context, pollID string, in []QuestionInput) (*model.Poll, error) {
	p, err := s.Get(ctx, pollID)
	if err != nil {
		return nil, err
	}
	if p.Status != model.PollStatusDraft {
		return nil, model.NewPollNotEditableError("ballot", p.Status)
	}

	questions, err := s.buildQuestions(pollID, in)
	if err != nil {
		return nil, err
	}

	if err := s.pollRepo.ReplaceQuestions(ctx, pollID, questions); err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			return nil, model.NewPollNotFoundError(pollID)
		case errors.Is(err, repository.ErrStatusConflict):
			return nil, model.NewPollNotEditableError("ballot", model.PollStatusActive)
		}
		return nil, fmt.Errorf("設問の更新に失敗しました: %w", err)
	}
	p.Questions = questions

	slog.Info("設問を更新しました",
		slog.String("poll_id", pollID),
		slog.Int("questions", len(questions)),
	)
	return p, nil
}

// UpdateSchedule は開始・終了日時を更新する。draftの投票でのみ可能。
func (s *Service) UpdateSchedule(ctx context.Context, pollID string, start, end *time.Time) (*model.Poll, error) {
	p, err := s.Get(ctx, pollID)
	if err != nil {
		return nil, err
	}
	if p.Status != model.PollStatusDraft {
		return nil, model.NewPollNotEditableError("schedule", p.Status)
	}
	if err := validateSchedule(start, end); err != nil {
		return nil, err
	}

	if err := s.pollRepo.UpdateSchedule(ctx, pollID, start, end); err != nil {
		if errors.Is(err, repository.ErrStatusConflict) {
			return nil, model.NewPollNotEditableError("schedule", model.PollStatusActive)
		}
		return nil, fmt.Errorf("日程の更新に失敗しました: %w", err)
	}
	p.StartDate = start
	p.EndDate = end
	return p, nil
}

// Launch はdraftの投票を公開（active）する。公開は一方向で、draftには戻せない。
func (s *Service) Launch(ctx context.Context, pollID string) (*model.Poll, error) {
	p, err := s.load(ctx, pollID)
	if err != nil {
		return nil, err
	}
	if p.Status != model.PollStatusDraft {
		return nil, model.NewInvalidTransitionError(p.EffectiveStatus(s.now()), model.PollStatusActive)
	}
	if err := CheckLaunchable(p, s.now()); err != nil {
		return nil, err
	}

	if err := s.transition(ctx, p, model.PollStatusActive); err != nil {
		return nil, err
	}
	return p, nil
}

// Complete はactiveの投票を手動で終了する。
// 終了日時を過ぎて自動的にcompletedとみなされている投票も、保存上の状態を確定させる。
func (s *Service) Complete(ctx context.Context, pollID string) (*model.Poll, error) {
	p, err := s.load(ctx, pollID)
	if err != nil {
		return nil, err
	}
	if p.Status != model.PollStatusActive {
		return nil, model.NewInvalidTransitionError(p.Status, model.PollStatusCompleted)
	}

	if err := s.transition(ctx, p, model.PollStatusCompleted); err != nil {
		return nil, err
	}
	return p, nil
}

// Cancel はdraftまたはactiveの投票を中止する。
func (s *Service) Cancel(ctx context.Context, pollID string) (*model.Poll, error) {
	p, err := s.load(ctx, pollID)
	if err != nil {
		return nil, err
	}
	effective := p.EffectiveStatus(s.now())
	if effective != model.PollStatusDraft && effective != model.PollStatusActive {
		return nil, model.NewInvalidTransitionError(effective, model.PollStatusCancelled)
	}

	if err := s.transition(ctx, p, model.PollStatusCancelled); err != nil {
		return nil, err
	}
	return p, nil
}

// transition は保存上の状態を比較しながら遷移させる。
// 同時に別の遷移が行われた場合はINVALID_TRANSITIONを返す。
func (s *Service) transition(ctx context.Context, p *model.Poll, to model.PollStatus) error {
	from := p.Status
	if err := s.pollRepo.TransitionStatus(ctx, p.ID, from, to); err != nil {
		switch {
		case errors.Is(err, repository.ErrStatusConflict):
			return model.NewInvalidTransitionError(from, to)
		case errors.Is(err, repository.ErrNotFound):
			return model.NewPollNotFoundError(p.ID)
		}
		return fmt.Errorf("投票状態の更新に失敗しました: %w", err)
	}
	p.Status = to
	p.UpdatedAt = s.now()

	if s.observer != nil {
		s.observer.ObserveTransition(from, to)
	}
	slog.Info("投票の状態を変更しました",
		slog.String("poll_id", p.ID),
		slog.String("from", string(from)),
		slog.String("to", string(to)),
	)
	return nil
}

// Delete は投票を削除する。設問・参加者・投票内容もすべて削除される。
func (s *Service) Delete(ctx context.Context, pollID string) error {
	if err := s.pollRepo.Delete(ctx, pollID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.NewPollNotFoundError(pollID)
		}
		return fmt.Errorf("投票の削除に失敗しました: %w", err)
	}

	slog.Info("投票を削除しました", slog.String("poll_id", pollID))
	return nil
}

// ResolveAccess はユーザーと投票の関係（ロールと操作権限）を解決する。
func (s *Service) ResolveAccess(ctx context.Context, pollID string, actor model.Actor) (*Access, error) {
	p, err := s.Get(ctx, pollID)
	if err != nil {
		return nil, err
	}

	roles, err := s.staffRepo.RolesOf(ctx, pollID, actor.UserID)
	if err != nil {
		return nil, fmt.Errorf("投票ロールの取得に失敗しました: %w", err)
	}

	return &Access{
		Poll:         p,
		Actor:        actor,
		Roles:        roles,
		Capabilities: CapabilitiesFor(actor.Role, roles),
	}, nil
}

// Authorize は指定の操作権限を確認し、許可されていればAccessを返す。
func (s *Service) Authorize(ctx context.Context, pollID string, actor model.Actor, capability Capability) (*Access, error) {
	access, err := s.ResolveAccess(ctx, pollID, actor)
	if err != nil {
		return nil, err
	}
	if !access.Capabilities.Allows(capability) {
		return nil, model.NewForbiddenError(string(capability))
	}
	return access, nil
}

// ListStaff は投票に割り当てられた編集者・監査者を返す。
func (s *Service) ListStaff(ctx context.Context, pollID string) ([]model.PollStaff, error) {
	staff, err := s.staffRepo.ListByPoll(ctx, pollID)
	if err != nil {
		return nil, fmt.Errorf("担当者一覧の取得に失敗しました: %w", err)
	}
	return staff, nil
}

// AssignStaff は編集者または監査者の割り当てを置き換える。
func (s *Service) AssignStaff(ctx context.Context, pollID string, role model.PollRole, userIDs []string) error {
	if role != model.PollRoleEditor && role != model.PollRoleAuditor {
		return model.NewInvalidPollError(fmt.Sprintf("割り当てできないロールです: %s", role))
	}
	if _, err := s.load(ctx, pollID); err != nil {
		return err
	}

	seen := make(map[string]bool, len(userIDs))
	unique := make([]string, 0, len(userIDs))
	for _, id := range userIDs {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		if _, err := s.users.FindByID(ctx, id); err != nil {
			return err
		}
		unique = append(unique, id)
	}

	if err := s.staffRepo.ReplaceRole(ctx, pollID, role, unique); err != nil {
		return fmt.Errorf("担当者の更新に失敗しました: %w", err)
	}

	slog.Info("担当者を更新しました",
		slog.String("poll_id", pollID),
		slog.String("role", string(role)),
		slog.Int("count", len(unique)),
	)
	return nil
}

// buildQuestions は入力から設問と選択肢を組み立て、IDを採番する。
// 選択肢数に関する条件は公開時に検証する。
func (s *Service) buildQuestions(pollID string, in []QuestionInput) ([]model.Question, error) {
	questions := make([]model.Question, 0, len(in))
	for qi, qin := range in {
		title := s.sanitizer.PlainText(qin.Title)
		if title == "" {
			return nil, model.NewInvalidPollError(fmt.Sprintf("設問 %d のタイトルは必須です", qi+1))
		}
		minSel, maxSel := qin.MinSelection, qin.MaxSelection
		if minSel == 0 {
			minSel = 1
		}
		if maxSel == 0 {
			maxSel = minSel
		}
		if minSel < 1 || maxSel < minSel {
			return nil, model.NewInvalidPollError(fmt.Sprintf("設問 %d の選択数は 1 ≤ 最小 ≤ 最大 である必要があります", qi+1))
		}

		q := model.Question{
			ID:              uuid.New().String(),
			PollID:          pollID,
			Title:           title,
			Description:     s.sanitizer.RichText(qin.Description),
			RandomizedOrder: qin.RandomizedOrder,
			MinSelection:    minSel,
			MaxSelection:    maxSel,
			Position:        qi,
		}
		for oi, oin := range qin.Options {
			otitle := s.sanitizer.PlainText(oin.Title)
			if otitle == "" {
				return nil, model.NewInvalidPollError(fmt.Sprintf("設問 %d の選択肢 %d のタイトルは必須です", qi+1, oi+1))
			}
			q.Options = append(q.Options, model.Option{
				ID:               uuid.New().String(),
				QuestionID:       q.ID,
				Title:            otitle,
				ShortDescription: s.sanitizer.PlainText(oin.ShortDescription),
				LongDescription:  s.sanitizer.RichText(oin.LongDescription),
				Link:             s.sanitizer.URL(oin.Link),
				Image:            s.sanitizer.URL(oin.Image),
				Position:         oi,
			})
		}
		questions = append(questions, q)
	}
	return questions, nil
}

func validateSchedule(start, end *time.Time) error {
	if start != nil && end != nil && !end.After(*start) {
		return model.NewInvalidPollError("終了日時は開始日時より後である必要があります")
	}
	return nil
}
