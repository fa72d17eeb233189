// Package roster は投票ごとの参加者名簿を管理する。
package roster

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/tallyman/internal/model"
	"github.com/hitoshi/tallyman/internal/repository"
)

// tokenBytes はアクセストークンの乱数バイト数。
const tokenBytes = 24

// 生成トークンが衝突した場合の再生成回数。
const maxTokenAttempts = 3

// Directory は名簿が参照するユーザーディレクトリのインターフェース。
type Directory interface {
	LookupByEmail(ctx context.Context, email string) (*model.User, error)
	ListGroupMembers(ctx context.Context, groupID string) ([]*model.User, error)
}

// SessionRevoker は参加者の投票セッションを失効させるインターフェース。
type SessionRevoker interface {
	DeleteByParticipantID(ctx context.Context, participantID string) error
}

// AddInput は参加者追加の入力。
type AddInput struct {
	Email      string
	Name       string
	VoteWeight *float64
	Token      string
	Mode       model.UserTypeMode
	Status     model.ParticipantStatus
}

// AddResult は参加者追加の結果。
// SystemNameUsed は空の名前の代わりにディレクトリ上の名前を使ったことを示す。
type AddResult struct {
	Participant    *model.Participant
	SystemNameUsed bool
}

// UpdateInput は参加者更新の入力。nilの項目は変更しない。
// 外部参加者のTokenに空文字を指定した場合はトークンを再発行する。
type UpdateInput struct {
	Name            *string
	VoteWeight      *float64
	Token           *string
	Status          *model.ParticipantStatus
	LastEmailSentAt *time.Time
}

// Service は名簿のサービス層。
type Service struct {
	participantRepo repository.ParticipantRepository
	directory       Directory
	sessions        SessionRevoker
	now             func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(participantRepo repository.ParticipantRepository, directory Directory, sessions SessionRevoker) *Service {
	return &Service{
		participantRepo: participantRepo,
		directory:       directory,
		sessions:        sessions,
		now:             time.Now,
	}
}

// AddParticipant は投票に参加者を追加する。
// 登録ユーザーかどうかはModeに従って追加時に一度だけ解決し、以後は再判定しない。
func (s *Service) AddParticipant(ctx context.Context, pollID string, in AddInput) (*AddResult, error) {
	email, err := normalizeAddress(in.Email)
	if err != nil {
		return nil, err
	}
	in.Email = email

	var u *model.User
	if in.Mode != model.UserTypeForceExternal {
		u, err = s.directory.LookupByEmail(ctx, email)
		if err != nil {
			return nil, fmt.Errorf("ユーザーディレクトリの照会に失敗しました: %w", err)
		}
		if u == nil && in.Mode == model.UserTypeForceUser {
			return nil, model.NewUserNotInDirectoryError(email)
		}
	}

	return s.add(ctx, pollID, in, u)
}

// add は解決済みのユーザー情報（外部参加者の場合はnil）で参加者を作成する。
func (s *Service) add(ctx context.Context, pollID string, in AddInput, u *model.User) (*AddResult, error) {
	weight, err := resolveWeight(in.VoteWeight)
	if err != nil {
		return nil, err
	}

	status := in.Status
	if status == "" {
		status = model.ParticipantStatusApproved
	}
	if !status.IsValid() {
		return nil, model.NewInvalidParticipantError("参加者の状態が正しくありません")
	}

	existing, err := s.participantRepo.FindByEmail(ctx, pollID, in.Email)
	if err != nil {
		return nil, fmt.Errorf("参加者の取得に失敗しました: %w", err)
	}
	if existing != nil {
		return nil, model.NewDuplicateParticipantError(in.Email)
	}

	now := s.now()
	p := &model.Participant{
		ID:         uuid.New().String(),
		PollID:     pollID,
		Name:       strings.TrimSpace(in.Name),
		Email:      in.Email,
		VoteWeight: weight,
		Status:     status,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	result := &AddResult{Participant: p}
	if u != nil {
		p.IsUser = true
		p.UserID = u.ID
		if p.Name == "" && u.Name != "" {
			p.Name = u.Name
			result.SystemNameUsed = true
		}
	} else if p.Name == "" {
		p.Name = in.Email
	}

	if err := s.create(ctx, p, strings.TrimSpace(in.Token)); err != nil {
		return nil, err
	}

	slog.Info("参加者を追加しました",
		slog.String("poll_id", pollID),
		slog.String("participant_id", p.ID),
		slog.Bool("is_user", p.IsUser),
	)
	return result, nil
}

// create は参加者を保存する。外部参加者でトークン未指定の場合は生成し、衝突時は再生成する。
func (s *Service) create(ctx context.Context, p *model.Participant, token string) error {
	generated := false
	if !p.IsUser {
		if token == "" {
			t, err := GenerateToken()
			if err != nil {
				return err
			}
			token = t
			generated = true
		}
		p.Token = token
	}

	for attempt := 1; ; attempt++ {
		err := s.participantRepo.Create(ctx, p)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, repository.ErrDuplicateEmail):
			return model.NewDuplicateParticipantError(p.Email)
		case errors.Is(err, repository.ErrDuplicateToken):
			if !generated || attempt >= maxTokenAttempts {
				return model.NewDuplicateTokenError()
			}
			t, genErr := GenerateToken()
			if genErr != nil {
				return genErr
			}
			p.Token = t
		default:
			return fmt.Errorf("参加者の作成に失敗しました: %w", err)
		}
	}
}

// UpdateParticipant は参加者の名前・重み・トークン・状態を更新する。
func (s *Service) UpdateParticipant(ctx context.Context, pollID, participantID string, in UpdateInput) (*model.Participant, error) {
	p, err := s.LookupByID(ctx, pollID, participantID)
	if err != nil {
		return nil, err
	}

	if in.VoteWeight != nil {
		weight, err := resolveWeight(in.VoteWeight)
		if err != nil {
			return nil, err
		}
		p.VoteWeight = weight
	}
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			return nil, model.NewInvalidParticipantError("名前を空にすることはできません")
		}
		p.Name = name
	}
	if in.Status != nil {
		if !in.Status.IsValid() {
			return nil, model.NewInvalidParticipantError("参加者の状態が正しくありません")
		}
		p.Status = *in.Status
	}
	if in.LastEmailSentAt != nil {
		t := *in.LastEmailSentAt
		p.LastEmailSentAt = &t
	}
	generated := false
	if in.Token != nil {
		if p.IsUser {
			return nil, model.NewInvalidParticipantError("登録ユーザーの参加者にはトークンを設定できません")
		}
		token := strings.TrimSpace(*in.Token)
		if token == "" {
			if token, err = GenerateToken(); err != nil {
				return nil, err
			}
			generated = true
		}
		p.Token = token
	}
	p.UpdatedAt = s.now()

	// トークンを変更する場合、旧トークンで発行済みのセッションを先に失効させる。
	// 失効に失敗した場合は新しいトークンを保存しない
	if in.Token != nil && s.sessions != nil {
		if err := s.sessions.DeleteByParticipantID(ctx, p.ID); err != nil {
			return nil, fmt.Errorf("投票セッションの失効に失敗しました（参加者は更新していません）: %w", err)
		}
	}

	if err := s.participantRepo.Update(ctx, p); err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			return nil, model.NewParticipantNotFoundError(participantID)
		case errors.Is(err, repository.ErrDuplicateToken):
			return nil, model.NewDuplicateTokenError()
		}
		return nil, fmt.Errorf("参加者の更新に失敗しました: %w", err)
	}

	slog.Info("参加者を更新しました",
		slog.String("poll_id", pollID),
		slog.String("participant_id", p.ID),
		slog.Bool("token_regenerated", generated),
	)
	return p, nil
}

// RemoveParticipant は参加者を削除する。投票済みの場合は投票内容も破棄され、元に戻せない。
func (s *Service) RemoveParticipant(ctx context.Context, pollID, participantID string) error {
	p, err := s.LookupByID(ctx, pollID, participantID)
	if err != nil {
		return err
	}

	if s.sessions != nil {
		if err := s.sessions.DeleteByParticipantID(ctx, p.ID); err != nil {
			return fmt.Errorf("投票セッションの失効に失敗しました: %w", err)
		}
	}

	if err := s.participantRepo.Delete(ctx, pollID, p.ID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.NewParticipantNotFoundError(participantID)
		}
		return fmt.Errorf("参加者の削除に失敗しました: %w", err)
	}

	slog.Info("参加者を削除しました",
		slog.String("poll_id", pollID),
		slog.String("participant_id", p.ID),
		slog.Bool("had_voted", p.HasVoted),
	)
	return nil
}

// LookupByEmail はメールアドレスで参加者を検索する。見つからない場合はnilを返す。
func (s *Service) LookupByEmail(ctx context.Context, pollID, email string) (*model.Participant, error) {
	p, err := s.participantRepo.FindByEmail(ctx, pollID, strings.TrimSpace(email))
	if err != nil {
		return nil, fmt.Errorf("参加者の取得に失敗しました: %w", err)
	}
	return p, nil
}

// LookupByID は参加者を取得する。見つからない場合はPARTICIPANT_NOT_FOUNDを返す。
func (s *Service) LookupByID(ctx context.Context, pollID, participantID string) (*model.Participant, error) {
	p, err := s.participantRepo.FindByID(ctx, pollID, participantID)
	if err != nil {
		return nil, fmt.Errorf("参加者の取得に失敗しました: %w", err)
	}
	if p == nil {
		return nil, model.NewParticipantNotFoundError(participantID)
	}
	return p, nil
}

// LookupByUserID は登録ユーザーIDで参加者を検索する。見つからない場合はnilを返す。
func (s *Service) LookupByUserID(ctx context.Context, pollID, userID string) (*model.Participant, error) {
	p, err := s.participantRepo.FindByUserID(ctx, pollID, userID)
	if err != nil {
		return nil, fmt.Errorf("参加者の取得に失敗しました: %w", err)
	}
	return p, nil
}

// LookupByToken はアクセストークンで参加者を検索する。見つからない場合はnilを返す。
func (s *Service) LookupByToken(ctx context.Context, pollID, token string) (*model.Participant, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, nil
	}
	p, err := s.participantRepo.FindByToken(ctx, pollID, token)
	if err != nil {
		return nil, fmt.Errorf("参加者の取得に失敗しました: %w", err)
	}
	return p, nil
}

// ValidateToken は参加者のアクセストークンを照合する。
// 参加者が存在しない場合や登録ユーザーの場合もINVALID_TOKENを返す。
func (s *Service) ValidateToken(ctx context.Context, pollID, participantID, token string) (*model.Participant, error) {
	p, err := s.participantRepo.FindByID(ctx, pollID, participantID)
	if err != nil {
		return nil, fmt.Errorf("参加者の取得に失敗しました: %w", err)
	}
	if p == nil || p.IsUser || p.Token == "" {
		return nil, model.NewInvalidTokenError()
	}
	if subtle.ConstantTimeCompare([]byte(p.Token), []byte(token)) != 1 {
		return nil, model.NewInvalidTokenError()
	}
	return p, nil
}

// List は投票の参加者一覧を返す。
func (s *Service) List(ctx context.Context, pollID string) ([]*model.Participant, error) {
	participants, err := s.participantRepo.ListByPoll(ctx, pollID)
	if err != nil {
		return nil, fmt.Errorf("参加者一覧の取得に失敗しました: %w", err)
	}
	return participants, nil
}

// GenerateToken は外部参加者用の推測困難なアクセストークンを生成する。
func GenerateToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("アクセストークンの生成に失敗しました: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func resolveWeight(w *float64) (float64, error) {
	if w == nil {
		return 1.0, nil
	}
	if math.IsNaN(*w) || math.IsInf(*w, 0) || *w <= 0 {
		return 0, model.NewInvalidWeightError(*w)
	}
	return *w, nil
}

func normalizeAddress(email string) (string, error) {
	email = strings.TrimSpace(email)
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", model.NewInvalidParticipantError("メールアドレスの形式が正しくありません")
	}
	return email, nil
}
