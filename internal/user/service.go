// Package user はユーザーディレクトリ（認証情報の照合・メールアドレス照会・グループ展開）を提供する。
package user

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/tallyman/internal/model"
	"github.com/hitoshi/tallyman/internal/repository"
)

// minPasswordLength はディレクトリに登録するパスワードの最小長。
const minPasswordLength = 8

// dummyHash はユーザーが存在しない場合にも照合時間を揃えるためのハッシュ。
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("tallyman-dummy-password"), bcrypt.DefaultCost)

// Service はユーザーディレクトリのサービス層。
// すべての照会はtimeoutで打ち切られ、再試行は行わない。
type Service struct {
	userRepo  repository.UserRepository
	groupRepo repository.GroupRepository
	timeout   time.Duration
	cost      int
}

// NewService はServiceの新しいインスタンスを生成する。
// timeoutが0以下の場合は打ち切りを行わない。
func NewService(userRepo repository.UserRepository, groupRepo repository.GroupRepository, timeout time.Duration) *Service {
	return &Service{
		userRepo:  userRepo,
		groupRepo: groupRepo,
		timeout:   timeout,
		cost:      bcrypt.DefaultCost,
	}
}

func (s *Service) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

// VerifyCredentials はメールアドレスとパスワードを照合し、一致したユーザーを返す。
// ユーザーが存在しない場合もパスワード不一致の場合もInvalidCredentialsを返す。
func (s *Service) VerifyCredentials(ctx context.Context, email, password string) (*model.User, error) {
	ctx, cancel := s.bounded(ctx)
	defer cancel()

	u, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if u == nil || u.PasswordHash == "" {
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return nil, model.NewInvalidCredentialsError()
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, model.NewInvalidCredentialsError()
	}
	return u, nil
}

// LookupByEmail はメールアドレスでユーザーを照会する。見つからない場合はnilを返す。
func (s *Service) LookupByEmail(ctx context.Context, email string) (*model.User, error) {
	ctx, cancel := s.bounded(ctx)
	defer cancel()

	u, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの照会に失敗しました: %w", err)
	}
	return u, nil
}

// FindByID は指定IDのユーザーを返す。見つからない場合はUserNotFoundを返す。
func (s *Service) FindByID(ctx context.Context, userID string) (*model.User, error) {
	ctx, cancel := s.bounded(ctx)
	defer cancel()

	u, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if u == nil {
		return nil, model.NewUserNotFoundError()
	}
	return u, nil
}

// ListGroupMembers はグループに所属するユーザーを返す。
func (s *Service) ListGroupMembers(ctx context.Context, groupID string) ([]*model.User, error) {
	ctx, cancel := s.bounded(ctx)
	defer cancel()

	g, err := s.groupRepo.FindByID(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("グループの取得に失敗しました: %w", err)
	}
	if g == nil {
		return nil, model.NewGroupNotFoundError(groupID)
	}

	members, err := s.groupRepo.ListMembers(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("グループメンバーの取得に失敗しました: %w", err)
	}
	return members, nil
}

// CreateUser はディレクトリにユーザーを登録する。create-adminコマンドからのみ使用する。
func (s *Service) CreateUser(ctx context.Context, email, name, password string, role model.UserRole) (*model.User, error) {
	email = strings.TrimSpace(email)
	if email == "" || !strings.Contains(email, "@") {
		return nil, model.NewInvalidParticipantError("メールアドレスの形式が正しくありません")
	}
	if len(password) < minPasswordLength {
		return nil, model.NewInvalidRequestError()
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("パスワードのハッシュ化に失敗しました: %w", err)
	}

	if strings.TrimSpace(name) == "" {
		name = email
	}
	now := time.Now()
	u := &model.User{
		ID:           uuid.New().String(),
		Email:        email,
		Name:         name,
		PasswordHash: string(hash),
		Role:         role,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.userRepo.Create(ctx, u); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return nil, fmt.Errorf("ユーザーはすでに登録されています: %w", err)
		}
		return nil, fmt.Errorf("ユーザーの作成に失敗しました: %w", err)
	}

	slog.Info("ユーザーを登録しました",
		slog.String("user_id", u.ID),
		slog.String("role", string(u.Role)),
	)
	return u, nil
}
