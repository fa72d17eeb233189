package auth

import (
	"context"
	"log/slog"
	"time"

	"github.com/hitoshi/tallyman/internal/model"
)

// CredentialVerifier はユーザーディレクトリの認証情報照合インターフェース。
type CredentialVerifier interface {
	VerifyCredentials(ctx context.Context, email, password string) (*model.User, error)
}

// LoginResult は管理APIへのログイン結果。
type LoginResult struct {
	Token     string
	ExpiresAt time.Time
	User      *model.User
}

// LoginService は管理APIのログインを提供する。
type LoginService struct {
	directory CredentialVerifier
	issuer    *TokenIssuer
}

// NewLoginService はLoginServiceを生成する。
func NewLoginService(directory CredentialVerifier, issuer *TokenIssuer) *LoginService {
	return &LoginService{directory: directory, issuer: issuer}
}

// Login はメールアドレスとパスワードを照合し、アクセストークンを発行する。
func (s *LoginService) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	if email == "" || password == "" {
		return nil, model.NewInvalidCredentialsError()
	}

	u, err := s.directory.VerifyCredentials(ctx, email, password)
	if err != nil {
		return nil, err
	}

	token, expiresAt, err := s.issuer.Issue(u)
	if err != nil {
		return nil, err
	}

	slog.Info("user logged in",
		slog.String("user_id", u.ID),
		slog.String("role", string(u.Role)),
	)
	return &LoginResult{Token: token, ExpiresAt: expiresAt, User: u}, nil
}
