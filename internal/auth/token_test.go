package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hitoshi/tallyman/internal/model"
)

// TestTokenIssuer_IssueAndParse は発行したトークンからユーザーが復元できることを検証する。
func TestTokenIssuer_IssueAndParse(t *testing.T) {
	issuer := NewTokenIssuer("test-secret", time.Hour)

	token, expiresAt, err := issuer.Issue(&model.User{ID: "user-1", Role: model.UserRoleSubAdmin})
	if err != nil {
		t.Fatalf("Issue returned error: %v", err)
	}
	if time.Until(expiresAt) <= 0 {
		t.Errorf("expiresAt %v should be in the future", expiresAt)
	}

	actor, err := issuer.Parse(token)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if actor.UserID != "user-1" || actor.Role != model.UserRoleSubAdmin {
		t.Errorf("actor = %+v, want user-1/sub-admin", actor)
	}
}

// TestTokenIssuer_Parse_WrongSecret は異なる鍵で署名されたトークンを拒否することを検証する。
func TestTokenIssuer_Parse_WrongSecret(t *testing.T) {
	token, _, err := NewTokenIssuer("secret-a", time.Hour).Issue(&model.User{ID: "u"})
	if err != nil {
		t.Fatalf("Issue returned error: %v", err)
	}

	_, err = NewTokenIssuer("secret-b", time.Hour).Parse(token)
	if !model.HasCode(err, model.ErrCodeUnauthorized) {
		t.Fatalf("expected UNAUTHORIZED, got %v", err)
	}
}

// TestTokenIssuer_Parse_Expired は期限切れのトークンがSESSION_EXPIREDになることを検証する。
func TestTokenIssuer_Parse_Expired(t *testing.T) {
	issuer := NewTokenIssuer("secret", time.Minute)
	issuer.now = func() time.Time { return time.Now().Add(-time.Hour) }
	token, _, err := issuer.Issue(&model.User{ID: "u"})
	if err != nil {
		t.Fatalf("Issue returned error: %v", err)
	}

	issuer.now = time.Now
	_, err = issuer.Parse(token)
	if !model.HasCode(err, model.ErrCodeSessionExpired) {
		t.Fatalf("expected SESSION_EXPIRED, got %v", err)
	}
}

// TestTokenIssuer_Parse_RejectsNoneAlgorithm は署名なしトークンを拒否することを検証する。
func TestTokenIssuer_Parse_RejectsNoneAlgorithm(t *testing.T) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   "attacker",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Role: string(model.UserRoleAdmin),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("failed to build unsigned token: %v", err)
	}

	_, err = NewTokenIssuer("secret", time.Hour).Parse(token)
	if !model.HasCode(err, model.ErrCodeUnauthorized) {
		t.Fatalf("expected UNAUTHORIZED, got %v", err)
	}
}

// TestTokenIssuer_Parse_Garbage は形式不正のトークンを拒否することを検証する。
func TestTokenIssuer_Parse_Garbage(t *testing.T) {
	issuer := NewTokenIssuer("secret", time.Hour)

	for _, tok := range []string{"", "   ", "not.a.jwt", "abc"} {
		if _, err := issuer.Parse(tok); !model.HasCode(err, model.ErrCodeUnauthorized) {
			t.Errorf("Parse(%q): expected UNAUTHORIZED, got %v", tok, err)
		}
	}
}

// TestLoginService_Login は認証成功時にトークンが発行されることを検証する。
func TestLoginService_Login(t *testing.T) {
	dir := &mockDirectory{verifyFn: func(ctx context.Context, email, password string) (*model.User, error) {
		if password != "pw" {
			return nil, model.NewInvalidCredentialsError()
		}
		return &model.User{ID: "admin-1", Role: model.UserRoleAdmin}, nil
	}}
	issuer := NewTokenIssuer("secret", time.Hour)
	svc := NewLoginService(dir, issuer)

	res, err := svc.Login(context.Background(), "admin@example.com", "pw")
	if err != nil {
		t.Fatalf("Login returned error: %v", err)
	}
	actor, err := issuer.Parse(res.Token)
	if err != nil {
		t.Fatalf("issued token does not parse: %v", err)
	}
	if !actor.IsAdmin() {
		t.Errorf("actor = %+v, want admin", actor)
	}

	if _, err := svc.Login(context.Background(), "admin@example.com", "bad"); !model.HasCode(err, model.ErrCodeInvalidCredentials) {
		t.Errorf("expected INVALID_CREDENTIALS, got %v", err)
	}
	if _, err := svc.Login(context.Background(), "", ""); !model.HasCode(err, model.ErrCodeInvalidCredentials) {
		t.Errorf("empty: expected INVALID_CREDENTIALS, got %v", err)
	}
}
