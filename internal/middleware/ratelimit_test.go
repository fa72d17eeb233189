package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/tallyman/internal/model"
)

func testLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		GeneralRate:     1,
		GeneralBurst:    2,
		AccessRate:      0.5,
		AccessBurst:     2,
		CleanupInterval: time.Minute,
	}
}

func requestAs(userID string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/polls", nil)
	return req.WithContext(ContextWithActor(req.Context(), model.Actor{UserID: userID, Role: model.UserRoleUser}))
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

// TestGeneralMiddleware_LimitsPerUser はユーザーごとにバースト超過で429になることを検証する。
func TestGeneralMiddleware_LimitsPerUser(t *testing.T) {
	rl := NewRateLimiter(testLimiterConfig())
	defer rl.Stop()
	handler := rl.GeneralMiddleware()(okHandler())

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, requestAs("user-a"))
		if w.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i, w.Code)
		}
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, requestAs("user-a"))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
	if got := w.Header().Get("Retry-After"); got != "1" {
		t.Errorf("Retry-After = %q, want 1", got)
	}
	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body.Code != "RATE_LIMITED" {
		t.Errorf("code = %q, want RATE_LIMITED", body.Code)
	}

	// 他のユーザーには影響しない
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, requestAs("user-b"))
	if w.Code != http.StatusOK {
		t.Errorf("other user status = %d, want 200", w.Code)
	}
	if rl.GeneralLimiterCount() != 2 {
		t.Errorf("GeneralLimiterCount = %d, want 2", rl.GeneralLimiterCount())
	}
}

// TestGeneralMiddleware_NoActor_Returns401 は認証情報がない場合に401を返すことを検証する。
func TestGeneralMiddleware_NoActor_Returns401(t *testing.T) {
	rl := NewRateLimiter(testLimiterConfig())
	defer rl.Stop()

	w := httptest.NewRecorder()
	rl.GeneralMiddleware()(okHandler()).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/polls", nil))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

// TestAccessMiddleware_LimitsPerClientAndPoll はクライアントと投票の組ごとに制限されることを検証する。
func TestAccessMiddleware_LimitsPerClientAndPoll(t *testing.T) {
	rl := NewRateLimiter(testLimiterConfig())
	defer rl.Stop()

	r := chi.NewRouter()
	r.With(rl.AccessMiddleware()).Post("/poll/{id}/validate-access", okHandler().ServeHTTP)

	send := func(pollID, remote string) int {
		req := httptest.NewRequest(http.MethodPost, "/poll/"+pollID+"/validate-access", nil)
		req.RemoteAddr = remote
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}

	for i := 0; i < 2; i++ {
		if code := send("p1", "192.0.2.1:1000"); code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i, code)
		}
	}
	// ポートが変わっても同じクライアントとして扱う
	if code := send("p1", "192.0.2.1:2000"); code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", code)
	}
	if code := send("p2", "192.0.2.1:1000"); code != http.StatusOK {
		t.Errorf("other poll status = %d, want 200", code)
	}
	if code := send("p1", "198.51.100.7:1000"); code != http.StatusOK {
		t.Errorf("other client status = %d, want 200", code)
	}
}

// TestAccessMiddleware_RetryAfter はRetry-Afterがレートから算出されることを検証する。
func TestAccessMiddleware_RetryAfter(t *testing.T) {
	cfg := testLimiterConfig()
	cfg.AccessBurst = 1
	rl := NewRateLimiter(cfg)
	defer rl.Stop()
	handler := rl.AccessMiddleware()(okHandler())

	var last *httptest.ResponseRecorder
	for i := 0; i < 2; i++ {
		last = httptest.NewRecorder()
		handler.ServeHTTP(last, httptest.NewRequest(http.MethodPost, "/poll/p1/vote", nil))
	}
	if last.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", last.Code)
	}
	if got, _ := strconv.Atoi(last.Header().Get("Retry-After")); got != 2 {
		t.Errorf("Retry-After = %d, want 2", got)
	}
}

// TestRateLimiter_CleanupRemovesExpiredEntries は古いエントリがクリーンアップで削除されることを検証する。
func TestRateLimiter_CleanupRemovesExpiredEntries(t *testing.T) {
	rl := NewRateLimiter(testLimiterConfig())
	defer rl.Stop()

	rl.general.get("stale")
	rl.access.get("192.0.2.1|p1")
	rl.general.get("fresh")

	rl.general.mu.Lock()
	rl.general.limiters["stale"].lastAccess = time.Now().Add(-time.Hour)
	rl.general.mu.Unlock()
	rl.access.mu.Lock()
	rl.access.limiters["192.0.2.1|p1"].lastAccess = time.Now().Add(-time.Hour)
	rl.access.mu.Unlock()

	rl.cleanup()

	if rl.GeneralLimiterCount() != 1 || rl.AccessLimiterCount() != 0 {
		t.Errorf("counts = general %d, access %d, want 1 and 0", rl.GeneralLimiterCount(), rl.AccessLimiterCount())
	}
}

// TestNewRateLimiterConfig は1分あたりの回数からレートが算出されることを検証する。
func TestNewRateLimiterConfig(t *testing.T) {
	cfg := DefaultRateLimiterConfig()
	if cfg.GeneralRate != 2 || cfg.GeneralBurst != 120 {
		t.Errorf("general = %v/%d, want 2/120", cfg.GeneralRate, cfg.GeneralBurst)
	}
	if cfg.AccessBurst != 20 {
		t.Errorf("AccessBurst = %d, want 20", cfg.AccessBurst)
	}
}
