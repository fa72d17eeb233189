package handler

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/tallyman/internal/model"
	"github.com/hitoshi/tallyman/internal/tally"
)

// TestMapAPIErrorToHTTPStatus はエラーコードとHTTPステータスの対応を検証する。
func TestMapAPIErrorToHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  *model.APIError
		want int
	}{
		{"invalid weight", model.NewInvalidWeightError(0), http.StatusBadRequest},
		{"incomplete ballot", model.NewIncompleteBallotError("q1", 1, 0), http.StatusBadRequest},
		{"too many selections", model.NewTooManySelectionsError("q1", 1, 2), http.StatusBadRequest},
		{"invalid selection", model.NewInvalidSelectionError("x"), http.StatusBadRequest},
		{"not launchable", model.NewNotLaunchableError("missing dates"), http.StatusUnprocessableEntity},
		{"user not in directory", model.NewUserNotInDirectoryError("a@example.com"), http.StatusBadRequest},
		{"poll not open", model.NewPollNotOpenError(model.PollStatusDraft), http.StatusForbidden},
		{"not a participant", model.NewNotAParticipantError(), http.StatusForbidden},
		{"vote change not allowed", model.NewVoteChangeNotAllowedError(), http.StatusForbidden},
		{"forbidden", model.NewForbiddenError("edit"), http.StatusForbidden},
		{"invalid credentials", model.NewInvalidCredentialsError(), http.StatusUnauthorized},
		{"invalid token", model.NewInvalidTokenError(), http.StatusUnauthorized},
		{"session expired", model.NewSessionExpiredError(), http.StatusUnauthorized},
		{"unauthorized", model.NewUnauthorizedError(), http.StatusUnauthorized},
		{"duplicate participant", model.NewDuplicateParticipantError("a@example.com"), http.StatusConflict},
		{"duplicate token", model.NewDuplicateTokenError(), http.StatusConflict},
		{"poll not editable", model.NewPollNotEditableError("ballot", model.PollStatusActive), http.StatusConflict},
		{"setting frozen", model.NewSettingFrozenError("voteWeightEnabled"), http.StatusConflict},
		{"invalid transition", model.NewInvalidTransitionError(model.PollStatusCompleted, model.PollStatusActive), http.StatusConflict},
		{"poll not found", model.NewPollNotFoundError("p1"), http.StatusNotFound},
		{"participant not found", model.NewParticipantNotFoundError("x"), http.StatusNotFound},
		{"group not found", model.NewGroupNotFoundError("g1"), http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := mapAPIErrorToHTTPStatus(tt.err); got != tt.want {
				t.Errorf("status = %d, want %d", got, tt.want)
			}
		})
	}
}

// TestHandleServiceError_WrappedAPIError はラップされたAPIErrorも判定されることを検証する。
func TestHandleServiceError_WrappedAPIError(t *testing.T) {
	w := httptest.NewRecorder()
	handleServiceError(w, fmt.Errorf("context: %w", model.NewPollNotFoundError("p1")))

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
	body := parseAPIErrorResponse(t, w)
	if body["code"] != model.ErrCodePollNotFound {
		t.Errorf("code = %q, want %q", body["code"], model.ErrCodePollNotFound)
	}
	if body["category"] != model.CategoryNotFound {
		t.Errorf("category = %q, want %q", body["category"], model.CategoryNotFound)
	}
}

// TestHandleServiceError_InconsistentBallot は集計の整合性違反が500で内部情報を返さないことを検証する。
func TestHandleServiceError_InconsistentBallot(t *testing.T) {
	w := httptest.NewRecorder()
	handleServiceError(w, fmt.Errorf("ballot b1: %w", tally.ErrInconsistentBallot))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
	body := parseAPIErrorResponse(t, w)
	if body["code"] != "INTERNAL_ERROR" {
		t.Errorf("code = %q, want INTERNAL_ERROR", body["code"])
	}
	if body["category"] != model.CategorySystem {
		t.Errorf("category = %q, want %q", body["category"], model.CategorySystem)
	}
}

// TestHandleServiceError_PlainError は通常のエラーが500になることを検証する。
func TestHandleServiceError_PlainError(t *testing.T) {
	w := httptest.NewRecorder()
	handleServiceError(w, errors.New("connection refused"))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
	if got := w.Header().Get("Content-Type"); got != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", got)
	}
}
