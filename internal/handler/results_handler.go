package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/tallyman/internal/model"
	"github.com/hitoshi/tallyman/internal/tally"
)

// ResultsServiceInterface は閲覧者に応じた結果を返すサービスインターフェース。
type ResultsServiceInterface interface {
	ResultsForSession(ctx context.Context, pollID, sessionID string) (*tally.Results, error)
	ResultsForUser(ctx context.Context, pollID string, actor model.Actor) (*tally.Results, error)
}

// ResultsHandler は集計結果のHTTPハンドラー。
// 公開範囲の判定はサービス側で行い、ここでは閲覧者の識別だけを行う。
type ResultsHandler struct {
	service ResultsServiceInterface
}

// NewResultsHandler はResultsHandlerを生成する。
func NewResultsHandler(service ResultsServiceInterface) *ResultsHandler {
	return &ResultsHandler{service: service}
}

// ForSession は投票セッションの参加者に公開範囲内の結果を返す。
// GET /poll/{id}/results/{sessionToken}
func (h *ResultsHandler) ForSession(w http.ResponseWriter, r *http.Request) {
	results, err := h.service.ResultsForSession(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "sessionToken"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

// ForUser は管理ロールに応じた公開範囲で結果を返す。
// GET /api/polls/{id}/results
func (h *ResultsHandler) ForUser(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	results, err := h.service.ResultsForUser(r.Context(), chi.URLParam(r, "id"), actor)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}
