package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/tallyman/internal/model"
	"github.com/hitoshi/tallyman/internal/poll"
	"github.com/hitoshi/tallyman/internal/roster"
)

// RosterServiceInterface は名簿ハンドラーが必要とするサービスインターフェース。
type RosterServiceInterface interface {
	List(ctx context.Context, pollID string) ([]*model.Participant, error)
	AddParticipant(ctx context.Context, pollID string, in roster.AddInput) (*roster.AddResult, error)
	UpdateParticipant(ctx context.Context, pollID, participantID string, in roster.UpdateInput) (*model.Participant, error)
	RemoveParticipant(ctx context.Context, pollID, participantID string) error
	AddGroup(ctx context.Context, pollID, groupID string, voteWeight *float64) (*roster.GroupResult, error)
	UpdateGroup(ctx context.Context, pollID, groupID string, voteWeight float64) (*roster.GroupResult, error)
	RemoveGroup(ctx context.Context, pollID, groupID string) (*roster.GroupResult, error)
}

// ParticipantHandler は名簿管理のHTTPハンドラー。
type ParticipantHandler struct {
	polls  PollAuthorizer
	roster RosterServiceInterface
}

// NewParticipantHandler はParticipantHandlerを生成する。
func NewParticipantHandler(polls PollAuthorizer, rosterService RosterServiceInterface) *ParticipantHandler {
	return &ParticipantHandler{polls: polls, roster: rosterService}
}

type addParticipantRequest struct {
	Email      string   `json:"email"`
	Name       string   `json:"name"`
	VoteWeight *float64 `json:"voteWeight"`
	Token      string   `json:"token"`
	UserType   string   `json:"userType"`
	Status     string   `json:"status"`
}

type updateParticipantRequest struct {
	Name            *string    `json:"name"`
	VoteWeight      *float64   `json:"voteWeight"`
	Token           *string    `json:"token"`
	Status          *string    `json:"status"`
	LastEmailSentAt *time.Time `json:"lastEmailSentAt"`
}

type groupRequest struct {
	GroupID    string   `json:"groupId"`
	VoteWeight *float64 `json:"voteWeight"`
}

// participantResponse は管理画面向けの参加者。
// トークンは名簿を管理できる呼び出し元にのみ返す。
type participantResponse struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	Email           string     `json:"email"`
	IsUser          bool       `json:"isUser"`
	UserID          string     `json:"userId,omitempty"`
	Token           string     `json:"token,omitempty"`
	VoteWeight      float64    `json:"voteWeight"`
	Status          string     `json:"status"`
	HasVoted        bool       `json:"hasVoted"`
	VotedAt         *time.Time `json:"votedAt,omitempty"`
	LastEmailSentAt *time.Time `json:"lastEmailSentAt,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
}

type addParticipantResponse struct {
	Participant    participantResponse `json:"participant"`
	SystemNameUsed bool                `json:"systemNameUsed"`
}

type groupMemberErrorResponse struct {
	Email   string `json:"email"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type groupResponse struct {
	Total   int                        `json:"total"`
	Added   int                        `json:"added"`
	Updated int                        `json:"updated"`
	Removed int                        `json:"removed"`
	Skipped int                        `json:"skipped"`
	Errors  []groupMemberErrorResponse `json:"errors"`
}

func toParticipantResponse(p *model.Participant, withToken bool) participantResponse {
	resp := participantResponse{
		ID:              p.ID,
		Name:            p.Name,
		Email:           p.Email,
		IsUser:          p.IsUser,
		UserID:          p.UserID,
		VoteWeight:      p.VoteWeight,
		Status:          string(p.Status),
		HasVoted:        p.HasVoted,
		VotedAt:         p.VotedAt,
		LastEmailSentAt: p.LastEmailSentAt,
		CreatedAt:       p.CreatedAt,
	}
	if withToken {
		resp.Token = p.Token
	}
	return resp
}

func toGroupResponse(r *roster.GroupResult) groupResponse {
	errs := make([]groupMemberErrorResponse, 0, len(r.Errors))
	for _, e := range r.Errors {
		errs = append(errs, groupMemberErrorResponse{Email: e.Email, Code: e.Code, Message: e.Msg})
	}
	return groupResponse{
		Total:   r.Total,
		Added:   r.Added,
		Updated: r.Updated,
		Removed: r.Removed,
		Skipped: r.Skipped,
		Errors:  errs,
	}
}

// parseUserType は参加者追加時の登録ユーザー判定方法を解析する。空文字はautoとして扱う。
func parseUserType(s string) (model.UserTypeMode, bool) {
	switch s {
	case "", "auto":
		return model.UserTypeAuto, true
	case "user":
		return model.UserTypeForceUser, true
	case "external":
		return model.UserTypeForceExternal, true
	}
	return model.UserTypeAuto, false
}

// parseStatus は参加者の承認状態を解析する。空文字は未指定として扱う。
func parseStatus(s string) (model.ParticipantStatus, bool) {
	if s == "" {
		return "", true
	}
	status := model.ParticipantStatus(s)
	return status, status.IsValid()
}

// List は名簿を返す。
// GET /api/polls/{id}/participants
func (h *ParticipantHandler) List(w http.ResponseWriter, r *http.Request) {
	access, ok := authorizePoll(w, r, h.polls, poll.CapViewParticipants)
	if !ok {
		return
	}

	participants, err := h.roster.List(r.Context(), access.Poll.ID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	withToken := access.Capabilities.CanManageParticipants
	resp := make([]participantResponse, 0, len(participants))
	for _, p := range participants {
		resp = append(resp, toParticipantResponse(p, withToken))
	}
	writeJSON(w, http.StatusOK, resp)
}

// Add は参加者を名簿に追加する。
// POST /api/polls/{id}/participants
func (h *ParticipantHandler) Add(w http.ResponseWriter, r *http.Request) {
	access, ok := authorizePoll(w, r, h.polls, poll.CapManageParticipants)
	if !ok {
		return
	}

	var req addParticipantRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	mode, ok := parseUserType(req.UserType)
	if !ok {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidParticipantError("userType は auto, user, external のいずれかです"))
		return
	}
	status, ok := parseStatus(req.Status)
	if !ok {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidParticipantError("status が不正です"))
		return
	}

	result, err := h.roster.AddParticipant(r.Context(), access.Poll.ID, roster.AddInput{
		Email:      req.Email,
		Name:       req.Name,
		VoteWeight: req.VoteWeight,
		Token:      req.Token,
		Mode:       mode,
		Status:     status,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, addParticipantResponse{
		Participant:    toParticipantResponse(result.Participant, true),
		SystemNameUsed: result.SystemNameUsed,
	})
}

// Update は参加者の名前・重み・トークン・状態を更新する。
// PATCH /api/polls/{id}/participants/{participantId}
func (h *ParticipantHandler) Update(w http.ResponseWriter, r *http.Request) {
	access, ok := authorizePoll(w, r, h.polls, poll.CapManageParticipants)
	if !ok {
		return
	}

	var req updateParticipantRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	in := roster.UpdateInput{
		Name:            req.Name,
		VoteWeight:      req.VoteWeight,
		Token:           req.Token,
		LastEmailSentAt: req.LastEmailSentAt,
	}
	if req.Status != nil {
		status := model.ParticipantStatus(*req.Status)
		if !status.IsValid() {
			writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidParticipantError("status が不正です"))
			return
		}
		in.Status = &status
	}

	p, err := h.roster.UpdateParticipant(r.Context(), access.Poll.ID, chi.URLParam(r, "participantId"), in)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toParticipantResponse(p, true))
}

// Remove は参加者を名簿から削除する。投票内容と投票セッションも削除される。
// DELETE /api/polls/{id}/participants/{participantId}
func (h *ParticipantHandler) Remove(w http.ResponseWriter, r *http.Request) {
	access, ok := authorizePoll(w, r, h.polls, poll.CapManageParticipants)
	if !ok {
		return
	}

	if err := h.roster.RemoveParticipant(r.Context(), access.Poll.ID, chi.URLParam(r, "participantId")); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AddGroup はグループの全メンバーを名簿に追加する。
// POST /api/polls/{id}/participants/group
func (h *ParticipantHandler) AddGroup(w http.ResponseWriter, r *http.Request) {
	access, ok := authorizePoll(w, r, h.polls, poll.CapManageParticipants)
	if !ok {
		return
	}

	var req groupRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.GroupID == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidParticipantError("groupId は必須です"))
		return
	}

	result, err := h.roster.AddGroup(r.Context(), access.Poll.ID, req.GroupID, req.VoteWeight)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toGroupResponse(result))
}

// UpdateGroup は名簿上のグループメンバーの重みを更新する。
// PUT /api/polls/{id}/participants/group
func (h *ParticipantHandler) UpdateGroup(w http.ResponseWriter, r *http.Request) {
	access, ok := authorizePoll(w, r, h.polls, poll.CapManageParticipants)
	if !ok {
		return
	}

	var req groupRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.GroupID == "" || req.VoteWeight == nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidParticipantError("groupId と voteWeight は必須です"))
		return
	}

	result, err := h.roster.UpdateGroup(r.Context(), access.Poll.ID, req.GroupID, *req.VoteWeight)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toGroupResponse(result))
}

// RemoveGroup は名簿上のグループメンバーを削除する。
// DELETE /api/polls/{id}/participants/group/{groupId}
func (h *ParticipantHandler) RemoveGroup(w http.ResponseWriter, r *http.Request) {
	access, ok := authorizePoll(w, r, h.polls, poll.CapManageParticipants)
	if !ok {
		return
	}

	result, err := h.roster.RemoveGroup(r.Context(), access.Poll.ID, chi.URLParam(r, "groupId"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toGroupResponse(result))
}
