package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/tallyman/internal/auth"
	"github.com/hitoshi/tallyman/internal/ballot"
	"github.com/hitoshi/tallyman/internal/model"
)

// PublicPollReader は投票者向けに投票を取得するインターフェース。
type PublicPollReader interface {
	Get(ctx context.Context, pollID string) (*model.Poll, error)
}

// AccessServiceInterface は投票セッションを発行するサービスインターフェース。
type AccessServiceInterface interface {
	Authenticate(ctx context.Context, pollID string, creds auth.Credentials) (*auth.Grant, error)
}

// BallotServiceInterface は投票内容を記録するサービスインターフェース。
type BallotServiceInterface interface {
	Submit(ctx context.Context, pollID, sessionID string, selections model.Selections) (*ballot.Receipt, error)
	Current(ctx context.Context, pollID, sessionID string) (*ballot.Status, error)
}

// VoterHandler は投票者（ログイン不要）向けのHTTPハンドラー。
// 投票者は投票セッショントークンで識別される。
type VoterHandler struct {
	polls   PublicPollReader
	access  AccessServiceInterface
	ballots BallotServiceInterface
}

// NewVoterHandler はVoterHandlerを生成する。
func NewVoterHandler(polls PublicPollReader, access AccessServiceInterface, ballots BallotServiceInterface) *VoterHandler {
	return &VoterHandler{polls: polls, access: access, ballots: ballots}
}

type publicPollResponse struct {
	ID                string             `json:"id"`
	Title             string             `json:"title"`
	Description       string             `json:"description"`
	StartDate         *time.Time         `json:"startDate"`
	EndDate           *time.Time         `json:"endDate"`
	Status            model.PollStatus   `json:"status"`
	VoteWeightEnabled bool               `json:"voteWeightEnabled"`
	AllowVoteChanges  bool               `json:"allowVoteChanges"`
	Questions         []questionResponse `json:"questions"`
}

type validateAccessRequest struct {
	Email         string `json:"email"`
	Password      string `json:"password"`
	ParticipantID string `json:"participantId"`
	Token         string `json:"token"`
}

type voterParticipant struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	HasVoted   bool    `json:"hasVoted"`
	VoteWeight float64 `json:"voteWeight"`
}

type validateAccessResponse struct {
	SessionToken  string           `json:"sessionToken"`
	ExpiresAt     time.Time        `json:"expiresAt"`
	Participant   voterParticipant `json:"participant"`
	CanChangeVote bool             `json:"canChangeVote"`
	ReadOnly      bool             `json:"readOnly"`
}

type voteRequest struct {
	SessionToken string              `json:"sessionToken"`
	Votes        map[string][]string `json:"votes"`
}

type voteResponse struct {
	Success     bool      `json:"success"`
	Replaced    bool      `json:"replaced"`
	Version     int       `json:"version"`
	SubmittedAt time.Time `json:"submittedAt"`
}

type voteStatusResponse struct {
	Participant voterParticipant    `json:"participant"`
	HasVoted    bool                `json:"hasVoted"`
	SubmittedAt *time.Time          `json:"submittedAt,omitempty"`
	Votes       map[string][]string `json:"votes,omitempty"`
}

func toVoterParticipant(p *model.Participant) voterParticipant {
	return voterParticipant{
		ID:         p.ID,
		Name:       p.Name,
		HasVoted:   p.HasVoted,
		VoteWeight: p.VoteWeight,
	}
}

// Public は投票者向けの投票内容（設問と選択肢）を返す。集計は含まない。
// GET /poll/{id}/public
func (h *VoterHandler) Public(w http.ResponseWriter, r *http.Request) {
	p, err := h.polls.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	// 公開前の投票は存在しないものとして扱う
	if p.Status == model.PollStatusDraft {
		handleServiceError(w, model.NewPollNotFoundError(p.ID))
		return
	}

	writeJSON(w, http.StatusOK, publicPollResponse{
		ID:                p.ID,
		Title:             p.Title,
		Description:       p.Description,
		StartDate:         p.StartDate,
		EndDate:           p.EndDate,
		Status:            p.Status,
		VoteWeightEnabled: p.Settings.VoteWeightEnabled,
		AllowVoteChanges:  p.Settings.AllowVoteChanges,
		Questions:         toQuestionResponses(p.Questions),
	})
}

// ValidateAccess は参加者を認証し、投票セッションを発行する。
// POST /poll/{id}/validate-access
func (h *VoterHandler) ValidateAccess(w http.ResponseWriter, r *http.Request) {
	var req validateAccessRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	grant, err := h.access.Authenticate(r.Context(), chi.URLParam(r, "id"), auth.Credentials{
		Email:         req.Email,
		Password:      req.Password,
		ParticipantID: req.ParticipantID,
		Token:         req.Token,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, validateAccessResponse{
		SessionToken:  grant.Session.ID,
		ExpiresAt:     grant.Session.ExpiresAt,
		Participant:   toVoterParticipant(grant.Participant),
		CanChangeVote: grant.CanChangeVote,
		ReadOnly:      grant.Session.ReadOnly,
	})
}

// Vote は投票内容を記録する。
// POST /poll/{id}/vote
func (h *VoterHandler) Vote(w http.ResponseWriter, r *http.Request) {
	var req voteRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.SessionToken == "" {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewInvalidTokenError())
		return
	}

	receipt, err := h.ballots.Submit(r.Context(), chi.URLParam(r, "id"), req.SessionToken, model.Selections(req.Votes))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, voteResponse{
		Success:     true,
		Replaced:    receipt.Replaced,
		Version:     receipt.Ballot.Version,
		SubmittedAt: receipt.Ballot.SubmittedAt,
	})
}

// VoteStatus は投票状況と現在の投票内容を返す。
// GET /poll/{id}/vote-status/{sessionToken}
func (h *VoterHandler) VoteStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.ballots.Current(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "sessionToken"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := voteStatusResponse{
		Participant: toVoterParticipant(status.Participant),
		HasVoted:    status.Ballot != nil,
	}
	if status.Ballot != nil {
		submittedAt := status.Ballot.SubmittedAt
		resp.SubmittedAt = &submittedAt
		resp.Votes = status.Ballot.Selections
	}
	writeJSON(w, http.StatusOK, resp)
}
