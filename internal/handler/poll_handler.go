package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/tallyman/internal/model"
	"github.com/hitoshi/tallyman/internal/poll"
)

// PollAuthorizer は投票に対する操作権限を確認するインターフェース。
type PollAuthorizer interface {
	Authorize(ctx context.Context, pollID string, actor model.Actor, capability poll.Capability) (*poll.Access, error)
}

// PollServiceInterface は投票管理ハンドラーが必要とするサービスインターフェース。
type PollServiceInterface interface {
	PollAuthorizer
	PublicPollReader
	List(ctx context.Context, actor model.Actor) ([]*model.Poll, error)
	Create(ctx context.Context, actor model.Actor, in poll.CreateInput) (*model.Poll, error)
	ResolveAccess(ctx context.Context, pollID string, actor model.Actor) (*poll.Access, error)
	UpdateDetails(ctx context.Context, pollID string, in poll.DetailsInput) (*model.Poll, error)
	ToggleEmails(ctx context.Context, pollID string) (*model.Poll, error)
	UpdateSettings(ctx context.Context, pollID string, settings model.PollSettings) (*model.Poll, error)
	ReplaceBallot(ctx context.Context, pollID string, in []poll.QuestionInput) (*model.Poll, error)
	UpdateSchedule(ctx context.Context, pollID string, start, end *time.Time) (*model.Poll, error)
	Launch(ctx context.Context, pollID string) (*model.Poll, error)
	Complete(ctx context.Context, pollID string) (*model.Poll, error)
	Cancel(ctx context.Context, pollID string) (*model.Poll, error)
	Delete(ctx context.Context, pollID string) error
	ListStaff(ctx context.Context, pollID string) ([]model.PollStaff, error)
	AssignStaff(ctx context.Context, pollID string, role model.PollRole, userIDs []string) error
}

// PollHandler は投票管理のHTTPハンドラー。
type PollHandler struct {
	service PollServiceInterface
}

// NewPollHandler はPollHandlerを生成する。
func NewPollHandler(service PollServiceInterface) *PollHandler {
	return &PollHandler{service: service}
}

// --- リクエスト・レスポンス ---

type settingsDTO struct {
	ShowParticipantNames bool `json:"showParticipantNames"`
	ShowVoteWeights      bool `json:"showVoteWeights"`
	ShowVoteCounts       bool `json:"showVoteCounts"`
	ShowResultsBeforeEnd bool `json:"showResultsBeforeEnd"`
	AllowResultsView     bool `json:"allowResultsView"`
	VoteWeightEnabled    bool `json:"voteWeightEnabled"`
	AllowVoteChanges     bool `json:"allowVoteChanges"`
}

func (s settingsDTO) toModel() model.PollSettings {
	return model.PollSettings{
		ShowParticipantNames: s.ShowParticipantNames,
		ShowVoteWeights:      s.ShowVoteWeights,
		ShowVoteCounts:       s.ShowVoteCounts,
		ShowResultsBeforeEnd: s.ShowResultsBeforeEnd,
		AllowResultsView:     s.AllowResultsView,
		VoteWeightEnabled:    s.VoteWeightEnabled,
		AllowVoteChanges:     s.AllowVoteChanges,
	}
}

func toSettingsDTO(s model.PollSettings) settingsDTO {
	return settingsDTO{
		ShowParticipantNames: s.ShowParticipantNames,
		ShowVoteWeights:      s.ShowVoteWeights,
		ShowVoteCounts:       s.ShowVoteCounts,
		ShowResultsBeforeEnd: s.ShowResultsBeforeEnd,
		AllowResultsView:     s.AllowResultsView,
		VoteWeightEnabled:    s.VoteWeightEnabled,
		AllowVoteChanges:     s.AllowVoteChanges,
	}
}

// settingsPatch は設定の部分更新。省略した項目は現在の値を維持する。
type settingsPatch struct {
	ShowParticipantNames *bool `json:"showParticipantNames"`
	ShowVoteWeights      *bool `json:"showVoteWeights"`
	ShowVoteCounts       *bool `json:"showVoteCounts"`
	ShowResultsBeforeEnd *bool `json:"showResultsBeforeEnd"`
	AllowResultsView     *bool `json:"allowResultsView"`
	VoteWeightEnabled    *bool `json:"voteWeightEnabled"`
	AllowVoteChanges     *bool `json:"allowVoteChanges"`
}

func (p settingsPatch) apply(s model.PollSettings) model.PollSettings {
	set := func(dst *bool, v *bool) {
		if v != nil {
			*dst = *v
		}
	}
	set(&s.ShowParticipantNames, p.ShowParticipantNames)
	set(&s.ShowVoteWeights, p.ShowVoteWeights)
	set(&s.ShowVoteCounts, p.ShowVoteCounts)
	set(&s.ShowResultsBeforeEnd, p.ShowResultsBeforeEnd)
	set(&s.AllowResultsView, p.AllowResultsView)
	set(&s.VoteWeightEnabled, p.VoteWeightEnabled)
	set(&s.AllowVoteChanges, p.AllowVoteChanges)
	return s
}

type optionRequest struct {
	Title            string `json:"title"`
	ShortDescription string `json:"shortDescription"`
	LongDescription  string `json:"longDescription"`
	Link             string `json:"link"`
	Image            string `json:"image"`
}

type questionRequest struct {
	Title           string          `json:"title"`
	Description     string          `json:"description"`
	RandomizedOrder bool            `json:"randomizedOrder"`
	MinSelection    int             `json:"minSelection"`
	MaxSelection    int             `json:"maxSelection"`
	Options         []optionRequest `json:"options"`
}

func toQuestionInputs(in []questionRequest) []poll.QuestionInput {
	out := make([]poll.QuestionInput, 0, len(in))
	for _, q := range in {
		options := make([]poll.OptionInput, 0, len(q.Options))
		for _, o := range q.Options {
			options = append(options, poll.OptionInput{
				Title:            o.Title,
				ShortDescription: o.ShortDescription,
				LongDescription:  o.LongDescription,
				Link:             o.Link,
				Image:            o.Image,
			})
		}
		out = append(out, poll.QuestionInput{
			Title:           q.Title,
			Description:     q.Description,
			RandomizedOrder: q.RandomizedOrder,
			MinSelection:    q.MinSelection,
			MaxSelection:    q.MaxSelection,
			Options:         options,
		})
	}
	return out
}

type createPollRequest struct {
	Title          string            `json:"title"`
	Description    string            `json:"description"`
	StartDate      *time.Time        `json:"startDate"`
	EndDate        *time.Time        `json:"endDate"`
	Settings       *settingsDTO      `json:"settings"`
	WillSendEmails bool              `json:"willSendEmails"`
	Questions      []questionRequest `json:"questions"`
}

type updatePollRequest struct {
	Title          *string `json:"title"`
	Description    *string `json:"description"`
	WillSendEmails *bool   `json:"willSendEmails"`
}

type scheduleRequest struct {
	StartDate *time.Time `json:"startDate"`
	EndDate   *time.Time `json:"endDate"`
}

type ballotRequest struct {
	Questions []questionRequest `json:"questions"`
}

type staffRequest struct {
	UserIDs []string `json:"userIds"`
}

type optionResponse struct {
	ID               string `json:"id"`
	Title            string `json:"title"`
	ShortDescription string `json:"shortDescription,omitempty"`
	LongDescription  string `json:"longDescription,omitempty"`
	Link             string `json:"link,omitempty"`
	Image            string `json:"image,omitempty"`
}

type questionResponse struct {
	ID              string           `json:"id"`
	Title           string           `json:"title"`
	Description     string           `json:"description,omitempty"`
	RandomizedOrder bool             `json:"randomizedOrder"`
	MinSelection    int              `json:"minSelection"`
	MaxSelection    int              `json:"maxSelection"`
	Options         []optionResponse `json:"options"`
}

func toQuestionResponses(questions []model.Question) []questionResponse {
	out := make([]questionResponse, 0, len(questions))
	for _, q := range questions {
		options := make([]optionResponse, 0, len(q.Options))
		for _, o := range q.Options {
			options = append(options, optionResponse{
				ID:               o.ID,
				Title:            o.Title,
				ShortDescription: o.ShortDescription,
				LongDescription:  o.LongDescription,
				Link:             o.Link,
				Image:            o.Image,
			})
		}
		out = append(out, questionResponse{
			ID:              q.ID,
			Title:           q.Title,
			Description:     q.Description,
			RandomizedOrder: q.RandomizedOrder,
			MinSelection:    q.MinSelection,
			MaxSelection:    q.MaxSelection,
			Options:         options,
		})
	}
	return out
}

type pollResponse struct {
	ID             string             `json:"id"`
	Title          string             `json:"title"`
	Description    string             `json:"description"`
	StartDate      *time.Time         `json:"startDate"`
	EndDate        *time.Time         `json:"endDate"`
	Status         model.PollStatus   `json:"status"`
	Settings       settingsDTO        `json:"settings"`
	WillSendEmails bool               `json:"willSendEmails"`
	ManagerID      string             `json:"managerId"`
	Questions      []questionResponse `json:"questions"`
	CreatedAt      time.Time          `json:"createdAt"`
	UpdatedAt      time.Time          `json:"updatedAt"`
}

func toPollResponse(p *model.Poll) pollResponse {
	return pollResponse{
		ID:             p.ID,
		Title:          p.Title,
		Description:    p.Description,
		StartDate:      p.StartDate,
		EndDate:        p.EndDate,
		Status:         p.Status,
		Settings:       toSettingsDTO(p.Settings),
		WillSendEmails: p.WillSendEmails,
		ManagerID:      p.ManagerID,
		Questions:      toQuestionResponses(p.Questions),
		CreatedAt:      p.CreatedAt,
		UpdatedAt:      p.UpdatedAt,
	}
}

type staffResponse struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Role   string `json:"role"`
}

type capabilitiesResponse struct {
	CanView               bool `json:"canView"`
	CanEdit               bool `json:"canEdit"`
	CanDelete             bool `json:"canDelete"`
	CanChangeStatus       bool `json:"canChangeStatus"`
	CanManageParticipants bool `json:"canManageParticipants"`
	CanViewParticipants   bool `json:"canViewParticipants"`
	CanViewResults        bool `json:"canViewResults"`
	CanManageStaff        bool `json:"canManageStaff"`
}

type permissionsResponse struct {
	Roles        []string             `json:"roles"`
	Capabilities capabilitiesResponse `json:"capabilities"`
}

// authorizePoll は呼び出し元がURLの投票に対して指定の操作権限を持つかを確認する。
// 権限がない場合はエラーレスポンスを書き込みfalseを返す。
func authorizePoll(w http.ResponseWriter, r *http.Request, authz PollAuthorizer, capability poll.Capability) (*poll.Access, bool) {
	actor, ok := requireActor(w, r)
	if !ok {
		return nil, false
	}
	access, err := authz.Authorize(r.Context(), chi.URLParam(r, "id"), actor, capability)
	if err != nil {
		handleServiceError(w, err)
		return nil, false
	}
	return access, true
}

// --- ハンドラー ---

// List は呼び出し元が関与する投票の一覧を返す。
// GET /api/polls
func (h *PollHandler) List(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	polls, err := h.service.List(r.Context(), actor)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]pollResponse, 0, len(polls))
	for _, p := range polls {
		resp = append(resp, toPollResponse(p))
	}
	writeJSON(w, http.StatusOK, resp)
}

// Create はdraft状態の投票を作成する。
// POST /api/polls
func (h *PollHandler) Create(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var req createPollRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	in := poll.CreateInput{
		Title:          req.Title,
		Description:    req.Description,
		StartDate:      req.StartDate,
		EndDate:        req.EndDate,
		WillSendEmails: req.WillSendEmails,
		Questions:      toQuestionInputs(req.Questions),
	}
	if req.Settings != nil {
		s := req.Settings.toModel()
		in.Settings = &s
	}

	p, err := h.service.Create(r.Context(), actor, in)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPollResponse(p))
}

// Get は投票の詳細を返す。
// GET /api/polls/{id}
func (h *PollHandler) Get(w http.ResponseWriter, r *http.Request) {
	access, ok := authorizePoll(w, r, h.service, poll.CapView)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toPollResponse(access.Poll))
}

// Update はタイトル・説明・メール送信フラグを更新する。
// PATCH /api/polls/{id}
func (h *PollHandler) Update(w http.ResponseWriter, r *http.Request) {
	access, ok := authorizePoll(w, r, h.service, poll.CapEdit)
	if !ok {
		return
	}

	var req updatePollRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	p, err := h.service.UpdateDetails(r.Context(), access.Poll.ID, poll.DetailsInput{
		Title:          req.Title,
		Description:    req.Description,
		WillSendEmails: req.WillSendEmails,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPollResponse(p))
}

// Delete は投票を削除する。
// DELETE /api/polls/{id}
func (h *PollHandler) Delete(w http.ResponseWriter, r *http.Request) {
	access, ok := authorizePoll(w, r, h.service, poll.CapDelete)
	if !ok {
		return
	}

	if err := h.service.Delete(r.Context(), access.Poll.ID); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ToggleEmails はメール送信フラグを反転する。
// POST /api/polls/{id}/toggle-emails
func (h *PollHandler) ToggleEmails(w http.ResponseWriter, r *http.Request) {
	access, ok := authorizePoll(w, r, h.service, poll.CapEdit)
	if !ok {
		return
	}

	p, err := h.service.ToggleEmails(r.Context(), access.Poll.ID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPollResponse(p))
}

// UpdateSettings は公開範囲・重み付けの設定を部分更新する。
// PUT /api/polls/{id}/settings
func (h *PollHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	access, ok := authorizePoll(w, r, h.service, poll.CapEdit)
	if !ok {
		return
	}

	var req settingsPatch
	if !decodeJSON(w, r, &req) {
		return
	}

	p, err := h.service.UpdateSettings(r.Context(), access.Poll.ID, req.apply(access.Poll.Settings))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPollResponse(p))
}

// ReplaceBallot は設問と選択肢を置き換える。
// PUT /api/polls/{id}/ballot
func (h *PollHandler) ReplaceBallot(w http.ResponseWriter, r *http.Request) {
	access, ok := authorizePoll(w, r, h.service, poll.CapEdit)
	if !ok {
		return
	}

	var req ballotRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	p, err := h.service.ReplaceBallot(r.Context(), access.Poll.ID, toQuestionInputs(req.Questions))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPollResponse(p))
}

// UpdateSchedule は開始・終了日時を更新する。
// PUT /api/polls/{id}/schedule
func (h *PollHandler) UpdateSchedule(w http.ResponseWriter, r *http.Request) {
	access, ok := authorizePoll(w, r, h.service, poll.CapEdit)
	if !ok {
		return
	}

	var req scheduleRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	p, err := h.service.UpdateSchedule(r.Context(), access.Poll.ID, req.StartDate, req.EndDate)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPollResponse(p))
}

// Launch は投票を公開する。
// POST /api/polls/{id}/launch
func (h *PollHandler) Launch(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.Launch)
}

// Complete は投票を終了する。
// POST /api/polls/{id}/complete
func (h *PollHandler) Complete(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.Complete)
}

// Cancel は投票を中止する。
// POST /api/polls/{id}/cancel
func (h *PollHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.Cancel)
}

func (h *PollHandler) transition(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, pollID string) (*model.Poll, error)) {
	access, ok := authorizePoll(w, r, h.service, poll.CapChangeStatus)
	if !ok {
		return
	}

	p, err := fn(r.Context(), access.Poll.ID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPollResponse(p))
}

// Permissions は呼び出し元の投票ロールと操作権限を返す。
// GET /api/polls/{id}/permissions
func (h *PollHandler) Permissions(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	access, err := h.service.ResolveAccess(r.Context(), chi.URLParam(r, "id"), actor)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	roles := make([]string, 0, len(access.Roles))
	for _, role := range access.Roles {
		roles = append(roles, string(role))
	}
	c := access.Capabilities
	writeJSON(w, http.StatusOK, permissionsResponse{
		Roles: roles,
		Capabilities: capabilitiesResponse{
			CanView:               c.CanView,
			CanEdit:               c.CanEdit,
			CanDelete:             c.CanDelete,
			CanChangeStatus:       c.CanChangeStatus,
			CanManageParticipants: c.CanManageParticipants,
			CanViewParticipants:   c.CanViewParticipants,
			CanViewResults:        c.CanViewResults,
			CanManageStaff:        c.CanManageStaff,
		},
	})
}

// ListStaff は指定ロールの担当者一覧を返すハンドラーを生成する。
// GET /api/polls/{id}/editors, GET /api/polls/{id}/auditors
func (h *PollHandler) ListStaff(role model.PollRole) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		access, ok := authorizePoll(w, r, h.service, poll.CapView)
		if !ok {
			return
		}

		staff, err := h.service.ListStaff(r.Context(), access.Poll.ID)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		resp := make([]staffResponse, 0, len(staff))
		for _, s := range staff {
			if s.Role != role {
				continue
			}
			resp = append(resp, staffResponse{
				UserID: s.UserID,
				Name:   s.Name,
				Email:  s.Email,
				Role:   string(s.Role),
			})
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// AssignStaff は指定ロールの担当者を置き換えるハンドラーを生成する。
// PUT /api/polls/{id}/editors, PUT /api/polls/{id}/auditors
func (h *PollHandler) AssignStaff(role model.PollRole) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		access, ok := authorizePoll(w, r, h.service, poll.CapManageStaff)
		if !ok {
			return
		}

		var req staffRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		if err := h.service.AssignStaff(r.Context(), access.Poll.ID, role, req.UserIDs); err != nil {
			handleServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
