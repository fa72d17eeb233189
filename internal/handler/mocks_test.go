package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/tallyman/internal/auth"
	"github.com/hitoshi/tallyman/internal/ballot"
	"github.com/hitoshi/tallyman/internal/middleware"
	"github.com/hitoshi/tallyman/internal/model"
	"github.com/hitoshi/tallyman/internal/poll"
	"github.com/hitoshi/tallyman/internal/roster"
	"github.com/hitoshi/tallyman/internal/tally"
)

// --- モック ---

// mockPollService はPollServiceInterfaceのモック実装。
// authorizeFnが未設定の場合は全権限を持つAccessを返す。
type mockPollService struct {
	authorizeFn      func(ctx context.Context, pollID string, actor model.Actor, capability poll.Capability) (*poll.Access, error)
	getFn            func(ctx context.Context, pollID string) (*model.Poll, error)
	listFn           func(ctx context.Context, actor model.Actor) ([]*model.Poll, error)
	createFn         func(ctx context.Context, actor model.Actor, in poll.CreateInput) (*model.Poll, error)
	resolveAccessFn  func(ctx context.Context, pollID string, actor model.Actor) (*poll.Access, error)
	updateDetailsFn  func(ctx context.Context, pollID string, in poll.DetailsInput) (*model.Poll, error)
	toggleEmailsFn   func(ctx context.Context, pollID string) (*model.Poll, error)
	updateSettingsFn func(ctx context.Context, pollID string, settings model.PollSettings) (*model.Poll, error)
	replaceBallotFn  func(ctx context.Context, pollID string, in []poll.QuestionInput) (*model.Poll, error)
	updateScheduleFn func(ctx context.Context, pollID string, start, end *time.Time) (*model.Poll, error)
	launchFn         func(ctx context.Context, pollID string) (*model.Poll, error)
	completeFn       func(ctx context.Context, pollID string) (*model.Poll, error)
	cancelFn         func(ctx context.Context, pollID string) (*model.Poll, error)
	deleteFn         func(ctx context.Context, pollID string) error
	listStaffFn      func(ctx context.Context, pollID string) ([]model.PollStaff, error)
	assignStaffFn    func(ctx context.Context, pollID string, role model.PollRole, userIDs []string) error
}

func (m *mockPollService) Authorize(ctx context.Context, pollID string, actor model.Actor, capability poll.Capability) (*poll.Access, error) {
	if m.authorizeFn != nil {
		return m.authorizeFn(ctx, pollID, actor, capability)
	}
	return &poll.Access{
		Poll:         &model.Poll{ID: pollID, Status: model.PollStatusDraft, Settings: model.DefaultPollSettings()},
		Actor:        actor,
		Roles:        []model.PollRole{model.PollRoleManager},
		Capabilities: poll.CapabilitiesFor(model.UserRoleAdmin, nil),
	}, nil
}

func (m *mockPollService) Get(ctx context.Context, pollID string) (*model.Poll, error) {
	if m.getFn != nil {
		return m.getFn(ctx, pollID)
	}
	return nil, nil
}

func (m *mockPollService) List(ctx context.Context, actor model.Actor) ([]*model.Poll, error) {
	if m.listFn != nil {
		return m.listFn(ctx, actor)
	}
	return nil, nil
}

func (m *mockPollService) Create(ctx context.Context, actor model.Actor, in poll.CreateInput) (*model.Poll, error) {
	if m.createFn != nil {
		return m.createFn(ctx, actor, in)
	}
	return nil, nil
}

func (m *mockPollService) ResolveAccess(ctx context.Context, pollID string, actor model.Actor) (*poll.Access, error) {
	if m.resolveAccessFn != nil {
		return m.resolveAccessFn(ctx, pollID, actor)
	}
	return nil, nil
}

func (m *mockPollService) UpdateDetails(ctx context.Context, pollID string, in poll.DetailsInput) (*model.Poll, error) {
	if m.updateDetailsFn != nil {
		return m.updateDetailsFn(ctx, pollID, in)
	}
	return nil, nil
}

func (m *mockPollService) ToggleEmails(ctx context.Context, pollID string) (*model.Poll, error) {
	if m.toggleEmailsFn != nil {
		return m.toggleEmailsFn(ctx, pollID)
	}
	return nil, nil
}

func (m *mockPollService) UpdateSettings(ctx context.Context, pollID string, settings model.PollSettings) (*model.Poll, error) {
	if m.updateSettingsFn != nil {
		return m.updateSettingsFn(ctx, pollID, settings)
	}
	return nil, nil
}

func (m *mockPollService) ReplaceBallot(ctx context.Context, pollID string, in []poll.QuestionInput) (*model.Poll, error) {
	if m.replaceBallotFn != nil {
		return m.replaceBallotFn(ctx, pollID, in)
	}
	return nil, nil
}

func (m *mockPollService) UpdateSchedule(ctx context.Context, pollID string, start, end *time.Time) (*model.Poll, error) {
	if m.updateScheduleFn != nil {
		return m.updateScheduleFn(ctx, pollID, start, end)
	}
	return nil, nil
}

func (m *mockPollService) Launch(ctx context.Context, pollID string) (*model.Poll, error) {
	if m.launchFn != nil {
		return m.launchFn(ctx, pollID)
	}
	return nil, nil
}

func (m *mockPollService) Complete(ctx context.Context, pollID string) (*model.Poll, error) {
	if m.completeFn != nil {
		return m.completeFn(ctx, pollID)
	}
	return nil, nil
}

func (m *mockPollService) Cancel(ctx context.Context, pollID string) (*model.Poll, error) {
	if m.cancelFn != nil {
		return m.cancelFn(ctx, pollID)
	}
	return nil, nil
}

func (m *mockPollService) Delete(ctx context.Context, pollID string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, pollID)
	}
	return nil
}

func (m *mockPollService) ListStaff(ctx context.Context, pollID string) ([]model.PollStaff, error) {
	if m.listStaffFn != nil {
		return m.listStaffFn(ctx, pollID)
	}
	return nil, nil
}

func (m *mockPollService) AssignStaff(ctx context.Context, pollID string, role model.PollRole, userIDs []string) error {
	if m.assignStaffFn != nil {
		return m.assignStaffFn(ctx, pollID, role, userIDs)
	}
	return nil
}

// mockRosterService はRosterServiceInterfaceのモック実装。
type mockRosterService struct {
	listFn        func(ctx context.Context, pollID string) ([]*model.Participant, error)
	addFn         func(ctx context.Context, pollID string, in roster.AddInput) (*roster.AddResult, error)
	updateFn      func(ctx context.Context, pollID, participantID string, in roster.UpdateInput) (*model.Participant, error)
	removeFn      func(ctx context.Context, pollID, participantID string) error
	addGroupFn    func(ctx context.Context, pollID, groupID string, voteWeight *float64) (*roster.GroupResult, error)
	updateGroupFn func(ctx context.Context, pollID, groupID string, voteWeight float64) (*roster.GroupResult, error)
	removeGroupFn func(ctx context.Context, pollID, groupID string) (*roster.GroupResult, error)
}

func (m *mockRosterService) List(ctx context.Context, pollID string) ([]*model.Participant, error) {
	if m.listFn != nil {
		return m.listFn(ctx, pollID)
	}
	return nil, nil
}

func (m *mockRosterService) AddParticipant(ctx context.Context, pollID string, in roster.AddInput) (*roster.AddResult, error) {
	if m.addFn != nil {
		return m.addFn(ctx, pollID, in)
	}
	return nil, nil
}

func (m *mockRosterService) UpdateParticipant(ctx context.Context, pollID, participantID string, in roster.UpdateInput) (*model.Participant, error) {
	if m.updateFn != nil {
		return m.updateFn(ctx, pollID, participantID, in)
	}
	return nil, nil
}

func (m *mockRosterService) RemoveParticipant(ctx context.Context, pollID, participantID string) error {
	if m.removeFn != nil {
		return m.removeFn(ctx, pollID, participantID)
	}
	return nil
}

func (m *mockRosterService) AddGroup(ctx context.Context, pollID, groupID string, voteWeight *float64) (*roster.GroupResult, error) {
	if m.addGroupFn != nil {
		return m.addGroupFn(ctx, pollID, groupID, voteWeight)
	}
	return &roster.GroupResult{}, nil
}

func (m *mockRosterService) UpdateGroup(ctx context.Context, pollID, groupID string, voteWeight float64) (*roster.GroupResult, error) {
	if m.updateGroupFn != nil {
		return m.updateGroupFn(ctx, pollID, groupID, voteWeight)
	}
	return &roster.GroupResult{}, nil
}

func (m *mockRosterService) RemoveGroup(ctx context.Context, pollID, groupID string) (*roster.GroupResult, error) {
	if m.removeGroupFn != nil {
		return m.removeGroupFn(ctx, pollID, groupID)
	}
	return &roster.GroupResult{}, nil
}

// mockAccessService はAccessServiceInterfaceのモック実装。
type mockAccessService struct {
	authenticateFn func(ctx context.Context, pollID string, creds auth.Credentials) (*auth.Grant, error)
}

func (m *mockAccessService) Authenticate(ctx context.Context, pollID string, creds auth.Credentials) (*auth.Grant, error) {
	if m.authenticateFn != nil {
		return m.authenticateFn(ctx, pollID, creds)
	}
	return nil, model.NewInvalidCredentialsError()
}

// mockBallotService はBallotServiceInterfaceのモック実装。
type mockBallotService struct {
	submitFn  func(ctx context.Context, pollID, sessionID string, selections model.Selections) (*ballot.Receipt, error)
	currentFn func(ctx context.Context, pollID, sessionID string) (*ballot.Status, error)
}

func (m *mockBallotService) Submit(ctx context.Context, pollID, sessionID string, selections model.Selections) (*ballot.Receipt, error) {
	if m.submitFn != nil {
		return m.submitFn(ctx, pollID, sessionID, selections)
	}
	return nil, model.NewInvalidTokenError()
}

func (m *mockBallotService) Current(ctx context.Context, pollID, sessionID string) (*ballot.Status, error) {
	if m.currentFn != nil {
		return m.currentFn(ctx, pollID, sessionID)
	}
	return nil, model.NewInvalidTokenError()
}

// mockResultsService はResultsServiceInterfaceのモック実装。
type mockResultsService struct {
	forSessionFn func(ctx context.Context, pollID, sessionID string) (*tally.Results, error)
	forUserFn    func(ctx context.Context, pollID string, actor model.Actor) (*tally.Results, error)
}

func (m *mockResultsService) ResultsForSession(ctx context.Context, pollID, sessionID string) (*tally.Results, error) {
	if m.forSessionFn != nil {
		return m.forSessionFn(ctx, pollID, sessionID)
	}
	return nil, model.NewInvalidTokenError()
}

func (m *mockResultsService) ResultsForUser(ctx context.Context, pollID string, actor model.Actor) (*tally.Results, error) {
	if m.forUserFn != nil {
		return m.forUserFn(ctx, pollID, actor)
	}
	return nil, model.NewForbiddenError("view results")
}

// mockLoginService はLoginServiceInterfaceのモック実装。
type mockLoginService struct {
	loginFn func(ctx context.Context, email, password string) (*auth.LoginResult, error)
}

func (m *mockLoginService) Login(ctx context.Context, email, password string) (*auth.LoginResult, error) {
	if m.loginFn != nil {
		return m.loginFn(ctx, email, password)
	}
	return nil, model.NewInvalidCredentialsError()
}

// --- テストヘルパー ---

var testActor = model.Actor{UserID: "user-1", Role: model.UserRoleSubAdmin}

// withActor はテスト用にリクエストコンテキストに認証済みユーザーを注入するヘルパー。
func withActor(r *http.Request, actor model.Actor) *http.Request {
	return r.WithContext(middleware.ContextWithActor(r.Context(), actor))
}

// withChiURLParams はテスト用にchiのURLパラメータを注入するヘルパー。key, value の順に渡す。
func withChiURLParams(r *http.Request, kv ...string) *http.Request {
	rctx := chi.NewRouteContext()
	for i := 0; i+1 < len(kv); i += 2 {
		rctx.URLParams.Add(kv[i], kv[i+1])
	}
	ctx := context.WithValue(r.Context(), chi.RouteCtxKey, rctx)
	return r.WithContext(ctx)
}

// withChiURLParam はテスト用にchiのURLパラメータを1つ注入するヘルパー。
func withChiURLParam(r *http.Request, key, value string) *http.Request {
	return withChiURLParams(r, key, value)
}

// parseAPIErrorResponse はレスポンスボディからAPIErrorレスポンスをパースするヘルパー。
func parseAPIErrorResponse(t *testing.T, w *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var result map[string]string
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return result
}

// decodeBody はレスポンスボディを任意の型にデコードするヘルパー。
func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return v
}
