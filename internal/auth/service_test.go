package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hitoshi/tallyman/internal/model"
)

// --- モック定義 ---

type mockPollReader struct {
	poll *model.Poll
}

func (m *mockPollReader) Get(ctx context.Context, pollID string) (*model.Poll, error) {
	if m.poll == nil || m.poll.ID != pollID {
		return nil, model.NewPollNotFoundError(pollID)
	}
	cp := *m.poll
	return &cp, nil
}

type mockRoster struct {
	participants []*model.Participant
}

func (m *mockRoster) LookupByID(ctx context.Context, pollID, participantID string) (*model.Participant, error) {
	for _, p := range m.participants {
		if p.PollID == pollID && p.ID == participantID {
			return p, nil
		}
	}
	return nil, model.NewParticipantNotFoundError(participantID)
}
func (m *mockRoster) LookupByUserID(ctx context.Context, pollID, userID string) (*model.Participant, error) {
	for _, p := range m.participants {
		if p.PollID == pollID && p.UserID == userID {
			return p, nil
		}
	}
	return nil, nil
}
func (m *mockRoster) LookupByToken(ctx context.Context, pollID, token string) (*model.Participant, error) {
	for _, p := range m.participants {
		if p.PollID == pollID && p.Token == token {
			return p, nil
		}
	}
	return nil, nil
}
func (m *mockRoster) ValidateToken(ctx context.Context, pollID, participantID, token string) (*model.Participant, error) {
	for _, p := range m.participants {
		if p.PollID == pollID && p.ID == participantID && p.Token == token {
			return p, nil
		}
	}
	return nil, model.NewInvalidTokenError()
}

type mockDirectory struct {
	verifyFn func(ctx context.Context, email, password string) (*model.User, error)
}

func (m *mockDirectory) VerifyCredentials(ctx context.Context, email, password string) (*model.User, error) {
	if m.verifyFn != nil {
		return m.verifyFn(ctx, email, password)
	}
	return nil, model.NewInvalidCredentialsError()
}

type memSessionRepo struct {
	sessions map[string]*model.VotingSession
	deleted  []string
	createFn func(s *model.VotingSession) error
}

func newMemSessionRepo() *memSessionRepo {
	return &memSessionRepo{sessions: map[string]*model.VotingSession{}}
}

func (m *memSessionRepo) Create(ctx context.Context, s *model.VotingSession) error {
	if m.createFn != nil {
		if err := m.createFn(s); err != nil {
			return err
		}
	}
	cp := *s
	m.sessions[s.ID] = &cp
	return nil
}
func (m *memSessionRepo) FindByID(ctx context.Context, id string) (*model.VotingSession, error) {
	s, ok := m.sessions[id]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}
func (m *memSessionRepo) DeleteByID(ctx context.Context, id string) error {
	delete(m.sessions, id)
	m.deleted = append(m.deleted, id)
	return nil
}
func (m *memSessionRepo) DeleteByParticipantID(ctx context.Context, participantID string) error {
	for id, s := range m.sessions {
		if s.ParticipantID == participantID {
			delete(m.sessions, id)
		}
	}
	return nil
}

type recordingObserver struct {
	issued   []bool
	failures []string
}

func (o *recordingObserver) ObserveSessionIssued(readOnly bool) {
	o.issued = append(o.issued, readOnly)
}
func (o *recordingObserver) ObserveAuthFailure(reason string) {
	o.failures = append(o.failures, reason)
}

var testNow = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	svc      *Service
	poll     *model.Poll
	roster   *mockRoster
	sessions *memSessionRepo
	observer *recordingObserver
}

func newFixture(status model.PollStatus) *fixture {
	start := testNow.Add(-time.Hour)
	end := testNow.Add(time.Hour)
	if status == model.PollStatusCompleted {
		end = testNow.Add(-time.Minute)
		status = model.PollStatusActive
	}
	poll := &model.Poll{ID: "poll-1", Status: status, StartDate: &start, EndDate: &end, Settings: model.DefaultPollSettings()}
	roster := &mockRoster{participants: []*model.Participant{
		{ID: "p-ext", PollID: "poll-1", Token: "tok-1", VoteWeight: 2, Status: model.ParticipantStatusApproved},
		{ID: "p-user", PollID: "poll-1", UserID: "u-1", IsUser: true, VoteWeight: 1, Status: model.ParticipantStatusApproved},
		{ID: "p-pending", PollID: "poll-1", Token: "tok-pending", VoteWeight: 1, Status: model.ParticipantStatusPending},
		{ID: "p-voted", PollID: "poll-1", Token: "tok-voted", VoteWeight: 1, Status: model.ParticipantStatusApproved, HasVoted: true},
	}}
	dir := &mockDirectory{verifyFn: func(ctx context.Context, email, password string) (*model.User, error) {
		switch {
		case email == "member@example.com" && password == "pw":
			return &model.User{ID: "u-1"}, nil
		case email == "outsider@example.com" && password == "pw":
			return &model.User{ID: "u-2"}, nil
		}
		return nil, model.NewInvalidCredentialsError()
	}}
	sessions := newMemSessionRepo()
	obs := &recordingObserver{}

	pr := &mockPollReader{poll: poll}
	svc := NewService(pr, roster, dir, sessions, 30*time.Minute)
	svc.now = func() time.Time { return testNow }
	svc.polls = &effectiveReader{inner: pr, now: testNow}
	svc.SetObserver(obs)
	return &fixture{svc: svc, poll: poll, roster: roster, sessions: sessions, observer: obs}
}

// effectiveReader は終了日時を反映した状態を返す。
type effectiveReader struct {
	inner PollReader
	now   time.Time
}

func (r *effectiveReader) Get(ctx context.Context, pollID string) (*model.Poll, error) {
	p, err := r.inner.Get(ctx, pollID)
	if err != nil {
		return nil, err
	}
	p.Status = p.EffectiveStatus(r.now)
	return p, nil
}

// --- テスト ---

// TestService_Authenticate_Token はトークン認証でセッションが発行されることを検証する。
func TestService_Authenticate_Token(t *testing.T) {
	f := newFixture(model.PollStatusActive)

	g, err := f.svc.Authenticate(context.Background(), "poll-1", Credentials{Token: "tok-1"})
	if err != nil {
		t.Fatalf("Authenticate returned error: %v", err)
	}
	if g.Participant.ID != "p-ext" || g.Participant.VoteWeight != 2 {
		t.Errorf("participant = %+v, want p-ext with weight 2", g.Participant)
	}
	if g.Session.ReadOnly || !g.CanChangeVote {
		t.Errorf("expected writable session, got readOnly=%v canChange=%v", g.Session.ReadOnly, g.CanChangeVote)
	}
	if len(g.Session.ID) != 64 {
		t.Errorf("session id length = %d, want 64 hex chars", len(g.Session.ID))
	}
	if !g.Session.ExpiresAt.Equal(testNow.Add(30 * time.Minute)) {
		t.Errorf("ExpiresAt = %v, want now+ttl", g.Session.ExpiresAt)
	}
	if _, ok := f.sessions.sessions[g.Session.ID]; !ok {
		t.Error("session was not persisted")
	}
	if len(f.observer.issued) != 1 {
		t.Errorf("observer issued calls = %d, want 1", len(f.observer.issued))
	}
}

// TestService_Authenticate_TokenWithParticipantID は参加者ID付きのトークン照合を検証する。
func TestService_Authenticate_TokenWithParticipantID(t *testing.T) {
	f := newFixture(model.PollStatusActive)

	if _, err := f.svc.Authenticate(context.Background(), "poll-1", Credentials{ParticipantID: "p-ext", Token: "tok-1"}); err != nil {
		t.Fatalf("Authenticate returned error: %v", err)
	}
	_, err := f.svc.Authenticate(context.Background(), "poll-1", Credentials{ParticipantID: "p-voted", Token: "tok-1"})
	if !model.HasCode(err, model.ErrCodeInvalidToken) {
		t.Fatalf("expected INVALID_TOKEN, got %v", err)
	}
}

// TestService_Authenticate_InvalidToken は未知のトークンでINVALID_TOKENを返すことを検証する。
func TestService_Authenticate_InvalidToken(t *testing.T) {
	f := newFixture(model.PollStatusActive)

	_, err := f.svc.Authenticate(context.Background(), "poll-1", Credentials{Token: "nope"})
	if !model.HasCode(err, model.ErrCodeInvalidToken) {
		t.Fatalf("expected INVALID_TOKEN, got %v", err)
	}
	if len(f.observer.failures) != 1 || f.observer.failures[0] != "invalid_token" {
		t.Errorf("failures = %v, want [invalid_token]", f.observer.failures)
	}
	if len(f.sessions.sessions) != 0 {
		t.Error("no session should be stored on failure")
	}
}

// TestService_Authenticate_Password は登録ユーザーのパスワード認証を検証する。
func TestService_Authenticate_Password(t *testing.T) {
	f := newFixture(model.PollStatusActive)
	ctx := context.Background()

	g, err := f.svc.Authenticate(ctx, "poll-1", Credentials{Email: "member@example.com", Password: "pw"})
	if err != nil {
		t.Fatalf("Authenticate returned error: %v", err)
	}
	if g.Participant.ID != "p-user" {
		t.Errorf("participant = %q, want p-user", g.Participant.ID)
	}

	_, err = f.svc.Authenticate(ctx, "poll-1", Credentials{Email: "member@example.com", Password: "bad"})
	if !model.HasCode(err, model.ErrCodeInvalidCredentials) {
		t.Errorf("wrong password: expected INVALID_CREDENTIALS, got %v", err)
	}

	_, err = f.svc.Authenticate(ctx, "poll-1", Credentials{Email: "outsider@example.com", Password: "pw"})
	if !model.HasCode(err, model.ErrCodeNotAParticipant) {
		t.Errorf("not on roster: expected NOT_A_PARTICIPANT, got %v", err)
	}

	_, err = f.svc.Authenticate(ctx, "poll-1", Credentials{})
	if !model.HasCode(err, model.ErrCodeInvalidCredentials) {
		t.Errorf("empty credentials: expected INVALID_CREDENTIALS, got %v", err)
	}
}

// TestService_Authenticate_NotApproved は未承認の参加者を拒否することを検証する。
func TestService_Authenticate_NotApproved(t *testing.T) {
	f := newFixture(model.PollStatusActive)

	_, err := f.svc.Authenticate(context.Background(), "poll-1", Credentials{Token: "tok-pending"})
	if !model.HasCode(err, model.ErrCodeNotAParticipant) {
		t.Fatalf("expected NOT_A_PARTICIPANT, got %v", err)
	}
}

// TestService_Authenticate_PollNotOpen はdraft・cancelledの投票でセッションを発行しないことを検証する。
func TestService_Authenticate_PollNotOpen(t *testing.T) {
	for _, status := range []model.PollStatus{model.PollStatusDraft, model.PollStatusCancelled} {
		f := newFixture(status)
		_, err := f.svc.Authenticate(context.Background(), "poll-1", Credentials{Token: "tok-1"})
		if !model.HasCode(err, model.ErrCodePollNotOpen) {
			t.Errorf("%s: expected POLL_NOT_OPEN, got %v", status, err)
		}
	}
}

// TestService_Authenticate_NotStarted は開始日時前の投票を拒否することを検証する。
func TestService_Authenticate_NotStarted(t *testing.T) {
	f := newFixture(model.PollStatusActive)
	future := testNow.Add(time.Hour)
	f.poll.StartDate = &future

	_, err := f.svc.Authenticate(context.Background(), "poll-1", Credentials{Token: "tok-1"})
	if !model.HasCode(err, model.ErrCodePollNotOpen) {
		t.Fatalf("expected POLL_NOT_OPEN, got %v", err)
	}
}

// TestService_Authenticate_CompletedIssuesReadOnly は終了した投票で閲覧専用セッションが発行されることを検証する。
func TestService_Authenticate_CompletedIssuesReadOnly(t *testing.T) {
	f := newFixture(model.PollStatusCompleted)

	g, err := f.svc.Authenticate(context.Background(), "poll-1", Credentials{Token: "tok-1"})
	if err != nil {
		t.Fatalf("Authenticate returned error: %v", err)
	}
	if !g.Session.ReadOnly || g.CanChangeVote {
		t.Errorf("expected read-only session, got readOnly=%v canChange=%v", g.Session.ReadOnly, g.CanChangeVote)
	}
}

// TestService_Authenticate_VotedWithoutRevote は投票済みで再投票不可でもセッションが発行されることを検証する。
func TestService_Authenticate_VotedWithoutRevote(t *testing.T) {
	f := newFixture(model.PollStatusActive)

	g, err := f.svc.Authenticate(context.Background(), "poll-1", Credentials{Token: "tok-voted"})
	if err != nil {
		t.Fatalf("Authenticate returned error: %v", err)
	}
	if !g.Participant.HasVoted || g.CanChangeVote {
		t.Errorf("expected hasVoted=true canChangeVote=false, got %v/%v", g.Participant.HasVoted, g.CanChangeVote)
	}

	f.poll.Settings.AllowVoteChanges = true
	g, err = f.svc.Authenticate(context.Background(), "poll-1", Credentials{Token: "tok-voted"})
	if err != nil {
		t.Fatalf("Authenticate returned error: %v", err)
	}
	if !g.CanChangeVote {
		t.Error("expected canChangeVote=true when vote changes are allowed")
	}
}

// TestService_ResolveSession は有効なセッションから参加者が解決されることを検証する。
func TestService_ResolveSession(t *testing.T) {
	f := newFixture(model.PollStatusActive)
	ctx := context.Background()
	g, err := f.svc.Authenticate(ctx, "poll-1", Credentials{Token: "tok-1"})
	if err != nil {
		t.Fatalf("Authenticate returned error: %v", err)
	}

	r, err := f.svc.ResolveSession(ctx, "poll-1", g.Session.ID)
	if err != nil {
		t.Fatalf("ResolveSession returned error: %v", err)
	}
	if r.Participant.ID != "p-ext" || r.Poll.ID != "poll-1" {
		t.Errorf("resolved = %+v", r)
	}

	if _, err := f.svc.ResolveSession(ctx, "poll-2", g.Session.ID); !model.HasCode(err, model.ErrCodeInvalidToken) {
		t.Errorf("other poll: expected INVALID_TOKEN, got %v", err)
	}
	if _, err := f.svc.ResolveSession(ctx, "poll-1", "unknown"); !model.HasCode(err, model.ErrCodeInvalidToken) {
		t.Errorf("unknown: expected INVALID_TOKEN, got %v", err)
	}
}

// TestService_ResolveSession_Expired は期限切れのセッションが拒否され削除されることを検証する。
func TestService_ResolveSession_Expired(t *testing.T) {
	f := newFixture(model.PollStatusActive)
	f.sessions.sessions["old"] = &model.VotingSession{
		ID: "old", PollID: "poll-1", ParticipantID: "p-ext", ExpiresAt: testNow.Add(-time.Second),
	}

	_, err := f.svc.ResolveSession(context.Background(), "poll-1", "old")
	if !model.HasCode(err, model.ErrCodeSessionExpired) {
		t.Fatalf("expected SESSION_EXPIRED, got %v", err)
	}
	if len(f.sessions.deleted) != 1 {
		t.Error("expired session should be deleted on use")
	}
}

// TestService_ResolveSession_RemovedParticipant は名簿から削除された参加者のセッションを拒否することを検証する。
func TestService_ResolveSession_RemovedParticipant(t *testing.T) {
	f := newFixture(model.PollStatusActive)
	f.sessions.sessions["s"] = &model.VotingSession{
		ID: "s", PollID: "poll-1", ParticipantID: "p-gone", ExpiresAt: testNow.Add(time.Minute),
	}

	_, err := f.svc.ResolveSession(context.Background(), "poll-1", "s")
	if !model.HasCode(err, model.ErrCodeNotAParticipant) {
		t.Fatalf("expected NOT_A_PARTICIPANT, got %v", err)
	}
}

// TestService_Authenticate_StoreFailure は保存失敗がAPIErrorにならず内部エラーとして記録されることを検証する。
func TestService_Authenticate_StoreFailure(t *testing.T) {
	f := newFixture(model.PollStatusActive)
	f.sessions.createFn = func(s *model.VotingSession) error { return errors.New("db down") }

	_, err := f.svc.Authenticate(context.Background(), "poll-1", Credentials{Token: "tok-1"})
	if err == nil {
		t.Fatal("expected error")
	}
	if len(f.observer.failures) != 1 || f.observer.failures[0] != "internal" {
		t.Errorf("failures = %v, want [internal]", f.observer.failures)
	}
}
