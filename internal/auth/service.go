// Package auth は投票参加者の認証と投票セッションの発行、管理APIのログインを提供する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hitoshi/tallyman/internal/model"
	"github.com/hitoshi/tallyman/internal/repository"
)

// PollReader は投票の取得インターフェース。終了日時を反映した状態を返すこと。
type PollReader interface {
	Get(ctx context.Context, pollID string) (*model.Poll, error)
}

// RosterReader は名簿の参照インターフェース。
type RosterReader interface {
	LookupByID(ctx context.Context, pollID, participantID string) (*model.Participant, error)
	LookupByUserID(ctx context.Context, pollID, userID string) (*model.Participant, error)
	LookupByToken(ctx context.Context, pollID, token string) (*model.Participant, error)
	ValidateToken(ctx context.Context, pollID, participantID, token string) (*model.Participant, error)
}

// Observer は認証結果の通知を受け取るインターフェース。
type Observer interface {
	ObserveSessionIssued(readOnly bool)
	ObserveAuthFailure(reason string)
}

// Credentials は参加者の認証情報。
// Tokenが指定された場合は外部参加者のトークン認証、それ以外は登録ユーザーのパスワード認証を行う。
type Credentials struct {
	Email         string
	Password      string
	ParticipantID string
	Token         string
}

// Grant は認証成功時に返す投票セッションと参加者の状態。
type Grant struct {
	Session       *model.VotingSession
	Participant   *model.Participant
	CanChangeVote bool
}

// Resolved は投票セッションから解決した投票と参加者。
type Resolved struct {
	Session     *model.VotingSession
	Poll        *model.Poll
	Participant *model.Participant
}

// Service は投票セッションの発行と検証を行う。
type Service struct {
	polls       PollReader
	roster      RosterReader
	directory   CredentialVerifier
	sessionRepo repository.VotingSessionRepository
	ttl         time.Duration
	observer    Observer
	now         func() time.Time
}

// NewService はServiceを生成する。
func NewService(
	polls PollReader,
	roster RosterReader,
	directory CredentialVerifier,
	sessionRepo repository.VotingSessionRepository,
	ttl time.Duration,
) *Service {
	return &Service{
		polls:       polls,
		roster:      roster,
		directory:   directory,
		sessionRepo: sessionRepo,
		ttl:         ttl,
		now:         time.Now,
	}
}

// SetObserver は認証結果の通知先を設定する。
func (s *Service) SetObserver(o Observer) {
	s.observer = o
}

// Authenticate は参加者を認証し、(投票, 参加者) に紐づく投票セッションを発行する。
// activeの投票では投票用、completedの投票では結果閲覧用（読み取り専用）のセッションを発行する。
// 投票済みで再投票が許可されていない場合もセッションは発行するが、CanChangeVoteはfalseになる。
func (s *Service) Authenticate(ctx context.Context, pollID string, creds Credentials) (*Grant, error) {
	grant, err := s.authenticate(ctx, pollID, creds)
	if err != nil {
		s.observeFailure(err)
		return nil, err
	}
	if s.observer != nil {
		s.observer.ObserveSessionIssued(grant.Session.ReadOnly)
	}
	return grant, nil
}

func (s *Service) authenticate(ctx context.Context, pollID string, creds Credentials) (*Grant, error) {
	poll, err := s.polls.Get(ctx, pollID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	readOnly := false
	switch poll.Status {
	case model.PollStatusActive:
		if !poll.HasStarted(now) {
			return nil, model.NewPollNotStartedError()
		}
	case model.PollStatusCompleted:
		readOnly = true
	default:
		return nil, model.NewPollNotOpenError(poll.Status)
	}

	p, err := s.identify(ctx, pollID, creds)
	if err != nil {
		return nil, err
	}
	if !p.CanVote() {
		return nil, model.NewNotAParticipantError()
	}

	id, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}
	session := &model.VotingSession{
		ID:            id,
		PollID:        pollID,
		ParticipantID: p.ID,
		ReadOnly:      readOnly,
		ExpiresAt:     now.Add(s.ttl),
		CreatedAt:     now,
	}
	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save voting session: %w", err)
	}

	slog.Info("voting session issued",
		slog.String("poll_id", pollID),
		slog.String("participant_id", p.ID),
		slog.Bool("read_only", readOnly),
		slog.Bool("has_voted", p.HasVoted),
	)

	return &Grant{
		Session:       session,
		Participant:   p,
		CanChangeVote: !readOnly && (!p.HasVoted || poll.Settings.AllowVoteChanges),
	}, nil
}

// identify は認証情報から名簿上の参加者を特定する。
func (s *Service) identify(ctx context.Context, pollID string, creds Credentials) (*model.Participant, error) {
	token := strings.TrimSpace(creds.Token)
	if token != "" {
		if creds.ParticipantID != "" {
			return s.roster.ValidateToken(ctx, pollID, creds.ParticipantID, token)
		}
		p, err := s.roster.LookupByToken(ctx, pollID, token)
		if err != nil {
			return nil, err
		}
		if p == nil {
			return nil, model.NewInvalidTokenError()
		}
		return p, nil
	}

	if strings.TrimSpace(creds.Email) == "" || creds.Password == "" {
		return nil, model.NewInvalidCredentialsError()
	}
	u, err := s.directory.VerifyCredentials(ctx, creds.Email, creds.Password)
	if err != nil {
		return nil, err
	}
	p, err := s.roster.LookupByUserID(ctx, pollID, u.ID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, model.NewNotAParticipantError()
	}
	return p, nil
}

// ResolveSession は投票セッションを検証し、投票と参加者を解決する。
// 期限切れのセッションは使用時に拒否し、その場で削除する。
func (s *Service) ResolveSession(ctx context.Context, pollID, sessionID string) (*Resolved, error) {
	if sessionID == "" {
		return nil, model.NewInvalidTokenError()
	}

	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to find voting session: %w", err)
	}
	if session == nil || session.PollID != pollID {
		return nil, model.NewInvalidTokenError()
	}
	if session.IsExpired(s.now()) {
		if err := s.sessionRepo.DeleteByID(ctx, session.ID); err != nil {
			slog.Warn("failed to delete expired voting session",
				slog.String("poll_id", pollID),
				slog.String("error", err.Error()),
			)
		}
		return nil, model.NewSessionExpiredError()
	}

	poll, err := s.polls.Get(ctx, pollID)
	if err != nil {
		return nil, err
	}

	p, err := s.roster.LookupByID(ctx, pollID, session.ParticipantID)
	if err != nil {
		if model.HasCode(err, model.ErrCodeParticipantNotFound) {
			return nil, model.NewNotAParticipantError()
		}
		return nil, err
	}
	if !p.CanVote() {
		return nil, model.NewNotAParticipantError()
	}

	return &Resolved{Session: session, Poll: poll, Participant: p}, nil
}

func (s *Service) observeFailure(err error) {
	if s.observer == nil {
		return
	}
	reason := "internal"
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		reason = strings.ToLower(apiErr.Code)
	}
	s.observer.ObserveAuthFailure(reason)
}

// generateSessionID は暗号的に安全なセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
