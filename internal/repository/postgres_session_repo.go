package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/tallyman/internal/model"
)

// PostgresSessionRepo はPostgreSQLを使用した投票セッションのリポジトリ。
// 期限切れ行はworker/cleanupが定期的に削除する。
type PostgresSessionRepo struct {
	db *sql.DB
}

// NewPostgresSessionRepo はPostgresSessionRepoを生成する。
func NewPostgresSessionRepo(db *sql.DB) *PostgresSessionRepo {
	return &PostgresSessionRepo{db: db}
}

// Create はセッションを作成する。
func (r *PostgresSessionRepo) Create(ctx context.Context, session *model.VotingSession) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO voting_sessions (id, poll_id, participant_id, read_only, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		session.ID, session.PollID, session.ParticipantID, session.ReadOnly,
		session.ExpiresAt, session.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create voting session: %w", err)
	}
	return nil
}

// FindByID は指定IDのセッションを取得する。期限切れでも返し、判定は呼び出し側で行う。
func (r *PostgresSessionRepo) FindByID(ctx context.Context, id string) (*model.VotingSession, error) {
	session := &model.VotingSession{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, poll_id, participant_id, read_only, expires_at, created_at
		 FROM voting_sessions
		 WHERE id = $1`,
		id,
	).Scan(&session.ID, &session.PollID, &session.ParticipantID, &session.ReadOnly,
		&session.ExpiresAt, &session.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find voting session: %w", err)
	}

	return session, nil
}

// DeleteByID は指定IDのセッションを削除する。
func (r *PostgresSessionRepo) DeleteByID(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM voting_sessions WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to delete voting session: %w", err)
	}
	return nil
}

// DeleteByParticipantID は指定参加者の全セッションを削除する。
func (r *PostgresSessionRepo) DeleteByParticipantID(ctx context.Context, participantID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM voting_sessions WHERE participant_id = $1`,
		participantID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete participant sessions: %w", err)
	}
	return nil
}

// compile-time interface check
var _ VotingSessionRepository = (*PostgresSessionRepo)(nil)
