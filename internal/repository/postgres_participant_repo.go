package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/tallyman/internal/model"
)

// 参加者テーブルの一意制約名（000003マイグレーションで定義）
const (
	constraintParticipantEmail = "participants_poll_email_key"
	constraintParticipantToken = "participants_poll_token_key"
)

// PostgresParticipantRepo はPostgreSQLを使用した名簿のリポジトリ。
type PostgresParticipantRepo struct {
	db *sql.DB
}

// NewPostgresParticipantRepo はPostgresParticipantRepoを生成する。
func NewPostgresParticipantRepo(db *sql.DB) *PostgresParticipantRepo {
	return &PostgresParticipantRepo{db: db}
}

// participantSelect はballotsをLEFT JOINし、投票済みかどうかを導出する。
const participantSelect = `SELECT p.id, p.poll_id, p.user_id, p.name, p.email, p.is_user, p.token,
	p.vote_weight, p.status, b.id IS NOT NULL, b.submitted_at, p.last_email_sent_at,
	p.created_at, p.updated_at
	FROM participants p
	LEFT JOIN ballots b ON b.participant_id = p.id`

func scanParticipant(row interface{ Scan(dest ...any) error }) (*model.Participant, error) {
	p := &model.Participant{}
	var (
		userID, token     sql.NullString
		status            string
		votedAt, lastSent sql.NullTime
	)
	err := row.Scan(&p.ID, &p.PollID, &userID, &p.Name, &p.Email, &p.IsUser, &token,
		&p.VoteWeight, &status, &p.HasVoted, &votedAt, &lastSent, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.UserID = userID.String
	p.Token = token.String
	p.Status = model.ParticipantStatus(status)
	if votedAt.Valid {
		t := votedAt.Time
		p.VotedAt = &t
	}
	if lastSent.Valid {
		t := lastSent.Time
		p.LastEmailSentAt = &t
	}
	return p, nil
}

func (r *PostgresParticipantRepo) findOne(ctx context.Context, where string, args ...any) (*model.Participant, error) {
	p, err := scanParticipant(r.db.QueryRowContext(ctx, participantSelect+" WHERE "+where, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find participant: %w", err)
	}
	return p, nil
}

// FindByID は指定IDの参加者を取得する。見つからない場合はnilを返す。
func (r *PostgresParticipantRepo) FindByID(ctx context.Context, pollID, id string) (*model.Participant, error) {
	return r.findOne(ctx, "p.poll_id = $1 AND p.id = $2", pollID, id)
}

// FindByEmail はメールアドレスで参加者を取得する。見つからない場合はnilを返す。
func (r *PostgresParticipantRepo) FindByEmail(ctx context.Context, pollID, email string) (*model.Participant, error) {
	return r.findOne(ctx, "p.poll_id = $1 AND p.email_key = $2", pollID, model.NormalizeEmail(email))
}

// FindByToken はアクセストークンで参加者を取得する。見つからない場合はnilを返す。
func (r *PostgresParticipantRepo) FindByToken(ctx context.Context, pollID, token string) (*model.Participant, error) {
	return r.findOne(ctx, "p.poll_id = $1 AND p.token = $2", pollID, token)
}

// FindByUserID は登録ユーザーIDで参加者を取得する。見つからない場合はnilを返す。
func (r *PostgresParticipantRepo) FindByUserID(ctx context.Context, pollID, userID string) (*model.Participant, error) {
	return r.findOne(ctx, "p.poll_id = $1 AND p.user_id = $2", pollID, userID)
}

// ListByPoll は投票の参加者一覧を登録順に返す。
func (r *PostgresParticipantRepo) ListByPoll(ctx context.Context, pollID string) ([]*model.Participant, error) {
	return queryParticipants(ctx, r.db, pollID)
}

// queryer は*sql.DBと*sql.Txの共通部分。
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func queryParticipants(ctx context.Context, q queryer, pollID string) ([]*model.Participant, error) {
	rows, err := q.QueryContext(ctx,
		participantSelect+" WHERE p.poll_id = $1 ORDER BY p.created_at, p.id",
		pollID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list participants: %w", err)
	}
	defer rows.Close()

	var participants []*model.Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan participant: %w", err)
		}
		participants = append(participants, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate participants: %w", err)
	}
	return participants, nil
}

// Create は参加者を作成する。
func (r *PostgresParticipantRepo) Create(ctx context.Context, p *model.Participant) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO participants (id, poll_id, user_id, name, email, email_key, is_user, token,
			vote_weight, status, last_email_sent_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		p.ID, p.PollID, nullString(p.UserID), p.Name, p.Email, model.NormalizeEmail(p.Email),
		p.IsUser, nullString(p.Token), p.VoteWeight, string(p.Status), p.LastEmailSentAt,
		p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return mapParticipantWriteError(err, "failed to insert participant")
	}
	return nil
}

// Update は名前・重み・トークン・状態・メール送信日時を更新する。
func (r *PostgresParticipantRepo) Update(ctx context.Context, p *model.Participant) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE participants
		 SET name = $3, vote_weight = $4, token = $5, status = $6, last_email_sent_at = $7, updated_at = $8
		 WHERE poll_id = $1 AND id = $2`,
		p.PollID, p.ID, p.Name, p.VoteWeight, nullString(p.Token), string(p.Status),
		p.LastEmailSentAt, p.UpdatedAt,
	)
	if err != nil {
		return mapParticipantWriteError(err, "failed to update participant")
	}
	return requireAffected(result)
}

// Delete は参加者を削除する。
func (r *PostgresParticipantRepo) Delete(ctx context.Context, pollID, id string) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM participants WHERE poll_id = $1 AND id = $2`,
		pollID, id,
	)
	if err != nil {
		return fmt.Errorf("failed to delete participant: %w", err)
	}
	return requireAffected(result)
}

// mapParticipantWriteError は一意制約違反を判定用エラーに変換する。
func mapParticipantWriteError(err error, msg string) error {
	if constraint, ok := uniqueViolationConstraint(err); ok {
		switch constraint {
		case constraintParticipantEmail:
			return ErrDuplicateEmail
		case constraintParticipantToken:
			return ErrDuplicateToken
		}
	}
	return fmt.Errorf("%s: %w", msg, err)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// compile-time interface check
var _ ParticipantRepository = (*PostgresParticipantRepo)(nil)
