package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/tallyman/internal/model"
	"github.com/redis/go-redis/v9"
)

const (
	redisSessionKeyPrefix     = "tallyman:session:"
	redisParticipantKeyPrefix = "tallyman:participant-sessions:"
)

// RedisSessionRepo はRedisを使用した投票セッションのリポジトリ。
// キーのTTLをセッションの有効期限に合わせるため、期限切れセッションは自動的に消える。
type RedisSessionRepo struct {
	client redis.Cmdable
}

// NewRedisSessionRepo はRedisSessionRepoを生成する。
func NewRedisSessionRepo(client redis.Cmdable) *RedisSessionRepo {
	return &RedisSessionRepo{client: client}
}

// redisSession はRedisに保存するセッションのJSON表現。
type redisSession struct {
	ID            string    `json:"id"`
	PollID        string    `json:"poll_id"`
	ParticipantID string    `json:"participant_id"`
	ReadOnly      bool      `json:"read_only"`
	ExpiresAt     time.Time `json:"expires_at"`
	CreatedAt     time.Time `json:"created_at"`
}

// Create はセッションを保存し、参加者ごとのインデックスに登録する。
func (r *RedisSessionRepo) Create(ctx context.Context, session *model.VotingSession) error {
	ttl := time.Until(session.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("voting session already expired")
	}

	data, err := json.Marshal(redisSession{
		ID:            session.ID,
		PollID:        session.PollID,
		ParticipantID: session.ParticipantID,
		ReadOnly:      session.ReadOnly,
		ExpiresAt:     session.ExpiresAt,
		CreatedAt:     session.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to encode voting session: %w", err)
	}

	indexKey := redisParticipantKeyPrefix + session.ParticipantID
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, redisSessionKeyPrefix+session.ID, data, ttl)
	pipe.SAdd(ctx, indexKey, session.ID)
	// インデックスのTTLは所属セッションの最長の有効期限に合わせる（Redis 7以降）
	pipe.ExpireNX(ctx, indexKey, ttl)
	pipe.ExpireGT(ctx, indexKey, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store voting session: %w", err)
	}
	return nil
}

// FindByID は指定IDのセッションを取得する。見つからない場合はnilを返す。
func (r *RedisSessionRepo) FindByID(ctx context.Context, id string) (*model.VotingSession, error) {
	data, err := r.client.Get(ctx, redisSessionKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find voting session: %w", err)
	}

	var s redisSession
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to decode voting session: %w", err)
	}
	return &model.VotingSession{
		ID:            s.ID,
		PollID:        s.PollID,
		ParticipantID: s.ParticipantID,
		ReadOnly:      s.ReadOnly,
		ExpiresAt:     s.ExpiresAt,
		CreatedAt:     s.CreatedAt,
	}, nil
}

// DeleteByID は指定IDのセッションを削除する。
func (r *RedisSessionRepo) DeleteByID(ctx context.Context, id string) error {
	if err := r.client.Del(ctx, redisSessionKeyPrefix+id).Err(); err != nil {
		return fmt.Errorf("failed to delete voting session: %w", err)
	}
	return nil
}

// DeleteByParticipantID は指定参加者の全セッションを削除する。
func (r *RedisSessionRepo) DeleteByParticipantID(ctx context.Context, participantID string) error {
	indexKey := redisParticipantKeyPrefix + participantID
	ids, err := r.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return fmt.Errorf("failed to list participant sessions: %w", err)
	}

	keys := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		keys = append(keys, redisSessionKeyPrefix+id)
	}
	keys = append(keys, indexKey)

	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to delete participant sessions: %w", err)
	}
	return nil
}

// compile-time interface check
var _ VotingSessionRepository = (*RedisSessionRepo)(nil)
