package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/tallyman/internal/model"
)

// PostgresPollStaffRepo はPostgreSQLを使用した編集者・監査者割り当てのリポジトリ。
type PostgresPollStaffRepo struct {
	db *sql.DB
}

// NewPostgresPollStaffRepo はPostgresPollStaffRepoを生成する。
func NewPostgresPollStaffRepo(db *sql.DB) *PostgresPollStaffRepo {
	return &PostgresPollStaffRepo{db: db}
}

// ListByPoll は投票に割り当てられた編集者・監査者をユーザー情報付きで返す。
func (r *PostgresPollStaffRepo) ListByPoll(ctx context.Context, pollID string) ([]model.PollStaff, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT s.poll_id, s.user_id, s.role, u.name, u.email, s.created_at
		 FROM poll_staff s
		 JOIN users u ON u.id = s.user_id
		 WHERE s.poll_id = $1
		 ORDER BY s.role, u.email_key`,
		pollID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list poll staff: %w", err)
	}
	defer rows.Close()

	var staff []model.PollStaff
	for rows.Next() {
		var s model.PollStaff
		var role string
		if err := rows.Scan(&s.PollID, &s.UserID, &role, &s.Name, &s.Email, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan poll staff: %w", err)
		}
		s.Role = model.PollRole(role)
		staff = append(staff, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate poll staff: %w", err)
	}
	return staff, nil
}

// RolesOf は指定ユーザーの投票に対するロール一覧を返す。管理者（manager）も含む。
func (r *PostgresPollStaffRepo) RolesOf(ctx context.Context, pollID, userID string) ([]model.PollRole, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT 'manager' FROM polls WHERE id = $1 AND manager_id = $2
		 UNION ALL
		 SELECT role FROM poll_staff WHERE poll_id = $1 AND user_id = $2`,
		pollID, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to find poll roles: %w", err)
	}
	defer rows.Close()

	var roles []model.PollRole
	for rows.Next() {
		var role string
		if err := rows.Scan(&role); err != nil {
			return nil, fmt.Errorf("failed to scan poll role: %w", err)
		}
		roles = append(roles, model.PollRole(role))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate poll roles: %w", err)
	}
	return roles, nil
}

// ReplaceRole は指定ロールの割り当てを丸ごと置き換える。
func (r *PostgresPollStaffRepo) ReplaceRole(ctx context.Context, pollID string, role model.PollRole, userIDs []string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM poll_staff WHERE poll_id = $1 AND role = $2`,
		pollID, string(role),
	); err != nil {
		return fmt.Errorf("failed to clear poll staff: %w", err)
	}

	for _, userID := range userIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO poll_staff (poll_id, user_id, role) VALUES ($1, $2, $3)
			 ON CONFLICT DO NOTHING`,
			pollID, userID, string(role),
		); err != nil {
			return fmt.Errorf("failed to insert poll staff: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// compile-time interface check
var _ PollStaffRepository = (*PostgresPollStaffRepo)(nil)
