package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/tallyman/internal/model"
)

// PostgresPollRepo はPostgreSQLを使用した投票定義のリポジトリ。
type PostgresPollRepo struct {
	db *sql.DB
}

// NewPostgresPollRepo はPostgresPollRepoを生成する。
func NewPostgresPollRepo(db *sql.DB) *PostgresPollRepo {
	return &PostgresPollRepo{db: db}
}

const pollColumns = `p.id, p.title, p.description, p.start_date, p.end_date, p.status,
	p.show_participant_names, p.show_vote_weights, p.show_vote_counts, p.show_results_before_end,
	p.allow_results_view, p.vote_weight_enabled, p.allow_vote_changes,
	p.will_send_emails, p.manager_id, p.created_at, p.updated_at`

func scanPoll(row interface{ Scan(dest ...any) error }) (*model.Poll, error) {
	poll := &model.Poll{}
	var (
		status     string
		start, end sql.NullTime
	)
	err := row.Scan(
		&poll.ID, &poll.Title, &poll.Description, &start, &end, &status,
		&poll.Settings.ShowParticipantNames, &poll.Settings.ShowVoteWeights,
		&poll.Settings.ShowVoteCounts, &poll.Settings.ShowResultsBeforeEnd,
		&poll.Settings.AllowResultsView, &poll.Settings.VoteWeightEnabled,
		&poll.Settings.AllowVoteChanges,
		&poll.WillSendEmails, &poll.ManagerID, &poll.CreatedAt, &poll.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	poll.Status = model.PollStatus(status)
	if start.Valid {
		t := start.Time
		poll.StartDate = &t
	}
	if end.Valid {
		t := end.Time
		poll.EndDate = &t
	}
	return poll, nil
}

// FindByID は指定IDの投票を設問・選択肢付きで取得する。見つからない場合はnilを返す。
func (r *PostgresPollRepo) FindByID(ctx context.Context, id string) (*model.Poll, error) {
	poll, err := scanPoll(r.db.QueryRowContext(ctx,
		`SELECT `+pollColumns+` FROM polls p WHERE p.id = $1`,
		id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find poll: %w", err)
	}

	questions, err := r.loadQuestions(ctx, id)
	if err != nil {
		return nil, err
	}
	poll.Questions = questions

	return poll, nil
}

// loadQuestions は設問と選択肢を表示順で読み込む。
func (r *PostgresPollRepo) loadQuestions(ctx context.Context, pollID string) ([]model.Question, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, poll_id, title, description, randomized_order, min_selection, max_selection, position
		 FROM questions WHERE poll_id = $1 ORDER BY position`,
		pollID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list questions: %w", err)
	}
	defer rows.Close()

	var questions []model.Question
	index := map[string]int{}
	for rows.Next() {
		var q model.Question
		if err := rows.Scan(&q.ID, &q.PollID, &q.Title, &q.Description, &q.RandomizedOrder,
			&q.MinSelection, &q.MaxSelection, &q.Position); err != nil {
			return nil, fmt.Errorf("failed to scan question: %w", err)
		}
		index[q.ID] = len(questions)
		questions = append(questions, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate questions: %w", err)
	}

	optRows, err := r.db.QueryContext(ctx,
		`SELECT o.id, o.question_id, o.title, o.short_description, o.long_description, o.link, o.image, o.position
		 FROM options o
		 JOIN questions q ON q.id = o.question_id
		 WHERE q.poll_id = $1
		 ORDER BY q.position, o.position`,
		pollID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list options: %w", err)
	}
	defer optRows.Close()

	for optRows.Next() {
		var o model.Option
		if err := optRows.Scan(&o.ID, &o.QuestionID, &o.Title, &o.ShortDescription,
			&o.LongDescription, &o.Link, &o.Image, &o.Position); err != nil {
			return nil, fmt.Errorf("failed to scan option: %w", err)
		}
		if i, ok := index[o.QuestionID]; ok {
			questions[i].Options = append(questions[i].Options, o)
		}
	}
	if err := optRows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate options: %w", err)
	}

	return questions, nil
}

// Create は投票を設問・選択肢と同一トランザクションで作成する。
func (r *PostgresPollRepo) Create(ctx context.Context, poll *model.Poll) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	s := poll.Settings
	_, err = tx.ExecContext(ctx,
		`INSERT INTO polls (id, title, description, start_date, end_date, status,
			show_participant_names, show_vote_weights, show_vote_counts, show_results_before_end,
			allow_results_view, vote_weight_enabled, allow_vote_changes,
			will_send_emails, manager_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		poll.ID, poll.Title, poll.Description, poll.StartDate, poll.EndDate, string(poll.Status),
		s.ShowParticipantNames, s.ShowVoteWeights, s.ShowVoteCounts, s.ShowResultsBeforeEnd,
		s.AllowResultsView, s.VoteWeightEnabled, s.AllowVoteChanges,
		poll.WillSendEmails, poll.ManagerID, poll.CreatedAt, poll.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert poll: %w", err)
	}

	if err := insertQuestions(ctx, tx, poll.ID, poll.Questions); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func insertQuestions(ctx context.Context, tx *sql.Tx, pollID string, questions []model.Question) error {
	for qi, q := range questions {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO questions (id, poll_id, title, description, randomized_order, min_selection, max_selection, position)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			q.ID, pollID, q.Title, q.Description, q.RandomizedOrder, q.MinSelection, q.MaxSelection, qi,
		)
		if err != nil {
			return fmt.Errorf("failed to insert question: %w", err)
		}
		for oi, o := range q.Options {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO options (id, question_id, title, short_description, long_description, link, image, position)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
				o.ID, q.ID, o.Title, o.ShortDescription, o.LongDescription, o.Link, o.Image, oi,
			)
			if err != nil {
				return fmt.Errorf("failed to insert option: %w", err)
			}
		}
	}
	return nil
}

// UpdateDetails はタイトル・説明・メール送信フラグ・設定を更新する。
func (r *PostgresPollRepo) UpdateDetails(ctx context.Context, poll *model.Poll) error {
	s := poll.Settings
	result, err := r.db.ExecContext(ctx,
		`UPDATE polls SET title = $2, description = $3, will_send_emails = $4,
			show_participant_names = $5, show_vote_weights = $6, show_vote_counts = $7,
			show_results_before_end = $8, allow_results_view = $9, vote_weight_enabled = $10,
			allow_vote_changes = $11, updated_at = now()
		 WHERE id = $1`,
		poll.ID, poll.Title, poll.Description, poll.WillSendEmails,
		s.ShowParticipantNames, s.ShowVoteWeights, s.ShowVoteCounts,
		s.ShowResultsBeforeEnd, s.AllowResultsView, s.VoteWeightEnabled, s.AllowVoteChanges,
	)
	if err != nil {
		return fmt.Errorf("failed to update poll: %w", err)
	}
	return requireAffected(result)
}

// UpdateSchedule は開始・終了日時を更新する。draftでない場合はErrStatusConflictを返す。
func (r *PostgresPollRepo) UpdateSchedule(ctx context.Context, pollID string, start, end *time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE polls SET start_date = $2, end_date = $3, updated_at = now()
		 WHERE id = $1 AND status = 'draft'`,
		pollID, start, end,
	)
	if err != nil {
		return fmt.Errorf("failed to update poll schedule: %w", err)
	}
	if err := requireAffected(result); err != nil {
		return ErrStatusConflict
	}
	return nil
}

// ReplaceQuestions は設問と選択肢を丸ごと置き換える。
func (r *PostgresPollRepo) ReplaceQuestions(ctx context.Context, pollID string, questions []model.Question) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var status string
	err = tx.QueryRowContext(ctx,
		`SELECT status FROM polls WHERE id = $1 FOR UPDATE`,
		pollID,
	).Scan(&status)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to lock poll: %w", err)
	}
	if model.PollStatus(status) != model.PollStatusDraft {
		return ErrStatusConflict
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM questions WHERE poll_id = $1`, pollID); err != nil {
		return fmt.Errorf("failed to delete questions: %w", err)
	}
	if err := insertQuestions(ctx, tx, pollID, questions); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE polls SET updated_at = now() WHERE id = $1`, pollID); err != nil {
		return fmt.Errorf("failed to touch poll: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// TransitionStatus は現在の状態がfromの場合のみtoへ更新する。
func (r *PostgresPollRepo) TransitionStatus(ctx context.Context, pollID string, from, to model.PollStatus) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE polls SET status = $3, updated_at = now() WHERE id = $1 AND status = $2`,
		pollID, string(from), string(to),
	)
	if err != nil {
		return fmt.Errorf("failed to update poll status: %w", err)
	}
	if err := requireAffected(result); err != nil {
		return ErrStatusConflict
	}
	return nil
}

// Delete は投票を削除する。
func (r *PostgresPollRepo) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM polls WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete poll: %w", err)
	}
	return requireAffected(result)
}

// ListAll は全投票を作成日時の降順で返す。
func (r *PostgresPollRepo) ListAll(ctx context.Context) ([]*model.Poll, error) {
	return r.listPolls(ctx, `SELECT `+pollColumns+` FROM polls p ORDER BY p.created_at DESC`)
}

// ListForUser は管理者・編集者・監査者として関与する投票を返す。
func (r *PostgresPollRepo) ListForUser(ctx context.Context, userID string) ([]*model.Poll, error) {
	return r.listPolls(ctx,
		`SELECT `+pollColumns+` FROM polls p
		 WHERE p.manager_id = $1
		    OR EXISTS (SELECT 1 FROM poll_staff s WHERE s.poll_id = p.id AND s.user_id = $1)
		 ORDER BY p.created_at DESC`,
		userID,
	)
}

func (r *PostgresPollRepo) listPolls(ctx context.Context, query string, args ...any) ([]*model.Poll, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list polls: %w", err)
	}
	defer rows.Close()

	var polls []*model.Poll
	for rows.Next() {
		poll, err := scanPoll(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan poll: %w", err)
		}
		polls = append(polls, poll)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate polls: %w", err)
	}
	return polls, nil
}

// requireAffected は更新件数が0の場合にErrNotFoundを返す。
func requireAffected(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// compile-time interface check
var _ PollRepository = (*PostgresPollRepo)(nil)
