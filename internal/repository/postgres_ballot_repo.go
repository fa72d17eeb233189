package repository

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/hitoshi/tallyman/internal/model"
)

// PostgresBallotRepo はPostgreSQLを使用した投票内容のリポジトリ。
type PostgresBallotRepo struct {
	db *sql.DB
}

// NewPostgresBallotRepo はPostgresBallotRepoを生成する。
func NewPostgresBallotRepo(db *sql.DB) *PostgresBallotRepo {
	return &PostgresBallotRepo{db: db}
}

// Record は投票内容を1トランザクションで記録する。
// 投票行をFOR SHAREで、参加者行をFOR UPDATEでロックしてから受付状態と承認状態を確認し直す。
// 同一参加者の同時投票や、確認後の中止・完了・却下との競合はこのロックで直列化される。
// 置き換え時は選択内容を全削除してから挿入し直し、versionを1つ進める。
func (r *PostgresBallotRepo) Record(ctx context.Context, ballot *model.Ballot, allowReplace bool) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// 状態遷移のUPDATEはこのロックの解放を待つため、コミットまで受付状態が変わらない
	poll := &model.Poll{}
	var endDate sql.NullTime
	err = tx.QueryRowContext(ctx,
		`SELECT status, end_date FROM polls WHERE id = $1 FOR SHARE`,
		ballot.PollID,
	).Scan(&poll.Status, &endDate)
	if err == sql.ErrNoRows {
		return false, ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("failed to lock poll: %w", err)
	}
	if endDate.Valid {
		poll.EndDate = &endDate.Time
	}
	if status := poll.EffectiveStatus(ballot.SubmittedAt); status != model.PollStatusActive {
		return false, &PollClosedError{Status: status}
	}

	var participantStatus model.ParticipantStatus
	err = tx.QueryRowContext(ctx,
		`SELECT status FROM participants WHERE id = $1 AND poll_id = $2 FOR UPDATE`,
		ballot.ParticipantID, ballot.PollID,
	).Scan(&participantStatus)
	if err == sql.ErrNoRows {
		return false, ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("failed to lock participant: %w", err)
	}
	if participantStatus != model.ParticipantStatusApproved {
		return false, ErrNotApproved
	}

	var (
		existingID      string
		existingVersion int
	)
	err = tx.QueryRowContext(ctx,
		`SELECT id, version FROM ballots WHERE participant_id = $1`,
		ballot.ParticipantID,
	).Scan(&existingID, &existingVersion)
	replaced := err == nil
	if err != nil && err != sql.ErrNoRows {
		return false, fmt.Errorf("failed to find ballot: %w", err)
	}

	if replaced {
		if !allowReplace {
			return false, ErrBallotAlreadyExists
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM ballot_selections WHERE ballot_id = $1`,
			existingID,
		); err != nil {
			return false, fmt.Errorf("failed to delete ballot selections: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE ballots SET version = $2, submitted_at = $3 WHERE id = $1`,
			existingID, existingVersion+1, ballot.SubmittedAt,
		); err != nil {
			return false, fmt.Errorf("failed to update ballot: %w", err)
		}
		ballot.ID = existingID
		ballot.Version = existingVersion + 1
	} else {
		ballot.Version = 1
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO ballots (id, poll_id, participant_id, version, submitted_at)
			 VALUES ($1, $2, $3, $4, $5)`,
			ballot.ID, ballot.PollID, ballot.ParticipantID, ballot.Version, ballot.SubmittedAt,
		); err != nil {
			return false, fmt.Errorf("failed to insert ballot: %w", err)
		}
	}

	questionIDs := make([]string, 0, len(ballot.Selections))
	for qid := range ballot.Selections {
		questionIDs = append(questionIDs, qid)
	}
	sort.Strings(questionIDs)

	for _, qid := range questionIDs {
		for _, oid := range ballot.Selections[qid] {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO ballot_selections (ballot_id, question_id, option_id) VALUES ($1, $2, $3)`,
				ballot.ID, qid, oid,
			); err != nil {
				return false, fmt.Errorf("failed to insert ballot selection: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return replaced, nil
}

// FindByParticipant は参加者の投票内容を取得する。見つからない場合はnilを返す。
func (r *PostgresBallotRepo) FindByParticipant(ctx context.Context, participantID string) (*model.Ballot, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT b.id, b.poll_id, b.participant_id, b.version, b.submitted_at, s.question_id, s.option_id
		 FROM ballots b
		 LEFT JOIN ballot_selections s ON s.ballot_id = b.id
		 WHERE b.participant_id = $1`,
		participantID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to find ballot: %w", err)
	}
	defer rows.Close()

	ballots, err := scanBallots(rows)
	if err != nil {
		return nil, err
	}
	if len(ballots) == 0 {
		return nil, nil
	}
	return ballots[0], nil
}

// LoadSnapshot は集計用に参加者と投票内容をREPEATABLE READの読み取り専用トランザクションで読み込む。
// 置き換え途中の投票内容が見えることはない。
func (r *PostgresBallotRepo) LoadSnapshot(ctx context.Context, pollID string) (*TallySnapshot, error) {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("failed to begin snapshot transaction: %w", err)
	}
	defer tx.Rollback()

	participants, err := queryParticipants(ctx, tx, pollID)
	if err != nil {
		return nil, err
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT b.id, b.poll_id, b.participant_id, b.version, b.submitted_at, s.question_id, s.option_id
		 FROM ballots b
		 LEFT JOIN ballot_selections s ON s.ballot_id = b.id
		 WHERE b.poll_id = $1
		 ORDER BY b.id`,
		pollID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load ballots: %w", err)
	}
	ballots, err := scanBallots(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to end snapshot transaction: %w", err)
	}

	return &TallySnapshot{Participants: participants, Ballots: ballots}, nil
}

// scanBallots は投票内容と選択のJOIN結果を投票単位にまとめる。
func scanBallots(rows *sql.Rows) ([]*model.Ballot, error) {
	var ballots []*model.Ballot
	byID := map[string]*model.Ballot{}
	for rows.Next() {
		var (
			b                    model.Ballot
			questionID, optionID sql.NullString
		)
		if err := rows.Scan(&b.ID, &b.PollID, &b.ParticipantID, &b.Version, &b.SubmittedAt,
			&questionID, &optionID); err != nil {
			return nil, fmt.Errorf("failed to scan ballot: %w", err)
		}
		current, ok := byID[b.ID]
		if !ok {
			b.Selections = model.Selections{}
			current = &b
			byID[b.ID] = current
			ballots = append(ballots, current)
		}
		if questionID.Valid && optionID.Valid {
			current.Selections[questionID.String] = append(current.Selections[questionID.String], optionID.String)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate ballots: %w", err)
	}
	return ballots, nil
}

// compile-time interface check
var _ BallotRepository = (*PostgresBallotRepo)(nil)
