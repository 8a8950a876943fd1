package repo

import (
	"context"
	"database/sql"

	"github.com/shopspring/decimal"

	"habitline/internal/domain"
)

const instanceCols = `id,user_id,session_id,task_id,task_title,task_kind,status,penalty_applied,created_at,updated_at`

func scanInstance(row *sql.Row) (domain.Instance, error) {
	var in domain.Instance
	var taskID sql.NullInt64
	var penalty sql.NullString
	err := row.Scan(&in.ID, &in.UserID, &in.SessionID, &taskID, &in.TaskTitle, &in.TaskKind, &in.Status, &penalty, &in.CreatedAt, &in.UpdatedAt)
	if err == sql.ErrNoRows {
		return in, ErrNotFound
	}
	if err != nil {
		return in, err
	}
	if taskID.Valid {
		in.TaskID = &taskID.Int64
	}
	in.PenaltyApplied, err = scanDec(penalty)
	return in, err
}

func scanInstanceRows(rows *sql.Rows) ([]domain.Instance, error) {
	defer rows.Close()
	var res []domain.Instance
	for rows.Next() {
		var in domain.Instance
		var taskID sql.NullInt64
		var penalty sql.NullString
		if err := rows.Scan(&in.ID, &in.UserID, &in.SessionID, &taskID, &in.TaskTitle, &in.TaskKind, &in.Status, &penalty, &in.CreatedAt, &in.UpdatedAt); err != nil {
			return nil, err
		}
		if taskID.Valid {
			in.TaskID = &taskID.Int64
		}
		var err error
		if in.PenaltyApplied, err = scanDec(penalty); err != nil {
			return nil, err
		}
		res = append(res, in)
	}
	return res, rows.Err()
}

func (r Repo) InsertInstanceTx(ctx context.Context, tx *sql.Tx, in domain.Instance) (int64, error) {
	var taskID any
	if in.TaskID != nil {
		taskID = *in.TaskID
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO instances(user_id,session_id,task_id,task_title,task_kind,status,penalty_applied,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		in.UserID, in.SessionID, taskID, in.TaskTitle, in.TaskKind, in.Status, nullableDec(in.PenaltyApplied), in.CreatedAt, in.UpdatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) GetInstance(ctx context.Context, userID, id int64) (domain.Instance, error) {
	return getInstance(ctx, r.DB, userID, id)
}

func (r Repo) GetInstanceTx(ctx context.Context, tx *sql.Tx, userID, id int64) (domain.Instance, error) {
	return getInstance(ctx, tx, userID, id)
}

func getInstance(ctx context.Context, q querier, userID, id int64) (domain.Instance, error) {
	return scanInstance(q.QueryRowContext(ctx, `SELECT `+instanceCols+` FROM instances WHERE id=? AND user_id=?`, id, userID))
}

// FindInstanceByTaskTx looks up the instance of a task inside a session, used
// to keep backlog additions idempotent.
func (r Repo) FindInstanceByTaskTx(ctx context.Context, tx *sql.Tx, sessionID, taskID int64) (domain.Instance, error) {
	return scanInstance(tx.QueryRowContext(ctx, `SELECT `+instanceCols+` FROM instances WHERE session_id=? AND task_id=?`, sessionID, taskID))
}

func (r Repo) ListInstancesBySession(ctx context.Context, sessionID int64) ([]domain.Instance, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+instanceCols+` FROM instances WHERE session_id=? ORDER BY id`, sessionID)
	if err != nil {
		return nil, err
	}
	return scanInstanceRows(rows)
}

func (r Repo) ListInstancesBySessionTx(ctx context.Context, tx *sql.Tx, sessionID int64) ([]domain.Instance, error) {
	rows, err := tx.QueryContext(ctx, `SELECT `+instanceCols+` FROM instances WHERE session_id=? ORDER BY id`, sessionID)
	if err != nil {
		return nil, err
	}
	return scanInstanceRows(rows)
}

// ListInstancesHistory returns the user's most recent instances across all
// sessions, newest first, capped at 200 rows.
func (r Repo) ListInstancesHistory(ctx context.Context, userID int64) ([]domain.Instance, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+instanceCols+` FROM instances WHERE user_id=? ORDER BY created_at DESC, id DESC LIMIT 200`, userID)
	if err != nil {
		return nil, err
	}
	return scanInstanceRows(rows)
}

func (r Repo) UpdateInstanceStatusTx(ctx context.Context, tx *sql.Tx, id int64, status domain.InstanceStatus, penalty *decimal.Decimal, updatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE instances SET status=?,penalty_applied=?,updated_at=? WHERE id=?`,
		status, nullableDec(penalty), updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteInstancesForUserTx(ctx context.Context, tx *sql.Tx, userID int64) (int64, error) {
	res, err := tx.ExecContext(ctx, `DELETE FROM instances WHERE user_id=?`, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// statsScopeClause returns the session scope filter for a stats period.
// days and weeks aggregate over their matching session track; months spans
// both tracks.
func statsScopeClause(period domain.StatsPeriod) string {
	switch period {
	case domain.PeriodDays:
		return ` AND s.scope='day'`
	case domain.PeriodWeeks:
		return ` AND s.scope='week'`
	}
	return ``
}

func (r Repo) StatsAggregate(ctx context.Context, userID int64, period domain.StatsPeriod) (int, decimal.Decimal, error) {
	query := `SELECT COUNT(*), COALESCE(SUM(CAST(i.penalty_applied AS REAL)),0)
FROM instances i JOIN sessions s ON s.id=i.session_id
WHERE i.user_id=? AND i.status='failed'` + statsScopeClause(period)
	var count int
	var total float64
	if err := r.DB.QueryRowContext(ctx, query, userID).Scan(&count, &total); err != nil {
		return 0, decimal.Zero, err
	}
	// summed as REAL in SQLite; re-sum exactly when anything failed
	if count == 0 {
		return 0, decimal.Zero, nil
	}
	sum, err := r.sumFailedPenalties(ctx, userID, period)
	if err != nil {
		return 0, decimal.Zero, err
	}
	return count, sum, nil
}

func (r Repo) sumFailedPenalties(ctx context.Context, userID int64, period domain.StatsPeriod) (decimal.Decimal, error) {
	query := `SELECT i.penalty_applied
FROM instances i JOIN sessions s ON s.id=i.session_id
WHERE i.user_id=? AND i.status='failed' AND i.penalty_applied IS NOT NULL` + statsScopeClause(period)
	rows, err := r.DB.QueryContext(ctx, query, userID)
	if err != nil {
		return decimal.Zero, err
	}
	defer rows.Close()
	total := decimal.Zero
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return decimal.Zero, err
		}
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return decimal.Zero, err
		}
		total = total.Add(d)
	}
	return total, rows.Err()
}

// StatsRows returns per-instance detail rows for a period, newest session
// first, together with per-status counts.
func (r Repo) StatsRows(ctx context.Context, userID int64, period domain.StatsPeriod) ([]domain.StatsDetailRow, map[string]int, error) {
	query := `SELECT i.task_title, i.status, s.started_at, COALESCE(i.penalty_applied,'0')
FROM instances i JOIN sessions s ON s.id=i.session_id
WHERE i.user_id=?` + statsScopeClause(period) + `
ORDER BY s.started_at DESC, i.id DESC`
	rows, err := r.DB.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()
	var res []domain.StatsDetailRow
	counts := map[string]int{}
	for rows.Next() {
		var row domain.StatsDetailRow
		var penalty string
		if err := rows.Scan(&row.TaskTitle, &row.Status, &row.StartedAt, &penalty); err != nil {
			return nil, nil, err
		}
		if row.TotalPenalty, err = decimal.NewFromString(penalty); err != nil {
			return nil, nil, err
		}
		counts[string(row.Status)]++
		res = append(res, row)
	}
	return res, counts, rows.Err()
}
