package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"habitline/internal/domain"
)

const taskCols = `id,user_id,title,kind,is_active,penalty_amount,order_index,created_at,updated_at`

func scanTask(row *sql.Row) (domain.Task, error) {
	var t domain.Task
	var penalty sql.NullString
	err := row.Scan(&t.ID, &t.UserID, &t.Title, &t.Kind, &t.IsActive, &penalty, &t.OrderIndex, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	t.PenaltyAmount, err = scanDec(penalty)
	return t, err
}

func scanTaskRows(rows *sql.Rows) ([]domain.Task, error) {
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		var t domain.Task
		var penalty sql.NullString
		if err := rows.Scan(&t.ID, &t.UserID, &t.Title, &t.Kind, &t.IsActive, &penalty, &t.OrderIndex, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		var err error
		if t.PenaltyAmount, err = scanDec(penalty); err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r Repo) InsertTaskTx(ctx context.Context, tx *sql.Tx, t domain.Task) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO tasks(user_id,title,kind,is_active,penalty_amount,order_index,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?)`,
		t.UserID, t.Title, t.Kind, t.IsActive, nullableDec(t.PenaltyAmount), t.OrderIndex, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) GetTask(ctx context.Context, userID, id int64) (domain.Task, error) {
	return getTask(ctx, r.DB, userID, id)
}

func (r Repo) GetTaskTx(ctx context.Context, tx *sql.Tx, userID, id int64) (domain.Task, error) {
	return getTask(ctx, tx, userID, id)
}

func getTask(ctx context.Context, q querier, userID, id int64) (domain.Task, error) {
	return scanTask(q.QueryRowContext(ctx, `SELECT `+taskCols+` FROM tasks WHERE id=? AND user_id=?`, id, userID))
}

// ListTasks returns the user's tasks ordered for display. A nil kind returns
// all kinds; inactive tasks are included only when requested.
func (r Repo) ListTasks(ctx context.Context, userID int64, kind *domain.TaskKind, includeInactive bool) ([]domain.Task, error) {
	clauses := []string{"user_id=?"}
	args := []any{userID}
	if kind != nil {
		clauses = append(clauses, "kind=?")
		args = append(args, *kind)
	}
	if !includeInactive {
		clauses = append(clauses, "is_active=1")
	}
	query := `SELECT ` + taskCols + ` FROM tasks WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY order_index, id`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return scanTaskRows(rows)
}

func (r Repo) ListActiveTasksByKindTx(ctx context.Context, tx *sql.Tx, userID int64, kind domain.TaskKind) ([]domain.Task, error) {
	rows, err := tx.QueryContext(ctx, `SELECT `+taskCols+` FROM tasks WHERE user_id=? AND kind=? AND is_active=1 ORDER BY order_index, id`, userID, kind)
	if err != nil {
		return nil, err
	}
	return scanTaskRows(rows)
}

// UpdateTaskOpts carries the optional fields of a task update. SetPenalty
// distinguishes "clear the override" (true, nil amount) from "leave as is".
type UpdateTaskOpts struct {
	Title         *string
	Kind          *domain.TaskKind
	IsActive      *bool
	SetPenalty    bool
	PenaltyAmount *decimal.Decimal
	OrderIndex    *int
}

func (r Repo) UpdateTaskTx(ctx context.Context, tx *sql.Tx, userID, id int64, opts UpdateTaskOpts, updatedAt string) error {
	var (
		fields []string
		args   []any
	)
	if opts.Title != nil {
		fields = append(fields, "title=?")
		args = append(args, *opts.Title)
	}
	if opts.Kind != nil {
		fields = append(fields, "kind=?")
		args = append(args, *opts.Kind)
	}
	if opts.IsActive != nil {
		fields = append(fields, "is_active=?")
		args = append(args, *opts.IsActive)
	}
	if opts.SetPenalty {
		fields = append(fields, "penalty_amount=?")
		args = append(args, nullableDec(opts.PenaltyAmount))
	}
	if opts.OrderIndex != nil {
		fields = append(fields, "order_index=?")
		args = append(args, *opts.OrderIndex)
	}
	if len(fields) == 0 {
		return nil
	}
	fields = append(fields, "updated_at=?")
	args = append(args, updatedAt, id, userID)
	res, err := tx.ExecContext(ctx, fmt.Sprintf(`UPDATE tasks SET %s WHERE id=? AND user_id=?`, strings.Join(fields, ",")), args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteTaskTx(ctx context.Context, tx *sql.Tx, userID, id int64) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id=? AND user_id=?`, id, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) MaxOrderIndexTx(ctx context.Context, tx *sql.Tx, userID int64) (int, error) {
	var max sql.NullInt64
	err := tx.QueryRowContext(ctx, `SELECT MAX(order_index) FROM tasks WHERE user_id=?`, userID).Scan(&max)
	if err != nil {
		return 0, err
	}
	if !max.Valid {
		return -1, nil
	}
	return int(max.Int64), nil
}

func (r Repo) ListTaskIDsTx(ctx context.Context, tx *sql.Tx, userID int64) ([]int64, error) {
	rows, err := tx.QueryContext(ctx, `SELECT id FROM tasks WHERE user_id=?`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r Repo) UpdateTaskOrderTx(ctx context.Context, tx *sql.Tx, userID, id int64, orderIndex int, updatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE tasks SET order_index=?,updated_at=? WHERE id=? AND user_id=?`, orderIndex, updatedAt, id, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
