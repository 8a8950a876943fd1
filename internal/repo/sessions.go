package repo

import (
	"context"
	"database/sql"

	"habitline/internal/domain"
)

const sessionCols = `id,user_id,scope,status,started_at,closed_at`

func scanSession(row *sql.Row) (domain.Session, error) {
	var s domain.Session
	var closed sql.NullString
	err := row.Scan(&s.ID, &s.UserID, &s.Scope, &s.Status, &s.StartedAt, &closed)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	if closed.Valid {
		s.ClosedAt = &closed.String
	}
	return s, nil
}

func (r Repo) InsertSessionTx(ctx context.Context, tx *sql.Tx, s domain.Session) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO sessions(user_id,scope,status,started_at) VALUES (?,?,?,?)`,
		s.UserID, s.Scope, s.Status, s.StartedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) GetSession(ctx context.Context, userID, id int64) (domain.Session, error) {
	return getSession(ctx, r.DB, userID, id)
}

func (r Repo) GetSessionTx(ctx context.Context, tx *sql.Tx, userID, id int64) (domain.Session, error) {
	return getSession(ctx, tx, userID, id)
}

func getSession(ctx context.Context, q querier, userID, id int64) (domain.Session, error) {
	return scanSession(q.QueryRowContext(ctx, `SELECT `+sessionCols+` FROM sessions WHERE id=? AND user_id=?`, id, userID))
}

// OpenSession returns the user's single open session for the scope, or
// ErrNotFound when none is open.
func (r Repo) OpenSession(ctx context.Context, userID int64, scope domain.SessionScope) (domain.Session, error) {
	return openSession(ctx, r.DB, userID, scope)
}

func (r Repo) OpenSessionTx(ctx context.Context, tx *sql.Tx, userID int64, scope domain.SessionScope) (domain.Session, error) {
	return openSession(ctx, tx, userID, scope)
}

func openSession(ctx context.Context, q querier, userID int64, scope domain.SessionScope) (domain.Session, error) {
	return scanSession(q.QueryRowContext(ctx, `SELECT `+sessionCols+` FROM sessions WHERE user_id=? AND scope=? AND status='open'`, userID, scope))
}

func (r Repo) CloseSessionTx(ctx context.Context, tx *sql.Tx, id int64, closedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE sessions SET status='closed',closed_at=? WHERE id=? AND status='open'`, closedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ListSessions(ctx context.Context, userID int64, scope *domain.SessionScope, limit int) ([]domain.Session, error) {
	query := `SELECT ` + sessionCols + ` FROM sessions WHERE user_id=?`
	args := []any{userID}
	if scope != nil {
		query += ` AND scope=?`
		args = append(args, *scope)
	}
	query += ` ORDER BY started_at DESC, id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Session
	for rows.Next() {
		var s domain.Session
		var closed sql.NullString
		if err := rows.Scan(&s.ID, &s.UserID, &s.Scope, &s.Status, &s.StartedAt, &closed); err != nil {
			return nil, err
		}
		if closed.Valid {
			s.ClosedAt = &closed.String
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

func (r Repo) DeleteSessionsForUserTx(ctx context.Context, tx *sql.Tx, userID int64) (int64, error) {
	res, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE user_id=?`, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
