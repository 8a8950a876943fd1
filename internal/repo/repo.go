package repo

import (
	"context"
	"database/sql"
	"errors"

	"github.com/shopspring/decimal"

	"habitline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// querier is satisfied by both *sql.DB and *sql.Tx so scan helpers can be
// shared between plain and transactional methods.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func nullableStr(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableDec(v *decimal.Decimal) any {
	if v == nil {
		return nil
	}
	return v.String()
}

func scanDec(v sql.NullString) (*decimal.Decimal, error) {
	if !v.Valid {
		return nil, nil
	}
	d, err := decimal.NewFromString(v.String)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func scanUser(row *sql.Row) (domain.User, error) {
	var u domain.User
	var username, first, last sql.NullString
	err := row.Scan(&u.ID, &u.TelegramUserID, &username, &first, &last, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	if err != nil {
		return u, err
	}
	if username.Valid {
		u.Username = &username.String
	}
	if first.Valid {
		u.FirstName = &first.String
	}
	if last.Valid {
		u.LastName = &last.String
	}
	return u, nil
}

const userCols = `id,telegram_user_id,username,first_name,last_name,created_at`

func (r Repo) GetUser(ctx context.Context, id int64) (domain.User, error) {
	return scanUser(r.DB.QueryRowContext(ctx, `SELECT `+userCols+` FROM users WHERE id=?`, id))
}

func (r Repo) GetUserByTelegramID(ctx context.Context, telegramUserID int64) (domain.User, error) {
	return getUserByTelegramID(ctx, r.DB, telegramUserID)
}

func (r Repo) GetUserByTelegramIDTx(ctx context.Context, tx *sql.Tx, telegramUserID int64) (domain.User, error) {
	return getUserByTelegramID(ctx, tx, telegramUserID)
}

func getUserByTelegramID(ctx context.Context, q querier, telegramUserID int64) (domain.User, error) {
	return scanUser(q.QueryRowContext(ctx, `SELECT `+userCols+` FROM users WHERE telegram_user_id=?`, telegramUserID))
}

func (r Repo) ListUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+userCols+` FROM users ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.User
	for rows.Next() {
		var u domain.User
		var username, first, last sql.NullString
		if err := rows.Scan(&u.ID, &u.TelegramUserID, &username, &first, &last, &u.CreatedAt); err != nil {
			return nil, err
		}
		if username.Valid {
			u.Username = &username.String
		}
		if first.Valid {
			u.FirstName = &first.String
		}
		if last.Valid {
			u.LastName = &last.String
		}
		res = append(res, u)
	}
	return res, rows.Err()
}

func (r Repo) InsertUserTx(ctx context.Context, tx *sql.Tx, u domain.User) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO users(telegram_user_id,username,first_name,last_name,created_at) VALUES (?,?,?,?,?)`,
		u.TelegramUserID, nullableStr(u.Username), nullableStr(u.FirstName), nullableStr(u.LastName), u.CreatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) UpdateUserProfileTx(ctx context.Context, tx *sql.Tx, u domain.User) error {
	_, err := tx.ExecContext(ctx, `UPDATE users SET username=?,first_name=?,last_name=? WHERE id=?`,
		nullableStr(u.Username), nullableStr(u.FirstName), nullableStr(u.LastName), u.ID)
	return err
}

func scanSettings(row *sql.Row) (domain.Settings, error) {
	var s domain.Settings
	var daily, weekly string
	err := row.Scan(&s.UserID, &s.Currency, &daily, &weekly)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	if s.PenaltyDailyDefault, err = decimal.NewFromString(daily); err != nil {
		return s, err
	}
	if s.PenaltyWeeklyDefault, err = decimal.NewFromString(weekly); err != nil {
		return s, err
	}
	return s, nil
}

const settingsCols = `user_id,currency,penalty_daily_default,penalty_weekly_default`

func (r Repo) GetSettings(ctx context.Context, userID int64) (domain.Settings, error) {
	return getSettings(ctx, r.DB, userID)
}

func (r Repo) GetSettingsTx(ctx context.Context, tx *sql.Tx, userID int64) (domain.Settings, error) {
	return getSettings(ctx, tx, userID)
}

func getSettings(ctx context.Context, q querier, userID int64) (domain.Settings, error) {
	return scanSettings(q.QueryRowContext(ctx, `SELECT `+settingsCols+` FROM user_settings WHERE user_id=?`, userID))
}

func (r Repo) InsertSettingsTx(ctx context.Context, tx *sql.Tx, s domain.Settings) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO user_settings(user_id,currency,penalty_daily_default,penalty_weekly_default) VALUES (?,?,?,?)`,
		s.UserID, s.Currency, s.PenaltyDailyDefault.String(), s.PenaltyWeeklyDefault.String())
	return err
}

func (r Repo) UpdateSettingsTx(ctx context.Context, tx *sql.Tx, s domain.Settings) error {
	res, err := tx.ExecContext(ctx, `UPDATE user_settings SET currency=?,penalty_daily_default=?,penalty_weekly_default=? WHERE user_id=?`,
		s.Currency, s.PenaltyDailyDefault.String(), s.PenaltyWeeklyDefault.String(), s.UserID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
