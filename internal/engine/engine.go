package engine

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"habitline/internal/config"
	"habitline/internal/domain"
	"habitline/internal/events"
	"habitline/internal/repo"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowRFC3339() string {
	return e.now().UTC().Format(time.RFC3339)
}

// TelegramProfile is the identity extracted from an authenticated request.
type TelegramProfile struct {
	TelegramUserID int64
	Username       *string
	FirstName      *string
	LastName       *string
}

// GetOrCreateUser resolves the account for a Telegram identity, creating it
// with default settings on first contact. Profile fields are refreshed on
// every call so renamed accounts stay current.
func (e Engine) GetOrCreateUser(ctx context.Context, p TelegramProfile) (domain.User, error) {
	if p.TelegramUserID <= 0 {
		return domain.User{}, invalid("telegram user id is required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.User{}, err
	}
	defer tx.Rollback()

	u, err := e.Repo.GetUserByTelegramIDTx(ctx, tx, p.TelegramUserID)
	if err == nil {
		// token-only auth carries no profile; never erase stored fields with it
		hasProfile := p.Username != nil || p.FirstName != nil || p.LastName != nil
		changed := hasProfile &&
			(!strPtrEq(u.Username, p.Username) || !strPtrEq(u.FirstName, p.FirstName) || !strPtrEq(u.LastName, p.LastName))
		if changed {
			u.Username, u.FirstName, u.LastName = p.Username, p.FirstName, p.LastName
			if err := e.Repo.UpdateUserProfileTx(ctx, tx, u); err != nil {
				return domain.User{}, err
			}
			if err := tx.Commit(); err != nil {
				return domain.User{}, err
			}
			return u, nil
		}
		return u, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return domain.User{}, err
	}

	u = domain.User{
		TelegramUserID: p.TelegramUserID,
		Username:       p.Username,
		FirstName:      p.FirstName,
		LastName:       p.LastName,
		CreatedAt:      e.nowRFC3339(),
	}
	if u.ID, err = e.Repo.InsertUserTx(ctx, tx, u); err != nil {
		return domain.User{}, err
	}
	s := domain.Settings{
		UserID:               u.ID,
		Currency:             e.Config.Defaults.Currency,
		PenaltyDailyDefault:  e.Config.PenaltyDailyDefault(),
		PenaltyWeeklyDefault: e.Config.PenaltyWeeklyDefault(),
	}
	if err := e.Repo.InsertSettingsTx(ctx, tx, s); err != nil {
		return domain.User{}, err
	}
	if err := e.Events.Append(ctx, tx, events.TypeUserCreated, u.ID, "user", u.ID, events.EventPayload{"telegram_user_id": p.TelegramUserID}); err != nil {
		return domain.User{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.User{}, err
	}
	return u, nil
}

func strPtrEq(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func (e Engine) Settings(ctx context.Context, userID int64) (domain.Settings, error) {
	return e.Repo.GetSettings(ctx, userID)
}

// SettingsUpdateOptions are the optional fields of a settings update.
type SettingsUpdateOptions struct {
	Currency      *string
	PenaltyDaily  *decimal.Decimal
	PenaltyWeekly *decimal.Decimal
}

func (e Engine) UpdateSettings(ctx context.Context, userID int64, opts SettingsUpdateOptions) (domain.Settings, error) {
	if opts.Currency != nil && len(*opts.Currency) != 3 {
		return domain.Settings{}, invalid("currency must be a 3-letter code")
	}
	if opts.PenaltyDaily != nil && opts.PenaltyDaily.IsNegative() {
		return domain.Settings{}, invalid("penalty_daily_default must not be negative")
	}
	if opts.PenaltyWeekly != nil && opts.PenaltyWeekly.IsNegative() {
		return domain.Settings{}, invalid("penalty_weekly_default must not be negative")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Settings{}, err
	}
	defer tx.Rollback()

	s, err := e.Repo.GetSettingsTx(ctx, tx, userID)
	if err != nil {
		return domain.Settings{}, err
	}
	if opts.Currency != nil {
		s.Currency = *opts.Currency
	}
	if opts.PenaltyDaily != nil {
		s.PenaltyDailyDefault = *opts.PenaltyDaily
	}
	if opts.PenaltyWeekly != nil {
		s.PenaltyWeeklyDefault = *opts.PenaltyWeekly
	}
	if err := e.Repo.UpdateSettingsTx(ctx, tx, s); err != nil {
		return domain.Settings{}, err
	}
	if err := e.Events.Append(ctx, tx, events.TypeSettingsUpdated, userID, "settings", userID, events.EventPayload{"currency": s.Currency}); err != nil {
		return domain.Settings{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Settings{}, err
	}
	return s, nil
}

// TaskCreateOptions are parameters for creating a task.
type TaskCreateOptions struct {
	UserID        int64
	Title         string
	Kind          domain.TaskKind
	PenaltyAmount *decimal.Decimal
	IsActive      *bool
}

func (e Engine) CreateTask(ctx context.Context, opts TaskCreateOptions) (domain.Task, error) {
	if opts.Title == "" {
		return domain.Task{}, invalid("title is required")
	}
	if !opts.Kind.Valid() {
		return domain.Task{}, invalid("unknown task kind %q", opts.Kind)
	}
	if opts.PenaltyAmount != nil && opts.PenaltyAmount.IsNegative() {
		return domain.Task{}, invalid("penalty_amount must not be negative")
	}
	active := true
	if opts.IsActive != nil {
		active = *opts.IsActive
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	max, err := e.Repo.MaxOrderIndexTx(ctx, tx, opts.UserID)
	if err != nil {
		return domain.Task{}, err
	}
	now := e.nowRFC3339()
	t := domain.Task{
		UserID:        opts.UserID,
		Title:         opts.Title,
		Kind:          opts.Kind,
		IsActive:      active,
		PenaltyAmount: opts.PenaltyAmount,
		OrderIndex:    max + 1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if t.ID, err = e.Repo.InsertTaskTx(ctx, tx, t); err != nil {
		return domain.Task{}, err
	}
	if err := e.Events.Append(ctx, tx, events.TypeTaskCreated, opts.UserID, "task", t.ID, events.EventPayload{"title": t.Title, "kind": string(t.Kind)}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

func (e Engine) GetTask(ctx context.Context, userID, id int64) (domain.Task, error) {
	return e.Repo.GetTask(ctx, userID, id)
}

func (e Engine) ListTasks(ctx context.Context, userID int64, kind *domain.TaskKind, includeInactive bool) ([]domain.Task, error) {
	if kind != nil && !kind.Valid() {
		return nil, invalid("unknown task kind %q", *kind)
	}
	return e.Repo.ListTasks(ctx, userID, kind, includeInactive)
}

// TaskUpdateOptions are the optional fields of a task update.
type TaskUpdateOptions struct {
	Title         *string
	Kind          *domain.TaskKind
	IsActive      *bool
	SetPenalty    bool
	PenaltyAmount *decimal.Decimal
}

func (e Engine) UpdateTask(ctx context.Context, userID, id int64, opts TaskUpdateOptions) (domain.Task, error) {
	if opts.Title != nil && *opts.Title == "" {
		return domain.Task{}, invalid("title must not be empty")
	}
	if opts.Kind != nil && !opts.Kind.Valid() {
		return domain.Task{}, invalid("unknown task kind %q", *opts.Kind)
	}
	if opts.SetPenalty && opts.PenaltyAmount != nil && opts.PenaltyAmount.IsNegative() {
		return domain.Task{}, invalid("penalty_amount must not be negative")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	if _, err := e.Repo.GetTaskTx(ctx, tx, userID, id); err != nil {
		return domain.Task{}, err
	}
	ropts := repo.UpdateTaskOpts{
		Title:         opts.Title,
		Kind:          opts.Kind,
		IsActive:      opts.IsActive,
		SetPenalty:    opts.SetPenalty,
		PenaltyAmount: opts.PenaltyAmount,
	}
	if err := e.Repo.UpdateTaskTx(ctx, tx, userID, id, ropts, e.nowRFC3339()); err != nil {
		return domain.Task{}, err
	}
	if err := e.Events.Append(ctx, tx, events.TypeTaskUpdated, userID, "task", id, nil); err != nil {
		return domain.Task{}, err
	}
	t, err := e.Repo.GetTaskTx(ctx, tx, userID, id)
	if err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// DeleteTask removes a task. Instances already created from it keep their
// snapshot and detach via the foreign key.
func (e Engine) DeleteTask(ctx context.Context, userID, id int64) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := e.Repo.DeleteTaskTx(ctx, tx, userID, id); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, events.TypeTaskDeleted, userID, "task", id, nil); err != nil {
		return err
	}
	return tx.Commit()
}

// ReorderTasks replaces the display ordering. The id list must be an exact
// permutation of every task the user has; otherwise nothing changes.
func (e Engine) ReorderTasks(ctx context.Context, userID int64, ids []int64) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	existing, err := e.Repo.ListTaskIDsTx(ctx, tx, userID)
	if err != nil {
		return err
	}
	if len(ids) != len(existing) {
		return invalid("order must list all %d tasks exactly once", len(existing))
	}
	seen := make(map[int64]bool, len(existing))
	for _, id := range existing {
		seen[id] = true
	}
	for _, id := range ids {
		if !seen[id] {
			return invalid("task %d is not a task of this user", id)
		}
		delete(seen, id)
	}
	now := e.nowRFC3339()
	for i, id := range ids {
		if err := e.Repo.UpdateTaskOrderTx(ctx, tx, userID, id, i, now); err != nil {
			return err
		}
	}
	if err := e.Events.Append(ctx, tx, events.TypeTasksReordered, userID, "task", 0, events.EventPayload{"count": len(ids)}); err != nil {
		return err
	}
	return tx.Commit()
}

// ResolvePenalty returns the amount a failed instance of the task accrues:
// the task's own override when set, otherwise the per-kind default.
func ResolvePenalty(task domain.Task, settings domain.Settings) decimal.Decimal {
	if task.PenaltyAmount != nil {
		return *task.PenaltyAmount
	}
	return defaultPenaltyForKind(task.Kind, settings)
}

func defaultPenaltyForKind(kind domain.TaskKind, settings domain.Settings) decimal.Decimal {
	if kind == domain.TaskKindWeekly {
		return settings.PenaltyWeeklyDefault
	}
	return settings.PenaltyDailyDefault
}

// StartSession opens a session for the scope and instantiates every active
// task of the matching kind as planned. At most one session per scope may be
// open at a time.
func (e Engine) StartSession(ctx context.Context, userID int64, scope domain.SessionScope) (domain.Session, []domain.Instance, error) {
	if !scope.Valid() {
		return domain.Session{}, nil, invalid("unknown session scope %q", scope)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Session{}, nil, err
	}
	defer tx.Rollback()

	if _, err := e.Repo.OpenSessionTx(ctx, tx, userID, scope); err == nil {
		return domain.Session{}, nil, conflict("a %s session is already open", scope)
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.Session{}, nil, err
	}

	now := e.nowRFC3339()
	s := domain.Session{
		UserID:    userID,
		Scope:     scope,
		Status:    domain.SessionOpen,
		StartedAt: now,
	}
	if s.ID, err = e.Repo.InsertSessionTx(ctx, tx, s); err != nil {
		return domain.Session{}, nil, err
	}

	tasks, err := e.Repo.ListActiveTasksByKindTx(ctx, tx, userID, domain.TaskKindForScope(scope))
	if err != nil {
		return domain.Session{}, nil, err
	}
	instances := make([]domain.Instance, 0, len(tasks))
	for _, t := range tasks {
		taskID := t.ID
		in := domain.Instance{
			UserID:    userID,
			SessionID: s.ID,
			TaskID:    &taskID,
			TaskTitle: t.Title,
			TaskKind:  t.Kind,
			Status:    domain.StatusPlanned,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if in.ID, err = e.Repo.InsertInstanceTx(ctx, tx, in); err != nil {
			return domain.Session{}, nil, err
		}
		instances = append(instances, in)
	}
	if err := e.Events.Append(ctx, tx, events.TypeSessionStarted, userID, "session", s.ID, events.EventPayload{"scope": string(scope), "instances": len(instances)}); err != nil {
		return domain.Session{}, nil, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Session{}, nil, err
	}
	return s, instances, nil
}

// CloseSession closes the open session for the scope and settles it: failed
// instances sum their frozen penalties into the amount to transfer. Planned
// instances stay planned; unfinished work is not penalized implicitly.
func (e Engine) CloseSession(ctx context.Context, userID int64, scope domain.SessionScope) (domain.Settlement, error) {
	if !scope.Valid() {
		return domain.Settlement{}, invalid("unknown session scope %q", scope)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Settlement{}, err
	}
	defer tx.Rollback()

	s, err := e.Repo.OpenSessionTx(ctx, tx, userID, scope)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Settlement{}, conflict("no open %s session", scope)
	}
	if err != nil {
		return domain.Settlement{}, err
	}
	settings, err := e.Repo.GetSettingsTx(ctx, tx, userID)
	if err != nil {
		return domain.Settlement{}, err
	}
	instances, err := e.Repo.ListInstancesBySessionTx(ctx, tx, s.ID)
	if err != nil {
		return domain.Settlement{}, err
	}
	closedAt := e.nowRFC3339()
	st := domain.Settlement{
		SessionID:        s.ID,
		Scope:            scope,
		StartedAt:        s.StartedAt,
		ClosedAt:         closedAt,
		AmountToTransfer: decimal.Zero,
		Currency:         settings.Currency,
	}
	for _, in := range instances {
		switch in.Status {
		case domain.StatusDone:
			st.DoneCount++
		case domain.StatusCanceled:
			st.CanceledCount++
		case domain.StatusFailed:
			st.FailedCount++
			if in.PenaltyApplied != nil {
				st.AmountToTransfer = st.AmountToTransfer.Add(*in.PenaltyApplied)
			}
		}
	}
	if err := e.Repo.CloseSessionTx(ctx, tx, s.ID, closedAt); err != nil {
		return domain.Settlement{}, err
	}
	if err := e.Events.Append(ctx, tx, events.TypeSessionClosed, userID, "session", s.ID, events.EventPayload{
		"scope":              string(scope),
		"done":               st.DoneCount,
		"canceled":           st.CanceledCount,
		"failed":             st.FailedCount,
		"amount_to_transfer": st.AmountToTransfer.String(),
	}); err != nil {
		return domain.Settlement{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Settlement{}, err
	}
	return st, nil
}

// AddBacklogInstance pulls a backlog task into the open session of the scope.
// Adding the same task twice returns the existing instance unchanged.
func (e Engine) AddBacklogInstance(ctx context.Context, userID, taskID int64, scope domain.SessionScope) (domain.Instance, error) {
	if !scope.Valid() {
		return domain.Instance{}, invalid("unknown session scope %q", scope)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Instance{}, err
	}
	defer tx.Rollback()

	s, err := e.Repo.OpenSessionTx(ctx, tx, userID, scope)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Instance{}, conflict("no open %s session", scope)
	}
	if err != nil {
		return domain.Instance{}, err
	}
	t, err := e.Repo.GetTaskTx(ctx, tx, userID, taskID)
	if err != nil {
		return domain.Instance{}, err
	}
	if t.Kind != domain.TaskKindBacklog {
		return domain.Instance{}, invalid("task %d is not a backlog task", taskID)
	}
	if !t.IsActive {
		return domain.Instance{}, invalid("task %d is inactive", taskID)
	}
	if existing, err := e.Repo.FindInstanceByTaskTx(ctx, tx, s.ID, taskID); err == nil {
		return existing, nil
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.Instance{}, err
	}
	now := e.nowRFC3339()
	in := domain.Instance{
		UserID:    userID,
		SessionID: s.ID,
		TaskID:    &taskID,
		TaskTitle: t.Title,
		TaskKind:  t.Kind,
		Status:    domain.StatusPlanned,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if in.ID, err = e.Repo.InsertInstanceTx(ctx, tx, in); err != nil {
		return domain.Instance{}, err
	}
	if err := e.Events.Append(ctx, tx, events.TypeInstanceAdded, userID, "instance", in.ID, events.EventPayload{"task_id": taskID, "session_id": s.ID}); err != nil {
		return domain.Instance{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Instance{}, err
	}
	return in, nil
}

// SetInstanceStatus applies a status transition. Failing an instance freezes
// its penalty at that moment; moving it to done or canceled clears the
// penalty. Re-setting the current status is a no-op and keeps any frozen
// amount.
func (e Engine) SetInstanceStatus(ctx context.Context, userID, instanceID int64, status domain.InstanceStatus) (domain.Instance, error) {
	if !status.Valid() {
		return domain.Instance{}, invalid("unknown status %q", status)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Instance{}, err
	}
	defer tx.Rollback()

	in, err := e.Repo.GetInstanceTx(ctx, tx, userID, instanceID)
	if err != nil {
		return domain.Instance{}, err
	}
	if in.Status == status {
		return in, nil
	}
	if !in.Status.CanTransitionTo(status) {
		return domain.Instance{}, invalid("cannot move instance from %s to %s", in.Status, status)
	}

	var penalty *decimal.Decimal
	if status == domain.StatusFailed {
		// source task gone means no override and no default: zero penalty
		amount := decimal.Zero
		if in.TaskID != nil {
			t, err := e.Repo.GetTaskTx(ctx, tx, userID, *in.TaskID)
			if err == nil {
				settings, err := e.Repo.GetSettingsTx(ctx, tx, userID)
				if err != nil {
					return domain.Instance{}, err
				}
				amount = ResolvePenalty(t, settings)
			} else if !errors.Is(err, repo.ErrNotFound) {
				return domain.Instance{}, err
			}
		}
		penalty = &amount
	}

	now := e.nowRFC3339()
	if err := e.Repo.UpdateInstanceStatusTx(ctx, tx, in.ID, status, penalty, now); err != nil {
		return domain.Instance{}, err
	}
	if err := e.Events.Append(ctx, tx, events.TypeInstanceStatusChanged, userID, "instance", in.ID, events.EventPayload{
		"from": string(in.Status),
		"to":   string(status),
	}); err != nil {
		return domain.Instance{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Instance{}, err
	}
	in.Status = status
	in.PenaltyApplied = penalty
	in.UpdatedAt = now
	return in, nil
}

// InstanceScope selects which instances a list call returns.
type InstanceScope string

const (
	InstancesToday   InstanceScope = "today"
	InstancesWeek    InstanceScope = "week"
	InstancesHistory InstanceScope = "history"
)

func (e Engine) ListInstances(ctx context.Context, userID int64, scope InstanceScope) ([]domain.Instance, error) {
	switch scope {
	case InstancesToday, InstancesWeek:
		sessionScope := domain.ScopeDay
		if scope == InstancesWeek {
			sessionScope = domain.ScopeWeek
		}
		s, err := e.Repo.OpenSession(ctx, userID, sessionScope)
		if errors.Is(err, repo.ErrNotFound) {
			return []domain.Instance{}, nil
		}
		if err != nil {
			return nil, err
		}
		return e.Repo.ListInstancesBySession(ctx, s.ID)
	case InstancesHistory:
		return e.Repo.ListInstancesHistory(ctx, userID)
	}
	return nil, invalid("unknown instance scope %q", scope)
}

func (e Engine) GetSession(ctx context.Context, userID, id int64) (domain.Session, []domain.Instance, error) {
	s, err := e.Repo.GetSession(ctx, userID, id)
	if err != nil {
		return domain.Session{}, nil, err
	}
	instances, err := e.Repo.ListInstancesBySession(ctx, s.ID)
	if err != nil {
		return domain.Session{}, nil, err
	}
	return s, instances, nil
}

func (e Engine) ListSessions(ctx context.Context, userID int64, scope *domain.SessionScope, limit int) ([]domain.Session, error) {
	if scope != nil && !scope.Valid() {
		return nil, invalid("unknown session scope %q", *scope)
	}
	return e.Repo.ListSessions(ctx, userID, scope, limit)
}

func (e Engine) Dashboard(ctx context.Context, userID int64) (domain.Dashboard, error) {
	var d domain.Dashboard
	day, err := e.Repo.OpenSession(ctx, userID, domain.ScopeDay)
	if err == nil {
		d.OpenDay = &day
	} else if !errors.Is(err, repo.ErrNotFound) {
		return d, err
	}
	week, err := e.Repo.OpenSession(ctx, userID, domain.ScopeWeek)
	if err == nil {
		d.OpenWeek = &week
	} else if !errors.Is(err, repo.ErrNotFound) {
		return d, err
	}
	return d, nil
}

func (e Engine) Stats(ctx context.Context, userID int64, period domain.StatsPeriod) (domain.Stats, error) {
	if !period.Valid() {
		return domain.Stats{}, invalid("unknown stats period %q", period)
	}
	failed, total, err := e.Repo.StatsAggregate(ctx, userID, period)
	if err != nil {
		return domain.Stats{}, err
	}
	return domain.Stats{Period: period, FailedCount: failed, TotalPenalty: total}, nil
}

func (e Engine) StatsDetails(ctx context.Context, userID int64, period domain.StatsPeriod) (domain.StatsDetails, error) {
	if !period.Valid() {
		return domain.StatsDetails{}, invalid("unknown stats period %q", period)
	}
	rows, counts, err := e.Repo.StatsRows(ctx, userID, period)
	if err != nil {
		return domain.StatsDetails{}, err
	}
	total := decimal.Zero
	for _, row := range rows {
		if row.Status == domain.StatusFailed {
			total = total.Add(row.TotalPenalty)
		}
	}
	if rows == nil {
		rows = []domain.StatsDetailRow{}
	}
	return domain.StatsDetails{Period: period, TotalPenalty: total, StatusCounts: counts, Rows: rows}, nil
}

// ClearStats wipes the user's sessions and instances. Tasks and settings
// survive so tracking can restart from a clean slate.
func (e Engine) ClearStats(ctx context.Context, userID int64) (int64, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	removed, err := e.Repo.DeleteInstancesForUserTx(ctx, tx, userID)
	if err != nil {
		return 0, err
	}
	if _, err := e.Repo.DeleteSessionsForUserTx(ctx, tx, userID); err != nil {
		return 0, err
	}
	if err := e.Events.Append(ctx, tx, events.TypeStatsCleared, userID, "user", userID, events.EventPayload{"instances_removed": removed}); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return removed, nil
}
