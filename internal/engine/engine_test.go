package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"habitline/internal/config"
	"habitline/internal/db"
	"habitline/internal/domain"
	"habitline/internal/engine"
	"habitline/internal/migrate"
	"habitline/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
	UserID int64
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default())
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	u, err := eng.GetOrCreateUser(ctx, engine.TelegramProfile{TelegramUserID: 1001})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return &testEnv{Engine: eng, Ctx: ctx, UserID: u.ID}
}

func (env *testEnv) mustTask(t *testing.T, title string, kind domain.TaskKind, penalty string) domain.Task {
	t.Helper()
	opts := engine.TaskCreateOptions{UserID: env.UserID, Title: title, Kind: kind}
	if penalty != "" {
		d, err := decimal.NewFromString(penalty)
		if err != nil {
			t.Fatalf("parse penalty: %v", err)
		}
		opts.PenaltyAmount = &d
	}
	task, err := env.Engine.CreateTask(env.Ctx, opts)
	if err != nil {
		t.Fatalf("create task %q: %v", title, err)
	}
	return task
}

func isConflict(err error) bool {
	var ce engine.ConflictError
	return errors.As(err, &ce)
}

func isValidation(err error) bool {
	var ve engine.ValidationError
	return errors.As(err, &ve)
}

func TestGetOrCreateUserIdempotent(t *testing.T) {
	env := newTestEnv(t)
	again, err := env.Engine.GetOrCreateUser(env.Ctx, engine.TelegramProfile{TelegramUserID: 1001})
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if again.ID != env.UserID {
		t.Fatalf("expected same user id, got %d and %d", env.UserID, again.ID)
	}
	s, err := env.Engine.Settings(env.Ctx, env.UserID)
	if err != nil {
		t.Fatalf("settings: %v", err)
	}
	if s.Currency != "EUR" || !s.PenaltyDailyDefault.Equal(decimal.NewFromInt(10)) || !s.PenaltyWeeklyDefault.Equal(decimal.NewFromInt(20)) {
		t.Fatalf("unexpected default settings: %+v", s)
	}
}

func TestStartSessionConflictOnDoubleStart(t *testing.T) {
	env := newTestEnv(t)
	if _, _, err := env.Engine.StartSession(env.Ctx, env.UserID, domain.ScopeDay); err != nil {
		t.Fatalf("first start: %v", err)
	}
	_, _, err := env.Engine.StartSession(env.Ctx, env.UserID, domain.ScopeDay)
	if !isConflict(err) {
		t.Fatalf("expected conflict on second start, got %v", err)
	}
	// the week track is independent
	if _, _, err := env.Engine.StartSession(env.Ctx, env.UserID, domain.ScopeWeek); err != nil {
		t.Fatalf("week start: %v", err)
	}
}

func TestCloseSessionWithoutOpen(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CloseSession(env.Ctx, env.UserID, domain.ScopeDay)
	if !isConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestStartSessionInstantiatesActiveTasks(t *testing.T) {
	env := newTestEnv(t)
	env.mustTask(t, "gym", domain.TaskKindDaily, "")
	env.mustTask(t, "read", domain.TaskKindDaily, "")
	inactive := env.mustTask(t, "paused", domain.TaskKindDaily, "")
	if _, err := env.Engine.UpdateTask(env.Ctx, env.UserID, inactive.ID, engine.TaskUpdateOptions{IsActive: boolPtr(false)}); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	env.mustTask(t, "weekly review", domain.TaskKindWeekly, "")
	env.mustTask(t, "someday", domain.TaskKindBacklog, "")

	_, instances, err := env.Engine.StartSession(env.Ctx, env.UserID, domain.ScopeDay)
	if err != nil {
		t.Fatalf("start day: %v", err)
	}
	if len(instances) != 2 {
		t.Fatalf("expected 2 instances, got %d", len(instances))
	}
	for _, in := range instances {
		if in.Status != domain.StatusPlanned || in.TaskKind != domain.TaskKindDaily {
			t.Fatalf("unexpected instance: %+v", in)
		}
	}
}

func TestFailedFreezesPenaltyAndDoneClearsIt(t *testing.T) {
	env := newTestEnv(t)
	env.mustTask(t, "gym", domain.TaskKindDaily, "5.00")
	_, instances, err := env.Engine.StartSession(env.Ctx, env.UserID, domain.ScopeDay)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	in := instances[0]

	failed, err := env.Engine.SetInstanceStatus(env.Ctx, env.UserID, in.ID, domain.StatusFailed)
	if err != nil {
		t.Fatalf("fail: %v", err)
	}
	if failed.PenaltyApplied == nil || !failed.PenaltyApplied.Equal(decimal.RequireFromString("5.00")) {
		t.Fatalf("expected 5.00 penalty, got %v", failed.PenaltyApplied)
	}

	// raising the override after the fact must not change the frozen amount
	d := decimal.RequireFromString("99")
	if _, err := env.Engine.UpdateTask(env.Ctx, env.UserID, *in.TaskID, engine.TaskUpdateOptions{SetPenalty: true, PenaltyAmount: &d}); err != nil {
		t.Fatalf("raise override: %v", err)
	}
	same, err := env.Engine.SetInstanceStatus(env.Ctx, env.UserID, in.ID, domain.StatusFailed)
	if err != nil {
		t.Fatalf("no-op fail: %v", err)
	}
	if same.PenaltyApplied == nil || !same.PenaltyApplied.Equal(decimal.RequireFromString("5.00")) {
		t.Fatalf("no-op changed frozen penalty: %v", same.PenaltyApplied)
	}

	done, err := env.Engine.SetInstanceStatus(env.Ctx, env.UserID, in.ID, domain.StatusDone)
	if err != nil {
		t.Fatalf("done: %v", err)
	}
	if done.PenaltyApplied != nil {
		t.Fatalf("done must clear penalty, got %v", done.PenaltyApplied)
	}
}

func TestTerminalBackToPlannedRejected(t *testing.T) {
	env := newTestEnv(t)
	env.mustTask(t, "gym", domain.TaskKindDaily, "")
	_, instances, err := env.Engine.StartSession(env.Ctx, env.UserID, domain.ScopeDay)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	in := instances[0]
	if _, err := env.Engine.SetInstanceStatus(env.Ctx, env.UserID, in.ID, domain.StatusDone); err != nil {
		t.Fatalf("done: %v", err)
	}
	_, err = env.Engine.SetInstanceStatus(env.Ctx, env.UserID, in.ID, domain.StatusPlanned)
	if !isValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestDeletedTaskFailsWithZeroPenalty(t *testing.T) {
	env := newTestEnv(t)
	task := env.mustTask(t, "gym", domain.TaskKindDaily, "5.00")
	_, instances, err := env.Engine.StartSession(env.Ctx, env.UserID, domain.ScopeDay)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	in := instances[0]
	if err := env.Engine.DeleteTask(env.Ctx, env.UserID, task.ID); err != nil {
		t.Fatalf("delete task: %v", err)
	}
	failed, err := env.Engine.SetInstanceStatus(env.Ctx, env.UserID, in.ID, domain.StatusFailed)
	if err != nil {
		t.Fatalf("fail: %v", err)
	}
	// the override died with the task, so nothing accrues
	if failed.PenaltyApplied == nil || !failed.PenaltyApplied.IsZero() {
		t.Fatalf("expected zero penalty, got %v", failed.PenaltyApplied)
	}
	if failed.TaskID != nil {
		t.Fatalf("task id should be detached, got %v", *failed.TaskID)
	}
	if failed.TaskTitle != "gym" {
		t.Fatalf("title snapshot lost: %q", failed.TaskTitle)
	}
}

func TestSettlementArithmetic(t *testing.T) {
	env := newTestEnv(t)
	a := env.mustTask(t, "a", domain.TaskKindDaily, "5.00")
	b := env.mustTask(t, "b", domain.TaskKindDaily, "3.50")
	c := env.mustTask(t, "c", domain.TaskKindDaily, "")
	d := env.mustTask(t, "d", domain.TaskKindDaily, "")
	env.mustTask(t, "e", domain.TaskKindDaily, "")

	_, instances, err := env.Engine.StartSession(env.Ctx, env.UserID, domain.ScopeDay)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	byTask := map[int64]domain.Instance{}
	for _, in := range instances {
		byTask[*in.TaskID] = in
	}
	for taskID, status := range map[int64]domain.InstanceStatus{
		a.ID: domain.StatusFailed,
		b.ID: domain.StatusFailed,
		c.ID: domain.StatusDone,
		d.ID: domain.StatusCanceled,
		// e stays planned
	} {
		if _, err := env.Engine.SetInstanceStatus(env.Ctx, env.UserID, byTask[taskID].ID, status); err != nil {
			t.Fatalf("set status: %v", err)
		}
	}

	st, err := env.Engine.CloseSession(env.Ctx, env.UserID, domain.ScopeDay)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if st.DoneCount != 1 || st.CanceledCount != 1 || st.FailedCount != 2 {
		t.Fatalf("unexpected counts: %+v", st)
	}
	if !st.AmountToTransfer.Equal(decimal.RequireFromString("8.50")) {
		t.Fatalf("expected 8.50 to transfer, got %s", st.AmountToTransfer)
	}
	if st.Currency != "EUR" {
		t.Fatalf("expected EUR, got %s", st.Currency)
	}

	// planned instance survives the close untouched
	history, err := env.Engine.ListInstances(env.Ctx, env.UserID, engine.InstancesHistory)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	planned := 0
	for _, in := range history {
		if in.Status == domain.StatusPlanned {
			planned++
		}
	}
	if planned != 1 {
		t.Fatalf("expected 1 planned instance in history, got %d", planned)
	}
}

func TestResolvePenalty(t *testing.T) {
	settings := domain.Settings{
		PenaltyDailyDefault:  decimal.NewFromInt(10),
		PenaltyWeeklyDefault: decimal.NewFromInt(20),
	}
	override := decimal.RequireFromString("2.50")
	cases := []struct {
		task domain.Task
		want decimal.Decimal
	}{
		{domain.Task{Kind: domain.TaskKindDaily}, decimal.NewFromInt(10)},
		{domain.Task{Kind: domain.TaskKindWeekly}, decimal.NewFromInt(20)},
		{domain.Task{Kind: domain.TaskKindBacklog}, decimal.NewFromInt(10)},
		{domain.Task{Kind: domain.TaskKindWeekly, PenaltyAmount: &override}, override},
	}
	for _, tc := range cases {
		got := engine.ResolvePenalty(tc.task, settings)
		if !got.Equal(tc.want) {
			t.Errorf("ResolvePenalty(%s, override=%v) = %s, want %s", tc.task.Kind, tc.task.PenaltyAmount, got, tc.want)
		}
	}
}

func TestReorderTasks(t *testing.T) {
	env := newTestEnv(t)
	a := env.mustTask(t, "a", domain.TaskKindDaily, "")
	b := env.mustTask(t, "b", domain.TaskKindDaily, "")
	c := env.mustTask(t, "c", domain.TaskKindDaily, "")

	if err := env.Engine.ReorderTasks(env.Ctx, env.UserID, []int64{c.ID, a.ID, b.ID}); err != nil {
		t.Fatalf("reorder: %v", err)
	}
	tasks, err := env.Engine.ListTasks(env.Ctx, env.UserID, nil, false)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	gotOrder := []int64{tasks[0].ID, tasks[1].ID, tasks[2].ID}
	want := []int64{c.ID, a.ID, b.ID}
	for i := range want {
		if gotOrder[i] != want[i] {
			t.Fatalf("order position %d: got %d, want %d", i, gotOrder[i], want[i])
		}
	}

	// incomplete permutation leaves ordering untouched
	err = env.Engine.ReorderTasks(env.Ctx, env.UserID, []int64{a.ID, b.ID})
	if !isValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	// duplicates are rejected too
	err = env.Engine.ReorderTasks(env.Ctx, env.UserID, []int64{a.ID, a.ID, b.ID})
	if !isValidation(err) {
		t.Fatalf("expected validation error for duplicates, got %v", err)
	}
	tasks, _ = env.Engine.ListTasks(env.Ctx, env.UserID, nil, false)
	if tasks[0].ID != c.ID {
		t.Fatalf("failed reorder changed ordering")
	}
}

func TestBacklogAdd(t *testing.T) {
	env := newTestEnv(t)
	task := env.mustTask(t, "fix shelf", domain.TaskKindBacklog, "")

	_, err := env.Engine.AddBacklogInstance(env.Ctx, env.UserID, task.ID, domain.ScopeDay)
	if !isConflict(err) {
		t.Fatalf("expected conflict without open day session, got %v", err)
	}

	if _, _, err := env.Engine.StartSession(env.Ctx, env.UserID, domain.ScopeDay); err != nil {
		t.Fatalf("start: %v", err)
	}
	first, err := env.Engine.AddBacklogInstance(env.Ctx, env.UserID, task.ID, domain.ScopeDay)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	second, err := env.Engine.AddBacklogInstance(env.Ctx, env.UserID, task.ID, domain.ScopeDay)
	if err != nil {
		t.Fatalf("second add: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("backlog add not idempotent: %d vs %d", first.ID, second.ID)
	}

	// week track needs its own open session
	_, err = env.Engine.AddBacklogInstance(env.Ctx, env.UserID, task.ID, domain.ScopeWeek)
	if !isConflict(err) {
		t.Fatalf("expected conflict for week scope, got %v", err)
	}
	if _, _, err := env.Engine.StartSession(env.Ctx, env.UserID, domain.ScopeWeek); err != nil {
		t.Fatalf("start week: %v", err)
	}
	weekly, err := env.Engine.AddBacklogInstance(env.Ctx, env.UserID, task.ID, domain.ScopeWeek)
	if err != nil {
		t.Fatalf("week add: %v", err)
	}
	if weekly.ID == first.ID {
		t.Fatalf("week add reused the day instance")
	}

	daily := env.mustTask(t, "not backlog", domain.TaskKindDaily, "")
	if _, err := env.Engine.AddBacklogInstance(env.Ctx, env.UserID, daily.ID, domain.ScopeDay); !isValidation(err) {
		t.Fatalf("expected validation error for non-backlog task, got %v", err)
	}

	paused := env.mustTask(t, "paused", domain.TaskKindBacklog, "")
	if _, err := env.Engine.UpdateTask(env.Ctx, env.UserID, paused.ID, engine.TaskUpdateOptions{IsActive: boolPtr(false)}); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if _, err := env.Engine.AddBacklogInstance(env.Ctx, env.UserID, paused.ID, domain.ScopeDay); !isValidation(err) {
		t.Fatalf("expected validation error for inactive task, got %v", err)
	}
}

func TestStatsPeriodsAndClear(t *testing.T) {
	env := newTestEnv(t)
	env.mustTask(t, "gym", domain.TaskKindDaily, "5.00")
	env.mustTask(t, "review", domain.TaskKindWeekly, "")

	_, dayInstances, err := env.Engine.StartSession(env.Ctx, env.UserID, domain.ScopeDay)
	if err != nil {
		t.Fatalf("start day: %v", err)
	}
	_, weekInstances, err := env.Engine.StartSession(env.Ctx, env.UserID, domain.ScopeWeek)
	if err != nil {
		t.Fatalf("start week: %v", err)
	}
	if _, err := env.Engine.SetInstanceStatus(env.Ctx, env.UserID, dayInstances[0].ID, domain.StatusFailed); err != nil {
		t.Fatalf("fail day: %v", err)
	}
	if _, err := env.Engine.SetInstanceStatus(env.Ctx, env.UserID, weekInstances[0].ID, domain.StatusFailed); err != nil {
		t.Fatalf("fail week: %v", err)
	}

	days, err := env.Engine.Stats(env.Ctx, env.UserID, domain.PeriodDays)
	if err != nil {
		t.Fatalf("stats days: %v", err)
	}
	if days.FailedCount != 1 || !days.TotalPenalty.Equal(decimal.RequireFromString("5.00")) {
		t.Fatalf("days stats: %+v", days)
	}
	weeks, err := env.Engine.Stats(env.Ctx, env.UserID, domain.PeriodWeeks)
	if err != nil {
		t.Fatalf("stats weeks: %v", err)
	}
	if weeks.FailedCount != 1 || !weeks.TotalPenalty.Equal(decimal.NewFromInt(20)) {
		t.Fatalf("weeks stats: %+v", weeks)
	}
	months, err := env.Engine.Stats(env.Ctx, env.UserID, domain.PeriodMonths)
	if err != nil {
		t.Fatalf("stats months: %v", err)
	}
	if months.FailedCount != 2 || !months.TotalPenalty.Equal(decimal.RequireFromString("25.00")) {
		t.Fatalf("months stats: %+v", months)
	}

	details, err := env.Engine.StatsDetails(env.Ctx, env.UserID, domain.PeriodMonths)
	if err != nil {
		t.Fatalf("details: %v", err)
	}
	if details.StatusCounts["failed"] != 2 || len(details.Rows) != 2 {
		t.Fatalf("details: %+v", details)
	}

	removed, err := env.Engine.ClearStats(env.Ctx, env.UserID)
	if err != nil {
		t.Fatalf("clear: %v", err)
	}
	if removed != 2 {
		t.Fatalf("expected 2 instances removed, got %d", removed)
	}
	tasks, err := env.Engine.ListTasks(env.Ctx, env.UserID, nil, true)
	if err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("clear must preserve tasks, got %d", len(tasks))
	}
	if _, err := env.Engine.Dashboard(env.Ctx, env.UserID); err != nil {
		t.Fatalf("dashboard after clear: %v", err)
	}
}

func TestDashboard(t *testing.T) {
	env := newTestEnv(t)
	d, err := env.Engine.Dashboard(env.Ctx, env.UserID)
	if err != nil {
		t.Fatalf("dashboard: %v", err)
	}
	if d.OpenDay != nil || d.OpenWeek != nil {
		t.Fatalf("expected nothing open: %+v", d)
	}
	if _, _, err := env.Engine.StartSession(env.Ctx, env.UserID, domain.ScopeWeek); err != nil {
		t.Fatalf("start week: %v", err)
	}
	d, err = env.Engine.Dashboard(env.Ctx, env.UserID)
	if err != nil {
		t.Fatalf("dashboard: %v", err)
	}
	if d.OpenDay != nil || d.OpenWeek == nil {
		t.Fatalf("expected only week open: %+v", d)
	}
}

func TestUserIsolation(t *testing.T) {
	env := newTestEnv(t)
	task := env.mustTask(t, "mine", domain.TaskKindDaily, "")

	other, err := env.Engine.GetOrCreateUser(env.Ctx, engine.TelegramProfile{TelegramUserID: 2002})
	if err != nil {
		t.Fatalf("create other: %v", err)
	}
	if _, err := env.Engine.GetTask(env.Ctx, other.ID, task.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found across users, got %v", err)
	}
}

func boolPtr(v bool) *bool { return &v }
