package domain

import "github.com/shopspring/decimal"

// TaskKind classifies how a task is scheduled into sessions.
type TaskKind string

const (
	TaskKindDaily   TaskKind = "daily"
	TaskKindWeekly  TaskKind = "weekly"
	TaskKindBacklog TaskKind = "backlog"
)

func (k TaskKind) Valid() bool {
	switch k {
	case TaskKindDaily, TaskKindWeekly, TaskKindBacklog:
		return true
	}
	return false
}

// SessionScope is one of the two independent session tracks.
type SessionScope string

const (
	ScopeDay  SessionScope = "day"
	ScopeWeek SessionScope = "week"
)

func (s SessionScope) Valid() bool {
	return s == ScopeDay || s == ScopeWeek
}

// TaskKindForScope maps a session scope to the task kind it auto-instantiates.
func TaskKindForScope(scope SessionScope) TaskKind {
	if scope == ScopeWeek {
		return TaskKindWeekly
	}
	return TaskKindDaily
}

type SessionStatus string

const (
	SessionOpen   SessionStatus = "open"
	SessionClosed SessionStatus = "closed"
)

// InstanceStatus is the tagged status of a task instance. planned is the only
// non-terminal state; the three terminal states may be switched between as a
// correction mechanism, but never back to planned.
type InstanceStatus string

const (
	StatusPlanned  InstanceStatus = "planned"
	StatusDone     InstanceStatus = "done"
	StatusCanceled InstanceStatus = "canceled"
	StatusFailed   InstanceStatus = "failed"
)

func (s InstanceStatus) Valid() bool {
	switch s {
	case StatusPlanned, StatusDone, StatusCanceled, StatusFailed:
		return true
	}
	return false
}

func (s InstanceStatus) Terminal() bool {
	return s == StatusDone || s == StatusCanceled || s == StatusFailed
}

var instanceTransitions = map[InstanceStatus][]InstanceStatus{
	StatusPlanned:  {StatusDone, StatusCanceled, StatusFailed},
	StatusDone:     {StatusCanceled, StatusFailed},
	StatusCanceled: {StatusDone, StatusFailed},
	StatusFailed:   {StatusDone, StatusCanceled},
}

// CanTransitionTo reports whether the status change is legal. Setting the
// current status again is a permitted no-op.
func (s InstanceStatus) CanTransitionTo(target InstanceStatus) bool {
	if s == target {
		return true
	}
	for _, allowed := range instanceTransitions[s] {
		if allowed == target {
			return true
		}
	}
	return false
}

// StatsPeriod selects the aggregation window for stats queries.
type StatsPeriod string

const (
	PeriodDays   StatsPeriod = "days"
	PeriodWeeks  StatsPeriod = "weeks"
	PeriodMonths StatsPeriod = "months"
)

func (p StatsPeriod) Valid() bool {
	switch p {
	case PeriodDays, PeriodWeeks, PeriodMonths:
		return true
	}
	return false
}

type User struct {
	ID             int64   `json:"id"`
	TelegramUserID int64   `json:"telegram_user_id"`
	Username       *string `json:"username,omitempty"`
	FirstName      *string `json:"first_name,omitempty"`
	LastName       *string `json:"last_name,omitempty"`
	CreatedAt      string  `json:"created_at" format:"date-time"`
}

type Settings struct {
	UserID               int64           `json:"-"`
	Currency             string          `json:"currency"`
	PenaltyDailyDefault  decimal.Decimal `json:"penalty_daily_default"`
	PenaltyWeeklyDefault decimal.Decimal `json:"penalty_weekly_default"`
}

type Task struct {
	ID            int64            `json:"id"`
	UserID        int64            `json:"-"`
	Title         string           `json:"title"`
	Kind          TaskKind         `json:"kind"`
	IsActive      bool             `json:"is_active"`
	PenaltyAmount *decimal.Decimal `json:"penalty_amount,omitempty"`
	OrderIndex    int              `json:"order_index"`
	CreatedAt     string           `json:"created_at" format:"date-time"`
	UpdatedAt     string           `json:"updated_at" format:"date-time"`
}

type Session struct {
	ID        int64         `json:"id"`
	UserID    int64         `json:"-"`
	Scope     SessionScope  `json:"scope"`
	Status    SessionStatus `json:"status"`
	StartedAt string        `json:"started_at" format:"date-time"`
	ClosedAt  *string       `json:"closed_at,omitempty" format:"date-time"`
}

// Instance is a single occurrence of a task inside a session. Title and kind
// are snapshotted at creation time so deleting the source task never corrupts
// history; TaskID goes nil when that happens.
type Instance struct {
	ID             int64            `json:"id"`
	UserID         int64            `json:"-"`
	SessionID      int64            `json:"session_id"`
	TaskID         *int64           `json:"task_id,omitempty"`
	TaskTitle      string           `json:"task_title"`
	TaskKind       TaskKind         `json:"task_kind"`
	Status         InstanceStatus   `json:"status"`
	PenaltyApplied *decimal.Decimal `json:"penalty_applied,omitempty"`
	CreatedAt      string           `json:"created_at" format:"date-time"`
	UpdatedAt      string           `json:"updated_at" format:"date-time"`
}

// Settlement is the aggregate returned when a session closes.
type Settlement struct {
	SessionID        int64           `json:"id"`
	Scope            SessionScope    `json:"scope"`
	StartedAt        string          `json:"started_at" format:"date-time"`
	ClosedAt         string          `json:"closed_at" format:"date-time"`
	DoneCount        int             `json:"done_count"`
	CanceledCount    int             `json:"canceled_count"`
	FailedCount      int             `json:"failed_count"`
	AmountToTransfer decimal.Decimal `json:"amount_to_transfer"`
	Currency         string          `json:"currency"`
}

type Stats struct {
	Period       StatsPeriod     `json:"period"`
	FailedCount  int             `json:"failed_count"`
	TotalPenalty decimal.Decimal `json:"total_penalty"`
}

type StatsDetailRow struct {
	TaskTitle    string          `json:"task_title"`
	Status       InstanceStatus  `json:"status"`
	StartedAt    string          `json:"started_at" format:"date-time"`
	TotalPenalty decimal.Decimal `json:"total_penalty"`
}

type StatsDetails struct {
	Period       StatsPeriod      `json:"period"`
	TotalPenalty decimal.Decimal  `json:"total_penalty"`
	StatusCounts map[string]int   `json:"status_counts"`
	Rows         []StatsDetailRow `json:"rows"`
}

// Dashboard is the derived read model of currently open sessions.
type Dashboard struct {
	OpenDay  *Session `json:"open_day"`
	OpenWeek *Session `json:"open_week"`
}
