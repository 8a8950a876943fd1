package server

import (
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/shopspring/decimal"

	"habitline/internal/domain"
)

// Monetary amounts cross the wire as decimal strings.

type UserResponse struct {
	ID             int64   `json:"id"`
	TelegramUserID int64   `json:"telegram_user_id"`
	Username       *string `json:"username,omitempty"`
	FirstName      *string `json:"first_name,omitempty"`
	LastName       *string `json:"last_name,omitempty"`
	CreatedAt      string  `json:"created_at"`
}

type SettingsResponse struct {
	Currency             string `json:"currency" example:"EUR"`
	PenaltyDailyDefault  string `json:"penalty_daily_default" example:"10"`
	PenaltyWeeklyDefault string `json:"penalty_weekly_default" example:"20"`
}

type UpdateSettingsRequest struct {
	Currency             *string `json:"currency,omitempty" maxLength:"3"`
	PenaltyDailyDefault  *string `json:"penalty_daily_default,omitempty"`
	PenaltyWeeklyDefault *string `json:"penalty_weekly_default,omitempty"`
}

type TaskResponse struct {
	ID            int64   `json:"id"`
	Title         string  `json:"title"`
	Kind          string  `json:"kind" enum:"daily,weekly,backlog"`
	IsActive      bool    `json:"is_active"`
	PenaltyAmount *string `json:"penalty_amount,omitempty"`
	OrderIndex    int     `json:"order_index"`
	CreatedAt     string  `json:"created_at"`
	UpdatedAt     string  `json:"updated_at"`
}

type CreateTaskRequest struct {
	Title         string  `json:"title" minLength:"1"`
	Kind          string  `json:"kind" enum:"daily,weekly,backlog"`
	PenaltyAmount *string `json:"penalty_amount,omitempty"`
	IsActive      *bool   `json:"is_active,omitempty"`
}

type UpdateTaskRequest struct {
	Title         *string `json:"title,omitempty"`
	Kind          *string `json:"kind,omitempty" enum:"daily,weekly,backlog"`
	IsActive      *bool   `json:"is_active,omitempty"`
	PenaltyAmount *string `json:"penalty_amount,omitempty"`
	ClearPenalty  bool    `json:"clear_penalty,omitempty"`
}

type ReorderTasksRequest struct {
	Order []int64 `json:"order"`
}

type SessionResponse struct {
	ID        int64   `json:"id"`
	Scope     string  `json:"scope" enum:"day,week"`
	Status    string  `json:"status" enum:"open,closed"`
	StartedAt string  `json:"started_at"`
	ClosedAt  *string `json:"closed_at,omitempty"`
}

type InstanceResponse struct {
	ID             int64   `json:"id"`
	SessionID      int64   `json:"session_id"`
	TaskID         *int64  `json:"task_id,omitempty"`
	TaskTitle      string  `json:"task_title"`
	TaskKind       string  `json:"task_kind"`
	Status         string  `json:"status" enum:"planned,done,canceled,failed"`
	PenaltyApplied *string `json:"penalty_applied,omitempty"`
	CreatedAt      string  `json:"created_at"`
	UpdatedAt      string  `json:"updated_at"`
}

type SessionWithInstancesResponse struct {
	Session   SessionResponse    `json:"session"`
	Instances []InstanceResponse `json:"instances"`
}

type SettlementResponse struct {
	SessionID        int64  `json:"id"`
	Scope            string `json:"scope"`
	StartedAt        string `json:"started_at"`
	ClosedAt         string `json:"closed_at"`
	DoneCount        int    `json:"done_count"`
	CanceledCount    int    `json:"canceled_count"`
	FailedCount      int    `json:"failed_count"`
	AmountToTransfer string `json:"amount_to_transfer" example:"8.50"`
	Currency         string `json:"currency" example:"EUR"`
}

// AddBacklogRequest targets an open session track: "today" pulls into the day
// session, "week" into the week session.
type AddBacklogRequest struct {
	TaskID int64  `json:"task_id"`
	Scope  string `json:"scope" enum:"today,week"`
}

type SetInstanceStatusRequest struct {
	Status string `json:"status" enum:"planned,done,canceled,failed"`
}

type StatsResponse struct {
	Period       string `json:"period" enum:"days,weeks,months"`
	FailedCount  int    `json:"failed_count"`
	TotalPenalty string `json:"total_penalty"`
}

type StatsDetailRowResponse struct {
	TaskTitle    string `json:"task_title"`
	Status       string `json:"status"`
	StartedAt    string `json:"started_at"`
	TotalPenalty string `json:"total_penalty"`
}

type StatsDetailsResponse struct {
	Period       string                   `json:"period"`
	TotalPenalty string                   `json:"total_penalty"`
	StatusCounts map[string]int           `json:"status_counts"`
	Rows         []StatsDetailRowResponse `json:"rows"`
}

type DashboardResponse struct {
	OpenDay  *SessionResponse `json:"open_day,omitempty"`
	OpenWeek *SessionResponse `json:"open_week,omitempty"`
}

func userResponse(u domain.User) UserResponse {
	return UserResponse{
		ID:             u.ID,
		TelegramUserID: u.TelegramUserID,
		Username:       u.Username,
		FirstName:      u.FirstName,
		LastName:       u.LastName,
		CreatedAt:      u.CreatedAt,
	}
}

func settingsResponse(s domain.Settings) SettingsResponse {
	return SettingsResponse{
		Currency:             s.Currency,
		PenaltyDailyDefault:  s.PenaltyDailyDefault.String(),
		PenaltyWeeklyDefault: s.PenaltyWeeklyDefault.String(),
	}
}

func taskResponse(t domain.Task) TaskResponse {
	return TaskResponse{
		ID:            t.ID,
		Title:         t.Title,
		Kind:          string(t.Kind),
		IsActive:      t.IsActive,
		PenaltyAmount: decString(t.PenaltyAmount),
		OrderIndex:    t.OrderIndex,
		CreatedAt:     t.CreatedAt,
		UpdatedAt:     t.UpdatedAt,
	}
}

func mapTasks(items []domain.Task) []TaskResponse {
	res := make([]TaskResponse, 0, len(items))
	for _, t := range items {
		res = append(res, taskResponse(t))
	}
	return res
}

func sessionResponse(s domain.Session) SessionResponse {
	return SessionResponse{
		ID:        s.ID,
		Scope:     string(s.Scope),
		Status:    string(s.Status),
		StartedAt: s.StartedAt,
		ClosedAt:  s.ClosedAt,
	}
}

func mapSessions(items []domain.Session) []SessionResponse {
	res := make([]SessionResponse, 0, len(items))
	for _, s := range items {
		res = append(res, sessionResponse(s))
	}
	return res
}

func instanceResponse(in domain.Instance) InstanceResponse {
	return InstanceResponse{
		ID:             in.ID,
		SessionID:      in.SessionID,
		TaskID:         in.TaskID,
		TaskTitle:      in.TaskTitle,
		TaskKind:       string(in.TaskKind),
		Status:         string(in.Status),
		PenaltyApplied: decString(in.PenaltyApplied),
		CreatedAt:      in.CreatedAt,
		UpdatedAt:      in.UpdatedAt,
	}
}

func mapInstances(items []domain.Instance) []InstanceResponse {
	res := make([]InstanceResponse, 0, len(items))
	for _, in := range items {
		res = append(res, instanceResponse(in))
	}
	return res
}

func settlementResponse(st domain.Settlement) SettlementResponse {
	return SettlementResponse{
		SessionID:        st.SessionID,
		Scope:            string(st.Scope),
		StartedAt:        st.StartedAt,
		ClosedAt:         st.ClosedAt,
		DoneCount:        st.DoneCount,
		CanceledCount:    st.CanceledCount,
		FailedCount:      st.FailedCount,
		AmountToTransfer: st.AmountToTransfer.String(),
		Currency:         st.Currency,
	}
}

func statsResponse(s domain.Stats) StatsResponse {
	return StatsResponse{
		Period:       string(s.Period),
		FailedCount:  s.FailedCount,
		TotalPenalty: s.TotalPenalty.String(),
	}
}

func statsDetailsResponse(d domain.StatsDetails) StatsDetailsResponse {
	rows := make([]StatsDetailRowResponse, 0, len(d.Rows))
	for _, row := range d.Rows {
		rows = append(rows, StatsDetailRowResponse{
			TaskTitle:    row.TaskTitle,
			Status:       string(row.Status),
			StartedAt:    row.StartedAt,
			TotalPenalty: row.TotalPenalty.String(),
		})
	}
	return StatsDetailsResponse{
		Period:       string(d.Period),
		TotalPenalty: d.TotalPenalty.String(),
		StatusCounts: d.StatusCounts,
		Rows:         rows,
	}
}

func decString(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}

func parseAmount(field string, raw *string) (*decimal.Decimal, huma.StatusError) {
	if raw == nil {
		return nil, nil
	}
	d, err := decimal.NewFromString(*raw)
	if err != nil {
		return nil, newAPIError(http.StatusBadRequest, "bad_request", field+" must be a decimal string", nil)
	}
	return &d, nil
}
