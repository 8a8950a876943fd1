package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Event types appended by the engine.
const (
	TypeUserCreated           = "user.created"
	TypeSettingsUpdated       = "settings.updated"
	TypeTaskCreated           = "task.created"
	TypeTaskUpdated           = "task.updated"
	TypeTaskDeleted           = "task.deleted"
	TypeTasksReordered        = "tasks.reordered"
	TypeSessionStarted        = "session.started"
	TypeSessionClosed         = "session.closed"
	TypeInstanceAdded         = "instance.added"
	TypeInstanceStatusChanged = "instance.status_changed"
	TypeStatsCleared          = "stats.cleared"
)

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

// Append records an audit event inside the caller's transaction.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType string, userID int64, entityKind string, entityID int64, payload EventPayload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,user_id,entity_kind,entity_id,payload_json) VALUES (?,?,?,?,?,?)`,
		ts, evtType, userID, entityKind, fmt.Sprint(entityID), string(data))
	return err
}
