package repo

import (
	"context"
	"database/sql"
	"strings"

	"phaseline/internal/domain"
)

func (r Repo) InsertAlert(ctx context.Context, tx *sql.Tx, a domain.Alert) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO alerts(id,org_id,alert_type,severity,title,message,target_user_id,actionable,created_at)
VALUES (?,?,?,?,?,?,?,?,?)`,
		a.ID, a.OrgID, a.AlertType, a.Severity, a.Title, a.Message, a.TargetUserID, boolToInt(a.Actionable), a.CreatedAt)
	return err
}

type AlertFilters struct {
	OrgID        string
	TargetUserID string
	Severity     string
	Limit        int
}

func (r Repo) ListAlerts(ctx context.Context, f AlertFilters) ([]domain.Alert, error) {
	clauses := []string{"org_id=?"}
	args := []any{f.OrgID}
	if f.TargetUserID != "" {
		clauses = append(clauses, "target_user_id=?")
		args = append(args, f.TargetUserID)
	}
	if f.Severity != "" {
		clauses = append(clauses, "severity=?")
		args = append(args, f.Severity)
	}
	query := `SELECT id,org_id,alert_type,severity,title,message,target_user_id,actionable,created_at FROM alerts WHERE ` +
		strings.Join(clauses, " AND ") + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Alert
	for rows.Next() {
		var a domain.Alert
		var actionable int
		if err := rows.Scan(&a.ID, &a.OrgID, &a.AlertType, &a.Severity, &a.Title, &a.Message, &a.TargetUserID, &actionable, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.Actionable = actionable != 0
		res = append(res, a)
	}
	return res, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// --- outbox reads (writes live in events.Writer) ---

const outboxColumns = `id,type,org_id,entity_kind,entity_id,actor_id,payload_json,created_at,attempts,last_error,delivered_at`

func scanOutbox(scan func(dest ...any) error) (domain.OutboxEvent, error) {
	var e domain.OutboxEvent
	var orgID, entityID, lastErr, deliveredAt sql.NullString
	err := scan(&e.ID, &e.Type, &orgID, &e.EntityKind, &entityID, &e.ActorID, &e.Payload, &e.CreatedAt, &e.Attempts, &lastErr, &deliveredAt)
	if err == sql.ErrNoRows {
		return e, ErrNotFound
	}
	if err != nil {
		return e, err
	}
	if orgID.Valid {
		e.OrgID = orgID.String
	}
	if entityID.Valid {
		e.EntityID = entityID.String
	}
	if lastErr.Valid {
		e.LastError = lastErr.String
	}
	if deliveredAt.Valid {
		e.DeliveredAt = &deliveredAt.String
	}
	return e, nil
}

// PendingOutbox returns undelivered events below the attempt cap, oldest first.
func (r Repo) PendingOutbox(ctx context.Context, limit, maxAttempts int) ([]domain.OutboxEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+outboxColumns+` FROM outbox
WHERE delivered_at IS NULL AND attempts < ? ORDER BY id ASC LIMIT ?`, maxAttempts, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.OutboxEvent
	for rows.Next() {
		e, err := scanOutbox(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func (r Repo) MarkOutboxDelivered(ctx context.Context, id int64, deliveredAt string) error {
	_, err := r.DB.ExecContext(ctx, `UPDATE outbox SET delivered_at=?, last_error=NULL WHERE id=?`, deliveredAt, id)
	return err
}

func (r Repo) MarkOutboxFailed(ctx context.Context, id int64, lastError string) error {
	_, err := r.DB.ExecContext(ctx, `UPDATE outbox SET attempts=attempts+1, last_error=? WHERE id=?`, lastError, id)
	return err
}

// LatestEvents returns the audit tail, newest first.
func (r Repo) LatestEvents(ctx context.Context, limit int, orgID, evtType, entityKind, entityID string) ([]domain.OutboxEvent, error) {
	clauses := []string{"1=1"}
	var args []any
	if orgID != "" {
		clauses = append(clauses, "org_id=?")
		args = append(args, orgID)
	}
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if entityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, entityID)
	}
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + outboxColumns + ` FROM outbox WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.OutboxEvent
	for rows.Next() {
		e, err := scanOutbox(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
