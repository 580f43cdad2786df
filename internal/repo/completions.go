package repo

import (
	"context"
	"database/sql"

	"phaseline/internal/domain"
)

const completionColumns = `id,task_id,user_id,org_id,state,completed_at,validated_at,user_insights,what_went_well,what_to_improve,additional_comments,rating,impact_json`

func scanCompletion(scan func(dest ...any) error) (domain.TaskCompletion, error) {
	var c domain.TaskCompletion
	var validatedAt, insights, well, improve, comments, impact sql.NullString
	var rating sql.NullInt64
	err := scan(&c.ID, &c.TaskID, &c.UserID, &c.OrgID, &c.State, &c.CompletedAt, &validatedAt,
		&insights, &well, &improve, &comments, &rating, &impact)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	if err != nil {
		return c, err
	}
	if validatedAt.Valid {
		c.ValidatedAt = &validatedAt.String
	}
	if insights.Valid {
		c.UserInsights = insights.String
	}
	if well.Valid {
		c.WhatWentWell = well.String
	}
	if improve.Valid {
		c.WhatToImprove = improve.String
	}
	if comments.Valid {
		c.AdditionalComments = comments.String
	}
	if rating.Valid {
		v := int(rating.Int64)
		c.Rating = &v
	}
	if impact.Valid {
		c.ImpactJSON = &impact.String
	}
	return c, nil
}

// UpsertCompletion writes the completion row keyed by (task_id, user_id).
// Re-completing by the same actor is idempotent by design.
func (r Repo) UpsertCompletion(ctx context.Context, tx *sql.Tx, c domain.TaskCompletion) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO task_completions(`+completionColumns+`)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(task_id,user_id) DO UPDATE SET
  state=excluded.state,
  completed_at=excluded.completed_at,
  validated_at=excluded.validated_at,
  user_insights=excluded.user_insights,
  impact_json=excluded.impact_json`,
		c.ID, c.TaskID, c.UserID, c.OrgID, c.State, c.CompletedAt, nullableStringPtr(c.ValidatedAt),
		nullable(c.UserInsights), nullable(c.WhatWentWell), nullable(c.WhatToImprove),
		nullable(c.AdditionalComments), nullableIntPtr(c.Rating), nullableStringPtr(c.ImpactJSON))
	return err
}

// SetValidation promotes a completion to validated with leader feedback.
func (r Repo) SetValidation(ctx context.Context, tx *sql.Tx, taskID, userID, validatedAt, well, improve, comments string, rating int) error {
	res, err := tx.ExecContext(ctx, `UPDATE task_completions SET
  state=?, validated_at=?, what_went_well=?, what_to_improve=?, additional_comments=?, rating=?
WHERE task_id=? AND user_id=?`,
		domain.StateValidated, validatedAt, well, improve, nullable(comments), rating, taskID, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetCompletion(ctx context.Context, taskID, userID string) (domain.TaskCompletion, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+completionColumns+` FROM task_completions WHERE task_id=? AND user_id=?`, taskID, userID)
	return scanCompletion(row.Scan)
}

func (r Repo) GetCompletionTx(ctx context.Context, tx *sql.Tx, taskID, userID string) (domain.TaskCompletion, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+completionColumns+` FROM task_completions WHERE task_id=? AND user_id=?`, taskID, userID)
	return scanCompletion(row.Scan)
}

// DeleteCompletion removes the row for (task, user). Deleting an absent row is
// not an error; unmark is idempotent.
func (r Repo) DeleteCompletion(ctx context.Context, tx *sql.Tx, taskID, userID string) (bool, error) {
	res, err := tx.ExecContext(ctx, `DELETE FROM task_completions WHERE task_id=? AND user_id=?`, taskID, userID)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// CompletionsForTasks loads completion rows for a user across a task set.
func (r Repo) CompletionsForTasks(ctx context.Context, userID string, taskIDs []string) (map[string]domain.TaskCompletion, error) {
	out := map[string]domain.TaskCompletion{}
	if len(taskIDs) == 0 {
		return out, nil
	}
	query := `SELECT ` + completionColumns + ` FROM task_completions WHERE user_id=? AND task_id IN (?` + repeat(",?", len(taskIDs)-1) + `)`
	args := make([]any, 0, len(taskIDs)+1)
	args = append(args, userID)
	for _, id := range taskIDs {
		args = append(args, id)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		c, err := scanCompletion(rows.Scan)
		if err != nil {
			return nil, err
		}
		out[c.TaskID] = c
	}
	return out, nil
}

func repeat(s string, n int) string {
	out := ""
	for i := 0; i < n; i++ {
		out += s
	}
	return out
}
