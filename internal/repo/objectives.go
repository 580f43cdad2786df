package repo

import (
	"context"
	"database/sql"
	"strings"

	"phaseline/internal/domain"
)

func (r Repo) InsertObjective(ctx context.Context, tx *sql.Tx, o domain.Objective) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO objectives(id,org_id,user_id,title,week_start,status,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?)`,
		o.ID, o.OrgID, o.UserID, o.Title, o.WeekStart, o.Status, o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return err
	}
	for _, kr := range o.KeyResults {
		if _, err := tx.ExecContext(ctx, `INSERT INTO key_results(id,objective_id,title,current_value,target_value,unit) VALUES (?,?,?,?,?,?)`,
			kr.ID, o.ID, kr.Title, kr.CurrentValue, kr.TargetValue, nullable(kr.Unit)); err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) GetObjective(ctx context.Context, id string) (domain.Objective, error) {
	var o domain.Objective
	err := r.DB.QueryRowContext(ctx, `SELECT id,org_id,user_id,title,week_start,status,created_at,updated_at FROM objectives WHERE id=?`, id).
		Scan(&o.ID, &o.OrgID, &o.UserID, &o.Title, &o.WeekStart, &o.Status, &o.CreatedAt, &o.UpdatedAt)
	if err == sql.ErrNoRows {
		return o, ErrNotFound
	}
	if err != nil {
		return o, err
	}
	krs, err := r.ListKeyResults(ctx, o.ID)
	if err != nil {
		return o, err
	}
	o.KeyResults = krs
	return o, nil
}

type ObjectiveFilters struct {
	OrgID  string
	UserID string
	Status string
}

func (r Repo) ListObjectives(ctx context.Context, f ObjectiveFilters) ([]domain.Objective, error) {
	clauses := []string{"org_id=?"}
	args := []any{f.OrgID}
	if f.UserID != "" {
		clauses = append(clauses, "user_id=?")
		args = append(args, f.UserID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	query := `SELECT id,org_id,user_id,title,week_start,status,created_at,updated_at FROM objectives WHERE ` +
		strings.Join(clauses, " AND ") + ` ORDER BY week_start DESC, id DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Objective
	for rows.Next() {
		var o domain.Objective
		if err := rows.Scan(&o.ID, &o.OrgID, &o.UserID, &o.Title, &o.WeekStart, &o.Status, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range res {
		krs, err := r.ListKeyResults(ctx, res[i].ID)
		if err != nil {
			return nil, err
		}
		res[i].KeyResults = krs
	}
	return res, nil
}

// ActiveObjective returns the user's current active objective, nil when none.
func (r Repo) ActiveObjective(ctx context.Context, orgID, userID string) (*domain.Objective, error) {
	var o domain.Objective
	err := r.DB.QueryRowContext(ctx, `SELECT id,org_id,user_id,title,week_start,status,created_at,updated_at FROM objectives
WHERE org_id=? AND user_id=? AND status='active' ORDER BY week_start DESC LIMIT 1`, orgID, userID).
		Scan(&o.ID, &o.OrgID, &o.UserID, &o.Title, &o.WeekStart, &o.Status, &o.CreatedAt, &o.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	krs, err := r.ListKeyResults(ctx, o.ID)
	if err != nil {
		return nil, err
	}
	o.KeyResults = krs
	return &o, nil
}

// StaleObjectives returns active objectives whose week_start is before the
// given week. The reconciler advances them in place.
func (r Repo) StaleObjectives(ctx context.Context, orgID, beforeWeekStart string) ([]domain.Objective, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,org_id,user_id,title,week_start,status,created_at,updated_at FROM objectives
WHERE org_id=? AND status='active' AND week_start < ? ORDER BY id`, orgID, beforeWeekStart)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Objective
	for rows.Next() {
		var o domain.Objective
		if err := rows.Scan(&o.ID, &o.OrgID, &o.UserID, &o.Title, &o.WeekStart, &o.Status, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, o)
	}
	return res, rows.Err()
}

// AdvanceObjectiveWeek mutates week_start in place; the objective itself is
// never replaced during carry-over.
func (r Repo) AdvanceObjectiveWeek(ctx context.Context, tx *sql.Tx, id, weekStart, updatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE objectives SET week_start=?, updated_at=? WHERE id=?`, weekStart, updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) SetObjectiveStatus(ctx context.Context, tx *sql.Tx, id, status, updatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE objectives SET status=?, updated_at=? WHERE id=?`, status, updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ListKeyResults(ctx context.Context, objectiveID string) ([]domain.KeyResult, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,objective_id,title,current_value,target_value,COALESCE(unit,'') FROM key_results WHERE objective_id=? ORDER BY id`, objectiveID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.KeyResult
	for rows.Next() {
		var kr domain.KeyResult
		if err := rows.Scan(&kr.ID, &kr.ObjectiveID, &kr.Title, &kr.CurrentValue, &kr.TargetValue, &kr.Unit); err != nil {
			return nil, err
		}
		res = append(res, kr)
	}
	return res, rows.Err()
}

func (r Repo) GetKeyResultTx(ctx context.Context, tx *sql.Tx, id string) (domain.KeyResult, error) {
	var kr domain.KeyResult
	err := tx.QueryRowContext(ctx, `SELECT id,objective_id,title,current_value,target_value,COALESCE(unit,'') FROM key_results WHERE id=?`, id).
		Scan(&kr.ID, &kr.ObjectiveID, &kr.Title, &kr.CurrentValue, &kr.TargetValue, &kr.Unit)
	if err == sql.ErrNoRows {
		return kr, ErrNotFound
	}
	return kr, err
}

func (r Repo) UpdateKeyResultValue(ctx context.Context, tx *sql.Tx, id string, current float64) error {
	res, err := tx.ExecContext(ctx, `UPDATE key_results SET current_value=? WHERE id=?`, current, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// AllKeyResultsReached reports whether every KR of the objective hit target.
func (r Repo) AllKeyResultsReached(ctx context.Context, tx *sql.Tx, objectiveID string) (bool, error) {
	var pending int
	err := tx.QueryRowContext(ctx, `SELECT count(*) FROM key_results WHERE objective_id=? AND current_value < target_value`, objectiveID).Scan(&pending)
	if err != nil {
		return false, err
	}
	return pending == 0, nil
}
