package repo

import (
	"context"
	"database/sql"

	"phaseline/internal/domain"
)

// EnsureQuota seeds the swap quota row for (org, user, phase) if missing.
// An existing row keeps its used count across regenerations.
func (r Repo) EnsureQuota(ctx context.Context, tx *sql.Tx, orgID, userID string, phase, total int) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO swap_quotas(org_id,user_id,phase,total_swaps,used_swaps) VALUES (?,?,?,?,0)
ON CONFLICT(org_id,user_id,phase) DO UPDATE SET total_swaps=excluded.total_swaps`,
		orgID, userID, phase, total)
	return err
}

func (r Repo) GetQuota(ctx context.Context, orgID, userID string, phase int) (domain.SwapQuota, error) {
	var q domain.SwapQuota
	err := r.DB.QueryRowContext(ctx, `SELECT org_id,user_id,phase,total_swaps,used_swaps FROM swap_quotas WHERE org_id=? AND user_id=? AND phase=?`,
		orgID, userID, phase).Scan(&q.OrgID, &q.UserID, &q.Phase, &q.TotalSwaps, &q.UsedSwaps)
	if err == sql.ErrNoRows {
		return q, ErrNotFound
	}
	return q, err
}

func (r Repo) GetQuotaTx(ctx context.Context, tx *sql.Tx, orgID, userID string, phase int) (domain.SwapQuota, error) {
	var q domain.SwapQuota
	err := tx.QueryRowContext(ctx, `SELECT org_id,user_id,phase,total_swaps,used_swaps FROM swap_quotas WHERE org_id=? AND user_id=? AND phase=?`,
		orgID, userID, phase).Scan(&q.OrgID, &q.UserID, &q.Phase, &q.TotalSwaps, &q.UsedSwaps)
	if err == sql.ErrNoRows {
		return q, ErrNotFound
	}
	return q, err
}

// ConsumeSwap increments used_swaps only while budget remains; the guard in
// the WHERE clause keeps concurrent swaps from overspending.
func (r Repo) ConsumeSwap(ctx context.Context, tx *sql.Tx, orgID, userID string, phase int) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE swap_quotas SET used_swaps=used_swaps+1
WHERE org_id=? AND user_id=? AND phase=? AND used_swaps < total_swaps`,
		orgID, userID, phase)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}
