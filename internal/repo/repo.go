package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"phaseline/internal/config"
	"phaseline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

func nullableIntPtr(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

// --- orgs ---

func (r Repo) InsertOrg(ctx context.Context, tx *sql.Tx, o domain.Org) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO orgs(id,name,created_at) VALUES (?,?,?)`,
		o.ID, o.Name, o.CreatedAt)
	return err
}

func (r Repo) GetOrg(ctx context.Context, id string) (domain.Org, error) {
	var o domain.Org
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,created_at FROM orgs WHERE id=?`, id).
		Scan(&o.ID, &o.Name, &o.CreatedAt)
	if err == sql.ErrNoRows {
		return o, ErrNotFound
	}
	return o, err
}

func (r Repo) ListOrgs(ctx context.Context) ([]domain.Org, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,created_at FROM orgs ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Org
	for rows.Next() {
		var o domain.Org
		if err := rows.Scan(&o.ID, &o.Name, &o.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, o)
	}
	return res, nil
}

// SingleOrg returns the only org, used when --org is omitted on the CLI.
func (r Repo) SingleOrg(ctx context.Context) (domain.Org, error) {
	orgs, err := r.ListOrgs(ctx)
	if err != nil {
		return domain.Org{}, err
	}
	if len(orgs) == 0 {
		return domain.Org{}, ErrNotFound
	}
	if len(orgs) > 1 {
		return domain.Org{}, fmt.Errorf("multiple orgs exist; specify --org")
	}
	return orgs[0], nil
}

// --- org configs ---

func (r Repo) UpsertOrgConfig(ctx context.Context, orgID string, cfg *config.Config) error {
	return upsertOrgConfig(ctx, r.DB, nil, orgID, cfg)
}

func (r Repo) UpsertOrgConfigTx(ctx context.Context, tx *sql.Tx, orgID string, cfg *config.Config) error {
	return upsertOrgConfig(ctx, nil, tx, orgID, cfg)
}

func upsertOrgConfig(ctx context.Context, db *sql.DB, tx *sql.Tx, orgID string, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config nil")
	}
	cfg.Org.ID = orgID
	if err := cfg.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	exec := func(query string, args ...any) (sql.Result, error) {
		if tx != nil {
			return tx.ExecContext(ctx, query, args...)
		}
		return db.ExecContext(ctx, query, args...)
	}
	_, err = exec(`INSERT INTO org_configs(org_id,config_json,created_at,updated_at) VALUES (?,?,?,?)
ON CONFLICT(org_id) DO UPDATE SET config_json=excluded.config_json, updated_at=excluded.updated_at`, orgID, string(payload), now, now)
	return err
}

func (r Repo) GetOrgConfig(ctx context.Context, orgID string) (*config.Config, error) {
	var payload string
	err := r.DB.QueryRowContext(ctx, `SELECT config_json FROM org_configs WHERE org_id=?`, orgID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var cfg config.Config
	if err := json.Unmarshal([]byte(payload), &cfg); err != nil {
		return nil, err
	}
	if cfg.Org.ID == "" {
		cfg.Org.ID = orgID
	}
	return &cfg, cfg.Validate()
}

// --- catalog versions ---

func (r Repo) InsertCatalogVersion(ctx context.Context, tx *sql.Tx, v domain.CatalogVersion) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO catalog_versions(id,org_id,phase,generated_by,created_at) VALUES (?,?,?,?,?)`,
		v.ID, v.OrgID, v.Phase, v.GeneratedBy, v.CreatedAt)
	return err
}

// SetActiveCatalog swaps the active version pointer for (org, phase).
func (r Repo) SetActiveCatalog(ctx context.Context, tx *sql.Tx, orgID string, phase int, versionID string) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO active_catalogs(org_id,phase,version_id) VALUES (?,?,?)
ON CONFLICT(org_id,phase) DO UPDATE SET version_id=excluded.version_id`, orgID, phase, versionID)
	return err
}

// ActiveCatalogVersion resolves the active version id for (org, phase).
func (r Repo) ActiveCatalogVersion(ctx context.Context, orgID string, phase int) (string, error) {
	var id string
	err := r.DB.QueryRowContext(ctx, `SELECT version_id FROM active_catalogs WHERE org_id=? AND phase=?`, orgID, phase).Scan(&id)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return id, err
}

func (r Repo) ListCatalogVersions(ctx context.Context, orgID string, phase int) ([]domain.CatalogVersion, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,org_id,phase,generated_by,created_at FROM catalog_versions WHERE org_id=? AND phase=? ORDER BY created_at DESC, id DESC`, orgID, phase)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.CatalogVersion
	for rows.Next() {
		var v domain.CatalogVersion
		if err := rows.Scan(&v.ID, &v.OrgID, &v.Phase, &v.GeneratedBy, &v.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, v)
	}
	return res, nil
}

// --- tasks ---

func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO tasks(id,org_id,catalog_version_id,owner_user_id,phase,area,title,description,leader_id,order_index,created_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.OrgID, t.CatalogVersionID, t.OwnerUserID, t.Phase, t.Area, t.Title, nullable(t.Description),
		nullableStringPtr(t.LeaderID), t.OrderIndex, t.CreatedAt)
	return err
}

func scanTask(scan func(dest ...any) error) (domain.Task, error) {
	var t domain.Task
	var description, leaderID sql.NullString
	err := scan(&t.ID, &t.OrgID, &t.CatalogVersionID, &t.OwnerUserID, &t.Phase, &t.Area, &t.Title, &description, &leaderID, &t.OrderIndex, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	if description.Valid {
		t.Description = description.String
	}
	if leaderID.Valid {
		t.LeaderID = &leaderID.String
	}
	return t, nil
}

const taskColumns = `id,org_id,catalog_version_id,owner_user_id,phase,area,title,description,leader_id,order_index,created_at`

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id)
	return scanTask(row.Scan)
}

func (r Repo) GetTaskTx(ctx context.Context, tx *sql.Tx, id string) (domain.Task, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id)
	return scanTask(row.Scan)
}

type TaskFilters struct {
	OrgID            string
	CatalogVersionID string
	OwnerUserID      string
	Phase            int
	Area             string
}

// ListTasks returns tasks ordered by owner template order.
func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
	var clauses []string
	var args []any
	if f.OrgID != "" {
		clauses = append(clauses, "org_id=?")
		args = append(args, f.OrgID)
	}
	if f.CatalogVersionID != "" {
		clauses = append(clauses, "catalog_version_id=?")
		args = append(args, f.CatalogVersionID)
	}
	if f.OwnerUserID != "" {
		clauses = append(clauses, "owner_user_id=?")
		args = append(args, f.OwnerUserID)
	}
	if f.Phase > 0 {
		clauses = append(clauses, "phase=?")
		args = append(args, f.Phase)
	}
	if f.Area != "" {
		clauses = append(clauses, "area=?")
		args = append(args, f.Area)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + taskColumns + ` FROM tasks ` + where + ` ORDER BY owner_user_id, order_index ASC, id ASC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, nil
}

// UpdateTaskContent replaces title/description/area in place. Schedule slot
// (order_index) and ownership never change here.
func (r Repo) UpdateTaskContent(ctx context.Context, tx *sql.Tx, taskID, title, description, area string) error {
	res, err := tx.ExecContext(ctx, `UPDATE tasks SET title=?, description=?, area=? WHERE id=?`,
		title, nullable(description), area, taskID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
