package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"phaseline/internal/config"
	"phaseline/internal/domain"
	"phaseline/internal/repo"
)

// ResolveOrgAndConfig picks the active org and ensures an org + config exist in
// DB, seeding defaults if missing. It prefers overrides, then single-org DB,
// then the workspace config file. If the org does not exist, it is created on
// the fly.
func ResolveOrgAndConfig(ctx context.Context, workspace, orgOverride string, r repo.Repo) (string, *config.Config, error) {
	orgID := orgOverride
	fileCfg, fileErr := config.LoadOptional(workspace)
	if orgID == "" {
		if o, err := r.SingleOrg(ctx); err == nil {
			orgID = o.ID
		} else if fileErr == nil && fileCfg != nil && fileCfg.Org.ID != "" {
			orgID = fileCfg.Org.ID
		} else {
			return "", nil, fmt.Errorf("org not specified; use --org or run 'pl init'")
		}
	}
	seedCfg := fileCfg
	if seedCfg == nil {
		seedCfg = config.Default(orgID)
	}
	seedCfg.Org.ID = orgID

	if _, err := r.GetOrg(ctx, orgID); err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return "", nil, err
		}
		if err := createOrg(ctx, r, orgID, seedCfg); err != nil {
			return "", nil, err
		}
	}
	cfg, err := r.GetOrgConfig(ctx, orgID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			if err := r.UpsertOrgConfig(ctx, orgID, seedCfg); err != nil {
				return "", nil, fmt.Errorf("seed org config: %w", err)
			}
			cfg = seedCfg
		} else {
			return "", nil, err
		}
	}
	cfg.Org.ID = orgID
	return orgID, cfg, nil
}

// createOrg inserts a minimal org footprint using the seed config.
func createOrg(ctx context.Context, r repo.Repo, orgID string, seedCfg *config.Config) error {
	if seedCfg == nil {
		seedCfg = config.Default(orgID)
	}
	now := time.Now().UTC().Format(time.RFC3339)
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	name := seedCfg.Org.Name
	if name == "" {
		name = orgID
	}
	if err := r.InsertOrg(ctx, tx, domain.Org{ID: orgID, Name: name, CreatedAt: now}); err != nil {
		return fmt.Errorf("insert org: %w", err)
	}
	if err := r.UpsertOrgConfigTx(ctx, tx, orgID, seedCfg); err != nil {
		return fmt.Errorf("insert org config: %w", err)
	}
	return tx.Commit()
}
