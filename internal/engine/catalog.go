package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"phaseline/internal/domain"
	"phaseline/internal/events"
)

// GenerateCatalog builds the task set for a phase from the configured
// templates and roster. Generation is immutable: tasks go into a fresh catalog
// version and the active pointer swaps in the same transaction, so readers see
// either the previous catalog or the complete new one, never a partial set.
func (e Engine) GenerateCatalog(ctx context.Context, orgID string, phase int, actorID string) (domain.CatalogVersion, error) {
	if e.Config == nil {
		return domain.CatalogVersion{}, errors.New("config not loaded")
	}
	if _, ok := e.Config.Phases[phase]; !ok {
		return domain.CatalogVersion{}, validationErrorf("phase %d is not configured", phase)
	}
	if _, err := e.Repo.GetOrg(ctx, orgID); err != nil {
		return domain.CatalogVersion{}, err
	}

	now := e.now().UTC().Format(time.RFC3339)
	version := domain.CatalogVersion{
		ID:          uuid.New().String(),
		OrgID:       orgID,
		Phase:       phase,
		GeneratedBy: actorID,
		CreatedAt:   now,
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return version, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertCatalogVersion(ctx, tx, version); err != nil {
		return version, GenerationError{Phase: phase, Err: err}
	}

	taskCount := 0
	for _, user := range e.Config.Users {
		order := 0
		for _, area := range user.Areas {
			for _, tpl := range e.Config.Templates[area] {
				t := domain.Task{
					ID:               uuid.New().String(),
					OrgID:            orgID,
					CatalogVersionID: version.ID,
					OwnerUserID:      user.ID,
					Phase:            phase,
					Area:             area,
					Title:            tpl.Title,
					Description:      tpl.Description,
					OrderIndex:       order,
					CreatedAt:        now,
				}
				if tpl.RequiresLeader {
					if leader := e.Config.LeaderFor(area, user.ID); leader != "" {
						t.LeaderID = &leader
					} else if err := e.warnNoLeader(ctx, tx, orgID, area, user.ID, tpl.Title, now); err != nil {
						return version, GenerationError{Phase: phase, Err: err}
					}
				}
				if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
					return version, GenerationError{Phase: phase, Err: err}
				}
				order++
				taskCount++
			}
		}
		if err := e.Repo.EnsureQuota(ctx, tx, orgID, user.ID, phase, e.Config.Swaps.PerPhase); err != nil {
			return version, GenerationError{Phase: phase, Err: err}
		}
	}

	if err := e.Repo.SetActiveCatalog(ctx, tx, orgID, phase, version.ID); err != nil {
		return version, GenerationError{Phase: phase, Err: err}
	}
	if err := e.Events.Append(ctx, tx, "catalog.generated", orgID, "catalog", version.ID, actorID, events.EventPayload{
		"phase": phase,
		"tasks": taskCount,
	}); err != nil {
		return version, GenerationError{Phase: phase, Err: err}
	}
	if err := tx.Commit(); err != nil {
		return version, GenerationError{Phase: phase, Err: err}
	}
	return version, nil
}

// warnNoLeader records that a collaborative template degraded to solo because
// no eligible leader exists for the area.
func (e Engine) warnNoLeader(ctx context.Context, tx *sql.Tx, orgID, area, userID, title, now string) error {
	return e.Repo.InsertAlert(ctx, tx, domain.Alert{
		ID:           uuid.New().String(),
		OrgID:        orgID,
		AlertType:    "catalog.leaderless",
		Severity:     "important",
		Title:        "Tarea colaborativa sin líder",
		Message:      fmt.Sprintf("No hay líder elegible en el área %s para la tarea «%s»; se generó como individual", area, title),
		TargetUserID: userID,
		Actionable:   true,
		CreatedAt:    now,
	})
}
