package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"phaseline/internal/domain"
	"phaseline/internal/events"
)

// ObjectiveOptions create a weekly objective with its key results.
type ObjectiveOptions struct {
	OrgID      string
	UserID     string
	Title      string
	KeyResults []KeyResultOptions
}

type KeyResultOptions struct {
	Title       string
	TargetValue float64
	Unit        string
}

// CreateObjective starts a weekly objective for the current week. Refused
// while the user still carries an unresolved objective: a stuck objective
// blocks all future weekly generation for that user by design.
func (e Engine) CreateObjective(ctx context.Context, opts ObjectiveOptions) (domain.Objective, error) {
	if e.Config == nil {
		return domain.Objective{}, errors.New("config not loaded")
	}
	if strings.TrimSpace(opts.Title) == "" {
		return domain.Objective{}, ValidationError{Reason: "objective title is required"}
	}
	if len(opts.KeyResults) == 0 {
		return domain.Objective{}, ValidationError{Reason: "at least one key result is required"}
	}
	for i, kr := range opts.KeyResults {
		if strings.TrimSpace(kr.Title) == "" {
			return domain.Objective{}, validationErrorf("key result %d has empty title", i)
		}
		if kr.TargetValue <= 0 {
			return domain.Objective{}, validationErrorf("key result %d needs a positive target", i)
		}
	}
	active, err := e.Repo.ActiveObjective(ctx, opts.OrgID, opts.UserID)
	if err != nil {
		return domain.Objective{}, err
	}
	if active != nil {
		return domain.Objective{}, validationErrorf(
			"cannot create a new weekly objective: «%s» (week of %s) is still unresolved; complete its key results or mark it completed first",
			active.Title, active.WeekStart)
	}

	now := e.now().UTC()
	ts := now.Format(time.RFC3339)
	o := domain.Objective{
		ID:        uuid.New().String(),
		OrgID:     opts.OrgID,
		UserID:    opts.UserID,
		Title:     opts.Title,
		WeekStart: WeekStartOf(now),
		Status:    "active",
		CreatedAt: ts,
		UpdatedAt: ts,
	}
	for _, kr := range opts.KeyResults {
		o.KeyResults = append(o.KeyResults, domain.KeyResult{
			ID:          uuid.New().String(),
			ObjectiveID: o.ID,
			Title:       kr.Title,
			TargetValue: kr.TargetValue,
			Unit:        kr.Unit,
		})
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return o, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertObjective(ctx, tx, o); err != nil {
		return o, err
	}
	if err := e.Events.Append(ctx, tx, "objective.created", o.OrgID, "objective", o.ID, opts.UserID, events.EventPayload{
		"week_start":  o.WeekStart,
		"key_results": len(o.KeyResults),
	}); err != nil {
		return o, err
	}
	if err := tx.Commit(); err != nil {
		return o, err
	}
	return o, nil
}

// UpdateKeyResult sets a key result's current value. The objective
// auto-completes once every key result reaches its target.
func (e Engine) UpdateKeyResult(ctx context.Context, objectiveID, krID string, current float64, actorID string) (domain.Objective, error) {
	if e.Config == nil {
		return domain.Objective{}, errors.New("config not loaded")
	}
	if current < 0 {
		return domain.Objective{}, ValidationError{Reason: "current value must not be negative"}
	}
	o, err := e.Repo.GetObjective(ctx, objectiveID)
	if err != nil {
		return domain.Objective{}, err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return o, err
	}
	defer tx.Rollback()

	kr, err := e.Repo.GetKeyResultTx(ctx, tx, krID)
	if err != nil {
		return o, err
	}
	if kr.ObjectiveID != o.ID {
		return o, validationErrorf("key result %s does not belong to objective %s", krID, o.ID)
	}
	if err := e.Repo.UpdateKeyResultValue(ctx, tx, krID, current); err != nil {
		return o, err
	}
	if err := e.Events.Append(ctx, tx, "keyresult.updated", o.OrgID, "objective", o.ID, actorID, events.EventPayload{
		"key_result": krID,
		"current":    current,
		"target":     kr.TargetValue,
	}); err != nil {
		return o, err
	}
	done, err := e.Repo.AllKeyResultsReached(ctx, tx, o.ID)
	if err != nil {
		return o, err
	}
	ts := e.now().UTC().Format(time.RFC3339)
	if done && o.Status != "completed" {
		if err := e.Repo.SetObjectiveStatus(ctx, tx, o.ID, "completed", ts); err != nil {
			return o, err
		}
		if err := e.Events.Append(ctx, tx, "objective.completed", o.OrgID, "objective", o.ID, actorID, nil); err != nil {
			return o, err
		}
		o.Status = "completed"
	}
	if err := tx.Commit(); err != nil {
		return o, err
	}
	return e.Repo.GetObjective(ctx, o.ID)
}

// CompleteObjective marks an objective completed regardless of key result
// progress. Manual escape hatch for the backlog-forcing policy.
func (e Engine) CompleteObjective(ctx context.Context, objectiveID, actorID string) (domain.Objective, error) {
	o, err := e.Repo.GetObjective(ctx, objectiveID)
	if err != nil {
		return o, err
	}
	if o.Status == "completed" {
		return o, nil
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return o, err
	}
	defer tx.Rollback()
	ts := e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.SetObjectiveStatus(ctx, tx, o.ID, "completed", ts); err != nil {
		return o, err
	}
	if err := e.Events.Append(ctx, tx, "objective.completed", o.OrgID, "objective", o.ID, actorID, events.EventPayload{"manual": true}); err != nil {
		return o, err
	}
	if err := tx.Commit(); err != nil {
		return o, err
	}
	o.Status = "completed"
	o.UpdatedAt = ts
	return o, nil
}

// ReconcileResult reports what a carry-over pass did.
type ReconcileResult struct {
	WeekStart string
	Carried   []domain.Objective
}

// ReconcileObjectives runs the carry-over pass: every unresolved objective
// from an earlier week has its week_start advanced to the current week in
// place. Idempotent; a second run in the same week changes nothing. Incomplete
// tasks are never touched here, the scheduler flags them at read time.
func (e Engine) ReconcileObjectives(ctx context.Context, orgID, actorID string) (ReconcileResult, error) {
	if e.Config == nil {
		return ReconcileResult{}, errors.New("config not loaded")
	}
	weekStart := WeekStartOf(e.now())
	stale, err := e.Repo.StaleObjectives(ctx, orgID, weekStart)
	if err != nil {
		return ReconcileResult{}, err
	}
	result := ReconcileResult{WeekStart: weekStart}
	if len(stale) == 0 {
		return result, nil
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return result, err
	}
	defer tx.Rollback()

	ts := e.now().UTC().Format(time.RFC3339)
	for _, o := range stale {
		from := o.WeekStart
		if err := e.Repo.AdvanceObjectiveWeek(ctx, tx, o.ID, weekStart, ts); err != nil {
			return result, err
		}
		if err := e.Events.Append(ctx, tx, "objective.carried", orgID, "objective", o.ID, actorID, events.EventPayload{
			"from_week": from,
			"to_week":   weekStart,
		}); err != nil {
			return result, err
		}
		if err := e.Repo.InsertAlert(ctx, tx, domain.Alert{
			ID:           uuid.New().String(),
			OrgID:        orgID,
			AlertType:    "objective.carried",
			Severity:     "important",
			Title:        "Objetivo arrastrado",
			Message:      fmt.Sprintf("Tu objetivo «%s» sigue pendiente y pasó a la semana del %s", o.Title, weekStart),
			TargetUserID: o.UserID,
			Actionable:   true,
			CreatedAt:    ts,
		}); err != nil {
			return result, err
		}
		o.WeekStart = weekStart
		result.Carried = append(result.Carried, o)
	}
	if err := tx.Commit(); err != nil {
		return result, err
	}
	return result, nil
}
