package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"phaseline/internal/config"
	"phaseline/internal/domain"
	"phaseline/internal/events"
	"phaseline/internal/repo"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// InitOrg creates the org row and seeds its config.
func (e Engine) InitOrg(ctx context.Context, orgID, name, actorID string) (domain.Org, error) {
	if e.Config == nil {
		return domain.Org{}, errors.New("config not loaded")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Org{}, err
	}
	defer tx.Rollback()

	if name == "" {
		name = e.Config.Org.Name
	}
	o := domain.Org{
		ID:        orgID,
		Name:      name,
		CreatedAt: e.now().UTC().Format(time.RFC3339),
	}
	if err := e.Repo.InsertOrg(ctx, tx, o); err != nil {
		return domain.Org{}, fmt.Errorf("insert org: %w", err)
	}
	if err := e.Repo.UpsertOrgConfigTx(ctx, tx, orgID, e.Config); err != nil {
		return domain.Org{}, fmt.Errorf("insert org config: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "org.init", orgID, "org", orgID, actorID, events.EventPayload{"name": o.Name}); err != nil {
		return domain.Org{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Org{}, err
	}
	return o, nil
}

// CompleteTaskOptions are parameters for marking a task complete.
type CompleteTaskOptions struct {
	TaskID   string
	UserID   string
	Insights string
	Impact   *ImpactReport
}

// CompleteTask records completion by the owner. Leaderless tasks self-validate
// in the same write; collaborative ones wait for the leader.
func (e Engine) CompleteTask(ctx context.Context, opts CompleteTaskOptions) (domain.TaskCompletion, error) {
	if e.Config == nil {
		return domain.TaskCompletion{}, errors.New("config not loaded")
	}
	t, err := e.Repo.GetTask(ctx, opts.TaskID)
	if err != nil {
		return domain.TaskCompletion{}, err
	}
	if t.OwnerUserID != opts.UserID {
		return domain.TaskCompletion{}, validationErrorf("task %s is not owned by %s", t.ID, opts.UserID)
	}
	var impactJSON *string
	if e.Config.ImpactGated(t.Area) {
		if err := checkImpactGate(opts.Impact); err != nil {
			return domain.TaskCompletion{}, err
		}
		s, err := marshalImpact(opts.Impact)
		if err != nil {
			return domain.TaskCompletion{}, err
		}
		impactJSON = s
	} else if opts.Impact != nil {
		s, err := marshalImpact(opts.Impact)
		if err != nil {
			return domain.TaskCompletion{}, err
		}
		impactJSON = s
	}

	now := e.now().UTC().Format(time.RFC3339)
	c := domain.TaskCompletion{
		ID:           uuid.New().String(),
		TaskID:       t.ID,
		UserID:       opts.UserID,
		OrgID:        t.OrgID,
		State:        domain.StateCompleted,
		CompletedAt:  now,
		UserInsights: opts.Insights,
		ImpactJSON:   impactJSON,
	}
	if !t.Collaborative() {
		// No leader means the completion is self-validated in one operation.
		c.State = domain.StateValidated
		c.ValidatedAt = &now
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return c, err
	}
	defer tx.Rollback()

	if existing, err := e.Repo.GetCompletionTx(ctx, tx, t.ID, opts.UserID); err == nil {
		// Upsert keeps the original row id; a validated row is never demoted.
		c.ID = existing.ID
		if existing.State == domain.StateValidated {
			c.State = domain.StateValidated
			c.ValidatedAt = existing.ValidatedAt
		}
	} else if !errors.Is(err, repo.ErrNotFound) {
		return c, err
	}
	if err := e.Repo.UpsertCompletion(ctx, tx, c); err != nil {
		return c, err
	}
	if err := e.Events.Append(ctx, tx, "task.completed", t.OrgID, "task", t.ID, opts.UserID, events.EventPayload{
		"state":         c.State,
		"collaborative": t.Collaborative(),
	}); err != nil {
		return c, err
	}
	if err := tx.Commit(); err != nil {
		return c, err
	}
	return c, nil
}

// LeaderFeedback is the validation payload a leader submits.
type LeaderFeedback struct {
	WhatWentWell       string
	WhatToImprove      string
	AdditionalComments string
	Rating             int
}

func (f LeaderFeedback) validate() error {
	if strings.TrimSpace(f.WhatWentWell) == "" {
		return ValidationError{Reason: "whatWentWell is required"}
	}
	if strings.TrimSpace(f.WhatToImprove) == "" {
		return ValidationError{Reason: "whatToImprove is required"}
	}
	if f.Rating < 1 || f.Rating > 5 {
		return validationErrorf("rating must be between 1 and 5, got %d", f.Rating)
	}
	return nil
}

// ValidateTask promotes a completed collaborative task and notifies the executor.
func (e Engine) ValidateTask(ctx context.Context, taskID, leaderID string, fb LeaderFeedback) (domain.TaskCompletion, error) {
	if e.Config == nil {
		return domain.TaskCompletion{}, errors.New("config not loaded")
	}
	if err := fb.validate(); err != nil {
		return domain.TaskCompletion{}, err
	}
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return domain.TaskCompletion{}, err
	}
	if !t.Collaborative() {
		return domain.TaskCompletion{}, validationErrorf("task %s has no leader to validate it", t.ID)
	}
	if *t.LeaderID != leaderID {
		return domain.TaskCompletion{}, validationErrorf("only leader %s may validate task %s", *t.LeaderID, t.ID)
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.TaskCompletion{}, err
	}
	defer tx.Rollback()

	c, err := e.Repo.GetCompletionTx(ctx, tx, t.ID, t.OwnerUserID)
	if err != nil {
		return domain.TaskCompletion{}, err
	}
	if c.State == domain.StateValidated {
		return c, validationErrorf("task %s is already validated", t.ID)
	}
	now := e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.SetValidation(ctx, tx, t.ID, t.OwnerUserID, now, fb.WhatWentWell, fb.WhatToImprove, fb.AdditionalComments, fb.Rating); err != nil {
		return c, err
	}
	alert := domain.Alert{
		ID:           uuid.New().String(),
		OrgID:        t.OrgID,
		AlertType:    "task.validated",
		Severity:     "celebration",
		Title:        "¡Tarea validada!",
		Message:      fmt.Sprintf("%s validó tu tarea «%s» con una calificación de %d/5", leaderID, t.Title, fb.Rating),
		TargetUserID: t.OwnerUserID,
		Actionable:   false,
		CreatedAt:    now,
	}
	if err := e.Repo.InsertAlert(ctx, tx, alert); err != nil {
		return c, err
	}
	if err := e.Events.Append(ctx, tx, "task.validated", t.OrgID, "task", t.ID, leaderID, events.EventPayload{
		"executor": t.OwnerUserID,
		"rating":   fb.Rating,
	}); err != nil {
		return c, err
	}
	if err := tx.Commit(); err != nil {
		return c, err
	}
	c.State = domain.StateValidated
	c.ValidatedAt = &now
	c.WhatWentWell = fb.WhatWentWell
	c.WhatToImprove = fb.WhatToImprove
	c.AdditionalComments = fb.AdditionalComments
	c.Rating = &fb.Rating
	return c, nil
}

// UnmarkTask hard-deletes the completion row. Idempotent: unmarking a pending
// task is a no-op. Leader feedback on the row is discarded; the audit event
// keeps the prior state.
func (e Engine) UnmarkTask(ctx context.Context, taskID, userID string) error {
	if e.Config == nil {
		return errors.New("config not loaded")
	}
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if t.OwnerUserID != userID {
		return validationErrorf("task %s is not owned by %s", t.ID, userID)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	priorState := ""
	if c, err := e.Repo.GetCompletionTx(ctx, tx, t.ID, userID); err == nil {
		priorState = c.State
	} else if !errors.Is(err, repo.ErrNotFound) {
		return err
	}
	deleted, err := e.Repo.DeleteCompletion(ctx, tx, t.ID, userID)
	if err != nil {
		return err
	}
	if deleted {
		if err := e.Events.Append(ctx, tx, "task.unmarked", t.OrgID, "task", t.ID, userID, events.EventPayload{
			"prior_state": priorState,
		}); err != nil {
			return err
		}
	}
	return tx.Commit()
}
