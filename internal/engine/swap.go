package engine

import (
	"context"
	"errors"
	"strings"

	"phaseline/internal/domain"
	"phaseline/internal/events"
	"phaseline/internal/repo"
)

// SwapOptions replace a task's content in place. The schedule slot and any
// completion state are untouched.
type SwapOptions struct {
	TaskID      string
	UserID      string
	Title       string
	Description string
	Area        string
}

// SwapTask replaces title/description/area for an incomplete task, spending
// one unit of the owner's per-phase swap budget.
func (e Engine) SwapTask(ctx context.Context, opts SwapOptions) (domain.Task, error) {
	if e.Config == nil {
		return domain.Task{}, errors.New("config not loaded")
	}
	if strings.TrimSpace(opts.Title) == "" {
		return domain.Task{}, ValidationError{Reason: "swap title is required"}
	}
	t, err := e.Repo.GetTask(ctx, opts.TaskID)
	if err != nil {
		return domain.Task{}, err
	}
	if t.OwnerUserID != opts.UserID {
		return t, validationErrorf("task %s is not owned by %s", t.ID, opts.UserID)
	}
	if _, err := e.Repo.GetCompletion(ctx, t.ID, opts.UserID); err == nil {
		return t, validationErrorf("task %s is already completed; unmark it before swapping", t.ID)
	} else if !errors.Is(err, repo.ErrNotFound) {
		return t, err
	}
	area := opts.Area
	if area == "" {
		area = t.Area
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return t, err
	}
	defer tx.Rollback()

	q, err := e.Repo.GetQuotaTx(ctx, tx, t.OrgID, opts.UserID, t.Phase)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return t, QuotaExceededError{UserID: opts.UserID, Phase: t.Phase}
		}
		return t, err
	}
	if q.Remaining() <= 0 {
		return t, QuotaExceededError{UserID: opts.UserID, Phase: t.Phase}
	}
	ok, err := e.Repo.ConsumeSwap(ctx, tx, t.OrgID, opts.UserID, t.Phase)
	if err != nil {
		return t, err
	}
	if !ok {
		return t, QuotaExceededError{UserID: opts.UserID, Phase: t.Phase}
	}
	if err := e.Repo.UpdateTaskContent(ctx, tx, t.ID, opts.Title, opts.Description, area); err != nil {
		return t, err
	}
	if err := e.Events.Append(ctx, tx, "task.swapped", t.OrgID, "task", t.ID, opts.UserID, events.EventPayload{
		"old_title": t.Title,
		"new_title": opts.Title,
		"remaining": q.Remaining() - 1,
	}); err != nil {
		return t, err
	}
	if err := tx.Commit(); err != nil {
		return t, err
	}
	t.Title = opts.Title
	t.Description = opts.Description
	t.Area = area
	return t, nil
}

// SwapStatus returns the quota read model for (user, phase).
func (e Engine) SwapStatus(ctx context.Context, orgID, userID string, phase int) (domain.SwapQuota, error) {
	q, err := e.Repo.GetQuota(ctx, orgID, userID, phase)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) && e.Config != nil {
			// Phase not generated yet for this user; report the configured budget.
			return domain.SwapQuota{OrgID: orgID, UserID: userID, Phase: phase, TotalSwaps: e.Config.Swaps.PerPhase}, nil
		}
		return q, err
	}
	return q, nil
}
