package engine_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"phaseline/internal/config"
	"phaseline/internal/db"
	"phaseline/internal/domain"
	"phaseline/internal/engine"
	"phaseline/internal/migrate"
	"phaseline/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

// newTestEnv opens a fresh workspace. The clock is pinned to a Wednesday in
// week 1 of phase 1 of the default calendar.
func newTestEnv(t *testing.T, cfg *config.Config) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if cfg == nil {
		cfg = config.Default("org-1")
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("test config invalid: %v", err)
	}
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return time.Date(2026, 1, 7, 10, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	if _, err := eng.InitOrg(ctx, "org-1", "Test Org", "tester"); err != nil {
		t.Fatalf("init org: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx}
}

// soloConfig is a single-user roster with n leaderless, ungated templates.
func soloConfig(n int) *config.Config {
	cfg := config.Default("org-1")
	cfg.Users = []config.User{{ID: "ana", Name: "Ana", Areas: []string{"sales"}}}
	cfg.Leaders = nil
	cfg.Impact.GatedAreas = nil
	tpls := make([]config.TaskTemplate, 0, n)
	for i := 0; i < n; i++ {
		tpls = append(tpls, config.TaskTemplate{Title: fmt.Sprintf("Tarea %02d", i+1)})
	}
	cfg.Templates = map[string][]config.TaskTemplate{"sales": tpls}
	return cfg
}

func generate(t *testing.T, env testEnv, phase int) domain.CatalogVersion {
	t.Helper()
	v, err := env.Engine.GenerateCatalog(env.Ctx, "org-1", phase, "tester")
	if err != nil {
		t.Fatalf("generate catalog: %v", err)
	}
	return v
}

func findTask(t *testing.T, env testEnv, versionID, owner, title string) domain.Task {
	t.Helper()
	tasks, err := env.Engine.Repo.ListTasks(env.Ctx, repo.TaskFilters{
		OrgID:            "org-1",
		CatalogVersionID: versionID,
		OwnerUserID:      owner,
	})
	if err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	for _, task := range tasks {
		if task.Title == title {
			return task
		}
	}
	t.Fatalf("no task %q for %s", title, owner)
	return domain.Task{}
}

func validImpact() *engine.ImpactReport {
	return &engine.ImpactReport{
		Reflections:  [3]string{"Aprendí a priorizar el embudo", "Mejoraría la frecuencia de revisión", ""},
		ImpactRating: 4,
		KeyMetrics: []engine.MetricEntry{
			{Kind: engine.MetricRevenue, Name: "ventas semanales", Value: 1200, Unit: "EUR"},
		},
	}
}

func TestGenerateCatalogAssignsLeadersAndQuotas(t *testing.T) {
	env := newTestEnv(t, nil)
	v := generate(t, env, 1)

	solo := findTask(t, env, v.ID, "ana", "Revisar métricas de ventas")
	if solo.Collaborative() {
		t.Fatalf("expected leaderless task, got leader %v", *solo.LeaderID)
	}
	collab := findTask(t, env, v.ID, "ana", "Actualizar pipeline")
	if !collab.Collaborative() || *collab.LeaderID != "marta" {
		t.Fatalf("expected leader marta, got %+v", collab.LeaderID)
	}

	q, err := env.Engine.SwapStatus(env.Ctx, "org-1", "ana", 1)
	if err != nil {
		t.Fatalf("swap status: %v", err)
	}
	if q.TotalSwaps != 3 || q.UsedSwaps != 0 {
		t.Fatalf("expected fresh quota 3, got %+v", q)
	}
}

func TestRegenerationKeepsOldVersionsReadable(t *testing.T) {
	env := newTestEnv(t, nil)
	v1 := generate(t, env, 1)
	v2 := generate(t, env, 1)

	versions, err := env.Engine.Repo.ListCatalogVersions(env.Ctx, "org-1", 1)
	if err != nil {
		t.Fatalf("list versions: %v", err)
	}
	if len(versions) != 2 {
		t.Fatalf("expected 2 versions, got %d", len(versions))
	}
	active, err := env.Engine.Repo.ActiveCatalogVersion(env.Ctx, "org-1", 1)
	if err != nil {
		t.Fatalf("active version: %v", err)
	}
	if active != v2.ID {
		t.Fatalf("expected active %s, got %s", v2.ID, active)
	}
	old, err := env.Engine.Repo.ListTasks(env.Ctx, repo.TaskFilters{OrgID: "org-1", CatalogVersionID: v1.ID})
	if err != nil {
		t.Fatalf("list old tasks: %v", err)
	}
	if len(old) == 0 {
		t.Fatalf("expected old catalog tasks to stay readable")
	}
}

func TestGenerateWithoutLeaderDegradesToSolo(t *testing.T) {
	cfg := soloConfig(1)
	cfg.Templates["sales"][0].RequiresLeader = true
	env := newTestEnv(t, cfg)
	v := generate(t, env, 1)

	task := findTask(t, env, v.ID, "ana", "Tarea 01")
	if task.Collaborative() {
		t.Fatalf("expected solo fallback, got leader %v", *task.LeaderID)
	}
	alerts, err := env.Engine.Repo.ListAlerts(env.Ctx, repo.AlertFilters{OrgID: "org-1", TargetUserID: "ana"})
	if err != nil {
		t.Fatalf("list alerts: %v", err)
	}
	found := false
	for _, a := range alerts {
		if a.AlertType == "catalog.leaderless" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected catalog.leaderless alert, got %+v", alerts)
	}
}

func TestCompleteLeaderlessTaskSelfValidates(t *testing.T) {
	env := newTestEnv(t, nil)
	v := generate(t, env, 1)
	task := findTask(t, env, v.ID, "marta", "Revisar procesos")

	c, err := env.Engine.CompleteTask(env.Ctx, engine.CompleteTaskOptions{
		TaskID:   task.ID,
		UserID:   "marta",
		Insights: "El proceso de cierre tarda demasiado",
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if c.State != domain.StateValidated {
		t.Fatalf("expected validated, got %s", c.State)
	}
	if c.ValidatedAt == nil || *c.ValidatedAt != c.CompletedAt {
		t.Fatalf("expected validated_at == completed_at, got %+v", c.ValidatedAt)
	}
}

func TestCompleteRejectsNonOwner(t *testing.T) {
	env := newTestEnv(t, nil)
	v := generate(t, env, 1)
	task := findTask(t, env, v.ID, "marta", "Revisar procesos")

	_, err := env.Engine.CompleteTask(env.Ctx, engine.CompleteTaskOptions{TaskID: task.ID, UserID: "ana"})
	var ve engine.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestImpactGateBlocksGatedAreas(t *testing.T) {
	env := newTestEnv(t, nil)
	v := generate(t, env, 1)
	task := findTask(t, env, v.ID, "ana", "Revisar métricas de ventas")

	// sales is gated: no impact report means no completion
	_, err := env.Engine.CompleteTask(env.Ctx, engine.CompleteTaskOptions{TaskID: task.ID, UserID: "ana"})
	var ve engine.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected gate rejection, got %v", err)
	}

	// one reflection is not enough
	_, err = env.Engine.CompleteTask(env.Ctx, engine.CompleteTaskOptions{
		TaskID: task.ID,
		UserID: "ana",
		Impact: &engine.ImpactReport{Reflections: [3]string{"solo una", "", ""}, ImpactRating: 3, FutureDecisions: "x"},
	})
	if !errors.As(err, &ve) {
		t.Fatalf("expected reflection rejection, got %v", err)
	}

	c, err := env.Engine.CompleteTask(env.Ctx, engine.CompleteTaskOptions{
		TaskID: task.ID,
		UserID: "ana",
		Impact: validImpact(),
	})
	if err != nil {
		t.Fatalf("complete with impact: %v", err)
	}
	if c.ImpactJSON == nil {
		t.Fatalf("expected impact stored")
	}
	if c.State != domain.StateValidated {
		t.Fatalf("leaderless gated task should self-validate, got %s", c.State)
	}
}

func TestCollaborativeValidationFlow(t *testing.T) {
	env := newTestEnv(t, nil)
	v := generate(t, env, 1)
	task := findTask(t, env, v.ID, "ana", "Actualizar pipeline")

	// validation before completion
	fb := engine.LeaderFeedback{WhatWentWell: "Buen trabajo", WhatToImprove: "Más detalle", Rating: 4}
	if _, err := env.Engine.ValidateTask(env.Ctx, task.ID, "marta", fb); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found before completion, got %v", err)
	}

	c, err := env.Engine.CompleteTask(env.Ctx, engine.CompleteTaskOptions{
		TaskID: task.ID,
		UserID: "ana",
		Impact: validImpact(),
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if c.State != domain.StateCompleted || c.ValidatedAt != nil {
		t.Fatalf("collaborative task must wait for the leader, got %+v", c)
	}

	// only the assigned leader may validate
	if _, err := env.Engine.ValidateTask(env.Ctx, task.ID, "luis", fb); err == nil {
		t.Fatalf("expected leader check to reject luis")
	}
	// feedback is mandatory
	if _, err := env.Engine.ValidateTask(env.Ctx, task.ID, "marta", engine.LeaderFeedback{Rating: 4}); err == nil {
		t.Fatalf("expected feedback rejection")
	}

	validated, err := env.Engine.ValidateTask(env.Ctx, task.ID, "marta", fb)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if validated.State != domain.StateValidated || validated.ValidatedAt == nil {
		t.Fatalf("expected validated, got %+v", validated)
	}
	if validated.Rating == nil || *validated.Rating != 4 {
		t.Fatalf("expected rating 4, got %+v", validated.Rating)
	}

	// double validation is rejected
	if _, err := env.Engine.ValidateTask(env.Ctx, task.ID, "marta", fb); err == nil {
		t.Fatalf("expected already-validated rejection")
	}

	// the executor gets a celebration
	alerts, err := env.Engine.Repo.ListAlerts(env.Ctx, repo.AlertFilters{OrgID: "org-1", TargetUserID: "ana", Severity: "celebration"})
	if err != nil {
		t.Fatalf("list alerts: %v", err)
	}
	if len(alerts) != 1 || alerts[0].AlertType != "task.validated" {
		t.Fatalf("expected celebration alert for ana, got %+v", alerts)
	}
}

func TestUnmarkIsIdempotent(t *testing.T) {
	env := newTestEnv(t, nil)
	v := generate(t, env, 1)
	task := findTask(t, env, v.ID, "marta", "Revisar procesos")

	if _, err := env.Engine.CompleteTask(env.Ctx, engine.CompleteTaskOptions{TaskID: task.ID, UserID: "marta"}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if err := env.Engine.UnmarkTask(env.Ctx, task.ID, "ana"); err == nil {
		t.Fatalf("expected owner check")
	}
	if err := env.Engine.UnmarkTask(env.Ctx, task.ID, "marta"); err != nil {
		t.Fatalf("unmark: %v", err)
	}
	if _, err := env.Engine.Repo.GetCompletion(env.Ctx, task.ID, "marta"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected completion gone, got %v", err)
	}
	// second unmark is a no-op and must not add another event
	if err := env.Engine.UnmarkTask(env.Ctx, task.ID, "marta"); err != nil {
		t.Fatalf("second unmark: %v", err)
	}
	events, err := env.Engine.Repo.LatestEvents(env.Ctx, 10, "org-1", "task.unmarked", "", task.ID)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected one unmark event, got %d", len(events))
	}
}

func TestSwapSpendsQuotaAndStopsAtZero(t *testing.T) {
	cfg := config.Default("org-1")
	cfg.Swaps.PerPhase = 1
	env := newTestEnv(t, cfg)
	v := generate(t, env, 1)
	task := findTask(t, env, v.ID, "marta", "Revisar procesos")

	swapped, err := env.Engine.SwapTask(env.Ctx, engine.SwapOptions{
		TaskID: task.ID,
		UserID: "marta",
		Title:  "Auditar inventario",
	})
	if err != nil {
		t.Fatalf("swap: %v", err)
	}
	if swapped.Title != "Auditar inventario" {
		t.Fatalf("expected swapped title, got %s", swapped.Title)
	}
	q, err := env.Engine.SwapStatus(env.Ctx, "org-1", "marta", 1)
	if err != nil {
		t.Fatalf("swap status: %v", err)
	}
	if q.UsedSwaps != 1 || q.Remaining() != 0 {
		t.Fatalf("expected spent quota, got %+v", q)
	}

	_, err = env.Engine.SwapTask(env.Ctx, engine.SwapOptions{
		TaskID: task.ID,
		UserID: "marta",
		Title:  "Otro intento",
	})
	var qe engine.QuotaExceededError
	if !errors.As(err, &qe) {
		t.Fatalf("expected quota error, got %v", err)
	}
	// content untouched by the failed swap
	after, err := env.Engine.Repo.GetTask(env.Ctx, task.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if after.Title != "Auditar inventario" {
		t.Fatalf("failed swap must not change content, got %s", after.Title)
	}
}

func TestSwapRejectsCompletedTask(t *testing.T) {
	env := newTestEnv(t, nil)
	v := generate(t, env, 1)
	task := findTask(t, env, v.ID, "marta", "Revisar procesos")

	if _, err := env.Engine.CompleteTask(env.Ctx, engine.CompleteTaskOptions{TaskID: task.ID, UserID: "marta"}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	_, err := env.Engine.SwapTask(env.Ctx, engine.SwapOptions{TaskID: task.ID, UserID: "marta", Title: "Nueva"})
	var ve engine.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected completed-task rejection, got %v", err)
	}
}

func TestScheduleDistributesAndFlagsCarryOver(t *testing.T) {
	env := newTestEnv(t, soloConfig(10))
	v := generate(t, env, 1)
	// week 3 of phase 1 (start 2026-01-05)
	env.Engine.Now = func() time.Time { return time.Date(2026, 1, 19, 9, 0, 0, 0, time.UTC) }

	tasks, err := env.Engine.Repo.ListTasks(env.Ctx, repo.TaskFilters{OrgID: "org-1", CatalogVersionID: v.ID, OwnerUserID: "ana"})
	if err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	if len(tasks) != 10 {
		t.Fatalf("expected 10 tasks, got %d", len(tasks))
	}
	if _, err := env.Engine.CompleteTask(env.Ctx, engine.CompleteTaskOptions{TaskID: tasks[0].ID, UserID: "ana"}); err != nil {
		t.Fatalf("complete first: %v", err)
	}

	view, err := env.Engine.Schedule(env.Ctx, "org-1", "ana", 1)
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if view.CurrentWeek != 3 || view.TotalWeeks != 4 {
		t.Fatalf("expected week 3 of 4, got %d of %d", view.CurrentWeek, view.TotalWeeks)
	}
	wantSizes := []int{3, 3, 2, 2}
	for i, w := range view.Weeks {
		if len(w.Tasks) != wantSizes[i] {
			t.Fatalf("week %d: expected %d tasks, got %d", i+1, wantSizes[i], len(w.Tasks))
		}
		if w.Current != (i == 2) {
			t.Fatalf("week %d: wrong current flag", i+1)
		}
	}
	if view.CompletedTasks != 1 || view.TotalTasks != 10 || view.ProgressPercent != 10 {
		t.Fatalf("expected 1/10 (10%%), got %d/%d (%d%%)", view.CompletedTasks, view.TotalTasks, view.ProgressPercent)
	}
	// past weeks: incomplete tasks carry, completed ones do not
	first := view.Weeks[0].Tasks[0]
	if first.Completion == nil || first.IsCarriedOver {
		t.Fatalf("completed task must not carry, got %+v", first)
	}
	for _, st := range view.Weeks[0].Tasks[1:] {
		if !st.IsCarriedOver {
			t.Fatalf("expected week 1 task %s carried", st.Task.ID)
		}
	}
	for _, st := range view.Weeks[2].Tasks {
		if st.IsCarriedOver {
			t.Fatalf("current week task must not carry")
		}
	}
}

func TestObjectiveLifecycle(t *testing.T) {
	env := newTestEnv(t, nil)
	o, err := env.Engine.CreateObjective(env.Ctx, engine.ObjectiveOptions{
		OrgID:  "org-1",
		UserID: "ana",
		Title:  "Cerrar 5 ventas",
		KeyResults: []engine.KeyResultOptions{
			{Title: "Llamadas", TargetValue: 10},
			{Title: "Cierres", TargetValue: 5},
		},
	})
	if err != nil {
		t.Fatalf("create objective: %v", err)
	}
	if o.WeekStart != "2026-01-05" || o.Status != "active" {
		t.Fatalf("unexpected objective %+v", o)
	}

	// an unresolved objective blocks the next one
	_, err = env.Engine.CreateObjective(env.Ctx, engine.ObjectiveOptions{
		OrgID:      "org-1",
		UserID:     "ana",
		Title:      "Otro objetivo",
		KeyResults: []engine.KeyResultOptions{{Title: "KR", TargetValue: 1}},
	})
	var ve engine.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected backlog block, got %v", err)
	}

	updated, err := env.Engine.UpdateKeyResult(env.Ctx, o.ID, o.KeyResults[0].ID, 10, "ana")
	if err != nil {
		t.Fatalf("update kr1: %v", err)
	}
	if updated.Status != "active" {
		t.Fatalf("objective should not complete with one target met")
	}
	updated, err = env.Engine.UpdateKeyResult(env.Ctx, o.ID, o.KeyResults[1].ID, 5, "ana")
	if err != nil {
		t.Fatalf("update kr2: %v", err)
	}
	if updated.Status != "completed" {
		t.Fatalf("expected auto-complete, got %s", updated.Status)
	}

	// completed objective unblocks the week
	if _, err := env.Engine.CreateObjective(env.Ctx, engine.ObjectiveOptions{
		OrgID:      "org-1",
		UserID:     "ana",
		Title:      "Siguiente objetivo",
		KeyResults: []engine.KeyResultOptions{{Title: "KR", TargetValue: 1}},
	}); err != nil {
		t.Fatalf("create after completion: %v", err)
	}
}

func TestReconcileCarriesObjectivesForward(t *testing.T) {
	env := newTestEnv(t, nil)
	o, err := env.Engine.CreateObjective(env.Ctx, engine.ObjectiveOptions{
		OrgID:      "org-1",
		UserID:     "ana",
		Title:      "Reducir costes",
		KeyResults: []engine.KeyResultOptions{{Title: "Ahorro", TargetValue: 100, Unit: "EUR"}},
	})
	if err != nil {
		t.Fatalf("create objective: %v", err)
	}

	// a week later
	env.Engine.Now = func() time.Time { return time.Date(2026, 1, 14, 9, 0, 0, 0, time.UTC) }
	res, err := env.Engine.ReconcileObjectives(env.Ctx, "org-1", "tester")
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if res.WeekStart != "2026-01-12" || len(res.Carried) != 1 {
		t.Fatalf("expected one carry into 2026-01-12, got %+v", res)
	}
	moved, err := env.Engine.Repo.GetObjective(env.Ctx, o.ID)
	if err != nil {
		t.Fatalf("get objective: %v", err)
	}
	if moved.WeekStart != "2026-01-12" || moved.Status != "active" {
		t.Fatalf("expected advanced week, got %+v", moved)
	}
	alerts, err := env.Engine.Repo.ListAlerts(env.Ctx, repo.AlertFilters{OrgID: "org-1", TargetUserID: "ana", Severity: "important"})
	if err != nil {
		t.Fatalf("alerts: %v", err)
	}
	if len(alerts) != 1 || alerts[0].AlertType != "objective.carried" {
		t.Fatalf("expected carry alert, got %+v", alerts)
	}

	// idempotent within the same week
	again, err := env.Engine.ReconcileObjectives(env.Ctx, "org-1", "tester")
	if err != nil {
		t.Fatalf("second reconcile: %v", err)
	}
	if len(again.Carried) != 0 {
		t.Fatalf("expected no-op, got %+v", again)
	}
}
