package engine

import (
	"context"
	"errors"
	"math"
	"time"

	"phaseline/internal/domain"
	"phaseline/internal/repo"
)

// DistributeWeeks splits n ordered tasks into w contiguous buckets whose sizes
// differ by at most one, earlier weeks taking the remainder. The assignment is
// a pure function of order: recomputing it never moves a task.
func DistributeWeeks(n, w int) []int {
	if w < 1 {
		w = 1
	}
	sizes := make([]int, w)
	base := n / w
	extra := n % w
	for i := range sizes {
		sizes[i] = base
		if i < extra {
			sizes[i]++
		}
	}
	return sizes
}

// CurrentWeek derives the active week from wall-clock time, clamped to [1, w].
func CurrentWeek(now, phaseStart time.Time, w int) int {
	if w < 1 {
		w = 1
	}
	elapsed := int(now.Sub(phaseStart).Hours() / (24 * 7))
	week := elapsed + 1
	if week < 1 {
		week = 1
	}
	if week > w {
		week = w
	}
	return week
}

// WeekStartOf returns the Monday 00:00 UTC of the week containing t,
// formatted as a date. Objectives key on this value.
func WeekStartOf(t time.Time) string {
	t = t.UTC()
	offset := (int(t.Weekday()) + 6) % 7 // Monday=0
	monday := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, -offset)
	return monday.Format("2006-01-02")
}

type ScheduledTask struct {
	Task          domain.Task
	Completion    *domain.TaskCompletion
	WeekNumber    int
	IsCarriedOver bool
}

type WeekBucket struct {
	Number  int
	Current bool
	Tasks   []ScheduledTask
}

// ScheduleView is the schedule read model for one user and phase.
type ScheduleView struct {
	Phase           int
	CurrentWeek     int
	TotalWeeks      int
	CompletedTasks  int
	TotalTasks      int
	ProgressPercent int
	Weeks           []WeekBucket
}

// Schedule builds the weekly view from the active catalog. Week numbers are
// fixed by order_index; isCarriedOver is derived at read time and never stored.
func (e Engine) Schedule(ctx context.Context, orgID, userID string, phase int) (ScheduleView, error) {
	if e.Config == nil {
		return ScheduleView{}, errors.New("config not loaded")
	}
	pc, ok := e.Config.Phases[phase]
	if !ok {
		return ScheduleView{}, validationErrorf("phase %d is not configured", phase)
	}
	start, err := time.Parse("2006-01-02", pc.Start)
	if err != nil {
		return ScheduleView{}, validationErrorf("phase %d has invalid start date %q", phase, pc.Start)
	}
	versionID, err := e.Repo.ActiveCatalogVersion(ctx, orgID, phase)
	if err != nil {
		return ScheduleView{}, err
	}
	tasks, err := e.Repo.ListTasks(ctx, repo.TaskFilters{
		OrgID:            orgID,
		CatalogVersionID: versionID,
		OwnerUserID:      userID,
		Phase:            phase,
	})
	if err != nil {
		return ScheduleView{}, err
	}
	ids := make([]string, len(tasks))
	for i, t := range tasks {
		ids[i] = t.ID
	}
	completions, err := e.Repo.CompletionsForTasks(ctx, userID, ids)
	if err != nil {
		return ScheduleView{}, err
	}

	currentWeek := CurrentWeek(e.now().UTC(), start, pc.Weeks)
	sizes := DistributeWeeks(len(tasks), pc.Weeks)
	view := ScheduleView{
		Phase:       phase,
		CurrentWeek: currentWeek,
		TotalWeeks:  pc.Weeks,
		TotalTasks:  len(tasks),
		Weeks:       make([]WeekBucket, pc.Weeks),
	}
	idx := 0
	for w := 0; w < pc.Weeks; w++ {
		bucket := WeekBucket{Number: w + 1, Current: w+1 == currentWeek}
		for k := 0; k < sizes[w]; k++ {
			t := tasks[idx]
			idx++
			st := ScheduledTask{Task: t, WeekNumber: w + 1}
			if c, ok := completions[t.ID]; ok {
				cc := c
				st.Completion = &cc
				view.CompletedTasks++
			} else if st.WeekNumber < currentWeek {
				st.IsCarriedOver = true
			}
			bucket.Tasks = append(bucket.Tasks, st)
		}
		view.Weeks[w] = bucket
	}
	if view.TotalTasks > 0 {
		view.ProgressPercent = int(math.Round(float64(view.CompletedTasks) / float64(view.TotalTasks) * 100))
	}
	return view, nil
}
