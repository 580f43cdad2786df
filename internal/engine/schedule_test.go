package engine_test

import (
	"testing"
	"time"

	"phaseline/internal/engine"
)

func TestDistributeWeeks(t *testing.T) {
	cases := []struct {
		tasks, weeks int
		want         []int
	}{
		{10, 4, []int{3, 3, 2, 2}},
		{8, 4, []int{2, 2, 2, 2}},
		{3, 4, []int{1, 1, 1, 0}},
		{0, 4, []int{0, 0, 0, 0}},
		{5, 1, []int{5}},
		{7, 0, []int{7}},
	}
	for _, c := range cases {
		got := engine.DistributeWeeks(c.tasks, c.weeks)
		if len(got) != len(c.want) {
			t.Fatalf("DistributeWeeks(%d, %d) = %v, want %v", c.tasks, c.weeks, got, c.want)
		}
		for i := range got {
			if got[i] != c.want[i] {
				t.Fatalf("DistributeWeeks(%d, %d) = %v, want %v", c.tasks, c.weeks, got, c.want)
			}
		}
	}
}

func TestCurrentWeek(t *testing.T) {
	start := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	cases := []struct {
		now  time.Time
		want int
	}{
		{time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC), 1},
		{time.Date(2026, 1, 11, 23, 0, 0, 0, time.UTC), 1},
		{time.Date(2026, 1, 12, 0, 0, 0, 0, time.UTC), 2},
		{time.Date(2026, 1, 19, 9, 0, 0, 0, time.UTC), 3},
		// before the phase starts we clamp to week 1
		{time.Date(2025, 12, 20, 0, 0, 0, 0, time.UTC), 1},
		// after the phase ends we clamp to the last week
		{time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC), 4},
	}
	for _, c := range cases {
		if got := engine.CurrentWeek(c.now, start, 4); got != c.want {
			t.Errorf("CurrentWeek(%s) = %d, want %d", c.now.Format("2006-01-02"), got, c.want)
		}
	}
}

func TestWeekStartOf(t *testing.T) {
	cases := []struct {
		day  time.Time
		want string
	}{
		{time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC), "2026-01-05"},  // Monday
		{time.Date(2026, 1, 7, 10, 0, 0, 0, time.UTC), "2026-01-05"},  // Wednesday
		{time.Date(2026, 1, 11, 23, 0, 0, 0, time.UTC), "2026-01-05"}, // Sunday
		{time.Date(2026, 1, 12, 0, 0, 0, 0, time.UTC), "2026-01-12"},
	}
	for _, c := range cases {
		if got := engine.WeekStartOf(c.day); got != c.want {
			t.Errorf("WeekStartOf(%s) = %s, want %s", c.day.Format(time.RFC3339), got, c.want)
		}
	}
}
