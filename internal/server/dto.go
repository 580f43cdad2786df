package server

import (
	"phaseline/internal/domain"
	"phaseline/internal/engine"
)

// Request payloads

type MetricEntryRequest struct {
	Kind  string  `json:"kind" enum:"revenue,orders,conversion_rate,customers,hours_saved,cost_reduction,unclassified"`
	Name  string  `json:"name"`
	Value float64 `json:"value"`
	Unit  string  `json:"unit,omitempty"`
}

type ImpactReportRequest struct {
	Reflections     []string             `json:"reflections,omitempty" maxItems:"3"`
	KeyMetrics      []MetricEntryRequest `json:"key_metrics,omitempty"`
	ImpactRating    int                  `json:"impact_rating,omitempty" minimum:"0" maximum:"5"`
	FutureDecisions string               `json:"future_decisions,omitempty"`
	InvestmentNeeds string               `json:"investment_needs,omitempty"`
}

func (r *ImpactReportRequest) toEngine() *engine.ImpactReport {
	if r == nil {
		return nil
	}
	out := &engine.ImpactReport{
		ImpactRating:    r.ImpactRating,
		FutureDecisions: r.FutureDecisions,
		InvestmentNeeds: r.InvestmentNeeds,
	}
	for i, a := range r.Reflections {
		if i < 3 {
			out.Reflections[i] = a
		}
	}
	for _, m := range r.KeyMetrics {
		out.KeyMetrics = append(out.KeyMetrics, engine.MetricEntry{
			Kind:  engine.MetricKind(m.Kind),
			Name:  m.Name,
			Value: m.Value,
			Unit:  m.Unit,
		})
	}
	return out
}

type CompleteTaskRequest struct {
	Insights string               `json:"insights,omitempty"`
	Impact   *ImpactReportRequest `json:"impact,omitempty"`
}

type ValidateTaskRequest struct {
	WhatWentWell       string `json:"what_went_well"`
	WhatToImprove      string `json:"what_to_improve"`
	AdditionalComments string `json:"additional_comments,omitempty"`
	Rating             int    `json:"rating" minimum:"1" maximum:"5"`
}

type SwapTaskRequest struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Area        string `json:"area,omitempty"`
}

type KeyResultRequest struct {
	Title       string  `json:"title"`
	TargetValue float64 `json:"target_value"`
	Unit        string  `json:"unit,omitempty"`
}

type CreateObjectiveRequest struct {
	UserID     string             `json:"user_id,omitempty"`
	Title      string             `json:"title"`
	KeyResults []KeyResultRequest `json:"key_results"`
}

type UpdateKeyResultRequest struct {
	CurrentValue float64 `json:"current_value" minimum:"0"`
}

// Response payloads

type ScheduledTaskResponse struct {
	ID            string                 `json:"id"`
	Title         string                 `json:"title"`
	Description   string                 `json:"description,omitempty"`
	Area          string                 `json:"area"`
	LeaderID      *string                `json:"leader_id,omitempty"`
	WeekNumber    int                    `json:"week_number"`
	IsCarriedOver bool                   `json:"is_carried_over"`
	Completion    *domain.TaskCompletion `json:"completion,omitempty"`
}

type WeekResponse struct {
	Number  int                     `json:"number"`
	Current bool                    `json:"current"`
	Tasks   []ScheduledTaskResponse `json:"tasks"`
}

type ScheduleResponse struct {
	Phase           int            `json:"phase"`
	CurrentWeek     int            `json:"current_week"`
	TotalWeeks      int            `json:"total_weeks"`
	CompletedTasks  int            `json:"completed_tasks"`
	TotalTasks      int            `json:"total_tasks"`
	ProgressPercent int            `json:"progress_percent"`
	Weeks           []WeekResponse `json:"weeks"`
}

func toScheduleResponse(v engine.ScheduleView) ScheduleResponse {
	out := ScheduleResponse{
		Phase:           v.Phase,
		CurrentWeek:     v.CurrentWeek,
		TotalWeeks:      v.TotalWeeks,
		CompletedTasks:  v.CompletedTasks,
		TotalTasks:      v.TotalTasks,
		ProgressPercent: v.ProgressPercent,
	}
	for _, w := range v.Weeks {
		wr := WeekResponse{Number: w.Number, Current: w.Current, Tasks: []ScheduledTaskResponse{}}
		for _, st := range w.Tasks {
			wr.Tasks = append(wr.Tasks, ScheduledTaskResponse{
				ID:            st.Task.ID,
				Title:         st.Task.Title,
				Description:   st.Task.Description,
				Area:          st.Task.Area,
				LeaderID:      st.Task.LeaderID,
				WeekNumber:    st.WeekNumber,
				IsCarriedOver: st.IsCarriedOver,
				Completion:    st.Completion,
			})
		}
		out.Weeks = append(out.Weeks, wr)
	}
	return out
}

type SwapQuotaResponse struct {
	TotalSwaps     int `json:"total_swaps"`
	UsedSwaps      int `json:"used_swaps"`
	RemainingSwaps int `json:"remaining_swaps"`
}

type ReconcileResponse struct {
	WeekStart string             `json:"week_start"`
	Carried   []domain.Objective `json:"carried"`
}
