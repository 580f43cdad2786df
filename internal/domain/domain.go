package domain

type Org struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type CatalogVersion struct {
	ID          string `json:"id"`
	OrgID       string `json:"org_id"`
	Phase       int    `json:"phase" minimum:"1" maximum:"4"`
	GeneratedBy string `json:"generated_by"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type Task struct {
	ID               string  `json:"id"`
	OrgID            string  `json:"org_id"`
	CatalogVersionID string  `json:"catalog_version_id"`
	OwnerUserID      string  `json:"owner_user_id"`
	Phase            int     `json:"phase" minimum:"1" maximum:"4"`
	Area             string  `json:"area"`
	Title            string  `json:"title"`
	Description      string  `json:"description,omitempty"`
	LeaderID         *string `json:"leader_id,omitempty"`
	OrderIndex       int     `json:"order_index"`
	CreatedAt        string  `json:"created_at" format:"date-time"`
}

// Collaborative reports whether completing the task requires leader validation.
func (t Task) Collaborative() bool { return t.LeaderID != nil && *t.LeaderID != "" }

// Completion states. A task with no completion row is pending.
const (
	StateCompleted = "completed"
	StateValidated = "validated"
)

type TaskCompletion struct {
	ID                 string  `json:"id"`
	TaskID             string  `json:"task_id"`
	UserID             string  `json:"user_id"`
	OrgID              string  `json:"org_id"`
	State              string  `json:"state" enum:"completed,validated"`
	CompletedAt        string  `json:"completed_at" format:"date-time"`
	ValidatedAt        *string `json:"validated_at,omitempty" format:"date-time"`
	UserInsights       string  `json:"user_insights,omitempty"`
	WhatWentWell       string  `json:"what_went_well,omitempty"`
	WhatToImprove      string  `json:"what_to_improve,omitempty"`
	AdditionalComments string  `json:"additional_comments,omitempty"`
	Rating             *int    `json:"rating,omitempty" minimum:"1" maximum:"5"`
	ImpactJSON         *string `json:"impact_json,omitempty"`
}

type SwapQuota struct {
	OrgID      string `json:"org_id"`
	UserID     string `json:"user_id"`
	Phase      int    `json:"phase"`
	TotalSwaps int    `json:"total_swaps"`
	UsedSwaps  int    `json:"used_swaps"`
}

// Remaining is total minus used, never negative.
func (q SwapQuota) Remaining() int {
	if r := q.TotalSwaps - q.UsedSwaps; r > 0 {
		return r
	}
	return 0
}

type Objective struct {
	ID         string      `json:"id"`
	OrgID      string      `json:"org_id"`
	UserID     string      `json:"user_id"`
	Title      string      `json:"title"`
	WeekStart  string      `json:"week_start" format:"date"`
	Status     string      `json:"status" enum:"active,completed"`
	CreatedAt  string      `json:"created_at" format:"date-time"`
	UpdatedAt  string      `json:"updated_at" format:"date-time"`
	KeyResults []KeyResult `json:"key_results,omitempty"`
}

type KeyResult struct {
	ID           string  `json:"id"`
	ObjectiveID  string  `json:"objective_id"`
	Title        string  `json:"title"`
	CurrentValue float64 `json:"current_value"`
	TargetValue  float64 `json:"target_value"`
	Unit         string  `json:"unit,omitempty"`
}

// Reached reports whether the key result hit its target.
func (k KeyResult) Reached() bool { return k.CurrentValue >= k.TargetValue }

type Alert struct {
	ID           string `json:"id"`
	OrgID        string `json:"org_id"`
	AlertType    string `json:"alert_type"`
	Severity     string `json:"severity" enum:"urgent,important,opportunity,celebration,info"`
	Title        string `json:"title"`
	Message      string `json:"message"`
	TargetUserID string `json:"target_user_id"`
	Actionable   bool   `json:"actionable"`
	CreatedAt    string `json:"created_at" format:"date-time"`
}

type OutboxEvent struct {
	ID          int64   `json:"id"`
	Type        string  `json:"type"`
	OrgID       string  `json:"org_id,omitempty"`
	EntityKind  string  `json:"entity_kind"`
	EntityID    string  `json:"entity_id,omitempty"`
	ActorID     string  `json:"actor_id"`
	Payload     string  `json:"payload_json"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
	Attempts    int     `json:"attempts"`
	LastError   string  `json:"last_error,omitempty"`
	DeliveredAt *string `json:"delivered_at,omitempty" format:"date-time"`
}
