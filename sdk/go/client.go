package phaselinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Phaseline HTTP API client.
type Client struct {
	BaseURL     string
	OrgID       string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, orgID string) *Client {
	return &Client{
		BaseURL: baseURL,
		OrgID:   orgID,
		Timeout: 10 * time.Second,
	}
}

// Task represents the API task model (partial).
type Task struct {
	ID          string  `json:"id"`
	OrgID       string  `json:"org_id"`
	OwnerUserID string  `json:"owner_user_id"`
	Phase       int     `json:"phase"`
	Area        string  `json:"area"`
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	LeaderID    *string `json:"leader_id,omitempty"`
}

// Completion represents a task completion record.
type Completion struct {
	ID          string  `json:"id"`
	TaskID      string  `json:"task_id"`
	UserID      string  `json:"user_id"`
	State       string  `json:"state"`
	CompletedAt string  `json:"completed_at"`
	ValidatedAt *string `json:"validated_at,omitempty"`
}

// ScheduledTask is one entry in a weekly schedule.
type ScheduledTask struct {
	ID            string      `json:"id"`
	Title         string      `json:"title"`
	Area          string      `json:"area"`
	WeekNumber    int         `json:"week_number"`
	IsCarriedOver bool        `json:"is_carried_over"`
	Completion    *Completion `json:"completion,omitempty"`
}

// Week groups scheduled tasks.
type Week struct {
	Number  int             `json:"number"`
	Current bool            `json:"current"`
	Tasks   []ScheduledTask `json:"tasks"`
}

// Schedule is the phase schedule for one user.
type Schedule struct {
	Phase           int    `json:"phase"`
	CurrentWeek     int    `json:"current_week"`
	TotalWeeks      int    `json:"total_weeks"`
	CompletedTasks  int    `json:"completed_tasks"`
	TotalTasks      int    `json:"total_tasks"`
	ProgressPercent int    `json:"progress_percent"`
	Weeks           []Week `json:"weeks"`
}

// SwapQuota reports a user's remaining swaps for a phase.
type SwapQuota struct {
	TotalSwaps     int `json:"total_swaps"`
	UsedSwaps      int `json:"used_swaps"`
	RemainingSwaps int `json:"remaining_swaps"`
}

// Objective represents a weekly objective with key results.
type Objective struct {
	ID         string      `json:"id"`
	OrgID      string      `json:"org_id"`
	UserID     string      `json:"user_id"`
	Title      string      `json:"title"`
	WeekStart  string      `json:"week_start"`
	Status     string      `json:"status"`
	KeyResults []KeyResult `json:"key_results,omitempty"`
}

// KeyResult is one measurable target under an objective.
type KeyResult struct {
	ID           string  `json:"id"`
	ObjectiveID  string  `json:"objective_id"`
	Title        string  `json:"title"`
	CurrentValue float64 `json:"current_value"`
	TargetValue  float64 `json:"target_value"`
	Unit         string  `json:"unit,omitempty"`
}

// Alert represents a notification entry.
type Alert struct {
	ID           string `json:"id"`
	AlertType    string `json:"alert_type"`
	Severity     string `json:"severity"`
	Title        string `json:"title"`
	Message      string `json:"message"`
	TargetUserID string `json:"target_user_id"`
	CreatedAt    string `json:"created_at"`
}

// Event represents a log entry.
type Event struct {
	ID         int64  `json:"id"`
	Type       string `json:"type"`
	OrgID      string `json:"org_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
	CreatedAt  string `json:"created_at"`
}

// ImpactReport is the completion payload for gated areas.
type ImpactReport struct {
	Reflections     []string      `json:"reflections,omitempty"`
	KeyMetrics      []MetricEntry `json:"key_metrics,omitempty"`
	ImpactRating    int           `json:"impact_rating,omitempty"`
	FutureDecisions string        `json:"future_decisions,omitempty"`
	InvestmentNeeds string        `json:"investment_needs,omitempty"`
}

// MetricEntry is one measured metric in an impact report.
type MetricEntry struct {
	Kind  string  `json:"kind"`
	Name  string  `json:"name"`
	Value float64 `json:"value"`
	Unit  string  `json:"unit,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// GenerateCatalog generates a new catalog version for a phase.
func (c *Client) GenerateCatalog(ctx context.Context, phase int) error {
	return c.do(ctx, http.MethodPost, c.orgPath(fmt.Sprintf("phases/%d/catalog", phase)), nil, nil)
}

// Schedule returns the weekly schedule for a user and phase.
func (c *Client) Schedule(ctx context.Context, userID string, phase int) (Schedule, error) {
	var resp Schedule
	endpoint := c.orgPath(fmt.Sprintf("users/%s/phases/%d/schedule", url.PathEscape(userID), phase))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// SwapStatus returns the swap quota for a user and phase.
func (c *Client) SwapStatus(ctx context.Context, userID string, phase int) (SwapQuota, error) {
	var resp SwapQuota
	endpoint := c.orgPath(fmt.Sprintf("users/%s/phases/%d/swaps", url.PathEscape(userID), phase))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// CompleteTask marks a task complete on behalf of the authenticated user.
func (c *Client) CompleteTask(ctx context.Context, taskID, insights string, impact *ImpactReport) (Completion, error) {
	body := map[string]any{}
	if insights != "" {
		body["insights"] = insights
	}
	if impact != nil {
		body["impact"] = impact
	}
	var resp Completion
	endpoint := fmt.Sprintf("v0/tasks/%s/complete", url.PathEscape(taskID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// ValidateTask validates a completed task with leader feedback.
func (c *Client) ValidateTask(ctx context.Context, taskID, whatWentWell, whatToImprove, comments string, rating int) (Completion, error) {
	body := map[string]any{
		"what_went_well":  whatWentWell,
		"what_to_improve": whatToImprove,
		"rating":          rating,
	}
	if comments != "" {
		body["additional_comments"] = comments
	}
	var resp Completion
	endpoint := fmt.Sprintf("v0/tasks/%s/validate", url.PathEscape(taskID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// UnmarkTask deletes a task's completion so it is pending again.
func (c *Client) UnmarkTask(ctx context.Context, taskID string) error {
	endpoint := fmt.Sprintf("v0/tasks/%s/completion", url.PathEscape(taskID))
	return c.do(ctx, http.MethodDelete, endpoint, nil, nil)
}

// SwapTask replaces a task's content within the phase quota.
func (c *Client) SwapTask(ctx context.Context, taskID, title, description string) (Task, error) {
	body := map[string]any{"title": title}
	if description != "" {
		body["description"] = description
	}
	var resp Task
	endpoint := fmt.Sprintf("v0/tasks/%s/swap", url.PathEscape(taskID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// CreateObjective creates a weekly objective with key results.
func (c *Client) CreateObjective(ctx context.Context, title string, keyResults []KeyResult) (Objective, error) {
	krs := make([]map[string]any, 0, len(keyResults))
	for _, kr := range keyResults {
		krs = append(krs, map[string]any{
			"title":        kr.Title,
			"target_value": kr.TargetValue,
			"unit":         kr.Unit,
		})
	}
	body := map[string]any{"title": title, "key_results": krs}
	var resp Objective
	err := c.do(ctx, http.MethodPost, c.orgPath("objectives"), body, &resp)
	return resp, err
}

// UpdateKeyResult sets a key result's current value.
func (c *Client) UpdateKeyResult(ctx context.Context, objectiveID, krID string, value float64) (Objective, error) {
	body := map[string]any{"current_value": value}
	var resp Objective
	endpoint := fmt.Sprintf("v0/objectives/%s/key-results/%s", url.PathEscape(objectiveID), url.PathEscape(krID))
	err := c.do(ctx, http.MethodPatch, endpoint, body, &resp)
	return resp, err
}

// ReconcileObjectives carries unfinished objectives into the current week.
func (c *Client) ReconcileObjectives(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, c.orgPath("objectives/reconcile"), nil, nil)
}

// Alerts returns recent alerts, optionally for a single user.
func (c *Client) Alerts(ctx context.Context, userID string, limit int) ([]Alert, error) {
	endpoint := c.orgPath("alerts")
	params := url.Values{}
	if userID != "" {
		params.Set("user_id", userID)
	}
	if limit > 0 {
		params.Set("limit", fmt.Sprint(limit))
	}
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	var resp []Alert
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Events returns recent audit events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	endpoint := c.orgPath("events")
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) orgPath(p string) string {
	org := url.PathEscape(c.OrgID)
	return fmt.Sprintf("v0/orgs/%s/%s", org, strings.TrimLeft(p, "/"))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
