package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"phaseline/internal/domain"
	"phaseline/internal/engine"
	"phaseline/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"quota_exceeded"`
	Message string         `json:"message" example:"no swaps remaining for user ana in phase 1"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Phaseline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Phaseline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerCatalog(group, cfg.Engine)
	registerSchedule(group, cfg.Engine)
	registerTasks(group, cfg.Engine)
	registerObjectives(group, cfg.Engine)
	registerAlerts(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerDevAuth(group, cfg.Auth, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var ve engine.ValidationError
	if errors.As(err, &ve) {
		return newAPIError(http.StatusBadRequest, "validation_error", err.Error(), nil)
	}
	var qe engine.QuotaExceededError
	if errors.As(err, &qe) {
		return newAPIError(http.StatusConflict, "quota_exceeded", err.Error(), map[string]any{
			"user_id": qe.UserID,
			"phase":   qe.Phase,
		})
	}
	var ge engine.GenerationError
	if errors.As(err, &ge) {
		return newAPIError(http.StatusInternalServerError, "generation_failed", err.Error(), map[string]any{"phase": ge.Phase})
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "validation_error"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerCatalog(api huma.API, e engine.Engine) {
	type generateInput struct {
		OrgID string `path:"org_id"`
		Phase int    `path:"phase" minimum:"1" maximum:"4"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "generate-catalog",
		Method:      http.MethodPost,
		Path:        "/orgs/{org_id}/phases/{phase}/catalog",
		Summary:     "Generate the task catalog for a phase",
	}, func(ctx context.Context, input *generateInput) (*struct {
		Body domain.CatalogVersion `json:"body"`
	}, error) {
		actor, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		v, err := e.GenerateCatalog(ctx, input.OrgID, input.Phase, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.CatalogVersion `json:"body"`
		}{Body: v}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-catalog-versions",
		Method:      http.MethodGet,
		Path:        "/orgs/{org_id}/phases/{phase}/catalog/versions",
		Summary:     "List catalog versions for a phase",
	}, func(ctx context.Context, input *generateInput) (*struct {
		Body []domain.CatalogVersion `json:"body"`
	}, error) {
		versions, err := e.Repo.ListCatalogVersions(ctx, input.OrgID, input.Phase)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.CatalogVersion `json:"body"`
		}{Body: versions}, nil
	})
}

func registerSchedule(api huma.API, e engine.Engine) {
	type scheduleInput struct {
		OrgID  string `path:"org_id"`
		UserID string `path:"user_id"`
		Phase  int    `path:"phase" minimum:"1" maximum:"4"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "get-schedule",
		Method:      http.MethodGet,
		Path:        "/orgs/{org_id}/users/{user_id}/phases/{phase}/schedule",
		Summary:     "Weekly schedule view for a user and phase",
	}, func(ctx context.Context, input *scheduleInput) (*struct {
		Body ScheduleResponse `json:"body"`
	}, error) {
		view, err := e.Schedule(ctx, input.OrgID, input.UserID, input.Phase)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ScheduleResponse `json:"body"`
		}{Body: toScheduleResponse(view)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-swap-status",
		Method:      http.MethodGet,
		Path:        "/orgs/{org_id}/users/{user_id}/phases/{phase}/swaps",
		Summary:     "Swap quota for a user and phase",
	}, func(ctx context.Context, input *scheduleInput) (*struct {
		Body SwapQuotaResponse `json:"body"`
	}, error) {
		q, err := e.SwapStatus(ctx, input.OrgID, input.UserID, input.Phase)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SwapQuotaResponse `json:"body"`
		}{Body: SwapQuotaResponse{
			TotalSwaps:     q.TotalSwaps,
			UsedSwaps:      q.UsedSwaps,
			RemainingSwaps: q.Remaining(),
		}}, nil
	})
}

func registerTasks(api huma.API, e engine.Engine) {
	type taskPath struct {
		TaskID string `path:"task_id"`
	}
	type completeInput struct {
		TaskID string `path:"task_id"`
		Body   CompleteTaskRequest
	}
	huma.Register(api, huma.Operation{
		OperationID: "complete-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/complete",
		Summary:     "Mark a task complete",
	}, func(ctx context.Context, input *completeInput) (*struct {
		Body domain.TaskCompletion `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.CompleteTask(ctx, engine.CompleteTaskOptions{
			TaskID:   input.TaskID,
			UserID:   userID,
			Insights: input.Body.Insights,
			Impact:   input.Body.Impact.toEngine(),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.TaskCompletion `json:"body"`
		}{Body: c}, nil
	})

	type validateInput struct {
		TaskID string `path:"task_id"`
		Body   ValidateTaskRequest
	}
	huma.Register(api, huma.Operation{
		OperationID: "validate-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/validate",
		Summary:     "Validate a completed collaborative task",
	}, func(ctx context.Context, input *validateInput) (*struct {
		Body domain.TaskCompletion `json:"body"`
	}, error) {
		leaderID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.ValidateTask(ctx, input.TaskID, leaderID, engine.LeaderFeedback{
			WhatWentWell:       input.Body.WhatWentWell,
			WhatToImprove:      input.Body.WhatToImprove,
			AdditionalComments: input.Body.AdditionalComments,
			Rating:             input.Body.Rating,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.TaskCompletion `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "unmark-task",
		Method:      http.MethodDelete,
		Path:        "/tasks/{task_id}/completion",
		Summary:     "Unmark a task (delete its completion)",
	}, func(ctx context.Context, input *taskPath) (*struct{}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.UnmarkTask(ctx, input.TaskID, userID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	type swapInput struct {
		TaskID string `path:"task_id"`
		Body   SwapTaskRequest
	}
	huma.Register(api, huma.Operation{
		OperationID: "swap-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/swap",
		Summary:     "Swap a task's content within the phase quota",
	}, func(ctx context.Context, input *swapInput) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.SwapTask(ctx, engine.SwapOptions{
			TaskID:      input.TaskID,
			UserID:      userID,
			Title:       input.Body.Title,
			Description: input.Body.Description,
			Area:        input.Body.Area,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})
}

func registerObjectives(api huma.API, e engine.Engine) {
	type createInput struct {
		OrgID string `path:"org_id"`
		Body  CreateObjectiveRequest
	}
	huma.Register(api, huma.Operation{
		OperationID: "create-objective",
		Method:      http.MethodPost,
		Path:        "/orgs/{org_id}/objectives",
		Summary:     "Create a weekly objective",
	}, func(ctx context.Context, input *createInput) (*struct {
		Body domain.Objective `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if input.Body.UserID != "" {
			userID = input.Body.UserID
		}
		opts := engine.ObjectiveOptions{
			OrgID:  input.OrgID,
			UserID: userID,
			Title:  input.Body.Title,
		}
		for _, kr := range input.Body.KeyResults {
			opts.KeyResults = append(opts.KeyResults, engine.KeyResultOptions{
				Title:       kr.Title,
				TargetValue: kr.TargetValue,
				Unit:        kr.Unit,
			})
		}
		o, err := e.CreateObjective(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Objective `json:"body"`
		}{Body: o}, nil
	})

	type listInput struct {
		OrgID  string `path:"org_id"`
		UserID string `query:"user_id"`
		Status string `query:"status" enum:"active,completed,"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "list-objectives",
		Method:      http.MethodGet,
		Path:        "/orgs/{org_id}/objectives",
		Summary:     "List objectives",
	}, func(ctx context.Context, input *listInput) (*struct {
		Body []domain.Objective `json:"body"`
	}, error) {
		items, err := e.Repo.ListObjectives(ctx, repo.ObjectiveFilters{
			OrgID:  input.OrgID,
			UserID: input.UserID,
			Status: input.Status,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Objective `json:"body"`
		}{Body: items}, nil
	})

	type krInput struct {
		ObjectiveID string `path:"objective_id"`
		KeyResultID string `path:"kr_id"`
		Body        UpdateKeyResultRequest
	}
	huma.Register(api, huma.Operation{
		OperationID: "update-key-result",
		Method:      http.MethodPatch,
		Path:        "/objectives/{objective_id}/key-results/{kr_id}",
		Summary:     "Update a key result's current value",
	}, func(ctx context.Context, input *krInput) (*struct {
		Body domain.Objective `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		o, err := e.UpdateKeyResult(ctx, input.ObjectiveID, input.KeyResultID, input.Body.CurrentValue, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Objective `json:"body"`
		}{Body: o}, nil
	})

	type objectivePath struct {
		ObjectiveID string `path:"objective_id"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "complete-objective",
		Method:      http.MethodPost,
		Path:        "/objectives/{objective_id}/complete",
		Summary:     "Mark an objective completed",
	}, func(ctx context.Context, input *objectivePath) (*struct {
		Body domain.Objective `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		o, err := e.CompleteObjective(ctx, input.ObjectiveID, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Objective `json:"body"`
		}{Body: o}, nil
	})

	type orgPath struct {
		OrgID string `path:"org_id"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "reconcile-objectives",
		Method:      http.MethodPost,
		Path:        "/orgs/{org_id}/objectives/reconcile",
		Summary:     "Carry incomplete objectives into the current week",
	}, func(ctx context.Context, input *orgPath) (*struct {
		Body ReconcileResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.ReconcileObjectives(ctx, input.OrgID, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ReconcileResponse `json:"body"`
		}{Body: ReconcileResponse{WeekStart: res.WeekStart, Carried: res.Carried}}, nil
	})
}

func registerAlerts(api huma.API, e engine.Engine) {
	type alertsInput struct {
		OrgID    string `path:"org_id"`
		UserID   string `query:"user_id"`
		Severity string `query:"severity" enum:"urgent,important,opportunity,celebration,info,"`
		Limit    int    `query:"limit"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "list-alerts",
		Method:      http.MethodGet,
		Path:        "/orgs/{org_id}/alerts",
		Summary:     "List alerts",
	}, func(ctx context.Context, input *alertsInput) (*struct {
		Body []domain.Alert `json:"body"`
	}, error) {
		items, err := e.Repo.ListAlerts(ctx, repo.AlertFilters{
			OrgID:        input.OrgID,
			TargetUserID: input.UserID,
			Severity:     input.Severity,
			Limit:        input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Alert `json:"body"`
		}{Body: items}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	type eventsInput struct {
		OrgID      string `path:"org_id"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/orgs/{org_id}/events",
		Summary:     "Audit event tail",
	}, func(ctx context.Context, input *eventsInput) (*struct {
		Body []domain.OutboxEvent `json:"body"`
	}, error) {
		items, err := e.Repo.LatestEvents(ctx, input.Limit, input.OrgID, input.Type, input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.OutboxEvent `json:"body"`
		}{Body: items}, nil
	})
}

func registerDevAuth(api huma.API, auth AuthConfig, e engine.Engine) {
	if !auth.DevLoginEnabled {
		return
	}
	type loginInput struct {
		Body struct {
			UserID string `json:"user_id"`
			OrgID  string `json:"org_id,omitempty"`
			Role   string `json:"role,omitempty"`
		}
	}
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "Issue a development token",
	}, func(ctx context.Context, input *loginInput) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		if input.Body.UserID == "" {
			return nil, newAPIError(http.StatusBadRequest, "validation_error", "user_id is required", nil)
		}
		token, err := issueDevToken(auth.JWTSecret, input.Body.UserID, input.Body.OrgID, input.Body.Role, auth.DevTokenTTL, time.Now())
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"token": token}}, nil
	})
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			spec, _ = json.Marshal(api.OpenAPI())
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Phaseline API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt;.
    </p>
  </body>
</html>`, specURL)
}
