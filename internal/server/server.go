package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"reflect"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"servicetag/internal/activity"
	"servicetag/internal/config"
	"servicetag/internal/domain"
	"servicetag/internal/fetch"
	"servicetag/internal/logging"
	"servicetag/internal/repo"
	"servicetag/internal/serial"
	"servicetag/internal/trigger"
)

// Config for the HTTP API handler.
type Config struct {
	Trigger  *trigger.Trigger
	Fetcher  fetch.Fetcher
	Repo     repo.Repo
	Sync     domain.SyncConfiguration
	BasePath string
	Auth     AuthConfig
	Logger   *zap.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"already_running"`
	Message string         `json:"message" example:"sync already running"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"name\":\"dell_asset_sync\"}"`
}

// apiError models the required error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the servicetag API.
func New(cfg Config) (http.Handler, error) {
	if cfg.Trigger == nil {
		return nil, errors.New("server: trigger is required")
	}
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	cfg.Logger = logging.OrNop(cfg.Logger)
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors should be 400 bad_request
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Logger))
	hcfg := huma.DefaultConfig("servicetag API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerJobs(group, cfg)
	registerStatus(group, cfg)
	registerActivity(group, cfg)
	registerRuns(group, cfg)
	registerEvents(group, cfg)
	registerEstimate(group, cfg)
	registerSerials(group)
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
	var ce config.ConfigurationError
	if errors.As(err, &ce) {
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), map[string]any{"field": ce.Field})
	}
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, trigger.ErrAlreadyRunning):
		return newAPIError(http.StatusConflict, "already_running", err.Error(), nil)
	case errors.Is(err, fetch.ErrNoCandidates):
		return newAPIError(http.StatusBadGateway, "upstream_error", err.Error(), nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusBadGateway:
		return "upstream_error"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	if oas.Components != nil && oas.Components.Schemas != nil {
		oas.Components.Schemas.Schema(reflect.TypeOf(apiError{}), true, "ApiError")
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	security := []map[string][]string{{"bearerAuth": {}}}
	oas.Security = security
	healthPath := path.Join("/", basePath, "health")
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>servicetag API Docs</title>
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
      Authenticate with Authorization: Bearer &lt;token&gt; when the server has a JWT secret.
    </p>
  </body>
</html>`, specURL)
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

func registerJobs(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "execute-job",
		Method:      http.MethodPost,
		Path:        "/jobs/execute",
		Summary:     "Run a job now",
		Description: "Runs the named job synchronously. Only dell_asset_sync is recognized.",
		Errors:      []int{http.StatusBadRequest, http.StatusConflict, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body ExecuteJobRequest
	}) (*struct {
		Body trigger.JobResult `json:"body"`
	}, error) {
		name := strings.TrimSpace(input.Body.Name)
		if name != config.JobName {
			return nil, newAPIError(http.StatusBadRequest, "unknown_job", "Unknown job name", map[string]any{"name": name})
		}
		// The run outlives a disconnected client.
		summary, err := cfg.Trigger.Run(context.WithoutCancel(ctx), domain.SourceManual)
		if errors.Is(err, trigger.ErrAlreadyRunning) {
			return nil, handleError(err)
		}
		return &struct {
			Body trigger.JobResult `json:"body"`
		}{Body: trigger.ResultOf(summary, err)}, nil
	})
}

func registerStatus(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "status",
		Method:      http.MethodGet,
		Path:        "/status",
		Summary:     "Sync status",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body StatusResponse `json:"body"`
	}, error) {
		last, err := cfg.Repo.LastSyncTime(ctx)
		if err != nil && !errors.Is(err, repo.ErrNotFound) {
			return nil, handleError(err)
		}
		return &struct {
			Body StatusResponse `json:"body"`
		}{Body: statusResponse(cfg.Trigger.Status(), last, cfg.Sync)}, nil
	})
}

func registerActivity(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "list-activity",
		Method:      http.MethodGet,
		Path:        "/activity",
		Summary:     "Recent sync activity, newest first",
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" default:"10" minimum:"0" maximum:"50"`
	}) (*struct {
		Body ActivityResponse `json:"body"`
	}, error) {
		history, err := cfg.Repo.RecentActivity(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ActivityResponse `json:"body"`
		}{Body: ActivityResponse{Items: activity.Tail(history, input.Limit)}}, nil
	})
}

func registerRuns(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "list-runs",
		Method:      http.MethodGet,
		Path:        "/runs",
		Summary:     "List completed runs",
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" default:"20"`
	}) (*struct {
		Body RunsResponse `json:"body"`
	}, error) {
		runs, err := cfg.Repo.ListRuns(ctx, normalizeLimit(input.Limit))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RunsResponse `json:"body"`
		}{Body: RunsResponse{Items: runs}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-run",
		Method:      http.MethodGet,
		Path:        "/runs/{run_id}",
		Summary:     "Get a run summary with per-asset outcomes",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		RunID string `path:"run_id"`
	}) (*struct {
		Body domain.RunSummary `json:"body"`
	}, error) {
		s, err := cfg.Repo.GetRun(ctx, input.RunID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.RunSummary `json:"body"`
		}{Body: s}, nil
	})
}

func registerEvents(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent events",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind" enum:"run,asset"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
	}) (*struct {
		Body EventsResponse `json:"body"`
	}, error) {
		items, err := cfg.Repo.LatestEvents(ctx, normalizeLimit(input.Limit), input.Type, input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		resp := EventsResponse{Items: []EventResponse{}}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return &struct {
			Body EventsResponse `json:"body"`
		}{Body: resp}, nil
	})
}

func registerEstimate(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "estimate-assets",
		Method:      http.MethodGet,
		Path:        "/assets/estimate",
		Summary:     "Estimate the number of Dell assets from one page",
		Errors:      []int{http.StatusBadGateway},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body fetch.Estimate `json:"body"`
	}, error) {
		est, err := cfg.Fetcher.Estimate(ctx, cfg.Sync)
		if err != nil {
			cfg.Logger.Warn("estimate assets", zap.Error(err))
			return nil, newAPIError(http.StatusBadGateway, "upstream_error", err.Error(), nil)
		}
		return &struct {
			Body fetch.Estimate `json:"body"`
		}{Body: est}, nil
	})
}

func registerSerials(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "classify-serial",
		Method:      http.MethodGet,
		Path:        "/serials/{serial}",
		Summary:     "Classify a serial number",
	}, func(ctx context.Context, input *struct {
		Serial string `path:"serial"`
	}) (*struct {
		Body serial.Result `json:"body"`
	}, error) {
		return &struct {
			Body serial.Result `json:"body"`
		}{Body: serial.Classify(input.Serial)}, nil
	})
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}
