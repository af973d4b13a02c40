package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"samkit/internal/domain"
	"samkit/internal/engine"
	"samkit/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"already_checked_out"`
	Message string         `json:"message" example:"task checked out by sam"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

type bodyBytesKey struct{}

// apiError is the error envelope every endpoint returns on failure.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the samkit registry API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
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
			// Schema/request validation errors are 400 bad_request.
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyData, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyData))
			ctx := context.WithValue(r.Context(), bodyBytesKey{}, bodyData)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Samkit API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerReference(group, cfg.Engine)
	registerProjects(group, cfg.Engine)
	registerCatalog(group, cfg.Engine)
	registerTasks(group, cfg.Engine)
	registerTaskVerbs(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	startWebhookDispatcher(cfg.Engine, cfg.Auth.logger())

	return router, nil
}

func bodyBytes(ctx context.Context) []byte {
	data, _ := ctx.Value(bodyBytesKey{}).([]byte)
	return data
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

// handleError maps domain error kinds onto HTTP statuses: configuration
// errors are unprocessable, state and concurrency conflicts are 409,
// unknown records are 404.
func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	var de *domain.Error
	if errors.As(err, &de) {
		switch de.Kind {
		case domain.KindConfiguration:
			return newAPIError(http.StatusUnprocessableEntity, de.Code, de.Message, nil)
		case domain.KindState, domain.KindConcurrency:
			return newAPIError(http.StatusConflict, de.Code, de.Message, nil)
		case domain.KindTransport:
			return newAPIError(http.StatusBadGateway, de.Code, de.Message, nil)
		}
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	if strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required") {
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
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
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
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
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	healthPath := path.Join(basePath, "health")
	if !strings.HasPrefix(healthPath, "/") {
		healthPath = "/" + healthPath
	}
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
    <title>Samkit API Docs</title>
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
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
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

// registerReference serves the fixed enumerations and the flat
// department/role lists.
func registerReference(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-genuses",
		Method:      http.MethodGet,
		Path:        "/genuses",
		Summary:     "List genuses",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []string `json:"body"`
	}, error) {
		return &struct {
			Body []string `json:"body"`
		}{Body: domain.Genuses()}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-statuses",
		Method:      http.MethodGet,
		Path:        "/statuses",
		Summary:     "List task statuses",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []string `json:"body"`
	}, error) {
		return &struct {
			Body []string `json:"body"`
		}{Body: domain.Statuses()}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-departments",
		Method:      http.MethodGet,
		Path:        "/departments",
		Summary:     "List departments",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Department `json:"body"`
	}, error) {
		items, err := e.Repo.ListDepartments(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Department `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-roles",
		Method:      http.MethodGet,
		Path:        "/roles",
		Summary:     "List roles",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Role `json:"body"`
	}, error) {
		items, err := e.Repo.ListRoles(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Role `json:"body"`
		}{Body: items}, nil
	})
}

func registerProjects(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-project",
		Method:        http.MethodPost,
		Path:          "/projects",
		Summary:       "Create project",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateProjectRequest `json:"body"`
	}) (*struct {
		Body domain.Project `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		user, authErr := userFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.CreateProject(ctx, engine.ProjectCreateOptions{
			Name:         input.Body.Name,
			Info:         input.Body.Info,
			Root:         input.Body.Root,
			FromTemplate: input.Body.FromTemplate,
			ActorID:      user,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Project `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/projects",
		Summary:     "List projects",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Project `json:"body"`
	}, error) {
		items, err := e.Repo.ListProjects(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Project `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}",
		Summary:     "Get project",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body domain.Project `json:"body"`
	}, error) {
		p, err := e.Repo.GetProject(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Project `json:"body"`
		}{Body: p}, nil
	})
}

// registerCatalog exposes the per-project tag/stage/entity hierarchy.
func registerCatalog(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-tag",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/tags",
		Summary:       "Create tag",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string           `path:"project_id"`
		Body      CreateTagRequest `json:"body"`
	}) (*struct {
		Body domain.Tag `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		user, authErr := userFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.CreateTag(ctx, domain.Tag{
			ProjectID: input.ProjectID,
			Genus:     input.Body.Genus,
			Name:      input.Body.Name,
			Info:      input.Body.Info,
		}, user)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Tag `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tags",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/tags",
		Summary:     "List tags",
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Genus     string `query:"genus"`
	}) (*struct {
		Body []domain.Tag `json:"body"`
	}, error) {
		items, err := e.Repo.ListTags(ctx, input.ProjectID, input.Genus)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Tag `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-stage",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/stages",
		Summary:       "Create stage",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string             `path:"project_id"`
		Body      CreateStageRequest `json:"body"`
	}) (*struct {
		Body domain.Stage `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		user, authErr := userFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.CreateStage(ctx, domain.Stage{
			ProjectID: input.ProjectID,
			Genus:     input.Body.Genus,
			Name:      input.Body.Name,
			Info:      input.Body.Info,
			Source:    input.Body.Source,
			Data:      input.Body.Data,
		}, user)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Stage `json:"body"`
		}{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-stages",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/stages",
		Summary:     "List stages",
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Genus     string `query:"genus"`
	}) (*struct {
		Body []domain.Stage `json:"body"`
	}, error) {
		items, err := e.Repo.ListStages(ctx, input.ProjectID, input.Genus)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Stage `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-entity",
		Method:        http.MethodPost,
		Path:          "/entities",
		Summary:       "Create entity",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateEntityRequest `json:"body"`
	}) (*struct {
		Body domain.Entity `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		user, authErr := userFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ent, err := e.CreateEntity(ctx, domain.Entity{
			TagID: input.Body.TagID,
			Name:  input.Body.Name,
			Info:  input.Body.Info,
			Thumb: input.Body.Thumb,
		}, user)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Entity `json:"body"`
		}{Body: ent}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-entities",
		Method:      http.MethodGet,
		Path:        "/entities",
		Summary:     "List entities",
	}, func(ctx context.Context, input *struct {
		TagID string `query:"tag_id"`
		Name  string `query:"name"`
	}) (*struct {
		Body []domain.Entity `json:"body"`
	}, error) {
		items, err := e.Repo.ListEntities(ctx, repo.EntityFilters{TagID: input.TagID, Name: input.Name})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Entity `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-entity",
		Method:      http.MethodPatch,
		Path:        "/entities/{id}",
		Summary:     "Update entity",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ID   string              `path:"id"`
		Body UpdateEntityRequest `json:"body"`
	}) (*struct {
		Body domain.Entity `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		user, authErr := userFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ent, err := e.Repo.GetEntity(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if input.Body.Name != "" {
			ent.Name = input.Body.Name
		}
		if input.Body.Info != "" {
			ent.Info = input.Body.Info
		}
		if input.Body.Thumb != "" {
			ent.Thumb = input.Body.Thumb
		}
		ent, err = e.UpdateEntity(ctx, ent, user)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Entity `json:"body"`
		}{Body: ent}, nil
	})
}

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/tasks",
		Summary:       "Create task",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateTaskRequest `json:"body"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.EntityID == "" || input.Body.StageID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "entity_id and stage_id are required", nil)
		}
		user, authErr := userFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.CreateTask(ctx, input.Body.EntityID, input.Body.StageID, user)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks",
		Summary:     "List tasks",
	}, func(ctx context.Context, input *struct {
		EntityID string `query:"entity_id"`
		StageID  string `query:"stage_id"`
		Owner    string `query:"owner"`
		Status   string `query:"status"`
	}) (*struct {
		Body []domain.Task `json:"body"`
	}, error) {
		items, err := e.Repo.ListTasks(ctx, repo.TaskFilters{
			EntityID: input.EntityID,
			StageID:  input.StageID,
			Owner:    input.Owner,
			Status:   input.Status,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Task `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{id}",
		Summary:     "Get task with history and resolved paths",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body TaskDetailResponse `json:"body"`
	}, error) {
		t, err := e.Repo.GetTask(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		versions, err := e.Repo.ListVersions(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		source, data, err := e.ResolvedPaths(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskDetailResponse `json:"body"`
		}{Body: TaskDetailResponse{Task: t, Versions: versions, SourcePath: source, DataPath: data}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "task-history",
		Method:      http.MethodGet,
		Path:        "/tasks/{id}/history",
		Summary:     "Task version history",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body []domain.Version `json:"body"`
	}, error) {
		versions, err := e.History(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Version `json:"body"`
		}{Body: versions}, nil
	})
}

func registerTaskVerbs(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "checkout-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{id}/checkout",
		Summary:     "Check out a task",
		Errors: []int{
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body CheckoutResponse `json:"body"`
	}, error) {
		user, authErr := userFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.Checkout(ctx, input.ID, user)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CheckoutResponse `json:"body"`
		}{Body: checkoutResponse(res)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "checkin-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{id}/checkin",
		Summary:     "Check in a task",
		Errors: []int{
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ID   string         `path:"id"`
		Body CheckinRequest `json:"body"`
	}) (*struct {
		Body CheckinResponse `json:"body"`
	}, error) {
		user, authErr := userFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		version, err := e.Checkin(ctx, input.ID, user, input.Body.Comment)
		if err != nil {
			return nil, handleError(err)
		}
		t, err := e.Repo.GetTask(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CheckinResponse `json:"body"`
		}{Body: CheckinResponse{Task: t, Version: version}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "sync-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{id}/sync",
		Summary:     "Resolve paths for a version pull",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ID   string      `path:"id"`
		Body SyncRequest `json:"body"`
	}) (*struct {
		Body SyncResponse `json:"body"`
	}, error) {
		user, authErr := userFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.Sync(ctx, input.ID, user, input.Body.Version)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SyncResponse `json:"body"`
		}{Body: syncResponse(res)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "revert-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{id}/revert",
		Summary:     "Authorize discarding local edits",
		Errors: []int{
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		user, authErr := userFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.Revert(ctx, input.ID, user); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "review-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{id}/review",
		Summary:     "Approve or reject a submitted task",
		Errors: []int{
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ID   string        `path:"id"`
		Body ReviewRequest `json:"body"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		user, authErr := userFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.Review(ctx, input.ID, input.Body.Approved, user)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	for _, verb := range []struct {
		name   string
		status string
	}{
		{"expire", domain.StatusExpired},
		{"ignore", domain.StatusIgnored},
	} {
		verb := verb
		huma.Register(api, huma.Operation{
			OperationID: verb.name + "-task",
			Method:      http.MethodPost,
			Path:        "/tasks/{id}/" + verb.name,
			Summary:     "Mark a task " + verb.status,
			Errors: []int{
				http.StatusNotFound,
				http.StatusConflict,
			},
		}, func(ctx context.Context, input *struct {
			ID string `path:"id"`
		}) (*struct {
			Body domain.Task `json:"body"`
		}, error) {
			user, authErr := userFromContext(ctx)
			if authErr != nil {
				return nil, authErr
			}
			t, err := e.SetTaskStatus(ctx, input.ID, verb.status, user)
			if err != nil {
				return nil, handleError(err)
			}
			return &struct {
				Body domain.Task `json:"body"`
			}{Body: t}, nil
		})
	}
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Tail the change log",
	}, func(ctx context.Context, input *struct {
		Limit      int    `query:"limit" default:"50"`
		ProjectID  string `query:"project_id"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
	}) (*struct {
		Body []EventResponse `json:"body"`
	}, error) {
		limit := input.Limit
		if limit <= 0 || limit > 500 {
			limit = 50
		}
		events, err := e.Repo.LatestEvents(ctx, limit, input.ProjectID, input.Type, input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []EventResponse `json:"body"`
		}{Body: mapEvents(events)}, nil
	})
}
