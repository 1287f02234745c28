package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gradeline/gradeline/internal/middleware"
	"github.com/gradeline/gradeline/internal/services"
)

// Router wires the HTTP surface to the domain services. It is thin
// plumbing: parsing, auth scoping, and status mapping live here, the
// rules live in internal/services.
type Router struct {
	store Store
	forms *services.FormService
	runs  *services.RunService
	auth  *services.AuthService
}

func NewRouter(store Store, params services.AutoParamSource) *Router {
	return &Router{
		store: store,
		forms: services.NewFormService(store),
		runs:  services.NewRunService(store, params),
		auth:  services.NewAuthService(store, middleware.SignToken),
	}
}

func (rt *Router) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/auth/register", rt.handleRegister) // POST
	mux.HandleFunc("/api/auth/login", rt.handleLogin)       // POST
	mux.HandleFunc("/api/forms", rt.handleForms)            // GET list, POST create
	mux.HandleFunc("/api/forms/", rt.handleFormScoped)      // everything under one form
	mux.HandleFunc("/api/runs/", rt.handleRunScoped)        // GET run, POST scores
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	se, ok := services.AsServiceError(err)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	status := http.StatusInternalServerError
	switch se.Code {
	case services.ErrorInvalid:
		status = http.StatusBadRequest
	case services.ErrorUnauthorized:
		status = http.StatusUnauthorized
	case services.ErrorForbidden:
		status = http.StatusForbidden
	case services.ErrorNotFound:
		status = http.StatusNotFound
	case services.ErrorConflict, services.ErrorLifecycle:
		status = http.StatusConflict
	case services.ErrorStructural, services.ErrorIncompatible, services.ErrorIncomplete:
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, map[string]string{"error": se.Message, "kind": string(se.Code)})
}

func identity(r *http.Request) (tenantID, actor string, ok bool) {
	tid, ok := middleware.TenantIDFromContext(r.Context())
	if !ok {
		return "", "", false
	}
	return tid, middleware.ActorFromContext(r.Context()), true
}

func (rt *Router) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		TeamName string `json:"teamName"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	res, err := rt.auth.Register(req.Email, req.Password, req.TeamName)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": res.Token, "tenant_id": res.TenantID, "user_id": res.UserID})
}

func (rt *Router) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	res, err := rt.auth.Login(req.Email, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": res.Token, "tenant_id": res.TenantID, "user_id": res.UserID})
}

func (rt *Router) handleForms(w http.ResponseWriter, r *http.Request) {
	tenantID, actor, ok := identity(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	switch r.Method {
	case http.MethodGet:
		forms, err := rt.forms.ListForms(tenantID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"forms": forms})
	case http.MethodPost:
		var in services.FormInput
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f, err := rt.forms.CreateForm(tenantID, actor, in)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, f)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleFormScoped dispatches /api/forms/{id}[/...].
func (rt *Router) handleFormScoped(w http.ResponseWriter, r *http.Request) {
	tenantID, actor, ok := identity(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/api/forms/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		http.NotFound(w, r)
		return
	}
	formID := parts[0]

	if len(parts) == 1 {
		rt.handleFormItem(w, r, tenantID, actor, formID)
		return
	}
	switch parts[1] {
	case "publish":
		rt.postOnly(w, r, func() (any, error) { return rt.forms.Publish(tenantID, actor, formID) })
	case "archive":
		rt.postOnly(w, r, func() (any, error) { return rt.forms.Archive(tenantID, actor, formID) })
	case "groups":
		rt.handleGroups(w, r, tenantID, actor, formID, parts[2:])
	case "criteria":
		rt.handleCriteria(w, r, tenantID, actor, formID, parts[2:])
	case "audit":
		rt.handleAudit(w, r, tenantID, formID)
	case "runs":
		rt.handleFormRuns(w, r, tenantID, formID, parts[2:])
	default:
		http.NotFound(w, r)
	}
}

func (rt *Router) handleFormItem(w http.ResponseWriter, r *http.Request, tenantID, actor, formID string) {
	switch r.Method {
	case http.MethodGet:
		f, err := rt.forms.GetForm(tenantID, formID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, f)
	case http.MethodPut:
		var upd services.FormUpdate
		if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f, err := rt.forms.UpdateForm(tenantID, actor, formID, upd)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, f)
	case http.MethodDelete:
		if err := rt.forms.DeleteForm(tenantID, actor, formID); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (rt *Router) handleGroups(w http.ResponseWriter, r *http.Request, tenantID, actor, formID string, rest []string) {
	switch {
	case len(rest) == 0 && r.Method == http.MethodPost:
		var in services.GroupInput
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		g, err := rt.forms.AddGroup(tenantID, actor, formID, in)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, g)
	case len(rest) == 1 && r.Method == http.MethodPut:
		var in services.GroupInput
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := rt.forms.UpdateGroup(tenantID, actor, formID, rest[0], in); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	case len(rest) == 1 && r.Method == http.MethodDelete:
		if err := rt.forms.DeleteGroup(tenantID, actor, formID, rest[0]); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	case len(rest) == 2 && rest[1] == "criteria" && r.Method == http.MethodPost:
		var c services.Criterion
		if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		created, err := rt.forms.AddCriterion(tenantID, actor, formID, rest[0], &c)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, created)
	default:
		http.NotFound(w, r)
	}
}

func (rt *Router) handleCriteria(w http.ResponseWriter, r *http.Request, tenantID, actor, formID string, rest []string) {
	if len(rest) != 1 {
		http.NotFound(w, r)
		return
	}
	switch r.Method {
	case http.MethodPut:
		var c services.Criterion
		if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := rt.forms.UpdateCriterion(tenantID, actor, formID, rest[0], &c); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	case http.MethodDelete:
		if err := rt.forms.DeleteCriterion(tenantID, actor, formID, rest[0]); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (rt *Router) handleAudit(w http.ResponseWriter, r *http.Request, tenantID, formID string) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	entries, err := rt.forms.Audit(tenantID, formID)
	if err != nil {
		writeError(w, err)
		return
	}
	if r.URL.Query().Get("format") == "csv" {
		b, err := services.ExportAuditCSV(entries)
		if err != nil {
			writeError(w, err)
			return
		}
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", "attachment; filename=audit.csv")
		_, _ = w.Write(b)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"form_id": formID, "entries": entries})
}

func (rt *Router) handleFormRuns(w http.ResponseWriter, r *http.Request, tenantID, formID string, rest []string) {
	switch {
	case len(rest) == 0 && r.Method == http.MethodPost:
		var req struct {
			Subject string `json:"subject"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		run, err := rt.runs.StartRun(tenantID, formID, req.Subject)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, run)
	case len(rest) == 0 && r.Method == http.MethodGet:
		runs, err := rt.runs.ListRuns(tenantID, formID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"form_id": formID, "runs": runs})
	case len(rest) == 1 && rest[0] == "export" && r.Method == http.MethodGet:
		runs, err := rt.runs.ListRuns(tenantID, formID)
		if err != nil {
			writeError(w, err)
			return
		}
		b, err := services.ExportRunsCSV(runs)
		if err != nil {
			writeError(w, err)
			return
		}
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", "attachment; filename=runs.csv")
		_, _ = w.Write(b)
	default:
		http.NotFound(w, r)
	}
}

// handleRunScoped dispatches /api/runs/{id}[/scores].
func (rt *Router) handleRunScoped(w http.ResponseWriter, r *http.Request) {
	tenantID, _, ok := identity(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/api/runs/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		http.NotFound(w, r)
		return
	}
	runID := parts[0]
	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		run, err := rt.runs.GetRun(tenantID, runID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, run)
	case len(parts) == 2 && parts[1] == "scores" && r.Method == http.MethodPost:
		var req struct {
			Scores []services.CriterionScore `json:"scores"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		run, err := rt.runs.SubmitScores(tenantID, runID, req.Scores)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, run)
	default:
		http.NotFound(w, r)
	}
}

func (rt *Router) postOnly(w http.ResponseWriter, r *http.Request, fn func() (any, error)) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	out, err := fn()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}
