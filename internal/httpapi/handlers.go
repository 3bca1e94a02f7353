package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"mcpdock-go/internal/authflow"
	"mcpdock-go/internal/configimport"
	"mcpdock-go/internal/discovery"
	"mcpdock-go/internal/index"
	"mcpdock-go/internal/registry"
)

// maxImportSize caps the request body of an import; client config files are
// small and anything larger is a mistake.
const maxImportSize = 1 << 20

type createServerRequest struct {
	Name          string            `json:"name"`
	Description   string            `json:"description,omitempty"`
	Endpoint      string            `json:"endpoint"`
	AuthKind      string            `json:"auth,omitempty"`
	AuthInitiator string            `json:"auth_initiator,omitempty"`
	Headers       map[string]string `json:"headers,omitempty"`
}

type updateServerRequest struct {
	Name          *string           `json:"name,omitempty"`
	Description   *string           `json:"description,omitempty"`
	Endpoint      *string           `json:"endpoint,omitempty"`
	AuthKind      *string           `json:"auth,omitempty"`
	AuthInitiator *string           `json:"auth_initiator,omitempty"`
	Headers       map[string]string `json:"headers,omitempty"`
}

type connectResponse struct {
	ServerID string `json:"server_id"`
	Inserted int    `json:"inserted"`
	Updated  int    `json:"updated"`
	Removed  int    `json:"removed"`
}

type beginAuthResponse struct {
	ServerID    string    `json:"server_id"`
	FlowID      string    `json:"flow_id"`
	Token       string    `json:"token"`
	CallbackURL string    `json:"callback_url"`
	Started     time.Time `json:"started"`
}

type authCallbackResponse struct {
	Completed bool   `json:"completed"`
	ServerID  string `json:"server_id,omitempty"`
	FlowID    string `json:"flow_id,omitempty"`
	Inserted  int    `json:"inserted,omitempty"`
	Updated   int    `json:"updated,omitempty"`
	Removed   int    `json:"removed,omitempty"`
	Warning   string `json:"warning,omitempty"`
}

type toggleToolsRequest struct {
	ToolIDs []string `json:"tool_ids"`
	Enabled *bool    `json:"enabled"`
}

type searchResponse struct {
	Query   string                `json:"query"`
	Results []*index.SearchResult `json:"results"`
	Total   int                   `json:"total"`
}

func (s *Server) handleGetStatus(w http.ResponseWriter, _ *http.Request) {
	views, err := s.orch.ListServers()
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	byState := make(map[string]int)
	toolsTotal, toolsEnabled := 0, 0
	for _, view := range views {
		byState[view.DisplayStatus]++
		toolsTotal += view.ToolsTotal
		toolsEnabled += view.ToolsEnabled
	}

	s.writeSuccess(w, map[string]any{
		"version":     GetBuildVersion(),
		"listen_addr": s.cfg.Listen,
		"servers": map[string]any{
			"total":    len(views),
			"by_state": byState,
		},
		"tools": map[string]any{
			"total":   toolsTotal,
			"enabled": toolsEnabled,
		},
		"timestamp": time.Now().Unix(),
	})
}

func (s *Server) handleListServers(w http.ResponseWriter, _ *http.Request) {
	views, err := s.orch.ListServers()
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	s.writeSuccess(w, map[string]any{
		"servers": views,
		"total":   len(views),
	})
}

func (s *Server) handleCreateServer(w http.ResponseWriter, r *http.Request) {
	var req createServerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	record, err := s.orch.CreateServer(registry.CreateRequest{
		Name:          req.Name,
		Description:   req.Description,
		Endpoint:      req.Endpoint,
		AuthKind:      req.AuthKind,
		AuthInitiator: req.AuthInitiator,
		Headers:       req.Headers,
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	s.writeJSON(w, http.StatusCreated, apiResponse{Success: true, Data: record})
}

func (s *Server) handleGetServer(w http.ResponseWriter, r *http.Request) {
	view, err := s.orch.GetServer(chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeSuccess(w, view)
}

func (s *Server) handleUpdateServer(w http.ResponseWriter, r *http.Request) {
	var req updateServerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	record, err := s.orch.UpdateServer(chi.URLParam(r, "id"), registry.UpdateRequest{
		Name:          req.Name,
		Description:   req.Description,
		Endpoint:      req.Endpoint,
		AuthKind:      req.AuthKind,
		AuthInitiator: req.AuthInitiator,
		Headers:       req.Headers,
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeSuccess(w, record)
}

func (s *Server) handleDeleteServer(w http.ResponseWriter, r *http.Request) {
	serverID := chi.URLParam(r, "id")
	if err := s.orch.DisconnectAndDelete(r.Context(), serverID); err != nil {
		s.writeDomainError(w, err)
		return
	}

	s.writeSuccess(w, map[string]any{
		"server_id": serverID,
		"removed":   true,
	})
}

// handleConnectServer serves both connect and reconnect: first connect of a
// new server and manual reconnect of a connected or disconnected one are the
// same discovery cycle. A remote that demands sign-in parks the server in
// auth and answers 202 with the sign-in link.
func (s *Server) handleConnectServer(w http.ResponseWriter, r *http.Request) {
	serverID := chi.URLParam(r, "id")

	summary, err := s.orch.Connect(r.Context(), serverID)
	if errors.Is(err, discovery.ErrAuthRequired) {
		data := map[string]any{
			"server_id":     serverID,
			"auth_required": true,
		}
		if flow, ok := s.orch.PendingAuth(serverID); ok {
			data["flow_id"] = flow.FlowID
			data["callback_url"] = flow.CallbackURL
		}
		s.writeJSON(w, http.StatusAccepted, apiResponse{Success: true, Data: data})
		return
	}
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	resp := connectResponse{ServerID: serverID}
	if summary != nil {
		resp.Inserted = len(summary.Inserted)
		resp.Updated = len(summary.Updated)
		resp.Removed = len(summary.RemovedIDs)
	}
	s.writeSuccess(w, resp)
}

func (s *Server) handleDisconnectServer(w http.ResponseWriter, r *http.Request) {
	serverID := chi.URLParam(r, "id")
	if err := s.orch.Disconnect(r.Context(), serverID); err != nil {
		s.writeDomainError(w, err)
		return
	}

	s.writeSuccess(w, map[string]any{
		"server_id": serverID,
		"state":     "Disconnected",
	})
}

func (s *Server) handleBeginAuth(w http.ResponseWriter, r *http.Request) {
	flow, err := s.orch.BeginAuth(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	s.writeSuccess(w, beginAuthResponse{
		ServerID:    flow.ServerID,
		FlowID:      flow.FlowID,
		Token:       flow.Token,
		CallbackURL: flow.CallbackURL,
		Started:     flow.Started,
	})
}

// handleAuthCallback completes an auth flow from the continuation token in
// the state parameter. A stale flow is answered 200 with a warning: the user
// did nothing wrong, the flow just stopped mattering while they signed in.
func (s *Server) handleAuthCallback(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("state")
	if token == "" {
		s.writeError(w, http.StatusBadRequest, "query parameter 'state' required")
		return
	}

	completion, err := s.orch.CompleteAuth(r.Context(), token)

	var stale *authflow.StaleFlowError
	switch {
	case errors.As(err, &stale):
		s.writeSuccess(w, authCallbackResponse{
			Completed: false,
			ServerID:  stale.ServerID,
			Warning:   "authentication is no longer pending: " + stale.Reason,
		})

	case completion == nil:
		s.writeDomainError(w, err)

	case err != nil:
		// The flow itself completed; the resumed discovery failed.
		resp := authCallbackResponse{
			Completed: true,
			ServerID:  completion.ServerID,
			FlowID:    completion.FlowID,
		}
		if errors.Is(err, discovery.ErrAuthRequired) {
			resp.Warning = "the server still requires authentication; a new sign-in link was issued"
		} else {
			resp.Warning = "connection failed after authentication: " + err.Error()
		}
		s.writeSuccess(w, resp)

	default:
		resp := authCallbackResponse{
			Completed: true,
			ServerID:  completion.ServerID,
			FlowID:    completion.FlowID,
		}
		if completion.Summary != nil {
			resp.Inserted = len(completion.Summary.Inserted)
			resp.Updated = len(completion.Summary.Updated)
			resp.Removed = len(completion.Summary.RemovedIDs)
		}
		s.writeSuccess(w, resp)
	}
}

func (s *Server) handleListServerTools(w http.ResponseWriter, r *http.Request) {
	serverID := chi.URLParam(r, "id")
	tools, err := s.orch.ListTools(serverID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	s.writeSuccess(w, map[string]any{
		"server_id": serverID,
		"tools":     tools,
		"count":     len(tools),
	})
}

func (s *Server) handleToggleTools(w http.ResponseWriter, r *http.Request) {
	var req toggleToolsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if len(req.ToolIDs) == 0 {
		s.writeError(w, http.StatusBadRequest, "field 'tool_ids' required")
		return
	}
	if req.Enabled == nil {
		// No implicit default: a forgotten field must not silently disable.
		s.writeError(w, http.StatusBadRequest, "field 'enabled' required")
		return
	}

	changed, err := s.orch.SetToolsEnabled(req.ToolIDs, *req.Enabled)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	s.writeSuccess(w, map[string]any{
		"tools":   changed,
		"count":   len(changed),
		"enabled": *req.Enabled,
	})
}

func (s *Server) handleDisableAllTools(w http.ResponseWriter, r *http.Request) {
	serverID := chi.URLParam(r, "id")
	disabled, err := s.orch.DisableAllTools(serverID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	s.writeSuccess(w, map[string]any{
		"server_id":    serverID,
		"disabled_ids": disabled,
		"count":        len(disabled),
	})
}

func (s *Server) handleSearchTools(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		s.writeError(w, http.StatusBadRequest, "query parameter 'q' required")
		return
	}

	limit := s.cfg.SearchLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed <= 0 || parsed > 100 {
			s.writeError(w, http.StatusBadRequest, "limit must be a number between 1 and 100")
			return
		}
		limit = parsed
	}

	results, err := s.orch.SearchTools(query, limit)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	s.writeSuccess(w, searchResponse{
		Query:   query,
		Results: results,
		Total:   len(results),
	})
}

// handleImport takes a raw client config file as the request body. Format is
// sniffed from the content unless the format query parameter names one;
// dry_run=true parses and reports without touching the registry.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	content, err := io.ReadAll(io.LimitReader(r.Body, maxImportSize+1))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "failed to read request body: "+err.Error())
		return
	}
	if len(content) == 0 {
		s.writeError(w, http.StatusBadRequest, "request body required")
		return
	}
	if len(content) > maxImportSize {
		s.writeError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("configuration exceeds %d bytes", maxImportSize))
		return
	}

	opts := &configimport.ImportOptions{
		DryRun: r.URL.Query().Get("dry_run") == "true",
	}
	if hint := r.URL.Query().Get("format"); hint != "" {
		format, ok := configimport.ParseFormat(hint)
		if !ok {
			s.writeError(w, http.StatusBadRequest,
				fmt.Sprintf("unsupported format %q: use claude, codex, or yaml", hint))
			return
		}
		opts.FormatHint = format
	}

	result, err := s.orch.ImportConfig(content, opts)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeSuccess(w, result)
}
