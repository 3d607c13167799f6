package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	log "github.com/go-pkgz/lgr"

	"github.com/umputun/wflib/app/enums"
	"github.com/umputun/wflib/app/persistence"
	"github.com/umputun/wflib/app/workflow"
)

const (
	defaultPage    = 0
	defaultPerPage = 10
)

// errBadRequest is returned for undecodable request bodies
var errBadRequest = errors.New("bad request")

// workflowRequest is the body of create and update requests
type workflowRequest struct {
	Workflow json.RawMessage `json:"workflow"`
}

// handleGetWorkflow returns a single workflow record
func (s *Server) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	rec, err := s.store.Get(r.Context(), r.PathValue("workflow_id"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

// handleCreateWorkflow stores a new workflow, creating an existing id returns the stored record
func (s *Server) handleCreateWorkflow(w http.ResponseWriter, r *http.Request) {
	wf, err := s.decodeWorkflow(r)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	rec, err := s.store.Create(r.Context(), wf)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

// handleUpdateWorkflow replaces an existing workflow
func (s *Server) handleUpdateWorkflow(w http.ResponseWriter, r *http.Request) {
	wf, err := s.decodeWorkflow(r)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	rec, err := s.store.Update(r.Context(), wf)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

// handleDeleteWorkflow removes a workflow, missing workflows are not an error
func (s *Server) handleDeleteWorkflow(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Delete(r.Context(), r.PathValue("workflow_id")); err != nil {
		s.writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// handleListWorkflows returns a page of workflows, query params: page, per_page, category
func (s *Server) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
	req, err := parseListRequest(r)
	if err != nil {
		s.writeJSONError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	res, err := s.store.GetMany(r.Context(), req)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

// handleSchema returns JSON schema of the workflow document
func (s *Server) handleSchema(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, workflow.GenerateSchema())
}

func parseListRequest(r *http.Request) (persistence.ListRequest, error) {
	req := persistence.ListRequest{Page: defaultPage, PerPage: defaultPerPage}
	q := r.URL.Query()

	if v := q.Get("page"); v != "" {
		page, err := strconv.Atoi(v)
		if err != nil || page < 0 {
			return req, fmt.Errorf("invalid page %q", v)
		}
		req.Page = page
	}

	if v := q.Get("per_page"); v != "" {
		perPage, err := strconv.Atoi(v)
		if err != nil || perPage < 1 {
			return req, fmt.Errorf("invalid per_page %q", v)
		}
		req.PerPage = perPage
	}

	if v := q.Get("category"); v != "" {
		category, err := enums.ParseWorkflowCategory(v)
		if err != nil {
			return req, fmt.Errorf("invalid category %q", v)
		}
		req.Category = &category
	}
	return req, nil
}

// decodeWorkflow reads {"workflow": {...}} body and validates the document
func (s *Server) decodeWorkflow(r *http.Request) (workflow.Workflow, error) {
	var req workflowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return workflow.Workflow{}, fmt.Errorf("%w: can't decode body: %v", errBadRequest, err)
	}
	if len(req.Workflow) == 0 || string(req.Workflow) == "null" {
		return workflow.Workflow{}, fmt.Errorf("%w: workflow is required", errBadRequest)
	}
	return workflow.Parse(req.Workflow)
}

// writeStoreError maps store and validation errors to http status codes
func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, persistence.ErrNotFound):
		s.writeJSONError(w, http.StatusNotFound, "workflow not found")
	case errors.Is(err, errBadRequest):
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, workflow.ErrInvalid), errors.Is(err, persistence.ErrBadPaging):
		s.writeJSONError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		log.Printf("[ERROR] workflow store failure: %v", err)
		s.writeJSONError(w, http.StatusInternalServerError, "workflow store failure")
	}
}

// writeJSON writes a JSON response
func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("[WARN] failed to encode JSON response: %v", err)
	}
}

// writeJSONError writes a JSON error response
func (s *Server) writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]string{"error": message}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Printf("[WARN] failed to encode JSON error response: %v", err)
	}
}
