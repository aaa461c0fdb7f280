package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/mail"

	"github.com/google/uuid"

	"github.com/halcyonmail/campaignd/internal/models"
	"github.com/halcyonmail/campaignd/internal/repository"
)

// TemplateRequest is the request body for creating a template
type TemplateRequest struct {
	TenantID string `json:"tenant_id"`
	Name     string `json:"name"`
	Subject  string `json:"subject"`
	BodyHTML string `json:"body_html"`
	Active   *bool  `json:"active,omitempty"`
}

// TestSendRequest is the request body for a template test send
type TestSendRequest struct {
	To string `json:"to"`
}

// handleCreateTemplate handles POST /api/v1/templates
func (s *Server) handleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	var req TemplateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	tenantID, err := uuid.Parse(req.TenantID)
	if err != nil {
		s.sendError(w, http.StatusBadRequest, "tenant_id must be a UUID")
		return
	}
	if req.Name == "" || req.Subject == "" || req.BodyHTML == "" {
		s.sendError(w, http.StatusBadRequest, "name, subject and body_html are required")
		return
	}

	tpl := &models.Template{
		TenantID: tenantID,
		Name:     req.Name,
		Subject:  req.Subject,
		BodyHTML: req.BodyHTML,
		Active:   true,
	}
	if req.Active != nil {
		tpl.Active = *req.Active
	}

	if err := s.templates.Create(tpl); err != nil {
		s.logger.Error("failed to create template", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to create template")
		return
	}

	s.sendJSON(w, http.StatusCreated, tpl)
}

// handleGetTemplate handles GET /api/v1/templates/{id}
func (s *Server) handleGetTemplate(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		s.sendError(w, http.StatusBadRequest, "invalid template id")
		return
	}

	tpl, err := s.templates.GetByID(id)
	if errors.Is(err, repository.ErrNotFound) {
		s.sendError(w, http.StatusNotFound, "Template not found")
		return
	}
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, "Failed to get template")
		return
	}

	s.sendJSON(w, http.StatusOK, tpl)
}

// handleListTemplates handles GET /api/v1/templates
func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	tenantID, err := uuid.Parse(r.URL.Query().Get("tenant_id"))
	if err != nil {
		s.sendError(w, http.StatusBadRequest, "tenant_id query parameter must be a UUID")
		return
	}

	templates, err := s.templates.List(tenantID)
	if err != nil {
		s.logger.Error("failed to list templates", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to list templates")
		return
	}

	s.sendJSON(w, http.StatusOK, map[string]any{"templates": templates})
}

// handleDeleteTemplate handles DELETE /api/v1/templates/{id}
func (s *Server) handleDeleteTemplate(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		s.sendError(w, http.StatusBadRequest, "invalid template id")
		return
	}

	err := s.templates.Delete(id)
	if errors.Is(err, repository.ErrNotFound) {
		s.sendError(w, http.StatusNotFound, "Template not found")
		return
	}
	if err != nil {
		// Referenced templates cannot be deleted.
		s.logger.Error("failed to delete template", "template_id", id, "error", err)
		s.sendError(w, http.StatusConflict, "Template is in use")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleTestTemplate handles POST /api/v1/templates/{id}/test. The test
// message bypasses delivery logs and tracking entirely.
func (s *Server) handleTestTemplate(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		s.sendError(w, http.StatusBadRequest, "invalid template id")
		return
	}

	var req TestSendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if _, err := mail.ParseAddress(req.To); err != nil {
		s.sendError(w, http.StatusBadRequest, "to must be a valid email address")
		return
	}

	if err := s.sender.SendTest(r.Context(), id, req.To); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.sendError(w, http.StatusNotFound, "Template not found")
			return
		}
		s.logger.Error("failed to send test message", "template_id", id, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to send test message")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
