package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/halcyonmail/campaignd/internal/models"
	"github.com/halcyonmail/campaignd/internal/repository"
)

// CampaignRequest is the request body for creating or updating a
// campaign.
type CampaignRequest struct {
	TenantID   string                `json:"tenant_id"`
	Name       string                `json:"name"`
	TemplateID int64                 `json:"template_id"`
	Filter     models.AudienceFilter `json:"audience_filter"`
}

// ScheduleRequest is the request body for scheduling a campaign
type ScheduleRequest struct {
	ScheduledAt time.Time `json:"scheduled_at"`
}

// LaunchResponse is the response for launch and relaunch
type LaunchResponse struct {
	CampaignID int64  `json:"campaign_id"`
	Status     string `json:"status"`
}

// CampaignListResponse is the response for GET /campaigns
type CampaignListResponse struct {
	Campaigns []*models.Campaign `json:"campaigns"`
	Total     int                `json:"total"`
}

// handleCreateCampaign handles POST /api/v1/campaigns
func (s *Server) handleCreateCampaign(w http.ResponseWriter, r *http.Request) {
	var req CampaignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	tenantID, err := uuid.Parse(req.TenantID)
	if err != nil {
		s.sendError(w, http.StatusBadRequest, "tenant_id must be a UUID")
		return
	}
	if req.Name == "" {
		s.sendError(w, http.StatusBadRequest, "name is required")
		return
	}
	if _, err := s.templates.GetByID(req.TemplateID); err != nil {
		s.sendError(w, http.StatusBadRequest, "template_id does not reference a template")
		return
	}

	campaign := models.NewDraftCampaign(tenantID, req.Name, req.TemplateID, req.Filter)
	if err := s.campaigns.Create(campaign); err != nil {
		s.logger.Error("failed to create campaign", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to create campaign")
		return
	}

	s.logger.Info("campaign created", "campaign_id", campaign.ID, "name", campaign.Name)
	s.sendJSON(w, http.StatusCreated, campaign)
}

// handleGetCampaign handles GET /api/v1/campaigns/{id}
func (s *Server) handleGetCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		s.sendError(w, http.StatusBadRequest, "invalid campaign id")
		return
	}

	campaign, err := s.campaigns.GetByID(id)
	if errors.Is(err, repository.ErrNotFound) {
		s.sendError(w, http.StatusNotFound, "Campaign not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to get campaign", "campaign_id", id, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to get campaign")
		return
	}

	s.sendJSON(w, http.StatusOK, campaign)
}

// handleListCampaigns handles GET /api/v1/campaigns
func (s *Server) handleListCampaigns(w http.ResponseWriter, r *http.Request) {
	tenantID, err := uuid.Parse(r.URL.Query().Get("tenant_id"))
	if err != nil {
		s.sendError(w, http.StatusBadRequest, "tenant_id query parameter must be a UUID")
		return
	}

	filter := models.CampaignListFilter{
		Search: r.URL.Query().Get("search"),
		Status: models.CampaignStatus(r.URL.Query().Get("status")),
		Limit:  queryInt(r, "limit", 50),
		Offset: queryInt(r, "offset", 0),
	}

	campaigns, total, err := s.campaigns.List(tenantID, filter)
	if err != nil {
		s.logger.Error("failed to list campaigns", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to list campaigns")
		return
	}

	s.sendJSON(w, http.StatusOK, CampaignListResponse{Campaigns: campaigns, Total: total})
}

// handleUpdateCampaign handles PUT /api/v1/campaigns/{id}
func (s *Server) handleUpdateCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		s.sendError(w, http.StatusBadRequest, "invalid campaign id")
		return
	}

	var req CampaignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	campaign, err := s.campaigns.GetByID(id)
	if errors.Is(err, repository.ErrNotFound) {
		s.sendError(w, http.StatusNotFound, "Campaign not found")
		return
	}
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, "Failed to get campaign")
		return
	}
	if !campaign.CanUpdateDraft() {
		s.sendError(w, http.StatusConflict, "Only draft campaigns can be updated")
		return
	}

	if req.Name != "" {
		campaign.Name = req.Name
	}
	if req.TemplateID != 0 {
		if _, err := s.templates.GetByID(req.TemplateID); err != nil {
			s.sendError(w, http.StatusBadRequest, "template_id does not reference a template")
			return
		}
		campaign.TemplateID = req.TemplateID
	}
	campaign.Filter = req.Filter

	if err := s.campaigns.UpdateDraft(campaign); err != nil {
		s.logger.Error("failed to update campaign", "campaign_id", id, "error", err)
		s.sendError(w, http.StatusConflict, "Campaign is no longer a draft")
		return
	}

	s.sendJSON(w, http.StatusOK, campaign)
}

// handleScheduleCampaign handles POST /api/v1/campaigns/{id}/schedule
func (s *Server) handleScheduleCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		s.sendError(w, http.StatusBadRequest, "invalid campaign id")
		return
	}

	var req ScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.ScheduledAt.IsZero() {
		s.sendError(w, http.StatusBadRequest, "scheduled_at is required")
		return
	}
	if req.ScheduledAt.Before(time.Now()) {
		s.sendError(w, http.StatusBadRequest, "scheduled_at must be in the future")
		return
	}

	campaign, err := s.campaigns.GetByID(id)
	if errors.Is(err, repository.ErrNotFound) {
		s.sendError(w, http.StatusNotFound, "Campaign not found")
		return
	}
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, "Failed to get campaign")
		return
	}
	if !campaign.CanSchedule() {
		s.sendError(w, http.StatusConflict, "Only draft or scheduled campaigns can be scheduled")
		return
	}

	if err := s.campaigns.Schedule(id, req.ScheduledAt); err != nil {
		s.logger.Error("failed to schedule campaign", "campaign_id", id, "error", err)
		s.sendError(w, http.StatusConflict, "Campaign can no longer be scheduled")
		return
	}

	s.logger.Info("campaign scheduled", "campaign_id", id, "scheduled_at", req.ScheduledAt)
	w.WriteHeader(http.StatusNoContent)
}

// handleCancelCampaign handles POST /api/v1/campaigns/{id}/cancel
func (s *Server) handleCancelCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		s.sendError(w, http.StatusBadRequest, "invalid campaign id")
		return
	}

	campaign, err := s.campaigns.GetByID(id)
	if errors.Is(err, repository.ErrNotFound) {
		s.sendError(w, http.StatusNotFound, "Campaign not found")
		return
	}
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, "Failed to get campaign")
		return
	}
	if !campaign.CanCancel() {
		s.sendError(w, http.StatusConflict, "Only draft or scheduled campaigns can be cancelled")
		return
	}

	if err := s.campaigns.Cancel(id); err != nil {
		s.logger.Error("failed to cancel campaign", "campaign_id", id, "error", err)
		s.sendError(w, http.StatusConflict, "Campaign can no longer be cancelled")
		return
	}

	s.logger.Info("campaign cancelled", "campaign_id", id)
	w.WriteHeader(http.StatusNoContent)
}

// handleLaunchCampaign handles POST /api/v1/campaigns/{id}/launch. The
// dispatch run is asynchronous; the response only acknowledges the
// request. Whether the launch is actually legal is decided atomically
// by the run itself.
func (s *Server) handleLaunchCampaign(w http.ResponseWriter, r *http.Request) {
	s.enqueueLaunch(w, r, false)
}

// handleRelaunchCampaign handles POST /api/v1/campaigns/{id}/relaunch
func (s *Server) handleRelaunchCampaign(w http.ResponseWriter, r *http.Request) {
	s.enqueueLaunch(w, r, true)
}

func (s *Server) enqueueLaunch(w http.ResponseWriter, r *http.Request, relaunch bool) {
	id, ok := idParam(r)
	if !ok {
		s.sendError(w, http.StatusBadRequest, "invalid campaign id")
		return
	}

	if _, err := s.campaigns.GetByID(id); errors.Is(err, repository.ErrNotFound) {
		s.sendError(w, http.StatusNotFound, "Campaign not found")
		return
	} else if err != nil {
		s.sendError(w, http.StatusInternalServerError, "Failed to get campaign")
		return
	}

	s.launcher.Enqueue(id, relaunch)
	s.logger.Info("campaign launch queued", "campaign_id", id, "relaunch", relaunch)
	s.sendJSON(w, http.StatusAccepted, LaunchResponse{CampaignID: id, Status: "accepted"})
}

// handleAudiencePreview handles GET /api/v1/campaigns/{id}/audience
func (s *Server) handleAudiencePreview(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		s.sendError(w, http.StatusBadRequest, "invalid campaign id")
		return
	}

	campaign, err := s.campaigns.GetByID(id)
	if errors.Is(err, repository.ErrNotFound) {
		s.sendError(w, http.StatusNotFound, "Campaign not found")
		return
	}
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, "Failed to get campaign")
		return
	}

	afterID := int64(queryInt(r, "after", 0))
	limit := queryInt(r, "limit", 100)

	members, err := s.audience.Batch(campaign.TenantID, campaign.ID, campaign.Filter, afterID, limit)
	if err != nil {
		s.logger.Error("failed to resolve audience", "campaign_id", id, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to resolve audience")
		return
	}
	eligible, err := s.audience.CountEligible(campaign.TenantID, campaign.Filter)
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, "Failed to count audience")
		return
	}

	s.sendJSON(w, http.StatusOK, map[string]any{
		"members":  members,
		"eligible": eligible,
	})
}

// handleCampaignLogs handles GET /api/v1/campaigns/{id}/logs
func (s *Server) handleCampaignLogs(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		s.sendError(w, http.StatusBadRequest, "invalid campaign id")
		return
	}

	if _, err := s.campaigns.GetByID(id); errors.Is(err, repository.ErrNotFound) {
		s.sendError(w, http.StatusNotFound, "Campaign not found")
		return
	} else if err != nil {
		s.sendError(w, http.StatusInternalServerError, "Failed to get campaign")
		return
	}

	filter := models.DeliveryLogFilter{
		Status: models.DeliveryStatus(r.URL.Query().Get("status")),
		Limit:  queryInt(r, "limit", 100),
		Offset: queryInt(r, "offset", 0),
	}

	logs, total, err := s.logs.ListByCampaign(id, filter)
	if err != nil {
		s.logger.Error("failed to list delivery logs", "campaign_id", id, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to list delivery logs")
		return
	}

	s.sendJSON(w, http.StatusOK, map[string]any{
		"logs":  logs,
		"total": total,
	})
}
