package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"zapmaster-backend/internal/campaign"
	"zapmaster-backend/internal/database"
	"zapmaster-backend/internal/models"
)

// ProgressSink receives campaign progress snapshots (the websocket hub in
// production).
type ProgressSink interface {
	PublishProgress(p campaign.Progress)
}

// CampaignHandler exposes campaign CRUD and run control. It also acts as the
// engine's notifier: every snapshot is forwarded to the dashboards and the
// active campaign row keeps its counters in sync.
type CampaignHandler struct {
	Store   *database.Store
	Engine  *campaign.Engine
	Control *campaign.Control
	Sink    ProgressSink

	mu       sync.Mutex
	activeID uint
}

func NewCampaignHandler(store *database.Store, engine *campaign.Engine, control *campaign.Control, sink ProgressSink) *CampaignHandler {
	return &CampaignHandler{Store: store, Engine: engine, Control: control, Sink: sink}
}

// PublishProgress implements campaign.Notifier.
func (h *CampaignHandler) PublishProgress(p campaign.Progress) {
	if h.Sink != nil {
		h.Sink.PublishProgress(p)
	}

	h.mu.Lock()
	id := h.activeID
	if p.State == campaign.StateCompleted || (p.State == campaign.StatePaused && p.Fatal) {
		h.activeID = 0
	}
	h.mu.Unlock()
	if id == 0 {
		return
	}

	row, err := h.Store.GetCampaign(id)
	if err != nil {
		return
	}
	row.Sent = p.Sent
	row.Failed = p.Failed
	switch p.State {
	case campaign.StateSending:
		row.Status = models.CampaignSending
	case campaign.StatePaused:
		row.Status = models.CampaignPaused
	case campaign.StateCompleted:
		if p.Reason == "stopped by operator" {
			row.Status = models.CampaignCancelled
		} else {
			row.Status = models.CampaignCompleted
		}
		now := time.Now()
		row.CompletedAt = &now
	}
	if err := h.Store.UpdateCampaign(row); err != nil {
		log.Printf("Error updating campaign %d progress: %v", id, err)
	}
}

func (h *CampaignHandler) GetCampaigns(c *gin.Context) {
	campaigns, err := h.Store.ListCampaigns()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if campaigns == nil {
		campaigns = []models.Campaign{}
	}
	c.JSON(http.StatusOK, campaigns)
}

type CampaignRequest struct {
	Name               string   `json:"name" binding:"required"`
	Message            string   `json:"message"`
	Banners            []string `json:"banners"`
	CTAText            string   `json:"cta_text"`
	CTALink            string   `json:"cta_link"`
	UnsubscribeEnabled *bool    `json:"unsubscribe_enabled"`
	TargetTag          string   `json:"target_tag"`
}

func (h *CampaignHandler) CreateCampaign(c *gin.Context) {
	var req CampaignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	banners, _ := json.Marshal(req.Banners)
	unsubscribe := true
	if req.UnsubscribeEnabled != nil {
		unsubscribe = *req.UnsubscribeEnabled
	}
	row := models.Campaign{
		Name:               req.Name,
		Status:             models.CampaignDraft,
		Message:            req.Message,
		Banners:            string(banners),
		CTAText:            req.CTAText,
		CTALink:            req.CTALink,
		UnsubscribeEnabled: unsubscribe,
		TargetTags:         req.TargetTag,
	}
	if err := h.Store.CreateCampaign(&row); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create campaign"})
		return
	}
	c.JSON(http.StatusCreated, row)
}

type StartCampaignRequest struct {
	Mode string `json:"mode"`
}

// StartCampaign launches the stored campaign against its target segment.
// The speed mode defaults to the recommendation for the configured account
// age when the request doesn't pick one.
func (h *CampaignHandler) StartCampaign(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid campaign id"})
		return
	}
	row, err := h.Store.GetCampaign(uint(id))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Campaign not found"})
		return
	}

	var req StartCampaignRequest
	_ = c.ShouldBindJSON(&req)
	mode := campaign.SpeedMode(req.Mode)
	if mode != campaign.SpeedFast && mode != campaign.SpeedMedium && mode != campaign.SpeedSlow {
		settings, err := h.Store.Settings()
		age := models.AccountAgeMedium
		if err == nil && settings != nil {
			age = settings.AccountAge
		}
		mode = campaign.RecommendedMode(age)
	}

	var banners []string
	if row.Banners != "" {
		if err := json.Unmarshal([]byte(row.Banners), &banners); err != nil {
			log.Printf("Ignoring malformed banners for campaign %d: %v", row.ID, err)
		}
	}
	content := campaign.Content{
		Message:            row.Message,
		CTAText:            row.CTAText,
		CTALink:            row.CTALink,
		Images:             banners,
		UnsubscribeEnabled: row.UnsubscribeEnabled,
	}

	runID, err := h.Engine.StartCampaign(c.Request.Context(), content, row.TargetTags, mode)
	if err != nil {
		switch {
		case errors.Is(err, campaign.ErrRunActive):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		case errors.Is(err, campaign.ErrQuotaReached):
			c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
		case errors.Is(err, campaign.ErrNoAccount):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		}
		return
	}

	h.mu.Lock()
	h.activeID = row.ID
	h.mu.Unlock()

	now := time.Now()
	row.Status = models.CampaignSending
	row.StartedAt = &now
	row.CompletedAt = nil
	row.Sent = 0
	row.Failed = 0
	row.Total = h.Engine.Status().Total
	if err := h.Store.UpdateCampaign(row); err != nil {
		log.Printf("Error marking campaign %d as started: %v", row.ID, err)
	}

	c.JSON(http.StatusOK, gin.H{"run_id": runID, "mode": mode, "total": row.Total})
}

// StopCampaign cancels the active run.
func (h *CampaignHandler) StopCampaign(c *gin.Context) {
	if !h.Engine.Stop() {
		c.JSON(http.StatusConflict, gin.H{"error": "No campaign run is active"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "Stopping"})
}

// RunStatus returns the live snapshot of the current (or last) run.
func (h *CampaignHandler) RunStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.Engine.Status())
}

// Health returns the account-health snapshot derived from today's counters.
func (h *CampaignHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, h.Control.Health())
}

// Quota answers whether another message may be attempted today.
func (h *CampaignHandler) Quota(c *gin.Context) {
	c.JSON(http.StatusOK, h.Control.CanSend())
}
