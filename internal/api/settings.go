package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"zapmaster-backend/internal/campaign"
	"zapmaster-backend/internal/database"
	"zapmaster-backend/internal/models"
)

type SettingsHandler struct {
	Store *database.Store
}

func NewSettingsHandler(store *database.Store) *SettingsHandler {
	return &SettingsHandler{Store: store}
}

// GetSettings returns the stored throttling policy, falling back to the
// MEDIUM-age defaults when none was saved yet.
func (h *SettingsHandler) GetSettings(c *gin.Context) {
	settings, err := h.Store.Settings()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if settings == nil {
		defaults := campaign.DefaultSettings(models.AccountAgeMedium)
		settings = &defaults
	}
	c.JSON(http.StatusOK, gin.H{
		"settings":         settings,
		"recommended_mode": campaign.RecommendedMode(settings.AccountAge),
	})
}

type SaveSettingsRequest struct {
	DailyLimit   int    `json:"daily_limit" binding:"required,gt=0"`
	PauseAfter   int    `json:"pause_after" binding:"required,gt=0"`
	PauseMinutes int    `json:"pause_minutes" binding:"required,gt=0"`
	AccountAge   string `json:"account_age" binding:"required,oneof=NEW MEDIUM OLD"`
}

func (h *SettingsHandler) SaveSettings(c *gin.Context) {
	var req SaveSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	settings := models.DispatchSettings{
		DailyLimit:   req.DailyLimit,
		PauseAfter:   req.PauseAfter,
		PauseMinutes: req.PauseMinutes,
		AccountAge:   req.AccountAge,
	}
	if err := h.Store.SaveSettings(&settings); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save settings"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"settings":         settings,
		"recommended_mode": campaign.RecommendedMode(settings.AccountAge),
	})
}

// GetDefaults returns the recommended policy for an account-age profile.
func (h *SettingsHandler) GetDefaults(c *gin.Context) {
	age := c.Query("age")
	if age != models.AccountAgeNew && age != models.AccountAgeMedium && age != models.AccountAgeOld {
		age = models.AccountAgeMedium
	}
	defaults := campaign.DefaultSettings(age)
	c.JSON(http.StatusOK, gin.H{
		"settings":         defaults,
		"recommended_mode": campaign.RecommendedMode(age),
	})
}
