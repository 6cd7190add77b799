package api

import (
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"zapmaster-backend/internal/database"
	"zapmaster-backend/internal/models"
	"zapmaster-backend/internal/zapi"
)

type DashboardHandler struct {
	Store *database.Store
	Zapi  *zapi.Client
}

func NewDashboardHandler(store *database.Store, client *zapi.Client) *DashboardHandler {
	return &DashboardHandler{Store: store, Zapi: client}
}

func (h *DashboardHandler) GetStats(c *gin.Context) {
	stats, err := h.Store.Stats()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// GetChats lists recent conversations. Live provider data when an account is
// connected, the local cache otherwise.
func (h *DashboardHandler) GetChats(c *gin.Context) {
	account, err := h.Store.ConnectedAccount()
	if err == nil && account != nil {
		chats, err := h.Zapi.Chats(c.Request.Context(), account)
		if err == nil {
			c.JSON(http.StatusOK, chats)
			return
		}
		log.Printf("Provider chat listing failed, using cache: %v", err)
	}

	cached, err := h.Store.RecentChats(20)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if cached == nil {
		cached = []models.Chat{}
	}
	c.JSON(http.StatusOK, cached)
}

// GetChatMessages returns one conversation's history, oldest first.
func (h *DashboardHandler) GetChatMessages(c *gin.Context) {
	phone := c.Param("phone")

	account, err := h.Store.ConnectedAccount()
	if err == nil && account != nil {
		messages, err := h.Zapi.ChatMessages(c.Request.Context(), account, phone)
		if err == nil {
			c.JSON(http.StatusOK, messages)
			return
		}
		log.Printf("Provider chat history failed, using cache: %v", err)
	}

	cached, err := h.Store.MessagesByPhone(zapi.EnsureCountryPrefix(phone), 50)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if cached == nil {
		cached = []models.Message{}
	}
	// Cache is newest first; the chat view wants oldest first.
	for i, j := 0, len(cached)-1; i < j; i, j = i+1, j-1 {
		cached[i], cached[j] = cached[j], cached[i]
	}
	c.JSON(http.StatusOK, cached)
}

// DeleteChat removes a conversation and its cached messages.
func (h *DashboardHandler) DeleteChat(c *gin.Context) {
	phone := zapi.EnsureCountryPrefix(c.Param("phone"))
	deleted, err := h.Store.DeleteChat(phone)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete chat"})
		return
	}
	if !deleted {
		c.JSON(http.StatusNotFound, gin.H{"error": "Chat not found"})
		return
	}
	if err := h.Store.DeleteMessages(phone); err != nil {
		log.Printf("Error deleting chat messages: %v", err)
	}
	c.JSON(http.StatusOK, gin.H{"status": "Chat deleted"})
}

type SendMessageRequest struct {
	Message string `json:"message" binding:"required"`
}

// SendMessage sends one manual chat message outside any campaign.
func (h *DashboardHandler) SendMessage(c *gin.Context) {
	phone := zapi.EnsureCountryPrefix(c.Param("phone"))
	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	account, err := h.Store.ConnectedAccount()
	if err != nil || account == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "No connected account"})
		return
	}

	messageID, err := h.Zapi.SendMessage(c.Request.Context(), account, phone, req.Message, "")
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	now := time.Now()
	msg := models.Message{
		MessageID: messageID,
		Phone:     phone,
		Text:      req.Message,
		FromMe:    true,
		Timestamp: now,
	}
	if err := h.Store.SaveMessage(&msg); err != nil {
		log.Printf("Error storing sent message: %v", err)
	}
	if err := h.Store.UpsertChat(phone, "", req.Message, now, false); err != nil {
		log.Printf("Error updating chat: %v", err)
	}
	c.JSON(http.StatusOK, gin.H{"message_id": messageID})
}
