package api

import (
	"fmt"
	"log"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"zapmaster-backend/internal/database"
	"zapmaster-backend/internal/models"
	"zapmaster-backend/internal/zapi"
)

// instanceURLPattern matches the Z-API instance URL shape and captures the
// instance id and token.
var instanceURLPattern = regexp.MustCompile(`/instances/([^/]+)/token/([^/]+)`)

type AccountHandler struct {
	Store *database.Store
	Zapi  *zapi.Client
}

func NewAccountHandler(store *database.Store, client *zapi.Client) *AccountHandler {
	return &AccountHandler{Store: store, Zapi: client}
}

func (h *AccountHandler) GetAccounts(c *gin.Context) {
	accounts, err := h.Store.ListAccounts()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if accounts == nil {
		accounts = []models.Account{}
	}
	// Tokens never leave the server.
	for i := range accounts {
		accounts[i].ZAPIToken = ""
		accounts[i].ZAPIClientToken = ""
	}
	c.JSON(http.StatusOK, accounts)
}

type CreateAccountRequest struct {
	Name        string `json:"name" binding:"required"`
	InstanceURL string `json:"instance_url" binding:"required"`
	ClientToken string `json:"client_token"`
}

// CreateAccount registers a Z-API instance. Credentials are extracted from
// the pasted instance URL so operators don't have to split them by hand.
func (h *AccountHandler) CreateAccount(c *gin.Context) {
	var req CreateAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id, token, ok := extractCredentials(req.InstanceURL)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Instance URL must contain /instances/{id}/token/{token}"})
		return
	}

	account := models.Account{
		Name:            req.Name,
		InstanceName:    id,
		Status:          models.AccountDisconnected,
		ZAPIURL:         fmt.Sprintf("https://api.z-api.io/instances/%s/token/%s", id, token),
		ZAPIID:          id,
		ZAPIToken:       token,
		ZAPIClientToken: strings.TrimSpace(req.ClientToken),
	}
	if err := h.Store.CreateAccount(&account); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create account"})
		return
	}
	account.ZAPIToken = ""
	account.ZAPIClientToken = ""
	c.JSON(http.StatusCreated, account)
}

type UpdateAccountRequest struct {
	Name        *string `json:"name"`
	ClientToken *string `json:"client_token"`
}

func (h *AccountHandler) UpdateAccount(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid account id"})
		return
	}
	account, err := h.Store.GetAccount(uint(id))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Account not found"})
		return
	}

	var req UpdateAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Name != nil {
		account.Name = *req.Name
	}
	if req.ClientToken != nil {
		account.ZAPIClientToken = strings.TrimSpace(*req.ClientToken)
	}
	if err := h.Store.UpdateAccount(account); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update account"})
		return
	}
	account.ZAPIToken = ""
	account.ZAPIClientToken = ""
	c.JSON(http.StatusOK, account)
}

func (h *AccountHandler) DeleteAccount(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid account id"})
		return
	}
	deleted, err := h.Store.DeleteAccount(uint(id))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete account"})
		return
	}
	if !deleted {
		c.JSON(http.StatusNotFound, gin.H{"error": "Account not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "Account deleted"})
}

// TestConnection probes the instance's /status endpoint and records the
// resulting connection state.
func (h *AccountHandler) TestConnection(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid account id"})
		return
	}
	account, err := h.Store.GetAccount(uint(id))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Account not found"})
		return
	}

	phone, err := h.Zapi.Status(c.Request.Context(), account)
	if err != nil {
		account.Status = models.AccountDisconnected
		if saveErr := h.Store.UpdateAccount(account); saveErr != nil {
			log.Printf("Error saving account status: %v", saveErr)
		}
		c.JSON(http.StatusBadGateway, gin.H{"connected": false, "error": err.Error()})
		return
	}

	account.Status = models.AccountConnected
	if phone != "" {
		account.PhoneNumber = phone
	}
	if err := h.Store.UpdateAccount(account); err != nil {
		log.Printf("Error saving account status: %v", err)
	}
	c.JSON(http.StatusOK, gin.H{"connected": true, "phone": account.PhoneNumber})
}

func extractCredentials(instanceURL string) (id, token string, ok bool) {
	m := instanceURLPattern.FindStringSubmatch(strings.TrimSpace(instanceURL))
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}
