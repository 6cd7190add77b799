package api

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"zapmaster-backend/internal/database"
	"zapmaster-backend/internal/models"
	"zapmaster-backend/internal/zapi"
)

type ContactHandler struct {
	Store *database.Store
	Zapi  *zapi.Client
}

func NewContactHandler(store *database.Store, client *zapi.Client) *ContactHandler {
	return &ContactHandler{Store: store, Zapi: client}
}

func (h *ContactHandler) GetContacts(c *gin.Context) {
	contacts, err := h.Store.ListContacts(c.Query("status"), c.Query("tag"), c.Query("search"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	// Return empty array instead of null
	if contacts == nil {
		contacts = []models.Contact{}
	}
	c.JSON(http.StatusOK, contacts)
}

type CreateContactRequest struct {
	Phone string   `json:"phone" binding:"required"`
	Name  string   `json:"name"`
	Tags  []string `json:"tags"`
}

func (h *ContactHandler) CreateContact(c *gin.Context) {
	var req CreateContactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	contact := models.Contact{
		Phone:  zapi.EnsureCountryPrefix(req.Phone),
		Name:   req.Name,
		Tags:   marshalTags(req.Tags),
		Status: models.ContactStatusUnknown,
	}
	if contact.Phone == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid phone number"})
		return
	}
	if err := h.Store.CreateContact(&contact); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create contact"})
		return
	}
	c.JSON(http.StatusCreated, contact)
}

type BulkImportRequest struct {
	Contacts []CreateContactRequest `json:"contacts" binding:"required"`
}

// BulkImport inserts a batch of contacts, silently skipping phones that
// already exist.
func (h *ContactHandler) BulkImport(c *gin.Context) {
	var req BulkImportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	contacts := make([]models.Contact, 0, len(req.Contacts))
	for _, item := range req.Contacts {
		phone := zapi.EnsureCountryPrefix(item.Phone)
		if phone == "" {
			continue
		}
		contacts = append(contacts, models.Contact{
			Phone:  phone,
			Name:   item.Name,
			Tags:   marshalTags(item.Tags),
			Status: models.ContactStatusUnknown,
		})
	}

	imported, err := h.Store.BulkCreateContacts(contacts)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to import contacts"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"imported": imported,
		"skipped":  len(req.Contacts) - imported,
	})
}

type UpdateContactRequest struct {
	Name   *string   `json:"name"`
	Tags   *[]string `json:"tags"`
	Status *string   `json:"status"`
}

func (h *ContactHandler) UpdateContact(c *gin.Context) {
	phone := c.Param("phone")
	var req UpdateContactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	updates := map[string]interface{}{}
	if req.Name != nil {
		updates["name"] = *req.Name
	}
	if req.Tags != nil {
		updates["tags"] = marshalTags(*req.Tags)
	}
	if req.Status != nil {
		updates["status"] = *req.Status
	}
	if len(updates) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Nothing to update"})
		return
	}

	if err := h.Store.UpdateContact(phone, updates); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update contact"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "Contact updated"})
}

func (h *ContactHandler) DeleteContact(c *gin.Context) {
	deleted, err := h.Store.DeleteContact(c.Param("phone"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete contact"})
		return
	}
	if !deleted {
		c.JSON(http.StatusNotFound, gin.H{"error": "Contact not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "Contact deleted"})
}

func (h *ContactHandler) ExportContacts(c *gin.Context) {
	contacts, err := h.Store.ListContacts("", "", "")
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	// Build CSV content
	csv := "Phone,Name,Tags,Status,Created At\n"
	for _, contact := range contacts {
		tags := strings.Join(unmarshalTags(contact.Tags), ";")
		csv += fmt.Sprintf("%s,%s,%s,%s,%s\n",
			contact.Phone, contact.Name, tags, contact.Status,
			contact.CreatedAt.Format("2006-01-02 15:04:05"))
	}

	c.Header("Content-Type", "text/csv")
	c.Header("Content-Disposition", "attachment; filename=contacts.csv")
	c.String(http.StatusOK, csv)
}

// CheckWhatsApp validates a contact's number against the provider and flips
// its status to VALID or INVALID.
func (h *ContactHandler) CheckWhatsApp(c *gin.Context) {
	phone := c.Param("phone")
	contact, err := h.Store.GetContact(phone)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Contact not found"})
		return
	}

	account, err := h.Store.ConnectedAccount()
	if err != nil || account == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "No connected account"})
		return
	}

	exists, err := h.Zapi.PhoneExists(c.Request.Context(), account, contact.Phone)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	status := models.ContactStatusInvalid
	if exists {
		status = models.ContactStatusValid
	}
	if err := h.Store.SetContactStatus(contact.Phone, status); err != nil {
		log.Printf("Error updating contact status: %v", err)
	}
	c.JSON(http.StatusOK, gin.H{"phone": contact.Phone, "exists": exists, "status": status})
}

// CheckAllUnknown runs WhatsApp verification over every UNKNOWN contact.
// Sequential on purpose: one provider call per number.
func (h *ContactHandler) CheckAllUnknown(c *gin.Context) {
	account, err := h.Store.ConnectedAccount()
	if err != nil || account == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "No connected account"})
		return
	}
	contacts, err := h.Store.ListContacts(models.ContactStatusUnknown, "", "")
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	valid, invalid, failed := 0, 0, 0
	for _, contact := range contacts {
		exists, err := h.Zapi.PhoneExists(c.Request.Context(), account, contact.Phone)
		if err != nil {
			log.Printf("Error checking %s: %v", contact.Phone, err)
			failed++
			continue
		}
		status := models.ContactStatusInvalid
		if exists {
			status = models.ContactStatusValid
			valid++
		} else {
			invalid++
		}
		if err := h.Store.SetContactStatus(contact.Phone, status); err != nil {
			log.Printf("Error updating contact status: %v", err)
		}
	}
	c.JSON(http.StatusOK, gin.H{"checked": len(contacts), "valid": valid, "invalid": invalid, "failed": failed})
}

func marshalTags(tags []string) string {
	if tags == nil {
		tags = []string{}
	}
	data, err := json.Marshal(tags)
	if err != nil {
		return "[]"
	}
	return string(data)
}

func unmarshalTags(tags string) []string {
	var parsed []string
	if err := json.Unmarshal([]byte(tags), &parsed); err != nil {
		return nil
	}
	return parsed
}
