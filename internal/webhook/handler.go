package webhook

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"zapmaster-backend/internal/blacklist"
	"zapmaster-backend/internal/models"
	"zapmaster-backend/internal/zapi"
)

// MessageStore is the slice of the store the webhook intake needs.
type MessageStore interface {
	SaveMessage(m *models.Message) error
	UpsertChat(phone, contactName, lastMessage string, at time.Time, inbound bool) error
	GetContact(phone string) (*models.Contact, error)
	CreateContact(c *models.Contact) error
	SetContactStatus(phone, status string) error
	ConnectedAccount() (*models.Account, error)
}

// Sender delivers the opt-out confirmation.
type Sender interface {
	SendMessage(ctx context.Context, account *models.Account, phone, message, image string) (string, error)
}

// Events pushes intake results to connected dashboards.
type Events interface {
	NotifyMessage(msg models.Message)
	PublishBlocked(names []string)
}

// Handler ingests Z-API message callbacks: persists the message, keeps the
// chat summary fresh, auto-registers unknown senders and honors inline
// opt-out requests.
type Handler struct {
	Store  MessageStore
	Sender Sender
	Events Events
}

func NewHandler(store MessageStore, sender Sender, events Events) *Handler {
	return &Handler{Store: store, Sender: sender, Events: events}
}

// HandleMessage processes one received-message callback. The provider
// retries on non-2xx, so malformed payloads are acknowledged and dropped.
func (h *Handler) HandleMessage(c *gin.Context) {
	var payload map[string]interface{}
	if err := c.ShouldBindJSON(&payload); err != nil {
		log.Printf("Error binding webhook payload: %v", err)
		c.Status(http.StatusOK)
		return
	}

	phone := firstString(payload, "phone", "from", "chatId")
	text := zapi.ExtractText(payload)
	if phone == "" || text == "" {
		c.Status(http.StatusOK)
		return
	}
	phone = zapi.EnsureCountryPrefix(phone)
	fromMe := boolField(payload, "fromMe")
	name := firstString(payload, "chatName", "senderName", "notifyName")

	msg := models.Message{
		MessageID: firstString(payload, "messageId", "id"),
		Phone:     phone,
		Text:      text,
		FromMe:    fromMe,
		Timestamp: payloadTimestamp(payload),
	}
	if err := h.Store.SaveMessage(&msg); err != nil {
		log.Printf("Error storing webhook message: %v", err)
	}
	if err := h.Store.UpsertChat(phone, name, text, msg.Timestamp, !fromMe); err != nil {
		log.Printf("Error updating chat: %v", err)
	}
	if h.Events != nil {
		h.Events.NotifyMessage(msg)
	}

	if !fromMe {
		h.registerContact(phone, name)
		if blacklist.ContainsOptOut(text) {
			h.handleOptOut(c.Request.Context(), phone)
		}
	}

	c.Status(http.StatusOK)
}

// registerContact creates a contact record for a first-time sender.
func (h *Handler) registerContact(phone, name string) {
	if _, err := h.Store.GetContact(phone); err == nil {
		return
	}
	contact := models.Contact{
		Phone:  phone,
		Name:   name,
		Tags:   "[]",
		Status: models.ContactStatusUnknown,
	}
	if contact.Name == "" {
		contact.Name = phone
	}
	if err := h.Store.CreateContact(&contact); err != nil {
		log.Printf("Error auto-registering contact %s: %v", phone, err)
	}
}

// handleOptOut blocks the sender and confirms, mirroring what the periodic
// blacklist sweep would eventually do.
func (h *Handler) handleOptOut(ctx context.Context, phone string) {
	contact, err := h.Store.GetContact(phone)
	if err != nil || contact.Status == models.ContactStatusBlocked {
		return
	}
	if err := h.Store.SetContactStatus(phone, models.ContactStatusBlocked); err != nil {
		log.Printf("Error blocking contact %s: %v", phone, err)
		return
	}
	log.Printf("Contact %s opted out via webhook", phone)

	account, err := h.Store.ConnectedAccount()
	if err == nil && account != nil && h.Sender != nil {
		if _, err := h.Sender.SendMessage(ctx, account, phone, "Você foi descadastrado com sucesso.", ""); err != nil {
			log.Printf("Error sending opt-out confirmation to %s: %v", phone, err)
		}
	}
	if h.Events != nil {
		name := contact.Name
		if name == "" {
			name = phone
		}
		h.Events.PublishBlocked([]string{name})
	}
}

func firstString(m map[string]interface{}, keys ...string) string {
	for _, key := range keys {
		if s, ok := m[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// boolField accepts both boolean and "true"/"false" string encodings.
func boolField(m map[string]interface{}, key string) bool {
	switch v := m[key].(type) {
	case bool:
		return v
	case string:
		return v == "true"
	}
	return false
}

// payloadTimestamp reads the provider's millisecond "momment" field.
func payloadTimestamp(m map[string]interface{}) time.Time {
	if f, ok := m["momment"].(float64); ok && f > 0 {
		return time.UnixMilli(int64(f))
	}
	if f, ok := m["timestamp"].(float64); ok && f > 0 {
		return time.UnixMilli(int64(f))
	}
	return time.Now()
}
