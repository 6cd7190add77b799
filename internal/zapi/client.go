package zapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"zapmaster-backend/internal/models"
)

// Client talks to the Z-API instance bound to an account. One network call
// per message; timeouts are the transport's responsibility.
type Client struct {
	HTTP *http.Client
}

func NewClient() *Client {
	return &Client{
		HTTP: &http.Client{Timeout: 45 * time.Second},
	}
}

// ChatSummary is one entry of the provider's recent-chats listing.
type ChatSummary struct {
	Phone  string
	Name   string
	Unread int
}

// ChatMessage is one message of a chat history fetch.
type ChatMessage struct {
	ID        string
	Text      string
	FromMe    bool
	Timestamp time.Time
}

type sendPayload struct {
	Phone   string `json:"phone"`
	Message string `json:"message,omitempty"`
	Image   string `json:"image,omitempty"`
	Caption string `json:"caption,omitempty"`
}

type sendResponse struct {
	MessageID string `json:"messageId"`
	ID        string `json:"id"`
	ZaapID    string `json:"zaapId"`
	Value     *struct {
		ID string `json:"id"`
	} `json:"value"`
	Message string `json:"message"`
	Error   string `json:"error"`
}

// SendMessage sends one text or image message and returns the provider
// message identifier when one is supplied.
func (c *Client) SendMessage(ctx context.Context, account *models.Account, phone, message, image string) (string, error) {
	if account == nil || account.ZAPIURL == "" {
		return "", fmt.Errorf("account has no Z-API URL configured")
	}
	if phone == "" {
		return "", fmt.Errorf("phone is required")
	}

	endpoint := account.ZAPIURL + "/send-text"
	payload := sendPayload{Phone: EnsureCountryPrefix(phone)}
	if image != "" {
		endpoint = account.ZAPIURL + "/send-image"
		payload.Image = normalizeImage(image)
		if message != "" {
			payload.Caption = message
		}
	} else {
		payload.Message = message
	}

	body, err := c.doJSON(ctx, account, http.MethodPost, endpoint, payload)
	if err != nil {
		return "", err
	}

	var res sendResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return "", fmt.Errorf("malformed provider response: %w", err)
	}
	return extractMessageID(res), nil
}

// Chats returns the first page of recent chats, most-recent-first.
func (c *Client) Chats(ctx context.Context, account *models.Account) ([]ChatSummary, error) {
	url := fmt.Sprintf("%s/chats?page=1&pageSize=20", account.ZAPIURL)
	body, err := c.doJSON(ctx, account, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	items, err := decodeList(body, "chats")
	if err != nil {
		return nil, err
	}

	chats := make([]ChatSummary, 0, len(items))
	for _, item := range items {
		phone := stringField(item, "phone")
		if phone == "" {
			phone = stringField(item, "id")
		}
		if phone == "" {
			continue
		}
		name := stringField(item, "name")
		if name == "" {
			name = phone
		}
		chats = append(chats, ChatSummary{
			Phone:  phone,
			Name:   name,
			Unread: intField(item, "unreadCount"),
		})
	}
	return chats, nil
}

// ChatMessages returns a chat's history, oldest first.
func (c *Client) ChatMessages(ctx context.Context, account *models.Account, phone string) ([]ChatMessage, error) {
	target := EnsureCountryPrefix(strings.NewReplacer("@s.whatsapp.net", "", "@c.us", "").Replace(phone))
	url := fmt.Sprintf("%s/chats/%s/messages?page=1&pageSize=50", account.ZAPIURL, target)
	body, err := c.doJSON(ctx, account, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	items, err := decodeList(body, "messages")
	if err != nil {
		return nil, err
	}

	messages := make([]ChatMessage, 0, len(items))
	for _, item := range items {
		msg := ChatMessage{
			ID:        firstString(item, "id", "messageId"),
			Text:      ExtractText(item),
			FromMe:    boolField(item, "fromMe"),
			Timestamp: messageTimestamp(item),
		}
		messages = append(messages, msg)
	}
	// Provider returns newest first.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// PhoneExists checks whether a number is registered on WhatsApp.
func (c *Client) PhoneExists(ctx context.Context, account *models.Account, phone string) (bool, error) {
	url := fmt.Sprintf("%s/phone-exists/%s", account.ZAPIURL, NormalizeDigits(phone))
	body, err := c.doJSON(ctx, account, http.MethodGet, url, nil)
	if err != nil {
		return false, err
	}
	var res struct {
		Exists       bool `json:"exists"`
		NumberExists bool `json:"numberExists"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return false, fmt.Errorf("malformed provider response: %w", err)
	}
	return res.Exists || res.NumberExists, nil
}

// Status validates the instance connection and reports its bound number.
func (c *Client) Status(ctx context.Context, account *models.Account) (string, error) {
	body, err := c.doJSON(ctx, account, http.MethodGet, account.ZAPIURL+"/status", nil)
	if err != nil {
		return "", err
	}
	var res struct {
		Phone string `json:"phone"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return "", fmt.Errorf("malformed provider response: %w", err)
	}
	return res.Phone, nil
}

func (c *Client) doJSON(ctx context.Context, account *models.Account, method, url string, payload interface{}) ([]byte, error) {
	var bodyReader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewBuffer(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token := strings.TrimSpace(account.ZAPIClientToken); token != "" {
		req.Header.Set("Client-Token", token)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		return respBody, fmt.Errorf("z-api error: %s", providerError(respBody, resp.Status))
	}
	return respBody, nil
}

// providerError surfaces the provider's own error text so callers can
// classify it (the missing client-token case in particular).
func providerError(body []byte, status string) string {
	var res sendResponse
	if err := json.Unmarshal(body, &res); err == nil {
		if res.Message != "" {
			return res.Message
		}
		if res.Error != "" {
			return res.Error
		}
	}
	return status
}

func extractMessageID(res sendResponse) string {
	switch {
	case res.MessageID != "":
		return res.MessageID
	case res.ID != "":
		return res.ID
	case res.ZaapID != "":
		return res.ZaapID
	case res.Value != nil && res.Value.ID != "":
		return res.Value.ID
	}
	return ""
}

func normalizeImage(image string) string {
	img := strings.TrimSpace(image)
	if !strings.HasPrefix(img, "http") && !strings.HasPrefix(img, "data:image") {
		img = "data:image/jpeg;base64," + img
	}
	return img
}

// decodeList handles both a bare JSON array and an object wrapping the
// array under key.
func decodeList(body []byte, key string) ([]map[string]interface{}, error) {
	var items []map[string]interface{}
	if err := json.Unmarshal(body, &items); err == nil {
		return items, nil
	}
	var wrapped map[string]json.RawMessage
	if err := json.Unmarshal(body, &wrapped); err != nil {
		return nil, fmt.Errorf("malformed provider response")
	}
	if raw, ok := wrapped[key]; ok {
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, fmt.Errorf("malformed provider response")
		}
	}
	return items, nil
}

// ExtractText pulls the human-readable text out of the provider's several
// message shapes (flat fields or nested Baileys structures).
func ExtractText(msg map[string]interface{}) string {
	for _, key := range []string{"text", "body", "message", "content", "caption"} {
		if s, ok := msg[key].(string); ok && s != "" {
			return s
		}
	}

	// Webhook callbacks wrap the body as {"text": {"message": "..."}}.
	if m, ok := msg["text"].(map[string]interface{}); ok {
		if s, ok := m["message"].(string); ok && s != "" {
			return s
		}
	}

	inner := msg
	for _, key := range []string{"message", "content"} {
		if m, ok := msg[key].(map[string]interface{}); ok {
			inner = m
			break
		}
	}

	if s, ok := inner["conversation"].(string); ok && s != "" {
		return s
	}
	nested := []struct{ outer, field string }{
		{"extendedTextMessage", "text"},
		{"imageMessage", "caption"},
		{"videoMessage", "caption"},
		{"documentMessage", "caption"},
		{"buttonsResponseMessage", "selectedButtonId"},
		{"listResponseMessage", "title"},
		{"templateButtonReplyMessage", "selectedId"},
	}
	for _, n := range nested {
		if m, ok := inner[n.outer].(map[string]interface{}); ok {
			if s, ok := m[n.field].(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}

func stringField(m map[string]interface{}, key string) string {
	s, _ := m[key].(string)
	return s
}

func firstString(m map[string]interface{}, keys ...string) string {
	for _, key := range keys {
		if s := stringField(m, key); s != "" {
			return s
		}
	}
	return ""
}

func intField(m map[string]interface{}, key string) int {
	if f, ok := m[key].(float64); ok {
		return int(f)
	}
	return 0
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

func messageTimestamp(m map[string]interface{}) time.Time {
	if f, ok := m["timestamp"].(float64); ok && f > 0 {
		return time.UnixMilli(int64(f))
	}
	if f, ok := m["messageTimestamp"].(float64); ok && f > 0 {
		return time.Unix(int64(f), 0)
	}
	return time.Now()
}
