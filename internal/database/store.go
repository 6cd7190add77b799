package database

import (
	"encoding/json"
	"strings"
	"time"

	"zapmaster-backend/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store owns all persistence queries. Handlers and services hold the small
// slice of it they need through consumer-side interfaces.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// --- Contacts ---

func (s *Store) ListContacts(status, tag, search string) ([]models.Contact, error) {
	q := s.db.Order("created_at DESC")
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if search != "" {
		like := "%" + search + "%"
		q = q.Where("name LIKE ? OR phone LIKE ?", like, like)
	}

	var contacts []models.Contact
	if err := q.Find(&contacts).Error; err != nil {
		return nil, err
	}
	if tag == "" {
		return contacts, nil
	}

	filtered := contacts[:0]
	for _, c := range contacts {
		if HasTag(c.Tags, tag) {
			filtered = append(filtered, c)
		}
	}
	return filtered, nil
}

// ContactsByTag returns every contact whose tag set contains tag,
// regardless of status.
func (s *Store) ContactsByTag(tag string) ([]models.Contact, error) {
	var contacts []models.Contact
	if err := s.db.Order("created_at DESC").Find(&contacts).Error; err != nil {
		return nil, err
	}
	matched := contacts[:0]
	for _, c := range contacts {
		if HasTag(c.Tags, tag) {
			matched = append(matched, c)
		}
	}
	return matched, nil
}

// HasTag reports whether the stored tags value (JSON array string, with a
// comma-separated fallback for imported data) contains tag.
func HasTag(tags, tag string) bool {
	if tags == "" || tag == "" {
		return false
	}
	var parsed []string
	if err := json.Unmarshal([]byte(tags), &parsed); err == nil {
		for _, t := range parsed {
			if t == tag {
				return true
			}
		}
		return false
	}
	for _, t := range strings.Split(tags, ",") {
		if strings.TrimSpace(t) == tag {
			return true
		}
	}
	return false
}

func (s *Store) GetContact(phone string) (*models.Contact, error) {
	var c models.Contact
	if err := s.db.First(&c, "phone = ?", phone).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) CreateContact(c *models.Contact) error {
	return s.db.Create(c).Error
}

// BulkCreateContacts inserts contacts, skipping phones that already exist.
// Returns the number actually inserted.
func (s *Store) BulkCreateContacts(contacts []models.Contact) (int, error) {
	if len(contacts) == 0 {
		return 0, nil
	}
	res := s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&contacts)
	if res.Error != nil {
		return 0, res.Error
	}
	return int(res.RowsAffected), nil
}

func (s *Store) UpdateContact(phone string, updates map[string]interface{}) error {
	return s.db.Model(&models.Contact{}).Where("phone = ?", phone).Updates(updates).Error
}

func (s *Store) DeleteContact(phone string) (bool, error) {
	res := s.db.Delete(&models.Contact{}, "phone = ?", phone)
	return res.RowsAffected > 0, res.Error
}

// SetContactStatus flips a contact's lifecycle status and stamps the last
// interaction. Last write wins; blocking is monotonic so no merge is needed.
func (s *Store) SetContactStatus(phone, status string) error {
	now := time.Now()
	return s.db.Model(&models.Contact{}).Where("phone = ?", phone).
		Updates(map[string]interface{}{"status": status, "last_interaction": &now}).Error
}

// --- Accounts ---

func (s *Store) ListAccounts() ([]models.Account, error) {
	var accounts []models.Account
	err := s.db.Order("created_at DESC").Find(&accounts).Error
	return accounts, err
}

func (s *Store) GetAccount(id uint) (*models.Account, error) {
	var a models.Account
	if err := s.db.First(&a, id).Error; err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Store) CreateAccount(a *models.Account) error {
	return s.db.Create(a).Error
}

func (s *Store) UpdateAccount(a *models.Account) error {
	return s.db.Save(a).Error
}

func (s *Store) DeleteAccount(id uint) (bool, error) {
	res := s.db.Delete(&models.Account{}, id)
	return res.RowsAffected > 0, res.Error
}

// ConnectedAccount returns the most recently added account that is
// CONNECTED and has Z-API credentials, or nil when none exists.
func (s *Store) ConnectedAccount() (*models.Account, error) {
	var a models.Account
	err := s.db.Where("status = ? AND zapi_url <> ''", models.AccountConnected).
		Order("created_at DESC").First(&a).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &a, nil
}

// --- Messages & chats ---

func (s *Store) SaveMessage(m *models.Message) error {
	return s.db.Create(m).Error
}

// RecordOutbound persists a campaign-sent message and refreshes the chat
// summary, so dispatched messages show up in the conversation view.
func (s *Store) RecordOutbound(phone, text, messageID string) error {
	now := time.Now()
	msg := models.Message{
		MessageID: messageID,
		Phone:     phone,
		Text:      text,
		FromMe:    true,
		Timestamp: now,
	}
	if err := s.SaveMessage(&msg); err != nil {
		return err
	}
	return s.UpsertChat(phone, "", text, now, false)
}

func (s *Store) MessagesByPhone(phone string, limit int) ([]models.Message, error) {
	var messages []models.Message
	err := s.db.Where("phone = ?", phone).Order("timestamp DESC").Limit(limit).Find(&messages).Error
	return messages, err
}

func (s *Store) DeleteMessages(phone string) error {
	return s.db.Delete(&models.Message{}, "phone = ?", phone).Error
}

func (s *Store) UpsertChat(phone, contactName, lastMessage string, at time.Time, inbound bool) error {
	var chat models.Chat
	err := s.db.First(&chat, "phone = ?", phone).Error
	if err == gorm.ErrRecordNotFound {
		chat = models.Chat{Phone: phone, ContactName: contactName}
	} else if err != nil {
		return err
	}
	chat.LastMessage = lastMessage
	chat.LastMessageAt = at
	if contactName != "" {
		chat.ContactName = contactName
	}
	if inbound {
		chat.UnreadCount++
	}
	return s.db.Save(&chat).Error
}

func (s *Store) RecentChats(limit int) ([]models.Chat, error) {
	var chats []models.Chat
	err := s.db.Order("last_message_at DESC").Limit(limit).Find(&chats).Error
	return chats, err
}

func (s *Store) DeleteChat(phone string) (bool, error) {
	res := s.db.Delete(&models.Chat{}, "phone = ?", phone)
	return res.RowsAffected > 0, res.Error
}

// --- Campaigns ---

func (s *Store) ListCampaigns() ([]models.Campaign, error) {
	var campaigns []models.Campaign
	err := s.db.Order("created_at DESC").Find(&campaigns).Error
	return campaigns, err
}

func (s *Store) GetCampaign(id uint) (*models.Campaign, error) {
	var c models.Campaign
	if err := s.db.First(&c, id).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) CreateCampaign(c *models.Campaign) error {
	return s.db.Create(c).Error
}

func (s *Store) UpdateCampaign(c *models.Campaign) error {
	return s.db.Save(c).Error
}

// --- Quota record & settings ---

func (s *Store) DailyStat(date string) (*models.DailyStat, error) {
	var stat models.DailyStat
	err := s.db.First(&stat, "date = ?", date).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &stat, nil
}

func (s *Store) SaveDailyStat(stat *models.DailyStat) error {
	return s.db.Save(stat).Error
}

func (s *Store) Settings() (*models.DispatchSettings, error) {
	var settings models.DispatchSettings
	err := s.db.First(&settings, 1).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &settings, nil
}

func (s *Store) SaveSettings(settings *models.DispatchSettings) error {
	settings.ID = 1
	return s.db.Save(settings).Error
}

// DashboardStats mirrors the original dashboard counters.
type DashboardStats struct {
	TotalContacts   int64 `json:"total_contacts"`
	BlockedContacts int64 `json:"blocked_contacts"`
	ValidContacts   int64 `json:"valid_contacts"`
	OnlineAccounts  int64 `json:"online_accounts"`
	TotalMessages   int64 `json:"total_messages"`
	ActiveCampaigns int64 `json:"active_campaigns"`
}

func (s *Store) Stats() (*DashboardStats, error) {
	var stats DashboardStats
	counts := []struct {
		dest  *int64
		query *gorm.DB
	}{
		{&stats.TotalContacts, s.db.Model(&models.Contact{})},
		{&stats.BlockedContacts, s.db.Model(&models.Contact{}).Where("status = ?", models.ContactStatusBlocked)},
		{&stats.ValidContacts, s.db.Model(&models.Contact{}).Where("status = ?", models.ContactStatusValid)},
		{&stats.OnlineAccounts, s.db.Model(&models.Account{}).Where("status = ?", models.AccountConnected)},
		{&stats.TotalMessages, s.db.Model(&models.Message{})},
		{&stats.ActiveCampaigns, s.db.Model(&models.Campaign{}).Where("status IN ?", []string{models.CampaignSending, models.CampaignPaused})},
	}
	for _, c := range counts {
		if err := c.query.Count(c.dest).Error; err != nil {
			return nil, err
		}
	}
	return &stats, nil
}
