package models

import (
	"time"
)

// Contact statuses. BLOCKED contacts are suppressed and never targeted by
// campaign dispatch.
const (
	ContactStatusUnknown = "UNKNOWN"
	ContactStatusValid   = "VALID"
	ContactStatusInvalid = "INVALID"
	ContactStatusBlocked = "BLOCKED"
)

// Account connection states.
const (
	AccountConnected    = "CONNECTED"
	AccountDisconnected = "DISCONNECTED"
	AccountScanning     = "SCANNING"
)

// Contact represents a WhatsApp contact. Phone is the canonical
// digits-only, country-prefixed number.
type Contact struct {
	Phone           string     `gorm:"primaryKey;type:varchar(20)" json:"phone"`
	Name            string     `gorm:"type:varchar(255)" json:"name"`
	Tags            string     `gorm:"type:text" json:"tags"` // JSON array string
	Status          string     `gorm:"type:varchar(20);default:'UNKNOWN';index" json:"status"`
	LastInteraction *time.Time `json:"last_interaction"`
	CreatedAt       time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Contact) TableName() string {
	return "contacts"
}

// Account holds Z-API credentials for one outbound WhatsApp line.
type Account struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	Name            string    `gorm:"type:varchar(255)" json:"name"`
	InstanceName    string    `gorm:"type:varchar(255)" json:"instance_name"`
	PhoneNumber     string    `gorm:"type:varchar(20)" json:"phone_number"`
	Status          string    `gorm:"type:varchar(20);default:'DISCONNECTED';index" json:"status"`
	ZAPIURL         string    `gorm:"type:text" json:"zapi_url"`
	ZAPIID          string    `gorm:"type:varchar(255)" json:"zapi_id"`
	ZAPIToken       string    `gorm:"type:varchar(255)" json:"zapi_token"`
	ZAPIClientToken string    `gorm:"type:varchar(255)" json:"zapi_client_token"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Account) TableName() string {
	return "accounts"
}

// Message is a persisted inbound or outbound chat message.
type Message struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	MessageID string    `gorm:"type:varchar(255);index" json:"message_id"`
	Phone     string    `gorm:"type:varchar(20);index;not null" json:"phone"`
	Text      string    `gorm:"type:text" json:"text"`
	FromMe    bool      `gorm:"default:false" json:"from_me"`
	Timestamp time.Time `json:"timestamp"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (Message) TableName() string {
	return "messages"
}

// Chat is the conversation summary shown on the dashboard.
type Chat struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	Phone         string    `gorm:"type:varchar(20);uniqueIndex" json:"phone"`
	ContactName   string    `gorm:"type:varchar(255)" json:"contact_name"`
	LastMessage   string    `gorm:"type:text" json:"last_message"`
	UnreadCount   int       `gorm:"default:0" json:"unread_count"`
	LastMessageAt time.Time `gorm:"index" json:"last_message_at"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (Chat) TableName() string {
	return "chats"
}

// Campaign statuses.
const (
	CampaignDraft     = "DRAFT"
	CampaignSending   = "SENDING"
	CampaignPaused    = "PAUSED"
	CampaignCompleted = "COMPLETED"
	CampaignCancelled = "CANCELLED"
)

// Campaign is a stored bulk-send definition plus its running counters.
type Campaign struct {
	ID                 uint       `gorm:"primaryKey" json:"id"`
	Name               string     `gorm:"type:varchar(255);not null" json:"name"`
	Status             string     `gorm:"type:varchar(20);default:'DRAFT';index" json:"status"`
	Message            string     `gorm:"type:text" json:"message"`
	Banners            string     `gorm:"type:text" json:"banners"` // JSON array of image URLs/base64
	CTAText            string     `gorm:"type:varchar(255)" json:"cta_text"`
	CTALink            string     `gorm:"type:text" json:"cta_link"`
	UnsubscribeEnabled bool       `gorm:"default:true" json:"unsubscribe_enabled"`
	TargetTags         string     `gorm:"type:text" json:"target_tags"`
	Sent               int        `gorm:"default:0" json:"sent"`
	Failed             int        `gorm:"default:0" json:"failed"`
	Total              int        `gorm:"default:0" json:"total"`
	AccountID          uint       `json:"account_id"`
	StartedAt          *time.Time `json:"started_at"`
	CompletedAt        *time.Time `json:"completed_at"`
	CreatedAt          time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Campaign) TableName() string {
	return "campaigns"
}

// DailyStat is the per-day send/fail record behind the quota tracker.
// Exactly one row per calendar day.
type DailyStat struct {
	Date      string     `gorm:"primaryKey;type:varchar(32)" json:"date"`
	Sent      int        `gorm:"default:0" json:"sent"`
	Failed    int        `gorm:"default:0" json:"failed"`
	LastPause *time.Time `json:"last_pause"`
	UpdatedAt time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (DailyStat) TableName() string {
	return "daily_stats"
}

// Account age profiles used for recommended limits.
const (
	AccountAgeNew    = "NEW"
	AccountAgeMedium = "MEDIUM"
	AccountAgeOld    = "OLD"
)

// DispatchSettings holds the operator-tunable throttling policy. A single
// row (ID 1) is kept.
type DispatchSettings struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	DailyLimit   int       `gorm:"default:400" json:"daily_limit"`
	PauseAfter   int       `gorm:"default:100" json:"pause_after"`
	PauseMinutes int       `gorm:"default:20" json:"pause_minutes"`
	AccountAge   string    `gorm:"type:varchar(10);default:'MEDIUM'" json:"account_age"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (DispatchSettings) TableName() string {
	return "dispatch_settings"
}
