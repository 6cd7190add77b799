package campaign

import (
	"fmt"
	"log"
	"math"
	"time"

	"zapmaster-backend/internal/models"
)

// Health classifications derived from today's delivery rate.
const (
	HealthExcellent = "EXCELLENT"
	HealthGood      = "GOOD"
	HealthWarning   = "WARNING"
	HealthCritical  = "CRITICAL"
)

// warmupAttempts is the number of attempts below which health is forced to
// EXCELLENT, so tiny samples don't raise false alarms.
const warmupAttempts = 10

// StatStore persists the per-day quota record.
type StatStore interface {
	DailyStat(date string) (*models.DailyStat, error)
	SaveDailyStat(stat *models.DailyStat) error
}

// SettingsStore reads the throttling policy.
type SettingsStore interface {
	Settings() (*models.DispatchSettings, error)
}

// Control is the quota and account-health tracker. It owns the daily
// send/fail counters and answers whether dispatch may continue.
type Control struct {
	stats    StatStore
	settings SettingsStore
	now      func() time.Time
}

func NewControl(stats StatStore, settings SettingsStore) *Control {
	return &Control{stats: stats, settings: settings, now: time.Now}
}

// DefaultSettings returns the recommended policy for an account-age profile.
func DefaultSettings(accountAge string) models.DispatchSettings {
	switch accountAge {
	case models.AccountAgeNew:
		return models.DispatchSettings{DailyLimit: 100, PauseAfter: 30, PauseMinutes: 15, AccountAge: accountAge}
	case models.AccountAgeOld:
		return models.DispatchSettings{DailyLimit: 800, PauseAfter: 150, PauseMinutes: 25, AccountAge: accountAge}
	default:
		return models.DispatchSettings{DailyLimit: 400, PauseAfter: 100, PauseMinutes: 20, AccountAge: models.AccountAgeMedium}
	}
}

// RecommendedMode maps an account-age profile to the suggested speed mode.
func RecommendedMode(accountAge string) SpeedMode {
	if accountAge == models.AccountAgeNew {
		return SpeedSlow
	}
	return SpeedMedium
}

// QuotaDecision is the answer to "may another message be attempted today".
type QuotaDecision struct {
	Allowed   bool   `json:"allowed"`
	Reason    string `json:"reason,omitempty"`
	Remaining int    `json:"remaining"`
}

// AccountHealth is the operator-facing health snapshot.
type AccountHealth struct {
	Classification string `json:"classification"`
	DeliveryRate   int    `json:"delivery_rate"`
	SentToday      int    `json:"sent_today"`
	FailedToday    int    `json:"failed_today"`
	RemainingToday int    `json:"remaining_today"`
}

func (c *Control) today() string {
	return c.now().Format("2006-01-02")
}

// loadToday returns today's record, creating a fresh zeroed one when the day
// rolled over or the store cannot be read. Store failures never stop the
// dispatch loop.
func (c *Control) loadToday() *models.DailyStat {
	date := c.today()
	stat, err := c.stats.DailyStat(date)
	if err != nil {
		log.Printf("Error reading daily stats, assuming fresh day: %v", err)
		return &models.DailyStat{Date: date}
	}
	if stat == nil {
		return &models.DailyStat{Date: date}
	}
	return stat
}

func (c *Control) loadSettings() models.DispatchSettings {
	settings, err := c.settings.Settings()
	if err != nil {
		log.Printf("Error reading dispatch settings, using defaults: %v", err)
		return DefaultSettings(models.AccountAgeMedium)
	}
	if settings == nil {
		return DefaultSettings(models.AccountAgeMedium)
	}
	return *settings
}

func (c *Control) persist(stat *models.DailyStat) {
	if err := c.stats.SaveDailyStat(stat); err != nil {
		log.Printf("Error persisting daily stats: %v", err)
	}
}

// CanSend evaluates the daily quota. It rolls the record over to a fresh day
// before deciding.
func (c *Control) CanSend() QuotaDecision {
	settings := c.loadSettings()
	stat := c.loadToday()
	total := stat.Sent + stat.Failed
	remaining := settings.DailyLimit - total

	if total >= settings.DailyLimit {
		return QuotaDecision{
			Allowed:   false,
			Reason:    fmt.Sprintf("daily limit of %d messages reached", settings.DailyLimit),
			Remaining: 0,
		}
	}
	return QuotaDecision{Allowed: true, Remaining: remaining}
}

// RecordSuccess increments today's sent counter and persists the record.
func (c *Control) RecordSuccess() {
	stat := c.loadToday()
	stat.Sent++
	c.persist(stat)
}

// RecordFailure increments today's failed counter and persists the record.
func (c *Control) RecordFailure() {
	stat := c.loadToday()
	stat.Failed++
	c.persist(stat)
}

// DeliveryRate is the success percentage for the given counters, defined as
// 100 when nothing was attempted.
func DeliveryRate(sent, failed int) int {
	total := sent + failed
	if total == 0 {
		return 100
	}
	return int(math.Round(float64(sent) / float64(total) * 100))
}

// HealthFor classifies account health from today's counters alone. Below
// warmupAttempts total attempts the answer is always EXCELLENT.
func HealthFor(sent, failed int) string {
	total := sent + failed
	if total < warmupAttempts {
		return HealthExcellent
	}
	rate := DeliveryRate(sent, failed)
	switch {
	case rate >= 85:
		return HealthExcellent
	case rate >= 70:
		return HealthGood
	case rate >= 50:
		return HealthWarning
	default:
		return HealthCritical
	}
}

// Health returns the current operator-facing snapshot.
func (c *Control) Health() AccountHealth {
	settings := c.loadSettings()
	stat := c.loadToday()
	remaining := settings.DailyLimit - stat.Sent - stat.Failed
	if remaining < 0 {
		remaining = 0
	}
	return AccountHealth{
		Classification: HealthFor(stat.Sent, stat.Failed),
		DeliveryRate:   DeliveryRate(stat.Sent, stat.Failed),
		SentToday:      stat.Sent,
		FailedToday:    stat.Failed,
		RemainingToday: remaining,
	}
}

// ShouldPause reports whether the automatic pause threshold was reached.
func (c *Control) ShouldPause(messagesSinceLastPause int) bool {
	settings := c.loadSettings()
	return messagesSinceLastPause >= settings.PauseAfter
}

// RegisterPause stamps the last automatic pause. Diagnostic only.
func (c *Control) RegisterPause() {
	stat := c.loadToday()
	now := c.now()
	stat.LastPause = &now
	c.persist(stat)
}

// PauseDuration converts the policy's pause minutes to a duration.
func (c *Control) PauseDuration() time.Duration {
	settings := c.loadSettings()
	return time.Duration(settings.PauseMinutes) * time.Minute
}
