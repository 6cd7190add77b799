package campaign

import (
	"errors"
	"testing"
	"time"

	"zapmaster-backend/internal/models"
)

type fakeStatStore struct {
	stats   map[string]*models.DailyStat
	readErr error
}

func newFakeStatStore() *fakeStatStore {
	return &fakeStatStore{stats: make(map[string]*models.DailyStat)}
}

func (f *fakeStatStore) DailyStat(date string) (*models.DailyStat, error) {
	if f.readErr != nil {
		return nil, f.readErr
	}
	return f.stats[date], nil
}

func (f *fakeStatStore) SaveDailyStat(stat *models.DailyStat) error {
	f.stats[stat.Date] = stat
	return nil
}

type fakeSettingsStore struct {
	settings *models.DispatchSettings
}

func (f *fakeSettingsStore) Settings() (*models.DispatchSettings, error) {
	return f.settings, nil
}

func newControl(settings models.DispatchSettings) (*Control, *fakeStatStore) {
	stats := newFakeStatStore()
	c := NewControl(stats, &fakeSettingsStore{settings: &settings})
	return c, stats
}

func TestDeliveryRate(t *testing.T) {
	cases := []struct {
		sent, failed, want int
	}{
		{0, 0, 100},
		{10, 0, 100},
		{0, 10, 0},
		{85, 15, 85},
		{1, 2, 33},
		{2, 1, 67},
	}
	for _, tc := range cases {
		if got := DeliveryRate(tc.sent, tc.failed); got != tc.want {
			t.Errorf("DeliveryRate(%d, %d) = %d, want %d", tc.sent, tc.failed, got, tc.want)
		}
	}
}

func TestHealthClassification(t *testing.T) {
	cases := []struct {
		sent, failed int
		want         string
	}{
		{0, 0, HealthExcellent},
		{3, 6, HealthExcellent}, // warm-up: fewer than 10 attempts
		{90, 10, HealthExcellent},
		{85, 15, HealthExcellent},
		{84, 16, HealthGood},
		{70, 30, HealthGood},
		{69, 31, HealthWarning},
		{50, 50, HealthWarning},
		{49, 51, HealthCritical},
		{0, 100, HealthCritical},
	}
	for _, tc := range cases {
		if got := HealthFor(tc.sent, tc.failed); got != tc.want {
			t.Errorf("HealthFor(%d, %d) = %s, want %s", tc.sent, tc.failed, got, tc.want)
		}
	}
}

func TestCanSendCountsFailures(t *testing.T) {
	c, stats := newControl(models.DispatchSettings{DailyLimit: 10, PauseAfter: 100, PauseMinutes: 5})

	today := time.Now().Format("2006-01-02")
	stats.stats[today] = &models.DailyStat{Date: today, Sent: 6, Failed: 3}

	decision := c.CanSend()
	if !decision.Allowed {
		t.Fatalf("expected sending allowed at 9/10, got refusal: %s", decision.Reason)
	}
	if decision.Remaining != 1 {
		t.Errorf("Remaining = %d, want 1", decision.Remaining)
	}

	c.RecordFailure()
	decision = c.CanSend()
	if decision.Allowed {
		t.Fatal("expected refusal once sent+failed reached the limit")
	}
	if decision.Remaining != 0 {
		t.Errorf("Remaining = %d, want 0", decision.Remaining)
	}
	if decision.Reason == "" {
		t.Error("refusal should carry a reason")
	}
}

func TestQuotaRollsOverAtMidnight(t *testing.T) {
	c, stats := newControl(models.DispatchSettings{DailyLimit: 5, PauseAfter: 100, PauseMinutes: 5})

	day := time.Date(2026, 3, 1, 23, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return day }
	for i := 0; i < 5; i++ {
		c.RecordSuccess()
	}
	if c.CanSend().Allowed {
		t.Fatal("quota should be exhausted before midnight")
	}

	c.now = func() time.Time { return day.Add(2 * time.Hour) }
	decision := c.CanSend()
	if !decision.Allowed {
		t.Fatal("quota should reset on the next calendar day")
	}
	if decision.Remaining != 5 {
		t.Errorf("Remaining after rollover = %d, want 5", decision.Remaining)
	}
	if len(stats.stats) != 1 {
		t.Errorf("expected only the first day persisted, got %d records", len(stats.stats))
	}
}

func TestControlSurvivesStoreErrors(t *testing.T) {
	stats := newFakeStatStore()
	stats.readErr = errors.New("disk on fire")
	c := NewControl(stats, &fakeSettingsStore{})

	decision := c.CanSend()
	if !decision.Allowed {
		t.Fatal("store errors must degrade to a fresh day, not block dispatch")
	}
	health := c.Health()
	if health.Classification != HealthExcellent {
		t.Errorf("Classification = %s, want %s on a fresh day", health.Classification, HealthExcellent)
	}
}

func TestDefaultSettingsPerAccountAge(t *testing.T) {
	cases := []struct {
		age                             string
		limit, pauseAfter, pauseMinutes int
	}{
		{models.AccountAgeNew, 100, 30, 15},
		{models.AccountAgeMedium, 400, 100, 20},
		{models.AccountAgeOld, 800, 150, 25},
		{"bogus", 400, 100, 20},
	}
	for _, tc := range cases {
		got := DefaultSettings(tc.age)
		if got.DailyLimit != tc.limit || got.PauseAfter != tc.pauseAfter || got.PauseMinutes != tc.pauseMinutes {
			t.Errorf("DefaultSettings(%s) = {%d %d %d}, want {%d %d %d}", tc.age,
				got.DailyLimit, got.PauseAfter, got.PauseMinutes, tc.limit, tc.pauseAfter, tc.pauseMinutes)
		}
	}
}

func TestRecommendedMode(t *testing.T) {
	if got := RecommendedMode(models.AccountAgeNew); got != SpeedSlow {
		t.Errorf("RecommendedMode(NEW) = %s, want %s", got, SpeedSlow)
	}
	if got := RecommendedMode(models.AccountAgeMedium); got != SpeedMedium {
		t.Errorf("RecommendedMode(MEDIUM) = %s, want %s", got, SpeedMedium)
	}
	if got := RecommendedMode(models.AccountAgeOld); got != SpeedMedium {
		t.Errorf("RecommendedMode(OLD) = %s, want %s", got, SpeedMedium)
	}
}

func TestShouldPause(t *testing.T) {
	c, _ := newControl(models.DispatchSettings{DailyLimit: 100, PauseAfter: 3, PauseMinutes: 5})
	if c.ShouldPause(2) {
		t.Error("should not pause below the threshold")
	}
	if !c.ShouldPause(3) {
		t.Error("should pause at the threshold")
	}
	if got := c.PauseDuration(); got != 5*time.Minute {
		t.Errorf("PauseDuration = %s, want 5m", got)
	}
}

func TestDelayForBands(t *testing.T) {
	bands := []struct {
		mode     SpeedMode
		min, max time.Duration
	}{
		{SpeedFast, 3 * time.Second, 8 * time.Second},
		{SpeedMedium, 10 * time.Second, 20 * time.Second},
		{SpeedSlow, 25 * time.Second, 45 * time.Second},
	}
	for _, band := range bands {
		for i := 0; i < 200; i++ {
			d := DelayFor(band.mode)
			if d < band.min || d >= band.max {
				t.Fatalf("DelayFor(%s) = %s, want [%s, %s)", band.mode, d, band.min, band.max)
			}
		}
	}
}
