package campaign

import (
	"errors"
	"math/rand"
	"strings"
	"time"
)

// Run lifecycle states.
const (
	StateIdle      = "IDLE"
	StateSending   = "SENDING"
	StatePaused    = "PAUSED"
	StateCompleted = "COMPLETED"
)

// SpeedMode selects the randomized inter-contact delay band.
type SpeedMode string

const (
	SpeedFast   SpeedMode = "FAST"
	SpeedMedium SpeedMode = "MEDIUM"
	SpeedSlow   SpeedMode = "SLOW"
)

// DelayFor draws a fresh uniform delay from the mode's band. A fixed
// interval would look like burst traffic to the provider.
func DelayFor(mode SpeedMode) time.Duration {
	switch mode {
	case SpeedFast:
		return time.Duration(3000+rand.Intn(5000)) * time.Millisecond
	case SpeedSlow:
		return time.Duration(25000+rand.Intn(20000)) * time.Millisecond
	default:
		return time.Duration(10000+rand.Intn(10000)) * time.Millisecond
	}
}

// footerText is the fixed opt-out instruction sent as stage 3.
const footerText = "Digite *SAIR* para não receber mais mensagens."

// Content is what a campaign sends to each contact.
type Content struct {
	Message            string   `json:"message"`
	CTAText            string   `json:"cta_text"`
	CTALink            string   `json:"cta_link"`
	Images             []string `json:"images"`
	UnsubscribeEnabled bool     `json:"unsubscribe_enabled"`
}

// TopMessage builds the stage-1 text: body plus the call-to-action line
// when both label and link are present.
func (c Content) TopMessage() string {
	top := c.Message
	if c.CTAText != "" && c.CTALink != "" {
		top += "\n\n" + c.CTAText + ": " + c.CTALink
	}
	return strings.TrimSpace(top)
}

// Empty reports whether there is nothing at all to send.
func (c Content) Empty() bool {
	return c.TopMessage() == "" && len(c.Images) == 0
}

// Progress is one snapshot of a campaign run, pushed to observers and
// returned by Status.
type Progress struct {
	RunID       string     `json:"run_id"`
	State       string     `json:"state"`
	Stage       string     `json:"stage,omitempty"`
	ContactName string     `json:"contact_name,omitempty"`
	Sent        int        `json:"sent"`
	Failed      int        `json:"failed"`
	Total       int        `json:"total"`
	Reason      string     `json:"reason,omitempty"`
	Fatal       bool       `json:"fatal"`
	PauseUntil  *time.Time `json:"pause_until,omitempty"`
}

// Entry refusals. StartCampaign returns these synchronously; the run never
// leaves IDLE.
var (
	ErrRunActive    = errors.New("a campaign run is already active")
	ErrNoContent    = errors.New("campaign has no message, call-to-action or images")
	ErrNoAccount    = errors.New("no connected account available")
	ErrNoContacts   = errors.New("no eligible contacts in segment")
	ErrQuotaReached = errors.New("daily quota exhausted")
)
