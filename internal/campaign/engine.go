package campaign

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"zapmaster-backend/internal/models"
)

// Inter-stage settle delays inside a single contact.
const (
	interStageDelay = 1500 * time.Millisecond
	interImageDelay = 1000 * time.Millisecond
)

// fatalErrorMarker identifies the provider error that no retry or later
// contact can recover from.
const fatalErrorMarker = "client-token is not configured"

// Directory is the slice of the store the engine needs to resolve a run's
// account and target segment.
type Directory interface {
	ContactsByTag(tag string) ([]models.Contact, error)
	ConnectedAccount() (*models.Account, error)
}

// Transport sends one message (text or image) and returns the provider
// message identifier when one is supplied.
type Transport interface {
	SendMessage(ctx context.Context, account *models.Account, phone, message, image string) (string, error)
}

// Notifier receives every progress snapshot of a run.
type Notifier interface {
	PublishProgress(p Progress)
}

// MessageSink records outbound messages for chat history. Optional; failures
// never affect dispatch.
type MessageSink interface {
	RecordOutbound(phone, text, messageID string) error
}

// Engine runs one campaign at a time: resolves the segment, walks it with
// the three-stage protocol, and enforces quota, pacing and automatic pauses.
type Engine struct {
	control   *Control
	directory Directory
	transport Transport
	notifier  Notifier
	sink      MessageSink

	// Injected for tests.
	wait     func(ctx context.Context, d time.Duration) error
	delayFor func(mode SpeedMode) time.Duration

	mu      sync.Mutex
	current Progress
	cancel  context.CancelFunc
	running bool
}

func NewEngine(control *Control, directory Directory, transport Transport, notifier Notifier) *Engine {
	return &Engine{
		control:   control,
		directory: directory,
		transport: transport,
		notifier:  notifier,
		wait:      sleepCtx,
		delayFor:  DelayFor,
		current:   Progress{State: StateIdle},
	}
}

// SetMessageSink attaches an outbound message recorder.
func (e *Engine) SetMessageSink(sink MessageSink) {
	e.sink = sink
}

// SetNotifier replaces the progress notifier. Call before any run starts.
func (e *Engine) SetNotifier(n Notifier) {
	e.notifier = n
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// StartCampaign validates the run and launches it in the background,
// returning its run identifier. All refusals happen synchronously, before
// any message is sent.
func (e *Engine) StartCampaign(ctx context.Context, content Content, segmentTag string, mode SpeedMode) (string, error) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return "", ErrRunActive
	}
	e.mu.Unlock()

	if content.Empty() {
		return "", ErrNoContent
	}
	if quota := e.control.CanSend(); !quota.Allowed {
		return "", fmt.Errorf("%w: %s", ErrQuotaReached, quota.Reason)
	}

	account, err := e.directory.ConnectedAccount()
	if err != nil {
		return "", fmt.Errorf("resolving account: %w", err)
	}
	if account == nil {
		return "", ErrNoAccount
	}

	contacts, err := e.directory.ContactsByTag(segmentTag)
	if err != nil {
		return "", fmt.Errorf("resolving segment: %w", err)
	}
	targets := make([]models.Contact, 0, len(contacts))
	for _, c := range contacts {
		if c.Status != models.ContactStatusBlocked {
			targets = append(targets, c)
		}
	}
	if len(targets) == 0 {
		return "", ErrNoContacts
	}

	runID := uuid.NewString()
	runCtx, cancel := context.WithCancel(context.Background())

	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		cancel()
		return "", ErrRunActive
	}
	e.running = true
	e.cancel = cancel
	e.current = Progress{RunID: runID, State: StateSending, Total: len(targets)}
	e.mu.Unlock()

	log.Printf("Campaign run %s started: %d contacts, mode %s", runID, len(targets), mode)
	go e.run(runCtx, account, content, targets, mode)
	return runID, nil
}

// Stop cancels the active run. No further stage or contact is started once
// the cancellation is observed.
func (e *Engine) Stop() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running || e.cancel == nil {
		return false
	}
	e.cancel()
	return true
}

// Status returns a snapshot of the current (or last finished) run.
func (e *Engine) Status() Progress {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current
}

// Running reports whether a run is active.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

func (e *Engine) run(ctx context.Context, account *models.Account, content Content, targets []models.Contact, mode SpeedMode) {
	sinceLastPause := 0

	for i, contact := range targets {
		if ctx.Err() != nil {
			e.finish(StateCompleted, "stopped by operator", false)
			return
		}

		e.publish(func(p *Progress) {
			p.Stage = "message"
			p.ContactName = contactLabel(contact)
			p.PauseUntil = nil
		})

		err := e.sendToContact(ctx, account, contact, content)
		switch {
		case err == nil:
			e.control.RecordSuccess()
			sinceLastPause++
			e.publish(func(p *Progress) { p.Sent++ })
		case ctx.Err() != nil:
			e.finish(StateCompleted, "stopped by operator", false)
			return
		default:
			log.Printf("Campaign send to %s failed: %v", contact.Phone, err)
			e.control.RecordFailure()
			e.publish(func(p *Progress) { p.Failed++ })
			if isFatalError(err) {
				e.finish(StatePaused, "provider rejected credentials: "+err.Error(), true)
				return
			}
		}

		// Between-contact control flow: quota first, then the automatic
		// pause, then the randomized pacing delay. The last contact gets
		// neither a pause nor a delay.
		if quota := e.control.CanSend(); !quota.Allowed {
			e.finish(StateCompleted, quota.Reason, false)
			return
		}

		last := i == len(targets)-1
		if e.control.ShouldPause(sinceLastPause) && !last {
			e.control.RegisterPause()
			pause := e.control.PauseDuration()
			until := time.Now().Add(pause)
			e.publish(func(p *Progress) {
				p.State = StatePaused
				p.Stage = "paused"
				p.PauseUntil = &until
			})
			log.Printf("Campaign auto-pause for %s after %d messages", pause, sinceLastPause)
			if e.wait(ctx, pause) != nil {
				e.finish(StateCompleted, "stopped by operator", false)
				return
			}
			sinceLastPause = 0
			e.publish(func(p *Progress) {
				p.State = StateSending
				p.Stage = "message"
				p.PauseUntil = nil
			})
		}

		if !last {
			if e.wait(ctx, e.delayFor(mode)) != nil {
				e.finish(StateCompleted, "stopped by operator", false)
				return
			}
		}
	}

	e.finish(StateCompleted, "", false)
}

// stage kinds of the per-contact protocol.
type stageKind int

const (
	stageTop stageKind = iota
	stageImage
	stageFooter
)

// sendStage is one step of the per-contact protocol, with the settle delay
// that follows it already resolved.
type sendStage struct {
	kind       stageKind
	text       string
	image      string
	delayAfter time.Duration
}

// buildStages lays out the protocol for one contact: top text, then each
// image, then the opt-out footer. Settle delays only run when a later stage
// follows (the footer always settles before the inter-contact delay).
func buildStages(content Content) []sendStage {
	var stages []sendStage

	top := content.TopMessage()
	hasImages := len(content.Images) > 0
	hasFooter := content.UnsubscribeEnabled

	if top != "" {
		d := time.Duration(0)
		if hasImages || hasFooter {
			d = interStageDelay
		}
		stages = append(stages, sendStage{kind: stageTop, text: top, delayAfter: d})
	}
	for i, img := range content.Images {
		d := time.Duration(0)
		if i < len(content.Images)-1 {
			d = interImageDelay
		} else if hasFooter {
			d = interStageDelay
		}
		stages = append(stages, sendStage{kind: stageImage, image: img, delayAfter: d})
	}
	if hasFooter {
		stages = append(stages, sendStage{kind: stageFooter, text: footerText, delayAfter: interImageDelay})
	}
	return stages
}

// sendToContact walks the staged protocol for one contact. A footer failure
// is tolerated; any other failure aborts the contact.
func (e *Engine) sendToContact(ctx context.Context, account *models.Account, contact models.Contact, content Content) error {
	for _, st := range buildStages(content) {
		if err := ctx.Err(); err != nil {
			return err
		}

		messageID, err := e.dispatchStage(ctx, account, contact.Phone, st)
		if err != nil {
			if st.kind == stageFooter && !isFatalError(err) {
				log.Printf("Opt-out footer to %s failed (ignored): %v", contact.Phone, err)
				continue
			}
			return err
		}
		e.recordOutbound(contact.Phone, st, messageID)

		if st.delayAfter > 0 {
			if err := e.wait(ctx, st.delayAfter); err != nil {
				return err
			}
		}
	}
	return nil
}

// dispatchStage is the single point where a stage reaches the transport.
func (e *Engine) dispatchStage(ctx context.Context, account *models.Account, phone string, st sendStage) (string, error) {
	switch st.kind {
	case stageImage:
		return e.transport.SendMessage(ctx, account, phone, "", st.image)
	default:
		return e.transport.SendMessage(ctx, account, phone, st.text, "")
	}
}

func (e *Engine) recordOutbound(phone string, st sendStage, messageID string) {
	if e.sink == nil {
		return
	}
	text := st.text
	if st.kind == stageImage {
		text = "[imagem]"
	}
	if err := e.sink.RecordOutbound(phone, text, messageID); err != nil {
		log.Printf("Error recording outbound message: %v", err)
	}
}

// publish applies a mutation to the run snapshot under the lock and pushes
// the result to the notifier.
func (e *Engine) publish(mutate func(p *Progress)) {
	e.mu.Lock()
	mutate(&e.current)
	snapshot := e.current
	e.mu.Unlock()
	if e.notifier != nil {
		e.notifier.PublishProgress(snapshot)
	}
}

// finish records the terminal state and releases the run slot.
func (e *Engine) finish(state, reason string, fatal bool) {
	e.mu.Lock()
	e.current.State = state
	e.current.Stage = ""
	e.current.ContactName = ""
	e.current.Reason = reason
	e.current.Fatal = fatal
	e.current.PauseUntil = nil
	snapshot := e.current
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	e.running = false
	e.mu.Unlock()

	log.Printf("Campaign run %s finished: state=%s sent=%d failed=%d reason=%q",
		snapshot.RunID, snapshot.State, snapshot.Sent, snapshot.Failed, snapshot.Reason)
	if e.notifier != nil {
		e.notifier.PublishProgress(snapshot)
	}
}

func isFatalError(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), fatalErrorMarker)
}

func contactLabel(c models.Contact) string {
	if c.Name != "" {
		return c.Name
	}
	return c.Phone
}
