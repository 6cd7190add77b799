package blacklist

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/robfig/cron/v3"

	"zapmaster-backend/internal/models"
	"zapmaster-backend/internal/zapi"
)

// confirmationText is sent to a contact right after their opt-out request
// is honored.
const confirmationText = "Você foi descadastrado com sucesso."

// ContactRegistry is the slice of the store the watcher needs to resolve
// and suppress contacts.
type ContactRegistry interface {
	ListContacts(status, tag, search string) ([]models.Contact, error)
	SetContactStatus(phone, status string) error
	ConnectedAccount() (*models.Account, error)
}

// ChatReader reads recent provider conversations and sends the opt-out
// confirmation.
type ChatReader interface {
	Chats(ctx context.Context, account *models.Account) ([]zapi.ChatSummary, error)
	ChatMessages(ctx context.Context, account *models.Account, phone string) ([]zapi.ChatMessage, error)
	SendMessage(ctx context.Context, account *models.Account, phone, message, image string) (string, error)
}

// Notifier is told about contacts blocked in one sweep, coalesced.
type Notifier interface {
	PublishBlocked(names []string)
}

// Watcher periodically inspects the most recent chats for opt-out requests
// and suppresses the matching contacts.
type Watcher struct {
	registry ContactRegistry
	reader   ChatReader
	notifier Notifier

	chatWindow int

	mu   sync.Mutex
	cron *cron.Cron
}

func NewWatcher(registry ContactRegistry, reader ChatReader, notifier Notifier, chatWindow int) *Watcher {
	if chatWindow <= 0 {
		chatWindow = 3
	}
	return &Watcher{
		registry:   registry,
		reader:     reader,
		notifier:   notifier,
		chatWindow: chatWindow,
	}
}

// Start schedules RunOnce every intervalMinutes. Idempotent.
func (w *Watcher) Start(intervalMinutes int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cron != nil {
		return
	}
	if intervalMinutes <= 0 {
		intervalMinutes = 3
	}
	c := cron.New()
	spec := fmt.Sprintf("@every %dm", intervalMinutes)
	if _, err := c.AddFunc(spec, func() {
		if err := w.RunOnce(context.Background()); err != nil {
			log.Printf("Blacklist sweep failed: %v", err)
		}
	}); err != nil {
		log.Printf("Error scheduling blacklist watcher: %v", err)
		return
	}
	c.Start()
	w.cron = c
	log.Printf("Blacklist watcher started (%s, %d chats per sweep)", spec, w.chatWindow)
}

// Stop halts the schedule. A sweep already in flight finishes on its own.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cron != nil {
		w.cron.Stop()
		w.cron = nil
	}
}

// RunOnce performs a single sweep. A missing account is a quiet no-op; a
// failure on one chat never stops the others.
func (w *Watcher) RunOnce(ctx context.Context) error {
	account, err := w.registry.ConnectedAccount()
	if err != nil {
		return fmt.Errorf("resolving account: %w", err)
	}
	if account == nil {
		return nil
	}

	chats, err := w.reader.Chats(ctx, account)
	if err != nil {
		return fmt.Errorf("listing chats: %w", err)
	}
	if len(chats) > w.chatWindow {
		chats = chats[:w.chatWindow]
	}

	contacts, err := w.registry.ListContacts("", "", "")
	if err != nil {
		return fmt.Errorf("listing contacts: %w", err)
	}
	byPhone := make(map[string]models.Contact, len(contacts))
	for _, c := range contacts {
		byPhone[zapi.ComparablePhone(c.Phone)] = c
	}

	var blocked []string
	for _, chat := range chats {
		name, ok := w.inspectChat(ctx, account, chat, byPhone)
		if ok {
			blocked = append(blocked, name)
		}
	}

	if len(blocked) > 0 {
		log.Printf("Blacklist sweep blocked %d contact(s): %v", len(blocked), blocked)
		if w.notifier != nil {
			w.notifier.PublishBlocked(blocked)
		}
	}
	return nil
}

// inspectChat checks one chat's most recent inbound message and blocks the
// matching contact when it is an opt-out request. Returns the blocked
// contact's display name.
func (w *Watcher) inspectChat(ctx context.Context, account *models.Account, chat zapi.ChatSummary, byPhone map[string]models.Contact) (string, bool) {
	messages, err := w.reader.ChatMessages(ctx, account, chat.Phone)
	if err != nil {
		log.Printf("Error reading chat %s: %v", chat.Phone, err)
		return "", false
	}

	// Messages arrive oldest first; walk backwards to the latest inbound one.
	var lastInbound *zapi.ChatMessage
	for i := len(messages) - 1; i >= 0; i-- {
		if !messages[i].FromMe {
			lastInbound = &messages[i]
			break
		}
	}
	if lastInbound == nil || !IsOptOutMessage(lastInbound.Text) {
		return "", false
	}

	contact, ok := byPhone[zapi.ComparablePhone(chat.Phone)]
	if !ok {
		log.Printf("Opt-out from unregistered number %s ignored", chat.Phone)
		return "", false
	}
	if contact.Status == models.ContactStatusBlocked {
		return "", false
	}

	if err := w.registry.SetContactStatus(contact.Phone, models.ContactStatusBlocked); err != nil {
		log.Printf("Error blocking contact %s: %v", contact.Phone, err)
		return "", false
	}

	if _, err := w.reader.SendMessage(ctx, account, contact.Phone, confirmationText, ""); err != nil {
		log.Printf("Error sending opt-out confirmation to %s: %v", contact.Phone, err)
	}

	name := contact.Name
	if name == "" {
		name = contact.Phone
	}
	return name, true
}
