package campaign

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"zapmaster-backend/internal/models"
)

type sendCall struct {
	phone   string
	message string
	image   string
}

type scriptedTransport struct {
	mu    sync.Mutex
	calls []sendCall
	fail  func(call sendCall) error
}

func (st *scriptedTransport) SendMessage(ctx context.Context, account *models.Account, phone, message, image string) (string, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	call := sendCall{phone: phone, message: message, image: image}
	st.calls = append(st.calls, call)
	if st.fail != nil {
		if err := st.fail(call); err != nil {
			return "", err
		}
	}
	return fmt.Sprintf("MSG-%d", len(st.calls)), nil
}

func (st *scriptedTransport) callCount() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.calls)
}

func (st *scriptedTransport) snapshot() []sendCall {
	st.mu.Lock()
	defer st.mu.Unlock()
	return append([]sendCall(nil), st.calls...)
}

type fakeDirectory struct {
	contacts []models.Contact
	account  *models.Account
}

func (f *fakeDirectory) ContactsByTag(tag string) ([]models.Contact, error) {
	return f.contacts, nil
}

func (f *fakeDirectory) ConnectedAccount() (*models.Account, error) {
	return f.account, nil
}

type waitRecorder struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (w *waitRecorder) wait(ctx context.Context, d time.Duration) error {
	w.mu.Lock()
	w.waits = append(w.waits, d)
	w.mu.Unlock()
	return ctx.Err()
}

func (w *waitRecorder) snapshot() []time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]time.Duration(nil), w.waits...)
}

// pacingDelay is the sentinel returned by the injected delay function, so
// tests can tell pacing waits apart from protocol and pause waits.
const pacingDelay = 42 * time.Millisecond

func testAccount() *models.Account {
	return &models.Account{
		ID:      1,
		Status:  models.AccountConnected,
		ZAPIURL: "https://api.z-api.io/instances/X/token/Y",
	}
}

func testContacts(n int) []models.Contact {
	contacts := make([]models.Contact, 0, n)
	for i := 0; i < n; i++ {
		contacts = append(contacts, models.Contact{
			Phone:  fmt.Sprintf("55119999900%02d", i),
			Name:   fmt.Sprintf("Contact %d", i),
			Status: models.ContactStatusValid,
		})
	}
	return contacts
}

func newTestEngine(settings models.DispatchSettings, contacts []models.Contact, transport *scriptedTransport) (*Engine, *waitRecorder, chan Progress) {
	stats := newFakeStatStore()
	control := NewControl(stats, &fakeSettingsStore{settings: &settings})

	events := make(chan Progress, 1024)
	notifier := notifierFunc(func(p Progress) {
		select {
		case events <- p:
		default:
		}
	})

	engine := NewEngine(control, &fakeDirectory{contacts: contacts, account: testAccount()}, transport, notifier)
	recorder := &waitRecorder{}
	engine.wait = recorder.wait
	engine.delayFor = func(SpeedMode) time.Duration { return pacingDelay }
	return engine, recorder, events
}

type notifierFunc func(p Progress)

func (f notifierFunc) PublishProgress(p Progress) { f(p) }

func awaitTerminal(t *testing.T, events chan Progress) Progress {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case p := <-events:
			if p.State == StateCompleted || (p.State == StatePaused && p.Fatal) {
				return p
			}
		case <-deadline:
			t.Fatal("campaign run did not finish in time")
		}
	}
}

func defaultPolicy() models.DispatchSettings {
	return models.DispatchSettings{DailyLimit: 1000, PauseAfter: 500, PauseMinutes: 10, AccountAge: models.AccountAgeMedium}
}

func TestThreeStageProtocol(t *testing.T) {
	transport := &scriptedTransport{}
	engine, recorder, events := newTestEngine(defaultPolicy(), testContacts(1), transport)

	content := Content{
		Message:            "Big spring sale!",
		CTAText:            "Shop now",
		CTALink:            "https://example.com/sale",
		Images:             []string{"https://cdn.example.com/a.jpg", "https://cdn.example.com/b.jpg"},
		UnsubscribeEnabled: true,
	}
	if _, err := engine.StartCampaign(context.Background(), content, "vip", SpeedMedium); err != nil {
		t.Fatalf("StartCampaign: %v", err)
	}
	final := awaitTerminal(t, events)

	calls := transport.snapshot()
	if len(calls) != 4 {
		t.Fatalf("got %d sends, want 4 (text, two images, footer)", len(calls))
	}
	wantTop := "Big spring sale!\n\nShop now: https://example.com/sale"
	if calls[0].message != wantTop || calls[0].image != "" {
		t.Errorf("stage 1 = %+v, want text %q", calls[0], wantTop)
	}
	if calls[1].image != content.Images[0] || calls[1].message != "" {
		t.Errorf("stage 2 first image = %+v, images must go out without captions", calls[1])
	}
	if calls[2].image != content.Images[1] || calls[2].message != "" {
		t.Errorf("stage 2 second image = %+v", calls[2])
	}
	if !strings.Contains(calls[3].message, "SAIR") {
		t.Errorf("stage 3 = %q, want the opt-out footer", calls[3].message)
	}

	waits := recorder.snapshot()
	want := []time.Duration{interStageDelay, interImageDelay, interStageDelay, interImageDelay}
	if len(waits) != len(want) {
		t.Fatalf("got %d waits %v, want %v", len(waits), waits, want)
	}
	for i := range want {
		if waits[i] != want[i] {
			t.Errorf("wait[%d] = %s, want %s", i, waits[i], want[i])
		}
	}

	if final.State != StateCompleted || final.Sent != 1 || final.Failed != 0 {
		t.Errorf("final = %+v, want completed with 1 sent", final)
	}
}

func TestImagesOnlyCampaign(t *testing.T) {
	transport := &scriptedTransport{}
	engine, recorder, events := newTestEngine(defaultPolicy(), testContacts(1), transport)

	content := Content{Images: []string{"a.jpg", "b.jpg"}}
	if _, err := engine.StartCampaign(context.Background(), content, "", SpeedFast); err != nil {
		t.Fatalf("StartCampaign: %v", err)
	}
	awaitTerminal(t, events)

	if got := transport.callCount(); got != 2 {
		t.Fatalf("got %d sends, want 2 images", got)
	}
	waits := recorder.snapshot()
	if len(waits) != 1 || waits[0] != interImageDelay {
		t.Errorf("waits = %v, want a single inter-image delay", waits)
	}
}

func TestAutomaticPauses(t *testing.T) {
	policy := models.DispatchSettings{DailyLimit: 1000, PauseAfter: 2, PauseMinutes: 7, AccountAge: models.AccountAgeMedium}
	transport := &scriptedTransport{}
	engine, recorder, events := newTestEngine(policy, testContacts(5), transport)

	if _, err := engine.StartCampaign(context.Background(), Content{Message: "hi"}, "", SpeedSlow); err != nil {
		t.Fatalf("StartCampaign: %v", err)
	}
	final := awaitTerminal(t, events)

	pauseLen := 7 * time.Minute
	var pauses, pacing int
	for _, d := range recorder.snapshot() {
		switch d {
		case pauseLen:
			pauses++
		case pacingDelay:
			pacing++
		}
	}
	if pauses != 2 {
		t.Errorf("got %d automatic pauses, want 2 (after the 2nd and 4th contact)", pauses)
	}
	// A delay after every contact except the last.
	if pacing != 4 {
		t.Errorf("got %d pacing delays, want 4", pacing)
	}
	if final.Sent != 5 {
		t.Errorf("Sent = %d, want 5", final.Sent)
	}
}

func TestPauseSnapshotCarriesResumeTime(t *testing.T) {
	policy := models.DispatchSettings{DailyLimit: 1000, PauseAfter: 1, PauseMinutes: 5, AccountAge: models.AccountAgeMedium}
	transport := &scriptedTransport{}
	engine, _, events := newTestEngine(policy, testContacts(2), transport)

	if _, err := engine.StartCampaign(context.Background(), Content{Message: "hi"}, "", SpeedFast); err != nil {
		t.Fatalf("StartCampaign: %v", err)
	}

	sawPause := false
	deadline := time.After(2 * time.Second)
	for !sawPause {
		select {
		case p := <-events:
			if p.State == StatePaused && !p.Fatal {
				sawPause = true
				if p.PauseUntil == nil || !p.PauseUntil.After(time.Now()) {
					t.Errorf("paused snapshot should carry a future resume time, got %v", p.PauseUntil)
				}
			}
			if p.State == StateCompleted {
				t.Fatal("run completed without publishing a pause")
			}
		case <-deadline:
			t.Fatal("never observed a pause snapshot")
		}
	}
	awaitTerminal(t, events)
}

func TestQuotaStopsRunMidway(t *testing.T) {
	policy := models.DispatchSettings{DailyLimit: 3, PauseAfter: 500, PauseMinutes: 10, AccountAge: models.AccountAgeMedium}
	transport := &scriptedTransport{}
	engine, _, events := newTestEngine(policy, testContacts(5), transport)

	if _, err := engine.StartCampaign(context.Background(), Content{Message: "hi"}, "", SpeedFast); err != nil {
		t.Fatalf("StartCampaign: %v", err)
	}
	final := awaitTerminal(t, events)

	if got := transport.callCount(); got != 3 {
		t.Errorf("got %d sends, want 3 before the quota cut in", got)
	}
	if final.Sent != 3 || final.State != StateCompleted {
		t.Errorf("final = %+v, want completed with 3 sent", final)
	}
	if final.Reason == "" {
		t.Error("quota stop should carry a reason")
	}
}

func TestFatalProviderError(t *testing.T) {
	transport := &scriptedTransport{
		fail: func(sendCall) error {
			return errors.New("z-api error: client-token is not configured")
		},
	}
	engine, _, events := newTestEngine(defaultPolicy(), testContacts(3), transport)

	if _, err := engine.StartCampaign(context.Background(), Content{Message: "hi"}, "", SpeedFast); err != nil {
		t.Fatalf("StartCampaign: %v", err)
	}
	final := awaitTerminal(t, events)

	if final.State != StatePaused || !final.Fatal {
		t.Fatalf("final = %+v, want a fatal pause", final)
	}
	if got := transport.callCount(); got != 1 {
		t.Errorf("got %d sends, want 1: no later contact may be attempted", got)
	}
	if final.Failed != 1 {
		t.Errorf("Failed = %d, want 1", final.Failed)
	}
	if engine.Running() {
		t.Error("engine should release the run slot after a fatal pause")
	}
}

func TestNonFatalFailureContinues(t *testing.T) {
	contacts := testContacts(2)
	transport := &scriptedTransport{}
	transport.fail = func(call sendCall) error {
		if call.phone == contacts[0].Phone {
			return errors.New("z-api error: number not on whatsapp")
		}
		return nil
	}
	engine, _, events := newTestEngine(defaultPolicy(), contacts, transport)

	if _, err := engine.StartCampaign(context.Background(), Content{Message: "hi"}, "", SpeedFast); err != nil {
		t.Fatalf("StartCampaign: %v", err)
	}
	final := awaitTerminal(t, events)

	if final.Sent != 1 || final.Failed != 1 || final.State != StateCompleted {
		t.Errorf("final = %+v, want completed with 1 sent and 1 failed", final)
	}
}

func TestStageOneFailureAbortsContact(t *testing.T) {
	transport := &scriptedTransport{
		fail: func(call sendCall) error {
			if call.image == "" && call.message != footerText {
				return errors.New("z-api error: rejected")
			}
			return nil
		},
	}
	engine, _, events := newTestEngine(defaultPolicy(), testContacts(1), transport)

	content := Content{
		Message:            "hi",
		CTAText:            "Go",
		CTALink:            "https://example.com",
		Images:             []string{"a.jpg", "b.jpg"},
		UnsubscribeEnabled: true,
	}
	if _, err := engine.StartCampaign(context.Background(), content, "", SpeedFast); err != nil {
		t.Fatalf("StartCampaign: %v", err)
	}
	final := awaitTerminal(t, events)

	if got := transport.callCount(); got != 1 {
		t.Errorf("got %d sends, want 1: a stage-1 failure must abort the images and footer", got)
	}
	if final.Failed != 1 || final.Sent != 0 {
		t.Errorf("final = %+v, want exactly one recorded failure", final)
	}
}

func TestTargetSnapshotIsImmutable(t *testing.T) {
	contacts := testContacts(2)
	directory := &fakeDirectory{contacts: contacts, account: testAccount()}
	transport := &scriptedTransport{}
	engine, _, events := newTestEngine(defaultPolicy(), contacts, transport)
	engine.directory = directory

	// Suppress the second contact the moment the first message goes out. The
	// run snapshot was taken at start, so the send still happens.
	transport.fail = func(sendCall) error {
		directory.contacts[1].Status = models.ContactStatusBlocked
		return nil
	}

	if _, err := engine.StartCampaign(context.Background(), Content{Message: "hi"}, "", SpeedFast); err != nil {
		t.Fatalf("StartCampaign: %v", err)
	}
	final := awaitTerminal(t, events)

	if final.Sent != 2 {
		t.Errorf("Sent = %d, want 2: mid-run suppression must not shrink the snapshot", final.Sent)
	}
}

func TestFooterFailureTolerated(t *testing.T) {
	transport := &scriptedTransport{
		fail: func(call sendCall) error {
			if call.message == footerText {
				return errors.New("z-api error: temporarily unavailable")
			}
			return nil
		},
	}
	engine, _, events := newTestEngine(defaultPolicy(), testContacts(1), transport)

	content := Content{Message: "hi", UnsubscribeEnabled: true}
	if _, err := engine.StartCampaign(context.Background(), content, "", SpeedFast); err != nil {
		t.Fatalf("StartCampaign: %v", err)
	}
	final := awaitTerminal(t, events)

	if final.Sent != 1 || final.Failed != 0 {
		t.Errorf("final = %+v, a footer failure must not fail the contact", final)
	}
	if got := transport.callCount(); got != 2 {
		t.Errorf("got %d sends, want 2 (text and the failed footer attempt)", got)
	}
}

func TestBlockedContactsAreExcluded(t *testing.T) {
	contacts := testContacts(2)
	contacts[0].Status = models.ContactStatusBlocked
	transport := &scriptedTransport{}
	engine, _, events := newTestEngine(defaultPolicy(), contacts, transport)

	if _, err := engine.StartCampaign(context.Background(), Content{Message: "hi"}, "", SpeedFast); err != nil {
		t.Fatalf("StartCampaign: %v", err)
	}
	final := awaitTerminal(t, events)

	if final.Total != 1 || final.Sent != 1 {
		t.Errorf("final = %+v, want the single unblocked contact targeted", final)
	}
	for _, call := range transport.snapshot() {
		if call.phone == contacts[0].Phone {
			t.Fatalf("blocked contact %s received a message", call.phone)
		}
	}
}

func TestStartRefusals(t *testing.T) {
	t.Run("empty content", func(t *testing.T) {
		engine, _, _ := newTestEngine(defaultPolicy(), testContacts(1), &scriptedTransport{})
		if _, err := engine.StartCampaign(context.Background(), Content{}, "", SpeedFast); !errors.Is(err, ErrNoContent) {
			t.Errorf("err = %v, want ErrNoContent", err)
		}
	})

	t.Run("no connected account", func(t *testing.T) {
		engine, _, _ := newTestEngine(defaultPolicy(), testContacts(1), &scriptedTransport{})
		engine.directory = &fakeDirectory{contacts: testContacts(1), account: nil}
		if _, err := engine.StartCampaign(context.Background(), Content{Message: "hi"}, "", SpeedFast); !errors.Is(err, ErrNoAccount) {
			t.Errorf("err = %v, want ErrNoAccount", err)
		}
	})

	t.Run("all contacts blocked", func(t *testing.T) {
		contacts := testContacts(2)
		contacts[0].Status = models.ContactStatusBlocked
		contacts[1].Status = models.ContactStatusBlocked
		engine, _, _ := newTestEngine(defaultPolicy(), contacts, &scriptedTransport{})
		if _, err := engine.StartCampaign(context.Background(), Content{Message: "hi"}, "", SpeedFast); !errors.Is(err, ErrNoContacts) {
			t.Errorf("err = %v, want ErrNoContacts", err)
		}
	})

	t.Run("quota exhausted", func(t *testing.T) {
		policy := models.DispatchSettings{DailyLimit: 1, PauseAfter: 10, PauseMinutes: 5, AccountAge: models.AccountAgeMedium}
		engine, _, _ := newTestEngine(policy, testContacts(1), &scriptedTransport{})
		engine.control.RecordSuccess()
		if _, err := engine.StartCampaign(context.Background(), Content{Message: "hi"}, "", SpeedFast); !errors.Is(err, ErrQuotaReached) {
			t.Errorf("err = %v, want ErrQuotaReached", err)
		}
	})

	t.Run("run already active", func(t *testing.T) {
		engine, _, _ := newTestEngine(defaultPolicy(), testContacts(1), &scriptedTransport{})
		engine.mu.Lock()
		engine.running = true
		engine.mu.Unlock()
		if _, err := engine.StartCampaign(context.Background(), Content{Message: "hi"}, "", SpeedFast); !errors.Is(err, ErrRunActive) {
			t.Errorf("err = %v, want ErrRunActive", err)
		}
	})
}

func TestStopCancelsRun(t *testing.T) {
	transport := &scriptedTransport{}
	engine, _, events := newTestEngine(defaultPolicy(), testContacts(3), transport)
	// Every wait blocks until the run is cancelled.
	engine.wait = func(ctx context.Context, d time.Duration) error {
		<-ctx.Done()
		return ctx.Err()
	}

	if _, err := engine.StartCampaign(context.Background(), Content{Message: "hi"}, "", SpeedFast); err != nil {
		t.Fatalf("StartCampaign: %v", err)
	}

	// Let the first contact go out, then stop.
	deadline := time.After(2 * time.Second)
	for transport.callCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("first send never happened")
		default:
			time.Sleep(time.Millisecond)
		}
	}
	if !engine.Stop() {
		t.Fatal("Stop should report an active run")
	}

	final := awaitTerminal(t, events)
	if final.State != StateCompleted || final.Reason == "" {
		t.Errorf("final = %+v, want a completed state with a stop reason", final)
	}
	if got := transport.callCount(); got != 1 {
		t.Errorf("got %d sends after stop, want 1", got)
	}
	if engine.Stop() {
		t.Error("Stop on an idle engine should report false")
	}
}

func TestBuildStagesLayout(t *testing.T) {
	content := Content{Message: "hi", Images: []string{"a"}, UnsubscribeEnabled: true}
	stages := buildStages(content)
	if len(stages) != 3 {
		t.Fatalf("got %d stages, want 3", len(stages))
	}
	if stages[0].kind != stageTop || stages[0].delayAfter != interStageDelay {
		t.Errorf("stage 0 = %+v", stages[0])
	}
	if stages[1].kind != stageImage || stages[1].delayAfter != interStageDelay {
		t.Errorf("stage 1 = %+v: the last image settles before the footer", stages[1])
	}
	if stages[2].kind != stageFooter || stages[2].delayAfter != interImageDelay {
		t.Errorf("stage 2 = %+v", stages[2])
	}

	textOnly := buildStages(Content{Message: "hi"})
	if len(textOnly) != 1 || textOnly[0].delayAfter != 0 {
		t.Errorf("text-only stages = %+v, want one stage with no settle delay", textOnly)
	}
}
