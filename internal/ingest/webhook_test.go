package ingest

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"shopbot/internal/domain"
	"shopbot/internal/router"
)

// waitFor polls cond until it holds or the deadline passes. Routing runs
// on its own goroutine after the ack, so tests observe it by polling.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not reached within deadline")
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// memStore is an in-memory domain.Store for controller tests.
type memStore struct {
	mu        sync.Mutex
	pages     map[string]*domain.Page
	business  *domain.Business
	customers map[string]*domain.Customer // sender id -> customer
	inbound   map[string]bool             // "customerID/mid"
	saveCalls int
	nextID    int64
}

func newMemStore() *memStore {
	return &memStore{
		pages:     map[string]*domain.Page{"page-1": {ID: 1, ProviderID: "page-1", Kind: domain.PageKindMessenger, AccessToken: "tok", BusinessID: 1}},
		business:  &domain.Business{ID: 1, Name: "Acme Shoes", Currency: "USD"},
		customers: map[string]*domain.Customer{},
		inbound:   map[string]bool{},
		nextID:    100,
	}
}

func (m *memStore) PageByProviderID(_ context.Context, id string) (*domain.Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.pages[id]; ok {
		return p, nil
	}
	return nil, domain.ErrNotFound
}

func (m *memStore) BusinessByID(_ context.Context, id int64) (*domain.Business, error) {
	if m.business != nil && m.business.ID == id {
		return m.business, nil
	}
	return nil, domain.ErrNotFound
}

func (m *memStore) CustomerBySender(_ context.Context, _ int64, senderID string) (*domain.Customer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.customers[senderID]; ok {
		return c, nil
	}
	return nil, domain.ErrNotFound
}

func (m *memStore) CreateCustomer(_ context.Context, c *domain.Customer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.customers[c.SenderID]; ok {
		return domain.ErrDuplicate
	}
	m.nextID++
	c.ID = m.nextID
	m.customers[c.SenderID] = c
	return nil
}

func (m *memStore) HasInbound(_ context.Context, customerID int64, mid string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inbound[fmt.Sprintf("%d/%s", customerID, mid)], nil
}

func (m *memStore) SaveInbound(_ context.Context, msg *domain.InboundMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveCalls++
	key := fmt.Sprintf("%d/%s", msg.CustomerID, msg.ProviderMessageID)
	if m.inbound[key] {
		return domain.ErrDuplicate
	}
	m.inbound[key] = true
	return nil
}

func (m *memStore) SaveOutbound(context.Context, *domain.OutboundMessage) error { return nil }

func (m *memStore) History(context.Context, int64, int) ([]domain.ConversationTurn, error) {
	return nil, nil
}

func (m *memStore) ProductsByBusiness(context.Context, int64) ([]domain.Product, error) {
	return nil, nil
}

func (m *memStore) SaveOrder(context.Context, *domain.Order) error { return nil }

func (m *memStore) OrdersByCustomer(context.Context, int64) ([]domain.Order, error) {
	return nil, nil
}

func (m *memStore) PendingOrderTotal(context.Context, int64) (int64, error) { return 0, nil }

func (m *memStore) inboundCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.inbound)
}

func (m *memStore) saveInboundCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveCalls
}

type stubConnector struct {
	profileErr error
}

func (s *stubConnector) Kind() string { return domain.PageKindMessenger }

func (s *stubConnector) SendText(context.Context, domain.Page, string, string) (*domain.Receipt, error) {
	return &domain.Receipt{}, nil
}

func (s *stubConnector) SendImage(context.Context, domain.Page, string, string) (*domain.Receipt, error) {
	return &domain.Receipt{}, nil
}

func (s *stubConnector) SendPaymentLink(context.Context, domain.Page, string, string, string) (*domain.Receipt, error) {
	return &domain.Receipt{}, nil
}

func (s *stubConnector) FetchProfile(context.Context, domain.Page, string) (*domain.Profile, error) {
	if s.profileErr != nil {
		return nil, s.profileErr
	}
	return &domain.Profile{FirstName: "Ada", LastName: "L"}, nil
}

type stubResolver struct{ conn *stubConnector }

func (s *stubResolver) ForKind(string) (domain.Connector, error) { return s.conn, nil }

type stubRouter struct {
	mu        sync.Mutex
	decisions []domain.RoutingDecision
	err       error
	delay     time.Duration
	inputs    []router.Input
}

func (s *stubRouter) Route(_ context.Context, in router.Input) ([]domain.RoutingDecision, error) {
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	s.mu.Lock()
	s.inputs = append(s.inputs, in)
	s.mu.Unlock()
	return s.decisions, s.err
}

func (s *stubRouter) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inputs)
}

type stubDispatcher struct {
	mu    sync.Mutex
	tasks []domain.DispatchTask
}

func (s *stubDispatcher) Submit(task domain.DispatchTask) {
	s.mu.Lock()
	s.tasks = append(s.tasks, task)
	s.mu.Unlock()
}

func (s *stubDispatcher) snapshot() []domain.DispatchTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.DispatchTask(nil), s.tasks...)
}

type controllerFixture struct {
	controller *Controller
	store      *memStore
	router     *stubRouter
	dispatcher *stubDispatcher
	mux        *http.ServeMux
}

func newFixture(mutate func(cfg *ControllerConfig)) *controllerFixture {
	store := newMemStore()
	rt := &stubRouter{decisions: []domain.RoutingDecision{
		{Capability: domain.CapabilityGeneral, Fragment: "hi", Reason: "greeting"},
	}}
	disp := &stubDispatcher{}
	cfg := ControllerConfig{
		Store:       store,
		Resolver:    &stubResolver{conn: &stubConnector{}},
		Router:      rt,
		Dispatcher:  disp,
		Debouncer:   NewDebouncer(0),
		VerifyToken: "verify-me",
		Logger:      testLogger(),
	}
	if mutate != nil {
		mutate(&cfg)
		if sr, ok := cfg.Router.(*stubRouter); ok {
			rt = sr
		}
	}
	f := &controllerFixture{
		controller: NewController(cfg),
		store:      store,
		router:     rt,
		dispatcher: disp,
		mux:        http.NewServeMux(),
	}
	f.controller.Register(f.mux, "/webhook")
	return f
}

func eventBody(mid, text string) string {
	return fmt.Sprintf(`{
		"object": "page",
		"entry": [{
			"id": "page-1",
			"messaging": [{
				"sender": {"id": "sender-1"},
				"message": {"mid": %q, "text": %q}
			}]
		}]
	}`, mid, text)
}

func (f *controllerFixture) post(t *testing.T, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	w := httptest.NewRecorder()
	f.mux.ServeHTTP(w, req)
	return w
}

func TestVerifyHandshake(t *testing.T) {
	f := newFixture(nil)

	req := httptest.NewRequest(http.MethodGet,
		"/webhook?hub.mode=subscribe&hub.verify_token=verify-me&hub.challenge=12345", nil)
	w := httptest.NewRecorder()
	f.mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	body, _ := io.ReadAll(w.Body)
	if string(body) != "12345" {
		t.Errorf("challenge echo = %q", body)
	}
}

func TestVerifyRejectsBadToken(t *testing.T) {
	f := newFixture(nil)

	req := httptest.NewRequest(http.MethodGet,
		"/webhook?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=12345", nil)
	w := httptest.NewRecorder()
	f.mux.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", w.Code)
	}
}

func TestEventAckAndDispatch(t *testing.T) {
	f := newFixture(nil)

	w := f.post(t, eventBody("mid-1", "hello"))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	body, _ := io.ReadAll(w.Body)
	if string(body) != "EVENT_RECEIVED" {
		t.Errorf("ack = %q", body)
	}

	if f.store.inboundCount() != 1 {
		t.Errorf("inbound rows = %d, want 1", f.store.inboundCount())
	}
	waitFor(t, func() bool { return len(f.dispatcher.snapshot()) == 1 })
	task := f.dispatcher.snapshot()[0]
	if task.Business.Name != "Acme Shoes" || task.Customer.SenderID != "sender-1" {
		t.Errorf("task = %+v", task)
	}
}

func TestEventIdempotence(t *testing.T) {
	f := newFixture(nil)

	f.post(t, eventBody("mid-1", "hello"))
	f.post(t, eventBody("mid-1", "hello")) // platform redelivery

	if f.store.inboundCount() != 1 {
		t.Errorf("inbound rows = %d, want 1", f.store.inboundCount())
	}
	// The redelivery is dropped before routing, so exactly one pass runs.
	waitFor(t, func() bool { return f.router.calls() == 1 })
	waitFor(t, func() bool { return len(f.dispatcher.snapshot()) == 1 })
}

func TestRedeliveryIsDroppedBeforePersist(t *testing.T) {
	f := newFixture(nil)

	f.post(t, eventBody("mid-1", "hello"))
	f.post(t, eventBody("mid-1", "hello"))

	// The second delivery is caught by the dedup read; the store never
	// sees a second insert attempt.
	if got := f.store.saveInboundCalls(); got != 1 {
		t.Errorf("SaveInbound called %d times, want 1", got)
	}
}

func TestUnknownPageDropsSilently(t *testing.T) {
	f := newFixture(nil)

	body := strings.Replace(eventBody("mid-1", "hello"), "page-1", "page-unknown", 1)
	w := f.post(t, body)
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 even for unknown page", w.Code)
	}
	if f.store.inboundCount() != 0 {
		t.Errorf("inbound rows = %d, want 0", f.store.inboundCount())
	}
	if len(f.dispatcher.snapshot()) != 0 {
		t.Errorf("dispatched for unknown page")
	}
}

func TestNonPageObjectRejected(t *testing.T) {
	f := newFixture(nil)

	w := f.post(t, `{"object": "instagram", "entry": []}`)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestMultiIntentFansOutToAllCapabilities(t *testing.T) {
	f := newFixture(func(cfg *ControllerConfig) {
		cfg.Router = &stubRouter{decisions: []domain.RoutingDecision{
			{Capability: domain.CapabilityProductSuggestion, Fragment: "show me boots", Reason: "discovery"},
			{Capability: domain.CapabilityPayment, Fragment: "how do I pay?", Reason: "payment"},
		}}
	})

	f.post(t, eventBody("mid-1", "show me boots, and how do I pay?"))

	waitFor(t, func() bool { return len(f.dispatcher.snapshot()) == 2 })
	tasks := f.dispatcher.snapshot()
	if tasks[0].Decision.Capability != domain.CapabilityProductSuggestion ||
		tasks[1].Decision.Capability != domain.CapabilityPayment {
		t.Errorf("capabilities = %s, %s", tasks[0].Decision.Capability, tasks[1].Decision.Capability)
	}
}

func TestRoutingFailureDispatchesNothing(t *testing.T) {
	f := newFixture(func(cfg *ControllerConfig) {
		cfg.Router = &stubRouter{err: fmt.Errorf("%w: junk output", domain.ErrContractViolation)}
	})

	w := f.post(t, eventBody("mid-1", "hello"))
	if w.Code != http.StatusOK {
		t.Errorf("status = %d; routing failures must not fail the ack", w.Code)
	}
	// The message is persisted, so redelivery will not re-route it either.
	if f.store.inboundCount() != 1 {
		t.Errorf("inbound rows = %d, want 1", f.store.inboundCount())
	}
	waitFor(t, func() bool { return f.router.calls() == 1 })
	if len(f.dispatcher.snapshot()) != 0 {
		t.Errorf("dispatched despite routing failure")
	}
}

func TestSlowRoutingDoesNotDelayAck(t *testing.T) {
	const routerDelay = 500 * time.Millisecond
	f := newFixture(func(cfg *ControllerConfig) {
		cfg.Router = &stubRouter{
			delay: routerDelay,
			decisions: []domain.RoutingDecision{
				{Capability: domain.CapabilityGeneral, Fragment: "hi", Reason: "greeting"},
			},
		}
	})

	// A real server is needed here: a recorder cannot observe when the
	// response is actually flushed to the client.
	srv := httptest.NewServer(f.mux)
	defer srv.Close()

	start := time.Now()
	resp, err := http.Post(srv.URL+"/webhook", "application/json",
		strings.NewReader(eventBody("mid-1", "hello")))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	elapsed := time.Since(start)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK || string(body) != "EVENT_RECEIVED" {
		t.Fatalf("ack = %d %q", resp.StatusCode, body)
	}
	if elapsed >= routerDelay {
		t.Errorf("ack took %v, blocked on routing (router delay %v)", elapsed, routerDelay)
	}

	waitFor(t, func() bool { return f.router.calls() == 1 })
	waitFor(t, func() bool { return len(f.dispatcher.snapshot()) == 1 })
}

func TestProfileFetchFailureSkipsPersist(t *testing.T) {
	f := newFixture(func(cfg *ControllerConfig) {
		cfg.Resolver = &stubResolver{conn: &stubConnector{profileErr: errors.New("graph api down")}}
	})

	w := f.post(t, eventBody("mid-1", "hello"))
	if w.Code != http.StatusOK {
		t.Errorf("status = %d", w.Code)
	}
	if f.store.inboundCount() != 0 {
		t.Errorf("inbound persisted without a customer")
	}
}

func TestFirstContactRegistersCustomerWithProfile(t *testing.T) {
	f := newFixture(nil)

	f.post(t, eventBody("mid-1", "hello"))

	c, err := f.store.CustomerBySender(context.Background(), 1, "sender-1")
	if err != nil {
		t.Fatalf("customer not registered: %v", err)
	}
	if c.FirstName != "Ada" {
		t.Errorf("profile not applied: %+v", c)
	}
}

func TestEchoAndEmptyEventsSkipped(t *testing.T) {
	f := newFixture(nil)

	body := `{
		"object": "page",
		"entry": [{
			"id": "page-1",
			"messaging": [
				{"sender": {"id": "sender-1"}, "message": {"mid": "mid-1", "text": "reply", "is_echo": true}},
				{"sender": {"id": "sender-1"}, "message": {"mid": "", "text": "no mid"}},
				{"sender": {"id": "sender-1"}, "message": {"mid": "mid-2", "text": ""}}
			]
		}]
	}`
	f.post(t, body)

	if f.store.inboundCount() != 0 {
		t.Errorf("inbound rows = %d, want 0", f.store.inboundCount())
	}
}

func TestSignatureValidation(t *testing.T) {
	f := newFixture(func(cfg *ControllerConfig) {
		cfg.AppSecret = "app-secret"
	})

	body := eventBody("mid-1", "hello")

	t.Run("missing signature", func(t *testing.T) {
		w := f.post(t, body)
		if w.Code != http.StatusForbidden {
			t.Errorf("status = %d, want 403", w.Code)
		}
	})

	t.Run("valid signature", func(t *testing.T) {
		mac := hmac.New(sha256.New, []byte("app-secret"))
		mac.Write([]byte(body))
		sig := "sha256=" + hex.EncodeToString(mac.Sum(nil))

		req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
		req.Header.Set("X-Hub-Signature-256", sig)
		w := httptest.NewRecorder()
		f.mux.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Errorf("status = %d, want 200", w.Code)
		}
	})
}
