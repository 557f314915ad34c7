// Package ingest receives platform webhooks, persists inbound messages
// exactly once, and hands them to the router.
package ingest

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"shopbot/internal/domain"
	"shopbot/internal/metrics"
	"shopbot/internal/router"
)

const historyLimit = 30

// MessageRouter is the routing decision function the controller invokes
// once per coalesced message.
type MessageRouter interface {
	Route(ctx context.Context, in router.Input) ([]domain.RoutingDecision, error)
}

// Controller terminates the Meta webhook: the GET verification handshake
// and the POST event feed. Events are acknowledged immediately; routing and
// dispatch happen after the ack on background goroutines.
type Controller struct {
	store        domain.Store
	resolver     domain.ConnectorResolver
	router       MessageRouter
	dispatcher   domain.Dispatcher
	debouncer    *Debouncer
	verifyToken  string
	appSecret    string
	routeTimeout time.Duration
	logger       *slog.Logger
}

type ControllerConfig struct {
	Store        domain.Store
	Resolver     domain.ConnectorResolver
	Router       MessageRouter
	Dispatcher   domain.Dispatcher
	Debouncer    *Debouncer
	VerifyToken  string
	AppSecret    string
	RouteTimeout time.Duration
	Logger       *slog.Logger
}

func NewController(cfg ControllerConfig) *Controller {
	if cfg.RouteTimeout <= 0 {
		cfg.RouteTimeout = 60 * time.Second
	}
	return &Controller{
		store:        cfg.Store,
		resolver:     cfg.Resolver,
		router:       cfg.Router,
		dispatcher:   cfg.Dispatcher,
		debouncer:    cfg.Debouncer,
		verifyToken:  cfg.VerifyToken,
		appSecret:    cfg.AppSecret,
		routeTimeout: cfg.RouteTimeout,
		logger:       cfg.Logger,
	}
}

// Register mounts the webhook handlers on mux at path.
func (c *Controller) Register(mux *http.ServeMux, path string) {
	mux.HandleFunc("GET "+path, c.handleVerify)
	mux.HandleFunc("POST "+path, c.handleEvents)
}

// handleVerify answers the subscription handshake: echo the challenge when
// the token matches, 403 otherwise.
func (c *Controller) handleVerify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mode := q.Get("hub.mode")
	token := q.Get("hub.verify_token")
	challenge := q.Get("hub.challenge")

	if mode == "subscribe" && token == c.verifyToken && c.verifyToken != "" {
		c.logger.Info("webhook verified")
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, challenge)
		return
	}
	c.logger.Warn("webhook verification rejected", "mode", mode)
	w.WriteHeader(http.StatusForbidden)
}

// webhookPayload mirrors the Meta page-messaging event shape. Fields the
// engine does not consume are left out; unknown event kinds decode to a
// zero message and are skipped.
type webhookPayload struct {
	Object string `json:"object"`
	Entry  []struct {
		ID        string `json:"id"`
		Messaging []struct {
			Sender struct {
				ID string `json:"id"`
			} `json:"sender"`
			Message struct {
				MID    string `json:"mid"`
				Text   string `json:"text"`
				IsEcho bool   `json:"is_echo"`
			} `json:"message"`
		} `json:"messaging"`
	} `json:"entry"`
}

func (c *Controller) handleEvents(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if c.appSecret != "" && !c.validSignature(r.Header.Get("X-Hub-Signature-256"), body) {
		c.logger.Warn("webhook signature mismatch")
		w.WriteHeader(http.StatusForbidden)
		return
	}

	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if payload.Object != "page" {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	// Ack before processing: the platform redelivers on slow responses and
	// dedup already guards against the redelivery.
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, "EVENT_RECEIVED")

	for _, entry := range payload.Entry {
		for _, ev := range entry.Messaging {
			if ev.Message.IsEcho || ev.Message.MID == "" || ev.Message.Text == "" {
				continue
			}
			c.handleMessage(r.Context(), entry.ID, ev.Sender.ID, ev.Message.MID, ev.Message.Text)
		}
	}
}

func (c *Controller) validSignature(header string, body []byte) bool {
	const prefix = "sha256="
	if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
		return false
	}
	mac := hmac.New(sha256.New, []byte(c.appSecret))
	mac.Write(body)
	want := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(want), []byte(header[len(prefix):]))
}

// handleMessage persists one inbound message and queues it for routing.
// Unknown pages and duplicate deliveries drop silently; both are normal
// operation, not errors.
func (c *Controller) handleMessage(ctx context.Context, pageProviderID, senderID, mid, text string) {
	metrics.Collector.Inc("messages_received_total")

	page, err := c.store.PageByProviderID(ctx, pageProviderID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			c.logger.Debug("message for unknown page dropped", "page", pageProviderID)
			metrics.Collector.Inc("messages_unknown_page_total")
		} else {
			c.logger.Error("page lookup failed", "page", pageProviderID, "error", err)
		}
		return
	}

	customer, err := c.resolveCustomer(ctx, page, senderID)
	if err != nil {
		c.logger.Error("customer resolution failed", "page", pageProviderID, "sender", senderID, "error", err)
		return
	}

	seen, err := c.store.HasInbound(ctx, customer.ID, mid)
	if err != nil {
		// The unique index behind SaveInbound still guards the insert.
		c.logger.Error("inbound dedup check failed", "mid", mid, "error", err)
	} else if seen {
		c.logger.Debug("duplicate delivery dropped", "mid", mid)
		metrics.Collector.Inc("messages_deduplicated_total")
		return
	}

	err = c.store.SaveInbound(ctx, &domain.InboundMessage{
		PageID:            page.ID,
		CustomerID:        customer.ID,
		ProviderMessageID: mid,
		Text:              text,
		ReceivedAt:        time.Now().UTC(),
	})
	if err != nil {
		if errors.Is(err, domain.ErrDuplicate) {
			c.logger.Debug("duplicate delivery dropped", "mid", mid)
			metrics.Collector.Inc("messages_deduplicated_total")
		} else {
			c.logger.Error("inbound persist failed", "mid", mid, "error", err)
		}
		return
	}

	// Routing must never hold the webhook response open: the ack only
	// reaches the platform once this handler returns, and the router call
	// can take the whole routeTimeout.
	p, cust := *page, *customer
	c.debouncer.Add(customer.ID, text, func(joined string) {
		go c.route(p, cust, joined)
	})
}

// resolveCustomer returns the existing customer or registers a new one,
// fetching the platform profile on first contact. A lost race on create is
// resolved by re-reading.
func (c *Controller) resolveCustomer(ctx context.Context, page *domain.Page, senderID string) (*domain.Customer, error) {
	customer, err := c.store.CustomerBySender(ctx, page.ID, senderID)
	if err == nil {
		return customer, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	conn, err := c.resolver.ForKind(page.Kind)
	if err != nil {
		return nil, err
	}
	profile, err := conn.FetchProfile(ctx, *page, senderID)
	if err != nil {
		return nil, fmt.Errorf("profile fetch: %w", err)
	}

	customer = &domain.Customer{
		PageID:    page.ID,
		SenderID:  senderID,
		FirstName: profile.FirstName,
		LastName:  profile.LastName,
		CreatedAt: time.Now().UTC(),
	}
	if err := c.store.CreateCustomer(ctx, customer); err != nil {
		if errors.Is(err, domain.ErrDuplicate) {
			return c.store.CustomerBySender(ctx, page.ID, senderID)
		}
		return nil, err
	}
	c.logger.Info("customer registered", "page", page.ProviderID, "sender", senderID)
	return customer, nil
}

// route loads the routing context, invokes the router and fans the
// decisions out. Runs on its own goroutine, detached from the webhook
// request.
func (c *Controller) route(page domain.Page, customer domain.Customer, text string) {
	ctx, cancel := context.WithTimeout(context.Background(), c.routeTimeout)
	defer cancel()

	var (
		history  []domain.ConversationTurn
		business *domain.Business
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		history, err = c.store.History(gctx, customer.ID, historyLimit)
		return err
	})
	g.Go(func() error {
		var err error
		business, err = c.store.BusinessByID(gctx, page.BusinessID)
		return err
	})
	if err := g.Wait(); err != nil {
		c.logger.Error("routing context load failed", "customer", customer.ID, "error", err)
		return
	}

	decisions, err := c.router.Route(ctx, router.Input{
		Business: *business,
		History:  history,
		Message:  text,
	})
	if err != nil {
		// Contract violations land here: the message stays persisted but no
		// capability runs and nothing is sent.
		c.logger.Error("routing failed", "customer", customer.ID, "error", err)
		metrics.Collector.Inc("routing_failures_total")
		return
	}

	for _, d := range decisions {
		c.dispatcher.Submit(domain.DispatchTask{
			Decision: d,
			Page:     page,
			Business: *business,
			Customer: customer,
			History:  history,
		})
	}
}
