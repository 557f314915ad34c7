// Package ops exposes the operator HTTP API: read access to conversations,
// catalog and orders, plus manual message sending for human takeover.
package ops

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"shopbot/internal/domain"
	"shopbot/internal/metrics"
	"shopbot/internal/payment"
)

// Store is the persistence surface the ops API reads and writes.
type Store interface {
	PageByProviderID(ctx context.Context, providerID string) (*domain.Page, error)
	BusinessByID(ctx context.Context, id int64) (*domain.Business, error)
	ProductsByBusiness(ctx context.Context, businessID int64) ([]domain.Product, error)
	CustomerByID(ctx context.Context, id int64) (*domain.Customer, error)
	CustomerBySender(ctx context.Context, pageID int64, senderID string) (*domain.Customer, error)
	CreateCustomer(ctx context.Context, c *domain.Customer) error
	History(ctx context.Context, customerID int64, limit int) ([]domain.ConversationTurn, error)
	OrderByID(ctx context.Context, id string) (*domain.Order, error)
	OrdersByCustomer(ctx context.Context, customerID int64) ([]domain.Order, error)
	PendingOrderTotal(ctx context.Context, customerID int64) (int64, error)
}

// Sender sends operator-composed messages through the normal delivery path,
// so manual replies land in the conversation history like any other.
type Sender interface {
	SendText(ctx context.Context, pageProviderID, senderID, text string) error
	SendAttachment(ctx context.Context, pageProviderID, senderID, imageURL string) error
	SendPaymentLink(ctx context.Context, pageProviderID, senderID, title, linkURL string) error
}

// Links generates checkout links for a customer's pending order total.
type Links interface {
	Configured() bool
	Create(ctx context.Context, req payment.LinkRequest) (string, error)
}

type API struct {
	store  Store
	sender Sender
	links  Links
	logger *slog.Logger
}

func NewAPI(store Store, sender Sender, links Links, logger *slog.Logger) *API {
	return &API{store: store, sender: sender, links: links, logger: logger}
}

// Register mounts every operator route on mux.
func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /chat/history/{id}", a.chatHistory)
	mux.HandleFunc("POST /message/{id}/{pageID}", a.sendMessage)
	mux.HandleFunc("POST /send/product/{id}/{pageID}", a.sendProduct)
	mux.HandleFunc("GET /paymentlink/{id}/{pageID}", a.paymentLink)
	mux.HandleFunc("GET /business/{pageID}", a.business)
	mux.HandleFunc("GET /product/{pageID}", a.products)
	mux.HandleFunc("GET /order/{id}", a.order)
	mux.HandleFunc("GET /orders/customer/{id}", a.customerOrders)
	mux.HandleFunc("GET /details/customer/{id}", a.customerDetails)
	mux.HandleFunc("POST /customer/add/{id}/{pageID}", a.addCustomer)
	mux.Handle("GET /metrics", metrics.Collector)
}

func (a *API) chatHistory(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		a.writeError(w, http.StatusBadRequest, "invalid customer id")
		return
	}
	turns, err := a.store.History(r.Context(), id, 200)
	if err != nil {
		a.storeError(w, err)
		return
	}
	type turn struct {
		Direction string    `json:"direction"`
		Text      string    `json:"text"`
		At        time.Time `json:"at"`
	}
	out := make([]turn, 0, len(turns))
	for _, t := range turns {
		out = append(out, turn{Direction: string(t.Direction), Text: t.Text, At: t.At})
	}
	a.writeJSON(w, http.StatusOK, out)
}

func (a *API) sendMessage(w http.ResponseWriter, r *http.Request) {
	senderID := r.PathValue("id")
	pageID := r.PathValue("pageID")

	var body struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Message == "" {
		a.writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	if err := a.sender.SendText(r.Context(), pageID, senderID, body.Message); err != nil {
		if errors.Is(err, domain.ErrNotSendable) {
			a.writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		a.logger.Error("operator send failed", "page", pageID, "sender", senderID, "error", err)
		a.writeError(w, http.StatusBadGateway, "delivery failed")
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]string{"status": "sent"})
}

// sendProduct pushes an automation-composed product presentation to a
// customer: image and caption per product, an optional closing message,
// and an optional payment link. Individual send failures are logged and
// do not stop the remaining sends.
func (a *API) sendProduct(w http.ResponseWriter, r *http.Request) {
	senderID := r.PathValue("id")
	pageID := r.PathValue("pageID")

	var body struct {
		Products []struct {
			ImageURL string `json:"image_url"`
			Caption  string `json:"caption"`
		} `json:"products"`
		Message     string `json:"message"`
		PaymentLink string `json:"payment_link"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		a.writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if len(body.Products) == 0 && body.Message == "" && body.PaymentLink == "" {
		a.writeError(w, http.StatusBadRequest, "nothing to send")
		return
	}

	send := func(what string, err error) bool {
		if err == nil {
			return true
		}
		if errors.Is(err, domain.ErrNotSendable) {
			a.writeError(w, http.StatusUnprocessableEntity, err.Error())
			return false
		}
		a.logger.Error("operator product send failed", "part", what, "page", pageID, "sender", senderID, "error", err)
		return true
	}

	for _, p := range body.Products {
		if p.ImageURL != "" {
			if !send("image", a.sender.SendAttachment(r.Context(), pageID, senderID, p.ImageURL)) {
				return
			}
		}
		if p.Caption != "" {
			if !send("caption", a.sender.SendText(r.Context(), pageID, senderID, p.Caption)) {
				return
			}
		}
	}
	if body.Message != "" {
		if !send("message", a.sender.SendText(r.Context(), pageID, senderID, body.Message)) {
			return
		}
	}
	if body.PaymentLink != "" {
		if !send("payment link", a.sender.SendPaymentLink(r.Context(), pageID, senderID, "Complete your payment", body.PaymentLink)) {
			return
		}
	}
	a.writeJSON(w, http.StatusOK, map[string]string{"status": "sent"})
}

// paymentLink returns a link the customer can pay with: a generated
// checkout link for their pending order total when the payment provider
// is configured, the business's static link otherwise.
func (a *API) paymentLink(w http.ResponseWriter, r *http.Request) {
	page, err := a.store.PageByProviderID(r.Context(), r.PathValue("pageID"))
	if err != nil {
		a.storeError(w, err)
		return
	}
	business, err := a.store.BusinessByID(r.Context(), page.BusinessID)
	if err != nil {
		a.storeError(w, err)
		return
	}
	customer, err := a.store.CustomerBySender(r.Context(), page.ID, r.PathValue("id"))
	if err != nil {
		a.storeError(w, err)
		return
	}

	var linkURL string
	if a.links != nil && a.links.Configured() {
		total, err := a.store.PendingOrderTotal(r.Context(), customer.ID)
		if err != nil {
			a.storeError(w, err)
			return
		}
		if total > 0 {
			linkURL, err = a.links.Create(r.Context(), payment.LinkRequest{
				AmountCents: total,
				Currency:    business.Currency,
				Description: business.Name + " order",
			})
			if err != nil {
				a.logger.Error("payment link creation failed", "customer", customer.ID, "error", err)
				a.writeError(w, http.StatusBadGateway, "payment provider failed")
				return
			}
		}
	}
	if linkURL == "" {
		linkURL = business.PaymentLink
	}
	if linkURL == "" {
		a.writeError(w, http.StatusNotFound, "no payment link available")
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]string{"url": linkURL})
}

func (a *API) business(w http.ResponseWriter, r *http.Request) {
	page, err := a.store.PageByProviderID(r.Context(), r.PathValue("pageID"))
	if err != nil {
		a.storeError(w, err)
		return
	}
	b, err := a.store.BusinessByID(r.Context(), page.BusinessID)
	if err != nil {
		a.storeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{
		"id":           b.ID,
		"name":         b.Name,
		"about":        b.About,
		"currency":     b.Currency,
		"payment_link": b.PaymentLink,
	})
}

func (a *API) products(w http.ResponseWriter, r *http.Request) {
	page, err := a.store.PageByProviderID(r.Context(), r.PathValue("pageID"))
	if err != nil {
		a.storeError(w, err)
		return
	}
	products, err := a.store.ProductsByBusiness(r.Context(), page.BusinessID)
	if err != nil {
		a.storeError(w, err)
		return
	}
	type product struct {
		ID          string   `json:"id"`
		Name        string   `json:"name"`
		Description string   `json:"description"`
		PriceCents  int64    `json:"price_cents"`
		Stock       int      `json:"stock"`
		Sizes       []string `json:"sizes,omitempty"`
		ImageURL    string   `json:"image_url,omitempty"`
	}
	out := make([]product, 0, len(products))
	for _, p := range products {
		out = append(out, product{
			ID: p.ID, Name: p.Name, Description: p.Description,
			PriceCents: p.PriceCents, Stock: p.Stock, Sizes: p.Sizes, ImageURL: p.ImageURL,
		})
	}
	a.writeJSON(w, http.StatusOK, out)
}

func (a *API) order(w http.ResponseWriter, r *http.Request) {
	o, err := a.store.OrderByID(r.Context(), r.PathValue("id"))
	if err != nil {
		a.storeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, orderJSON(*o))
}

func (a *API) customerOrders(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		a.writeError(w, http.StatusBadRequest, "invalid customer id")
		return
	}
	orders, err := a.store.OrdersByCustomer(r.Context(), id)
	if err != nil {
		a.storeError(w, err)
		return
	}
	out := make([]map[string]any, 0, len(orders))
	for _, o := range orders {
		out = append(out, orderJSON(o))
	}
	a.writeJSON(w, http.StatusOK, out)
}

func orderJSON(o domain.Order) map[string]any {
	lines := make([]map[string]any, 0, len(o.Lines))
	for _, l := range o.Lines {
		lines = append(lines, map[string]any{
			"product_id":  l.ProductID,
			"name":        l.Name,
			"quantity":    l.Quantity,
			"size":        l.Size,
			"price_cents": l.PriceCents,
		})
	}
	return map[string]any{
		"id":          o.ID,
		"customer_id": o.CustomerID,
		"business_id": o.BusinessID,
		"status":      o.Status,
		"total_cents": o.TotalCents,
		"created_at":  o.CreatedAt,
		"lines":       lines,
	}
}

func (a *API) customerDetails(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		a.writeError(w, http.StatusBadRequest, "invalid customer id")
		return
	}
	c, err := a.store.CustomerByID(r.Context(), id)
	if err != nil {
		a.storeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{
		"id":         c.ID,
		"page_id":    c.PageID,
		"sender_id":  c.SenderID,
		"first_name": c.FirstName,
		"last_name":  c.LastName,
		"created_at": c.CreatedAt,
	})
}

func (a *API) addCustomer(w http.ResponseWriter, r *http.Request) {
	senderID := r.PathValue("id")
	page, err := a.store.PageByProviderID(r.Context(), r.PathValue("pageID"))
	if err != nil {
		a.storeError(w, err)
		return
	}

	var body struct {
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		a.writeError(w, http.StatusBadRequest, "invalid body")
		return
	}

	if existing, err := a.store.CustomerBySender(r.Context(), page.ID, senderID); err == nil {
		a.writeJSON(w, http.StatusOK, map[string]any{"id": existing.ID, "created": false})
		return
	} else if !errors.Is(err, domain.ErrNotFound) {
		a.storeError(w, err)
		return
	}

	c := &domain.Customer{
		PageID:    page.ID,
		SenderID:  senderID,
		FirstName: body.FirstName,
		LastName:  body.LastName,
		CreatedAt: time.Now().UTC(),
	}
	if err := a.store.CreateCustomer(r.Context(), c); err != nil {
		a.storeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusCreated, map[string]any{"id": c.ID, "created": true})
}

func (a *API) storeError(w http.ResponseWriter, err error) {
	if errors.Is(err, domain.ErrNotFound) {
		a.writeError(w, http.StatusNotFound, "not found")
		return
	}
	a.logger.Error("ops store query failed", "error", err)
	a.writeError(w, http.StatusInternalServerError, "internal error")
}

func (a *API) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Error("ops response encode failed", "error", err)
	}
}

func (a *API) writeError(w http.ResponseWriter, status int, msg string) {
	a.writeJSON(w, status, map[string]string{"error": msg})
}
