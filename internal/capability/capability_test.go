package capability

import (
	"context"
	"log/slog"
	"os"

	"shopbot/internal/domain"
	"shopbot/internal/payment"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeProvider struct {
	response string
	err      error
}

func (f *fakeProvider) Complete(context.Context, domain.CompletionRequest) (string, error) {
	return f.response, f.err
}

func (f *fakeProvider) Name() string { return "fake" }

type sentItem struct {
	kind    domain.PayloadKind
	payload string
}

type fakeSender struct {
	sent    []sentItem
	textErr error
}

func (f *fakeSender) SendText(_ context.Context, _, _, text string) error {
	if f.textErr != nil {
		return f.textErr
	}
	f.sent = append(f.sent, sentItem{domain.KindText, text})
	return nil
}

func (f *fakeSender) SendAttachment(_ context.Context, _, _, url string) error {
	f.sent = append(f.sent, sentItem{domain.KindImage, url})
	return nil
}

func (f *fakeSender) SendPaymentLink(_ context.Context, _, _, _, url string) error {
	f.sent = append(f.sent, sentItem{domain.KindPaymentLink, url})
	return nil
}

type fakeCatalog struct {
	products []domain.Product
}

func (f *fakeCatalog) ProductsByBusiness(context.Context, int64) ([]domain.Product, error) {
	return f.products, nil
}

type fakeOrders struct {
	saved   []*domain.Order
	pending int64
}

func (f *fakeOrders) SaveOrder(_ context.Context, o *domain.Order) error {
	f.saved = append(f.saved, o)
	return nil
}

func (f *fakeOrders) OrdersByCustomer(context.Context, int64) ([]domain.Order, error) {
	return nil, nil
}

func (f *fakeOrders) PendingOrderTotal(context.Context, int64) (int64, error) {
	return f.pending, nil
}

type fakeLinks struct {
	configured bool
	url        string
	requests   []payment.LinkRequest
}

func (f *fakeLinks) Configured() bool { return f.configured }

func (f *fakeLinks) Create(_ context.Context, req payment.LinkRequest) (string, error) {
	f.requests = append(f.requests, req)
	return f.url, nil
}

func testTask() domain.DispatchTask {
	return domain.DispatchTask{
		Decision: domain.RoutingDecision{Capability: "general", Fragment: "hi", Reason: "greeting"},
		Page:     domain.Page{ID: 1, ProviderID: "page-1", Kind: domain.PageKindMessenger},
		Business: domain.Business{ID: 1, Name: "Acme Shoes", Currency: "USD", PaymentLink: "https://static.example/pay"},
		Customer: domain.Customer{ID: 7, SenderID: "sender-1", FirstName: "Ada"},
	}
}

func bootCatalog() []domain.Product {
	return []domain.Product{
		{ID: "sku-1", BusinessID: 1, Name: "Trail Boot", PriceCents: 12900, Stock: 3, Sizes: []string{"41", "42"}, ImageURL: "https://img.example/boot.jpg"},
		{ID: "sku-2", BusinessID: 1, Name: "Canvas Tote", PriceCents: 3900, Stock: 10},
	}
}
