package store

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"shopbot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"), testLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// seedCustomer creates a business, a page and a customer; returns the customer.
func seedCustomer(t *testing.T, s *SQLiteStore) (*domain.Page, *domain.Customer) {
	t.Helper()
	ctx := context.Background()

	b := &domain.Business{Name: "Acme Shoes", Currency: "USD"}
	if err := s.CreateBusiness(ctx, b); err != nil {
		t.Fatalf("create business: %v", err)
	}
	p := &domain.Page{ProviderID: "page-1", Kind: domain.PageKindMessenger, AccessToken: "tok", BusinessID: b.ID}
	if err := s.CreatePage(ctx, p); err != nil {
		t.Fatalf("create page: %v", err)
	}
	c := &domain.Customer{PageID: p.ID, SenderID: "sender-1", FirstName: "Ada"}
	if err := s.CreateCustomer(ctx, c); err != nil {
		t.Fatalf("create customer: %v", err)
	}
	return p, c
}

func TestPageLookup(t *testing.T) {
	s := newTestStore(t)
	page, _ := seedCustomer(t, s)
	ctx := context.Background()

	got, err := s.PageByProviderID(ctx, "page-1")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if got.ID != page.ID || got.AccessToken != "tok" {
		t.Errorf("got %+v, want id=%d token=tok", got, page.ID)
	}

	if _, err := s.PageByProviderID(ctx, "nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("unknown page: got %v, want ErrNotFound", err)
	}
}

func TestCreateCustomerDuplicate(t *testing.T) {
	s := newTestStore(t)
	page, _ := seedCustomer(t, s)
	ctx := context.Background()

	dup := &domain.Customer{PageID: page.ID, SenderID: "sender-1"}
	if err := s.CreateCustomer(ctx, dup); !errors.Is(err, domain.ErrDuplicate) {
		t.Errorf("duplicate create: got %v, want ErrDuplicate", err)
	}
}

func TestSaveInboundDedup(t *testing.T) {
	s := newTestStore(t)
	page, customer := seedCustomer(t, s)
	ctx := context.Background()

	m := &domain.InboundMessage{PageID: page.ID, CustomerID: customer.ID, ProviderMessageID: "mid-1", Text: "hi"}
	if err := s.SaveInbound(ctx, m); err != nil {
		t.Fatalf("first save: %v", err)
	}

	redelivery := &domain.InboundMessage{PageID: page.ID, CustomerID: customer.ID, ProviderMessageID: "mid-1", Text: "hi"}
	if err := s.SaveInbound(ctx, redelivery); !errors.Is(err, domain.ErrDuplicate) {
		t.Errorf("redelivery: got %v, want ErrDuplicate", err)
	}

	ok, err := s.HasInbound(ctx, customer.ID, "mid-1")
	if err != nil || !ok {
		t.Errorf("HasInbound = %v, %v; want true, nil", ok, err)
	}

	turns, err := s.History(ctx, customer.ID, 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(turns) != 1 {
		t.Errorf("history length = %d, want 1", len(turns))
	}
}

func TestHistoryMergesBothDirections(t *testing.T) {
	s := newTestStore(t)
	page, customer := seedCustomer(t, s)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	in := &domain.InboundMessage{PageID: page.ID, CustomerID: customer.ID, ProviderMessageID: "mid-1", Text: "do you have boots?", ReceivedAt: base}
	if err := s.SaveInbound(ctx, in); err != nil {
		t.Fatalf("save inbound: %v", err)
	}
	out := &domain.OutboundMessage{ID: "out-1", PageID: page.ID, CustomerID: customer.ID, Kind: domain.KindText, Payload: "we do!", SentAt: base.Add(time.Minute)}
	if err := s.SaveOutbound(ctx, out); err != nil {
		t.Fatalf("save outbound: %v", err)
	}
	in2 := &domain.InboundMessage{PageID: page.ID, CustomerID: customer.ID, ProviderMessageID: "mid-2", Text: "size 42?", ReceivedAt: base.Add(2 * time.Minute)}
	if err := s.SaveInbound(ctx, in2); err != nil {
		t.Fatalf("save inbound 2: %v", err)
	}

	turns, err := s.History(ctx, customer.ID, 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(turns) != 3 {
		t.Fatalf("history length = %d, want 3", len(turns))
	}
	wantDirs := []domain.Direction{domain.DirectionIn, domain.DirectionOut, domain.DirectionIn}
	for i, want := range wantDirs {
		if turns[i].Direction != want {
			t.Errorf("turn %d direction = %s, want %s", i, turns[i].Direction, want)
		}
	}
	if turns[1].Text != "we do!" {
		t.Errorf("turn 1 text = %q", turns[1].Text)
	}
}

func TestHistoryLimitKeepsNewest(t *testing.T) {
	s := newTestStore(t)
	page, customer := seedCustomer(t, s)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		m := &domain.InboundMessage{
			PageID: page.ID, CustomerID: customer.ID,
			ProviderMessageID: "mid-" + string(rune('a'+i)),
			Text:              "msg " + string(rune('a'+i)),
			ReceivedAt:        base.Add(time.Duration(i) * time.Minute),
		}
		if err := s.SaveInbound(ctx, m); err != nil {
			t.Fatalf("save %d: %v", i, err)
		}
	}

	turns, err := s.History(ctx, customer.ID, 2)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(turns) != 2 {
		t.Fatalf("length = %d, want 2", len(turns))
	}
	// The newest two, oldest first.
	if turns[0].Text != "msg d" || turns[1].Text != "msg e" {
		t.Errorf("got %q, %q; want msg d, msg e", turns[0].Text, turns[1].Text)
	}
}

func TestProductsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	page, _ := seedCustomer(t, s)
	ctx := context.Background()

	p := &domain.Product{
		ID: "sku-1", BusinessID: page.BusinessID, Name: "Trail Boot",
		PriceCents: 12900, Stock: 3, Sizes: []string{"41", "42"}, ImageURL: "https://img.example/boot.jpg",
	}
	if err := s.CreateProduct(ctx, p); err != nil {
		t.Fatalf("create product: %v", err)
	}

	products, err := s.ProductsByBusiness(ctx, page.BusinessID)
	if err != nil {
		t.Fatalf("list products: %v", err)
	}
	if len(products) != 1 {
		t.Fatalf("count = %d, want 1", len(products))
	}
	got := products[0]
	if got.Name != "Trail Boot" || got.PriceCents != 12900 {
		t.Errorf("got %+v", got)
	}
	if len(got.Sizes) != 2 || got.Sizes[0] != "41" {
		t.Errorf("sizes = %v, want [41 42]", got.Sizes)
	}
}

func TestOrderRoundTrip(t *testing.T) {
	s := newTestStore(t)
	page, customer := seedCustomer(t, s)
	ctx := context.Background()

	o := &domain.Order{
		ID: "order-1", CustomerID: customer.ID, BusinessID: page.BusinessID,
		Status: domain.OrderStatusPending, TotalCents: 25800,
		Lines: []domain.OrderLine{
			{ProductID: "sku-1", Name: "Trail Boot", Quantity: 2, Size: "42", PriceCents: 12900},
		},
	}
	if err := s.SaveOrder(ctx, o); err != nil {
		t.Fatalf("save order: %v", err)
	}

	got, err := s.OrderByID(ctx, "order-1")
	if err != nil {
		t.Fatalf("order by id: %v", err)
	}
	if got.TotalCents != 25800 || len(got.Lines) != 1 {
		t.Errorf("got %+v", got)
	}
	if got.Lines[0].Quantity != 2 || got.Lines[0].Size != "42" {
		t.Errorf("line = %+v", got.Lines[0])
	}

	orders, err := s.OrdersByCustomer(ctx, customer.ID)
	if err != nil || len(orders) != 1 {
		t.Fatalf("orders by customer: %v (count %d)", err, len(orders))
	}

	total, err := s.PendingOrderTotal(ctx, customer.ID)
	if err != nil {
		t.Fatalf("pending total: %v", err)
	}
	if total != 25800 {
		t.Errorf("pending total = %d, want 25800", total)
	}
}

func TestPendingOrderTotalEmpty(t *testing.T) {
	s := newTestStore(t)
	_, customer := seedCustomer(t, s)

	total, err := s.PendingOrderTotal(context.Background(), customer.ID)
	if err != nil {
		t.Fatalf("pending total: %v", err)
	}
	if total != 0 {
		t.Errorf("total = %d, want 0", total)
	}
}
