package capability

import (
	"context"
	"fmt"
	"log/slog"

	"shopbot/internal/domain"
	"shopbot/internal/provider"

	"github.com/google/uuid"
)

// OrderReply is the declared output schema of the order-taking capability.
type OrderReply struct {
	Lines        []OrderLineDraft `json:"lines" jsonschema:"description=Confirmed order lines; empty when nothing is confirmed yet"`
	Confirmation string           `json:"confirmation" jsonschema:"description=Short confirmation message for the customer when lines were captured"`
}

// OrderLineDraft is one extracted line. Quantity and Size are pointers so
// the model can mark them unconfirmed; unconfirmed lines are dropped, never
// guessed.
type OrderLineDraft struct {
	ProductID string  `json:"product_id" validate:"required" jsonschema:"description=Product id exactly as in the catalog"`
	Name      string  `json:"name" validate:"required" jsonschema:"description=Product name exactly as in the catalog"`
	Quantity  *int    `json:"quantity" jsonschema:"description=Units ordered; null when not yet confirmed"`
	Size      *string `json:"size" jsonschema:"description=Chosen size; null when unconfirmed or not applicable"`
}

// OrderTaking extracts confirmed order lines from the conversation and
// persists them.
type OrderTaking struct {
	provider domain.ModelProvider
	contract *provider.Contract
	catalog  domain.CatalogStore
	orders   domain.OrderStore
	sender   Sender
	profiles *Profiles
	logger   *slog.Logger
}

type OrderTakingConfig struct {
	Provider domain.ModelProvider
	Contract *provider.Contract
	Catalog  domain.CatalogStore
	Orders   domain.OrderStore
	Sender   Sender
	Profiles *Profiles
	Logger   *slog.Logger
}

func NewOrderTaking(cfg OrderTakingConfig) *OrderTaking {
	return &OrderTaking{
		provider: cfg.Provider,
		contract: cfg.Contract,
		catalog:  cfg.Catalog,
		orders:   cfg.Orders,
		sender:   cfg.Sender,
		profiles: cfg.Profiles,
		logger:   cfg.Logger,
	}
}

func (o *OrderTaking) Name() string { return domain.CapabilityOrderTaking }

func (o *OrderTaking) Handle(ctx context.Context, task domain.DispatchTask) error {
	products, err := o.catalog.ProductsByBusiness(ctx, task.Business.ID)
	if err != nil {
		return fmt.Errorf("catalog read: %w", err)
	}

	prompt := basePrompt(task) +
		"Catalog:\n" + renderCatalog(products, task.Business.Currency) + "\n" +
		provider.Instructions(OrderReply{})

	raw, err := o.provider.Complete(ctx, domain.CompletionRequest{
		System: o.profiles.System(domain.CapabilityOrderTaking),
		Prompt: prompt,
	})
	if err != nil {
		return fmt.Errorf("order model call: %w", err)
	}

	var reply OrderReply
	if err := o.contract.Decode(raw, &reply); err != nil {
		return err
	}

	lines := completeLines(reply.Lines, products)
	if len(lines) == 0 {
		o.logger.Debug("order capability found no confirmed lines", "customer", task.Customer.ID)
		return nil
	}

	order := &domain.Order{
		ID:         uuid.NewString(),
		CustomerID: task.Customer.ID,
		BusinessID: task.Business.ID,
		Status:     domain.OrderStatusPending,
		Lines:      lines,
	}
	for _, l := range lines {
		order.TotalCents += l.PriceCents * int64(l.Quantity)
	}

	if err := o.orders.SaveOrder(ctx, order); err != nil {
		return fmt.Errorf("save order: %w", err)
	}
	o.logger.Info("order captured",
		"order", order.ID,
		"customer", task.Customer.ID,
		"lines", len(lines),
		"total_cents", order.TotalCents,
	)

	if reply.Confirmation != "" {
		if err := o.sender.SendText(ctx, task.Page.ProviderID, task.Customer.SenderID, reply.Confirmation); err != nil {
			// The order is saved; a lost confirmation text is not fatal.
			o.logger.Error("order confirmation send failed", "order", order.ID, "err", err)
		}
	}
	return nil
}

// completeLines keeps only lines whose quantity is confirmed, whose size is
// confirmed or legitimately inapplicable, and whose product exists in the
// catalog. Pricing comes from the catalog, never from the model.
func completeLines(drafts []OrderLineDraft, products []domain.Product) []domain.OrderLine {
	byID := make(map[string]domain.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}

	var lines []domain.OrderLine
	for _, d := range drafts {
		product, ok := byID[d.ProductID]
		if !ok {
			continue
		}
		if d.Quantity == nil || *d.Quantity <= 0 {
			continue
		}
		size := ""
		if product.SizeApplies() {
			if d.Size == nil || *d.Size == "" {
				continue
			}
			size = *d.Size
		}
		lines = append(lines, domain.OrderLine{
			ProductID:  product.ID,
			Name:       product.Name,
			Quantity:   *d.Quantity,
			Size:       size,
			PriceCents: product.PriceCents,
		})
	}
	return lines
}
