package capability

import (
	"context"
	"fmt"
	"log/slog"

	"shopbot/internal/domain"
	"shopbot/internal/provider"
)

// ProductReply is the declared output schema of the product-suggestion
// capability: exactly one of a suggestion or a clarifying question.
type ProductReply struct {
	Thought      string      `json:"thought" validate:"required" jsonschema:"description=Reasoning behind the response"`
	Confidence   float64     `json:"confidence" validate:"gte=0,lte=1" jsonschema:"description=Confidence between 0 and 1"`
	ResponseType string      `json:"response_type" validate:"required,oneof=suggestion question" jsonschema:"description=Either suggestion or question"`
	Suggestion   *Suggestion `json:"suggestion,omitempty" jsonschema:"description=Present only when response_type is suggestion"`
	Question     string      `json:"question,omitempty" jsonschema:"description=Present only when response_type is question"`
}

// Suggestion carries zero or more product images plus one closing message.
type Suggestion struct {
	Images  []SuggestedImage `json:"images" jsonschema:"description=Product images to send; may be empty"`
	Message string           `json:"message" validate:"required" jsonschema:"description=Closing message after the images"`
}

// SuggestedImage pairs a catalog image URL with its caption.
type SuggestedImage struct {
	ImageURL string `json:"image_url" validate:"required,url" jsonschema:"description=Image URL taken from the catalog"`
	Caption  string `json:"caption" validate:"required" jsonschema:"description=Name, price, sizes and a short description"`
}

// ProductSuggestion recommends catalog products or asks a clarifying
// question. The catalog is read at invocation time so stock and pricing
// are never stale.
type ProductSuggestion struct {
	provider domain.ModelProvider
	contract *provider.Contract
	catalog  domain.CatalogStore
	sender   Sender
	profiles *Profiles
	logger   *slog.Logger
}

type ProductSuggestionConfig struct {
	Provider domain.ModelProvider
	Contract *provider.Contract
	Catalog  domain.CatalogStore
	Sender   Sender
	Profiles *Profiles
	Logger   *slog.Logger
}

func NewProductSuggestion(cfg ProductSuggestionConfig) *ProductSuggestion {
	return &ProductSuggestion{
		provider: cfg.Provider,
		contract: cfg.Contract,
		catalog:  cfg.Catalog,
		sender:   cfg.Sender,
		profiles: cfg.Profiles,
		logger:   cfg.Logger,
	}
}

func (p *ProductSuggestion) Name() string { return domain.CapabilityProductSuggestion }

func (p *ProductSuggestion) Handle(ctx context.Context, task domain.DispatchTask) error {
	products, err := p.catalog.ProductsByBusiness(ctx, task.Business.ID)
	if err != nil {
		return fmt.Errorf("catalog read: %w", err)
	}

	prompt := basePrompt(task) +
		"Catalog:\n" + renderCatalog(products, task.Business.Currency) + "\n" +
		provider.Instructions(ProductReply{})

	raw, err := p.provider.Complete(ctx, domain.CompletionRequest{
		System: p.profiles.System(domain.CapabilityProductSuggestion),
		Prompt: prompt,
	})
	if err != nil {
		return fmt.Errorf("product model call: %w", err)
	}

	var reply ProductReply
	if err := p.contract.Decode(raw, &reply); err != nil {
		return err
	}
	if err := validateProductReply(reply); err != nil {
		return err
	}

	switch reply.ResponseType {
	case "question":
		return p.sender.SendText(ctx, task.Page.ProviderID, task.Customer.SenderID, reply.Question)
	case "suggestion":
		p.sendSuggestion(ctx, task, *reply.Suggestion)
	}
	return nil
}

// validateProductReply enforces the one-of constraint the schema tags
// cannot express: a suggestion response must carry a suggestion and no
// question, and vice versa.
func validateProductReply(r ProductReply) error {
	switch r.ResponseType {
	case "suggestion":
		if r.Suggestion == nil || r.Question != "" {
			return fmt.Errorf("%w: suggestion response must carry exactly a suggestion", domain.ErrContractViolation)
		}
	case "question":
		if r.Question == "" || r.Suggestion != nil {
			return fmt.Errorf("%w: question response must carry exactly a question", domain.ErrContractViolation)
		}
	}
	return nil
}

// sendSuggestion delivers each image with its caption as an independent
// pair, then the closing message. A failed send is logged and the rest
// still goes out; multi-part delivery is deliberately not transactional.
func (p *ProductSuggestion) sendSuggestion(ctx context.Context, task domain.DispatchTask, s Suggestion) {
	page, sender := task.Page.ProviderID, task.Customer.SenderID

	for _, img := range s.Images {
		if err := p.sender.SendAttachment(ctx, page, sender, img.ImageURL); err != nil {
			p.logger.Error("suggestion image send failed", "customer", task.Customer.ID, "url", img.ImageURL, "err", err)
		}
		if err := p.sender.SendText(ctx, page, sender, img.Caption); err != nil {
			p.logger.Error("suggestion caption send failed", "customer", task.Customer.ID, "err", err)
		}
	}

	if s.Message != "" {
		if err := p.sender.SendText(ctx, page, sender, s.Message); err != nil {
			p.logger.Error("suggestion closing message send failed", "customer", task.Customer.ID, "err", err)
		}
	}
}
