package capability

import (
	"fmt"
	"strings"

	"shopbot/internal/domain"
)

// renderHistory flattens conversation turns for prompt context.
func renderHistory(turns []domain.ConversationTurn) string {
	if len(turns) == 0 {
		return "(no previous messages)"
	}
	var b strings.Builder
	for _, t := range turns {
		role := "customer"
		if t.Direction == domain.DirectionOut {
			role = "shop"
		}
		fmt.Fprintf(&b, "%s: %s\n", role, t.Text)
	}
	return b.String()
}

func renderBusiness(b domain.Business) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Name: %s\n", b.Name)
	if b.About != "" {
		fmt.Fprintf(&sb, "About: %s\n", b.About)
	}
	fmt.Fprintf(&sb, "Currency: %s\n", b.Currency)
	return sb.String()
}

func renderCustomer(c domain.Customer) string {
	name := strings.TrimSpace(c.FirstName + " " + c.LastName)
	if name == "" {
		name = "(unknown)"
	}
	return "Name: " + name
}

// renderCatalog lists current products with stock and pricing. The product
// capability reads this at invocation time so recommendations never use a
// stale catalog.
func renderCatalog(products []domain.Product, currency string) string {
	if len(products) == 0 {
		return "(the catalog is empty)"
	}
	var b strings.Builder
	for _, p := range products {
		fmt.Fprintf(&b, "- id=%s name=%q price=%.2f %s stock=%d", p.ID, p.Name, float64(p.PriceCents)/100, currency, p.Stock)
		if p.SizeApplies() {
			fmt.Fprintf(&b, " sizes=%s", strings.Join(p.Sizes, "/"))
		}
		if p.ImageURL != "" {
			fmt.Fprintf(&b, " image=%s", p.ImageURL)
		}
		if p.Description != "" {
			fmt.Fprintf(&b, " — %s", p.Description)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// basePrompt assembles the context block shared by every capability prompt.
func basePrompt(task domain.DispatchTask) string {
	var b strings.Builder
	b.WriteString("Business:\n")
	b.WriteString(renderBusiness(task.Business))
	b.WriteString("\nCustomer:\n")
	b.WriteString(renderCustomer(task.Customer))
	b.WriteString("\n\nConversation so far:\n")
	b.WriteString(renderHistory(task.History))
	b.WriteString("\nCurrent message:\n")
	b.WriteString(task.Decision.Fragment)
	b.WriteString("\n\n")
	return b.String()
}
