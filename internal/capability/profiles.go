package capability

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Profile is the tunable prompt for one capability. Operators can override
// the built-in defaults with YAML files in the profile directory.
type Profile struct {
	Capability string `yaml:"capability"`
	System     string `yaml:"system"`
}

// Profiles holds the system prompt per capability name.
type Profiles struct {
	systems map[string]string
}

// DefaultProfiles returns the built-in prompts.
func DefaultProfiles() *Profiles {
	return &Profiles{systems: map[string]string{
		"general":            defaultGeneralSystem,
		"product-suggestion": defaultProductSystem,
		"order-taking":       defaultOrderSystem,
		"payment":            defaultPaymentSystem,
	}}
}

// System returns the prompt for a capability, empty when unknown.
func (p *Profiles) System(capability string) string { return p.systems[capability] }

// LoadOverrides merges YAML profile files from dir over the defaults.
// Unreadable or malformed files are skipped with a warning; a missing
// directory is not an error.
func (p *Profiles) LoadOverrides(dir string, logger *slog.Logger) error {
	if dir == "" {
		return nil
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		logger.Debug("profile directory does not exist, using defaults", "dir", dir)
		return nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read profile dir: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}

		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			logger.Warn("cannot read profile file", "path", path, "err", err)
			continue
		}

		var profile Profile
		if err := yaml.Unmarshal(data, &profile); err != nil {
			logger.Warn("cannot parse profile file", "path", path, "err", err)
			continue
		}
		if profile.Capability == "" {
			profile.Capability = strings.TrimSuffix(name, filepath.Ext(name))
		}
		if profile.System == "" {
			logger.Warn("profile file has no system prompt", "path", path)
			continue
		}

		p.systems[profile.Capability] = profile.System
		logger.Info("loaded capability profile override", "capability", profile.Capability, "path", path)
	}
	return nil
}

const defaultGeneralSystem = `You are the conversational assistant of a small online shop.
You handle greetings, thanks, and any chit-chat that is not about a specific product, order, or payment.
Keep replies short and friendly, and gently steer the customer toward browsing products.
When the message part you were given is actually about products, orders, or payments, it is not yours:
set responded to false and leave the message empty. Another assistant covers it.`

const defaultProductSystem = `You are the product advisor of a small online shop.
Recommend products from the catalog you are given, using current stock and pricing only.
Either make a suggestion (zero or more product images with captions, then one closing message)
or ask a single clarifying question. Never both at once.
When the customer asks about price, size, or color of a known product, answer in the closing message.`

const defaultOrderSystem = `You are the order desk of a small online shop.
From the conversation and the current message, extract the order lines the customer has
clearly confirmed: product, quantity, and size. Only include a line when quantity is
explicit and the size is either explicit or the product is not sold in sizes.
Leave out anything unconfirmed instead of guessing. Use product ids and names exactly
as they appear in the catalog.`

const defaultPaymentSystem = `You handle payments for a small online shop.
Decide whether the customer has clearly confirmed they want to pay now.
Only set confirmed when the intent is explicit; otherwise reply with a short message
that moves the payment conversation forward.`
