package provider

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"shopbot/internal/domain"

	"github.com/go-playground/validator/v10"
	"github.com/invopop/jsonschema"
)

// Contract enforces a declared output schema on untrusted model text:
// extract the JSON value, unmarshal it, then validate the struct tags.
// Any failure is a domain.ErrContractViolation; the caller must abort the
// invocation without side effects.
type Contract struct {
	validate *validator.Validate
}

func NewContract() *Contract {
	return &Contract{validate: validator.New(validator.WithRequiredStructEnabled())}
}

// Instructions renders the JSON schema for v as a prompt block. The schema
// is inlined (no $ref indirection) so the model sees the whole shape.
func Instructions(v any) string {
	reflector := jsonschema.Reflector{DoNotReference: true}
	schema := reflector.Reflect(v)
	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		// Reflect output always marshals; this is unreachable in practice.
		return ""
	}
	var b strings.Builder
	b.WriteString("Respond with a single JSON value matching this JSON schema, and nothing else:\n")
	b.Write(data)
	return b.String()
}

// Decode parses raw model text into out and validates it. out must be a
// pointer to a struct or to a slice of structs.
func (c *Contract) Decode(raw string, out any) error {
	payload, ok := ExtractJSON(raw)
	if !ok {
		return fmt.Errorf("%w: no JSON value in model output", domain.ErrContractViolation)
	}
	if err := json.Unmarshal([]byte(payload), out); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrContractViolation, err)
	}
	if err := c.check(out); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrContractViolation, err)
	}
	return nil
}

func (c *Contract) check(v any) error {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Slice:
		for i := 0; i < rv.Len(); i++ {
			if err := c.validate.Struct(rv.Index(i).Interface()); err != nil {
				return err
			}
		}
		return nil
	case reflect.Struct:
		return c.validate.Struct(rv.Interface())
	default:
		return fmt.Errorf("unsupported output type %s", rv.Kind())
	}
}

// ExtractJSON locates the first top-level JSON object or array in model
// output. Models wrap JSON in code fences or chatter around it; this strips
// fences and scans for balanced brackets, skipping string literals.
func ExtractJSON(content string) (string, bool) {
	content = strings.TrimSpace(content)

	// Strip a markdown code fence if the whole content is fenced.
	if strings.HasPrefix(content, "```") {
		lines := strings.Split(content, "\n")
		if len(lines) >= 3 && strings.HasPrefix(lines[len(lines)-1], "```") {
			content = strings.TrimSpace(strings.Join(lines[1:len(lines)-1], "\n"))
		}
	}

	if json.Valid([]byte(content)) && (strings.HasPrefix(content, "{") || strings.HasPrefix(content, "[")) {
		return content, true
	}

	start := strings.IndexAny(content, "{[")
	if start < 0 {
		return "", false
	}
	openChar := content[start]
	closeChar := byte('}')
	if openChar == '[' {
		closeChar = ']'
	}

	depth := 0
	inStr := false
	for i := start; i < len(content); i++ {
		ch := content[i]
		if inStr {
			if ch == '\\' {
				i++
				continue
			}
			if ch == '"' {
				inStr = false
			}
			continue
		}
		switch ch {
		case '"':
			inStr = true
		case openChar:
			depth++
		case closeChar:
			depth--
			if depth == 0 {
				candidate := content[start : i+1]
				if json.Valid([]byte(candidate)) {
					return candidate, true
				}
				return "", false
			}
		}
	}
	return "", false
}
