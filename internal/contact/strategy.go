package contact

import (
	"context"
	"strings"

	"github.com/emersion/go-message/mail"

	"github.com/sells-group/outreach-cli/internal/browser"
)

// EmailStrategy reads an email address from a result row. It returns "" with
// a nil error when the row carries nothing it recognizes.
type EmailStrategy interface {
	Name() string
	Extract(ctx context.Context, row browser.Element) (string, error)
}

// selectorStrategy reads the text of the first element matching selector.
// Anchors with a mailto: href are read from the href instead.
type selectorStrategy struct {
	name     string
	selector string
}

// NewSelectorStrategy returns a strategy that reads the address under
// selector.
func NewSelectorStrategy(name, selector string) EmailStrategy {
	return &selectorStrategy{name: name, selector: selector}
}

func (s *selectorStrategy) Name() string { return s.name }

func (s *selectorStrategy) Extract(ctx context.Context, row browser.Element) (string, error) {
	el, err := row.QuerySelector(ctx, s.selector)
	if err != nil || el == nil {
		return "", err
	}
	if href, ok := el.Attr("href"); ok && strings.HasPrefix(strings.ToLower(href), "mailto:") {
		if addr := parseAddress(href[len("mailto:"):]); addr != "" {
			return addr, nil
		}
	}
	text, err := el.Text(ctx)
	if err != nil {
		return "", err
	}
	return parseAddress(text), nil
}

// DefaultStrategies builds the ordered strategy list from the configured
// email selectors: verified markup, unverified markup, then mailto links.
func DefaultStrategies(selectors []string) []EmailStrategy {
	names := []string{"verified", "unverified", "mailto"}
	out := make([]EmailStrategy, 0, len(selectors))
	for i, sel := range selectors {
		name := "selector"
		if i < len(names) {
			name = names[i]
		}
		out = append(out, NewSelectorStrategy(name, sel))
	}
	return out
}

// parseAddress returns the bare address in raw, or "" when raw is not one.
func parseAddress(raw string) string {
	raw = strings.TrimSpace(raw)
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		raw = raw[:i]
	}
	if raw == "" || !strings.Contains(raw, "@") {
		return ""
	}
	addr, err := mail.ParseAddress(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(addr.Address)
}
