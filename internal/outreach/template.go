// Package outreach renders the cold-outreach email and hands it to the mail
// transport.
package outreach

import (
	"strings"

	"github.com/rotisserie/eris"
)

// Template fields.
const (
	FieldRecipientName    = "recipient_name"
	FieldOurName          = "our_name"
	FieldCompanyName      = "company_name"
	FieldSignificantValue = "significant_value"
)

// ErrIncompleteTemplate is returned when a template names a field that was
// not supplied, or has an unbalanced brace.
var ErrIncompleteTemplate = eris.New("outreach: incomplete template")

// Render substitutes {field} placeholders in tmpl. Literal braces are
// written doubled: "{{" and "}}".
func Render(tmpl string, fields map[string]string) (string, error) {
	var b strings.Builder
	b.Grow(len(tmpl))

	for i := 0; i < len(tmpl); i++ {
		c := tmpl[i]
		switch c {
		case '{':
			if i+1 < len(tmpl) && tmpl[i+1] == '{' {
				b.WriteByte('{')
				i++
				continue
			}
			end := strings.IndexByte(tmpl[i+1:], '}')
			if end < 0 {
				return "", eris.Wrapf(ErrIncompleteTemplate, "unclosed placeholder at offset %d", i)
			}
			name := strings.TrimSpace(tmpl[i+1 : i+1+end])
			val, ok := fields[name]
			if !ok {
				return "", eris.Wrapf(ErrIncompleteTemplate, "no value for {%s}", name)
			}
			b.WriteString(val)
			i += end + 1
		case '}':
			if i+1 < len(tmpl) && tmpl[i+1] == '}' {
				b.WriteByte('}')
				i++
				continue
			}
			return "", eris.Wrapf(ErrIncompleteTemplate, "stray '}' at offset %d", i)
		default:
			b.WriteByte(c)
		}
	}
	return b.String(), nil
}
