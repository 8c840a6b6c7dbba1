package browser

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestXPathLiteral(t *testing.T) {
	assert.Equal(t, `"Page not found"`, xpathLiteral("Page not found"))
	assert.Equal(t, `'say "hi"'`, xpathLiteral(`say "hi"`))
	assert.Equal(t, `concat("it's ", '"', "quoted", '"')`, xpathLiteral(`it's "quoted"`))
}

func TestTextXPath_UsesFullStringValue(t *testing.T) {
	got := textXPath("  No people   match\n your criteria ")

	assert.Equal(t,
		`//*[contains(normalize-space(.), "No people match your criteria") and not(*[contains(normalize-space(.), "No people match your criteria")])]`,
		got)
	assert.NotContains(t, got, "text()")
}
