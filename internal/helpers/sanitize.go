package helpers

import (
	"html"
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
)

var (
	stripPolicyOnce sync.Once
	stripPolicy     *bluemonday.Policy
)

// stripTagsPolicy returns a singleton bluemonday policy that removes every
// HTML element and attribute, leaving plain text. Script and style contents
// are dropped entirely rather than unwrapped.
func stripTagsPolicy() *bluemonday.Policy {
	stripPolicyOnce.Do(func() {
		stripPolicy = bluemonday.StrictPolicy()
	})
	return stripPolicy
}

// CleanSnippet normalizes text returned by a search engine to plain text.
// Engines highlight query terms with markup (<strong>, <b>) and escape
// entities; both are undone so stored rows and prompts see clean text.
// Whitespace is collapsed to single spaces.
func CleanSnippet(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	out := stripTagsPolicy().Sanitize(s)
	out = html.UnescapeString(out)
	return strings.Join(strings.Fields(out), " ")
}
