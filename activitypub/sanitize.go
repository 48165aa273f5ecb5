package activitypub

import (
	"net/url"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// Sanitizer cleans remote HTML before it is stored.
type Sanitizer struct {
	policy *bluemonday.Policy
	plain  *bluemonday.Policy
}

// NewSanitizer builds the allow-list used for remote entries, posts, comments
// and messages.
func NewSanitizer() *Sanitizer {
	p := bluemonday.NewPolicy()
	p.AllowElements(
		"p", "br", "ul", "ol", "li",
		"blockquote", "pre", "code",
		"strong", "em", "b", "i", "del", "sup", "sub",
		"h1", "h2", "h3", "h4", "h5", "h6", "hr", "span",
	)

	p.AllowAttrs("href").OnElements("a")
	p.AllowAttrs("class").Matching(bluemonday.SpaceSeparatedTokens).OnElements("a", "span")
	p.AllowRelativeURLs(false)
	p.AddTargetBlankToFullyQualifiedLinks(true)
	p.RequireNoReferrerOnLinks(true)
	p.RequireNoFollowOnLinks(true)

	p.AllowAttrs("src", "alt", "title").OnElements("img")
	p.AllowURLSchemes("http", "https")
	p.AllowURLSchemeWithCustomPolicy("mailto", func(u *url.URL) bool {
		return u.Opaque != ""
	})

	return &Sanitizer{policy: p, plain: bluemonday.StrictPolicy()}
}

// HTML sanitizes a body.
func (s *Sanitizer) HTML(raw string) string {
	return strings.TrimSpace(s.policy.Sanitize(raw))
}

// Text strips all markup, for titles.
func (s *Sanitizer) Text(raw string) string {
	return strings.TrimSpace(s.plain.Sanitize(raw))
}
