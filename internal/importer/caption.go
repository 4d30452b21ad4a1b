package importer

import (
	"html"
	"net/url"
	"regexp"
	"strings"
)

var (
	hashtagPattern = regexp.MustCompile(`#([a-zA-Z0-9_]+)`)
	// tokenPattern matches a mention or a hashtag; submatch 1 is the user, 2 the tag.
	tokenPattern = regexp.MustCompile(`@([a-zA-Z0-9._]+)|#([a-zA-Z0-9_]+)`)
)

// Hashtags returns the tags of caption in order of first appearance. Tags are
// case-sensitive: #Sun and #sun are different terms.
func Hashtags(caption string) []string {
	var tags []string
	seen := make(map[string]bool)
	for _, m := range hashtagPattern.FindAllStringSubmatch(caption, -1) {
		if tag := m[1]; !seen[tag] {
			seen[tag] = true
			tags = append(tags, tag)
		}
	}
	return tags
}

// Linker renders captions as HTML with linked mentions and hashtags.
type Linker struct {
	ProfileBaseURL string
	TagBaseURL     string
}

// TagURL returns the archive link of a tag.
func (l Linker) TagURL(tag string) string {
	return l.TagBaseURL + url.PathEscape(tag)
}

// Render escapes caption and rewrites every mention and every hashtag present in
// tagURLs in one left-to-right pass, so #sun never matches inside #sunset and
// escaped entities are never re-scanned. Hashtags without a URL stay plain text.
func (l Linker) Render(caption string, tagURLs map[string]string) string {
	var b strings.Builder
	last := 0
	for _, m := range tokenPattern.FindAllStringSubmatchIndex(caption, -1) {
		b.WriteString(html.EscapeString(caption[last:m[0]]))
		last = m[1]

		if m[2] >= 0 {
			user := caption[m[2]:m[3]]
			b.WriteString(`<a href="` + html.EscapeString(l.ProfileBaseURL+url.PathEscape(user)) +
				`" target="_blank" rel="noopener">@` + html.EscapeString(user) + `</a>`)
			continue
		}

		tag := caption[m[4]:m[5]]
		link, ok := tagURLs[tag]
		if !ok {
			b.WriteString(html.EscapeString(caption[m[0]:m[1]]))
			continue
		}
		b.WriteString(`<a href="` + html.EscapeString(link) + `">#` + html.EscapeString(tag) + `</a>`)
	}
	b.WriteString(html.EscapeString(caption[last:]))
	return b.String()
}
