package extract

import (
	"bytes"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const (
	legacyPostClass    = "pam _3-95 _2ph- _a6-g uiBoxWhite noborder"
	legacyCaptionClass = "_3-95 _2pim _a6-h _a6-i"
	legacyDateClass    = "_3-94 _a6-o"
	legacyMediaMarker  = "media/posts/"
)

// legacyDateLayouts are tried against the upper-cased date text.
var legacyDateLayouts = []string{
	"Jan 2, 2006 3:04 PM",
	"Jan 2, 2006, 3:04 PM",
	"Jan 2, 2006 3:04:05 PM",
	"Jan 2, 2006, 3:04:05 PM",
	"January 2, 2006 3:04 PM",
	"January 2, 2006, 3:04 PM",
	"2 Jan 2006 15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	time.RFC3339,
}

type legacySchema struct{}

func (legacySchema) Variant() Variant { return Legacy }

func (legacySchema) Parse(data []byte) ([]Record, error) {
	doc, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	var records []Record
	walk(doc, func(n *html.Node) {
		if n.DataAtom != atom.Div || attr(n, "class") != legacyPostClass {
			return
		}

		rec := Record{}
		if caption := firstDiv(n, legacyCaptionClass); caption != nil {
			rec.Caption = textContent(caption)
		}
		if date := firstDiv(n, legacyDateClass); date != nil {
			rec.Timestamp = parseLegacyDate(textContent(date))
		}
		walk(n, func(a *html.Node) {
			if a.DataAtom != atom.A || attr(a, "target") != "_blank" {
				return
			}
			if href := attr(a, "href"); strings.Contains(href, legacyMediaMarker) {
				rec.Media = append(rec.Media, href)
			}
		})
		records = append(records, rec)
	})
	return records, nil
}

// parseLegacyDate returns unix seconds in UTC, or zero when no layout matches.
func parseLegacyDate(raw string) int64 {
	value := strings.Join(strings.Fields(raw), " ")
	if value == "" {
		return 0
	}
	value = strings.ToUpper(value)
	for _, layout := range legacyDateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.Unix()
		}
	}
	return 0
}

// walk visits n and its descendants in document order.
func walk(n *html.Node, fn func(*html.Node)) {
	stack := []*html.Node{n}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if cur.Type == html.ElementNode || cur.Type == html.DocumentNode {
			fn(cur)
		}
		for c := cur.LastChild; c != nil; c = c.PrevSibling {
			stack = append(stack, c)
		}
	}
}

func firstDiv(root *html.Node, class string) *html.Node {
	var found *html.Node
	walk(root, func(n *html.Node) {
		if found == nil && n != root && n.DataAtom == atom.Div && attr(n, "class") == class {
			found = n
		}
	})
	return found
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val
		}
	}
	return ""
}

func textContent(n *html.Node) string {
	var b strings.Builder
	walkText(n, &b)
	return b.String()
}

func walkText(n *html.Node, b *strings.Builder) {
	if n.Type == html.TextNode {
		b.WriteString(n.Data)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walkText(c, b)
	}
}
