package importer

import (
	"strings"
	"unicode"
)

const (
	titleWords    = 10
	fallbackTitle = "Instagram Post"
	ellipsis      = "…"
)

// pictographs lists the emoji and symbol blocks removed from titles.
var pictographs = &unicode.RangeTable{
	R16: []unicode.Range16{
		{Lo: 0x2000, Hi: 0x206f, Stride: 1},
		{Lo: 0x2100, Hi: 0x214f, Stride: 1},
		{Lo: 0x2300, Hi: 0x23ff, Stride: 1},
		{Lo: 0x2600, Hi: 0x27bf, Stride: 1},
		{Lo: 0x2b00, Hi: 0x2bff, Stride: 1},
		{Lo: 0xfe00, Hi: 0xfe0f, Stride: 1},
	},
	R32: []unicode.Range32{
		{Lo: 0x1f000, Hi: 0x1f2ff, Stride: 1},
		{Lo: 0x1f300, Hi: 0x1f6ff, Stride: 1},
		{Lo: 0x1f900, Hi: 0x1f9ff, Stride: 1},
	},
}

// Title derives a post title from the plain caption: at most ten words with an
// ellipsis when cut, pictographs removed.
func Title(caption string) string {
	words := strings.Fields(stripPictographs(caption))
	if len(words) == 0 {
		return fallbackTitle
	}
	if len(words) > titleWords {
		return strings.Join(words[:titleWords], " ") + ellipsis
	}
	return strings.Join(words, " ")
}

func stripPictographs(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.Is(pictographs, r) {
			return -1
		}
		return r
	}, s)
}
