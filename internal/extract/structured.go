package extract

import (
	"unicode/utf8"

	"github.com/tidwall/gjson"

	"gramport/internal/apperror"
)

type structuredSchema struct{}

func (structuredSchema) Variant() Variant { return Structured }

func (structuredSchema) Parse(data []byte) ([]Record, error) {
	if !gjson.ValidBytes(data) {
		return nil, apperror.New(apperror.ExtractionError, "Posts file is not valid JSON")
	}

	root := gjson.ParseBytes(data)
	var posts []gjson.Result
	switch {
	case root.IsArray():
		posts = root.Array()
	case root.IsObject() && root.Get("ig_posts").IsArray():
		posts = root.Get("ig_posts").Array()
	default:
		return nil, apperror.New(apperror.ExtractionError, "Unrecognized posts file format")
	}

	records := make([]Record, 0, len(posts))
	for _, post := range posts {
		media := post.Get("media").Array()

		rec := Record{}
		for _, m := range media {
			if uri := m.Get("uri").String(); uri != "" {
				rec.Media = append(rec.Media, uri)
			}
		}

		title := post.Get("title")
		if title.String() == "" && len(media) > 0 {
			title = media[0].Get("title")
		}
		rec.Caption = fixMojibake(title.String())

		ts := post.Get("creation_timestamp")
		if !ts.Exists() && len(media) > 0 {
			ts = media[0].Get("creation_timestamp")
		}
		if ts.Type == gjson.Number || ts.Type == gjson.String {
			rec.Timestamp = ts.Int()
		}

		records = append(records, rec)
	}
	return records, nil
}

// fixMojibake undoes the export's habit of writing each UTF-8 byte as its own
// \u00XX escape. Strings that are not of that shape come back unchanged.
func fixMojibake(s string) string {
	if s == "" {
		return s
	}
	buf := make([]byte, 0, len(s))
	wide := false
	for _, r := range s {
		if r > 0xff {
			return s
		}
		if r >= 0x80 {
			wide = true
		}
		buf = append(buf, byte(r))
	}
	if !wide || !utf8.Valid(buf) {
		return s
	}
	return string(buf)
}
