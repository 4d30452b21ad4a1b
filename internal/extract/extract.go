// Package extract turns an unpacked export into import records. Two export
// layouts are understood: the older HTML one and the newer JSON one. Which one
// applies is decided once per call by the posts file present under the root.
package extract

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"gramport/internal/apperror"
	"gramport/internal/metrics"
)

// Variant names an export layout.
type Variant string

const (
	Legacy     Variant = "legacy"
	Structured Variant = "structured"
)

// Record is one importable post. Media paths are relative to the export root.
type Record struct {
	Caption   string
	Timestamp int64
	Media     []string
}

// Schema parses one posts file into records in source order. Timestamp is zero
// when the entry has none that parses.
type Schema interface {
	Variant() Variant
	Parse(data []byte) ([]Record, error)
}

// Paths are the posts file locations relative to the export root.
type Paths struct {
	Legacy     string
	Structured string
}

// Result is the outcome of one extraction.
type Result struct {
	Variant          Variant
	Records          []Record
	DroppedNoMedia   int
	MissingTimestamp int
}

// Detect picks the schema by which posts file exists under root. The JSON
// export wins when both are present.
func Detect(root string, paths Paths) (Schema, string, error) {
	candidates := []struct {
		rel    string
		schema Schema
	}{
		{paths.Structured, structuredSchema{}},
		{paths.Legacy, legacySchema{}},
	}
	for _, c := range candidates {
		if c.rel == "" {
			continue
		}
		path := filepath.Join(root, filepath.FromSlash(c.rel))
		info, err := os.Stat(path)
		if err == nil && !info.IsDir() {
			return c.schema, path, nil
		}
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, "", apperror.Wrap(apperror.ExtractionError, "Failed to read posts file", err)
		}
	}
	return nil, "", apperror.New(apperror.ExtractionError, "Could not find posts file in the export")
}

// Extractor reads the posts file of an unpacked export.
type Extractor struct {
	paths  Paths
	logger logrus.FieldLogger
}

func NewExtractor(paths Paths, logger logrus.FieldLogger) *Extractor {
	return &Extractor{paths: paths, logger: logger}
}

// Extract parses the export under root. Entries without media are dropped and
// entries without a timestamp are left out; both are only counted.
func (e *Extractor) Extract(ctx context.Context, root string) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	schema, path, err := Detect(root, e.paths)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperror.Wrap(apperror.ExtractionError, "Failed to read posts file", err)
	}

	parsed, err := schema.Parse(data)
	if err != nil {
		if apperror.KindOf(err) != "" {
			return nil, err
		}
		return nil, apperror.Wrap(apperror.ExtractionError, fmt.Sprintf("Failed to parse %s posts file", schema.Variant()), err)
	}

	res := &Result{Variant: schema.Variant(), Records: make([]Record, 0, len(parsed))}
	for _, rec := range parsed {
		switch {
		case len(rec.Media) == 0:
			res.DroppedNoMedia++
		case rec.Timestamp <= 0:
			res.MissingTimestamp++
		default:
			res.Records = append(res.Records, rec)
		}
	}

	variant := string(res.Variant)
	metrics.RecordsExtracted.WithLabelValues(variant, "emitted").Add(float64(len(res.Records)))
	metrics.RecordsExtracted.WithLabelValues(variant, "no_media").Add(float64(res.DroppedNoMedia))
	metrics.RecordsExtracted.WithLabelValues(variant, "no_timestamp").Add(float64(res.MissingTimestamp))

	log := e.logger.WithFields(logrus.Fields{
		"variant": variant,
		"path":    path,
		"records": len(res.Records),
	})
	if res.MissingTimestamp > 0 {
		log = log.WithField("missing_timestamp", res.MissingTimestamp)
	}
	if res.DroppedNoMedia > 0 {
		log = log.WithField("no_media", res.DroppedNoMedia)
	}
	log.Info("posts file parsed")

	return res, nil
}
