// Package importer turns extracted records into posts, tags and attachments.
package importer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"gramport/internal/extract"
	"gramport/internal/metrics"
	"gramport/internal/repository"
)

// Stats counts the outcome of one import run.
type Stats struct {
	Imported int `json:"imported"`
	Skipped  int `json:"skipped"`
}

// MediaSideloader stores one local media file as an attachment of a post.
type MediaSideloader interface {
	Sideload(ctx context.Context, postID, path string) (*repository.Attachment, error)
}

// Coordinator imports records one by one. A failing record is counted as
// skipped and never aborts the run.
type Coordinator struct {
	posts  repository.PostRepository
	terms  repository.TermRepository
	media  MediaSideloader
	linker Linker
	logger logrus.FieldLogger
	now    func() time.Time
}

func NewCoordinator(
	posts repository.PostRepository,
	terms repository.TermRepository,
	media MediaSideloader,
	linker Linker,
	logger logrus.FieldLogger,
) *Coordinator {
	return &Coordinator{
		posts:  posts,
		terms:  terms,
		media:  media,
		linker: linker,
		logger: logger,
		now:    time.Now,
	}
}

// Import runs every record against the content store. Media paths are resolved
// against root. The only error returned is the context's.
func (c *Coordinator) Import(ctx context.Context, records []extract.Record, root string) (Stats, error) {
	var stats Stats
	for i := range records {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		rec := &records[i]
		log := c.logger.WithField("timestamp", rec.Timestamp)
		if c.importOne(ctx, rec, root, log) {
			stats.Imported++
			metrics.RecordsImported.WithLabelValues("imported").Inc()
		} else {
			stats.Skipped++
		}
	}

	c.logger.WithFields(logrus.Fields{
		"imported": stats.Imported,
		"skipped":  stats.Skipped,
	}).Info("import run finished")
	return stats, nil
}

func (c *Coordinator) importOne(ctx context.Context, rec *extract.Record, root string, log logrus.FieldLogger) bool {
	exists, err := c.posts.ExistsByTimestamp(ctx, rec.Timestamp)
	if err != nil {
		log.WithError(err).Warn("duplicate lookup failed, skipping record")
		metrics.RecordsImported.WithLabelValues("failed").Inc()
		return false
	}
	if exists {
		log.Debug("record already imported")
		metrics.RecordsImported.WithLabelValues("duplicate").Inc()
		return false
	}

	tags := Hashtags(rec.Caption)
	termIDs := make([]string, 0, len(tags))
	tagURLs := make(map[string]string, len(tags))
	for _, tag := range tags {
		term, err := c.terms.Ensure(ctx, tag)
		if err != nil {
			log.WithError(err).WithField("tag", tag).Warn("failed to create tag, leaving it unlinked")
			continue
		}
		termIDs = append(termIDs, term.ID)
		tagURLs[tag] = c.linker.TagURL(term.Name)
	}

	published := time.Unix(rec.Timestamp, 0).UTC()
	post, err := c.posts.Create(ctx, &repository.Post{
		ID:              uuid.NewString(),
		Title:           Title(rec.Caption),
		Body:            c.linker.Render(rec.Caption, tagURLs),
		SourceTimestamp: rec.Timestamp,
		PublishedAt:     published,
		CreatedAt:       c.now().UTC(),
	}, termIDs)
	if err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			log.Debug("record imported concurrently")
			metrics.RecordsImported.WithLabelValues("duplicate").Inc()
		} else {
			log.WithError(err).Error("failed to create post")
			metrics.RecordsImported.WithLabelValues("failed").Inc()
		}
		return false
	}

	log = log.WithField("post_id", post.ID)
	hasThumbnail := post.ThumbnailID != nil
	for _, rel := range rec.Media {
		path, ok := resolveMedia(root, rel)
		if !ok {
			log.WithField("media", rel).Warn("media path escapes the export, skipping")
			metrics.MediaAttached.WithLabelValues("rejected").Inc()
			continue
		}
		if _, err := os.Stat(path); err != nil {
			log.WithField("media", rel).Warn("media file not found")
			metrics.MediaAttached.WithLabelValues("missing").Inc()
			continue
		}

		att, err := c.media.Sideload(ctx, post.ID, path)
		if err != nil {
			log.WithError(err).WithField("media", rel).Warn("failed to attach media")
			metrics.MediaAttached.WithLabelValues("failed").Inc()
			continue
		}
		metrics.MediaAttached.WithLabelValues("attached").Inc()

		if !hasThumbnail {
			if err := c.posts.SetThumbnail(ctx, post.ID, att.ID); err != nil {
				log.WithError(err).Warn("failed to set thumbnail")
			} else {
				hasThumbnail = true
			}
		}
	}
	return true
}

// resolveMedia joins a slash-separated media reference onto root. References
// that are absolute or climb out of root are refused.
func resolveMedia(root, rel string) (string, bool) {
	local := filepath.FromSlash(rel)
	if !filepath.IsLocal(local) {
		return "", false
	}
	return filepath.Join(root, local), true
}
