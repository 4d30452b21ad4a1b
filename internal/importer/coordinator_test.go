package importer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gramport/internal/extract"
	"gramport/internal/logging"
	"gramport/internal/repository"
	"gramport/internal/repository/memory"
)

type fakeSideloader struct {
	store *memory.Store
	paths []string
	fail  map[string]bool
	n     int
}

func (f *fakeSideloader) Sideload(ctx context.Context, postID, path string) (*repository.Attachment, error) {
	f.paths = append(f.paths, path)
	if f.fail[filepath.Base(path)] {
		return nil, errors.New("storage down")
	}
	f.n++
	return f.store.Attachments().Create(ctx, &repository.Attachment{
		ID:           filepath.Base(path),
		PostID:       postID,
		OriginalName: filepath.Base(path),
	})
}

type failingPosts struct {
	repository.PostRepository
	existsErr error
	createErr error
}

func (f *failingPosts) ExistsByTimestamp(ctx context.Context, ts int64) (bool, error) {
	if f.existsErr != nil {
		return false, f.existsErr
	}
	return f.PostRepository.ExistsByTimestamp(ctx, ts)
}

func (f *failingPosts) Create(ctx context.Context, post *repository.Post, termIDs []string) (*repository.Post, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	return f.PostRepository.Create(ctx, post, termIDs)
}

func exportRoot(t *testing.T, files ...string) string {
	t.Helper()
	root := t.TempDir()
	for _, f := range files {
		path := filepath.Join(root, filepath.FromSlash(f))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte("img"), 0o644))
	}
	return root
}

func newTestCoordinator(store *memory.Store, posts repository.PostRepository, media MediaSideloader) *Coordinator {
	return NewCoordinator(posts, store.Terms(), media, testLinker, logging.Discard())
}

func TestImportCreatesPostWithTagsAndThumbnail(t *testing.T) {
	store := memory.New()
	media := &fakeSideloader{store: store, fail: map[string]bool{"b.jpg": true}}
	root := exportRoot(t, "media/posts/a.jpg", "media/posts/b.jpg", "media/posts/c.jpg")
	c := newTestCoordinator(store, store.Posts(), media)

	records := []extract.Record{{
		Caption:   "Hello #sun and #Moon_2! #sun",
		Timestamp: 1674233700,
		Media:     []string{"media/posts/missing.jpg", "media/posts/b.jpg", "media/posts/a.jpg", "../outside.jpg", "media/posts/c.jpg"},
	}}

	stats, err := c.Import(context.Background(), records, root)
	require.NoError(t, err)
	assert.Equal(t, Stats{Imported: 1, Skipped: 0}, stats)

	posts, err := store.Posts().List(context.Background(), repository.ListPostsParams{})
	require.NoError(t, err)
	require.Len(t, posts, 1)
	post := posts[0]

	assert.Equal(t, "Hello #sun and #Moon_2! #sun", post.Title)
	assert.Equal(t, time.Unix(1674233700, 0).UTC(), post.PublishedAt)
	assert.Contains(t, post.Body, `<a href="/tags/sun">#sun</a>`)
	assert.Contains(t, post.Body, `<a href="/tags/Moon_2">#Moon_2</a>`)

	terms, err := store.Terms().ListByPost(context.Background(), post.ID)
	require.NoError(t, err)
	require.Len(t, terms, 2)
	assert.Equal(t, "sun", terms[0].Name)
	assert.Equal(t, "Moon_2", terms[1].Name)

	// 缺失文件与越界路径不会交给 sideloader；失败的 b.jpg 不影响后续附件
	assert.Len(t, media.paths, 3)
	require.NotNil(t, post.ThumbnailID)
	assert.Equal(t, "a.jpg", *post.ThumbnailID)

	atts, err := store.Attachments().ListByPost(context.Background(), post.ID)
	require.NoError(t, err)
	assert.Len(t, atts, 2)
}

func TestImportSkipsDuplicatesAcrossRuns(t *testing.T) {
	store := memory.New()
	root := exportRoot(t, "media/posts/a.jpg")
	c := newTestCoordinator(store, store.Posts(), &fakeSideloader{store: store})
	records := []extract.Record{
		{Caption: "first", Timestamp: 100, Media: []string{"media/posts/a.jpg"}},
		{Caption: "same timestamp", Timestamp: 100, Media: []string{"media/posts/a.jpg"}},
	}

	stats, err := c.Import(context.Background(), records[:1], root)
	require.NoError(t, err)
	assert.Equal(t, Stats{Imported: 1}, stats)

	stats, err = c.Import(context.Background(), records, root)
	require.NoError(t, err)
	assert.Equal(t, Stats{Imported: 0, Skipped: 2}, stats)
}

func TestImportCountsStoreFailuresAsSkipped(t *testing.T) {
	store := memory.New()
	records := []extract.Record{{Caption: "x", Timestamp: 1, Media: []string{"media/posts/a.jpg"}}}

	lookupFails := &failingPosts{PostRepository: store.Posts(), existsErr: errors.New("db down")}
	stats, err := newTestCoordinator(store, lookupFails, &fakeSideloader{store: store}).Import(context.Background(), records, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, Stats{Skipped: 1}, stats)

	createFails := &failingPosts{PostRepository: store.Posts(), createErr: errors.New("constraint")}
	stats, err = newTestCoordinator(store, createFails, &fakeSideloader{store: store}).Import(context.Background(), records, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, Stats{Skipped: 1}, stats)
}

func TestImportStopsOnCancelledContext(t *testing.T) {
	store := memory.New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestCoordinator(store, store.Posts(), &fakeSideloader{store: store}).
		Import(ctx, []extract.Record{{Timestamp: 1}}, t.TempDir())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestResolveMedia(t *testing.T) {
	root := filepath.Join("tmp", "export")
	path, ok := resolveMedia(root, "media/posts/a.jpg")
	assert.True(t, ok)
	assert.Equal(t, filepath.Join(root, "media", "posts", "a.jpg"), path)

	for _, rel := range []string{"../a.jpg", "/etc/passwd", "media/../../a.jpg", ""} {
		_, ok := resolveMedia(root, rel)
		assert.False(t, ok, rel)
	}
}
