package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gramport/internal/repository"
	"gramport/internal/repository/memory"
	"gramport/internal/storage"
)

type mockAttachmentRepo struct {
	created   *repository.Attachment
	createErr error
	byID      map[string]*repository.Attachment
}

func (m *mockAttachmentRepo) Create(ctx context.Context, att *repository.Attachment) (*repository.Attachment, error) {
	m.created = att
	if m.createErr != nil {
		return nil, m.createErr
	}
	return att, nil
}

func (m *mockAttachmentRepo) GetByID(ctx context.Context, id string) (*repository.Attachment, error) {
	if att, ok := m.byID[id]; ok {
		return att, nil
	}
	return nil, repository.ErrNotFound
}

func (m *mockAttachmentRepo) ListByPost(ctx context.Context, postID string) ([]repository.Attachment, error) {
	return nil, nil
}

type mockStorage struct {
	objects map[string][]byte
	deleted []string
	err     error
}

func newMockStorage() *mockStorage {
	return &mockStorage{objects: map[string][]byte{}}
}

func (s *mockStorage) Write(ctx context.Context, key string, r io.Reader) (storage.Location, error) {
	body, err := io.ReadAll(r)
	if err != nil {
		return storage.Location{}, err
	}
	if s.err != nil {
		return storage.Location{}, s.err
	}
	s.objects[key] = body
	return storage.Location{Path: key}, nil
}

func (s *mockStorage) Read(ctx context.Context, key string) (io.ReadCloser, error) {
	body, ok := s.objects[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(body)), nil
}

func (s *mockStorage) Delete(ctx context.Context, key string) error {
	s.deleted = append(s.deleted, key)
	delete(s.objects, key)
	return nil
}

func writeTempFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}

func TestMediaService_Sideload_WritesStorageAndRepository(t *testing.T) {
	repo := &mockAttachmentRepo{}
	store := newMockStorage()
	svc := NewMediaService(repo, store)

	payload := []byte("\xff\xd8\xff\xe0fake jpeg")
	path := writeTempFile(t, "one.jpg", payload)

	att, err := svc.Sideload(context.Background(), "p1", path)
	if err != nil {
		t.Fatalf("Sideload returned error: %v", err)
	}
	if repo.created == nil {
		t.Fatalf("repository Create was not called")
	}
	if att.MimeType != "image/jpeg" {
		t.Fatalf("expected image/jpeg, got %s", att.MimeType)
	}
	if att.OriginalName != "one.jpg" || att.SizeBytes != int64(len(payload)) {
		t.Fatalf("unexpected attachment: %+v", att)
	}
	if !strings.HasPrefix(att.StoragePath, "posts/p1/"+att.ID+"-") {
		t.Fatalf("unexpected storage key %s", att.StoragePath)
	}
	if string(store.objects[att.StoragePath]) != string(payload) {
		t.Fatalf("stored payload mismatch")
	}
}

func TestMediaService_Sideload_SniffsUnknownExtension(t *testing.T) {
	svc := NewMediaService(&mockAttachmentRepo{}, newMockStorage())
	path := writeTempFile(t, "clip.unknownext", []byte("\x89PNG\r\n\x1a\n0000"))

	att, err := svc.Sideload(context.Background(), "p1", path)
	if err != nil {
		t.Fatalf("Sideload returned error: %v", err)
	}
	if att.MimeType != "image/png" {
		t.Fatalf("expected image/png, got %s", att.MimeType)
	}
}

func TestMediaService_Sideload_RemovesObjectWhenRecordFails(t *testing.T) {
	repo := &mockAttachmentRepo{createErr: errors.New("db down")}
	store := newMockStorage()
	svc := NewMediaService(repo, store)

	_, err := svc.Sideload(context.Background(), "p1", writeTempFile(t, "a.jpg", []byte("x")))
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if len(store.deleted) != 1 || len(store.objects) != 0 {
		t.Fatalf("orphaned object was not removed: deleted=%v objects=%d", store.deleted, len(store.objects))
	}
}

func TestMediaService_Sideload_MissingFile(t *testing.T) {
	svc := NewMediaService(&mockAttachmentRepo{}, newMockStorage())
	_, err := svc.Sideload(context.Background(), "p1", filepath.Join(t.TempDir(), "nope.jpg"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected not-exist error, got %v", err)
	}

	_, err = svc.Sideload(context.Background(), "p1", t.TempDir())
	if !errors.Is(err, ErrNotFile) {
		t.Fatalf("expected ErrNotFile, got %v", err)
	}
}

func TestMediaService_OpenAttachment(t *testing.T) {
	store := newMockStorage()
	store.objects["posts/p1/a1-x.jpg"] = []byte("bytes")
	repo := &mockAttachmentRepo{byID: map[string]*repository.Attachment{
		"a1":   {ID: "a1", StoragePath: "posts/p1/a1-x.jpg"},
		"gone": {ID: "gone", StoragePath: "posts/p1/missing"},
	}}
	svc := NewMediaService(repo, store)

	att, body, err := svc.OpenAttachment(context.Background(), "a1")
	if err != nil {
		t.Fatalf("OpenAttachment returned error: %v", err)
	}
	defer body.Close()
	data, _ := io.ReadAll(body)
	if att.ID != "a1" || string(data) != "bytes" {
		t.Fatalf("unexpected attachment %+v / %q", att, data)
	}

	if _, _, err := svc.OpenAttachment(context.Background(), "gone"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing object, got %v", err)
	}
	if _, _, err := svc.OpenAttachment(context.Background(), "unknown"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown id, got %v", err)
	}
}

func TestPostService_GetPost_AggregatesTagsAndAttachments(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	term, _ := store.Terms().Ensure(ctx, "sun")
	if _, err := store.Posts().Create(ctx, &repository.Post{ID: "p1", SourceTimestamp: 1}, []string{term.ID}); err != nil {
		t.Fatalf("create post: %v", err)
	}
	if _, err := store.Attachments().Create(ctx, &repository.Attachment{ID: "a1", PostID: "p1"}); err != nil {
		t.Fatalf("create attachment: %v", err)
	}

	svc := NewPostService(store.Posts(), store.Terms(), store.Attachments())
	detail, err := svc.GetPost(ctx, "p1")
	if err != nil {
		t.Fatalf("GetPost returned error: %v", err)
	}
	if len(detail.Tags) != 1 || detail.Tags[0].Name != "sun" {
		t.Fatalf("unexpected tags %+v", detail.Tags)
	}
	if len(detail.Attachments) != 1 {
		t.Fatalf("unexpected attachments %+v", detail.Attachments)
	}

	if _, err := svc.GetPost(ctx, "missing"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
