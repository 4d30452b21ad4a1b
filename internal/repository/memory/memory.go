// Package memory keeps imported content in process memory. It backs
// DB_DRIVER=memory and tests; nothing survives a restart.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"gramport/internal/repository"
)

// Store holds the shared tables behind the three repositories.
type Store struct {
	mu          sync.RWMutex
	posts       map[string]repository.Post
	byTimestamp map[int64]string
	terms       map[string]repository.Term // by name
	postTerms   map[string][]string        // post id -> term ids in order
	attachments map[string]repository.Attachment
	postMedia   map[string][]string // post id -> attachment ids in insert order
}

func New() *Store {
	return &Store{
		posts:       make(map[string]repository.Post),
		byTimestamp: make(map[int64]string),
		terms:       make(map[string]repository.Term),
		postTerms:   make(map[string][]string),
		attachments: make(map[string]repository.Attachment),
		postMedia:   make(map[string][]string),
	}
}

func (s *Store) Posts() *PostRepository             { return &PostRepository{s: s} }
func (s *Store) Terms() *TermRepository             { return &TermRepository{s: s} }
func (s *Store) Attachments() *AttachmentRepository { return &AttachmentRepository{s: s} }

// PostRepository implements repository.PostRepository.
type PostRepository struct{ s *Store }

func (r *PostRepository) Create(ctx context.Context, post *repository.Post, termIDs []string) (*repository.Post, error) {
	if post == nil {
		return nil, fmt.Errorf("post is nil")
	}
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byTimestamp[post.SourceTimestamp]; ok {
		return nil, repository.ErrDuplicate
	}
	if _, ok := s.posts[post.ID]; ok {
		return nil, repository.ErrDuplicate
	}

	stored := *post
	s.posts[stored.ID] = stored
	s.byTimestamp[stored.SourceTimestamp] = stored.ID

	seen := make(map[string]bool, len(termIDs))
	for _, id := range termIDs {
		if !seen[id] {
			seen[id] = true
			s.postTerms[stored.ID] = append(s.postTerms[stored.ID], id)
		}
	}

	out := stored
	return &out, nil
}

func (r *PostRepository) GetByID(ctx context.Context, id string) (*repository.Post, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	post, ok := r.s.posts[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &post, nil
}

func (r *PostRepository) List(ctx context.Context, params repository.ListPostsParams) ([]repository.Post, error) {
	r.s.mu.RLock()
	all := make([]repository.Post, 0, len(r.s.posts))
	for _, p := range r.s.posts {
		all = append(all, p)
	}
	r.s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if !all[i].PublishedAt.Equal(all[j].PublishedAt) {
			return all[i].PublishedAt.After(all[j].PublishedAt)
		}
		return all[i].ID < all[j].ID
	})

	limit := params.Limit
	if limit <= 0 {
		limit = 50
	}
	if params.Offset >= len(all) {
		return nil, nil
	}
	all = all[max(params.Offset, 0):]
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (r *PostRepository) ExistsByTimestamp(ctx context.Context, ts int64) (bool, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	_, ok := r.s.byTimestamp[ts]
	return ok, nil
}

func (r *PostRepository) SetThumbnail(ctx context.Context, postID, attachmentID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	post, ok := r.s.posts[postID]
	if !ok {
		return repository.ErrNotFound
	}
	post.ThumbnailID = &attachmentID
	r.s.posts[postID] = post
	return nil
}

// TermRepository implements repository.TermRepository.
type TermRepository struct{ s *Store }

func (r *TermRepository) Ensure(ctx context.Context, name string) (*repository.Term, error) {
	if name == "" {
		return nil, fmt.Errorf("term name is empty")
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	term, ok := r.s.terms[name]
	if !ok {
		term = repository.Term{ID: uuid.NewString(), Name: name}
		r.s.terms[name] = term
	}
	return &term, nil
}

func (r *TermRepository) ListByPost(ctx context.Context, postID string) ([]repository.Term, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	byID := make(map[string]repository.Term, len(r.s.terms))
	for _, t := range r.s.terms {
		byID[t.ID] = t
	}

	var out []repository.Term
	for _, id := range r.s.postTerms[postID] {
		if t, ok := byID[id]; ok {
			out = append(out, t)
		}
	}
	return out, nil
}

// AttachmentRepository implements repository.AttachmentRepository.
type AttachmentRepository struct{ s *Store }

func (r *AttachmentRepository) Create(ctx context.Context, att *repository.Attachment) (*repository.Attachment, error) {
	if att == nil {
		return nil, fmt.Errorf("attachment is nil")
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.posts[att.PostID]; !ok {
		return nil, fmt.Errorf("attachment post %s: %w", att.PostID, repository.ErrNotFound)
	}
	if _, ok := r.s.attachments[att.ID]; ok {
		return nil, repository.ErrDuplicate
	}

	stored := *att
	r.s.attachments[stored.ID] = stored
	r.s.postMedia[stored.PostID] = append(r.s.postMedia[stored.PostID], stored.ID)

	out := stored
	return &out, nil
}

func (r *AttachmentRepository) GetByID(ctx context.Context, id string) (*repository.Attachment, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	att, ok := r.s.attachments[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &att, nil
}

func (r *AttachmentRepository) ListByPost(ctx context.Context, postID string) ([]repository.Attachment, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []repository.Attachment
	for _, id := range r.s.postMedia[postID] {
		out = append(out, r.s.attachments[id])
	}
	return out, nil
}

var (
	_ repository.PostRepository       = (*PostRepository)(nil)
	_ repository.TermRepository       = (*TermRepository)(nil)
	_ repository.AttachmentRepository = (*AttachmentRepository)(nil)
)
