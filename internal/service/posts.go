package service

import (
	"context"
	"errors"

	"gramport/internal/repository"
)

// PostDetail 是帖子及其标签、附件的聚合视图。
type PostDetail struct {
	repository.Post
	Tags        []repository.Term       `json:"tags"`
	Attachments []repository.Attachment `json:"attachments"`
}

// PostService 提供已导入内容的只读查询。
type PostService struct {
	posts       repository.PostRepository
	terms       repository.TermRepository
	attachments repository.AttachmentRepository
}

func NewPostService(posts repository.PostRepository, terms repository.TermRepository, attachments repository.AttachmentRepository) *PostService {
	return &PostService{posts: posts, terms: terms, attachments: attachments}
}

func (s *PostService) ListPosts(ctx context.Context, params repository.ListPostsParams) ([]repository.Post, error) {
	if s == nil || s.posts == nil {
		return nil, errors.New("post service not initialized")
	}
	return s.posts.List(ctx, params)
}

func (s *PostService) GetPost(ctx context.Context, id string) (*PostDetail, error) {
	if s == nil || s.posts == nil || s.terms == nil || s.attachments == nil {
		return nil, errors.New("post service not initialized")
	}

	post, err := s.posts.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	tags, err := s.terms.ListByPost(ctx, id)
	if err != nil {
		return nil, err
	}
	attachments, err := s.attachments.ListByPost(ctx, id)
	if err != nil {
		return nil, err
	}

	detail := &PostDetail{Post: *post, Tags: tags, Attachments: attachments}
	if detail.Tags == nil {
		detail.Tags = []repository.Term{}
	}
	if detail.Attachments == nil {
		detail.Attachments = []repository.Attachment{}
	}
	return detail, nil
}
