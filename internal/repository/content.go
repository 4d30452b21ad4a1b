package repository

import (
	"context"
	"time"
)

// Post 是一条导入后的帖子。SourceTimestamp 来自导出文件，用作去重键。
type Post struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	Body            string    `json:"body"`
	SourceTimestamp int64     `json:"source_timestamp"`
	PublishedAt     time.Time `json:"published_at"`
	ThumbnailID     *string   `json:"thumbnail_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// Term 是标签分类中的一个词条，名称区分大小写。
type Term struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Attachment 是挂在帖子下的媒体文件元数据。
type Attachment struct {
	ID           string    `json:"id"`
	PostID       string    `json:"post_id"`
	OriginalName string    `json:"original_name"`
	MimeType     string    `json:"mime_type"`
	SizeBytes    int64     `json:"size_bytes"`
	StoragePath  string    `json:"storage_path"`
	CreatedAt    time.Time `json:"created_at"`
}

// ListPostsParams 用于分页检索帖子。
type ListPostsParams struct {
	Limit  int
	Offset int
}

// PostRepository 帖子持久层接口。
type PostRepository interface {
	// Create 插入帖子并关联词条；SourceTimestamp 已存在时返回 ErrDuplicate。
	Create(ctx context.Context, post *Post, termIDs []string) (*Post, error)
	GetByID(ctx context.Context, id string) (*Post, error)
	List(ctx context.Context, params ListPostsParams) ([]Post, error)
	ExistsByTimestamp(ctx context.Context, ts int64) (bool, error)
	SetThumbnail(ctx context.Context, postID, attachmentID string) error
}

// TermRepository 标签词条持久层接口。
type TermRepository interface {
	// Ensure 按名称查找词条，不存在时创建。
	Ensure(ctx context.Context, name string) (*Term, error)
	ListByPost(ctx context.Context, postID string) ([]Term, error)
}

// AttachmentRepository 附件元数据持久层接口。
type AttachmentRepository interface {
	Create(ctx context.Context, att *Attachment) (*Attachment, error)
	GetByID(ctx context.Context, id string) (*Attachment, error)
	ListByPost(ctx context.Context, postID string) ([]Attachment, error)
}
