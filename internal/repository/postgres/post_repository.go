package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"gramport/internal/repository"
)

// NewPostRepository 返回基于 *sql.DB 的帖子仓储。
func NewPostRepository(db *sql.DB) *PostRepository {
	return &PostRepository{db: db}
}

// PostRepository 实现 repository.PostRepository。
type PostRepository struct {
	db *sql.DB
}

var postColumns = []string{
	"id",
	"title",
	"body",
	"source_timestamp",
	"published_at",
	"thumbnail_id",
	"created_at",
}

// Create 在一个事务里插入帖子与词条关联。source_timestamp 冲突时不写入任何内容。
func (r *PostRepository) Create(ctx context.Context, post *repository.Post, termIDs []string) (*repository.Post, error) {
	if post == nil {
		return nil, fmt.Errorf("post is nil")
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin post tx: %w", err)
	}

	query := fmt.Sprintf(`INSERT INTO posts (%s)
	VALUES (%s)
	ON CONFLICT (source_timestamp) DO NOTHING
	RETURNING %s`,
		columns(postColumns),
		placeholders(len(postColumns)),
		columns(postColumns),
	)

	var thumbnail sql.NullString
	if post.ThumbnailID != nil {
		thumbnail = sql.NullString{String: *post.ThumbnailID, Valid: true}
	}

	row := tx.QueryRowContext(
		ctx,
		query,
		post.ID,
		post.Title,
		post.Body,
		post.SourceTimestamp,
		toUnix(post.PublishedAt),
		thumbnail,
		toUnix(post.CreatedAt),
	)

	created, err := scanPost(row)
	if err != nil {
		tx.Rollback()
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrDuplicate
		}
		return nil, fmt.Errorf("insert post: %w", err)
	}

	for i, termID := range termIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO post_terms (post_id, term_id, position) VALUES ($1, $2, $3)
			ON CONFLICT (post_id, term_id) DO NOTHING`,
			created.ID, termID, i,
		); err != nil {
			tx.Rollback()
			return nil, fmt.Errorf("link term %s: %w", termID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit post: %w", err)
	}
	return created, nil
}

// GetByID 通过主键查询帖子。
func (r *PostRepository) GetByID(ctx context.Context, id string) (*repository.Post, error) {
	query := fmt.Sprintf(`SELECT %s FROM posts WHERE id = $1`, columns(postColumns))
	post, err := scanPost(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return post, nil
}

// List 按发布时间倒序分页。
func (r *PostRepository) List(ctx context.Context, params repository.ListPostsParams) ([]repository.Post, error) {
	limit := params.Limit
	if limit <= 0 {
		limit = 50
	}

	args := []any{limit}
	tail := "ORDER BY published_at DESC, id LIMIT $1"
	if params.Offset > 0 {
		args = append(args, params.Offset)
		tail += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	query := fmt.Sprintf(`SELECT %s FROM posts %s`, columns(postColumns), tail)
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []repository.Post
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *post)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// ExistsByTimestamp 判断是否已导入过相同源时间戳的帖子。
func (r *PostRepository) ExistsByTimestamp(ctx context.Context, ts int64) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM posts WHERE source_timestamp = $1)`, ts,
	).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

// SetThumbnail 设置帖子封面。
func (r *PostRepository) SetThumbnail(ctx context.Context, postID, attachmentID string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE posts SET thumbnail_id = $1 WHERE id = $2`, attachmentID, postID)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func scanPost(rs rowScanner) (*repository.Post, error) {
	var (
		post        repository.Post
		publishedAt int64
		createdAt   int64
		thumbnail   sql.NullString
	)
	if err := rs.Scan(
		&post.ID,
		&post.Title,
		&post.Body,
		&post.SourceTimestamp,
		&publishedAt,
		&thumbnail,
		&createdAt,
	); err != nil {
		return nil, err
	}

	post.PublishedAt = fromUnix(publishedAt)
	post.CreatedAt = fromUnix(createdAt)
	if thumbnail.Valid {
		post.ThumbnailID = &thumbnail.String
	}
	return &post, nil
}
