package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"gramport/internal/repository"
)

func NewAttachmentRepository(db *sql.DB) *AttachmentRepository {
	return &AttachmentRepository{db: db}
}

// AttachmentRepository 实现 repository.AttachmentRepository。
type AttachmentRepository struct {
	db *sql.DB
}

var attachmentColumns = []string{
	"id",
	"post_id",
	"original_name",
	"mime_type",
	"size_bytes",
	"storage_path",
	"created_at",
}

func (r *AttachmentRepository) Create(ctx context.Context, att *repository.Attachment) (*repository.Attachment, error) {
	if att == nil {
		return nil, fmt.Errorf("attachment is nil")
	}

	query := fmt.Sprintf(`INSERT INTO attachments (%s)
	VALUES (%s)
	RETURNING %s`,
		columns(attachmentColumns),
		placeholders(len(attachmentColumns)),
		columns(attachmentColumns),
	)

	row := r.db.QueryRowContext(
		ctx,
		query,
		att.ID,
		att.PostID,
		att.OriginalName,
		att.MimeType,
		att.SizeBytes,
		att.StoragePath,
		toUnix(att.CreatedAt),
	)
	return scanAttachment(row)
}

func (r *AttachmentRepository) GetByID(ctx context.Context, id string) (*repository.Attachment, error) {
	query := fmt.Sprintf(`SELECT %s FROM attachments WHERE id = $1`, columns(attachmentColumns))
	att, err := scanAttachment(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return att, nil
}

// ListByPost 附件 ID 为 UUIDv7，按 ID 排序即为写入顺序。
func (r *AttachmentRepository) ListByPost(ctx context.Context, postID string) ([]repository.Attachment, error) {
	query := fmt.Sprintf(`SELECT %s FROM attachments WHERE post_id = $1 ORDER BY id`, columns(attachmentColumns))
	rows, err := r.db.QueryContext(ctx, query, postID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []repository.Attachment
	for rows.Next() {
		att, err := scanAttachment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *att)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func scanAttachment(rs rowScanner) (*repository.Attachment, error) {
	var (
		att       repository.Attachment
		createdAt int64
	)
	if err := rs.Scan(
		&att.ID,
		&att.PostID,
		&att.OriginalName,
		&att.MimeType,
		&att.SizeBytes,
		&att.StoragePath,
		&createdAt,
	); err != nil {
		return nil, err
	}
	att.CreatedAt = fromUnix(createdAt)
	return &att, nil
}
