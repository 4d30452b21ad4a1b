package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"gramport/internal/repository"
	"gramport/internal/storage"
)

// ErrNotFile 表示待上传路径不是普通文件。
var ErrNotFile = errors.New("media path is not a regular file")

// MediaService 负责把导出包里的媒体文件写入存储并登记为附件。
type MediaService struct {
	repo  repository.AttachmentRepository
	store storage.Storage
}

func NewMediaService(repo repository.AttachmentRepository, store storage.Storage) *MediaService {
	return &MediaService{repo: repo, store: store}
}

// Sideload 读取本地文件 path，写入 posts/<post_id>/<attachment_id>-<name> 并创建附件记录。
// 附件记录写入失败时会回收已写入的对象。
func (s *MediaService) Sideload(ctx context.Context, postID, path string) (*repository.Attachment, error) {
	if s == nil || s.repo == nil || s.store == nil {
		return nil, errors.New("media service not initialized")
	}
	if postID == "" {
		return nil, fmt.Errorf("post_id is required")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat media: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s", ErrNotFile, path)
	}

	mimeType, err := detectMimeType(file)
	if err != nil {
		return nil, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate attachment id: %w", err)
	}

	name := filepath.Base(path)
	key := fmt.Sprintf("posts/%s/%s-%s", postID, id.String(), storageName(name))

	if _, err := s.store.Write(ctx, key, file); err != nil {
		return nil, fmt.Errorf("write storage: %w", err)
	}

	att, err := s.repo.Create(ctx, &repository.Attachment{
		ID:           id.String(),
		PostID:       postID,
		OriginalName: name,
		MimeType:     mimeType,
		SizeBytes:    info.Size(),
		StoragePath:  key,
		CreatedAt:    time.Now().UTC(),
	})
	if err != nil {
		if delErr := s.store.Delete(ctx, key); delErr != nil {
			err = errors.Join(err, fmt.Errorf("remove orphaned object: %w", delErr))
		}
		return nil, fmt.Errorf("create attachment: %w", err)
	}
	return att, nil
}

// OpenAttachment 返回附件元数据及其内容流，调用方负责关闭。
func (s *MediaService) OpenAttachment(ctx context.Context, id string) (*repository.Attachment, io.ReadCloser, error) {
	if s == nil || s.repo == nil || s.store == nil {
		return nil, nil, errors.New("media service not initialized")
	}

	att, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	body, err := s.store.Read(ctx, att.StoragePath)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil, repository.ErrNotFound
		}
		return nil, nil, fmt.Errorf("read storage: %w", err)
	}
	return att, body, nil
}

// detectMimeType 先按扩展名判断，无法判断时嗅探文件头，完成后把读取位置复位。
func detectMimeType(file *os.File) (string, error) {
	if byExt := mime.TypeByExtension(strings.ToLower(filepath.Ext(file.Name()))); byExt != "" {
		return stripParams(byExt), nil
	}

	head := make([]byte, 512)
	n, err := io.ReadFull(file, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read media header: %w", err)
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("rewind media: %w", err)
	}
	return stripParams(http.DetectContentType(head[:n])), nil
}

func stripParams(contentType string) string {
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		return strings.TrimSpace(contentType[:i])
	}
	return contentType
}

// storageName 只保留对象键中安全的字符。
func storageName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "media"
	}
	return b.String()
}
