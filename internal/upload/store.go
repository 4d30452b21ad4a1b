package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"gramport/internal/apperror"
	"gramport/internal/fileutil"
)

// ChunkStore 负责分片文件的落盘，不关心顺序与完整性。
type ChunkStore struct {
	layout Layout
}

func NewChunkStore(layout Layout) *ChunkStore {
	return &ChunkStore{layout: layout}
}

// EnsureSession 创建会话目录，目录已存在不视为错误。
func (s *ChunkStore) EnsureSession(id string) error {
	if err := os.MkdirAll(s.layout.SessionDir(id), 0o755); err != nil {
		return fmt.Errorf("ensure session dir: %w", err)
	}
	return nil
}

// Put 写入一个分片：先写临时文件再 rename，同一 index 重复提交时覆盖旧内容。
// 超过 limit 字节或内容为空时返回 InvalidInput。
func (s *ChunkStore) Put(ctx context.Context, id string, index int, r io.Reader, limit int64) (int64, error) {
	if s == nil {
		return 0, fmt.Errorf("chunk store uninitialized")
	}

	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	default:
	}

	dir := s.layout.SessionDir(id)
	tmp, err := os.CreateTemp(dir, "."+chunkName(index)+"-*.tmp")
	if err != nil {
		return 0, fmt.Errorf("create temp chunk: %w", err)
	}
	tempPath := tmp.Name()
	defer tmp.Close()

	written, err := io.Copy(tmp, io.LimitReader(r, limit+1))
	if err != nil {
		tmp.Close()
		os.Remove(tempPath)
		return 0, fmt.Errorf("write chunk: %w", err)
	}

	if written == 0 {
		tmp.Close()
		os.Remove(tempPath)
		return 0, apperror.New(apperror.InvalidInput, "Received empty chunk")
	}
	if written > limit {
		tmp.Close()
		os.Remove(tempPath)
		return 0, apperror.New(apperror.InvalidInput, fmt.Sprintf("Chunk exceeds maximum allowed size of %d", limit))
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tempPath)
		return 0, fmt.Errorf("sync chunk: %w", err)
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tempPath)
		return 0, fmt.Errorf("close chunk: %w", err)
	}

	if err := os.Rename(tempPath, s.layout.ChunkPath(id, index)); err != nil {
		os.Remove(tempPath)
		return 0, fmt.Errorf("rename chunk: %w", err)
	}

	return written, nil
}

// Delete 删除单个分片，不存在时忽略。
func (s *ChunkStore) Delete(id string, index int) error {
	err := os.Remove(s.layout.ChunkPath(id, index))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Indices 返回会话已收到的分片序号，按数值升序。
func (s *ChunkStore) Indices(id string) ([]int, error) {
	return chunkIndices(s.layout.SessionDir(id))
}

// Remove 删除整个会话目录。
func (s *ChunkStore) Remove(id string) error {
	return fileutil.RemoveTree(s.layout.SessionDir(id))
}

func chunkIndices(dir string) ([]int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	indices := make([]int, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if index, ok := parseChunkName(entry.Name()); ok {
			indices = append(indices, index)
		}
	}
	sort.Ints(indices)
	return indices, nil
}
