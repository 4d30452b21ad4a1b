package fileutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// RemoveTree 删除 root 及其全部内容：显式栈深度优先遍历，子项先于父目录删除。
// root 不存在时视为成功。符号链接只删除链接本身。
func RemoveTree(root string) error {
	info, err := os.Lstat(root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if !info.IsDir() {
		return os.Remove(root)
	}

	type frame struct {
		path     string
		expanded bool
	}

	stack := []frame{{path: root}}
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		if top.expanded {
			if err := os.Remove(top.path); err != nil && !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("remove dir %s: %w", top.path, err)
			}
			stack = stack[:len(stack)-1]
			continue
		}

		top.expanded = true
		dir := top.path
		entries, err := os.ReadDir(dir)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("read dir %s: %w", dir, err)
		}

		for _, entry := range entries {
			child := filepath.Join(dir, entry.Name())
			if entry.IsDir() {
				stack = append(stack, frame{path: child})
				continue
			}
			if err := os.Remove(child); err != nil && !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("remove file %s: %w", child, err)
			}
		}
	}

	return nil
}
