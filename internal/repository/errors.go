package repository

import "errors"

// ErrNotFound 表示目标记录不存在。
var ErrNotFound = errors.New("repository: record not found")

// ErrDuplicate 表示唯一键冲突，例如同一源时间戳的帖子已存在。
var ErrDuplicate = errors.New("repository: duplicate record")
