package stores

import (
	"context"
	"io"
)

// Store 对象存储抽象（源文档所在的 blob 存储）
type Store interface {
	// Download 按路径读取完整对象内容
	Download(ctx context.Context, key string) ([]byte, error)

	// Read 按路径打开对象读取流
	Read(ctx context.Context, key string) (io.ReadCloser, int64, error)

	// Write 写入对象
	Write(ctx context.Context, key string, r io.Reader, size int64, contentType string) error

	// Delete 删除对象
	Delete(ctx context.Context, key string) error

	// Exists 检查对象是否存在
	Exists(ctx context.Context, key string) (bool, error)
}
