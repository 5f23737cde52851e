package cache

import (
	"context"
	"errors"
	"io"
	"time"
)

// Store 负责管理磁盘缓存的读写。磁盘布局遵循：
//
//	<StoragePath>/_npm/<name>@<version>/<subpath>
//
// 缓存路径（以 / 开头的 URL 路径）原样映射为 StoragePath 下的相对路径。
type Store interface {
	// Get 返回一个可流式读取的缓存条目。若不存在则返回 ErrNotFound。
	Get(ctx context.Context, path string) (*ReadResult, error)

	// Stat 返回条目信息而不打开文件。若不存在（或是目录）则返回 ErrNotFound。
	Stat(path string) (*Entry, error)

	// Exists 报告缓存路径对应的文件或目录是否存在。
	Exists(path string) bool

	// Put 将正文写入缓存。实现需通过临时文件 + rename 保证写入原子性，
	// 并在失败时清理临时文件。
	Put(ctx context.Context, path string, body io.Reader, opts PutOptions) (*Entry, error)

	// Remove 删除正文文件。
	Remove(ctx context.Context, path string) error

	// MkdirAll 创建缓存路径对应的目录。
	MkdirAll(path string) error

	// Dirs 返回缓存路径下的子目录名；目录不存在时返回空列表。
	Dirs(path string) ([]string, error)

	// FilePath 返回缓存路径对应的绝对文件路径。
	FilePath(path string) (string, error)
}

// PutOptions 控制写入过程中的可选属性。
type PutOptions struct {
	ModTime time.Time
}

// Entry 表示一次缓存命中结果，包含绝对文件路径及文件信息。
type Entry struct {
	Path      string `json:"path"`
	FilePath  string `json:"file_path"`
	SizeBytes int64  `json:"size_bytes"`
	ModTime   time.Time
}

// ReadResult 组合 Entry 与正文 Reader，便于服务端直接将 Body 流式返回。
type ReadResult struct {
	Entry  Entry
	Reader io.ReadSeekCloser
}

// ErrNotFound 表示缓存不存在。
var ErrNotFound = errors.New("cache entry not found")

// ErrInvalidPath 表示缓存路径试图逃出存储根目录。
var ErrInvalidPath = errors.New("invalid cache path")
