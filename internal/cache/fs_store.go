package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// NewStore 以 basePath 为根目录构建磁盘缓存，整个进程复用一份实例。
func NewStore(basePath string) (Store, error) {
	if basePath == "" {
		return nil, errors.New("storage path required")
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}

	return &fileStore{
		basePath: abs,
		locks:    make(map[string]*entryLock),
	}, nil
}

// fileStore 通过 entryLock 避免同一路径并发写入。
type fileStore struct {
	basePath string

	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

func (s *fileStore) Get(ctx context.Context, cachePath string) (*ReadResult, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	entry, err := s.Stat(cachePath)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(entry.FilePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	return &ReadResult{
		Entry:  *entry,
		Reader: f,
	}, nil
}

func (s *fileStore) Stat(cachePath string) (*Entry, error) {
	filePath, err := s.entryPath(cachePath)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if info.IsDir() {
		return nil, ErrNotFound
	}

	return &Entry{
		Path:      cachePath,
		FilePath:  filePath,
		SizeBytes: info.Size(),
		ModTime:   info.ModTime(),
	}, nil
}

func (s *fileStore) Exists(cachePath string) bool {
	filePath, err := s.entryPath(cachePath)
	if err != nil {
		return false
	}
	_, err = os.Stat(filePath)
	return err == nil
}

func (s *fileStore) Put(ctx context.Context, cachePath string, body io.Reader, opts PutOptions) (*Entry, error) {
	unlock := s.lockEntry(cachePath)
	defer unlock()

	filePath, err := s.entryPath(cachePath)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return nil, err
	}

	tempFile, err := os.CreateTemp(filepath.Dir(filePath), ".cache-*")
	if err != nil {
		return nil, err
	}
	tempName := tempFile.Name()

	written, err := copyWithContext(ctx, tempFile, body)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return nil, err
	}

	if err := os.Rename(tempName, filePath); err != nil {
		os.Remove(tempName)
		return nil, err
	}

	modTime := opts.ModTime
	if modTime.IsZero() {
		modTime = time.Now().UTC()
	}
	if err := os.Chtimes(filePath, modTime, modTime); err != nil {
		return nil, err
	}

	return &Entry{
		Path:      cachePath,
		FilePath:  filePath,
		SizeBytes: written,
		ModTime:   modTime,
	}, nil
}

func (s *fileStore) Remove(ctx context.Context, cachePath string) error {
	unlock := s.lockEntry(cachePath)
	defer unlock()

	filePath, err := s.entryPath(cachePath)
	if err != nil {
		return err
	}
	if err := os.Remove(filePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (s *fileStore) MkdirAll(cachePath string) error {
	dirPath, err := s.entryPath(cachePath)
	if err != nil {
		return err
	}
	return os.MkdirAll(dirPath, 0o755)
}

func (s *fileStore) Dirs(cachePath string) ([]string, error) {
	dirPath, err := s.entryPath(cachePath)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dirPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	return names, nil
}

func (s *fileStore) FilePath(cachePath string) (string, error) {
	return s.entryPath(cachePath)
}

func (s *fileStore) lockEntry(cachePath string) func() {
	s.mu.Lock()
	lock := s.locks[cachePath]
	if lock == nil {
		lock = &entryLock{}
		s.locks[cachePath] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		s.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, cachePath)
		}
		s.mu.Unlock()
	}
}

// entryPath 将缓存路径映射到 basePath 下，拒绝清理后仍指向根目录之外的路径。
func (s *fileStore) entryPath(cachePath string) (string, error) {
	if cachePath == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidPath)
	}
	if strings.Contains(cachePath, "\x00") {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, cachePath)
	}
	for _, segment := range strings.Split(cachePath, "/") {
		if segment == ".." {
			return "", fmt.Errorf("%w: %s", ErrInvalidPath, cachePath)
		}
	}

	rel := strings.TrimPrefix(path.Clean("/"+cachePath), "/")
	if rel == "" {
		return s.basePath, nil
	}
	return filepath.Join(s.basePath, filepath.FromSlash(rel)), nil
}

func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	var copied int64
	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return copied, err
		}
		n, err := src.Read(buf)
		if n > 0 {
			w, wErr := dst.Write(buf[:n])
			copied += int64(w)
			if wErr != nil {
				return copied, wErr
			}
			if w < n {
				return copied, io.ErrShortWrite
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return copied, nil
			}
			return copied, err
		}
	}
}
