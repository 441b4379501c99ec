package cache

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// CachedFileExt 是下载图片统一使用的扩展名。
const CachedFileExt = ".jpg"

// Entry 描述一次写入结果。
type Entry struct {
	FilePath  string `json:"file_path"`
	Hash      string `json:"hash"`
	SizeBytes int64  `json:"size_bytes"`
	// Existed 为 true 表示同名文件已存在，本次下载的内容被丢弃。
	Existed bool `json:"existed"`
}

// ContentStore 以内容哈希命名缓存文件：<dir>/<md5>.jpg。
// 正文边下载边写入临时文件并同时计算哈希，不会整体读入内存。
type ContentStore struct {
	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

// NewContentStore 构建内容寻址存储，整站复用一份实例。
func NewContentStore() *ContentStore {
	return &ContentStore{locks: make(map[string]*entryLock)}
}

// Put 将 body 写入 dir，文件名取正文 MD5。目标已存在时删除临时文件、保留旧文件，
// 下载本身仍然发生，节省的是磁盘而不是带宽。
func (s *ContentStore) Put(ctx context.Context, dir string, body io.Reader) (*Entry, error) {
	if dir == "" {
		return nil, errors.New("cache directory required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}

	tempFile, err := os.CreateTemp(dir, ".cache-*")
	if err != nil {
		return nil, err
	}
	tempName := tempFile.Name()

	hasher := md5.New()
	written, err := copyWithContext(ctx, io.MultiWriter(tempFile, hasher), body)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return nil, err
	}

	hash := hex.EncodeToString(hasher.Sum(nil))
	filePath := filepath.Join(dir, hash+CachedFileExt)

	unlock := s.lockEntry(filePath)
	defer unlock()

	entry := &Entry{
		FilePath:  filepath.ToSlash(filePath),
		Hash:      hash,
		SizeBytes: written,
	}
	if info, statErr := os.Stat(filePath); statErr == nil && !info.IsDir() {
		os.Remove(tempName)
		entry.Existed = true
		return entry, nil
	}

	if err := os.Rename(tempName, filePath); err != nil {
		os.Remove(tempName)
		return nil, err
	}
	return entry, nil
}

// Exists 判断缓存文件是否仍在磁盘上（可能被外部删除）。
func Exists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(filepath.FromSlash(path))
	if err != nil {
		return false
	}
	return !info.IsDir()
}

func (s *ContentStore) lockEntry(key string) func() {
	s.mu.Lock()
	lock := s.locks[key]
	if lock == nil {
		lock = &entryLock{}
		s.locks[key] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		s.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, key)
		}
		s.mu.Unlock()
	}
}

func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	var copied int64
	buf := make([]byte, 80*1024)
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
