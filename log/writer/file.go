package writer

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// FileWriterOptions 文件输出配置
type FileWriterOptions struct {
	Path string `cfg:"path" validate:"required"`
	// MaxSize 单个文件的最大字节数，超过后轮转，0 表示不轮转
	MaxSize int64 `cfg:"maxSize"`
	// MaxBackups 保留的历史文件数，0 表示全部保留
	MaxBackups int `cfg:"maxBackups"`
}

// FileWriter 追加写入文件，按大小轮转
// 历史文件命名为 <path>.<yyyymmddhhmmss.nnnnnnnnn>
type FileWriter struct {
	options FileWriterOptions
	mu      sync.Mutex
	file    *os.File
	size    int64
}

func NewFileWriterWithOptions(options *FileWriterOptions) (*FileWriter, error) {
	if options == nil || options.Path == "" {
		return nil, errors.New("file path is required")
	}
	if err := os.MkdirAll(filepath.Dir(options.Path), 0755); err != nil {
		return nil, errors.Wrapf(err, "os.MkdirAll failed. dir: [%s]", filepath.Dir(options.Path))
	}
	w := &FileWriter{options: *options}
	if err := w.open(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *FileWriter) open() error {
	f, err := os.OpenFile(w.options.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return errors.Wrapf(err, "os.OpenFile failed. path: [%s]", w.options.Path)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return errors.Wrap(err, "file.Stat failed")
	}
	w.file = f
	w.size = info.Size()
	return nil
}

func (w *FileWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return 0, errors.New("file writer is closed")
	}
	if w.options.MaxSize > 0 && w.size > 0 && w.size+int64(len(p)) > w.options.MaxSize {
		if err := w.rotate(); err != nil {
			return 0, err
		}
	}
	n, err := w.file.Write(p)
	w.size += int64(n)
	return n, err
}

func (w *FileWriter) rotate() error {
	if err := w.file.Close(); err != nil {
		return errors.Wrap(err, "file.Close failed")
	}
	w.file = nil
	backup := fmt.Sprintf("%s.%s", w.options.Path, time.Now().Format("20060102150405.000000000"))
	if err := os.Rename(w.options.Path, backup); err != nil {
		return errors.Wrap(err, "os.Rename failed")
	}
	if err := w.open(); err != nil {
		return err
	}
	return w.removeBackups()
}

func (w *FileWriter) removeBackups() error {
	if w.options.MaxBackups <= 0 {
		return nil
	}
	backups, err := filepath.Glob(w.options.Path + ".*")
	if err != nil {
		return errors.Wrap(err, "filepath.Glob failed")
	}
	if len(backups) <= w.options.MaxBackups {
		return nil
	}
	sort.Strings(backups)
	for _, name := range backups[:len(backups)-w.options.MaxBackups] {
		if !strings.HasPrefix(name, w.options.Path+".") {
			continue
		}
		if err := os.Remove(name); err != nil {
			return errors.Wrap(err, "os.Remove failed")
		}
	}
	return nil
}

func (w *FileWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}
