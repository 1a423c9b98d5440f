package provider

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/hatlonely/rdbx/log"
	"github.com/pkg/errors"
)

type FileProviderOptions struct {
	FilePath string `cfg:"filePath" validate:"required"`
}

// FileProvider 读写本地文件，Watch 后监听文件所在目录，
// 文件被写入或通过 rename 替换时重新读取并回调
type FileProvider struct {
	filePath string
	logger   log.Logger

	mu       sync.RWMutex
	watcher  *fsnotify.Watcher
	onChange []func(data []byte) error
	once     sync.Once
}

func NewFileProviderWithOptions(options *FileProviderOptions) (*FileProvider, error) {
	if options == nil || options.FilePath == "" {
		return nil, errors.New("file path is required")
	}
	absPath, err := filepath.Abs(options.FilePath)
	if err != nil {
		return nil, errors.Wrap(err, "invalid file path")
	}
	return &FileProvider{
		filePath: absPath,
		logger:   log.Default().With("component", "cfg.file", "file", absPath),
	}, nil
}

func (p *FileProvider) Load() ([]byte, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	data, err := os.ReadFile(p.filePath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read file")
	}
	return data, nil
}

func (p *FileProvider) Save(data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := os.WriteFile(p.filePath, data, 0644); err != nil {
		return errors.Wrap(err, "failed to write file")
	}
	return nil
}

func (p *FileProvider) OnChange(fn func(data []byte) error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onChange = append(p.onChange, fn)
}

func (p *FileProvider) Watch() error {
	var initErr error
	p.once.Do(func() {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			initErr = errors.Wrap(err, "failed to create file watcher")
			return
		}
		// 监听目录，rename 替换文件后仍能收到事件
		if err := watcher.Add(filepath.Dir(p.filePath)); err != nil {
			_ = watcher.Close()
			initErr = errors.Wrap(err, "failed to add directory to watcher")
			return
		}

		p.mu.Lock()
		p.watcher = watcher
		p.mu.Unlock()

		go p.loop(watcher)
	})
	return initErr
}

func (p *FileProvider) loop(watcher *fsnotify.Watcher) {
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != p.filePath {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			data, err := p.Load()
			if err != nil {
				p.logger.Warn("reload file failed", "error", err)
				continue
			}
			p.notify(data)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			p.logger.Warn("file watcher error", "error", err)
		}
	}
}

func (p *FileProvider) notify(data []byte) {
	p.mu.RLock()
	handlers := make([]func(data []byte) error, len(p.onChange))
	copy(handlers, p.onChange)
	p.mu.RUnlock()

	for _, handler := range handlers {
		if err := handler(data); err != nil {
			p.logger.Warn("onChange handler failed", "error", err)
		}
	}
}

func (p *FileProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.watcher != nil {
		err := p.watcher.Close()
		p.watcher = nil
		return err
	}
	return nil
}
