package provider

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

type EnvProviderOptions struct {
	// EnvFiles 按顺序加载，后面的覆盖前面的，都覆盖进程环境变量；文件不存在时忽略
	EnvFiles []string `cfg:"envFiles"`
	// Prefix 只处理带该前缀的变量，前缀在输出中被移除，如 RDBX_
	Prefix string `cfg:"prefix"`
}

// EnvProvider 把进程环境变量和 .env 文件合并成 .env 格式的数据，配合 EnvDecoder 使用
type EnvProvider struct {
	envFiles []string
	prefix   string
}

func NewEnvProviderWithOptions(options *EnvProviderOptions) (*EnvProvider, error) {
	if options == nil {
		options = &EnvProviderOptions{}
	}
	var envFiles []string
	for _, file := range options.EnvFiles {
		if file == "" {
			continue
		}
		absPath, err := filepath.Abs(file)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid env file path: %s", file)
		}
		envFiles = append(envFiles, absPath)
	}
	return &EnvProvider{envFiles: envFiles, prefix: options.Prefix}, nil
}

func (p *EnvProvider) Load() ([]byte, error) {
	envVars := map[string]string{}
	for _, env := range os.Environ() {
		key, value, ok := strings.Cut(env, "=")
		if !ok {
			continue
		}
		if key = p.trimPrefix(key); key != "" {
			envVars[key] = value
		}
	}
	for _, file := range p.envFiles {
		if err := p.loadEnvFile(file, envVars); err != nil && !os.IsNotExist(errors.Cause(err)) {
			return nil, errors.Wrapf(err, "failed to load env file: %s", file)
		}
	}

	keys := make([]string, 0, len(envVars))
	for k := range envVars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		v := envVars[k]
		if strings.Contains(v, "\n") {
			v = strconv.Quote(v)
		}
		fmt.Fprintf(&b, "%s=%s\n", k, v)
	}
	return []byte(b.String()), nil
}

// loadEnvFile 值保持原样，引号交给 decoder 处理
func (p *EnvProvider) loadEnvFile(filename string, envVars map[string]string) error {
	f, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(strings.TrimPrefix(line, "export "), "=")
		if !ok {
			continue
		}
		if key = p.trimPrefix(strings.TrimSpace(key)); key != "" {
			envVars[key] = strings.TrimSpace(value)
		}
	}
	return scanner.Err()
}

// trimPrefix 返回空字符串表示跳过
func (p *EnvProvider) trimPrefix(key string) string {
	if p.prefix == "" {
		return key
	}
	if !strings.HasPrefix(key, p.prefix) {
		return ""
	}
	return key[len(p.prefix):]
}

func (p *EnvProvider) Save(data []byte) error {
	return errors.New("env provider does not support save operation")
}

// OnChange 环境变量不会变更
func (p *EnvProvider) OnChange(fn func(data []byte) error) {}

func (p *EnvProvider) Watch() error { return nil }

func (p *EnvProvider) Close() error { return nil }
