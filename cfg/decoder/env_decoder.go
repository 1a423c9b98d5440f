package decoder

import (
	"bufio"
	"bytes"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/hatlonely/rdbx/cfg/storage"
	"github.com/pkg/errors"
)

// EnvDecoder .env 格式编解码器
//
// 键按下划线拆成多级，统一转成小写：DATABASE_OPTIONS_DRIVER 对应 database.options.driver，
// 下标全部为连续整数的层级转成数组：TABLES_0_NAME 对应 tables[0].name。
// MapStorage 匹配字段时忽略大小写，所以 MAXCONNS 可以对应 maxConns。
type EnvDecoder struct{}

func NewEnvDecoder() *EnvDecoder {
	return &EnvDecoder{}
}

func (e *EnvDecoder) Decode(data []byte) (storage.Storage, error) {
	result := map[string]any{}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("invalid format at line %d: missing '=' separator", lineNum)
		}
		key = strings.TrimSpace(key)
		if key == "" {
			return nil, fmt.Errorf("invalid format at line %d: empty key", lineNum)
		}
		setPath(result, key, unquote(strings.TrimSpace(value)))
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to scan .env data")
	}
	return storage.NewMapStorage(toSlices(result)), nil
}

func unquote(value string) string {
	if len(value) >= 2 {
		if value[0] == '"' && value[len(value)-1] == '"' {
			if s, err := strconv.Unquote(value); err == nil {
				return s
			}
		}
		if value[0] == '\'' && value[len(value)-1] == '\'' {
			return value[1 : len(value)-1]
		}
	}
	if i := strings.Index(value, " #"); i >= 0 {
		return strings.TrimSpace(value[:i])
	}
	return value
}

// setPath 空段被忽略，与已有键冲突时保留先出现的值
func setPath(m map[string]any, key string, value string) {
	var parts []string
	for _, part := range strings.Split(strings.ToLower(key), "_") {
		if part != "" {
			parts = append(parts, part)
		}
	}
	if len(parts) == 0 {
		return
	}
	for _, part := range parts[:len(parts)-1] {
		next, ok := m[part].(map[string]any)
		if !ok {
			if _, exists := m[part]; exists {
				return
			}
			next = map[string]any{}
			m[part] = next
		}
		m = next
	}
	last := parts[len(parts)-1]
	if _, exists := m[last]; !exists {
		m[last] = value
	}
}

// toSlices 键为 0..n-1 的层级转成数组
func toSlices(v any) any {
	m, ok := v.(map[string]any)
	if !ok {
		return v
	}
	for k, child := range m {
		m[k] = toSlices(child)
	}
	if len(m) == 0 {
		return m
	}
	items := make([]any, len(m))
	for k, child := range m {
		idx, err := strconv.Atoi(k)
		if err != nil || idx < 0 || idx >= len(m) || items[idx] != nil {
			return m
		}
		items[idx] = child
	}
	return items
}

func (e *EnvDecoder) Encode(s storage.Storage) ([]byte, error) {
	data, err := rawData(s)
	if err != nil {
		return nil, err
	}
	lines := map[string]string{}
	flatten(lines, "", data)
	keys := make([]string, 0, len(lines))
	for k := range lines {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	for _, k := range keys {
		v := lines[k]
		if strings.ContainsAny(v, " #\"'\n") {
			v = strconv.Quote(v)
		}
		fmt.Fprintf(&buf, "%s=%s\n", k, v)
	}
	return buf.Bytes(), nil
}

func flatten(out map[string]string, prefix string, v any) {
	join := func(k string) string {
		k = strings.ToUpper(k)
		if prefix == "" {
			return k
		}
		return prefix + "_" + k
	}
	switch x := v.(type) {
	case map[string]any:
		for k, child := range x {
			flatten(out, join(k), child)
		}
	case []any:
		for i, child := range x {
			flatten(out, join(strconv.Itoa(i)), child)
		}
	case nil:
	default:
		out[prefix] = fmt.Sprint(x)
	}
}
