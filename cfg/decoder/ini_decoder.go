package decoder

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/hatlonely/rdbx/cfg/storage"
	"github.com/pkg/errors"
	"gopkg.in/ini.v1"
)

type IniDecoderOptions struct {
	// AllowShadows 重复键解码为数组，编码时数组写成重复键
	AllowShadows bool `cfg:"allowShadows"`
}

// IniDecoder INI 格式编解码器
// section 名中的点号表示嵌套，[database.options] 对应 database.options
// 值保持字符串，由 MapStorage 在转换时按目标类型解析
type IniDecoder struct {
	allowShadows bool
}

func NewIniDecoder() *IniDecoder {
	return &IniDecoder{}
}

func NewIniDecoderWithOptions(options *IniDecoderOptions) *IniDecoder {
	if options == nil {
		return NewIniDecoder()
	}
	return &IniDecoder{allowShadows: options.AllowShadows}
}

func (i *IniDecoder) Decode(data []byte) (storage.Storage, error) {
	f, err := ini.LoadSources(ini.LoadOptions{
		AllowShadows:             i.allowShadows,
		SpaceBeforeInlineComment: true,
	}, data)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode INI")
	}

	result := map[string]any{}
	for _, section := range f.Sections() {
		target := result
		if section.Name() != ini.DefaultSection {
			for _, part := range strings.Split(section.Name(), ".") {
				next, ok := target[part].(map[string]any)
				if !ok {
					next = map[string]any{}
					target[part] = next
				}
				target = next
			}
		}
		for _, key := range section.Keys() {
			if values := key.ValueWithShadows(); i.allowShadows && len(values) > 1 {
				items := make([]any, len(values))
				for idx, v := range values {
					items[idx] = v
				}
				target[key.Name()] = items
				continue
			}
			target[key.Name()] = key.String()
		}
	}
	return storage.NewMapStorage(result), nil
}

func (i *IniDecoder) Encode(s storage.Storage) ([]byte, error) {
	data, err := rawData(s)
	if err != nil {
		return nil, err
	}
	m, ok := data.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("unsupported data type for INI encoding: %T", data)
	}

	f := ini.Empty(ini.LoadOptions{AllowShadows: i.allowShadows})
	if err := i.encodeSection(f, "", m); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return nil, errors.Wrap(err, "failed to write INI")
	}
	return buf.Bytes(), nil
}

func (i *IniDecoder) encodeSection(f *ini.File, name string, m map[string]any) error {
	section := f.Section(name)
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		switch v := m[k].(type) {
		case map[string]any:
			sub := k
			if name != "" {
				sub = name + "." + k
			}
			if err := i.encodeSection(f, sub, v); err != nil {
				return err
			}
		case []any:
			if len(v) == 0 {
				continue
			}
			strs := make([]string, len(v))
			for idx, item := range v {
				strs[idx] = fmt.Sprint(item)
			}
			if !i.allowShadows {
				if _, err := section.NewKey(k, strings.Join(strs, ",")); err != nil {
					return errors.Wrapf(err, "key %s", k)
				}
				continue
			}
			key, err := section.NewKey(k, strs[0])
			if err != nil {
				return errors.Wrapf(err, "key %s", k)
			}
			for _, s := range strs[1:] {
				if err := key.AddShadow(s); err != nil {
					return errors.Wrapf(err, "key %s", k)
				}
			}
		default:
			if _, err := section.NewKey(k, fmt.Sprint(v)); err != nil {
				return errors.Wrapf(err, "key %s", k)
			}
		}
	}
	return nil
}
