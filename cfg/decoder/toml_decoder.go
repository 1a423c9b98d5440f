package decoder

import (
	"bytes"

	"github.com/BurntSushi/toml"
	"github.com/hatlonely/rdbx/cfg/storage"
	"github.com/pkg/errors"
)

type TomlDecoderOptions struct {
	Indent string `cfg:"indent" def:"  "`
}

// TomlDecoder TOML 格式编解码器
type TomlDecoder struct {
	indent string
}

func NewTomlDecoder() *TomlDecoder {
	return &TomlDecoder{indent: "  "}
}

func NewTomlDecoderWithOptions(options *TomlDecoderOptions) *TomlDecoder {
	if options == nil {
		return NewTomlDecoder()
	}
	return &TomlDecoder{indent: options.Indent}
}

func (t *TomlDecoder) Decode(data []byte) (storage.Storage, error) {
	var result map[string]any
	if err := toml.Unmarshal(data, &result); err != nil {
		return nil, errors.Wrap(err, "failed to decode TOML")
	}
	return storage.NewMapStorage(result), nil
}

func (t *TomlDecoder) Encode(s storage.Storage) ([]byte, error) {
	data, err := rawData(s)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	enc := toml.NewEncoder(&buf)
	enc.Indent = t.indent
	if err := enc.Encode(data); err != nil {
		return nil, errors.Wrap(err, "failed to encode TOML")
	}
	return buf.Bytes(), nil
}
