package decoder

import (
	"bytes"

	"github.com/hatlonely/rdbx/cfg/storage"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

type YamlDecoderOptions struct {
	Indent int `cfg:"indent" def:"2"`
}

// YamlDecoder YAML 格式编解码器
type YamlDecoder struct {
	indent int
}

func NewYamlDecoder() *YamlDecoder {
	return &YamlDecoder{indent: 2}
}

func NewYamlDecoderWithOptions(options *YamlDecoderOptions) *YamlDecoder {
	if options == nil || options.Indent <= 0 {
		return NewYamlDecoder()
	}
	return &YamlDecoder{indent: options.Indent}
}

func (y *YamlDecoder) Decode(data []byte) (storage.Storage, error) {
	var result any
	if err := yaml.Unmarshal(data, &result); err != nil {
		return nil, errors.Wrap(err, "failed to decode YAML")
	}
	return storage.NewMapStorage(result), nil
}

func (y *YamlDecoder) Encode(s storage.Storage) ([]byte, error) {
	data, err := rawData(s)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(y.indent)
	if err := enc.Encode(data); err != nil {
		return nil, errors.Wrap(err, "failed to encode YAML")
	}
	if err := enc.Close(); err != nil {
		return nil, errors.Wrap(err, "failed to encode YAML")
	}
	return buf.Bytes(), nil
}
