package decoder

import (
	"bytes"
	"encoding/json"

	"github.com/hatlonely/rdbx/cfg/storage"
	"github.com/pkg/errors"
)

type JsonDecoderOptions struct {
	// Indent 编码时的缩进，为空时输出紧凑格式
	Indent string `cfg:"indent"`
}

// JsonDecoder JSON 格式编解码器，数字解码为 json.Number 以保留整数精度
type JsonDecoder struct {
	indent string
}

func NewJsonDecoder() *JsonDecoder {
	return &JsonDecoder{indent: "  "}
}

func NewJsonDecoderWithOptions(options *JsonDecoderOptions) *JsonDecoder {
	if options == nil {
		return NewJsonDecoder()
	}
	return &JsonDecoder{indent: options.Indent}
}

func (j *JsonDecoder) Decode(data []byte) (storage.Storage, error) {
	var result any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&result); err != nil {
		return nil, errors.Wrap(err, "failed to decode JSON")
	}
	return storage.NewMapStorage(result), nil
}

func (j *JsonDecoder) Encode(s storage.Storage) ([]byte, error) {
	data, err := rawData(s)
	if err != nil {
		return nil, err
	}
	var out []byte
	if j.indent == "" {
		out, err = json.Marshal(data)
	} else {
		out, err = json.MarshalIndent(data, "", j.indent)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode JSON")
	}
	return out, nil
}
