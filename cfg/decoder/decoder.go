package decoder

import (
	"github.com/hatlonely/rdbx/cfg/storage"
	"github.com/hatlonely/rdbx/ref"
	"github.com/pkg/errors"
)

func init() {
	ref.MustRegisterT[JsonDecoder](NewJsonDecoderWithOptions)
	ref.MustRegisterT[YamlDecoder](NewYamlDecoderWithOptions)
	ref.MustRegisterT[TomlDecoder](NewTomlDecoderWithOptions)
	ref.MustRegisterT[IniDecoder](NewIniDecoderWithOptions)
	ref.MustRegisterT[EnvDecoder](NewEnvDecoder)
	ref.MustRegisterT[MsgpackDecoder](NewMsgpackDecoder)
}

// Decoder 配置数据编解码器接口
// 负责将原始数据和存储对象之间进行转换
type Decoder interface {
	// Decode 将原始数据解码为存储对象
	Decode(data []byte) (storage.Storage, error)
	// Encode 将存储对象编码为原始数据
	Encode(storage storage.Storage) ([]byte, error)
}

func NewDecoderWithOptions(options *ref.TypeOptions) (Decoder, error) {
	d, err := ref.NewWithOptions[Decoder](options)
	if err != nil {
		return nil, errors.WithMessage(err, "ref.NewWithOptions failed")
	}
	return d, nil
}

// rawData 取出存储中的原始 map/slice 数据
func rawData(s storage.Storage) (any, error) {
	if ms, ok := s.(*storage.MapStorage); ok {
		return ms.Data(), nil
	}
	var data any
	if err := s.ConvertTo(&data); err != nil {
		return nil, errors.WithMessage(err, "convert storage to data failed")
	}
	return data, nil
}
