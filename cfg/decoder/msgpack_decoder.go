package decoder

import (
	"github.com/hatlonely/rdbx/cfg/storage"
	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
)

// MsgpackDecoder MessagePack 格式编解码器，用于键值存储中的二进制配置
type MsgpackDecoder struct{}

func NewMsgpackDecoder() *MsgpackDecoder {
	return &MsgpackDecoder{}
}

func (m *MsgpackDecoder) Decode(data []byte) (storage.Storage, error) {
	var result any
	if err := msgpack.Unmarshal(data, &result); err != nil {
		return nil, errors.Wrap(err, "failed to decode msgpack")
	}
	return storage.NewMapStorage(result), nil
}

func (m *MsgpackDecoder) Encode(s storage.Storage) ([]byte, error) {
	data, err := rawData(s)
	if err != nil {
		return nil, err
	}
	out, err := msgpack.Marshal(data)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode msgpack")
	}
	return out, nil
}
