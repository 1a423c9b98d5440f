package storage

import (
	"github.com/hatlonely/rdbx/cfg/validator"
	"github.com/pkg/errors"
)

// ValidateStorage 转换完成后按 validate tag 校验结果
type ValidateStorage struct {
	storage Storage
}

func NewValidateStorage(storage Storage) *ValidateStorage {
	return &ValidateStorage{storage: storage}
}

func (vs *ValidateStorage) Sub(key string) Storage {
	return NewValidateStorage(vs.storage.Sub(key))
}

func (vs *ValidateStorage) ConvertTo(object any) error {
	if err := vs.storage.ConvertTo(object); err != nil {
		return err
	}
	if err := validator.ValidateStruct(object); err != nil {
		return errors.Wrap(err, "validation failed")
	}
	return nil
}

func (vs *ValidateStorage) Equals(other Storage) bool {
	if o, ok := other.(*ValidateStorage); ok {
		return vs.storage.Equals(o.storage)
	}
	return vs.storage.Equals(other)
}
