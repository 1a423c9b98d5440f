package rdb

import (
	"fmt"
	"maps"
	"reflect"
	"time"

	"github.com/google/uuid"
	"github.com/hatlonely/rdbx/rdb/errs"
	"github.com/hatlonely/rdbx/rdb/schema"
	"github.com/pkg/errors"
	"github.com/spf13/cast"
	"golang.org/x/crypto/bcrypt"
)

// now 测试中替换
var now = func() time.Time { return time.Now().UTC() }

// prepare 复制 record 并按已注册的表定义填充自动字段
func (s *Store) prepare(table string, record Record, insert bool) (Record, error) {
	values := maps.Clone(record)
	if values == nil {
		values = Record{}
	}
	for column := range values {
		if !schema.ValidIdentifier(column) {
			return nil, &errs.InvalidDefinitionError{Table: table, Field: column, Reason: "column name must be an identifier"}
		}
	}

	def, ok := s.registry.get(table)
	if !ok {
		return values, nil
	}

	ts := now()
	for _, f := range def.Fields {
		v, present := values[f.Name]
		switch f.Type {
		case schema.FieldTypeCreatedAt:
			if insert && !present {
				values[f.Name] = ts
			}
		case schema.FieldTypeUpdatedAt:
			if !present {
				values[f.Name] = ts
			}
		case schema.FieldTypeUUID:
			if insert && !present {
				values[f.Name] = uuid.NewString()
			}
		case schema.FieldTypePassword:
			if !present || v == nil {
				continue
			}
			hashed, err := hashPassword(v)
			if err != nil {
				return nil, &errs.InvalidDefinitionError{Table: table, Field: f.Name, Reason: err.Error()}
			}
			values[f.Name] = hashed
		}
	}
	return values, nil
}

// hashPassword 已经是 bcrypt 哈希的值保持不变
func hashPassword(v any) (string, error) {
	plain, err := cast.ToStringE(v)
	if err != nil {
		return "", err
	}
	if _, err := bcrypt.Cost([]byte(plain)); err == nil {
		return plain, nil
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return "", errors.Wrap(err, "bcrypt.GenerateFromPassword failed")
	}
	return string(hashed), nil
}

// CheckPassword 校验明文密码与 password 字段中保存的哈希是否匹配
func CheckPassword(hash, plain string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}

// ToRecord 把结构体转换为记录，列名与 schema.FromStruct 的规则一致，nil 指针字段被忽略
func ToRecord(v any) (Record, error) {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return nil, errors.New("nil pointer")
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return nil, fmt.Errorf("expected struct, got %T", v)
	}

	record := Record{}
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		name, ok := schema.ColumnName(rt.Field(i))
		if !ok {
			continue
		}
		fv := rv.Field(i)
		if fv.Kind() == reflect.Ptr {
			if fv.IsNil() {
				continue
			}
			fv = fv.Elem()
		}
		// 主键为零值时交给数据库生成
		if name == schema.PrimaryKey && fv.IsZero() {
			continue
		}
		if u, ok := fv.Interface().(uuid.UUID); ok {
			record[name] = u.String()
			continue
		}
		record[name] = fv.Interface()
	}
	return record, nil
}

// Scan 把记录写入 dest 指向的结构体，不存在或为 nil 的列保持字段原值
func Scan(record Record, dest any) error {
	rv := reflect.ValueOf(dest)
	if rv.Kind() != reflect.Ptr || rv.Elem().Kind() != reflect.Struct {
		return errors.New("dest must be a pointer to struct")
	}
	rv = rv.Elem()
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		name, ok := schema.ColumnName(rt.Field(i))
		if !ok {
			continue
		}
		value, exists := record[name]
		if !exists || value == nil {
			continue
		}
		if err := setField(rv.Field(i), value); err != nil {
			return errors.WithMessagef(err, "set field %s", rt.Field(i).Name)
		}
	}
	return nil
}

var (
	timeType = reflect.TypeOf(time.Time{})
	uuidType = reflect.TypeOf(uuid.UUID{})
)

func setField(field reflect.Value, value any) error {
	if field.Kind() == reflect.Ptr {
		elem := reflect.New(field.Type().Elem())
		if err := setField(elem.Elem(), value); err != nil {
			return err
		}
		field.Set(elem)
		return nil
	}

	vt := reflect.TypeOf(value)
	if vt.AssignableTo(field.Type()) {
		field.Set(reflect.ValueOf(value))
		return nil
	}

	var (
		v   any
		err error
	)
	switch field.Type() {
	case timeType:
		v, err = cast.ToTimeE(value)
	case uuidType:
		v, err = uuid.Parse(cast.ToString(value))
	default:
		switch field.Kind() {
		case reflect.String:
			v, err = cast.ToStringE(value)
		case reflect.Bool:
			v, err = cast.ToBoolE(value)
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			var n int64
			n, err = cast.ToInt64E(value)
			v = n
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			var n uint64
			n, err = cast.ToUint64E(value)
			v = n
		case reflect.Float32, reflect.Float64:
			var n float64
			n, err = cast.ToFloat64E(value)
			v = n
		case reflect.Slice:
			if field.Type().Elem().Kind() == reflect.Uint8 {
				v = []byte(cast.ToString(value))
			} else {
				err = fmt.Errorf("cannot convert %T to %s", value, field.Type())
			}
		default:
			err = fmt.Errorf("cannot convert %T to %s", value, field.Type())
		}
	}
	if err != nil {
		return err
	}
	field.Set(reflect.ValueOf(v).Convert(field.Type()))
	return nil
}
