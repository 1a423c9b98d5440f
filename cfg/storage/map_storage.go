package storage

import (
	"encoding"
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/hatlonely/rdbx/ref"
	"github.com/spf13/cast"
)

// MapStorage 基于 map 和 slice 的存储实现，yaml/json/toml/ini 解码结果都用它承载
//
// 结构体字段按 cfg tag 匹配，没有 cfg tag 时依次尝试 json、yaml tag 和字段名，
// 键名比较大小写不敏感。ref.TypeOptions 的 Options 字段保留为带校验的子存储，
// 由 ref 在确定构造函数参数类型后再转换。
type MapStorage struct {
	data any
}

func NewMapStorage(data any) *MapStorage {
	return &MapStorage{data: data}
}

// Data 获取存储的原始数据
func (ms *MapStorage) Data() any {
	return ms.data
}

func (ms *MapStorage) Sub(key string) Storage {
	if key == "" {
		return ms
	}
	current := ms.data
	for _, k := range parseKey(key) {
		current = valueByKey(current, k)
		if current == nil {
			break
		}
	}
	return NewMapStorage(current)
}

// ConvertTo 转换后按 def tag 填充零值字段
func (ms *MapStorage) ConvertTo(object any) error {
	rv := reflect.ValueOf(object)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return fmt.Errorf("object must be a non-nil pointer, got %T", object)
	}
	if err := convertValue(ms.data, rv.Elem()); err != nil {
		return err
	}
	return SetDefaults(object)
}

func (ms *MapStorage) Equals(other Storage) bool {
	o, ok := other.(*MapStorage)
	if !ok {
		return false
	}
	return reflect.DeepEqual(ms.data, o.data)
}

// parseKey "a.b[0].c" -> [a b 0 c]
func parseKey(key string) []string {
	var keys []string
	for _, part := range strings.Split(key, ".") {
		for part != "" {
			i := strings.IndexByte(part, '[')
			if i < 0 {
				keys = append(keys, part)
				break
			}
			if i > 0 {
				keys = append(keys, part[:i])
			}
			j := strings.IndexByte(part[i:], ']')
			if j < 0 {
				keys = append(keys, part[i+1:])
				break
			}
			keys = append(keys, part[i+1:i+j])
			part = part[i+j+1:]
		}
	}
	return keys
}

func valueByKey(data any, key string) any {
	rv := reflect.ValueOf(data)
	for rv.Kind() == reflect.Ptr || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Map:
		if v, ok := lookup(rv, key); ok {
			return v.Interface()
		}
	case reflect.Slice, reflect.Array:
		index, err := strconv.Atoi(key)
		if err != nil || index < 0 || index >= rv.Len() {
			return nil
		}
		return rv.Index(index).Interface()
	}
	return nil
}

// lookup 先精确匹配，再忽略大小写匹配
func lookup(m reflect.Value, key string) (reflect.Value, bool) {
	if m.Type().Key().Kind() != reflect.String {
		return reflect.Value{}, false
	}
	if v := m.MapIndex(reflect.ValueOf(key).Convert(m.Type().Key())); v.IsValid() {
		return v, true
	}
	iter := m.MapRange()
	for iter.Next() {
		if strings.EqualFold(iter.Key().String(), key) {
			return iter.Value(), true
		}
	}
	return reflect.Value{}, false
}

var (
	durationType        = reflect.TypeOf(time.Duration(0))
	timeType            = reflect.TypeOf(time.Time{})
	typeOptionsType     = reflect.TypeOf(ref.TypeOptions{})
	textUnmarshalerType = reflect.TypeOf((*encoding.TextUnmarshaler)(nil)).Elem()
)

func convertValue(src any, dst reflect.Value) error {
	sv := reflect.ValueOf(src)
	for sv.Kind() == reflect.Ptr || sv.Kind() == reflect.Interface {
		if sv.IsNil() {
			return nil
		}
		sv = sv.Elem()
	}
	if !sv.IsValid() {
		return nil
	}

	if dst.Kind() == reflect.Ptr {
		if dst.IsNil() {
			dst.Set(reflect.New(dst.Type().Elem()))
		}
		return convertValue(sv.Interface(), dst.Elem())
	}

	switch dst.Type() {
	case durationType:
		d, err := toDuration(sv.Interface())
		if err != nil {
			return err
		}
		dst.SetInt(int64(d))
		return nil
	case timeType:
		t, err := cast.ToTimeE(sv.Interface())
		if err != nil {
			return err
		}
		dst.Set(reflect.ValueOf(t))
		return nil
	case typeOptionsType:
		return convertTypeOptions(sv, dst)
	}

	if dst.CanAddr() && dst.Addr().Type().Implements(textUnmarshalerType) && sv.Kind() == reflect.String {
		return dst.Addr().Interface().(encoding.TextUnmarshaler).UnmarshalText([]byte(sv.String()))
	}

	if sv.Type().AssignableTo(dst.Type()) && dst.Kind() != reflect.Map && dst.Kind() != reflect.Slice {
		dst.Set(sv)
		return nil
	}

	switch dst.Kind() {
	case reflect.Interface:
		if sv.Type().Implements(dst.Type()) {
			dst.Set(sv)
			return nil
		}
	case reflect.Map:
		return convertToMap(sv, dst)
	case reflect.Slice:
		return convertToSlice(sv, dst)
	case reflect.Struct:
		return convertToStruct(sv, dst)
	case reflect.String:
		s, err := cast.ToStringE(sv.Interface())
		if err != nil {
			return err
		}
		dst.SetString(s)
		return nil
	case reflect.Bool:
		b, err := cast.ToBoolE(sv.Interface())
		if err != nil {
			return err
		}
		dst.SetBool(b)
		return nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := cast.ToInt64E(sv.Interface())
		if err != nil {
			return err
		}
		dst.SetInt(n)
		return nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := cast.ToUint64E(sv.Interface())
		if err != nil {
			return err
		}
		dst.SetUint(n)
		return nil
	case reflect.Float32, reflect.Float64:
		f, err := cast.ToFloat64E(sv.Interface())
		if err != nil {
			return err
		}
		dst.SetFloat(f)
		return nil
	}

	return fmt.Errorf("cannot convert %v to %v", sv.Type(), dst.Type())
}

// toDuration 字符串按 time.ParseDuration 解析，整数视为纳秒，浮点数视为秒
func toDuration(v any) (time.Duration, error) {
	switch x := v.(type) {
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return time.Duration(n), nil
		}
		f, err := x.Float64()
		if err != nil {
			return 0, err
		}
		return time.Duration(f * float64(time.Second)), nil
	case float32:
		return time.Duration(float64(x) * float64(time.Second)), nil
	case float64:
		return time.Duration(x * float64(time.Second)), nil
	}
	return cast.ToDurationE(v)
}

// convertTypeOptions Options 保留为子存储，交给 ref 按构造函数参数类型转换
func convertTypeOptions(sv reflect.Value, dst reflect.Value) error {
	if sv.Kind() != reflect.Map {
		return fmt.Errorf("cannot convert %v to ref.TypeOptions", sv.Type())
	}
	sub := NewMapStorage(sv.Interface())
	opts := dst.Addr().Interface().(*ref.TypeOptions)
	if err := sub.Sub("namespace").ConvertTo(&opts.Namespace); err != nil {
		return err
	}
	if err := sub.Sub("type").ConvertTo(&opts.Type); err != nil {
		return err
	}
	if options, ok := lookup(sv, "options"); ok {
		opts.Options = NewValidateStorage(NewMapStorage(options.Interface()))
	}
	return nil
}

func convertToMap(sv, dst reflect.Value) error {
	if sv.Kind() != reflect.Map {
		return fmt.Errorf("cannot convert %v to %v", sv.Type(), dst.Type())
	}
	if dst.IsNil() {
		dst.Set(reflect.MakeMap(dst.Type()))
	}
	iter := sv.MapRange()
	for iter.Next() {
		key := reflect.New(dst.Type().Key()).Elem()
		if err := convertValue(iter.Key().Interface(), key); err != nil {
			return fmt.Errorf("key %v: %w", iter.Key(), err)
		}
		val := reflect.New(dst.Type().Elem()).Elem()
		if err := convertValue(iter.Value().Interface(), val); err != nil {
			return fmt.Errorf("key %v: %w", iter.Key(), err)
		}
		dst.SetMapIndex(key, val)
	}
	return nil
}

func convertToSlice(sv, dst reflect.Value) error {
	if dst.Type().Elem().Kind() == reflect.Uint8 && sv.Kind() == reflect.String {
		dst.SetBytes([]byte(sv.String()))
		return nil
	}
	if sv.Kind() != reflect.Slice && sv.Kind() != reflect.Array {
		return fmt.Errorf("cannot convert %v to %v", sv.Type(), dst.Type())
	}
	out := reflect.MakeSlice(dst.Type(), sv.Len(), sv.Len())
	for i := 0; i < sv.Len(); i++ {
		if err := convertValue(sv.Index(i).Interface(), out.Index(i)); err != nil {
			return fmt.Errorf("index %d: %w", i, err)
		}
	}
	dst.Set(out)
	return nil
}

func convertToStruct(sv, dst reflect.Value) error {
	if sv.Kind() != reflect.Map {
		return fmt.Errorf("cannot convert %v to %v", sv.Type(), dst.Type())
	}
	rt := dst.Type()
	for i := 0; i < rt.NumField(); i++ {
		field := rt.Field(i)
		if !field.IsExported() {
			continue
		}
		name, ok := FieldName(field)
		if !ok {
			continue
		}
		// 匿名嵌入的结构体与外层共享键空间
		if field.Anonymous && name == field.Name && dst.Field(i).Kind() == reflect.Struct {
			if err := convertToStruct(sv, dst.Field(i)); err != nil {
				return err
			}
			continue
		}
		v, ok := lookup(sv, name)
		if !ok {
			continue
		}
		if err := convertValue(v.Interface(), dst.Field(i)); err != nil {
			return fmt.Errorf("field %s: %w", name, err)
		}
	}
	return nil
}

// FieldName 配置中的键名，tag 为 "-" 时忽略该字段
func FieldName(field reflect.StructField) (string, bool) {
	for _, tag := range []string{"cfg", "json", "yaml"} {
		v, ok := field.Tag.Lookup(tag)
		if !ok {
			continue
		}
		name := strings.Split(v, ",")[0]
		if name == "-" {
			return "", false
		}
		if name != "" {
			return name, true
		}
	}
	return field.Name, true
}
