package storage

import (
	"fmt"
	"reflect"
	"strings"
)

// SetDefaults 为结构体零值字段设置 def tag 中的默认值
// 嵌套结构体、非 nil 的结构体指针和结构体切片递归处理，nil 指针只有带 def tag 时才分配
func SetDefaults(object any) error {
	rv := reflect.ValueOf(object)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return fmt.Errorf("object must be a non-nil pointer, got %T", object)
	}
	return setDefaults(rv.Elem())
}

func setDefaults(rv reflect.Value) error {
	switch rv.Kind() {
	case reflect.Ptr:
		if rv.IsNil() {
			return nil
		}
		return setDefaults(rv.Elem())
	case reflect.Slice:
		for i := 0; i < rv.Len(); i++ {
			if err := setDefaults(rv.Index(i)); err != nil {
				return fmt.Errorf("index %d: %w", i, err)
			}
		}
		return nil
	case reflect.Struct:
	default:
		return nil
	}

	rt := rv.Type()
	if rt == timeType {
		return nil
	}
	for i := 0; i < rt.NumField(); i++ {
		field := rt.Field(i)
		fv := rv.Field(i)
		if !fv.CanSet() {
			continue
		}
		if err := setDefaults(fv); err != nil {
			return fmt.Errorf("field %s: %w", field.Name, err)
		}

		def, ok := field.Tag.Lookup("def")
		if !ok || !fv.IsZero() {
			continue
		}
		if fv.Kind() == reflect.Ptr {
			fv.Set(reflect.New(fv.Type().Elem()))
			fv = fv.Elem()
		}
		if err := setDefaultValue(fv, def); err != nil {
			return fmt.Errorf("field %s: %w", field.Name, err)
		}
	}
	return nil
}

// setDefaultValue 切片默认值用逗号分隔
func setDefaultValue(rv reflect.Value, def string) error {
	if rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() != reflect.Uint8 {
		var parts []any
		for _, part := range strings.Split(def, ",") {
			parts = append(parts, strings.TrimSpace(part))
		}
		return convertValue(parts, rv)
	}
	if rv.Kind() == reflect.Map {
		return fmt.Errorf("map default values are not supported")
	}
	return convertValue(def, rv)
}
