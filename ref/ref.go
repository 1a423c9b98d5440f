// Package ref 按名称注册和构造组件，配置里只需要写 type 和 options
package ref

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
)

// TypeOptions 通过注册表构造组件的配置
// Namespace 为空时按 Type 在所有命名空间中查找，要求唯一
type TypeOptions struct {
	Namespace string `cfg:"namespace"`
	Type      string `cfg:"type"`
	Options   any    `cfg:"options"`
}

// Convertable 可以转换为构造函数参数类型的配置，例如 cfg 的子配置
type Convertable interface {
	ConvertTo(object any) error
}

var errorType = reflect.TypeOf((*error)(nil)).Elem()

type constructor struct {
	fn         reflect.Value
	paramType  reflect.Type
	returnsErr bool
}

// newConstructor 构造函数形如 func() T / func(*Options) T / func(*Options) (T, error)
func newConstructor(fn any) (*constructor, error) {
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func {
		return nil, fmt.Errorf("constructor must be a function, got %T", fn)
	}
	t := v.Type()
	if t.NumIn() > 1 {
		return nil, fmt.Errorf("constructor must have 0 or 1 parameters, got %d", t.NumIn())
	}
	if t.NumOut() != 1 && t.NumOut() != 2 {
		return nil, fmt.Errorf("constructor must have 1 or 2 return values, got %d", t.NumOut())
	}
	if t.NumOut() == 2 && !t.Out(1).Implements(errorType) {
		return nil, fmt.Errorf("second return value of constructor must be error")
	}
	c := &constructor{fn: v, returnsErr: t.NumOut() == 2}
	if t.NumIn() == 1 {
		c.paramType = t.In(0)
	}
	return c, nil
}

func (c *constructor) call(options any) (any, error) {
	var args []reflect.Value
	if c.paramType != nil {
		arg, err := convertOptions(options, c.paramType)
		if err != nil {
			return nil, err
		}
		args = []reflect.Value{arg}
	}
	out := c.fn.Call(args)
	if c.returnsErr && !out[1].IsNil() {
		return nil, out[1].Interface().(error)
	}
	return out[0].Interface(), nil
}

// convertOptions 把配置转换为构造函数的参数类型，nil 时传入零值
func convertOptions(options any, paramType reflect.Type) (reflect.Value, error) {
	isPtr := paramType.Kind() == reflect.Ptr
	elemType := paramType
	if isPtr {
		elemType = paramType.Elem()
	}

	if options == nil {
		if isPtr {
			return reflect.New(elemType), nil
		}
		return reflect.Zero(paramType), nil
	}

	ov := reflect.ValueOf(options)
	if ov.Type().AssignableTo(paramType) {
		return ov, nil
	}
	if isPtr && ov.Type().AssignableTo(elemType) {
		p := reflect.New(elemType)
		p.Elem().Set(ov)
		return p, nil
	}
	if !isPtr && ov.Kind() == reflect.Ptr && !ov.IsNil() && ov.Elem().Type().AssignableTo(paramType) {
		return ov.Elem(), nil
	}

	if conv, ok := options.(Convertable); ok {
		p := reflect.New(elemType)
		if err := conv.ConvertTo(p.Interface()); err != nil {
			return reflect.Value{}, fmt.Errorf("failed to convert options to %v: %w", paramType, err)
		}
		if isPtr {
			return p, nil
		}
		return p.Elem(), nil
	}

	return reflect.Value{}, fmt.Errorf("cannot use options of type %T as %v", options, paramType)
}

// Registry 构造函数注册表
type Registry struct {
	mu           sync.RWMutex
	constructors map[string]*constructor
}

func NewRegistry() *Registry {
	return &Registry{constructors: map[string]*constructor{}}
}

var defaultRegistry = NewRegistry()

func key(namespace, typ string) string {
	return namespace + ":" + typ
}

// Register 注册构造函数，同一名称重复注册同一函数时忽略
func (r *Registry) Register(namespace string, typ string, fn any) error {
	if typ == "" {
		return fmt.Errorf("type is required")
	}
	c, err := newConstructor(fn)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	k := key(namespace, typ)
	if exist, ok := r.constructors[k]; ok {
		if exist.fn.Pointer() == c.fn.Pointer() {
			return nil
		}
		return fmt.Errorf("constructor for %s already registered with a different function", k)
	}
	r.constructors[k] = c
	return nil
}

func (r *Registry) lookup(namespace, typ string) (*constructor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if namespace != "" {
		if c, ok := r.constructors[key(namespace, typ)]; ok {
			return c, nil
		}
		return nil, fmt.Errorf("constructor not found for %s", key(namespace, typ))
	}

	var matches []string
	for k := range r.constructors {
		if strings.HasSuffix(k, ":"+typ) {
			matches = append(matches, k)
		}
	}
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("constructor not found for type %s", typ)
	case 1:
		return r.constructors[matches[0]], nil
	default:
		sort.Strings(matches)
		return nil, fmt.Errorf("type %s is ambiguous, candidates: %s", typ, strings.Join(matches, ", "))
	}
}

// New 按名称构造组件
func (r *Registry) New(namespace string, typ string, options any) (any, error) {
	c, err := r.lookup(namespace, typ)
	if err != nil {
		return nil, err
	}
	return c.call(options)
}

func Register(namespace string, typ string, fn any) error {
	return defaultRegistry.Register(namespace, typ, fn)
}

func MustRegister(namespace string, typ string, fn any) {
	if err := Register(namespace, typ, fn); err != nil {
		panic(err)
	}
}

// RegisterT 以 T 的包路径和类型名注册
func RegisterT[T any](fn any) error {
	namespace, typ, err := typeName[T]()
	if err != nil {
		return err
	}
	return Register(namespace, typ, fn)
}

func MustRegisterT[T any](fn any) {
	if err := RegisterT[T](fn); err != nil {
		panic(err)
	}
}

func New(namespace string, typ string, options any) (any, error) {
	return defaultRegistry.New(namespace, typ, options)
}

// NewWithOptions 按 TypeOptions 构造组件，并检查结果实现了 T
func NewWithOptions[T any](options *TypeOptions) (T, error) {
	var zero T
	if options == nil || options.Type == "" {
		return zero, fmt.Errorf("type is required")
	}
	obj, err := New(options.Namespace, options.Type, options.Options)
	if err != nil {
		return zero, err
	}
	result, ok := obj.(T)
	if !ok {
		return zero, fmt.Errorf("%s does not implement %v", options.Type, reflect.TypeOf((*T)(nil)).Elem())
	}
	return result, nil
}

func typeName[T any]() (string, string, error) {
	t := reflect.TypeOf((*T)(nil)).Elem()
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.PkgPath() == "" || t.Name() == "" {
		return "", "", fmt.Errorf("cannot determine package path or type name for %v", t)
	}
	return t.PkgPath(), t.Name(), nil
}
