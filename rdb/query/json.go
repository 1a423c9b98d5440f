package query

import (
	"bytes"
	"encoding/json"

	"github.com/hatlonely/rdbx/rdb/errs"
	"github.com/pkg/errors"
)

// JSON 编码：
//   {"field": "genre", "op": "eq", "value": "horror"}
//   {"and": [...]}
//   {"or": [...]}

type comparisonJSON struct {
	Field string `json:"field"`
	Op    string `json:"op"`
	Value any    `json:"value"`
}

type groupJSON struct {
	And []json.RawMessage `json:"and,omitempty"`
	Or  []json.RawMessage `json:"or,omitempty"`
}

// Marshal 把 Where 树编码为 JSON，nil 编码为 null
func Marshal(w Where) ([]byte, error) {
	v, err := toJSONValue(w)
	if err != nil {
		return nil, err
	}
	return json.Marshal(v)
}

func toJSONValue(w Where) (any, error) {
	switch n := w.(type) {
	case nil:
		return nil, nil
	case *Comparison:
		return comparisonJSON{Field: n.Field, Op: string(n.Operator), Value: n.Value}, nil
	case *And:
		children, err := toJSONValues(n.Children)
		return map[string][]any{"and": children}, err
	case *Or:
		children, err := toJSONValues(n.Children)
		return map[string][]any{"or": children}, err
	default:
		return nil, &errs.InvalidWhereError{Node: w}
	}
}

func toJSONValues(children []Where) ([]any, error) {
	values := make([]any, 0, len(children))
	for _, child := range children {
		v, err := toJSONValue(child)
		if err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, nil
}

// Unmarshal 解析 JSON 编码的 Where 树，null 返回 nil
// 整数解析为 int64，其他数字解析为 float64
func Unmarshal(data []byte) (Where, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, nil
	}

	var keys map[string]json.RawMessage
	if err := json.Unmarshal(data, &keys); err != nil {
		return nil, errors.Wrap(err, "json.Unmarshal failed")
	}

	_, isAnd := keys["and"]
	_, isOr := keys["or"]
	if isAnd || isOr {
		if isAnd && isOr {
			return nil, errors.New("where node cannot be both and and or")
		}
		var g groupJSON
		if err := json.Unmarshal(data, &g); err != nil {
			return nil, errors.Wrap(err, "json.Unmarshal failed")
		}
		raw := g.And
		if isOr {
			raw = g.Or
		}
		children := make([]Where, 0, len(raw))
		for i, r := range raw {
			child, err := Unmarshal(r)
			if err != nil {
				return nil, errors.WithMessagef(err, "child %d", i)
			}
			if child != nil {
				children = append(children, child)
			}
		}
		if isOr {
			return &Or{Children: children}, nil
		}
		return &And{Children: children}, nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var c comparisonJSON
	if err := dec.Decode(&c); err != nil {
		return nil, errors.Wrap(err, "json.Decode failed")
	}
	if c.Field == "" {
		return nil, errors.New("comparison requires field")
	}
	op, err := ParseOperator(c.Op)
	if err != nil {
		return nil, err
	}
	return &Comparison{Field: c.Field, Operator: op, Value: normalizeNumbers(c.Value)}, nil
}

func normalizeNumbers(v any) any {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		if f, err := x.Float64(); err == nil {
			return f
		}
		return x.String()
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = normalizeNumbers(e)
		}
		return out
	default:
		return v
	}
}

// Document 包装 Where 以便嵌入配置或请求结构体
type Document struct {
	Where Where
}

func (d Document) MarshalJSON() ([]byte, error) {
	return Marshal(d.Where)
}

func (d *Document) UnmarshalJSON(data []byte) error {
	w, err := Unmarshal(data)
	if err != nil {
		return err
	}
	d.Where = w
	return nil
}
