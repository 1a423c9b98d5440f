// Package join 按外键命名约定沿着表链逐层查询，把结果组装成嵌套的记录树
//
// 链中相邻的两张表 parent、child 通过 child 上的 <camelCase(parent)>Id 列关联。
// 只有根表支持排序和分页，子表按父记录逐条查询。
package join

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hatlonely/rdbx/log"
	"github.com/hatlonely/rdbx/rdb/database"
	"github.com/hatlonely/rdbx/rdb/errs"
	"github.com/hatlonely/rdbx/rdb/query"
	"github.com/hatlonely/rdbx/rdb/schema"
	"github.com/pkg/errors"
)

// TableQuery 链中的一张表及其过滤条件
type TableQuery struct {
	Table  string
	Filter query.Where
}

type tableQueryJSON struct {
	Table  string          `json:"table"`
	Filter *query.Document `json:"filter,omitempty"`
}

func (q TableQuery) MarshalJSON() ([]byte, error) {
	v := tableQueryJSON{Table: q.Table}
	if q.Filter != nil {
		v.Filter = &query.Document{Where: q.Filter}
	}
	return json.Marshal(v)
}

func (q *TableQuery) UnmarshalJSON(data []byte) error {
	var v tableQueryJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	q.Table = v.Table
	q.Filter = nil
	if v.Filter != nil {
		q.Filter = v.Filter.Where
	}
	return nil
}

// Chain 从根表开始的表链
type Chain []TableQuery

// Tables 链上的表名
func (c Chain) Tables() []string {
	tables := make([]string, len(c))
	for i, q := range c {
		tables[i] = q.Table
	}
	return tables
}

// Options 根表的全局过滤、排序和分页
type Options struct {
	Filter    query.Where
	SortField string
	SortDesc  bool
	// Page 从 1 开始，只在 Limit 大于 0 时生效
	Page  int
	Limit int
}

type Option func(*Options)

// WithFilter 与根表自身的过滤条件取 AND
func WithFilter(w query.Where) Option {
	return func(o *Options) { o.Filter = w }
}

func WithSort(field string, desc bool) Option {
	return func(o *Options) {
		o.SortField = field
		o.SortDesc = desc
	}
}

func WithPage(page int) Option {
	return func(o *Options) { o.Page = page }
}

func WithLimit(limit int) Option {
	return func(o *Options) { o.Limit = limit }
}

type Resolver struct {
	db       database.Database
	compiler *query.Compiler
	logger   log.Logger
}

func New(db database.Database, logger log.Logger) *Resolver {
	if logger == nil {
		logger = log.Default().With("component", "join")
	}
	return &Resolver{db: db, compiler: query.NewCompiler(db.Dialect()), logger: logger}
}

// WithDatabase 返回使用另一个 Database（通常是事务）的 Resolver
func (r *Resolver) WithDatabase(db database.Database) *Resolver {
	return &Resolver{db: db, compiler: r.compiler, logger: r.logger}
}

// node 查询阶段的记录树节点
type node struct {
	row      database.Record
	depth    int
	children []*node
}

// Resolve 查询整条链。根表的每条记录在下一张表名对应的 key 下挂载子记录列表，
// 没有子记录时为空列表，链最后一张表的记录不增加 key。任何一次查询失败都直接返回错误
func (r *Resolver) Resolve(ctx context.Context, chain Chain, opts ...Option) ([]database.Record, error) {
	var options Options
	for _, opt := range opts {
		opt(&options)
	}

	if err := r.check(ctx, chain, &options); err != nil {
		return nil, err
	}

	rows, err := r.fetchRoot(ctx, chain[0], &options)
	if err != nil {
		return nil, err
	}

	roots := make([]*node, len(rows))
	stack := make([]*node, 0, len(rows))
	for i, row := range rows {
		roots[i] = &node{row: row}
		stack = append(stack, roots[i])
	}

	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if n.depth+1 >= len(chain) {
			continue
		}
		rows, err := r.fetchChildren(ctx, chain[n.depth], chain[n.depth+1], n.row[schema.PrimaryKey])
		if err != nil {
			return nil, err
		}
		n.children = make([]*node, len(rows))
		for i, row := range rows {
			n.children[i] = &node{row: row, depth: n.depth + 1}
			stack = append(stack, n.children[i])
		}
	}

	records := make([]database.Record, len(roots))
	for i, n := range roots {
		records[i] = assemble(n, chain)
	}
	return records, nil
}

// check 校验链上的表和外键列，在发出任何查询之前完成
func (r *Resolver) check(ctx context.Context, chain Chain, options *Options) error {
	if len(chain) == 0 {
		return &errs.EmptyChainError{}
	}
	for i, q := range chain {
		if !schema.ValidIdentifier(q.Table) {
			return &errs.InvalidDefinitionError{Table: q.Table, Reason: "table name must be an identifier"}
		}
		ok, err := r.db.HasTable(ctx, q.Table)
		if err != nil {
			return err
		}
		if !ok {
			return &errs.TableNotFoundError{Table: q.Table}
		}

		if i == 0 && options.SortField == "" {
			continue
		}
		cols, err := r.db.Columns(ctx, q.Table)
		if err != nil {
			return err
		}
		if i == 0 {
			if !hasColumn(cols, options.SortField) {
				return &errs.FieldNotFoundError{Table: q.Table, Field: options.SortField}
			}
			continue
		}
		parent := chain[i-1].Table
		if column := schema.ForeignKeyColumn(parent); !hasColumn(cols, column) {
			return &errs.MissingForeignKeyError{Parent: parent, Child: q.Table, Column: column}
		}
	}
	if options.Limit < 0 {
		return &errs.InvalidOperandError{Field: "limit", Operator: "limit", Value: options.Limit}
	}
	return nil
}

func hasColumn(cols []database.ColumnInfo, name string) bool {
	for _, c := range cols {
		if c.Name == name {
			return true
		}
	}
	return false
}

func (r *Resolver) fetchRoot(ctx context.Context, root TableQuery, options *Options) ([]database.Record, error) {
	d := r.db.Dialect()
	cond, args, err := r.compiler.Compile(query.AndOf(options.Filter, root.Filter), root.Table)
	if err != nil {
		return nil, err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT * FROM %s WHERE %s", d.Quote(root.Table), cond)
	if options.SortField != "" {
		fmt.Fprintf(&sb, " ORDER BY %s", d.Quote(root.Table+"."+options.SortField))
		if options.SortDesc {
			sb.WriteString(" DESC")
		}
	}
	if options.Limit > 0 {
		page := max(options.Page, 1)
		fmt.Fprintf(&sb, " LIMIT %d OFFSET %d", options.Limit, (page-1)*options.Limit)
	}

	stmt := sb.String()
	r.logger.DebugContext(ctx, "fetch", "table", root.Table, "depth", 0, "statement", stmt)
	rows, err := r.db.Query(ctx, stmt, args...)
	if err != nil {
		return nil, errors.WithMessagef(err, "fetch %s", root.Table)
	}
	return rows, nil
}

func (r *Resolver) fetchChildren(ctx context.Context, parent, child TableQuery, parentID any) ([]database.Record, error) {
	d := r.db.Dialect()
	cond, args, err := r.compiler.Compile(child.Filter, child.Table)
	if err != nil {
		return nil, err
	}
	fk := d.Quote(child.Table + "." + schema.ForeignKeyColumn(parent.Table))
	stmt := fmt.Sprintf("SELECT * FROM %s WHERE %s = ? AND (%s)", d.Quote(child.Table), fk, cond)

	r.logger.DebugContext(ctx, "fetch", "table", child.Table, "parent", parent.Table, "parentId", parentID, "statement", stmt)
	rows, err := r.db.Query(ctx, stmt, append([]any{parentID}, args...)...)
	if err != nil {
		return nil, errors.WithMessagef(err, "fetch %s of %s %v", child.Table, parent.Table, parentID)
	}
	return rows, nil
}

// assemble 自底向上构造记录，每个节点的记录只在其子记录全部构造完成后生成
func assemble(root *node, chain Chain) database.Record {
	type frame struct {
		n        *node
		expanded bool
	}
	built := map[*node]database.Record{}
	stack := []frame{{n: root}}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if f.n.depth+1 < len(chain) && !f.expanded {
			stack = append(stack, frame{n: f.n, expanded: true})
			for _, c := range f.n.children {
				stack = append(stack, frame{n: c})
			}
			continue
		}

		record := make(database.Record, len(f.n.row)+1)
		for k, v := range f.n.row {
			record[k] = v
		}
		if f.n.depth+1 < len(chain) {
			children := make([]database.Record, len(f.n.children))
			for i, c := range f.n.children {
				children[i] = built[c]
				delete(built, c)
			}
			record[chain[f.n.depth+1].Table] = children
		}
		built[f.n] = record
	}
	return built[root]
}
