package rdb

import (
	"slices"
	"sync"

	"github.com/hatlonely/rdbx/rdb/schema"
)

// registry 已注册的表定义。事务中的 Store 使用 begin 得到的副本，
// 变更记入 pending，提交成功后由 commit 重放到外层
type registry struct {
	mu      sync.RWMutex
	tables  map[string]*schema.TableDefinition
	journal bool
	pending []func(r *registry)
}

func newRegistry() *registry {
	return &registry{tables: map[string]*schema.TableDefinition{}}
}

func clone(def *schema.TableDefinition) *schema.TableDefinition {
	c := *def
	c.Fields = slices.Clone(def.Fields)
	for i := range c.Fields {
		c.Fields[i].Options = slices.Clone(def.Fields[i].Options)
	}
	c.CompoundIndexes = slices.Clone(def.CompoundIndexes)
	for i := range c.CompoundIndexes {
		c.CompoundIndexes[i].Fields = slices.Clone(def.CompoundIndexes[i].Fields)
	}
	return &c
}

func (r *registry) get(table string) (*schema.TableDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.tables[table]
	if !ok {
		return nil, false
	}
	return clone(def), true
}

// names 按名称排序的表名
func (r *registry) names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tables))
	for name := range r.tables {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// begin 外层表定义的快照，之后的变更记入日志
func (r *registry) begin() *registry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tables := make(map[string]*schema.TableDefinition, len(r.tables))
	for name, def := range r.tables {
		tables[name] = clone(def)
	}
	return &registry{tables: tables, journal: true}
}

// commit 把事务中的变更按顺序重放到 into
func (r *registry) commit(into *registry) {
	r.mu.Lock()
	pending := r.pending
	r.pending = nil
	r.mu.Unlock()
	for _, op := range pending {
		op(into)
	}
}

func (r *registry) record(op func(r *registry)) {
	if !r.journal {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending = append(r.pending, op)
}

func (r *registry) set(def *schema.TableDefinition) {
	def = clone(def)
	r.mu.Lock()
	r.tables[def.Name] = clone(def)
	r.mu.Unlock()
	r.record(func(into *registry) { into.set(def) })
}

func (r *registry) delete(table string) {
	r.mu.Lock()
	delete(r.tables, table)
	r.mu.Unlock()
	r.record(func(into *registry) { into.delete(table) })
}

func (r *registry) rename(from, to string) {
	r.mu.Lock()
	if def, ok := r.tables[from]; ok {
		delete(r.tables, from)
		def.Name = to
		r.tables[to] = def
	}
	r.mu.Unlock()
	r.record(func(into *registry) { into.rename(from, to) })
}

// update 在写锁内修改表定义，未注册的表忽略
func (r *registry) update(table string, fn func(def *schema.TableDefinition)) {
	r.mu.Lock()
	if def, ok := r.tables[table]; ok {
		fn(def)
	}
	r.mu.Unlock()
	r.record(func(into *registry) { into.update(table, fn) })
}
