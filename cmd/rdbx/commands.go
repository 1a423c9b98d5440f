package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/hatlonely/rdbx/rdb"
	"github.com/hatlonely/rdbx/rdb/join"
	"github.com/hatlonely/rdbx/rdb/query"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// withStore 打开 Store 执行 fn 后关闭
func withStore(cmd *cobra.Command, opts *rootOptions, fn func(ctx context.Context, store *rdb.Store) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	store, err := openStore(opts)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(ctx, store)
}

func newMigrateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "按配置中的表定义创建或更新表结构",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, opts, func(ctx context.Context, store *rdb.Store) error {
				for _, name := range store.Tables() {
					def, _ := store.Definition(name)
					fmt.Fprintf(cmd.OutOrStdout(), "%s: %d fields\n", name, len(def.Fields))
				}
				return nil
			})
		},
	}
}

func newInsertCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "insert <table> <record-json>",
		Short:   "插入一条记录，输出新记录的主键",
		Example: `rdbx insert authors '{"name": "Stephen King"}'`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			record, err := decodeRecord(args[1])
			if err != nil {
				return err
			}
			return withStore(cmd, opts, func(ctx context.Context, store *rdb.Store) error {
				id, err := store.Insert(ctx, args[0], record)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), id)
				return nil
			})
		},
	}
}

// decodeRecord 整数保持为 int64
func decodeRecord(data string) (rdb.Record, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(data)))
	dec.UseNumber()
	var record rdb.Record
	if err := dec.Decode(&record); err != nil {
		return nil, errors.Wrap(err, "invalid record json")
	}
	for k, v := range record {
		n, ok := v.(json.Number)
		if !ok {
			continue
		}
		if i, err := n.Int64(); err == nil {
			record[k] = i
		} else if f, err := n.Float64(); err == nil {
			record[k] = f
		}
	}
	return record, nil
}

type queryOptions struct {
	filter string
	sort   string
	desc   bool
	page   int
	limit  int
}

func newQueryCommand(opts *rootOptions) *cobra.Command {
	qopts := &queryOptions{}
	cmd := &cobra.Command{
		Use:   "query <chain-json>",
		Short: "沿表链查询，以 JSON 输出嵌套结果",
		Example: `rdbx query '[{"table": "authors"}, {"table": "books", "filter": {"field": "genre", "op": "eq", "value": "horror"}}]' \
  --sort name --limit 10`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var chain join.Chain
			if err := json.Unmarshal([]byte(args[0]), &chain); err != nil {
				return errors.Wrap(err, "invalid chain json")
			}
			var options []join.Option
			if qopts.filter != "" {
				where, err := query.Unmarshal([]byte(qopts.filter))
				if err != nil {
					return errors.WithMessage(err, "invalid filter json")
				}
				options = append(options, join.WithFilter(where))
			}
			if qopts.sort != "" {
				options = append(options, join.WithSort(qopts.sort, qopts.desc))
			}
			if qopts.limit > 0 {
				options = append(options, join.WithPage(qopts.page), join.WithLimit(qopts.limit))
			}

			return withStore(cmd, opts, func(ctx context.Context, store *rdb.Store) error {
				records, err := store.Query(ctx, chain, options...)
				if err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(records)
			})
		},
	}
	cmd.Flags().StringVar(&qopts.filter, "filter", "", "作用于根表的全局过滤条件 JSON")
	cmd.Flags().StringVar(&qopts.sort, "sort", "", "根表排序字段")
	cmd.Flags().BoolVar(&qopts.desc, "desc", false, "降序")
	cmd.Flags().IntVar(&qopts.page, "page", 1, "页码，从 1 开始")
	cmd.Flags().IntVar(&qopts.limit, "limit", 0, "每页条数，0 表示不分页")
	return cmd
}

func newConnectCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "connect <parent> <child>",
		Short: "在 child 上添加指向 parent 的外键列",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, opts, func(ctx context.Context, store *rdb.Store) error {
				return store.Connect(ctx, args[0], args[1])
			})
		},
	}
}

func newDropCommand(opts *rootOptions) *cobra.Command {
	var field string
	cmd := &cobra.Command{
		Use:   "drop <table>",
		Short: "删除表，指定 --field 时只删除字段",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, opts, func(ctx context.Context, store *rdb.Store) error {
				if field != "" {
					return store.DropField(ctx, args[0], field)
				}
				return store.Drop(ctx, args[0])
			})
		},
	}
	cmd.Flags().StringVar(&field, "field", "", "要删除的字段")
	return cmd
}

func newRenameCommand(opts *rootOptions) *cobra.Command {
	var table string
	cmd := &cobra.Command{
		Use:   "rename <from> <to>",
		Short: "重命名表，指定 --table 时重命名该表的字段",
		Example: `rdbx rename books novels
rdbx rename --table books title name`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, opts, func(ctx context.Context, store *rdb.Store) error {
				if table != "" {
					return store.RenameField(ctx, table, args[0], args[1])
				}
				return store.Rename(ctx, args[0], args[1])
			})
		},
	}
	cmd.Flags().StringVar(&table, "table", "", "重命名该表的字段")
	return cmd
}
