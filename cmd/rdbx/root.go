package main

import (
	"github.com/hatlonely/rdbx/cfg"
	"github.com/hatlonely/rdbx/log"
	"github.com/hatlonely/rdbx/log/writer"
	"github.com/hatlonely/rdbx/rdb"
	"github.com/hatlonely/rdbx/ref"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	Config  string
	Key     string
	Verbose bool
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "rdbx",
		Short:         "rdbx 关系数据库表结构管理与关联查询",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !opts.Verbose {
				return nil
			}
			// 日志写到标准错误，标准输出只留给查询结果
			l, err := log.NewSLogWithOptions(&log.SLogOptions{
				Level:  "debug",
				Format: "text",
				Output: &ref.TypeOptions{
					Namespace: "github.com/hatlonely/rdbx/log/writer",
					Type:      "ConsoleWriter",
					Options:   &writer.ConsoleWriterOptions{Target: "stderr"},
				},
			})
			if err != nil {
				return err
			}
			log.SetDefault(l)
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.Config, "config", "c", "rdbx.yaml", "配置文件，支持 yaml/json/toml/ini/env")
	cmd.PersistentFlags().StringVar(&opts.Key, "key", "store", "配置中 rdb.StoreOptions 所在的 key")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "输出 debug 日志")

	cmd.AddCommand(newMigrateCommand(opts))
	cmd.AddCommand(newInsertCommand(opts))
	cmd.AddCommand(newQueryCommand(opts))
	cmd.AddCommand(newConnectCommand(opts))
	cmd.AddCommand(newDropCommand(opts))
	cmd.AddCommand(newRenameCommand(opts))

	return cmd
}

// openStore 读取配置并打开 Store，配置中的表在打开时完成迁移
func openStore(opts *rootOptions) (*rdb.Store, error) {
	c, err := cfg.NewConfig(opts.Config)
	if err != nil {
		return nil, errors.WithMessage(err, "load config failed")
	}
	defer c.Close()

	var options rdb.StoreOptions
	if err := c.Sub(opts.Key).ConvertTo(&options); err != nil {
		return nil, errors.WithMessagef(err, "parse config key [%s] failed", opts.Key)
	}
	return rdb.NewStoreWithOptions(&options)
}
