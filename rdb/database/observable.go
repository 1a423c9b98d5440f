package database

import (
	"context"
	"fmt"
	"time"

	"github.com/hatlonely/rdbx/log"
	"github.com/hatlonely/rdbx/log/logger"
	"github.com/hatlonely/rdbx/rdb/dialect"
	"github.com/hatlonely/rdbx/ref"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type ObservableOptions struct {
	// Database 被包装的存储后端配置
	Database *ref.TypeOptions `cfg:"database" validate:"required"`

	// Logger 日志记录器配置，为空时使用默认日志器
	Logger *ref.TypeOptions `cfg:"logger"`

	EnableMetrics bool `cfg:"enableMetrics" def:"true"`
	EnableLogging bool `cfg:"enableLogging" def:"true"`
	EnableTracing bool `cfg:"enableTracing" def:"false"`

	// SlowThreshold 超过该耗时的语句以 warn 级别记录，0 表示不区分
	SlowThreshold time.Duration `cfg:"slowThreshold" def:"200ms"`

	// Name 组件名称，作为指标名前缀、日志 component 字段和 span 的 component 属性
	Name string `cfg:"name" def:"rdb"`
}

// ObservableMetrics 存储后端的 prometheus 指标
type ObservableMetrics struct {
	operationCounter  *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	activeOperations  *prometheus.GaugeVec
	rowsHistogram     *prometheus.HistogramVec
}

// NewObservableMetrics 创建并注册指标，同名指标已注册时复用已有的
func NewObservableMetrics(name string) (*ObservableMetrics, error) {
	metrics := &ObservableMetrics{
		operationCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: name + "_operations_total",
				Help: "Total number of database operations",
			},
			[]string{"operation", "status"},
		),
		operationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    name + "_operation_duration_seconds",
				Help:    "Duration of database operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
			},
			[]string{"operation"},
		),
		activeOperations: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: name + "_active_operations",
				Help: "Number of active database operations",
			},
			[]string{"operation"},
		),
		rowsHistogram: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    name + "_rows",
				Help:    "Rows returned or affected by database operations",
				Buckets: []float64{0, 1, 5, 10, 50, 100, 500, 1000},
			},
			[]string{"operation"},
		),
	}

	var err error
	if metrics.operationCounter, err = register(metrics.operationCounter); err != nil {
		return nil, err
	}
	if metrics.operationDuration, err = register(metrics.operationDuration); err != nil {
		return nil, err
	}
	if metrics.activeOperations, err = register(metrics.activeOperations); err != nil {
		return nil, err
	}
	if metrics.rowsHistogram, err = register(metrics.rowsHistogram); err != nil {
		return nil, err
	}
	return metrics, nil
}

func register[C prometheus.Collector](c C) (C, error) {
	if err := prometheus.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, errors.Wrap(err, "prometheus.Register failed")
	}
	return c, nil
}

// observer 连接池和事务共享的观测配置
type observer struct {
	logger        logger.Logger
	metrics       *ObservableMetrics
	tracer        trace.Tracer
	name          string
	slowThreshold time.Duration
}

// Observable 装饰器，为任意 Database 增加指标、日志和链路追踪
type Observable struct {
	*observer
	db Database
}

func NewObservableWithOptions(options *ObservableOptions) (*Observable, error) {
	if options == nil {
		return nil, errors.New("options is nil")
	}

	db, err := NewDatabaseWithOptions(options.Database)
	if err != nil {
		return nil, errors.WithMessage(err, "failed to create underlying database")
	}

	obs, err := NewObservable(db, options)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return obs, nil
}

// NewObservable 包装已创建的 Database，options.Database 被忽略
func NewObservable(db Database, options *ObservableOptions) (*Observable, error) {
	if db == nil {
		return nil, errors.New("database is nil")
	}
	if options == nil {
		options = &ObservableOptions{}
	}
	name := options.Name
	if name == "" {
		name = "rdb"
	}

	o := &observer{name: name, slowThreshold: options.SlowThreshold}

	if options.EnableLogging {
		l, err := log.NewLoggerWithOptions(options.Logger)
		if err != nil {
			return nil, errors.WithMessage(err, "failed to create logger")
		}
		o.logger = l.WithGroup("observableDatabase")
	}

	if options.EnableMetrics {
		metrics, err := NewObservableMetrics(name)
		if err != nil {
			return nil, err
		}
		o.metrics = metrics
	}

	if options.EnableTracing {
		o.tracer = otel.Tracer(fmt.Sprintf("rdb.%s", name))
	}

	return &Observable{observer: o, db: db}, nil
}

// observe 统一的观测逻辑，fn 返回涉及的行数，-1 表示不统计
func (o *observer) observe(ctx context.Context, system, operation, statement string, fn func(context.Context) (int64, error)) error {
	start := time.Now()

	var span trace.Span
	if o.tracer != nil {
		attrs := []attribute.KeyValue{
			attribute.String("component", o.name),
			attribute.String("operation", operation),
			attribute.String("db.system", system),
		}
		if statement != "" {
			attrs = append(attrs, attribute.String("db.statement", statement))
		}
		ctx, span = o.tracer.Start(ctx, fmt.Sprintf("rdb.%s", operation), trace.WithAttributes(attrs...))
		defer span.End()
	}

	if o.metrics != nil {
		o.metrics.activeOperations.WithLabelValues(operation).Inc()
		defer o.metrics.activeOperations.WithLabelValues(operation).Dec()
	}

	rows, err := fn(ctx)
	duration := time.Since(start)

	if span != nil {
		span.SetAttributes(attribute.Int64("duration_ms", duration.Milliseconds()))
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			span.RecordError(err)
		} else {
			span.SetStatus(codes.Ok, "")
		}
	}

	if o.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		o.metrics.operationCounter.WithLabelValues(operation, status).Inc()
		o.metrics.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
		if err == nil && rows >= 0 {
			o.metrics.rowsHistogram.WithLabelValues(operation).Observe(float64(rows))
		}
	}

	if o.logger != nil {
		args := []any{"component", o.name, "operation", operation, "duration_ms", duration.Milliseconds()}
		if statement != "" {
			args = append(args, "statement", statement)
		}
		switch {
		case err != nil:
			o.logger.ErrorContext(ctx, "database operation failed", append(args, "error", err.Error())...)
		case o.slowThreshold > 0 && duration >= o.slowThreshold:
			o.logger.WarnContext(ctx, "slow database operation", args...)
		default:
			o.logger.DebugContext(ctx, "database operation completed", args...)
		}
	}

	return err
}

func (obs *Observable) Dialect() dialect.Dialect {
	return obs.db.Dialect()
}

func (obs *Observable) run(ctx context.Context, operation, statement string, fn func(context.Context) (int64, error)) error {
	return obs.observe(ctx, obs.db.Dialect().Name(), operation, statement, fn)
}

func (obs *Observable) HasTable(ctx context.Context, table string) (bool, error) {
	var ok bool
	err := obs.run(ctx, "has_table", "", func(ctx context.Context) (int64, error) {
		var err error
		ok, err = obs.db.HasTable(ctx, table)
		return -1, err
	})
	return ok, err
}

func (obs *Observable) Columns(ctx context.Context, table string) ([]ColumnInfo, error) {
	var cols []ColumnInfo
	err := obs.run(ctx, "columns", "", func(ctx context.Context) (int64, error) {
		var err error
		cols, err = obs.db.Columns(ctx, table)
		return int64(len(cols)), err
	})
	return cols, err
}

func (obs *Observable) ForeignKeys(ctx context.Context, table string) ([]ForeignKeyInfo, error) {
	var fks []ForeignKeyInfo
	err := obs.run(ctx, "foreign_keys", "", func(ctx context.Context) (int64, error) {
		var err error
		fks, err = obs.db.ForeignKeys(ctx, table)
		return int64(len(fks)), err
	})
	return fks, err
}

func (obs *Observable) Indexes(ctx context.Context, table string) ([]IndexInfo, error) {
	var indexes []IndexInfo
	err := obs.run(ctx, "indexes", "", func(ctx context.Context) (int64, error) {
		var err error
		indexes, err = obs.db.Indexes(ctx, table)
		return int64(len(indexes)), err
	})
	return indexes, err
}

func (obs *Observable) IndexStatements(ctx context.Context, table string) ([]string, error) {
	var stmts []string
	err := obs.run(ctx, "index_statements", "", func(ctx context.Context) (int64, error) {
		var err error
		stmts, err = obs.db.IndexStatements(ctx, table)
		return int64(len(stmts)), err
	})
	return stmts, err
}

func (obs *Observable) ReferencedBy(ctx context.Context, table string) ([]string, error) {
	var tables []string
	err := obs.run(ctx, "referenced_by", "", func(ctx context.Context) (int64, error) {
		var err error
		tables, err = obs.db.ReferencedBy(ctx, table)
		return int64(len(tables)), err
	})
	return tables, err
}

func (obs *Observable) Exec(ctx context.Context, query string, args ...any) (Result, error) {
	var result Result
	err := obs.run(ctx, "exec", query, func(ctx context.Context) (int64, error) {
		var err error
		result, err = obs.db.Exec(ctx, query, args...)
		return result.RowsAffected, err
	})
	return result, err
}

func (obs *Observable) Query(ctx context.Context, query string, args ...any) ([]Record, error) {
	var records []Record
	err := obs.run(ctx, "query", query, func(ctx context.Context) (int64, error) {
		var err error
		records, err = obs.db.Query(ctx, query, args...)
		return int64(len(records)), err
	})
	return records, err
}

func (obs *Observable) DropTable(ctx context.Context, table string) error {
	return obs.run(ctx, "drop_table", "", func(ctx context.Context) (int64, error) {
		return -1, obs.db.DropTable(ctx, table)
	})
}

func (obs *Observable) RenameTable(ctx context.Context, from, to string) error {
	return obs.run(ctx, "rename_table", "", func(ctx context.Context) (int64, error) {
		return -1, obs.db.RenameTable(ctx, from, to)
	})
}

func (obs *Observable) BeginTx(ctx context.Context) (Transaction, error) {
	var tx Transaction
	err := obs.run(ctx, "begin", "", func(ctx context.Context) (int64, error) {
		var err error
		tx, err = obs.db.BeginTx(ctx)
		return -1, err
	})
	if err != nil {
		return nil, err
	}
	return &ObservableTransaction{Observable: Observable{observer: obs.observer, db: tx}, tx: tx}, nil
}

func (obs *Observable) InTx() bool {
	return obs.db.InTx()
}

func (obs *Observable) Close() error {
	return obs.run(context.Background(), "close", "", func(ctx context.Context) (int64, error) {
		return -1, obs.db.Close()
	})
}

// ObservableTransaction 被观测的事务
type ObservableTransaction struct {
	Observable
	tx Transaction
}

func (t *ObservableTransaction) Commit() error {
	return t.run(context.Background(), "commit", "", func(ctx context.Context) (int64, error) {
		return -1, t.tx.Commit()
	})
}

func (t *ObservableTransaction) Rollback() error {
	return t.run(context.Background(), "rollback", "", func(ctx context.Context) (int64, error) {
		return -1, t.tx.Rollback()
	})
}
