package database

import (
	"github.com/hatlonely/rdbx/rdb/dialect"
	"github.com/pkg/errors"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// GormOptions 通过 gorm 打开连接，与已有的 gorm 程序共用驱动配置
type GormOptions struct {
	// Driver 驱动：sqlite, mysql, postgres
	Driver string `cfg:"driver" def:"sqlite" validate:"oneof=sqlite sqlite3 mysql postgres"`
	DSN    string `cfg:"dsn" validate:"required"`
	// LogLevel gorm 自身的日志级别：silent, error, warn, info
	LogLevel string `cfg:"logLevel" def:"silent"`
}

func NewGormWithOptions(options *GormOptions) (*SQL, error) {
	if options == nil {
		return nil, errors.New("options is nil")
	}
	if options.DSN == "" {
		return nil, errors.New("dsn is required")
	}

	var dialector gorm.Dialector
	switch options.Driver {
	case "", "sqlite", "sqlite3":
		dialector = sqlite.Open(options.DSN)
	case "mysql":
		dialector = mysql.Open(options.DSN)
	case "postgres":
		dialector = postgres.Open(options.DSN)
	default:
		return nil, errors.Errorf("unsupported gorm driver: %s", options.Driver)
	}

	level, err := gormLogLevel(options.LogLevel)
	if err != nil {
		return nil, err
	}

	gdb, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(level)})
	if err != nil {
		return nil, errors.Wrapf(err, "gorm.Open failed. driver: [%s]", options.Driver)
	}
	return NewSQLFromGorm(gdb)
}

// NewSQLFromGorm 复用 gorm 的连接池，方言由 gorm 的驱动名决定
func NewSQLFromGorm(gdb *gorm.DB) (*SQL, error) {
	if gdb == nil {
		return nil, errors.New("gorm db is nil")
	}
	db, err := gdb.DB()
	if err != nil {
		return nil, errors.Wrap(err, "gorm.DB failed")
	}
	d, err := dialect.Get(gdb.Dialector.Name())
	if err != nil {
		return nil, err
	}
	return NewSQL(db, d)
}

func gormLogLevel(level string) (logger.LogLevel, error) {
	switch level {
	case "", "silent":
		return logger.Silent, nil
	case "error":
		return logger.Error, nil
	case "warn":
		return logger.Warn, nil
	case "info":
		return logger.Info, nil
	default:
		return logger.Silent, errors.Errorf("unknown gorm log level: %s", level)
	}
}
