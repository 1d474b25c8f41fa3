// Package db wires the two persistence backends named in spec §6: an
// embedded file-backed engine (sqlite) and a networked engine (postgres),
// both through gorm.io/gorm, both registering the same six-table schema.
package db

import (
	"fmt"
	"path/filepath"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/TeleAmb-upla/observatorio-ipa-go/internal/config"
	"github.com/TeleAmb-upla/observatorio-ipa-go/internal/orcherrors"
	"github.com/TeleAmb-upla/observatorio-ipa-go/internal/types"
)

// Open connects to the configured backend and runs AutoMigrate for every
// persisted entity in spec §3/§6.
func Open(cfg config.DBConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Type {
	case config.DBTypeSQLite:
		dsn := filepath.Join(cfg.DBPath, cfg.DBName)
		dialector = sqlite.Open(dsn)
	case config.DBTypePostgres:
		dsn := fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
			cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName,
		)
		dialector = postgres.Open(dsn)
	default:
		return nil, orcherrors.Config("unknown db type "+string(cfg.Type), nil)
	}

	gdb, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, orcherrors.Config("opening database", err)
	}

	if err := gdb.AutoMigrate(
		&types.Job{},
		&types.Export{},
		&types.UpstreamSnapshot{},
		&types.Report{},
		&types.WebsiteUpdate{},
		&types.FileTransfer{},
	); err != nil {
		return nil, orcherrors.Config("running automigrate", err)
	}

	return gdb, nil
}
