package db

import (
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/serenomind/sereno/internal/insight"
	"github.com/serenomind/sereno/internal/logger"
	"github.com/serenomind/sereno/internal/models"
)

// Connect opens the MySQL connection and migrates the schema. Fatal on
// failure: the process is useless without its database.
func Connect(dsn string) *gorm.DB {
	gdb, err := gorm.Open(mysql.Open(dsn), &gorm.Config{})
	if err != nil {
		logger.Fatalf("open database: %v", err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		logger.Fatalf("database handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := gdb.AutoMigrate(
		&models.User{},
		&insight.Patient{},
		&insight.Session{},
		&insight.AnalysisRecord{},
		&insight.AnalysisJob{},
	); err != nil {
		logger.Fatalf("migrate schema: %v", err)
	}
	return gdb
}
