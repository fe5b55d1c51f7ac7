package db

import (
	"log"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/hirelocal/hirelocal/internal/chat"
	"github.com/hirelocal/hirelocal/internal/job"
	"github.com/hirelocal/hirelocal/internal/models"
)

func Connect(dsn string) *gorm.DB {
	gdb, err := gorm.Open(mysql.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	if err := Migrate(gdb); err != nil {
		log.Fatalf("db migrate: %v", err)
	}
	return gdb
}

func Migrate(gdb *gorm.DB) error {
	return gdb.AutoMigrate(
		&models.User{},
		&models.WorkerSkill{},
		&models.Category{},
		&models.AppSetting{},
		&chat.Chat{},
		&chat.Partition{},
		&chat.Message{},
		&job.Job{},
		&job.Vote{},
		&job.Bid{},
		&job.CancellationLog{},
		&job.Rating{},
	)
}
