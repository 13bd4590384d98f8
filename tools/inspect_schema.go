package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/localnerve/doctypesdb/internal/database"
	"github.com/localnerve/doctypesdb/internal/schema"
	"github.com/localnerve/doctypesdb/internal/services"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func main() {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		log.Fatal(err)
	}

	// Auto-migrate to see what GORM creates for the metadata tables
	if err := database.AutoMigrate(db); err != nil {
		log.Fatal(err)
	}

	// Create a sample document type to see a managed table
	engine, err := services.NewEngine(db, services.Options{LockTTL: time.Minute, LockRefresh: 10 * time.Second})
	if err != nil {
		log.Fatal(err)
	}
	maxLen := 120
	_, err = engine.Create(context.Background(), services.CreateInput{
		UserID: "inspect",
		Name:   "Sample Contact",
		Schema: []schema.AttributeSpec{
			{Name: "email", Type: schema.TypeEmail, Required: true, Unique: true},
			{Name: "full name", Type: schema.TypeText, MaxLength: &maxLen},
			{Name: "born", Type: schema.TypeDate},
			{Name: "notes", Type: schema.TypeTextarea},
		},
	})
	if err != nil {
		log.Fatal(err)
	}

	// Get the schema
	var tables []string
	db.Raw("SELECT name FROM sqlite_master WHERE type='table' ORDER BY name").Scan(&tables)

	for _, table := range tables {
		fmt.Printf("\n=== Table: %s ===\n", table)
		var ddl string
		db.Raw("SELECT sql FROM sqlite_master WHERE name = ?", table).Scan(&ddl)
		fmt.Println(ddl)
	}
}
