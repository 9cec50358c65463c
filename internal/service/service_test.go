package service

import (
	"os"
	"testing"

	"chatrelay/internal/db"
	"chatrelay/internal/models"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// testDB opens the test database, migrates, and wipes all rows. Tests are
// skipped when no Postgres is reachable, same as the router tests.
func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_DSN")
	if dsn == "" {
		dsn = "host=localhost user=postgres password=postgres dbname=chatrelay_test port=5432 sslmode=disable TimeZone=UTC"
	}
	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Skipf("skip: db not available: %v", err)
	}
	if err := db.Migrate(gdb); err != nil {
		t.Skipf("skip: migrate failed: %v", err)
	}
	if err := gdb.Exec("TRUNCATE TABLE receipts, poll_votes, poll_options, attachments, messages").Error; err != nil {
		t.Fatalf("clean tables: %v", err)
	}
	return gdb
}

func createText(t *testing.T, svc *MessageService, author, content string) *MessageDTO {
	t.Helper()
	msg, err := svc.Create(author, models.KindText, content, nil, nil)
	if err != nil {
		t.Fatalf("Create(text) error = %v", err)
	}
	return msg
}

func createPoll(t *testing.T, svc *MessageService, author string, options ...string) *MessageDTO {
	t.Helper()
	msg, err := svc.Create(author, models.KindPoll, "", nil, options)
	if err != nil {
		t.Fatalf("Create(poll) error = %v", err)
	}
	return msg
}
