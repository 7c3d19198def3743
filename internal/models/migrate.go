package models

import (
	"fmt"

	"gorm.io/gorm"
)

// ActiveOriginalIndex guarantees one non-deleted test file per original filename
const ActiveOriginalIndex = "idx_test_files_active_original"

// Migrate runs database migrations
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&User{},
		&Project{},
		&Sprint{},
		&TestFile{},
		&TestFileHistory{},
		&ActionLog{},
	); err != nil {
		return err
	}

	switch db.Dialector.Name() {
	case "postgres", "sqlite":
		// Partial index: deleted rows must not block re-uploading the same name
		stmt := fmt.Sprintf(
			"CREATE UNIQUE INDEX IF NOT EXISTS %s ON test_files (original_filename) WHERE status <> '%s'",
			ActiveOriginalIndex, StatusDeleted,
		)
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("failed to create %s: %w", ActiveOriginalIndex, err)
		}
	case "mysql":
		// text caps at 64KiB on mysql, reports may be up to 5MiB
		if err := db.Exec("ALTER TABLE test_files MODIFY content LONGTEXT").Error; err != nil {
			return fmt.Errorf("failed to widen test_files.content: %w", err)
		}
	}

	return nil
}

// SupportsActiveIndex reports whether Migrate could install the partial unique index
func SupportsActiveIndex(db *gorm.DB) bool {
	name := db.Dialector.Name()
	return name == "postgres" || name == "sqlite"
}
