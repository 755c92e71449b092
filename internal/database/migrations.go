package database

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/schema"

	"github.com/lordvitaly/lvchat/internal/models"
)

// keyColumns are the store_records primary key columns and their sizes.
var keyColumns = []struct {
	name string
	size int
}{
	{name: "namespace", size: 64},
	{name: "record_key", size: 255},
}

// AutoMigrate creates or updates the database schema for all models.
func AutoMigrate(db *gorm.DB) error {
	if db == nil {
		return errors.New("nil database handle")
	}
	if err := db.AutoMigrate(
		&models.StoreRecord{},
	); err != nil {
		return err
	}
	if db.Dialector.Name() == "mysql" {
		return ensureBinaryKeyColumns(db)
	}
	return nil
}

// ensureBinaryKeyColumns converts key columns of tables created before keys
// were declared case-sensitive. AutoMigrate keeps an existing varchar column
// with its old collation.
func ensureBinaryKeyColumns(db *gorm.DB) error {
	table := models.StoreRecord{}.TableName()
	for _, col := range keyColumns {
		var collation string
		err := db.Raw(
			"SELECT COLLATION_NAME FROM information_schema.COLUMNS WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ? AND COLUMN_NAME = ?",
			table, col.name,
		).Scan(&collation).Error
		if err != nil {
			return fmt.Errorf("inspect %s.%s collation: %w", table, col.name, err)
		}
		if collation == models.MySQLBinaryCollation {
			continue
		}
		if err := db.Exec(binaryKeyColumnDDL(db, table, col.name, col.size)).Error; err != nil {
			return fmt.Errorf("convert %s.%s to %s: %w", table, col.name, models.MySQLBinaryCollation, err)
		}
	}
	return nil
}

func binaryKeyColumnDDL(db *gorm.DB, table, column string, size int) string {
	columnType := models.CaseSensitiveString("").GormDBDataType(db, &schema.Field{Size: size})
	return fmt.Sprintf("ALTER TABLE `%s` MODIFY `%s` %s NOT NULL", table, column, columnType)
}
