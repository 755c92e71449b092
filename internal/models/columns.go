package models

import (
	"database/sql/driver"
	"fmt"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// MySQLBinaryCollation compares key columns byte for byte on MySQL/MariaDB,
// whose default collations fold case and accents.
const MySQLBinaryCollation = "utf8mb4_bin"

// CaseSensitiveString is a varchar column that compares byte for byte on
// every dialect.
type CaseSensitiveString string

// GormDataType implements schema.GormDataTypeInterface.
func (CaseSensitiveString) GormDataType() string {
	return string(schema.String)
}

// GormDBDataType implements migrator.GormDataTypeInterface.
func (CaseSensitiveString) GormDBDataType(db *gorm.DB, field *schema.Field) string {
	size := 255
	if field != nil && field.Size > 0 {
		size = field.Size
	}
	if db != nil && db.Dialector != nil && db.Dialector.Name() == "mysql" {
		return fmt.Sprintf("varchar(%d) CHARACTER SET utf8mb4 COLLATE %s", size, MySQLBinaryCollation)
	}
	return fmt.Sprintf("varchar(%d)", size)
}

// Document holds a JSON document as plain text so the bytes read back are the
// bytes written. Native JSON column types reformat documents on MySQL and
// PostgreSQL (jsonb).
type Document []byte

// GormDataType implements schema.GormDataTypeInterface.
func (Document) GormDataType() string {
	return "text"
}

// GormDBDataType implements migrator.GormDataTypeInterface.
func (Document) GormDBDataType(db *gorm.DB, _ *schema.Field) string {
	if db != nil && db.Dialector != nil && db.Dialector.Name() == "mysql" {
		return "longtext"
	}
	return "text"
}

// Value implements driver.Valuer.
func (d Document) Value() (driver.Value, error) {
	return datatypes.JSON(d).Value()
}

// Scan implements sql.Scanner.
func (d *Document) Scan(value any) error {
	return (*datatypes.JSON)(d).Scan(value)
}
