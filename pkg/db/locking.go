package db

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ForUpdate adds a row lock to the query. SQLite has no row locks; its
// write transactions are serialized by the database lock instead.
func ForUpdate(tx *gorm.DB) *gorm.DB {
	if IsSQLite(tx) {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}

// IsSQLite reports whether the connection runs on the sqlite dialector.
func IsSQLite(tx *gorm.DB) bool {
	if tx == nil || tx.Dialector == nil {
		return false
	}
	return tx.Dialector.Name() == "sqlite"
}
