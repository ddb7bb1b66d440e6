//go:build cgo

package storage

import (
	"errors"

	"github.com/mattn/go-sqlite3"
)

const sqliteDriver = "sqlite3"

// isCorruptDatabase reports whether err means the file is not a usable SQLite database.
func isCorruptDatabase(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.Code == sqlite3.ErrNotADB || se.Code == sqlite3.ErrCorrupt
}
