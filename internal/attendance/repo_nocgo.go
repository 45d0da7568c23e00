//go:build !cgo

package attendance

// Without cgo the sqlite3 driver is a stub that never opens a database.

func sqliteBusy(error) bool { return false }

func sqliteUnique(error) bool { return false }
