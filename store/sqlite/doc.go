// Package sqlite implements the store on modernc.org/sqlite, a pure-Go
// SQLite driver requiring no cgo. Features: WAL journaling, a single
// serialized writer, claim-by-update leasing.
package sqlite
