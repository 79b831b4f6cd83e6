package storage

import "strings"

// QuoteIdent renders name as a double-quoted SQLite identifier. Every table
// and column name interpolated into SQL must pass through here.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
