// Package storage owns the project manager's SQLite file: schema migrations,
// repositories, scoped single-connection handles for maintenance work and the
// manager that hands the live store out and tears it down.
package storage
