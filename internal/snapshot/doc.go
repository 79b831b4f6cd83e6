// Package snapshot defines the logical backup payload (schema objects, table
// rows, autoincrement counters) and its compressed JSON wire form.
package snapshot
