// Package sqlstore persists conversation turns in MySQL or SQLite. It owns
// connection pooling and the embedded schema migrations shared by both
// drivers.
package sqlstore
