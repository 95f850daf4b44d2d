// Package store is the durable, append-only record of delivery outcomes.
//
// Every outcome is inserted as a new row; nothing is ever updated or
// deleted. Reads return rows in the order they were recorded. SQLite is
// the default backend, PostgreSQL the shared one.
package store
