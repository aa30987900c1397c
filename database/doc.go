// Package database owns the relational connection pool behind the service: it
// opens sqlite, postgres or mysql through Bun, keeps the registered model
// tables in sync (recreate, additive migrate or none), applies SQL seed files
// and classifies driver errors.
package database
