// Package repository provides a generic Bun repository with per-call timeouts
// for the CRUD operations the HTTP handlers need.
package repository
