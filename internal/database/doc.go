// Package database provides PostgreSQL connection pool management.
//
// The pool backs the handler failure journal. It is only opened when
// dispatch.journal is enabled.
package database
