// Package store persists alarm records in a local SQLite database.
//
// Records keep the wire-level shape of the historical schema: the time of
// day as "HH:MM" text, the recurrence as an opaque token, and an optional
// explicit date. Parsing tokens into typed rules is the alarm package's
// job; the store never interprets them.
package store
