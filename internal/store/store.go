package store

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("alarm not found")

// Config configures the store.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default
}

// Record is one persisted alarm row.
//
// Repeat and Date are optional; the empty string means absent. Rows written
// before the date column existed load with an empty Date.
type Record struct {
	ID     int64
	Time   string // "HH:MM"
	Audio  string
	Repeat string // recurrence token, e.g. "mon-wed", "12-25", "15"
	Date   string // "YYYY-MM-DD" for one-time alarms
}

// Store is the persistence API used by the control surface.
type Store interface {
	LoadAll(ctx context.Context) ([]Record, error)
	Get(ctx context.Context, id int64) (Record, error)
	Insert(ctx context.Context, r Record) (int64, error)
	Update(ctx context.Context, id int64, r Record) error
	Delete(ctx context.Context, id int64) error
	Close() error
}
