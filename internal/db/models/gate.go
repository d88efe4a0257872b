package models

import "time"

// Gate is a named physical checkpoint. Gates are created on first use.
type Gate struct {
	ID        int64     `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
