// Package domain defines the persistence models for the book catalog. The
// types here are mapped with GORM and form the core data layer of the
// application.
package domain

import "time"

// Idempotency records the outcome of a previously processed create request,
// keyed by (user_id, scope, key). Scope is the route the key was used against
// (e.g. "books"), so the same client key can be reused across endpoints
// without colliding. It enables safe retries for POST operations: a replay
// returns the originally created book instead of re-executing side effects
// (which for book creation would otherwise surface a duplicate-title conflict).
type Idempotency struct {
	ID        string    `gorm:"type:TEXT NOT NULL;primaryKey"`
	UserID    string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_user_scope_key,priority:1"`
	Scope     string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_user_scope_key,priority:2"`
	Key       string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_user_scope_key,priority:3"`
	BookID    uint      `gorm:"not null"`
	Status    int       `gorm:"type:INTEGER NOT NULL"`
	CreatedAt time.Time `gorm:"type:DATETIME NOT NULL;autoCreateTime"`
	ExpiresAt time.Time `gorm:"type:DATETIME NOT NULL;index"`
}

// TableName implements the GORM tabler interface.
func (Idempotency) TableName() string { return "idempotency" }
