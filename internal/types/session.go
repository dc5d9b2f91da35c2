package types

import "time"

type Session struct {
	ID        string    `json:"id"`
	Title     string    `json:"title,omitempty"`
	Directory string    `json:"directory,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
	// CompactingUntil is set while the server compacts the session context.
	CompactingUntil time.Time `json:"compactingUntil,omitempty"`
}

// SessionMemory is the per-session bookkeeping the client keeps for its
// in-memory viewport cache. It is not durable message storage.
type SessionMemory struct {
	SessionID      string    `json:"sessionID"`
	ViewportAnchor int       `json:"viewportAnchor"`
	Streaming      bool      `json:"streaming"`
	LastAccessedAt time.Time `json:"lastAccessedAt"`
	TotalAvailable int       `json:"totalAvailable"`
	HasMoreAbove   bool      `json:"hasMoreAbove"`
	Zombie         bool      `json:"zombie"`
}
