package orchestration

import "time"

// Entity carries the creation and modification timestamps shared by every
// persisted record. Embed it by value; stores copy entities freely.
type Entity struct {
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewEntity returns an Entity stamped with the current time.
func NewEntity() Entity {
	now := time.Now().UTC()

	return Entity{CreatedAt: now, UpdatedAt: now}
}

// Touch refreshes UpdatedAt. Stores call it on every mutation.
func (e *Entity) Touch() {
	e.UpdatedAt = time.Now().UTC()
}
