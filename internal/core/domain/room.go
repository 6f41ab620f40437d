package domain

import "time"

type RoomID string

// The two permanent rooms are pre-provisioned in the directory and are never
// created, counted, or reclaimed by this process.
const (
	RoomOYOPermanent   RoomID = "oyo-room-permanent"
	RoomGaaliPermanent RoomID = "gaali-room-permanent"
)

// StaleThreshold is how long an empty ephemeral room may exist before the
// lazy sweep removes it.
const StaleThreshold = 2 * time.Minute

// Room is one document under rooms/{id} in the directory. Participants is a
// count, not a membership list; it is mutated only through the atomic
// transaction path.
type Room struct {
	ID           RoomID `json:"-"`
	Name         string `json:"name"`
	CreatedAt    int64  `json:"createdAt"` // unix milliseconds
	Participants int    `json:"participants"`
}

// Age reports how long ago the room was created relative to now.
func (r *Room) Age(now time.Time) time.Duration {
	return now.Sub(time.UnixMilli(r.CreatedAt))
}

// DefaultPermanentRoomIDs returns the reserved ids exempt from reclamation.
func DefaultPermanentRoomIDs() []RoomID {
	return []RoomID{RoomOYOPermanent, RoomGaaliPermanent}
}
