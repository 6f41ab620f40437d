package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"voxlobby/internal/core/domain"
	"voxlobby/internal/infrastructure/store/memory"
)

func newTestRegistry(t *testing.T) (*RoomRegistry, *memory.Store) {
	t.Helper()
	st := memory.NewStore()
	registry := NewRoomRegistry(st, domain.DefaultPermanentRoomIDs(), 0, nil, zaptest.NewLogger(t).Sugar())
	return registry, st
}

func seedRoom(t *testing.T, st *memory.Store, id string, createdAt int64, participants int) {
	t.Helper()
	err := st.Set(context.Background(), "rooms/"+id, domain.Room{
		Name:         "Room " + id,
		CreatedAt:    createdAt,
		Participants: participants,
	})
	require.NoError(t, err)
}

func roomIDs(rooms []domain.Room) []domain.RoomID {
	ids := make([]domain.RoomID, 0, len(rooms))
	for _, r := range rooms {
		ids = append(ids, r.ID)
	}
	return ids
}

func TestCreateRoom(t *testing.T) {
	registry, st := newTestRegistry(t)
	ctx := context.Background()

	room, err := registry.CreateRoom(ctx, "  Chill Chat  ")
	require.NoError(t, err)
	assert.Equal(t, "Chill Chat", room.Name)
	assert.Equal(t, 0, room.Participants)
	assert.NotEmpty(t, room.ID)

	raw, found, err := st.Get(ctx, "rooms/"+string(room.ID))
	require.NoError(t, err)
	assert.True(t, found)
	assert.Contains(t, string(raw), "Chill Chat")
}

func TestCreateRoom_RejectsBlankNames(t *testing.T) {
	registry, _ := newTestRegistry(t)
	ctx := context.Background()

	for _, name := range []string{"", "   ", "\t\n"} {
		_, err := registry.CreateRoom(ctx, name)
		assert.ErrorIs(t, err, domain.ErrInvalidName)
	}
}

func TestReclaimStale_Boundaries(t *testing.T) {
	tests := []struct {
		name         string
		createdAt    int64
		participants int
		now          int64
		wantDeleted  bool
	}{
		{"just past threshold", 0, 0, 120_001, true},
		{"just under threshold", 0, 0, 119_999, false},
		{"exactly at threshold", 0, 0, 120_000, false},
		{"occupied and ancient", 0, 1, 10_000_000, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			registry, st := newTestRegistry(t)
			registry.now = func() time.Time { return time.UnixMilli(tt.now) }
			seedRoom(t, st, "r1", tt.createdAt, tt.participants)

			rooms, err := registry.Rooms(context.Background())
			require.NoError(t, err)

			_, found, err := st.Get(context.Background(), "rooms/r1")
			require.NoError(t, err)
			if tt.wantDeleted {
				assert.False(t, found, "room should have been reclaimed")
				assert.NotContains(t, roomIDs(rooms), domain.RoomID("r1"))
			} else {
				assert.True(t, found, "room should have been retained")
				assert.Contains(t, roomIDs(rooms), domain.RoomID("r1"))
			}
		})
	}
}

func TestReclaimStale_PermanentRoomsExempt(t *testing.T) {
	registry, st := newTestRegistry(t)
	// Far past any threshold, zero participants: still exempt.
	registry.now = func() time.Time { return time.UnixMilli(100_000_000) }

	for _, id := range domain.DefaultPermanentRoomIDs() {
		seedRoom(t, st, string(id), 0, 0)
	}

	rooms, err := registry.Rooms(context.Background())
	require.NoError(t, err)

	for _, id := range domain.DefaultPermanentRoomIDs() {
		assert.Contains(t, roomIDs(rooms), id)
		_, found, err := st.Get(context.Background(), "rooms/"+string(id))
		require.NoError(t, err)
		assert.True(t, found)
	}
}

func TestRooms_PermanentListedFirst(t *testing.T) {
	registry, st := newTestRegistry(t)
	registry.now = func() time.Time { return time.UnixMilli(1_000) }

	seedRoom(t, st, "aaa-ephemeral", 1, 2)
	seedRoom(t, st, string(domain.RoomGaaliPermanent), 500, 0)
	seedRoom(t, st, "bbb-ephemeral", 0, 1)

	rooms, err := registry.Rooms(context.Background())
	require.NoError(t, err)
	require.Len(t, rooms, 3)

	assert.Equal(t, domain.RoomGaaliPermanent, rooms[0].ID)
	assert.Equal(t, domain.RoomID("bbb-ephemeral"), rooms[1].ID)
	assert.Equal(t, domain.RoomID("aaa-ephemeral"), rooms[2].ID)
}

// A room created and never joined disappears from the watched sequence once
// a snapshot arrives past the threshold.
func TestWatch_SweepsNeverJoinedRoom(t *testing.T) {
	registry, st := newTestRegistry(t)

	now := int64(0)
	registry.now = func() time.Time { return time.UnixMilli(now) }

	room, err := registry.CreateRoom(context.Background(), "Chill")
	require.NoError(t, err)

	var snapshots [][]domain.Room
	unsubscribe, err := registry.Watch(context.Background(), func(rooms []domain.Room) {
		snapshots = append(snapshots, rooms)
	})
	require.NoError(t, err)
	defer unsubscribe()

	require.NotEmpty(t, snapshots)
	assert.Contains(t, roomIDs(snapshots[len(snapshots)-1]), room.ID)

	// Time passes with no join; an unrelated write triggers the next
	// snapshot, whose sweep reclaims the room.
	now = 121_000
	seedRoom(t, st, "other", now, 1)

	final := snapshots[len(snapshots)-1]
	assert.NotContains(t, roomIDs(final), room.ID)
	assert.Contains(t, roomIDs(final), domain.RoomID("other"))

	_, found, err := st.Get(context.Background(), "rooms/"+string(room.ID))
	require.NoError(t, err)
	assert.False(t, found)
}

func TestWatch_SkipsUndecodableSnapshot(t *testing.T) {
	registry, st := newTestRegistry(t)

	var calls int
	unsubscribe, err := registry.Watch(context.Background(), func([]domain.Room) {
		calls++
	})
	require.NoError(t, err)
	defer unsubscribe()
	require.Equal(t, 1, calls)

	// A document whose fields cannot decode into a Room poisons the whole
	// snapshot; delivery is skipped and the consumer keeps its last view.
	require.NoError(t, st.Set(context.Background(), "rooms/bad/createdAt", "not-a-timestamp"))
	assert.Equal(t, 1, calls)
}
