package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"voxlobby/internal/core/domain"
	"voxlobby/internal/core/ports"
)

// RoomRegistry maintains the shared room directory: creation, live snapshot
// delivery, and the lazy reclamation sweep. Reclamation runs on snapshot
// delivery rather than on a timer, so an unwatched directory can hold stale
// rooms indefinitely; that matches the store's client-driven model.
type RoomRegistry struct {
	store      ports.DirectoryStore
	permanent  map[domain.RoomID]struct{}
	staleAfter time.Duration
	now        func() time.Time
	metrics    ports.Metrics
	logger     *zap.SugaredLogger
}

func NewRoomRegistry(
	store ports.DirectoryStore,
	permanent []domain.RoomID,
	staleAfter time.Duration,
	metrics ports.Metrics,
	logger *zap.SugaredLogger,
) *RoomRegistry {
	if staleAfter <= 0 {
		staleAfter = domain.StaleThreshold
	}
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	set := make(map[domain.RoomID]struct{}, len(permanent))
	for _, id := range permanent {
		set[id] = struct{}{}
	}
	return &RoomRegistry{
		store:      store,
		permanent:  set,
		staleAfter: staleAfter,
		now:        time.Now,
		metrics:    metrics,
		logger:     logger,
	}
}

func roomPath(id domain.RoomID) string {
	return "rooms/" + string(id)
}

// CreateRoom writes a fresh ephemeral room document with a zero participant
// count. The path is freshly generated, so the full-overwrite Set is safe.
func (r *RoomRegistry) CreateRoom(ctx context.Context, name string) (*domain.Room, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, domain.ErrInvalidName
	}

	room := domain.Room{
		ID:           domain.RoomID(uuid.NewString()),
		Name:         name,
		CreatedAt:    r.now().UnixMilli(),
		Participants: 0,
	}

	if err := r.store.Set(ctx, roomPath(room.ID), room); err != nil {
		return nil, fmt.Errorf("create room %q: %w", name, err)
	}

	r.logger.Infow("created room", "room_id", room.ID, "name", name)
	return &room, nil
}

// Rooms returns the current directory snapshot, swept and sorted.
func (r *RoomRegistry) Rooms(ctx context.Context) ([]domain.Room, error) {
	snapshot, _, err := r.store.Get(ctx, "rooms")
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	rooms, err := decodeRooms(snapshot)
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	rooms = r.reclaimStale(ctx, rooms, r.now())
	sortRooms(rooms, r.permanent)
	return rooms, nil
}

// Watch subscribes to the directory and delivers a full, swept snapshot on
// every change. A snapshot that cannot be read or decoded is skipped; the
// consumer keeps rendering the previous one.
func (r *RoomRegistry) Watch(ctx context.Context, onSnapshot func([]domain.Room)) (ports.Unsubscribe, error) {
	return r.store.Subscribe(ctx, "rooms", func(snapshot json.RawMessage) {
		rooms, err := decodeRooms(snapshot)
		if err != nil {
			r.logger.Warnw("skipping undecodable directory snapshot", "error", err)
			return
		}
		rooms = r.reclaimStale(ctx, rooms, r.now())
		sortRooms(rooms, r.permanent)
		r.metrics.ObserveDirectory(len(rooms), reservedSlots(rooms, r.permanent))
		onSnapshot(rooms)
	})
}

// reclaimStale deletes ephemeral rooms that have sat empty past the
// threshold and returns the survivors. Deletion is not atomic with the
// snapshot read; a concurrent delete of the same room is a benign no-op.
func (r *RoomRegistry) reclaimStale(ctx context.Context, rooms []domain.Room, now time.Time) []domain.Room {
	kept := rooms[:0]
	for _, room := range rooms {
		if _, ok := r.permanent[room.ID]; ok {
			kept = append(kept, room)
			continue
		}
		if room.Participants == 0 && room.Age(now) > r.staleAfter {
			if err := r.store.Delete(ctx, roomPath(room.ID)); err != nil {
				// Store trouble never breaks the directory view; the room
				// stays listed and the next snapshot retries the sweep.
				r.logger.Warnw("failed to reclaim stale room",
					"room_id", room.ID,
					"error", err,
				)
				kept = append(kept, room)
				continue
			}
			r.metrics.RecordReclaim()
			r.logger.Infow("reclaimed stale room",
				"room_id", room.ID,
				"name", room.Name,
				"age", room.Age(now),
			)
			continue
		}
		kept = append(kept, room)
	}
	return kept
}

func decodeRooms(snapshot json.RawMessage) ([]domain.Room, error) {
	if len(snapshot) == 0 {
		return nil, nil
	}
	var byID map[string]domain.Room
	if err := json.Unmarshal(snapshot, &byID); err != nil {
		return nil, err
	}
	rooms := make([]domain.Room, 0, len(byID))
	for id, room := range byID {
		room.ID = domain.RoomID(id)
		rooms = append(rooms, room)
	}
	return rooms, nil
}

// sortRooms lists permanent rooms first, then ephemeral rooms oldest first.
func sortRooms(rooms []domain.Room, permanent map[domain.RoomID]struct{}) {
	sort.Slice(rooms, func(i, j int) bool {
		_, pi := permanent[rooms[i].ID]
		_, pj := permanent[rooms[j].ID]
		if pi != pj {
			return pi
		}
		if rooms[i].CreatedAt != rooms[j].CreatedAt {
			return rooms[i].CreatedAt < rooms[j].CreatedAt
		}
		return rooms[i].ID < rooms[j].ID
	})
}

func reservedSlots(rooms []domain.Room, permanent map[domain.RoomID]struct{}) int {
	total := 0
	for _, room := range rooms {
		if _, ok := permanent[room.ID]; ok {
			continue
		}
		total += room.Participants
	}
	return total
}
