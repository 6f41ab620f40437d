package services

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"voxlobby/internal/core/domain"
	"voxlobby/internal/core/ports"
)

// ParticipantCounter owns the participants field of a room document. Both
// operations go through the store's compare-and-swap transaction; a plain
// read-then-write here would lose updates under concurrent clients.
//
// Release clamps at zero instead of rejecting imbalance: a crashed client
// retrying its leave must not drive the count negative.
type ParticipantCounter struct {
	store     ports.DirectoryStore
	permanent map[domain.RoomID]struct{}
	logger    *zap.SugaredLogger
}

func NewParticipantCounter(store ports.DirectoryStore, permanent []domain.RoomID, logger *zap.SugaredLogger) *ParticipantCounter {
	set := make(map[domain.RoomID]struct{}, len(permanent))
	for _, id := range permanent {
		set[id] = struct{}{}
	}
	return &ParticipantCounter{store: store, permanent: set, logger: logger}
}

func countPath(id domain.RoomID) string {
	return "rooms/" + string(id) + "/participants"
}

// Reserve atomically increments the room's participant count and returns the
// committed value. Permanent rooms are not counted.
func (c *ParticipantCounter) Reserve(ctx context.Context, id domain.RoomID) (int, error) {
	if _, ok := c.permanent[id]; ok {
		return 0, nil
	}

	committed, err := c.store.Transact(ctx, countPath(id), func(old json.RawMessage) (any, error) {
		return parseCount(old) + 1, nil
	})
	if err != nil {
		return 0, fmt.Errorf("reserve slot in room %s: %w", id, err)
	}

	count := parseCount(committed)
	c.logger.Debugw("reserved slot", "room_id", id, "participants", count)
	return count, nil
}

// Release atomically decrements the count, never below zero.
func (c *ParticipantCounter) Release(ctx context.Context, id domain.RoomID) (int, error) {
	if _, ok := c.permanent[id]; ok {
		return 0, nil
	}

	committed, err := c.store.Transact(ctx, countPath(id), func(old json.RawMessage) (any, error) {
		next := parseCount(old) - 1
		if next < 0 {
			next = 0
		}
		return next, nil
	})
	if err != nil {
		return 0, fmt.Errorf("release slot in room %s: %w", id, err)
	}

	count := parseCount(committed)
	c.logger.Debugw("released slot", "room_id", id, "participants", count)
	return count, nil
}

// parseCount treats an absent or malformed value as zero, matching the
// directory's tolerance for documents written by older clients.
func parseCount(raw json.RawMessage) int {
	if len(raw) == 0 {
		return 0
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0
	}
	if f < 0 {
		return 0
	}
	return int(f)
}
